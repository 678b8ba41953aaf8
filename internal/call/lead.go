package call

import "github.com/google/uuid"

// DialOption is one named way to reach an endpoint for this lead.
type DialOption struct {
	Gate        string
	DialTimeout int
	PhonePrefix string
	Phone       string
	CallerID    string
}

// Lead carries the external-facing call data: the correlation id, the
// plan to run and the dial options outbound channels resolve by name.
// Immutable once a Room is built from it.
type Lead struct {
	ID          string
	PlanName    string
	DialOptions map[string]DialOption
}

// NewLead creates a Lead, generating an id when the caller supplied none.
func NewLead(id, planName string) *Lead {
	if id == "" {
		id = uuid.NewString()
	}
	return &Lead{
		ID:          id,
		PlanName:    planName,
		DialOptions: make(map[string]DialOption),
	}
}

// CallID is the correlation id threading the lead, its room, every child
// resource id and all inbound trigger events together.
func (l *Lead) CallID() string {
	return "X" + l.ID
}

// AddDialOption registers a named dial option.
func (l *Lead) AddDialOption(name string, opt DialOption) {
	l.DialOptions[name] = opt
}
