package call

import "fmt"

// DialplanError reports a node whose required runtime parameter is
// missing or invalid. It is terminal for that node's subtree only: the
// node records an error status plus stop, and the rest of the call keeps
// running.
type DialplanError struct {
	Tag    string
	Reason string
}

func (e *DialplanError) Error() string {
	return fmt.Sprintf("dialplan error on %s: %s", e.Tag, e.Reason)
}
