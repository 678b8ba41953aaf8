// Package ledger keeps the per-call append-only history of (tag, status)
// occurrences. Triggers fire on presence, so a status is never
// overwritten: repeats append to the record's rewrite list.
package ledger

import (
	"sync"
	"time"
)

// Clock provides the current time. Defaults to time.Now; override in tests.
type Clock func() time.Time

// Rewrite is one repeat occurrence of a (tag, status) pair.
type Rewrite struct {
	ExternalTime    time.Time `json:"external_time"`
	CorrelationTime time.Time `json:"correlation_time"`
	RecordedAt      time.Time `json:"recorded_at"`
	Value           string    `json:"value"`
}

// Record is the first occurrence of a (tag, status) pair plus every
// rewrite that followed it.
type Record struct {
	ExternalTime    time.Time `json:"external_time"`
	CorrelationTime time.Time `json:"correlation_time"`
	RecordedAt      time.Time `json:"recorded_at"`
	Value           string    `json:"value"`
	Rewrites        []Rewrite `json:"rewrites,omitempty"`
}

// Ledger is the status history for a single call. Different calls use
// separate ledgers and need no coordination with each other.
type Ledger struct {
	mu    sync.RWMutex
	clock Clock
	tags  map[string]map[string]*Record
}

func New() *Ledger {
	return &Ledger{
		clock: time.Now,
		tags:  make(map[string]map[string]*Record),
	}
}

// Option configures a Ledger.
type Option func(*Ledger)

// WithClock sets the time source for the ledger.
func WithClock(c Clock) Option {
	return func(l *Ledger) { l.clock = c }
}

// NewWithOptions creates a Ledger with the given options.
func NewWithOptions(opts ...Option) *Ledger {
	l := New()
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Record stores an occurrence of (tag, status). It returns true when this
// is the first occurrence; repeats append a rewrite and return false.
func (l *Ledger) Record(tag, status string, externalTime, correlationTime time.Time, value string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	statuses, ok := l.tags[tag]
	if !ok {
		statuses = make(map[string]*Record)
		l.tags[tag] = statuses
	}

	now := l.clock()
	rec, ok := statuses[status]
	if !ok {
		statuses[status] = &Record{
			ExternalTime:    externalTime,
			CorrelationTime: correlationTime,
			RecordedAt:      now,
			Value:           value,
		}
		return true
	}

	rec.Rewrites = append(rec.Rewrites, Rewrite{
		ExternalTime:    externalTime,
		CorrelationTime: correlationTime,
		RecordedAt:      now,
		Value:           value,
	})
	return false
}

// Has reports whether (tag, status) has ever been recorded.
func (l *Ledger) Has(tag, status string) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	_, ok := l.tags[tag][status]
	return ok
}

// HasTag reports whether any status has been recorded for tag.
func (l *Ledger) HasTag(tag string) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.tags[tag]) > 0
}

// Value returns the first-occurrence value for (tag, status).
func (l *Ledger) Value(tag, status string) (string, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	rec, ok := l.tags[tag][status]
	if !ok {
		return "", false
	}
	return rec.Value, true
}

// FirstOccurrence returns when (tag, status) was first recorded. The
// reaper uses this to apply the grace window after a stop record.
func (l *Ledger) FirstOccurrence(tag, status string) (time.Time, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	rec, ok := l.tags[tag][status]
	if !ok {
		return time.Time{}, false
	}
	return rec.RecordedAt, true
}

// Snapshot returns a deep copy of the ledger for read-only projections.
func (l *Ledger) Snapshot() map[string]map[string]Record {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make(map[string]map[string]Record, len(l.tags))
	for tag, statuses := range l.tags {
		row := make(map[string]Record, len(statuses))
		for status, rec := range statuses {
			cp := *rec
			cp.Rewrites = append([]Rewrite(nil), rec.Rewrites...)
			row[status] = cp
		}
		out[tag] = row
	}
	return out
}
