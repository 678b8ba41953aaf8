// Package publisher emits call lifecycle events to an external broker.
package publisher

import (
	"context"
	"time"
)

// LifecycleEvent is one externally visible call state change.
type LifecycleEvent struct {
	CallID    string    `json:"call_id"`
	Tag       string    `json:"tag"`
	Status    string    `json:"status"`
	Value     string    `json:"value,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Publisher defines the interface for publishing lifecycle events.
type Publisher interface {
	PublishLifecycle(ctx context.Context, ev LifecycleEvent) error
	Close() error
}

// Noop discards all events; used when no broker is configured.
type Noop struct{}

func (Noop) PublishLifecycle(context.Context, LifecycleEvent) error { return nil }
func (Noop) Close() error                                           { return nil }
