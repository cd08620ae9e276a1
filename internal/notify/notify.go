// Package notify publishes deployment and evolution lifecycle events.
package notify

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
)

// EventType names a lifecycle event.
type EventType string

const (
	EventDeployed         EventType = "deployed"
	EventRebalanced       EventType = "rebalanced"
	EventStopped          EventType = "stopped"
	EventAutoStopped      EventType = "auto_stopped"
	EventPromotionDecided EventType = "promotion_decided"
	EventCycleCompleted   EventType = "cycle_completed"
)

// Event is one lifecycle notification. Payload is any JSON-encodable summary.
type Event struct {
	ID           string      `json:"id"`
	Type         EventType   `json:"type"`
	RunID        string      `json:"run_id,omitempty"`
	DeploymentID string      `json:"deployment_id,omitempty"`
	SpecID       string      `json:"spec_id,omitempty"`
	Message      string      `json:"message,omitempty"`
	Payload      interface{} `json:"payload,omitempty"`
	Timestamp    time.Time   `json:"timestamp"`
}

// NewEvent stamps an event with a fresh id and the current time.
func NewEvent(typ EventType, deploymentID, specID string, payload interface{}) Event {
	return Event{
		ID:           uuid.NewString(),
		Type:         typ,
		DeploymentID: deploymentID,
		SpecID:       specID,
		Payload:      payload,
		Timestamp:    time.Now().UTC(),
	}
}

// Notifier delivers events. Publish failures never change control-loop outcomes.
type Notifier interface {
	Publish(ctx context.Context, event Event) error
}

// Nop drops every event.
type Nop struct{}

// Publish implements Notifier.
func (Nop) Publish(context.Context, Event) error { return nil }

// Fanout publishes to every notifier and joins their errors.
type Fanout []Notifier

// Publish implements Notifier.
func (f Fanout) Publish(ctx context.Context, event Event) error {
	var errs []error
	for _, n := range f {
		if n == nil {
			continue
		}
		if err := n.Publish(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Recorder keeps events in memory. Used by tests and dry runs.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

// Publish implements Notifier.
func (r *Recorder) Publish(_ context.Context, event Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	return nil
}

// Events returns a copy of everything published so far.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

// Types lists the published event types in order.
func (r *Recorder) Types() []EventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]EventType, len(r.events))
	for i, e := range r.events {
		out[i] = e.Type
	}
	return out
}
