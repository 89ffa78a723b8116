// Package notify publishes negotiation events after their transaction
// commits. Delivery is best effort: a lost event never undoes a transition.
package notify

import (
	"context"
	"sync"
	"time"
)

// Kind names an event. It is also the last part of the NATS subject.
type Kind string

const (
	ConversationCreated Kind = "conversation.created"
	ConversationDeleted Kind = "conversation.deleted"
	MessagePosted       Kind = "message.posted"
	ScheduleCreated     Kind = "schedule.created"
	ScheduleAccepted    Kind = "schedule.accepted"
	ScheduleDeclined    Kind = "schedule.declined"
	ScheduleCancelled   Kind = "schedule.cancelled"
	ConfirmCreated      Kind = "confirm.created"
	ConfirmAccepted     Kind = "confirm.accepted"
	ConfirmDeclined     Kind = "confirm.declined"
	ConfirmAutoAccepted Kind = "confirm.auto_accepted"
	ConfirmCancelled    Kind = "confirm.cancelled"
	ItemDeleted         Kind = "item.deleted"
)

// Event is one committed change.
type Event struct {
	Kind           Kind      `json:"kind"`
	ConversationID uint      `json:"conversation_id"`
	RefID          uint      `json:"ref_id,omitempty"`
	ActorID        uint      `json:"actor_id,omitempty"`
	At             time.Time `json:"at"`
}

// Publisher delivers events.
type Publisher interface {
	Publish(ctx context.Context, e Event) error
	Close() error
}

// Nop discards events.
type Nop struct{}

func (Nop) Publish(context.Context, Event) error { return nil }
func (Nop) Close() error                         { return nil }

// Recorder keeps published events in memory.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

// Publish appends e.
func (r *Recorder) Publish(_ context.Context, e Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	return nil
}

// Close is a no-op.
func (r *Recorder) Close() error { return nil }

// Events returns a copy of everything published so far.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, len(r.events))
	copy(out, r.events)
	return out
}

// Kinds returns the kinds published so far, in order.
func (r *Recorder) Kinds() []Kind {
	events := r.Events()
	kinds := make([]Kind, len(events))
	for i, e := range events {
		kinds[i] = e.Kind
	}
	return kinds
}
