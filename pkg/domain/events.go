package domain

import (
	"context"
	"time"
)

// EventType defines the category of the event.
type EventType string

const (
	EventSessionStart EventType = "session_start"
	EventContinue     EventType = "continue"
	EventFragment     EventType = "fragment"
	EventOverflow     EventType = "overflow"
	EventFinalize     EventType = "finalize"
	EventAbort        EventType = "abort"
	EventPassThrough  EventType = "pass_through"
)

// EventBase contains common fields for all events.
type EventBase struct {
	Timestamp    time.Time `json:"timestamp"`
	Type         EventType `json:"type"`
	ConnectionID string    `json:"connection_id"`
}

// SessionEvent reports a change in the life of an aggregation session.
type SessionEvent struct {
	EventBase
	SessionID string `json:"session_id"`
	Bytes     int64  `json:"bytes"`             // bytes stored so far (final count on finalize)
	Dropped   int64  `json:"dropped,omitempty"` // size of a fragment rejected by the overflow check
	Err       error  `json:"-"`
}

// LifecycleHooks defines callbacks for gate observability.
// Hooks run synchronously on the goroutine delivering the unit.
type LifecycleHooks struct {
	OnSessionStart func(context.Context, *SessionEvent)
	OnContinue     func(context.Context, *SessionEvent)
	OnFragment     func(context.Context, *SessionEvent)
	OnOverflow     func(context.Context, *SessionEvent)
	OnFinalize     func(context.Context, *SessionEvent)
	OnAbort        func(context.Context, *SessionEvent)
	OnPassThrough  func(context.Context, *EventBase)
}

// Merge returns hooks calling h first and then other, for every callback either sets.
func (h LifecycleHooks) Merge(other LifecycleHooks) LifecycleHooks {
	return LifecycleHooks{
		OnSessionStart: chain(h.OnSessionStart, other.OnSessionStart),
		OnContinue:     chain(h.OnContinue, other.OnContinue),
		OnFragment:     chain(h.OnFragment, other.OnFragment),
		OnOverflow:     chain(h.OnOverflow, other.OnOverflow),
		OnFinalize:     chain(h.OnFinalize, other.OnFinalize),
		OnAbort:        chain(h.OnAbort, other.OnAbort),
		OnPassThrough:  chain(h.OnPassThrough, other.OnPassThrough),
	}
}

func chain[E any](a, b func(context.Context, *E)) func(context.Context, *E) {
	if a == nil {
		return b
	}
	if b == nil {
		return a
	}
	return func(ctx context.Context, e *E) {
		a(ctx, e)
		b(ctx, e)
	}
}
