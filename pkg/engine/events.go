package engine

import (
	"sync"
	"time"

	"mercator-hq/forseti/pkg/rulebase"
)

// Event is implemented by all engine events.
type Event interface {
	// OccurredAt returns when the event happened.
	OccurredAt() time.Time
}

// ReloadEvent is emitted after a new rule-base version is published.
type ReloadEvent struct {
	// Version is the monotonic version of the published rule base.
	Version uint64

	// RuleBaseID is the artifact identifier of the published rule base.
	RuleBaseID string

	// ChangedPaths lists the rule sources that changed since the
	// previous version, sorted.
	ChangedPaths []string

	// Timestamp is when the publish completed.
	Timestamp time.Time
}

// OccurredAt implements Event.
func (e ReloadEvent) OccurredAt() time.Time { return e.Timestamp }

// ReloadFailedEvent is emitted when a reload attempt fails. The
// previously active rule base keeps serving traffic.
type ReloadFailedEvent struct {
	// Reason summarizes the failure.
	Reason string

	// Diagnostics carries per-rule compiler findings when compilation
	// failed.
	Diagnostics []rulebase.Diagnostic

	// Timestamp is when the failure was observed.
	Timestamp time.Time
}

// OccurredAt implements Event.
func (e ReloadFailedEvent) OccurredAt() time.Time { return e.Timestamp }

// PoolExhaustedEvent is emitted when an acquire fails because no session
// became available within its timeout.
type PoolExhaustedEvent struct {
	// Operation is the operation that needed a session.
	Operation string

	// Timestamp is when the acquire gave up.
	Timestamp time.Time
}

// OccurredAt implements Event.
func (e PoolExhaustedEvent) OccurredAt() time.Time { return e.Timestamp }

// Notifier fans events out to subscribers. Delivery is synchronous on the
// emitting goroutine; subscribers must return promptly and must not call
// back into the engine.
type Notifier struct {
	mu   sync.RWMutex
	subs []func(Event)
}

// NewNotifier creates an empty notifier.
func NewNotifier() *Notifier {
	return &Notifier{}
}

// Subscribe registers a callback for all future events.
func (n *Notifier) Subscribe(fn func(Event)) {
	if fn == nil {
		return
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	n.subs = append(n.subs, fn)
}

// publish delivers an event to all subscribers.
func (n *Notifier) publish(e Event) {
	n.mu.RLock()
	subs := n.subs
	n.mu.RUnlock()

	for _, fn := range subs {
		fn(e)
	}
}
