package engine

import (
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"mercator-hq/forseti/pkg/rulebase"
)

// Registry holds the active rule base. Readers call Current without taking
// any lock; publishes are serialized and assign strictly increasing
// versions.
type Registry struct {
	active atomic.Pointer[rulebase.RuleBase]

	mu       sync.Mutex
	seq      uint64
	previous *rulebase.RuleBase

	notifier *Notifier
	logger   *slog.Logger
}

// NewRegistry creates an empty registry. No rule base is active until the
// first successful Publish.
func NewRegistry(notifier *Notifier, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		notifier: notifier,
		logger:   logger,
	}
}

// Current returns the active rule base, or nil when nothing has been
// published yet. The returned value is immutable.
func (r *Registry) Current() *rulebase.RuleBase {
	return r.active.Load()
}

// Version returns the version of the active rule base, or zero when
// nothing has been published.
func (r *Registry) Version() uint64 {
	if rb := r.active.Load(); rb != nil {
		return rb.Version()
	}
	return 0
}

// Publish makes rb the active rule base and assigns it the next version.
// Invalid rule bases are rejected and the previously active rule base, if
// any, keeps serving. changedPaths is carried into the reload event.
func (r *Registry) Publish(rb *rulebase.RuleBase, changedPaths []string) error {
	if rb == nil || !rb.Valid() {
		reason := "rule base is nil"
		if rb != nil {
			reason = "rule base failed validation"
		}
		r.logger.Error("rejecting rule base publish", "reason", reason)
		if r.notifier != nil {
			r.notifier.publish(ReloadFailedEvent{
				Reason:    reason,
				Timestamp: time.Now(),
			})
		}
		return &PublishRejectedError{Reason: reason}
	}

	r.mu.Lock()
	r.seq++
	rb.SetVersion(r.seq)
	r.previous = r.active.Load()
	r.active.Store(rb)
	version := r.seq
	r.mu.Unlock()

	r.logger.Info("published rule base",
		"version", version,
		"rulebase_id", rb.ID().String(),
		"rules", rb.RuleCount(),
		"changed_paths", len(changedPaths))

	if r.notifier != nil {
		r.notifier.publish(ReloadEvent{
			Version:      version,
			RuleBaseID:   rb.ID().String(),
			ChangedPaths: changedPaths,
			Timestamp:    time.Now(),
		})
	}
	return nil
}

// Previous returns the rule base that was active before the last publish,
// or nil. Sessions created against it may still be in flight.
func (r *Registry) Previous() *rulebase.RuleBase {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.previous
}
