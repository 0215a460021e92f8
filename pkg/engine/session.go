package engine

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"mercator-hq/forseti/pkg/rulebase"
)

// handleState tracks where a pooled session is in its lifecycle. It is
// guarded by the pool mutex.
type handleState int

const (
	handleIdle handleState = iota
	handleInUse
	// handleReleasing marks a handle whose return is in flight: the pool
	// released its lock to reset the session but has not parked it yet. A
	// duplicate Release or Discard in that window must not pass the
	// in-use guard a second time.
	handleReleasing
	handleDisposed
)

// SessionHandle is a pooled evaluation session bound to one rule-base
// version. Callers obtain handles from the pool and must return each one
// exactly once, via Release or Discard.
type SessionHandle struct {
	id      uuid.UUID
	session rulebase.Session
	version uint64

	// lastUsed and state are guarded by the owning pool's mutex.
	lastUsed time.Time
	state    handleState

	disposeOnce sync.Once
}

func newSessionHandle(session rulebase.Session, version uint64) *SessionHandle {
	return &SessionHandle{
		id:       uuid.New(),
		session:  session,
		version:  version,
		lastUsed: time.Now(),
		state:    handleInUse,
	}
}

// ID returns the handle's identifier, used in logs.
func (h *SessionHandle) ID() uuid.UUID { return h.id }

// Version returns the rule-base version the session was created against.
func (h *SessionHandle) Version() uint64 { return h.version }

// Session returns the underlying evaluation session.
func (h *SessionHandle) Session() rulebase.Session { return h.session }

// dispose closes the underlying session exactly once. Errors from Close
// are reported to the callback; the handle is considered disposed either
// way.
func (h *SessionHandle) dispose(onErr func(error)) {
	h.disposeOnce.Do(func() {
		if err := h.session.Close(); err != nil && onErr != nil {
			onErr(err)
		}
	})
}
