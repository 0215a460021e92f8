package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"mercator-hq/forseti/pkg/config"
	"mercator-hq/forseti/pkg/telemetry/metrics"
)

// Disposal reasons, recorded on the disposal counter.
const (
	disposeReasonStale        = "stale"
	disposeReasonIdle         = "idle"
	disposeReasonTimeout      = "timeout"
	disposeReasonRuntimeError = "runtime_error"
	disposeReasonShutdown     = "shutdown"
)

// Pool is a bounded pool of evaluation sessions. At most MaxSize sessions
// exist at a time, counting both leased and idle ones; acquires beyond
// that block until a session is returned or the acquire timeout fires.
//
// Sessions are bound to the rule-base version they were created against.
// A returned session whose version no longer matches the registry is
// disposed instead of being parked, so stale sessions drain out as
// traffic flows after a reload.
type Pool struct {
	cfg      config.PoolConfig
	registry *Registry
	metrics  *metrics.PoolMetrics
	notifier *Notifier
	logger   *slog.Logger

	// slots is a counting semaphore: sending acquires a slot, receiving
	// releases it. A slot is held for the whole lease of a session.
	slots chan struct{}

	mu     sync.Mutex
	idle   []*SessionHandle
	inUse  int
	closed bool
}

// PoolStats is a point-in-time snapshot of pool occupancy.
type PoolStats struct {
	InUse   int
	Idle    int
	MaxSize int
}

// NewPool creates a session pool. The pool starts empty; sessions are
// created on demand from the registry's active rule base.
func NewPool(cfg config.PoolConfig, registry *Registry, pm *metrics.PoolMetrics, notifier *Notifier, logger *slog.Logger) *Pool {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pool{
		cfg:      cfg,
		registry: registry,
		metrics:  pm,
		notifier: notifier,
		logger:   logger,
		slots:    make(chan struct{}, cfg.MaxSize),
	}
}

// Acquire leases a session for one evaluation. It reuses an idle session
// when one matches the active rule-base version, otherwise creates a new
// one. When the pool is at capacity it blocks until a slot frees up, the
// acquire timeout fires, or ctx is done.
//
// The returned handle must be given back with Release or Discard.
func (p *Pool) Acquire(ctx context.Context, operation string) (*SessionHandle, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, ErrPoolClosed
	}
	p.mu.Unlock()

	timer := time.NewTimer(p.cfg.AcquireTimeout)
	defer timer.Stop()

	select {
	case p.slots <- struct{}{}:
	case <-timer.C:
		p.logger.Warn("session pool exhausted", "operation", operation, "timeout", p.cfg.AcquireTimeout)
		if p.metrics != nil {
			p.metrics.RecordExhausted()
		}
		if p.notifier != nil {
			p.notifier.publish(PoolExhaustedEvent{Operation: operation, Timestamp: time.Now()})
		}
		return nil, &PoolExhaustedError{Operation: operation, Timeout: p.cfg.AcquireTimeout}
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	h, err := p.leaseOrCreate(ctx)
	if err != nil {
		<-p.slots
		return nil, err
	}
	return h, nil
}

// leaseOrCreate is called with a slot held. On error the caller returns
// the slot.
func (p *Pool) leaseOrCreate(ctx context.Context) (*SessionHandle, error) {
	currentVersion := p.registry.Version()

	var stale []*SessionHandle
	defer func() {
		p.disposeAll(stale, disposeReasonStale)
	}()

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, ErrPoolClosed
	}

	// Pop idle sessions newest first, retiring any compiled against an
	// older rule base along the way.
	for len(p.idle) > 0 {
		h := p.idle[len(p.idle)-1]
		p.idle = p.idle[:len(p.idle)-1]
		if h.version != currentVersion {
			h.state = handleDisposed
			stale = append(stale, h)
			continue
		}
		h.state = handleInUse
		h.lastUsed = time.Now()
		p.inUse++
		p.updateGaugesLocked()
		p.mu.Unlock()
		return h, nil
	}
	p.mu.Unlock()

	rb := p.registry.Current()
	if rb == nil {
		return nil, ErrNoRuleBase
	}
	sess, err := rb.NewSession(ctx)
	if err != nil {
		return nil, fmt.Errorf("creating session: %w", err)
	}
	h := newSessionHandle(sess, rb.Version())

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		h.dispose(p.logDisposeError)
		return nil, ErrPoolClosed
	}
	p.inUse++
	p.updateGaugesLocked()
	p.mu.Unlock()

	if p.metrics != nil {
		p.metrics.RecordCreated()
	}
	p.logger.Debug("created session", "session_id", h.id.String(), "version", h.version)
	return h, nil
}

// Release returns a leased session to the pool. A healthy session bound to
// the active rule-base version is reset and parked for reuse; anything
// else is disposed. Release frees the caller's pool slot.
func (p *Pool) Release(h *SessionHandle) {
	if h == nil {
		return
	}

	p.mu.Lock()
	if h.state != handleInUse {
		p.mu.Unlock()
		return
	}
	p.inUse--

	if p.closed {
		h.state = handleDisposed
		p.updateGaugesLocked()
		p.mu.Unlock()
		p.disposeOne(h, disposeReasonShutdown)
		<-p.slots
		return
	}

	if h.version != p.registry.Version() {
		h.state = handleDisposed
		p.updateGaugesLocked()
		p.mu.Unlock()
		p.disposeOne(h, disposeReasonStale)
		<-p.slots
		return
	}
	h.state = handleReleasing
	p.mu.Unlock()

	if err := h.session.Reset(); err != nil {
		p.logger.Warn("session reset failed, disposing", "session_id", h.id.String(), "error", err)
		p.mu.Lock()
		h.state = handleDisposed
		p.updateGaugesLocked()
		p.mu.Unlock()
		p.disposeOne(h, disposeReasonRuntimeError)
		<-p.slots
		return
	}

	p.mu.Lock()
	if p.closed {
		h.state = handleDisposed
		p.updateGaugesLocked()
		p.mu.Unlock()
		p.disposeOne(h, disposeReasonShutdown)
		<-p.slots
		return
	}
	h.state = handleIdle
	h.lastUsed = time.Now()
	p.idle = append(p.idle, h)
	p.updateGaugesLocked()
	p.mu.Unlock()
	<-p.slots
}

// Discard disposes a leased session instead of returning it to the idle
// set. It is used when evaluation left the session in an unknown state.
// Discard frees the caller's pool slot.
func (p *Pool) Discard(h *SessionHandle, reason string) {
	if h == nil {
		return
	}

	p.mu.Lock()
	if h.state != handleInUse {
		p.mu.Unlock()
		return
	}
	h.state = handleDisposed
	p.inUse--
	p.updateGaugesLocked()
	p.mu.Unlock()

	p.disposeOne(h, reason)
	<-p.slots
}

// Sweep retires idle sessions. Sessions bound to a superseded rule-base
// version are always disposed; sessions idle longer than the idle timeout
// are disposed down to the configured idle floor.
func (p *Pool) Sweep() {
	currentVersion := p.registry.Version()
	now := time.Now()

	var stale, expired []*SessionHandle

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}

	kept := p.idle[:0]
	for _, h := range p.idle {
		if h.version != currentVersion {
			h.state = handleDisposed
			stale = append(stale, h)
			continue
		}
		kept = append(kept, h)
	}
	p.idle = kept

	// The idle set is a LIFO stack, so the oldest sessions sit at the
	// bottom.
	for len(p.idle) > p.cfg.MinIdle {
		h := p.idle[0]
		if now.Sub(h.lastUsed) <= p.cfg.IdleTimeout {
			break
		}
		h.state = handleDisposed
		expired = append(expired, h)
		p.idle = p.idle[1:]
	}
	p.updateGaugesLocked()
	p.mu.Unlock()

	p.disposeAll(stale, disposeReasonStale)
	p.disposeAll(expired, disposeReasonIdle)

	if len(stale) > 0 || len(expired) > 0 {
		p.logger.Debug("swept idle sessions", "stale", len(stale), "expired", len(expired))
	}
}

// Stats returns a snapshot of pool occupancy.
func (p *Pool) Stats() PoolStats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return PoolStats{
		InUse:   p.inUse,
		Idle:    len(p.idle),
		MaxSize: p.cfg.MaxSize,
	}
}

// Close shuts the pool down. Idle sessions are disposed immediately;
// leased sessions are disposed as they are returned. Acquire fails with
// ErrPoolClosed from then on.
func (p *Pool) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	idle := p.idle
	p.idle = nil
	for _, h := range idle {
		h.state = handleDisposed
	}
	p.updateGaugesLocked()
	p.mu.Unlock()

	p.disposeAll(idle, disposeReasonShutdown)
	p.logger.Info("session pool closed", "disposed_idle", len(idle))
}

func (p *Pool) disposeOne(h *SessionHandle, reason string) {
	h.dispose(p.logDisposeError)
	if p.metrics != nil {
		p.metrics.RecordDisposed(reason)
	}
}

func (p *Pool) disposeAll(handles []*SessionHandle, reason string) {
	for _, h := range handles {
		p.disposeOne(h, reason)
	}
}

func (p *Pool) logDisposeError(err error) {
	p.logger.Warn("closing session failed", "error", err)
}

func (p *Pool) updateGaugesLocked() {
	if p.metrics == nil {
		return
	}
	p.metrics.SetInUse(p.inUse)
	p.metrics.SetIdle(len(p.idle))
}
