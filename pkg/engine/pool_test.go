package engine

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func newTestPool(t *testing.T, maxSize int) (*Pool, *Registry, *stubFactory) {
	t.Helper()
	notifier := NewNotifier()
	reg := NewRegistry(notifier, testLogger())
	factory := &stubFactory{}
	publishTestRuleBase(t, reg, factory)
	pool := NewPool(testPoolConfig(maxSize), reg, nil, notifier, testLogger())
	t.Cleanup(pool.Close)
	return pool, reg, factory
}

func TestPoolAcquireCreatesSession(t *testing.T) {
	pool, _, factory := newTestPool(t, 4)

	h, err := pool.Acquire(context.Background(), "test")
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}
	if got := factory.created(); got != 1 {
		t.Errorf("sessions created = %d, want 1", got)
	}
	if got := h.Version(); got != 1 {
		t.Errorf("handle version = %d, want 1", got)
	}

	stats := pool.Stats()
	if stats.InUse != 1 || stats.Idle != 0 {
		t.Errorf("stats = %+v, want 1 in use, 0 idle", stats)
	}
	pool.Release(h)
}

func TestPoolAcquireWithoutRuleBase(t *testing.T) {
	notifier := NewNotifier()
	reg := NewRegistry(notifier, testLogger())
	pool := NewPool(testPoolConfig(2), reg, nil, notifier, testLogger())
	defer pool.Close()

	_, err := pool.Acquire(context.Background(), "test")
	if !errors.Is(err, ErrNoRuleBase) {
		t.Fatalf("Acquire() error = %v, want ErrNoRuleBase", err)
	}
}

func TestPoolReusesIdleSession(t *testing.T) {
	pool, _, factory := newTestPool(t, 4)

	h, err := pool.Acquire(context.Background(), "test")
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}
	pool.Release(h)

	if got := pool.Stats().Idle; got != 1 {
		t.Fatalf("idle after release = %d, want 1", got)
	}

	again, err := pool.Acquire(context.Background(), "test")
	if err != nil {
		t.Fatalf("second Acquire() error = %v", err)
	}
	if again != h {
		t.Error("second acquire did not reuse the idle session")
	}
	if got := factory.created(); got != 1 {
		t.Errorf("sessions created = %d, want 1", got)
	}
	if got := factory.session(0).resets; got != 1 {
		t.Errorf("resets = %d, want 1", got)
	}
	pool.Release(again)
}

func TestPoolCapsConcurrentSessions(t *testing.T) {
	pool, _, factory := newTestPool(t, 2)

	var handles []*SessionHandle
	for i := 0; i < 2; i++ {
		h, err := pool.Acquire(context.Background(), "test")
		if err != nil {
			t.Fatalf("Acquire() #%d error = %v", i, err)
		}
		handles = append(handles, h)
	}

	_, err := pool.Acquire(context.Background(), "test")
	var exhausted *PoolExhaustedError
	if !errors.As(err, &exhausted) {
		t.Fatalf("Acquire() beyond capacity error = %v, want *PoolExhaustedError", err)
	}
	if got := factory.created(); got != 2 {
		t.Errorf("sessions created = %d, want 2", got)
	}

	for _, h := range handles {
		pool.Release(h)
	}
}

func TestPoolBlockedAcquireUnblocksOnRelease(t *testing.T) {
	pool, _, _ := newTestPool(t, 1)

	h, err := pool.Acquire(context.Background(), "test")
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}

	acquired := make(chan *SessionHandle, 1)
	errCh := make(chan error, 1)
	go func() {
		got, err := pool.Acquire(context.Background(), "test")
		if err != nil {
			errCh <- err
			return
		}
		acquired <- got
	}()

	// Give the second acquire time to block on the full pool.
	time.Sleep(10 * time.Millisecond)
	pool.Release(h)

	select {
	case got := <-acquired:
		pool.Release(got)
	case err := <-errCh:
		t.Fatalf("blocked Acquire() error = %v", err)
	case <-time.After(time.Second):
		t.Fatal("blocked acquire never unblocked after release")
	}
}

func TestPoolExhaustedEmitsEvent(t *testing.T) {
	notifier := NewNotifier()
	rec := &eventRecorder{}
	notifier.Subscribe(rec.record)
	reg := NewRegistry(notifier, testLogger())
	publishTestRuleBase(t, reg, &stubFactory{})

	cfg := testPoolConfig(1)
	cfg.AcquireTimeout = 20 * time.Millisecond
	pool := NewPool(cfg, reg, nil, notifier, testLogger())
	defer pool.Close()

	h, err := pool.Acquire(context.Background(), "test")
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}
	defer pool.Release(h)

	if _, err := pool.Acquire(context.Background(), "test"); err == nil {
		t.Fatal("Acquire() beyond capacity succeeded, want error")
	}

	var found bool
	for _, e := range rec.all() {
		if _, ok := e.(PoolExhaustedEvent); ok {
			found = true
		}
	}
	if !found {
		t.Error("no PoolExhaustedEvent emitted")
	}
}

func TestPoolAcquireHonorsCallerCancel(t *testing.T) {
	pool, _, _ := newTestPool(t, 1)

	h, err := pool.Acquire(context.Background(), "test")
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}
	defer pool.Release(h)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := pool.Acquire(ctx, "test"); !errors.Is(err, context.Canceled) {
		t.Fatalf("Acquire() error = %v, want context.Canceled", err)
	}
}

func TestPoolReleaseDisposesStaleSession(t *testing.T) {
	pool, reg, factory := newTestPool(t, 4)

	h, err := pool.Acquire(context.Background(), "test")
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}

	// A reload supersedes the leased session's version.
	publishTestRuleBase(t, reg, factory)
	pool.Release(h)

	if !factory.session(0).isClosed() {
		t.Error("stale session not closed on release")
	}
	if got := pool.Stats().Idle; got != 0 {
		t.Errorf("idle = %d, want 0", got)
	}

	// The next acquire builds a session against the new version.
	fresh, err := pool.Acquire(context.Background(), "test")
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}
	if got := fresh.Version(); got != 2 {
		t.Errorf("fresh handle version = %d, want 2", got)
	}
	pool.Release(fresh)
}

func TestPoolAcquireRetiresStaleIdleSessions(t *testing.T) {
	pool, reg, factory := newTestPool(t, 4)

	h, err := pool.Acquire(context.Background(), "test")
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}
	pool.Release(h)

	publishTestRuleBase(t, reg, factory)

	fresh, err := pool.Acquire(context.Background(), "test")
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}
	if fresh == h {
		t.Error("acquire reused a stale idle session")
	}
	if !factory.session(0).isClosed() {
		t.Error("stale idle session not closed")
	}
	pool.Release(fresh)
}

func TestPoolDiscardDisposes(t *testing.T) {
	pool, _, factory := newTestPool(t, 1)

	h, err := pool.Acquire(context.Background(), "test")
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}
	pool.Discard(h, disposeReasonRuntimeError)

	if !factory.session(0).isClosed() {
		t.Error("discarded session not closed")
	}
	stats := pool.Stats()
	if stats.InUse != 0 || stats.Idle != 0 {
		t.Errorf("stats = %+v, want empty pool", stats)
	}

	// The slot must be free again.
	again, err := pool.Acquire(context.Background(), "test")
	if err != nil {
		t.Fatalf("Acquire() after discard error = %v", err)
	}
	pool.Release(again)
}

func TestPoolReleaseDisposesOnResetFailure(t *testing.T) {
	notifier := NewNotifier()
	reg := NewRegistry(notifier, testLogger())
	factory := &stubFactory{resetErr: errors.New("corrupt working memory")}
	publishTestRuleBase(t, reg, factory)
	pool := NewPool(testPoolConfig(2), reg, nil, notifier, testLogger())
	defer pool.Close()

	h, err := pool.Acquire(context.Background(), "test")
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}
	pool.Release(h)

	if !factory.session(0).isClosed() {
		t.Error("session with failing reset not closed")
	}
	if got := pool.Stats().Idle; got != 0 {
		t.Errorf("idle = %d, want 0", got)
	}
}

func TestPoolDuplicateReleaseDuringResetIsIgnored(t *testing.T) {
	enterReset := make(chan struct{})
	finishReset := make(chan struct{})
	var resetOnce sync.Once

	notifier := NewNotifier()
	reg := NewRegistry(notifier, testLogger())
	factory := &stubFactory{resetFn: func() error {
		resetOnce.Do(func() { close(enterReset) })
		<-finishReset
		return nil
	}}
	publishTestRuleBase(t, reg, factory)
	pool := NewPool(testPoolConfig(2), reg, nil, notifier, testLogger())
	t.Cleanup(pool.Close)

	h, err := pool.Acquire(context.Background(), "test")
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}

	released := make(chan struct{})
	go func() {
		pool.Release(h)
		close(released)
	}()
	<-enterReset

	// The first Release is parked inside Reset; a duplicate return of the
	// same handle must be a no-op, not a second slot free.
	pool.Release(h)
	close(finishReset)
	<-released

	stats := pool.Stats()
	if stats.InUse != 0 || stats.Idle != 1 {
		t.Errorf("stats = %+v, want 0 in use, 1 idle", stats)
	}
}

func TestPoolSweepRetiresExpiredIdleSessions(t *testing.T) {
	pool, _, factory := newTestPool(t, 4)

	var handles []*SessionHandle
	for i := 0; i < 3; i++ {
		h, err := pool.Acquire(context.Background(), "test")
		if err != nil {
			t.Fatalf("Acquire() error = %v", err)
		}
		handles = append(handles, h)
	}
	for _, h := range handles {
		pool.Release(h)
	}

	pool.mu.Lock()
	for _, h := range pool.idle {
		h.lastUsed = time.Now().Add(-2 * pool.cfg.IdleTimeout)
	}
	pool.mu.Unlock()

	pool.Sweep()

	// MinIdle sessions survive regardless of age.
	if got := pool.Stats().Idle; got != pool.cfg.MinIdle {
		t.Errorf("idle after sweep = %d, want %d", got, pool.cfg.MinIdle)
	}
	closed := 0
	for i := 0; i < factory.created(); i++ {
		if factory.session(i).isClosed() {
			closed++
		}
	}
	if closed != 2 {
		t.Errorf("closed sessions = %d, want 2", closed)
	}
}

func TestPoolSweepKeepsFreshSessions(t *testing.T) {
	pool, _, _ := newTestPool(t, 4)

	h, err := pool.Acquire(context.Background(), "test")
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}
	pool.Release(h)

	pool.Sweep()

	if got := pool.Stats().Idle; got != 1 {
		t.Errorf("idle after sweep = %d, want 1", got)
	}
}

func TestPoolSweepRetiresStaleRegardlessOfFloor(t *testing.T) {
	pool, reg, factory := newTestPool(t, 4)

	h, err := pool.Acquire(context.Background(), "test")
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}
	pool.Release(h)

	publishTestRuleBase(t, reg, factory)
	pool.Sweep()

	if got := pool.Stats().Idle; got != 0 {
		t.Errorf("idle after sweep = %d, want 0", got)
	}
	if !factory.session(0).isClosed() {
		t.Error("stale idle session not closed by sweep")
	}
}

func TestPoolClose(t *testing.T) {
	pool, _, factory := newTestPool(t, 4)

	idle, err := pool.Acquire(context.Background(), "test")
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}
	leased, err := pool.Acquire(context.Background(), "test")
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}
	pool.Release(idle)

	pool.Close()

	if !factory.session(0).isClosed() {
		t.Error("idle session not closed on pool close")
	}
	if _, err := pool.Acquire(context.Background(), "test"); !errors.Is(err, ErrPoolClosed) {
		t.Fatalf("Acquire() after close error = %v, want ErrPoolClosed", err)
	}

	// A leased session is disposed when it finally comes back.
	pool.Release(leased)
	if !factory.session(1).isClosed() {
		t.Error("leased session not closed on release after pool close")
	}
}
