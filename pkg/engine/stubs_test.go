package engine

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"mercator-hq/forseti/pkg/config"
	"mercator-hq/forseti/pkg/rulebase"
)

// stubSession is an in-memory rulebase.Session that records every call.
type stubSession struct {
	mu            sync.Mutex
	facts         []any
	closed        bool
	resets        int
	firedPackages []string

	// fireFn and resetFn, when set, replace the default behaviors.
	fireFn   func(ctx context.Context, facts []any) ([]rulebase.Output, error)
	resetFn  func() error
	resetErr error
}

func (s *stubSession) Insert(ctx context.Context, fact any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.facts = append(s.facts, fact)
	return nil
}

func (s *stubSession) Fire(ctx context.Context, rulePackage string) ([]rulebase.Output, error) {
	s.mu.Lock()
	s.firedPackages = append(s.firedPackages, rulePackage)
	facts := append([]any(nil), s.facts...)
	fireFn := s.fireFn
	s.mu.Unlock()

	if fireFn != nil {
		return fireFn(ctx, facts)
	}
	return []rulebase.Output{{Rule: "stub", Name: "fired", Value: len(facts)}}, nil
}

func (s *stubSession) Reset() error {
	s.mu.Lock()
	resetFn := s.resetFn
	s.mu.Unlock()
	if resetFn != nil {
		if err := resetFn(); err != nil {
			return err
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.resetErr != nil {
		return s.resetErr
	}
	s.facts = nil
	s.resets++
	return nil
}

func (s *stubSession) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *stubSession) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *stubSession) recordedFacts() []any {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]any(nil), s.facts...)
}

func (s *stubSession) recordedPackages() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.firedPackages...)
}

// stubFactory hands out stubSessions and remembers them.
type stubFactory struct {
	mu       sync.Mutex
	sessions []*stubSession

	newErr   error
	fireFn   func(ctx context.Context, facts []any) ([]rulebase.Output, error)
	resetFn  func() error
	resetErr error
}

func (f *stubFactory) NewSession(_ context.Context) (rulebase.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.newErr != nil {
		return nil, f.newErr
	}
	s := &stubSession{fireFn: f.fireFn, resetFn: f.resetFn, resetErr: f.resetErr}
	f.sessions = append(f.sessions, s)
	return s, nil
}

func (f *stubFactory) created() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sessions)
}

func (f *stubFactory) session(i int) *stubSession {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sessions[i]
}

// stubRepo is an in-memory rulebase.SourceRepository.
type stubRepo struct {
	mu      sync.Mutex
	files   map[string]string
	listErr error
	readErr error
}

func newStubRepo(files map[string]string) *stubRepo {
	copied := make(map[string]string, len(files))
	for k, v := range files {
		copied[k] = v
	}
	return &stubRepo{files: copied}
}

func (r *stubRepo) ListSources(_ context.Context) ([]rulebase.SourceInfo, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.listErr != nil {
		return nil, r.listErr
	}
	infos := make([]rulebase.SourceInfo, 0, len(r.files))
	for path, data := range r.files {
		infos = append(infos, rulebase.SourceInfo{
			Path:        path,
			Fingerprint: rulebase.NewFingerprint(path, []byte(data)),
		})
	}
	return infos, nil
}

func (r *stubRepo) ReadSource(_ context.Context, path string) ([]byte, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.readErr != nil {
		return nil, r.readErr
	}
	data, ok := r.files[path]
	if !ok {
		return nil, fmt.Errorf("no such source %q", path)
	}
	return []byte(data), nil
}

func (r *stubRepo) write(path, data string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.files[path] = data
}

func (r *stubRepo) setListErr(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.listErr = err
}

func (r *stubRepo) setReadErr(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.readErr = err
}

// stubCompiler builds rule bases around a stubFactory, counting compiles.
type stubCompiler struct {
	mu       sync.Mutex
	compiles int

	err       error
	ruleCount int
	factory   *stubFactory
}

func newStubCompiler() *stubCompiler {
	return &stubCompiler{ruleCount: 1, factory: &stubFactory{}}
}

func (c *stubCompiler) Compile(_ context.Context, sources []rulebase.Source) (*rulebase.RuleBase, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.compiles++
	if c.err != nil {
		return nil, c.err
	}

	fps := make(rulebase.FingerprintSet, len(sources))
	for _, src := range sources {
		fps[src.Path] = rulebase.NewFingerprint(src.Path, src.Data)
	}
	return rulebase.New(fps.Hash(), fps, c.factory, c.ruleCount), nil
}

func (c *stubCompiler) compileCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.compiles
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testPoolConfig(maxSize int) config.PoolConfig {
	return config.PoolConfig{
		MinIdle:        1,
		MaxSize:        maxSize,
		AcquireTimeout: 100 * time.Millisecond,
		IdleTimeout:    time.Minute,
		SweepSchedule:  "@every 1m",
	}
}

// newTestRuleBase builds a valid rule base around the given factory.
func newTestRuleBase(t *testing.T, factory rulebase.SessionFactory) *rulebase.RuleBase {
	t.Helper()
	fps := rulebase.FingerprintSet{
		"rules.yaml": rulebase.NewFingerprint("rules.yaml", []byte("rules: []")),
	}
	return rulebase.New(fps.Hash(), fps, factory, 1)
}

// publishTestRuleBase publishes a fresh rule base and fails the test on
// rejection.
func publishTestRuleBase(t *testing.T, reg *Registry, factory rulebase.SessionFactory) *rulebase.RuleBase {
	t.Helper()
	rb := newTestRuleBase(t, factory)
	if err := reg.Publish(rb, nil); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}
	return rb
}

// eventRecorder collects events for assertions.
type eventRecorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *eventRecorder) record(e Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *eventRecorder) all() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

func (r *eventRecorder) reloadFailures() []ReloadFailedEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []ReloadFailedEvent
	for _, e := range r.events {
		if f, ok := e.(ReloadFailedEvent); ok {
			out = append(out, f)
		}
	}
	return out
}
