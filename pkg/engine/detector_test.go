package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"mercator-hq/forseti/pkg/config"
	"mercator-hq/forseti/pkg/rulebase"
)

func testReloadConfig() config.ReloadConfig {
	return config.ReloadConfig{
		Enabled:          true,
		Interval:         10 * time.Millisecond,
		DebounceInterval: 10 * time.Millisecond,
	}
}

func newTestDetector(t *testing.T, repo *stubRepo, compiler *stubCompiler) (*Detector, *Registry, *eventRecorder) {
	t.Helper()
	notifier := NewNotifier()
	rec := &eventRecorder{}
	notifier.Subscribe(rec.record)
	reg := NewRegistry(notifier, testLogger())
	cache := rulebase.NewCache(4)
	det := NewDetector(testReloadConfig(), config.RulesConfig{Path: "rules", Extensions: []string{".yaml"}},
		repo, compiler, cache, reg, notifier, nil, testLogger())
	return det, reg, rec
}

func TestScanCompilesAndPublishesInitially(t *testing.T) {
	repo := newStubRepo(map[string]string{"pricing.yaml": "rules-v1"})
	compiler := newStubCompiler()
	det, reg, _ := newTestDetector(t, repo, compiler)

	result, err := det.Scan(context.Background(), true)
	if err != nil {
		t.Fatalf("Scan() error = %v", err)
	}
	if !result.Changed {
		t.Error("initial scan reported no change")
	}
	if result.Version != 1 {
		t.Errorf("version = %d, want 1", result.Version)
	}
	if got := len(result.ChangedPaths); got != 1 {
		t.Errorf("changed paths = %d, want 1", got)
	}
	if reg.Current() == nil {
		t.Fatal("no rule base published")
	}
	if got := compiler.compileCount(); got != 1 {
		t.Errorf("compiles = %d, want 1", got)
	}
}

func TestScanUnchangedIsNoop(t *testing.T) {
	repo := newStubRepo(map[string]string{"pricing.yaml": "rules-v1"})
	compiler := newStubCompiler()
	det, reg, rec := newTestDetector(t, repo, compiler)

	if _, err := det.Scan(context.Background(), false); err != nil {
		t.Fatalf("first Scan() error = %v", err)
	}
	eventsBefore := len(rec.all())

	result, err := det.Scan(context.Background(), false)
	if err != nil {
		t.Fatalf("second Scan() error = %v", err)
	}
	if result.Changed {
		t.Error("unchanged scan reported a change")
	}
	if result.Version != 1 {
		t.Errorf("version = %d, want 1", result.Version)
	}
	if got := compiler.compileCount(); got != 1 {
		t.Errorf("compiles = %d, want 1", got)
	}
	if got := len(rec.all()); got != eventsBefore {
		t.Errorf("events = %d, want %d", got, eventsBefore)
	}
	if got := reg.Version(); got != 1 {
		t.Errorf("registry version = %d, want 1", got)
	}
}

func TestScanPublishesOnSourceChange(t *testing.T) {
	repo := newStubRepo(map[string]string{"pricing.yaml": "rules-v1", "fraud.yaml": "rules-v1"})
	compiler := newStubCompiler()
	det, reg, _ := newTestDetector(t, repo, compiler)

	if _, err := det.Scan(context.Background(), false); err != nil {
		t.Fatalf("first Scan() error = %v", err)
	}

	repo.write("fraud.yaml", "rules-v2")
	result, err := det.Scan(context.Background(), false)
	if err != nil {
		t.Fatalf("second Scan() error = %v", err)
	}
	if !result.Changed {
		t.Fatal("changed source not detected")
	}
	if result.Version != 2 {
		t.Errorf("version = %d, want 2", result.Version)
	}
	if len(result.ChangedPaths) != 1 || result.ChangedPaths[0] != "fraud.yaml" {
		t.Errorf("changed paths = %v, want [fraud.yaml]", result.ChangedPaths)
	}
	if got := reg.Version(); got != 2 {
		t.Errorf("registry version = %d, want 2", got)
	}
}

func TestScanDetectsDeletedSource(t *testing.T) {
	repo := newStubRepo(map[string]string{"pricing.yaml": "rules-v1", "fraud.yaml": "rules-v1"})
	compiler := newStubCompiler()
	det, _, _ := newTestDetector(t, repo, compiler)

	if _, err := det.Scan(context.Background(), false); err != nil {
		t.Fatalf("first Scan() error = %v", err)
	}

	repo.mu.Lock()
	delete(repo.files, "fraud.yaml")
	repo.mu.Unlock()

	result, err := det.Scan(context.Background(), false)
	if err != nil {
		t.Fatalf("second Scan() error = %v", err)
	}
	if !result.Changed {
		t.Fatal("deleted source not detected")
	}
	if len(result.ChangedPaths) != 1 || result.ChangedPaths[0] != "fraud.yaml" {
		t.Errorf("changed paths = %v, want [fraud.yaml]", result.ChangedPaths)
	}
}

func TestScanCompileFailureKeepsActiveVersion(t *testing.T) {
	repo := newStubRepo(map[string]string{"pricing.yaml": "rules-v1"})
	compiler := newStubCompiler()
	det, reg, rec := newTestDetector(t, repo, compiler)

	if _, err := det.Scan(context.Background(), false); err != nil {
		t.Fatalf("first Scan() error = %v", err)
	}

	repo.write("pricing.yaml", "rules-broken")
	compiler.mu.Lock()
	compiler.err = &rulebase.CompileError{
		Diagnostics: []rulebase.Diagnostic{
			{Path: "pricing.yaml", Rule: "discount", Line: 3, Column: 7, Message: "undeclared reference"},
		},
	}
	compiler.mu.Unlock()

	if _, err := det.Scan(context.Background(), false); err == nil {
		t.Fatal("Scan() with broken sources succeeded, want error")
	}

	// The last good version keeps serving.
	if got := reg.Version(); got != 1 {
		t.Errorf("registry version = %d, want 1", got)
	}
	failures := rec.reloadFailures()
	if len(failures) != 1 {
		t.Fatalf("reload failure events = %d, want 1", len(failures))
	}
	if failures[0].Reason != "compile_error" {
		t.Errorf("failure reason = %q, want compile_error", failures[0].Reason)
	}
	if len(failures[0].Diagnostics) != 1 {
		t.Errorf("diagnostics = %d, want 1", len(failures[0].Diagnostics))
	}

	// Unchanged broken sources are not recompiled every cycle.
	compilesAfterFailure := compiler.compileCount()
	if _, err := det.Scan(context.Background(), false); err != nil {
		t.Fatalf("Scan() after failure error = %v", err)
	}
	if got := compiler.compileCount(); got != compilesAfterFailure {
		t.Errorf("compiles = %d, want %d (no recompile storm)", got, compilesAfterFailure)
	}

	// Fixing the source triggers a fresh attempt.
	compiler.mu.Lock()
	compiler.err = nil
	compiler.mu.Unlock()
	repo.write("pricing.yaml", "rules-v2")

	result, err := det.Scan(context.Background(), false)
	if err != nil {
		t.Fatalf("Scan() after fix error = %v", err)
	}
	if !result.Changed || result.Version != 2 {
		t.Errorf("result = %+v, want change to version 2", result)
	}
}

func TestScanServesRevertedSourcesFromCache(t *testing.T) {
	repo := newStubRepo(map[string]string{"pricing.yaml": "rules-v1"})
	compiler := newStubCompiler()
	det, reg, _ := newTestDetector(t, repo, compiler)

	if _, err := det.Scan(context.Background(), false); err != nil {
		t.Fatalf("Scan() error = %v", err)
	}
	repo.write("pricing.yaml", "rules-v2")
	if _, err := det.Scan(context.Background(), false); err != nil {
		t.Fatalf("Scan() error = %v", err)
	}
	if got := compiler.compileCount(); got != 2 {
		t.Fatalf("compiles = %d, want 2", got)
	}

	// Reverting to previously-seen sources must hit the cache.
	repo.write("pricing.yaml", "rules-v1")
	result, err := det.Scan(context.Background(), false)
	if err != nil {
		t.Fatalf("Scan() error = %v", err)
	}
	if got := compiler.compileCount(); got != 2 {
		t.Errorf("compiles = %d, want 2 (revert should hit cache)", got)
	}
	if !result.Changed || result.Version != 3 {
		t.Errorf("result = %+v, want change to version 3", result)
	}
	if got := reg.Version(); got != 3 {
		t.Errorf("registry version = %d, want 3", got)
	}
}

func TestScanForceRepublishesUnchangedSources(t *testing.T) {
	repo := newStubRepo(map[string]string{"pricing.yaml": "rules-v1"})
	compiler := newStubCompiler()
	det, reg, _ := newTestDetector(t, repo, compiler)

	if _, err := det.Scan(context.Background(), false); err != nil {
		t.Fatalf("Scan() error = %v", err)
	}

	result, err := det.Scan(context.Background(), true)
	if err != nil {
		t.Fatalf("forced Scan() error = %v", err)
	}
	if !result.Changed {
		t.Error("forced scan did not republish")
	}
	if got := reg.Version(); got != 2 {
		t.Errorf("registry version = %d, want 2", got)
	}
}

func TestScanSourceListingFailure(t *testing.T) {
	repo := newStubRepo(map[string]string{"pricing.yaml": "rules-v1"})
	compiler := newStubCompiler()
	det, reg, rec := newTestDetector(t, repo, compiler)

	if _, err := det.Scan(context.Background(), false); err != nil {
		t.Fatalf("Scan() error = %v", err)
	}

	repo.setListErr(errors.New("mount lost"))
	if _, err := det.Scan(context.Background(), false); err == nil {
		t.Fatal("Scan() with failing repository succeeded, want error")
	}

	if got := reg.Version(); got != 1 {
		t.Errorf("registry version = %d, want 1", got)
	}
	failures := rec.reloadFailures()
	if len(failures) != 1 || failures[0].Reason != "source_error" {
		t.Errorf("failures = %+v, want one source_error", failures)
	}

	// The next clean scan recovers without a publish, nothing changed.
	repo.setListErr(nil)
	result, err := det.Scan(context.Background(), false)
	if err != nil {
		t.Fatalf("Scan() after recovery error = %v", err)
	}
	if result.Changed {
		t.Error("recovery scan republished unchanged sources")
	}
}

func TestScanSourceReadFailureRetriesNextCycle(t *testing.T) {
	repo := newStubRepo(map[string]string{"pricing.yaml": "rules-v1"})
	compiler := newStubCompiler()
	det, reg, rec := newTestDetector(t, repo, compiler)

	if _, err := det.Scan(context.Background(), false); err != nil {
		t.Fatalf("Scan() error = %v", err)
	}

	// A source changes but reading it fails mid-scan (file mid-write).
	repo.write("pricing.yaml", "rules-v2")
	repo.setReadErr(errors.New("partial write"))
	if _, err := det.Scan(context.Background(), false); err == nil {
		t.Fatal("Scan() with failing read succeeded, want error")
	}
	if got := reg.Version(); got != 1 {
		t.Errorf("registry version = %d, want 1", got)
	}
	failures := rec.reloadFailures()
	if len(failures) != 1 || failures[0].Reason != "source_error" {
		t.Errorf("failures = %+v, want one source_error", failures)
	}

	// The read error clears; the same pending change publishes on the
	// next cycle without needing another edit.
	repo.setReadErr(nil)
	result, err := det.Scan(context.Background(), false)
	if err != nil {
		t.Fatalf("Scan() after recovery error = %v", err)
	}
	if !result.Changed {
		t.Fatal("pending change not retried after transient read failure")
	}
	if got := reg.Version(); got != 2 {
		t.Errorf("registry version = %d, want 2", got)
	}
}

func TestDetectorSurvivesWatcherChannelClose(t *testing.T) {
	repo := newStubRepo(map[string]string{"pricing.yaml": "rules-v1"})
	compiler := newStubCompiler()
	notifier := NewNotifier()
	reg := NewRegistry(notifier, testLogger())
	cache := rulebase.NewCache(4)
	cfg := testReloadConfig()
	cfg.Watch = true
	det := NewDetector(cfg, config.RulesConfig{Path: t.TempDir(), Extensions: []string{".yaml"}},
		repo, compiler, cache, reg, notifier, nil, testLogger())

	if _, err := det.Scan(context.Background(), true); err != nil {
		t.Fatalf("initial Scan() error = %v", err)
	}

	go det.Run(context.Background())
	defer det.Stop()

	waitFor(t, 2*time.Second, func() bool {
		det.mu.Lock()
		defer det.mu.Unlock()
		return det.watcher != nil
	})

	// Closing the watcher out from under the loop closes its Events and
	// Errors channels, the same as an unexpected fsnotify shutdown. The
	// loop must fall back to polling and Stop must not panic.
	det.mu.Lock()
	det.watcher.Close()
	det.mu.Unlock()

	repo.write("pricing.yaml", "rules-v2")
	waitFor(t, 2*time.Second, func() bool {
		return reg.Version() == 2
	})
}

func TestDetectorRunPicksUpChanges(t *testing.T) {
	repo := newStubRepo(map[string]string{"pricing.yaml": "rules-v1"})
	compiler := newStubCompiler()
	det, reg, _ := newTestDetector(t, repo, compiler)

	if _, err := det.Scan(context.Background(), true); err != nil {
		t.Fatalf("initial Scan() error = %v", err)
	}

	go det.Run(context.Background())
	defer det.Stop()

	repo.write("pricing.yaml", "rules-v2")
	waitFor(t, 2*time.Second, func() bool {
		return reg.Version() == 2
	})
}
