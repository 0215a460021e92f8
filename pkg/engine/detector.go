package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"mercator-hq/forseti/pkg/config"
	"mercator-hq/forseti/pkg/rulebase"
	"mercator-hq/forseti/pkg/telemetry/metrics"
)

// ReloadResult describes the outcome of one change-detection scan.
type ReloadResult struct {
	// Changed reports whether a new rule-base version was published.
	Changed bool

	// Version is the active rule-base version after the scan.
	Version uint64

	// ChangedPaths lists the sources that differed from the previous
	// scan, sorted. Empty when nothing changed.
	ChangedPaths []string
}

// Detector scans the source repository for changed rule sources and drives
// recompilation and publication. Periodic scans are the source of truth;
// filesystem notifications, when enabled, only shorten the wait for the
// next scan.
//
// A failed reload never disturbs the active rule base: the previous
// version keeps serving until a scan produces a valid replacement.
type Detector struct {
	reloadCfg config.ReloadConfig
	rulesCfg  config.RulesConfig

	repo     rulebase.SourceRepository
	compiler rulebase.Compiler
	cache    *rulebase.Cache
	registry *Registry
	notifier *Notifier
	metrics  *metrics.Collector
	logger   *slog.Logger

	// scanMu serializes scans so a forced reload and the periodic loop
	// never compile concurrently.
	scanMu sync.Mutex
	prev   rulebase.FingerprintSet

	scanNow chan struct{}
	stopCh  chan struct{}
	doneCh  chan struct{}

	mu      sync.Mutex
	running bool
	watcher *fsnotify.Watcher
}

// NewDetector creates a change detector. collector may be nil.
func NewDetector(
	reloadCfg config.ReloadConfig,
	rulesCfg config.RulesConfig,
	repo rulebase.SourceRepository,
	compiler rulebase.Compiler,
	cache *rulebase.Cache,
	registry *Registry,
	notifier *Notifier,
	collector *metrics.Collector,
	logger *slog.Logger,
) *Detector {
	if logger == nil {
		logger = slog.Default()
	}
	return &Detector{
		reloadCfg: reloadCfg,
		rulesCfg:  rulesCfg,
		repo:      repo,
		compiler:  compiler,
		cache:     cache,
		registry:  registry,
		notifier:  notifier,
		metrics:   collector,
		logger:    logger.With("component", "engine.detector"),
		scanNow:   make(chan struct{}, 1),
		stopCh:    make(chan struct{}),
		doneCh:    make(chan struct{}),
	}
}

// Run executes the periodic scan loop until ctx is cancelled or Stop is
// called. It is a blocking call; run it on its own goroutine.
func (d *Detector) Run(ctx context.Context) error {
	d.mu.Lock()
	if d.running {
		d.mu.Unlock()
		return fmt.Errorf("detector already running")
	}
	d.running = true
	d.mu.Unlock()
	defer close(d.doneCh)

	var watcher *fsnotify.Watcher
	var debounce *debouncer
	if d.reloadCfg.Watch {
		w, err := d.startWatcher()
		if err != nil {
			// The periodic scan still covers changes; run without the
			// fast path.
			d.logger.Warn("filesystem watch unavailable, relying on periodic scans", "error", err)
		} else {
			watcher = w
			d.mu.Lock()
			d.watcher = w
			d.mu.Unlock()
			debounce = newDebouncer(d.reloadCfg.DebounceInterval)
			// Close the captured watcher, not the loop variable: the loop
			// nils it out when fsnotify's channels close unexpectedly.
			defer func() {
				debounce.stop()
				w.Close()
			}()
		}
	}

	ticker := time.NewTicker(d.reloadCfg.Interval)
	defer ticker.Stop()

	d.logger.Info("change detector started",
		"interval", d.reloadCfg.Interval,
		"watch", watcher != nil)

	for {
		var events chan fsnotify.Event
		var watchErrs chan error
		if watcher != nil {
			events = watcher.Events
			watchErrs = watcher.Errors
		}

		select {
		case <-ctx.Done():
			d.logger.Info("change detector stopped", "reason", "context cancelled")
			return nil

		case <-d.stopCh:
			d.logger.Info("change detector stopped")
			return nil

		case <-ticker.C:
			d.runScan(ctx)

		case <-d.scanNow:
			d.runScan(ctx)

		case event, ok := <-events:
			if !ok {
				watcher = nil
				continue
			}
			if !d.relevantEvent(event) {
				continue
			}
			d.logger.Debug("file event detected", "path", event.Name, "op", event.Op.String())
			debounce.trigger(d.requestScan)

		case err, ok := <-watchErrs:
			if !ok {
				watcher = nil
				continue
			}
			d.logger.Error("filesystem watch error", "error", err)
		}
	}
}

// Stop stops the run loop and waits for it to exit.
func (d *Detector) Stop() {
	d.mu.Lock()
	if !d.running {
		d.mu.Unlock()
		return
	}
	d.running = false
	d.mu.Unlock()

	close(d.stopCh)
	<-d.doneCh
}

// requestScan asks the run loop for a scan without blocking. Coalesces
// with an already-pending request.
func (d *Detector) requestScan() {
	select {
	case d.scanNow <- struct{}{}:
	default:
	}
}

// runScan performs a periodic scan, logging failures instead of
// propagating them. Transient source errors are retried on the next tick.
func (d *Detector) runScan(ctx context.Context) {
	if _, err := d.Scan(ctx, false); err != nil {
		d.logger.Error("scan failed", "error", err)
	}
}

// Scan performs one change-detection cycle: fingerprint all sources,
// diff against the previous scan, and on change recompile (or fetch from
// the compilation cache) and publish. With force set, an unchanged source
// set is recompiled and republished anyway.
func (d *Detector) Scan(ctx context.Context, force bool) (*ReloadResult, error) {
	d.scanMu.Lock()
	defer d.scanMu.Unlock()

	infos, err := d.repo.ListSources(ctx)
	if err != nil {
		d.reloadFailed("source_error", nil, err)
		return nil, fmt.Errorf("listing rule sources: %w", err)
	}

	next := make(rulebase.FingerprintSet, len(infos))
	for _, info := range infos {
		next[info.Path] = info.Fingerprint
	}

	changedPaths := d.prev.Diff(next)
	if len(changedPaths) == 0 && !force && d.prev != nil {
		return &ReloadResult{Version: d.registry.Version()}, nil
	}

	key := next.Hash()
	rb, cached := d.cache.Get(key)
	d.recordCacheLookup(cached)
	if !cached {
		sources, err := d.readSources(ctx, infos)
		if err != nil {
			// Transient read failure (file mid-write, permission hiccup):
			// leave prev untouched so the next tick retries the same diff.
			return nil, err
		}
		rb, err = d.compile(ctx, sources)
		if err != nil {
			// Remember the bad fingerprints so the failing sources are
			// not recompiled every tick; the next edit changes the diff
			// and triggers a fresh attempt.
			d.prev = next
			return nil, err
		}
		d.cache.Put(key, rb)
		if d.metrics != nil {
			d.metrics.Cache().SetEntries(d.cache.Len())
		}
	}

	if err := d.registry.Publish(rb, changedPaths); err != nil {
		d.prev = next
		if d.metrics != nil {
			d.metrics.Reload().RecordFailure("rejected")
		}
		return nil, err
	}
	d.prev = next

	version := rb.Version()
	if d.metrics != nil {
		d.metrics.Reload().RecordSuccess(version, time.Now())
	}
	return &ReloadResult{
		Changed:      true,
		Version:      version,
		ChangedPaths: changedPaths,
	}, nil
}

func (d *Detector) readSources(ctx context.Context, infos []rulebase.SourceInfo) ([]rulebase.Source, error) {
	sources := make([]rulebase.Source, 0, len(infos))
	for _, info := range infos {
		data, err := d.repo.ReadSource(ctx, info.Path)
		if err != nil {
			d.reloadFailed("source_error", nil, err)
			return nil, fmt.Errorf("reading rule source %q: %w", info.Path, err)
		}
		sources = append(sources, rulebase.Source{Path: info.Path, Data: data})
	}
	return sources, nil
}

func (d *Detector) compile(ctx context.Context, sources []rulebase.Source) (*rulebase.RuleBase, error) {
	rb, err := d.compiler.Compile(ctx, sources)
	if err != nil {
		var ce *rulebase.CompileError
		if errors.As(err, &ce) {
			d.reloadFailed("compile_error", ce.Diagnostics, err)
		} else {
			d.reloadFailed("compile_error", nil, err)
		}
		return nil, fmt.Errorf("compiling %d rule sources: %w", len(sources), err)
	}
	return rb, nil
}

func (d *Detector) reloadFailed(reason string, diags []rulebase.Diagnostic, err error) {
	d.logger.Error("rule-base reload failed", "reason", reason, "error", err)
	if d.metrics != nil {
		d.metrics.Reload().RecordFailure(reason)
	}
	if d.notifier != nil {
		d.notifier.publish(ReloadFailedEvent{
			Reason:      reason,
			Diagnostics: diags,
			Timestamp:   time.Now(),
		})
	}
}

func (d *Detector) recordCacheLookup(hit bool) {
	if d.metrics == nil {
		return
	}
	if hit {
		d.metrics.Cache().RecordHit()
	} else {
		d.metrics.Cache().RecordMiss()
	}
}

// startWatcher creates an fsnotify watcher over the rules path, adding
// every subdirectory.
func (d *Detector) startWatcher() (*fsnotify.Watcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating fsnotify watcher: %w", err)
	}

	info, err := os.Stat(d.rulesCfg.Path)
	if err != nil {
		watcher.Close()
		return nil, err
	}
	if !info.IsDir() {
		if err := watcher.Add(d.rulesCfg.Path); err != nil {
			watcher.Close()
			return nil, err
		}
		return watcher, nil
	}

	err = filepath.Walk(d.rulesCfg.Path, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() {
			return nil
		}
		if strings.HasPrefix(filepath.Base(path), ".") && path != d.rulesCfg.Path {
			return filepath.SkipDir
		}
		return watcher.Add(path)
	})
	if err != nil {
		watcher.Close()
		return nil, err
	}
	return watcher, nil
}

// relevantEvent reports whether a filesystem event concerns a rule source.
func (d *Detector) relevantEvent(event fsnotify.Event) bool {
	if event.Op&fsnotify.Chmod == fsnotify.Chmod {
		return false
	}
	base := filepath.Base(event.Name)
	if strings.HasPrefix(base, ".") {
		return false
	}
	ext := strings.ToLower(filepath.Ext(event.Name))
	for _, want := range d.rulesCfg.Extensions {
		if ext == strings.ToLower(want) {
			return true
		}
	}
	return false
}

// debouncer collapses rapid event bursts into a single callback after a
// quiet period.
type debouncer struct {
	interval time.Duration

	mu       sync.Mutex
	timer    *time.Timer
	callback func()
	stopped  bool
}

func newDebouncer(interval time.Duration) *debouncer {
	if interval <= 0 {
		interval = config.DefaultDebounceInterval
	}
	return &debouncer{interval: interval}
}

// trigger schedules the callback after the quiet period, resetting the
// clock if a burst is still in progress.
func (b *debouncer) trigger(callback func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.stopped {
		return
	}
	b.callback = callback
	if b.timer != nil {
		b.timer.Stop()
	}
	b.timer = time.AfterFunc(b.interval, func() {
		b.mu.Lock()
		cb := b.callback
		stopped := b.stopped
		b.mu.Unlock()

		if cb != nil && !stopped {
			cb()
		}
	})
}

// stop cancels any pending callback.
func (b *debouncer) stop() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.stopped = true
	if b.timer != nil {
		b.timer.Stop()
		b.timer = nil
	}
	b.callback = nil
}
