package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"mercator-hq/forseti/pkg/config"
	"mercator-hq/forseti/pkg/monitor"
	"mercator-hq/forseti/pkg/rulebase"
	"mercator-hq/forseti/pkg/telemetry/metrics"
)

// Engine is the top-level rule engine: a compiled rule base served through
// a bounded session pool, kept fresh by background change detection.
//
// Construct with New, call Start to compile and publish the initial rule
// base, then Evaluate from any number of goroutines. Close releases all
// background work and pooled sessions.
type Engine struct {
	cfg       *config.Config
	logger    *slog.Logger
	collector *metrics.Collector

	notifier    *Notifier
	registry    *Registry
	cache       *rulebase.Cache
	pool        *Pool
	monitor     *monitor.ErrorRateMonitor
	coordinator *Coordinator
	detector    *Detector
	sweeper     *Sweeper

	mu       sync.Mutex
	started  bool
	closed   bool
	stopLoop context.CancelFunc
	loopDone chan struct{}

	lastReloadAt    time.Time
	lastReloadError string
}

// Status is a point-in-time snapshot of engine health.
type Status struct {
	// RuleBaseVersion is the active rule-base version, zero before the
	// first publish.
	RuleBaseVersion uint64

	// RuleBaseID identifies the active compiled artifact.
	RuleBaseID string

	// RuleCount is the number of rules in the active rule base.
	RuleCount int

	// CompiledAt is when the active rule base was compiled. Zero before
	// the first publish.
	CompiledAt time.Time

	// Pool is the current session pool occupancy.
	Pool PoolStats

	// CacheHits, CacheMisses, and CacheEvictions are compilation cache
	// counters since startup.
	CacheHits      uint64
	CacheMisses    uint64
	CacheEvictions uint64

	// CacheEntries is the current number of cached compiled artifacts.
	CacheEntries int

	// LastReloadAt is when the rule base last changed, zero before the
	// first publish.
	LastReloadAt time.Time

	// LastReloadError describes the most recent reload failure. Empty
	// when the last reload succeeded.
	LastReloadError string

	// ErrorRates reports recent per-operation evaluation error rates.
	ErrorRates []monitor.Stats
}

// New assembles an engine from its configuration and the rule compiler
// and source repository to serve from. logger and collector may be nil;
// a nil collector disables metrics.
func New(cfg *config.Config, compiler rulebase.Compiler, repo rulebase.SourceRepository, logger *slog.Logger, collector *metrics.Collector) (*Engine, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if compiler == nil {
		return nil, fmt.Errorf("compiler is required")
	}
	if repo == nil {
		return nil, fmt.Errorf("source repository is required")
	}
	if err := config.Validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}

	notifier := NewNotifier()
	registry := NewRegistry(notifier, logger)
	cache := rulebase.NewCache(cfg.Cache.Capacity)

	var poolMetrics *metrics.PoolMetrics
	var evalMetrics *metrics.EvaluationMetrics
	if collector != nil {
		poolMetrics = collector.Pool()
		evalMetrics = collector.Evaluation()
	}

	pool := NewPool(cfg.Pool, registry, poolMetrics, notifier, logger)
	mon := monitor.New(0, 0)
	coordinator := NewCoordinator(cfg.Evaluation, pool, mon, evalMetrics, logger)
	detector := NewDetector(cfg.Reload, cfg.Rules, repo, compiler, cache, registry, notifier, collector, logger)
	sweeper := NewSweeper(pool, cfg.Pool.SweepSchedule, logger)

	e := &Engine{
		cfg:         cfg,
		logger:      logger,
		collector:   collector,
		notifier:    notifier,
		registry:    registry,
		cache:       cache,
		pool:        pool,
		monitor:     mon,
		coordinator: coordinator,
		detector:    detector,
		sweeper:     sweeper,
	}
	notifier.Subscribe(e.trackReload)
	return e, nil
}

// trackReload keeps the last-reload fields of Status current.
func (e *Engine) trackReload(event Event) {
	e.mu.Lock()
	defer e.mu.Unlock()
	switch ev := event.(type) {
	case ReloadEvent:
		e.lastReloadAt = ev.Timestamp
		e.lastReloadError = ""
	case ReloadFailedEvent:
		e.lastReloadError = ev.Reason
	}
}

// Start compiles and publishes the initial rule base, then starts change
// detection and the idle sweeper. An initial compile failure is fatal:
// the engine refuses to start without a valid rule base.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	if e.started {
		e.mu.Unlock()
		return fmt.Errorf("engine already started")
	}
	if e.closed {
		e.mu.Unlock()
		return fmt.Errorf("engine is closed")
	}
	e.started = true
	e.mu.Unlock()

	result, err := e.detector.Scan(ctx, true)
	if err != nil {
		return fmt.Errorf("initial rule load: %w", err)
	}
	e.logger.Info("initial rule base published",
		"version", result.Version,
		"rules", e.registry.Current().RuleCount())

	if e.cfg.Reload.Enabled {
		loopCtx, cancel := context.WithCancel(context.Background())
		done := make(chan struct{})

		e.mu.Lock()
		e.stopLoop = cancel
		e.loopDone = done
		e.mu.Unlock()

		go func() {
			defer close(done)
			if err := e.detector.Run(loopCtx); err != nil {
				e.logger.Error("change detector exited", "error", err)
			}
		}()
	}

	if err := e.sweeper.Start(); err != nil {
		return fmt.Errorf("starting sweeper: %w", err)
	}
	return nil
}

// Evaluate runs one evaluation against the active rule base. Facts are
// inserted in the order given; the returned outputs come from all rules
// that fired.
func (e *Engine) Evaluate(ctx context.Context, facts []any) (*Result, error) {
	return e.coordinator.Evaluate(ctx, facts)
}

// EvaluatePackage runs one evaluation restricted to the rules of one
// declared package. An empty rulePackage is equivalent to Evaluate.
func (e *Engine) EvaluatePackage(ctx context.Context, rulePackage string, facts []any) (*Result, error) {
	return e.coordinator.EvaluatePackage(ctx, rulePackage, facts)
}

// ForceReload recompiles and republishes the rule base even when no
// source changed. It returns once the new version is active.
func (e *Engine) ForceReload(ctx context.Context) (*ReloadResult, error) {
	return e.detector.Scan(ctx, true)
}

// Subscribe registers a callback for reload and pool events. Callbacks
// run synchronously on engine goroutines and must return promptly.
func (e *Engine) Subscribe(fn func(Event)) {
	e.notifier.Subscribe(fn)
}

// Status returns a snapshot of engine health.
func (e *Engine) Status() Status {
	e.mu.Lock()
	lastReloadAt := e.lastReloadAt
	lastReloadError := e.lastReloadError
	e.mu.Unlock()

	st := Status{
		Pool:            e.pool.Stats(),
		CacheHits:       e.cache.Hits(),
		CacheMisses:     e.cache.Misses(),
		CacheEvictions:  e.cache.Evictions(),
		CacheEntries:    e.cache.Len(),
		ErrorRates:      e.monitor.Snapshot(),
		LastReloadAt:    lastReloadAt,
		LastReloadError: lastReloadError,
	}
	if rb := e.registry.Current(); rb != nil {
		st.RuleBaseVersion = rb.Version()
		st.RuleBaseID = rb.ID().String()
		st.RuleCount = rb.RuleCount()
		st.CompiledAt = rb.CompiledAt()
	}
	return st
}

// Close stops background work and disposes pooled sessions. It is safe to
// call more than once.
func (e *Engine) Close() {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.closed = true
	stop := e.stopLoop
	done := e.loopDone
	e.mu.Unlock()

	if stop != nil {
		stop()
		<-done
	}
	e.sweeper.Stop()
	e.pool.Close()
	e.logger.Info("engine closed")
}
