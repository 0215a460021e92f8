package engine

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"mercator-hq/forseti/pkg/config"
	"mercator-hq/forseti/pkg/monitor"
	"mercator-hq/forseti/pkg/rulebase"
	"mercator-hq/forseti/pkg/telemetry/metrics"
)

// opEvaluate labels pool and metric activity from the evaluate path.
const opEvaluate = "evaluate"

// Evaluation outcomes, recorded on the evaluation counter.
const (
	outcomeSuccess       = "success"
	outcomeTimeout       = "timeout"
	outcomeRuntimeError  = "runtime_error"
	outcomePoolExhausted = "pool_exhausted"
)

// Result is the outcome of one successful evaluation.
type Result struct {
	// Outputs are the designated output facts of all fired rules.
	Outputs []rulebase.Output

	// Version is the rule-base version the evaluation ran against.
	Version uint64

	// Duration is how long insertion and firing took.
	Duration time.Duration
}

// Coordinator runs evaluations against pooled sessions. It owns the
// per-evaluation timeout: a timed-out evaluation gets a short grace period
// to honor the cooperative abort, after which its session is abandoned and
// disposed once the runaway call returns.
type Coordinator struct {
	cfg     config.EvaluationConfig
	pool    *Pool
	monitor *monitor.ErrorRateMonitor
	metrics *metrics.EvaluationMetrics
	logger  *slog.Logger
}

// NewCoordinator creates an evaluation coordinator. monitor and em may be
// nil.
func NewCoordinator(cfg config.EvaluationConfig, pool *Pool, mon *monitor.ErrorRateMonitor, em *metrics.EvaluationMetrics, logger *slog.Logger) *Coordinator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Coordinator{
		cfg:     cfg,
		pool:    pool,
		monitor: mon,
		metrics: em,
		logger:  logger.With("component", "engine.coordinator"),
	}
}

type evalOutcome struct {
	outputs []rulebase.Output
	err     error
}

// Evaluate runs one evaluation across every rule package. See
// EvaluatePackage.
func (c *Coordinator) Evaluate(ctx context.Context, facts []any) (*Result, error) {
	return c.EvaluatePackage(ctx, "", facts)
}

// EvaluatePackage runs one evaluation: acquire a session, insert the facts
// in order, fire the rules of rulePackage (all packages when empty), and
// return the designated outputs. The session is returned to the pool on
// success and disposed on any failure that leaves its state unknown.
//
// The configured timeout bounds the evaluation; a caller context with an
// earlier deadline cuts it shorter still and surfaces the context's own
// error rather than a timeout error.
func (c *Coordinator) EvaluatePackage(ctx context.Context, rulePackage string, facts []any) (*Result, error) {
	start := time.Now()

	h, err := c.pool.Acquire(ctx, opEvaluate)
	if err != nil {
		var exhausted *PoolExhaustedError
		if errors.As(err, &exhausted) {
			c.record(outcomePoolExhausted, time.Since(start))
		}
		return nil, err
	}

	evalCtx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	done := make(chan evalOutcome, 1)
	go func() {
		done <- c.run(evalCtx, h.Session(), rulePackage, facts)
	}()

	select {
	case out := <-done:
		return c.finish(ctx, h, out, start)

	case <-evalCtx.Done():
		if ctx.Err() != nil {
			// The caller gave up; the evaluation may still be running, so
			// the session cannot be reused.
			c.abandon(h, done)
			c.record(outcomeTimeout, time.Since(start))
			return nil, ctx.Err()
		}

		// Give the evaluation a moment to notice the cancelled context.
		grace := time.NewTimer(c.cfg.AbortGrace)
		defer grace.Stop()
		select {
		case <-done:
			c.pool.Discard(h, disposeReasonTimeout)
		case <-grace.C:
			c.logger.Warn("evaluation ignored abort, abandoning session",
				"session_id", h.ID().String(),
				"timeout", c.cfg.Timeout,
				"grace", c.cfg.AbortGrace)
			c.abandon(h, done)
		}

		c.record(outcomeTimeout, time.Since(start))
		return nil, &RuleExecutionTimeoutError{Operation: opEvaluate, Timeout: c.cfg.Timeout}
	}
}

// run inserts the facts in order and fires the selected rules.
func (c *Coordinator) run(ctx context.Context, sess rulebase.Session, rulePackage string, facts []any) evalOutcome {
	for _, fact := range facts {
		if err := sess.Insert(ctx, fact); err != nil {
			return evalOutcome{err: err}
		}
	}
	outputs, err := sess.Fire(ctx, rulePackage)
	return evalOutcome{outputs: outputs, err: err}
}

// finish settles a completed evaluation: healthy sessions go back to the
// pool, failed ones are disposed.
func (c *Coordinator) finish(ctx context.Context, h *SessionHandle, out evalOutcome, start time.Time) (*Result, error) {
	duration := time.Since(start)

	if out.err != nil {
		if errors.Is(out.err, context.DeadlineExceeded) {
			c.pool.Discard(h, disposeReasonTimeout)
			c.record(outcomeTimeout, duration)
			return nil, &RuleExecutionTimeoutError{Operation: opEvaluate, Timeout: c.cfg.Timeout}
		}
		if errors.Is(out.err, context.Canceled) && ctx.Err() != nil {
			c.pool.Discard(h, disposeReasonTimeout)
			c.record(outcomeTimeout, duration)
			return nil, ctx.Err()
		}

		c.logger.Warn("evaluation failed", "session_id", h.ID().String(), "error", out.err)
		c.pool.Discard(h, disposeReasonRuntimeError)
		c.record(outcomeRuntimeError, duration)
		return nil, &RuleExecutionRuntimeError{Operation: opEvaluate, Cause: out.err}
	}

	version := h.Version()
	c.pool.Release(h)
	c.record(outcomeSuccess, duration)
	return &Result{
		Outputs:  out.outputs,
		Version:  version,
		Duration: duration,
	}, nil
}

// abandon disposes a session whose evaluation may still be running. A
// detached goroutine waits for the runaway call to return before closing
// the session, so the caller is not held up and the session is never
// closed mid-use.
func (c *Coordinator) abandon(h *SessionHandle, done <-chan evalOutcome) {
	go func() {
		<-done
		c.pool.Discard(h, disposeReasonTimeout)
	}()
}

func (c *Coordinator) record(outcome string, duration time.Duration) {
	if c.monitor != nil {
		c.monitor.Record(opEvaluate, outcome == outcomeSuccess)
	}
	if c.metrics != nil {
		c.metrics.RecordEvaluation(opEvaluate, outcome, duration)
	}
}
