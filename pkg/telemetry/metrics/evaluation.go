package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"mercator-hq/forseti/pkg/config"
)

// EvaluationMetrics tracks rule evaluation outcomes and latency.
//
// Metrics:
//   - forseti_engine_evaluations_total: evaluations by operation and outcome
//   - forseti_engine_evaluation_duration_seconds: evaluation latency
type EvaluationMetrics struct {
	evaluationsTotal   *prometheus.CounterVec
	evaluationDuration *prometheus.HistogramVec
}

// NewEvaluationMetrics creates and registers evaluation metrics.
func NewEvaluationMetrics(cfg config.MetricsConfig, registry *prometheus.Registry) *EvaluationMetrics {
	em := &EvaluationMetrics{
		evaluationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "evaluations_total",
				Help:      "Total number of rule evaluations",
			},
			[]string{"operation", "outcome"},
		),

		evaluationDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "evaluation_duration_seconds",
				Help:      "Duration of rule evaluations in seconds",
				// Rule firing is expected in the sub-millisecond to
				// low-second range.
				Buckets: prometheus.ExponentialBuckets(0.0001, 4, 10), // 100µs to ~26s
			},
			[]string{"operation"},
		),
	}

	registry.MustRegister(em.evaluationsTotal, em.evaluationDuration)
	return em
}

// RecordEvaluation records one evaluation outcome.
// outcome is "success", "timeout", "runtime_error", or "pool_exhausted".
func (em *EvaluationMetrics) RecordEvaluation(operation, outcome string, duration time.Duration) {
	em.evaluationsTotal.WithLabelValues(operation, outcome).Inc()
	em.evaluationDuration.WithLabelValues(operation).Observe(duration.Seconds())
}
