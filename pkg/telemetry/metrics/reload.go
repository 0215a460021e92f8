package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"mercator-hq/forseti/pkg/config"
)

// ReloadMetrics tracks rule-base hot reloads.
//
// Metrics:
//   - forseti_engine_reloads_total: reload attempts by result
//   - forseti_engine_active_rulebase_version: version of the active rule base
//   - forseti_engine_last_reload_timestamp_seconds: time of last successful reload
type ReloadMetrics struct {
	reloadsTotal  *prometheus.CounterVec
	activeVersion prometheus.Gauge
	lastReload    prometheus.Gauge
}

// NewReloadMetrics creates and registers hot-reload metrics.
func NewReloadMetrics(cfg config.MetricsConfig, registry *prometheus.Registry) *ReloadMetrics {
	rm := &ReloadMetrics{
		reloadsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "reloads_total",
				Help:      "Total number of rule-base reload attempts, by result",
			},
			[]string{"result"},
		),

		activeVersion: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "active_rulebase_version",
			Help:      "Monotonic version of the currently active rule base",
		}),

		lastReload: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "last_reload_timestamp_seconds",
			Help:      "Unix timestamp of the last successful reload",
		}),
	}

	registry.MustRegister(rm.reloadsTotal, rm.activeVersion, rm.lastReload)
	return rm
}

// RecordSuccess records a successful publish of a new rule-base version.
func (rm *ReloadMetrics) RecordSuccess(version uint64, at time.Time) {
	rm.reloadsTotal.WithLabelValues("success").Inc()
	rm.activeVersion.Set(float64(version))
	rm.lastReload.Set(float64(at.Unix()))
}

// RecordFailure records a failed reload attempt.
// reason is "compile_error", "rejected", or "source_error".
func (rm *ReloadMetrics) RecordFailure(reason string) {
	rm.reloadsTotal.WithLabelValues("failure_" + reason).Inc()
}
