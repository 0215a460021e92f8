package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"mercator-hq/forseti/pkg/config"
)

// PoolMetrics tracks session pool occupancy and lifecycle events.
//
// Metrics:
//   - forseti_engine_pool_sessions_in_use: sessions currently leased
//   - forseti_engine_pool_sessions_idle: sessions parked in the idle set
//   - forseti_engine_pool_sessions_created_total: sessions ever created
//   - forseti_engine_pool_sessions_disposed_total: disposals by reason
//   - forseti_engine_pool_exhausted_total: acquires failed on a full pool
type PoolMetrics struct {
	inUse          prometheus.Gauge
	idle           prometheus.Gauge
	createdTotal   prometheus.Counter
	disposedTotal  *prometheus.CounterVec
	exhaustedTotal prometheus.Counter
}

// NewPoolMetrics creates and registers session pool metrics.
func NewPoolMetrics(cfg config.MetricsConfig, registry *prometheus.Registry) *PoolMetrics {
	pm := &PoolMetrics{
		inUse: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "pool_sessions_in_use",
			Help:      "Number of sessions currently leased to callers",
		}),

		idle: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "pool_sessions_idle",
			Help:      "Number of idle sessions available for lease",
		}),

		createdTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "pool_sessions_created_total",
			Help:      "Total number of sessions created",
		}),

		disposedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "pool_sessions_disposed_total",
				Help:      "Total number of sessions disposed, by reason",
			},
			[]string{"reason"},
		),

		exhaustedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "pool_exhausted_total",
			Help:      "Total number of acquires that failed because the pool was exhausted",
		}),
	}

	registry.MustRegister(pm.inUse, pm.idle, pm.createdTotal, pm.disposedTotal, pm.exhaustedTotal)
	return pm
}

// SetInUse updates the in-use session gauge.
func (pm *PoolMetrics) SetInUse(n int) { pm.inUse.Set(float64(n)) }

// SetIdle updates the idle session gauge.
func (pm *PoolMetrics) SetIdle(n int) { pm.idle.Set(float64(n)) }

// RecordCreated counts one created session.
func (pm *PoolMetrics) RecordCreated() { pm.createdTotal.Inc() }

// RecordDisposed counts one disposed session.
// reason is "stale", "idle", "timeout", "runtime_error", or "shutdown".
func (pm *PoolMetrics) RecordDisposed(reason string) {
	pm.disposedTotal.WithLabelValues(reason).Inc()
}

// RecordExhausted counts one pool-exhausted acquire.
func (pm *PoolMetrics) RecordExhausted() { pm.exhaustedTotal.Inc() }
