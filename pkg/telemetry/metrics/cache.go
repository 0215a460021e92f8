package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"mercator-hq/forseti/pkg/config"
)

// CacheMetrics tracks compilation cache effectiveness.
//
// Metrics:
//   - forseti_engine_cache_hits_total: compilation cache hits
//   - forseti_engine_cache_misses_total: compilation cache misses
//   - forseti_engine_cache_evictions_total: entries evicted by capacity
//   - forseti_engine_cache_entries: current number of cached artifacts
type CacheMetrics struct {
	hitsTotal      prometheus.Counter
	missesTotal    prometheus.Counter
	evictionsTotal prometheus.Counter
	entries        prometheus.Gauge
}

// NewCacheMetrics creates and registers compilation cache metrics.
func NewCacheMetrics(cfg config.MetricsConfig, registry *prometheus.Registry) *CacheMetrics {
	cm := &CacheMetrics{
		hitsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "cache_hits_total",
			Help:      "Total number of compilation cache hits",
		}),

		missesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "cache_misses_total",
			Help:      "Total number of compilation cache misses",
		}),

		evictionsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "cache_evictions_total",
			Help:      "Total number of compilation cache evictions",
		}),

		entries: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "cache_entries",
			Help:      "Current number of cached compiled rule bases",
		}),
	}

	registry.MustRegister(cm.hitsTotal, cm.missesTotal, cm.evictionsTotal, cm.entries)
	return cm
}

// RecordHit counts one cache hit.
func (cm *CacheMetrics) RecordHit() { cm.hitsTotal.Inc() }

// RecordMiss counts one cache miss.
func (cm *CacheMetrics) RecordMiss() { cm.missesTotal.Inc() }

// RecordEviction counts one evicted entry.
func (cm *CacheMetrics) RecordEviction() { cm.evictionsTotal.Inc() }

// SetEntries updates the cached-entries gauge.
func (cm *CacheMetrics) SetEntries(n int) { cm.entries.Set(float64(n)) }
