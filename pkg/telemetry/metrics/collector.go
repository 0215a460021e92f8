package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"mercator-hq/forseti/pkg/config"
)

// Collector bundles all engine metrics and owns their registration.
type Collector struct {
	config   config.MetricsConfig
	registry *prometheus.Registry

	evaluation *EvaluationMetrics
	pool       *PoolMetrics
	cache      *CacheMetrics
	reload     *ReloadMetrics
}

// NewCollector creates a collector and registers every metric with the
// provided registry. If registry is nil, a fresh one is created.
func NewCollector(cfg config.MetricsConfig, registry *prometheus.Registry) *Collector {
	if registry == nil {
		registry = prometheus.NewRegistry()
	}
	if cfg.Namespace == "" {
		cfg.Namespace = config.DefaultMetricsNamespace
	}
	if cfg.Subsystem == "" {
		cfg.Subsystem = config.DefaultMetricsSubsystem
	}

	return &Collector{
		config:     cfg,
		registry:   registry,
		evaluation: NewEvaluationMetrics(cfg, registry),
		pool:       NewPoolMetrics(cfg, registry),
		cache:      NewCacheMetrics(cfg, registry),
		reload:     NewReloadMetrics(cfg, registry),
	}
}

// Registry returns the underlying Prometheus registry.
func (c *Collector) Registry() *prometheus.Registry { return c.registry }

// Evaluation returns the evaluation metrics.
func (c *Collector) Evaluation() *EvaluationMetrics { return c.evaluation }

// Pool returns the session pool metrics.
func (c *Collector) Pool() *PoolMetrics { return c.pool }

// Cache returns the compilation cache metrics.
func (c *Collector) Cache() *CacheMetrics { return c.cache }

// Reload returns the hot-reload metrics.
func (c *Collector) Reload() *ReloadMetrics { return c.reload }
