package config

import "time"

// Default values for configuration fields.
const (
	// Rules defaults
	DefaultRulesPath   = "./rules"
	DefaultMaxFileSize = int64(1048576) // 1MB

	// Reload defaults
	DefaultReloadEnabled    = true
	DefaultReloadInterval   = 30 * time.Second
	DefaultReloadWatch      = false
	DefaultDebounceInterval = 100 * time.Millisecond

	// Pool defaults
	DefaultPoolMinIdle        = 1
	DefaultPoolMaxSize        = 16
	DefaultPoolAcquireTimeout = 5 * time.Second
	DefaultPoolIdleTimeout    = 5 * time.Minute
	DefaultPoolSweepSchedule  = "@every 1m"

	// Evaluation defaults
	DefaultEvaluationTimeout = 10 * time.Second
	DefaultAbortGrace        = 250 * time.Millisecond

	// Cache defaults
	DefaultCacheCapacity = 8

	// Telemetry defaults
	DefaultLogLevel             = "info"
	DefaultLogFormat            = "json"
	DefaultMetricsEnabled       = true
	DefaultMetricsListenAddress = "127.0.0.1:9464"
	DefaultMetricsNamespace     = "forseti"
	DefaultMetricsSubsystem     = "engine"
)

// DefaultRulesExtensions is the default list of recognized rule source
// extensions.
var DefaultRulesExtensions = []string{".yaml", ".yml"}

// ApplyDefaults fills in default values for any unset configuration
// fields. It is called by LoadConfig before validation; callers building a
// Config in code should start from DefaultConfig, which additionally seeds
// the boolean fields that default to true — a plain false here is
// indistinguishable from unset.
func ApplyDefaults(cfg *Config) {
	if cfg.Rules.Path == "" {
		cfg.Rules.Path = DefaultRulesPath
	}
	if len(cfg.Rules.Extensions) == 0 {
		cfg.Rules.Extensions = append([]string(nil), DefaultRulesExtensions...)
	}
	if cfg.Rules.MaxFileSize == 0 {
		cfg.Rules.MaxFileSize = DefaultMaxFileSize
	}

	if cfg.Reload.Interval == 0 {
		cfg.Reload.Interval = DefaultReloadInterval
	}
	if cfg.Reload.DebounceInterval == 0 {
		cfg.Reload.DebounceInterval = DefaultDebounceInterval
	}

	if cfg.Pool.MinIdle == 0 {
		cfg.Pool.MinIdle = DefaultPoolMinIdle
	}
	if cfg.Pool.MaxSize == 0 {
		cfg.Pool.MaxSize = DefaultPoolMaxSize
	}
	if cfg.Pool.AcquireTimeout == 0 {
		cfg.Pool.AcquireTimeout = DefaultPoolAcquireTimeout
	}
	if cfg.Pool.IdleTimeout == 0 {
		cfg.Pool.IdleTimeout = DefaultPoolIdleTimeout
	}
	if cfg.Pool.SweepSchedule == "" {
		cfg.Pool.SweepSchedule = DefaultPoolSweepSchedule
	}

	if cfg.Evaluation.Timeout == 0 {
		cfg.Evaluation.Timeout = DefaultEvaluationTimeout
	}
	if cfg.Evaluation.AbortGrace == 0 {
		cfg.Evaluation.AbortGrace = DefaultAbortGrace
	}

	if cfg.Cache.Capacity == 0 {
		cfg.Cache.Capacity = DefaultCacheCapacity
	}

	if cfg.Telemetry.Logging.Level == "" {
		cfg.Telemetry.Logging.Level = DefaultLogLevel
	}
	if cfg.Telemetry.Logging.Format == "" {
		cfg.Telemetry.Logging.Format = DefaultLogFormat
	}
	if cfg.Telemetry.Metrics.ListenAddress == "" {
		cfg.Telemetry.Metrics.ListenAddress = DefaultMetricsListenAddress
	}
	if cfg.Telemetry.Metrics.Namespace == "" {
		cfg.Telemetry.Metrics.Namespace = DefaultMetricsNamespace
	}
	if cfg.Telemetry.Metrics.Subsystem == "" {
		cfg.Telemetry.Metrics.Subsystem = DefaultMetricsSubsystem
	}
}

// DefaultConfig returns a fully-defaulted configuration. Reload and
// metrics are enabled, matching the documented defaults.
func DefaultConfig() *Config {
	cfg := &Config{}
	cfg.Reload.Enabled = DefaultReloadEnabled
	cfg.Telemetry.Metrics.Enabled = DefaultMetricsEnabled
	ApplyDefaults(cfg)
	return cfg
}
