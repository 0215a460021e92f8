package config

import "time"

// Config is the root configuration for the Forseti rule engine.
type Config struct {
	// Rules contains configuration for the rule source repository.
	Rules RulesConfig `yaml:"rules"`

	// Reload contains configuration for change detection and hot reload.
	Reload ReloadConfig `yaml:"reload"`

	// Pool contains configuration for the evaluation session pool.
	Pool PoolConfig `yaml:"pool"`

	// Evaluation contains configuration for individual evaluations.
	Evaluation EvaluationConfig `yaml:"evaluation"`

	// Cache contains configuration for the compilation cache.
	Cache CacheConfig `yaml:"cache"`

	// Telemetry contains configuration for logging and metrics.
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

// RulesConfig describes where rule sources come from.
type RulesConfig struct {
	// Path is the rule source file or directory.
	// Default: "./rules"
	Path string `yaml:"path"`

	// Extensions is the list of recognized rule source extensions.
	// Default: [".yaml", ".yml"]
	Extensions []string `yaml:"extensions"`

	// MaxFileSize is the maximum size in bytes of a single rule source.
	// Default: 1048576 (1MB)
	MaxFileSize int64 `yaml:"max_file_size"`
}

// ReloadConfig controls change detection and hot reload.
type ReloadConfig struct {
	// Enabled turns periodic change detection on or off. When disabled,
	// rules are compiled once at startup and only forced reloads apply
	// changes.
	// Default: true
	Enabled bool `yaml:"enabled"`

	// Interval is how often rule sources are scanned for changes.
	// Default: 30s
	Interval time.Duration `yaml:"interval"`

	// Watch additionally subscribes to filesystem notifications so an
	// edit triggers a scan without waiting for the next interval. Scans
	// remain the source of truth; notifications only shorten the wait.
	// Default: false
	Watch bool `yaml:"watch"`

	// DebounceInterval is the quiet period after a filesystem event
	// before a scan is triggered, collapsing editor save storms.
	// Default: 100ms
	DebounceInterval time.Duration `yaml:"debounce_interval"`
}

// PoolConfig controls the evaluation session pool.
type PoolConfig struct {
	// MinIdle is the number of idle sessions the sweeper leaves in place
	// regardless of idle age.
	// Default: 1
	MinIdle int `yaml:"min_idle"`

	// MaxSize is the maximum number of sessions that may exist at once.
	// Acquire calls beyond this bound block until a session is released.
	// Default: 16
	MaxSize int `yaml:"max_size"`

	// AcquireTimeout is how long an acquire waits for a free session
	// before failing as pool-exhausted.
	// Default: 5s
	AcquireTimeout time.Duration `yaml:"acquire_timeout"`

	// IdleTimeout is how long an idle session may go unused before the
	// sweeper disposes it.
	// Default: 5m
	IdleTimeout time.Duration `yaml:"idle_timeout"`

	// SweepSchedule is the cron schedule for the idle sweep.
	// Default: "@every 1m"
	SweepSchedule string `yaml:"sweep_schedule"`
}

// EvaluationConfig controls individual evaluation calls.
type EvaluationConfig struct {
	// Timeout is the per-evaluation budget covering fact insertion and
	// rule firing.
	// Default: 10s
	Timeout time.Duration `yaml:"timeout"`

	// AbortGrace is how long a timed-out evaluation is given to honor
	// the cooperative abort before its session is forcibly disposed.
	// Default: 250ms
	AbortGrace time.Duration `yaml:"abort_grace"`
}

// CacheConfig controls the compilation cache.
type CacheConfig struct {
	// Capacity is the maximum number of compiled rule-base artifacts
	// retained. Least-recently-used entries are evicted beyond this.
	// Default: 8
	Capacity int `yaml:"capacity"`
}

// TelemetryConfig groups observability configuration.
type TelemetryConfig struct {
	// Logging configures the structured logger.
	Logging LoggingConfig `yaml:"logging"`

	// Metrics configures Prometheus metrics.
	Metrics MetricsConfig `yaml:"metrics"`
}

// LoggingConfig configures the structured logger.
type LoggingConfig struct {
	// Level is the minimum log level: "debug", "info", "warn", "error".
	// Default: "info"
	Level string `yaml:"level"`

	// Format is the output format: "json" or "text".
	// Default: "json"
	Format string `yaml:"format"`
}

// MetricsConfig configures Prometheus metrics.
type MetricsConfig struct {
	// Enabled controls whether metrics are registered and served.
	// Default: true
	Enabled bool `yaml:"enabled"`

	// ListenAddress is the address for the metrics HTTP endpoint.
	// Default: "127.0.0.1:9464"
	ListenAddress string `yaml:"listen_address"`

	// Namespace is the metric name prefix.
	// Default: "forseti"
	Namespace string `yaml:"namespace"`

	// Subsystem is the second metric name segment.
	// Default: "engine"
	Subsystem string `yaml:"subsystem"`
}
