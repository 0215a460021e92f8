package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// LoadConfig loads configuration from a YAML file, applies defaults, and
// validates the result.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read configuration file %q: %w", path, err)
	}

	// Parse over a fully-defaulted config so boolean fields whose default
	// is true (reload.enabled, telemetry.metrics.enabled) keep that
	// default when the key is omitted, while an explicit false in the
	// file still wins.
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse configuration file %q: %w", path, err)
	}

	ApplyDefaults(cfg)

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// LoadConfigWithEnvOverrides loads configuration from a YAML file and then
// applies environment variable overrides. Variables follow the convention
// FORSETI_SECTION_FIELD (e.g., FORSETI_RULES_PATH) and always take
// precedence over file values.
func LoadConfigWithEnvOverrides(path string) (*Config, error) {
	cfg, err := LoadConfig(path)
	if err != nil {
		return nil, err
	}

	applyEnvOverrides(cfg)

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed after environment overrides: %w", err)
	}

	return cfg, nil
}

// applyEnvOverrides applies FORSETI_* environment variable overrides.
func applyEnvOverrides(cfg *Config) {
	if val := os.Getenv("FORSETI_RULES_PATH"); val != "" {
		cfg.Rules.Path = val
	}

	if val := os.Getenv("FORSETI_RELOAD_ENABLED"); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			cfg.Reload.Enabled = b
		}
	}
	if val := os.Getenv("FORSETI_RELOAD_INTERVAL"); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			cfg.Reload.Interval = d
		}
	}
	if val := os.Getenv("FORSETI_RELOAD_WATCH"); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			cfg.Reload.Watch = b
		}
	}

	if val := os.Getenv("FORSETI_POOL_MAX_SIZE"); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			cfg.Pool.MaxSize = i
		}
	}
	if val := os.Getenv("FORSETI_POOL_ACQUIRE_TIMEOUT"); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			cfg.Pool.AcquireTimeout = d
		}
	}
	if val := os.Getenv("FORSETI_POOL_IDLE_TIMEOUT"); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			cfg.Pool.IdleTimeout = d
		}
	}

	if val := os.Getenv("FORSETI_EVALUATION_TIMEOUT"); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			cfg.Evaluation.Timeout = d
		}
	}

	if val := os.Getenv("FORSETI_CACHE_CAPACITY"); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			cfg.Cache.Capacity = i
		}
	}

	if val := os.Getenv("FORSETI_LOG_LEVEL"); val != "" {
		cfg.Telemetry.Logging.Level = val
	}
	if val := os.Getenv("FORSETI_LOG_FORMAT"); val != "" {
		cfg.Telemetry.Logging.Format = val
	}
	if val := os.Getenv("FORSETI_METRICS_LISTEN_ADDRESS"); val != "" {
		cfg.Telemetry.Metrics.ListenAddress = val
	}
}
