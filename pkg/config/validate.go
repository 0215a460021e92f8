package config

import (
	"fmt"
	"strings"

	"github.com/robfig/cron/v3"
)

// FieldError represents a validation error for a specific configuration
// field.
type FieldError struct {
	// Field is the dotted path to the configuration field
	// (e.g., "pool.max_size").
	Field string

	// Message is a human-readable error message.
	Message string
}

// Error returns the error message for this field error.
func (e FieldError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationError collects all field errors found in a configuration.
type ValidationError struct {
	// Errors contains all validation errors found in the configuration.
	Errors []FieldError
}

// Error returns a formatted string containing all validation errors.
func (e ValidationError) Error() string {
	if len(e.Errors) == 0 {
		return "configuration validation failed"
	}
	if len(e.Errors) == 1 {
		return fmt.Sprintf("configuration validation failed: %s", e.Errors[0].Error())
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "configuration validation failed with %d errors:\n", len(e.Errors))
	for _, err := range e.Errors {
		fmt.Fprintf(&sb, "  - %s\n", err.Error())
	}
	return sb.String()
}

// Validate validates the entire configuration, collecting all field errors
// before returning. It returns nil when the configuration is valid.
func Validate(cfg *Config) error {
	var errs []FieldError

	errs = append(errs, validateRules(&cfg.Rules)...)
	errs = append(errs, validateReload(&cfg.Reload)...)
	errs = append(errs, validatePool(&cfg.Pool)...)
	errs = append(errs, validateEvaluation(&cfg.Evaluation)...)
	errs = append(errs, validateCache(&cfg.Cache)...)
	errs = append(errs, validateTelemetry(&cfg.Telemetry)...)

	if len(errs) > 0 {
		return ValidationError{Errors: errs}
	}
	return nil
}

func validateRules(cfg *RulesConfig) []FieldError {
	var errs []FieldError
	if cfg.Path == "" {
		errs = append(errs, FieldError{Field: "rules.path", Message: "cannot be empty"})
	}
	if cfg.MaxFileSize < 0 {
		errs = append(errs, FieldError{Field: "rules.max_file_size", Message: "cannot be negative"})
	}
	for _, ext := range cfg.Extensions {
		if !strings.HasPrefix(ext, ".") {
			errs = append(errs, FieldError{
				Field:   "rules.extensions",
				Message: fmt.Sprintf("extension %q must start with a dot", ext),
			})
		}
	}
	return errs
}

func validateReload(cfg *ReloadConfig) []FieldError {
	var errs []FieldError
	if cfg.Enabled && cfg.Interval <= 0 {
		errs = append(errs, FieldError{Field: "reload.interval", Message: "must be positive when reload is enabled"})
	}
	if cfg.DebounceInterval < 0 {
		errs = append(errs, FieldError{Field: "reload.debounce_interval", Message: "cannot be negative"})
	}
	return errs
}

func validatePool(cfg *PoolConfig) []FieldError {
	var errs []FieldError
	if cfg.MaxSize < 1 {
		errs = append(errs, FieldError{Field: "pool.max_size", Message: "must be at least 1"})
	}
	if cfg.MinIdle < 0 {
		errs = append(errs, FieldError{Field: "pool.min_idle", Message: "cannot be negative"})
	}
	if cfg.MinIdle > cfg.MaxSize {
		errs = append(errs, FieldError{Field: "pool.min_idle", Message: "cannot exceed pool.max_size"})
	}
	if cfg.AcquireTimeout <= 0 {
		errs = append(errs, FieldError{Field: "pool.acquire_timeout", Message: "must be positive"})
	}
	if cfg.IdleTimeout <= 0 {
		errs = append(errs, FieldError{Field: "pool.idle_timeout", Message: "must be positive"})
	}
	if cfg.SweepSchedule != "" {
		if _, err := cron.ParseStandard(cfg.SweepSchedule); err != nil {
			errs = append(errs, FieldError{
				Field:   "pool.sweep_schedule",
				Message: fmt.Sprintf("invalid cron schedule: %v", err),
			})
		}
	}
	return errs
}

func validateEvaluation(cfg *EvaluationConfig) []FieldError {
	var errs []FieldError
	if cfg.Timeout <= 0 {
		errs = append(errs, FieldError{Field: "evaluation.timeout", Message: "must be positive"})
	}
	if cfg.AbortGrace < 0 {
		errs = append(errs, FieldError{Field: "evaluation.abort_grace", Message: "cannot be negative"})
	}
	return errs
}

func validateCache(cfg *CacheConfig) []FieldError {
	var errs []FieldError
	if cfg.Capacity < 1 {
		errs = append(errs, FieldError{Field: "cache.capacity", Message: "must be at least 1"})
	}
	return errs
}

func validateTelemetry(cfg *TelemetryConfig) []FieldError {
	var errs []FieldError

	switch cfg.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, FieldError{
			Field:   "telemetry.logging.level",
			Message: fmt.Sprintf("unknown level %q, want debug, info, warn, or error", cfg.Logging.Level),
		})
	}

	switch cfg.Logging.Format {
	case "json", "text":
	default:
		errs = append(errs, FieldError{
			Field:   "telemetry.logging.format",
			Message: fmt.Sprintf("unknown format %q, want json or text", cfg.Logging.Format),
		})
	}

	if cfg.Metrics.Enabled && cfg.Metrics.ListenAddress == "" {
		errs = append(errs, FieldError{Field: "telemetry.metrics.listen_address", Message: "cannot be empty when metrics are enabled"})
	}

	return errs
}
