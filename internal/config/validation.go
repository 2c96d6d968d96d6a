package config

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/robfig/cron/v3"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("config: %s: %s", e.Field, e.Message)
}

// ValidationErrors is a collection of validation errors.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	var msgs []string
	for _, err := range e {
		msgs = append(msgs, err.Error())
	}
	return strings.Join(msgs, "; ")
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs ValidationErrors

	if c.Storage.Path == "" {
		errs = append(errs, ValidationError{"storage.path", "must not be empty"})
	}
	if c.Storage.BusyTimeoutMs < 0 {
		errs = append(errs, ValidationError{"storage.busy_timeout_ms", "must not be negative"})
	}

	errs = append(errs, validateSync(&c.Sync, &c.Remote)...)
	errs = append(errs, validateTracker(&c.Tracker)...)
	errs = append(errs, validateLogging(&c.Logging)...)

	if len(errs) > 0 {
		return errs
	}
	return nil
}

func validateSync(s *SyncConfig, r *RemoteConfig) ValidationErrors {
	var errs ValidationErrors

	if s.IntervalSec <= 0 {
		errs = append(errs, ValidationError{"sync.interval_sec", "must be positive"})
	}
	if s.BatchSize <= 0 {
		errs = append(errs, ValidationError{"sync.batch_size", "must be positive"})
	}
	if s.MaxAttempts < 0 {
		errs = append(errs, ValidationError{"sync.max_attempts", "must not be negative"})
	}
	if s.RetryBaseDelayMs <= 0 {
		errs = append(errs, ValidationError{"sync.retry_base_delay_ms", "must be positive"})
	}
	if s.RetryMaxDelayMs < s.RetryBaseDelayMs {
		errs = append(errs, ValidationError{"sync.retry_max_delay_ms", "must be at least the base delay"})
	}
	if s.RetryMultiplier < 1 {
		errs = append(errs, ValidationError{"sync.retry_multiplier", "must be at least 1"})
	}

	if s.Enabled && r.BaseURL != "" {
		u, err := url.Parse(r.BaseURL)
		if err != nil || u.Scheme == "" || u.Host == "" {
			errs = append(errs, ValidationError{"remote.base_url", "must be an absolute URL"})
		}
	}
	if r.TimeoutSec <= 0 {
		errs = append(errs, ValidationError{"remote.timeout_sec", "must be positive"})
	}

	return errs
}

func validateTracker(t *TrackerConfig) ValidationErrors {
	var errs ValidationErrors

	// Empty disables the digest; anything else must parse as a cron spec.
	if t.DigestSchedule != "" {
		if _, err := cron.ParseStandard(t.DigestSchedule); err != nil {
			errs = append(errs, ValidationError{"tracker.digest_schedule",
				fmt.Sprintf("invalid cron spec: %v", err)})
		}
	}

	return errs
}

func validateLogging(l *LoggingConfig) ValidationErrors {
	var errs ValidationErrors

	switch l.Level {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, ValidationError{"logging.level", fmt.Sprintf("unknown level %q", l.Level)})
	}

	switch l.Format {
	case "text", "json":
	default:
		errs = append(errs, ValidationError{"logging.format", fmt.Sprintf("unknown format %q", l.Format)})
	}

	switch l.Output {
	case "stdout", "stderr", "file", "both":
		if (l.Output == "file" || l.Output == "both") && l.FilePath == "" {
			errs = append(errs, ValidationError{"logging.file_path", "required for file output"})
		}
	default:
		errs = append(errs, ValidationError{"logging.output", fmt.Sprintf("unknown output %q", l.Output)})
	}

	return errs
}
