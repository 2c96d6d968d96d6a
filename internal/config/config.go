// Package config handles configuration loading, validation, and hot
// reloading for lifetrackd.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// Config holds the complete daemon configuration.
type Config struct {
	// Storage configuration for the local store.
	Storage StorageConfig `toml:"storage" json:"storage" yaml:"storage"`

	// Sync configuration for the background sync engine.
	Sync SyncConfig `toml:"sync" json:"sync" yaml:"sync"`

	// Remote configuration for the usage backend.
	Remote RemoteConfig `toml:"remote" json:"remote" yaml:"remote"`

	// Identity configuration for the authenticated principal.
	Identity IdentityConfig `toml:"identity" json:"identity" yaml:"identity"`

	// Tracker configuration for activity recording.
	Tracker TrackerConfig `toml:"tracker" json:"tracker" yaml:"tracker"`

	// Logging configuration.
	Logging LoggingConfig `toml:"logging" json:"logging" yaml:"logging"`
}

// StorageConfig holds local store settings.
type StorageConfig struct {
	// Path is the path to the SQLite database file.
	Path string `toml:"path" json:"path" yaml:"path"`

	// BusyTimeoutMs is the SQLite busy timeout in milliseconds.
	BusyTimeoutMs int `toml:"busy_timeout_ms" json:"busy_timeout_ms" yaml:"busy_timeout_ms"`
}

// SyncConfig holds sync engine settings.
type SyncConfig struct {
	// Enabled turns background sync off entirely; tracking stays local.
	Enabled bool `toml:"enabled" json:"enabled" yaml:"enabled"`

	// IntervalSec is the seconds between sync cycles.
	IntervalSec int `toml:"interval_sec" json:"interval_sec" yaml:"interval_sec"`

	// BatchSize is the maximum events submitted per cycle.
	BatchSize int `toml:"batch_size" json:"batch_size" yaml:"batch_size"`

	// MaxAttempts dead-letters an event after this many failed
	// submissions; 0 retries forever.
	MaxAttempts int `toml:"max_attempts" json:"max_attempts" yaml:"max_attempts"`

	// RetryBaseDelayMs is the backoff after the first failure.
	RetryBaseDelayMs int `toml:"retry_base_delay_ms" json:"retry_base_delay_ms" yaml:"retry_base_delay_ms"`

	// RetryMaxDelayMs caps the backoff.
	RetryMaxDelayMs int `toml:"retry_max_delay_ms" json:"retry_max_delay_ms" yaml:"retry_max_delay_ms"`

	// RetryMultiplier scales the delay per further failure.
	RetryMultiplier float64 `toml:"retry_multiplier" json:"retry_multiplier" yaml:"retry_multiplier"`
}

// RemoteConfig holds backend endpoint settings.
type RemoteConfig struct {
	// BaseURL is the backend root, e.g. "https://api.example.com".
	BaseURL string `toml:"base_url" json:"base_url" yaml:"base_url"`

	// TimeoutSec is the per-request timeout.
	TimeoutSec int `toml:"timeout_sec" json:"timeout_sec" yaml:"timeout_sec"`
}

// IdentityConfig holds principal resolution settings.
type IdentityConfig struct {
	// TokenPath is the path to the identity token file. A missing file
	// means local-only mode.
	TokenPath string `toml:"token_path" json:"token_path" yaml:"token_path"`
}

// TrackerConfig holds activity recording settings.
type TrackerConfig struct {
	// DigestSchedule is a cron expression for the daily insight digest.
	// Empty disables the digest.
	DigestSchedule string `toml:"digest_schedule" json:"digest_schedule" yaml:"digest_schedule"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	// Level is the log level: "debug", "info", "warn", "error".
	Level string `toml:"level" json:"level" yaml:"level"`

	// Format is the log format: "text" or "json".
	Format string `toml:"format" json:"format" yaml:"format"`

	// Output is the log output: "stdout", "stderr", "file", or "both".
	Output string `toml:"output" json:"output" yaml:"output"`

	// FilePath is the path to the log file (when Output uses a file).
	FilePath string `toml:"file_path" json:"file_path" yaml:"file_path"`
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() *Config {
	dir := DataDir()

	return &Config{
		Storage: StorageConfig{
			Path:          filepath.Join(dir, "lifetrack.db"),
			BusyTimeoutMs: 5000,
		},
		Sync: SyncConfig{
			Enabled:          true,
			IntervalSec:      10,
			BatchSize:        10,
			MaxAttempts:      8,
			RetryBaseDelayMs: 10000,
			RetryMaxDelayMs:  600000,
			RetryMultiplier:  2,
		},
		Remote: RemoteConfig{
			BaseURL:    "",
			TimeoutSec: 30,
		},
		Identity: IdentityConfig{
			TokenPath: filepath.Join(dir, "token"),
		},
		Tracker: TrackerConfig{
			DigestSchedule: "0 9 * * *",
		},
		Logging: LoggingConfig{
			Level:    "info",
			Format:   "text",
			Output:   "file",
			FilePath: filepath.Join(dir, "lifetrackd.log"),
		},
	}
}

// ConfigPath returns the default configuration file path.
func ConfigPath() string {
	return filepath.Join(DataDir(), "config.toml")
}

// Load reads configuration from the specified path. A missing file returns
// defaults. The format follows the extension: TOML, JSON, or YAML, with
// TOML as the fallback.
func Load(path string) (*Config, error) {
	if path == "" {
		path = ConfigPath()
	}

	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.ApplyEnvOverrides()
			return cfg, nil
		}
		return nil, fmt.Errorf("read config file: %w", err)
	}

	switch filepath.Ext(path) {
	case ".json":
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("decode JSON: %w", err)
		}
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("decode YAML: %w", err)
		}
	default:
		if _, err := toml.Decode(string(data), cfg); err != nil {
			return nil, fmt.Errorf("decode TOML: %w", err)
		}
	}

	cfg.ApplyEnvOverrides()
	return cfg, nil
}

// Save writes the configuration to path as TOML.
func Save(cfg *Config, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return fmt.Errorf("create config file: %w", err)
	}
	defer f.Close()

	if err := toml.NewEncoder(f).Encode(cfg); err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	return nil
}

// ApplyEnvOverrides applies environment variable overrides. Variables are
// prefixed with LIFETRACKD_.
func (c *Config) ApplyEnvOverrides() {
	if v := os.Getenv("LIFETRACKD_STORAGE_PATH"); v != "" {
		c.Storage.Path = v
	}
	if v := os.Getenv("LIFETRACKD_REMOTE_URL"); v != "" {
		c.Remote.BaseURL = v
	}
	if v := os.Getenv("LIFETRACKD_TOKEN_PATH"); v != "" {
		c.Identity.TokenPath = v
	}
	if v := os.Getenv("LIFETRACKD_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("LIFETRACKD_LOG_PATH"); v != "" {
		c.Logging.FilePath = v
	}
}

// EnsureDirectories creates the directories the daemon writes to.
func (c *Config) EnsureDirectories() error {
	dirs := []string{
		filepath.Dir(c.Storage.Path),
		filepath.Dir(c.Logging.FilePath),
	}
	for _, dir := range dirs {
		if dir == "" || dir == "." {
			continue
		}
		if err := os.MkdirAll(dir, 0700); err != nil {
			return fmt.Errorf("create directory %s: %w", dir, err)
		}
	}
	return nil
}
