package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all sage configuration.
type Config struct {
	// External tool invocation
	Execution ExecutionConfig `yaml:"execution"`

	// Per-file protocol and batch limits
	Limits LimitsConfig `yaml:"limits"`

	// Watch mode
	Watch WatchConfig `yaml:"watch"`

	// History ledger
	History HistoryConfig `yaml:"history"`

	// Logging
	Logging LoggingConfig `yaml:"logging"`
}

// WatchConfig configures the filesystem watcher.
type WatchConfig struct {
	Debounce string `yaml:"debounce"`
	Cooldown string `yaml:"cooldown"` // Ignore events for a file this long after sage wrote it
}

// HistoryConfig configures the run history database.
type HistoryConfig struct {
	Enabled      bool   `yaml:"enabled"`
	DatabasePath string `yaml:"database_path"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Execution: ExecutionConfig{
			Binary:       "claude",
			Prompt:       DefaultPrompt,
			AllowedTools: "Read,Edit",
			Timeout:      "120s",
		},

		Limits: LimitsConfig{
			MaxConcurrent:   5,
			TimeoutAttempts: 3,
			TimeoutBackoff:  "2s",
			ErrorAttempts:   2,
			ErrorBackoff:    "1s",
			MaxOutputBytes:  1 << 20,
		},

		Watch: WatchConfig{
			Debounce: "500ms",
			Cooldown: "3s",
		},

		History: HistoryConfig{
			Enabled:      true,
			DatabasePath: filepath.Join(DefaultDataDir(), "history.db"),
		},

		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Dir:    filepath.Join(DefaultDataDir(), "logs"),
		},
	}
}

// DefaultDataDir returns the directory for sage's own files.
func DefaultDataDir() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ".sage"
	}
	return filepath.Join(dir, "sage")
}

// DefaultConfigPath returns the default path to config.yaml.
func DefaultConfigPath() string {
	return filepath.Join(DefaultDataDir(), "config.yaml")
}

// Load loads configuration from a YAML file.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
		// Return defaults if config file doesn't exist
	} else if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	// Override with environment variables
	cfg.applyEnvOverrides()

	return cfg, nil
}

// Save saves configuration to a YAML file.
func (c *Config) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	return nil
}

// applyEnvOverrides applies environment variable overrides.
func (c *Config) applyEnvOverrides() {
	if bin := os.Getenv("SAGE_CLAUDE_BINARY"); bin != "" {
		c.Execution.Binary = bin
	}
	if t := os.Getenv("SAGE_TIMEOUT"); t != "" {
		// Bare integers are seconds, matching the --timeout flag.
		if secs, err := strconv.Atoi(t); err == nil {
			c.Execution.Timeout = fmt.Sprintf("%ds", secs)
		} else {
			c.Execution.Timeout = t
		}
	}
	if w := os.Getenv("SAGE_WORKERS"); w != "" {
		if n, err := strconv.Atoi(w); err == nil {
			c.Limits.MaxConcurrent = n
		}
	}
	if path := os.Getenv("SAGE_HISTORY_DB"); path != "" {
		c.History.DatabasePath = path
	}
	if v := os.Getenv("SAGE_HISTORY_DISABLED"); v != "" {
		if disabled, err := strconv.ParseBool(v); err == nil && disabled {
			c.History.Enabled = false
		}
	}
	if v := os.Getenv("SAGE_DEBUG"); v != "" {
		if debug, err := strconv.ParseBool(v); err == nil {
			c.Logging.DebugMode = debug
		}
	}
}

// GetTimeout returns the external tool timeout as a duration.
func (c *Config) GetTimeout() time.Duration {
	return parseDuration(c.Execution.Timeout, 120*time.Second)
}

// GetTimeoutBackoff returns the sleep between timeout retries.
func (c *Config) GetTimeoutBackoff() time.Duration {
	return parseDuration(c.Limits.TimeoutBackoff, 2*time.Second)
}

// GetErrorBackoff returns the sleep between unexpected-error retries.
func (c *Config) GetErrorBackoff() time.Duration {
	return parseDuration(c.Limits.ErrorBackoff, time.Second)
}

// GetWatchDebounce returns the watcher debounce window.
func (c *Config) GetWatchDebounce() time.Duration {
	return parseDuration(c.Watch.Debounce, 500*time.Millisecond)
}

// GetWatchCooldown returns how long the watcher ignores its own writes.
func (c *Config) GetWatchCooldown() time.Duration {
	return parseDuration(c.Watch.Cooldown, 3*time.Second)
}

func parseDuration(s string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil {
		return fallback
	}
	return d
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Execution.Binary == "" {
		return fmt.Errorf("execution.binary must not be empty")
	}
	if c.GetTimeout() <= 0 {
		return fmt.Errorf("execution.timeout must be positive, got %q", c.Execution.Timeout)
	}
	if err := c.ValidateLimits(); err != nil {
		return err
	}
	if c.History.Enabled && c.History.DatabasePath == "" {
		return fmt.Errorf("history.database_path is required when history is enabled")
	}
	return nil
}
