package config

import "fmt"

// LimitsConfig bounds concurrency and retries.
type LimitsConfig struct {
	MaxConcurrent   int    `yaml:"max_concurrent"`   // Files processed at once
	TimeoutAttempts int    `yaml:"timeout_attempts"` // Total attempts when the tool times out
	TimeoutBackoff  string `yaml:"timeout_backoff"`
	ErrorAttempts   int    `yaml:"error_attempts"` // Total attempts on unexpected errors
	ErrorBackoff    string `yaml:"error_backoff"`
	MaxOutputBytes  int64  `yaml:"max_output_bytes"` // Captured stdout/stderr cap per stream
}

// ValidateLimits checks that limits are within acceptable ranges.
func (c *Config) ValidateLimits() error {
	if c.Limits.MaxConcurrent < 1 {
		return fmt.Errorf("limits.max_concurrent must be >= 1")
	}
	if c.Limits.TimeoutAttempts < 1 {
		return fmt.Errorf("limits.timeout_attempts must be >= 1")
	}
	if c.Limits.ErrorAttempts < 1 {
		return fmt.Errorf("limits.error_attempts must be >= 1")
	}
	if c.Limits.MaxOutputBytes < 0 {
		return fmt.Errorf("limits.max_output_bytes must not be negative")
	}
	return nil
}
