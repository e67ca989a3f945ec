package config

import "path/filepath"

// LoggingConfig configures logging.
type LoggingConfig struct {
	DebugMode  bool            `yaml:"debug_mode"`           // Master toggle - false = no log file
	Level      string          `yaml:"level"`                // debug, info, warn, error
	Format     string          `yaml:"format"`               // json, console
	Dir        string          `yaml:"dir"`                  // Directory for dated log files
	File       string          `yaml:"file,omitempty"`       // Explicit log file, overrides Dir
	Categories map[string]bool `yaml:"categories,omitempty"` // Per-category toggles
	Audit      bool            `yaml:"audit"`                // JSON-lines trail of file writes and tool calls
	AuditFile  string          `yaml:"audit_file,omitempty"` // Defaults to <dir>/audit.jsonl
}

// AuditPath returns where the audit trail is written.
func (c *LoggingConfig) AuditPath() string {
	if c.AuditFile != "" {
		return c.AuditFile
	}
	return filepath.Join(c.Dir, "audit.jsonl")
}

// IsCategoryEnabled returns whether logging is enabled for a category.
// Returns false if debug_mode is false (production mode).
// Returns true if debug_mode is true and category is enabled (or not specified).
func (c *LoggingConfig) IsCategoryEnabled(category string) bool {
	if !c.DebugMode {
		return false
	}
	if c.Categories == nil {
		return true // All enabled by default in debug mode
	}
	enabled, exists := c.Categories[category]
	if !exists {
		return true // Enable by default if not specified
	}
	return enabled
}
