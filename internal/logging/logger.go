// Package logging provides config-driven categorized logging for sage.
// Every subsystem asks for a named zap logger with Get(category). Until
// Initialize is called (or when neither debug mode nor verbose output is
// enabled) all loggers are no-ops, so the CLI output stays clean.
package logging

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Category represents a log category/system
type Category string

const (
	CategoryBoot    Category = "boot"    // Startup
	CategoryConfig  Category = "config"  // Configuration loading
	CategoryTagger  Category = "tagger"  // Single-file tagging protocol
	CategoryBatch   Category = "batch"   // Batch orchestration
	CategoryTactile Category = "tactile" // Process execution and file I/O
	CategoryWatch   Category = "watch"   // Filesystem watcher
	CategoryStore   Category = "store"   // History ledger
)

// Options mirrors config.LoggingConfig plus the CLI verbosity switch.
type Options struct {
	DebugMode  bool
	Verbose    bool
	Level      string
	Format     string // json, console
	Dir        string
	File       string
	Categories map[string]bool
}

var (
	mu      sync.RWMutex
	root    = zap.NewNop()
	opts    Options
	loggers = make(map[Category]*zap.Logger)
	logFile *os.File
)

// Initialize builds the root logger. Verbose mode logs human-readable debug
// output to stderr; debug mode writes structured entries to a log file.
func Initialize(o Options) error {
	level, err := parseLevel(o.Level)
	if err != nil {
		return err
	}

	var cores []zapcore.Core
	if o.Verbose {
		enc := zapcore.NewConsoleEncoder(zap.NewDevelopmentEncoderConfig())
		cores = append(cores, zapcore.NewCore(enc, zapcore.Lock(os.Stderr), zapcore.DebugLevel))
	}

	var file *os.File
	if o.DebugMode {
		path := o.File
		if path == "" {
			path = filepath.Join(o.Dir, fmt.Sprintf("%s_sage.log", time.Now().Format("2006-01-02")))
		}
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return fmt.Errorf("failed to create logs directory: %w", err)
		}
		file, err = os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return fmt.Errorf("failed to open log file: %w", err)
		}
		cores = append(cores, zapcore.NewCore(fileEncoder(o.Format), zapcore.AddSync(file), level))
	}

	mu.Lock()
	defer mu.Unlock()

	closeFileLocked()
	opts = o
	logFile = file
	loggers = make(map[Category]*zap.Logger)
	if len(cores) == 0 {
		root = zap.NewNop()
		return nil
	}
	root = zap.New(zapcore.NewTee(cores...), zap.AddCaller())
	root.Named(string(CategoryBoot)).Debug("logging initialized",
		zap.Bool("debug_mode", o.DebugMode),
		zap.Bool("verbose", o.Verbose),
		zap.String("level", level.String()))
	return nil
}

// Use replaces the root logger. Tests use it to attach an observer.
func Use(l *zap.Logger) {
	mu.Lock()
	defer mu.Unlock()
	closeFileLocked()
	root = l
	opts = Options{DebugMode: true}
	loggers = make(map[Category]*zap.Logger)
}

// Reset restores the no-op state.
func Reset() {
	Use(zap.NewNop())
	mu.Lock()
	opts = Options{}
	mu.Unlock()
}

// IsCategoryEnabled returns whether a specific category is enabled.
// Categories not present in the filter map are enabled.
func IsCategoryEnabled(category Category) bool {
	mu.RLock()
	defer mu.RUnlock()
	return categoryEnabledLocked(category)
}

func categoryEnabledLocked(category Category) bool {
	if opts.Categories == nil {
		return true
	}
	enabled, exists := opts.Categories[string(category)]
	if !exists {
		return true
	}
	return enabled
}

// Get returns (or creates) the named logger for the given category.
func Get(category Category) *zap.Logger {
	mu.RLock()
	if l, ok := loggers[category]; ok {
		mu.RUnlock()
		return l
	}
	mu.RUnlock()

	mu.Lock()
	defer mu.Unlock()
	if l, ok := loggers[category]; ok {
		return l
	}

	l := zap.NewNop()
	if categoryEnabledLocked(category) {
		l = root.Named(string(category))
	}
	loggers[category] = l
	return l
}

// Sync flushes buffered entries and closes the log file.
func Sync() {
	mu.Lock()
	defer mu.Unlock()
	_ = root.Sync()
	closeFileLocked()
}

func closeFileLocked() {
	if logFile != nil {
		_ = logFile.Close()
		logFile = nil
	}
}

func parseLevel(s string) (zapcore.Level, error) {
	if s == "" {
		return zapcore.InfoLevel, nil
	}
	if s == "warning" {
		return zapcore.WarnLevel, nil
	}
	level, err := zapcore.ParseLevel(s)
	if err != nil {
		return level, fmt.Errorf("invalid log level %q: %w", s, err)
	}
	return level, nil
}

func fileEncoder(format string) zapcore.Encoder {
	cfg := zap.NewProductionEncoderConfig()
	cfg.EncodeTime = zapcore.ISO8601TimeEncoder
	if format == "console" || format == "text" {
		return zapcore.NewConsoleEncoder(cfg)
	}
	return zapcore.NewJSONEncoder(cfg)
}

// Timer measures an operation and logs its duration on Stop.
type Timer struct {
	category Category
	op       string
	start    time.Time
}

// StartTimer begins timing an operation
func StartTimer(category Category, operation string) *Timer {
	return &Timer{
		category: category,
		op:       operation,
		start:    time.Now(),
	}
}

// Stop ends the timer and logs the duration
func (t *Timer) Stop() time.Duration {
	elapsed := time.Since(t.start)
	Get(t.category).Debug(t.op+" completed", zap.Duration("elapsed", elapsed))
	return elapsed
}

// StopWithThreshold logs a warning if the duration exceeds threshold.
func (t *Timer) StopWithThreshold(threshold time.Duration) time.Duration {
	elapsed := time.Since(t.start)
	if elapsed > threshold {
		Get(t.category).Warn(t.op+" was slow",
			zap.Duration("elapsed", elapsed),
			zap.Duration("threshold", threshold))
	} else {
		Get(t.category).Debug(t.op+" completed", zap.Duration("elapsed", elapsed))
	}
	return elapsed
}
