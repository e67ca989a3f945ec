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

// AuditEventType names one kind of audit record.
type AuditEventType string

const (
	// Document file operations
	AuditFileRead    AuditEventType = "file_read"
	AuditFileWrite   AuditEventType = "file_write"
	AuditFileRestore AuditEventType = "file_restore"
	AuditFileError   AuditEventType = "file_error"

	// External tool calls
	AuditInvokeComplete AuditEventType = "invoke_complete"
	AuditInvokeError    AuditEventType = "invoke_error"

	// Per-file protocol results
	AuditOutcome AuditEventType = "outcome"
)

var (
	auditMu   sync.RWMutex
	auditLog  = zap.NewNop()
	auditFile *os.File
)

// AuditLogger writes one JSON line per event to the audit trail. Every
// method is a no-op until InitAudit succeeds.
type AuditLogger struct {
	runID string
}

// InitAudit opens (appending) the audit trail at path.
func InitAudit(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create audit directory: %w", err)
	}
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("failed to create audit log: %w", err)
	}

	cfg := zap.NewProductionEncoderConfig()
	cfg.EncodeTime = zapcore.ISO8601TimeEncoder
	cfg.MessageKey = "event"
	cfg.LevelKey = zapcore.OmitKey
	cfg.CallerKey = zapcore.OmitKey
	core := zapcore.NewCore(zapcore.NewJSONEncoder(cfg), zapcore.AddSync(file), zapcore.InfoLevel)

	auditMu.Lock()
	defer auditMu.Unlock()
	closeAuditLocked()
	auditFile = file
	auditLog = zap.New(core)
	return nil
}

// CloseAudit flushes and closes the audit trail.
func CloseAudit() {
	auditMu.Lock()
	defer auditMu.Unlock()
	closeAuditLocked()
}

func closeAuditLocked() {
	_ = auditLog.Sync()
	auditLog = zap.NewNop()
	if auditFile != nil {
		_ = auditFile.Close()
		auditFile = nil
	}
}

// Audit returns the global audit logger.
func Audit() *AuditLogger {
	return &AuditLogger{}
}

// AuditWithRun returns an audit logger that stamps every event with runID.
func AuditWithRun(runID string) *AuditLogger {
	return &AuditLogger{runID: runID}
}

func (a *AuditLogger) log(event AuditEventType, fields ...zap.Field) {
	auditMu.RLock()
	l := auditLog
	auditMu.RUnlock()

	if a.runID != "" {
		fields = append(fields, zap.String("run_id", a.runID))
	}
	l.Info(string(event), fields...)
}

// FileOp records a document read, write or restore.
func (a *AuditLogger) FileOp(event AuditEventType, path string, success bool, errMsg, oldHash, newHash string) {
	fields := []zap.Field{zap.String("path", path), zap.Bool("success", success)}
	if errMsg != "" {
		fields = append(fields, zap.String("error", errMsg))
	}
	if oldHash != "" {
		fields = append(fields, zap.String("old_hash", oldHash))
	}
	if newHash != "" {
		fields = append(fields, zap.String("new_hash", newHash))
	}
	a.log(event, fields...)
}

// Invocation records one call of the external tool.
func (a *AuditLogger) Invocation(path string, attempt int, duration time.Duration, exitCode int, err error) {
	if err != nil {
		a.log(AuditInvokeError,
			zap.String("path", path),
			zap.Int("attempt", attempt),
			zap.Int64("duration_ms", duration.Milliseconds()),
			zap.String("error", err.Error()))
		return
	}
	a.log(AuditInvokeComplete,
		zap.String("path", path),
		zap.Int("attempt", attempt),
		zap.Int64("duration_ms", duration.Milliseconds()),
		zap.Int("exit_code", exitCode))
}

// Outcome records the final result of the protocol for one file.
func (a *AuditLogger) Outcome(path string, success bool, tags []string, errMsg string, attempts int) {
	fields := []zap.Field{
		zap.String("path", path),
		zap.Bool("success", success),
		zap.Strings("tags", tags),
		zap.Int("attempts", attempts),
	}
	if errMsg != "" {
		fields = append(fields, zap.String("error", errMsg))
	}
	a.log(AuditOutcome, fields...)
}
