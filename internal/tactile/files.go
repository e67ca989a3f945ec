package tactile

import (
	"crypto/sha256"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"sage/internal/logging"

	"go.uber.org/zap"
)

// FileOpType defines the types of file operations.
type FileOpType string

const (
	FileOpRead    FileOpType = "read"
	FileOpWrite   FileOpType = "write"
	FileOpRestore FileOpType = "restore"
)

// FileAuditEvent records one file operation.
type FileAuditEvent struct {
	Type      FileOpType `json:"type"`
	Timestamp time.Time  `json:"timestamp"`
	Path      string     `json:"path"`
	Success   bool       `json:"success"`
	Error     string     `json:"error,omitempty"`
	OldHash   string     `json:"old_hash,omitempty"`
	NewHash   string     `json:"new_hash,omitempty"`
}

// Document is a file's full content plus what is needed to write it back.
type Document struct {
	Path    string
	Content string
	Mode    fs.FileMode
	Hash    string
}

// FileResult represents the result of a write.
type FileResult struct {
	Path    string `json:"path"`
	Bytes   int    `json:"bytes"`
	OldHash string `json:"old_hash,omitempty"`
	NewHash string `json:"new_hash"`
}

// FileEditor reads and atomically rewrites documents.
type FileEditor struct {
	mu            sync.RWMutex
	auditCallback func(FileAuditEvent)
	log           *zap.Logger
}

// NewFileEditor creates a new FileEditor.
func NewFileEditor() *FileEditor {
	return &FileEditor{
		log: logging.Get(logging.CategoryTactile),
	}
}

// SetAuditCallback sets the callback for file audit events.
func (e *FileEditor) SetAuditCallback(callback func(FileAuditEvent)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.auditCallback = callback
}

func (e *FileEditor) emitAudit(event FileAuditEvent) {
	e.mu.RLock()
	cb := e.auditCallback
	e.mu.RUnlock()

	if cb != nil {
		cb(event)
	}
}

func resolvePath(path string) string {
	if abs, err := filepath.Abs(path); err == nil {
		return abs
	}
	return path
}

// ContentHash returns the hex SHA-256 of content.
func ContentHash(content string) string {
	sum := sha256.Sum256([]byte(content))
	return fmt.Sprintf("%x", sum[:])
}

// ReadDocument reads a whole file as UTF-8 text.
func (e *FileEditor) ReadDocument(path string) (*Document, error) {
	absPath := resolvePath(path)

	info, err := os.Stat(absPath)
	if err != nil {
		e.failed(FileOpRead, path, err)
		return nil, err
	}
	if info.IsDir() {
		err := fmt.Errorf("%s is a directory", path)
		e.failed(FileOpRead, path, err)
		return nil, err
	}

	data, err := os.ReadFile(absPath)
	if err != nil {
		e.failed(FileOpRead, path, err)
		return nil, err
	}

	doc := &Document{
		Path:    absPath,
		Content: string(data),
		Mode:    info.Mode().Perm(),
		Hash:    ContentHash(string(data)),
	}
	e.log.Debug("document read", zap.String("path", path), zap.Int("bytes", len(data)))
	e.emitAudit(FileAuditEvent{
		Type:      FileOpRead,
		Timestamp: time.Now(),
		Path:      path,
		Success:   true,
		NewHash:   doc.Hash,
	})
	return doc, nil
}

// WriteDocument replaces path's content. The new bytes land in a temp file
// beside the target which is then renamed over it, so readers never observe
// a partial document. The existing permission bits are kept, and a symlinked
// path is written through to its target.
func (e *FileEditor) WriteDocument(path, content string) (*FileResult, error) {
	return e.write(FileOpWrite, path, content)
}

// RestoreDocument writes doc's original content back to its path.
func (e *FileEditor) RestoreDocument(doc *Document) (*FileResult, error) {
	return e.write(FileOpRestore, doc.Path, doc.Content)
}

func (e *FileEditor) write(op FileOpType, path, content string) (*FileResult, error) {
	timer := logging.StartTimer(logging.CategoryTactile, "document "+string(op))
	defer timer.Stop()

	absPath := resolvePath(path)

	mode := fs.FileMode(0644)
	var oldHash string
	if info, err := os.Stat(absPath); err == nil {
		mode = info.Mode().Perm()
		if data, err := os.ReadFile(absPath); err == nil {
			oldHash = ContentHash(string(data))
		}
	}

	if err := writeAtomic(absPath, []byte(content), mode); err != nil {
		e.failed(op, path, err)
		return nil, err
	}

	result := &FileResult{
		Path:    path,
		Bytes:   len(content),
		OldHash: oldHash,
		NewHash: ContentHash(content),
	}
	e.log.Debug("document written",
		zap.String("op", string(op)),
		zap.String("path", path),
		zap.Int("bytes", result.Bytes))
	e.emitAudit(FileAuditEvent{
		Type:      op,
		Timestamp: time.Now(),
		Path:      path,
		Success:   true,
		OldHash:   oldHash,
		NewHash:   result.NewHash,
	})
	return result, nil
}

func (e *FileEditor) failed(op FileOpType, path string, err error) {
	e.log.Error("file operation failed",
		zap.String("op", string(op)),
		zap.String("path", path),
		zap.Error(err))
	e.emitAudit(FileAuditEvent{
		Type:      op,
		Timestamp: time.Now(),
		Path:      path,
		Success:   false,
		Error:     err.Error(),
	})
}

func writeAtomic(path string, data []byte, mode fs.FileMode) (err error) {
	if target, evalErr := filepath.EvalSymlinks(path); evalErr == nil {
		path = target
	}
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".sage-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	defer func() {
		if err != nil {
			_ = os.Remove(tmpPath)
		}
	}()

	if _, err = tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write temp file: %w", err)
	}
	if err = tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err = tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err = os.Chmod(tmpPath, mode); err != nil {
		return fmt.Errorf("chmod temp file: %w", err)
	}
	if err = os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("replace %s: %w", filepath.Base(path), err)
	}
	return nil
}
