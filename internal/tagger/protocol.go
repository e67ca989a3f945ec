// Package tagger runs the safe-mutation protocol: hand a markdown file to an
// external tool, verify it only appended tags, validate those tags, and
// repair the file when some are malformed. It also fans the protocol out
// over many files with bounded concurrency.
package tagger

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"sage/internal/config"
	"sage/internal/logging"
	"sage/internal/tactile"
	"sage/internal/tags"

	"go.uber.org/zap"
)

// Options controls one Tagger.
type Options struct {
	// Force re-tags files that already carry tags.
	Force bool

	// Timeout bounds a single invocation of the external tool.
	Timeout time.Duration

	// MaxConcurrent bounds how many files are processed at once.
	MaxConcurrent int

	// TimeoutAttempts is the total number of attempts when invocations time out.
	TimeoutAttempts int
	TimeoutBackoff  time.Duration

	// ErrorAttempts is the total number of attempts on unexpected errors.
	ErrorAttempts int
	ErrorBackoff  time.Duration
}

// DefaultOptions returns the stock retry and concurrency settings.
func DefaultOptions() Options {
	return Options{
		Timeout:         120 * time.Second,
		MaxConcurrent:   5,
		TimeoutAttempts: 3,
		TimeoutBackoff:  2 * time.Second,
		ErrorAttempts:   2,
		ErrorBackoff:    time.Second,
	}
}

// OptionsFromConfig derives Options from loaded configuration.
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		Timeout:         cfg.GetTimeout(),
		MaxConcurrent:   cfg.Limits.MaxConcurrent,
		TimeoutAttempts: cfg.Limits.TimeoutAttempts,
		TimeoutBackoff:  cfg.GetTimeoutBackoff(),
		ErrorAttempts:   cfg.Limits.ErrorAttempts,
		ErrorBackoff:    cfg.GetErrorBackoff(),
	}
}

func (o Options) normalized() Options {
	def := DefaultOptions()
	if o.Timeout <= 0 {
		o.Timeout = def.Timeout
	}
	if o.MaxConcurrent < 1 {
		o.MaxConcurrent = 1
	}
	if o.TimeoutAttempts < 1 {
		o.TimeoutAttempts = 1
	}
	if o.ErrorAttempts < 1 {
		o.ErrorAttempts = 1
	}
	if o.TimeoutBackoff < 0 {
		o.TimeoutBackoff = 0
	}
	if o.ErrorBackoff < 0 {
		o.ErrorBackoff = 0
	}
	return o
}

// Tagger runs the protocol against files using an injected Invoker.
// It holds no per-file state and is safe for concurrent use.
type Tagger struct {
	invoker Invoker
	files   *tactile.FileEditor
	opts    Options
	log     *zap.Logger
}

// New creates a Tagger.
func New(invoker Invoker, opts Options) *Tagger {
	files := tactile.NewFileEditor()
	files.SetAuditCallback(auditFileEvent)
	return &Tagger{
		invoker: invoker,
		files:   files,
		opts:    opts.normalized(),
		log:     logging.Get(logging.CategoryTagger),
	}
}

func auditFileEvent(e tactile.FileAuditEvent) {
	event := logging.AuditFileRead
	switch {
	case !e.Success:
		event = logging.AuditFileError
	case e.Type == tactile.FileOpWrite:
		event = logging.AuditFileWrite
	case e.Type == tactile.FileOpRestore:
		event = logging.AuditFileRestore
	}
	logging.Audit().FileOp(event, e.Path, e.Success, e.Error, e.OldHash, e.NewHash)
}

// Options returns the effective options.
func (t *Tagger) Options() Options {
	return t.opts
}

// IsMarkdown reports whether path has a .md extension (any case).
func IsMarkdown(path string) bool {
	return strings.EqualFold(filepath.Ext(path), ".md")
}

// CheckMarkdown returns ErrNotMarkdownFile for non-markdown paths.
func CheckMarkdown(path string) error {
	if !IsMarkdown(path) {
		return fmt.Errorf("%w: %s", ErrNotMarkdownFile, path)
	}
	return nil
}

// ProcessFile runs the protocol on one file, retrying timeouts and
// unexpected errors within their budgets. It always returns an Outcome.
func (t *Tagger) ProcessFile(ctx context.Context, path string) *Outcome {
	start := time.Now()
	log := t.log.With(zap.String("path", path))

	var (
		timeouts int
		failures int
		invoked  bool
		out      *Outcome
	)

	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			out = canceledOutcome(path, err)
			out.Attempts = attempt - 1
			break
		}

		var err error
		out, err = t.attempt(ctx, path, attempt)
		invoked = invoked || out.Invoked
		if err == nil {
			out.Attempts = attempt
			break
		}

		if ctx.Err() != nil {
			out = canceledOutcome(path, ctx.Err())
			out.Attempts = attempt
			break
		}

		var backoff time.Duration
		if isTimeout(err) {
			timeouts++
			if timeouts >= t.opts.TimeoutAttempts {
				out = failedOutcome(path, fmt.Sprintf("timeout after %d attempts", attempt),
					fmt.Errorf("%w after %d attempts", ErrInvocationTimeout, attempt))
				out.Attempts = attempt
				break
			}
			backoff = t.opts.TimeoutBackoff
		} else {
			failures++
			if failures >= t.opts.ErrorAttempts {
				out = failedOutcome(path, fmt.Sprintf("error after retry: %v", err),
					fmt.Errorf("%w: %w", ErrRetriesExhausted, err))
				out.Attempts = attempt
				break
			}
			backoff = t.opts.ErrorBackoff
		}

		log.Warn("attempt failed, retrying",
			zap.Int("attempt", attempt),
			zap.Duration("backoff", backoff),
			zap.Error(err))

		if err := sleep(ctx, backoff); err != nil {
			out = canceledOutcome(path, err)
			out.Attempts = attempt
			break
		}
	}

	out.Invoked = invoked
	out.Duration = time.Since(start)
	logging.Audit().Outcome(path, out.Success, out.Tags, out.Note(), out.Attempts)
	if out.Success {
		log.Info("file processed",
			zap.Strings("tags", out.Tags),
			zap.Int("attempts", out.Attempts),
			zap.Bool("invoked", out.Invoked),
			zap.Bool("repaired", out.Repaired),
			zap.Duration("duration", out.Duration))
	} else {
		log.Warn("file failed",
			zap.String("error", out.Error),
			zap.Int("attempts", out.Attempts),
			zap.Duration("duration", out.Duration))
	}
	return out
}

// attempt runs the protocol once. A nil error means the Outcome is final,
// successful or not. A non-nil error is retryable; the returned Outcome then
// only carries what happened before the error.
func (t *Tagger) attempt(ctx context.Context, path string, n int) (*Outcome, error) {
	out := &Outcome{Path: path, Tags: []string{}}

	doc, err := t.files.ReadDocument(path)
	if err != nil {
		return out, fmt.Errorf("read %s: %w", filepath.Base(path), err)
	}
	out.HashBefore = doc.Hash

	if existing := tags.Existing(doc.Content); len(existing) > 0 && !t.opts.Force {
		t.log.Debug("already tagged, skipping invocation",
			zap.String("path", path),
			zap.Strings("tags", existing))
		out.Success = true
		out.Tags = existing
		out.HashAfter = doc.Hash
		return out, nil
	}

	invokeCtx, cancel := context.WithTimeout(ctx, t.opts.Timeout)
	invokeStart := time.Now()
	inv, err := t.invoker.Invoke(invokeCtx, path, doc.Content)
	timedOut := errors.Is(invokeCtx.Err(), context.DeadlineExceeded)
	cancel()
	out.Invoked = true

	if err == nil && inv == nil {
		err = errors.New("invoker returned no result")
	}
	exitCode := 0
	if inv != nil {
		exitCode = inv.ExitCode
	}
	logging.Audit().Invocation(path, n, time.Since(invokeStart), exitCode, err)

	if err != nil {
		// The tool may have written before dying.
		t.guard(doc)
		if ctx.Err() == nil && (timedOut || isTimeout(err)) {
			return out, fmt.Errorf("%w: %w", ErrInvocationTimeout, err)
		}
		return out, fmt.Errorf("invoke: %w", err)
	}

	if inv.ExitCode != 0 {
		t.guard(doc)
		out.Error = "claude error: " + inv.Stderr
		out.Cause = fmt.Errorf("%w: exit code %d", ErrNonZeroExit, inv.ExitCode)
		return out, nil
	}

	updated, err := t.files.ReadDocument(path)
	if err != nil {
		return out, fmt.Errorf("re-read %s: %w", filepath.Base(path), err)
	}

	if !tags.Unchanged(doc.Content, updated.Content) {
		if _, err := t.files.RestoreDocument(doc); err != nil {
			return out, fmt.Errorf("restore original: %w", err)
		}
		t.log.Warn("content changed by external tool, original restored", zap.String("path", path))
		out.Error = "content verification failed - restored original"
		out.Cause = ErrContentIntegrity
		out.HashAfter = doc.Hash
		return out, nil
	}

	valid, invalid := tags.Validate(updated.Content)
	out.Success = true
	out.Tags = valid
	out.HashAfter = updated.Hash
	if len(invalid) == 0 {
		return out, nil
	}

	res, err := t.files.WriteDocument(path, tags.Repair(updated.Content, valid))
	if err != nil {
		out.Success = false
		return out, fmt.Errorf("write repaired document: %w", err)
	}
	t.log.Info("removed invalid tags",
		zap.String("path", path),
		zap.Strings("invalid", invalid))
	out.Message = fmt.Sprintf("cleaned %d invalid tags", len(invalid))
	out.Repaired = true
	out.RemovedTags = invalid
	out.HashAfter = res.NewHash
	return out, nil
}

// guard restores doc if the file's non-tag content no longer matches it.
func (t *Tagger) guard(doc *tactile.Document) {
	current, err := t.files.ReadDocument(doc.Path)
	if err != nil || tags.Unchanged(doc.Content, current.Content) {
		return
	}
	if _, err := t.files.RestoreDocument(doc); err != nil {
		t.log.Error("failed to restore original after failed invocation",
			zap.String("path", doc.Path),
			zap.Error(err))
		return
	}
	t.log.Warn("restored original after failed invocation", zap.String("path", doc.Path))
}

func isTimeout(err error) bool {
	return errors.Is(err, ErrInvocationTimeout) || errors.Is(err, context.DeadlineExceeded)
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func failedOutcome(path, msg string, cause error) *Outcome {
	return &Outcome{
		Path:  path,
		Error: msg,
		Cause: cause,
		Tags:  []string{},
	}
}

func canceledOutcome(path string, err error) *Outcome {
	return failedOutcome(path, "canceled", fmt.Errorf("%w: %w", ErrCanceled, err))
}
