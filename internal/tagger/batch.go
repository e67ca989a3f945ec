package tagger

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"time"

	"sage/internal/logging"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
)

// ProcessFiles runs the protocol for every path with at most MaxConcurrent
// files in flight. One file's failure never stops the others. Errors are
// reported in input order. Duplicate paths are processed once.
func (t *Tagger) ProcessFiles(ctx context.Context, paths []string) *BatchResult {
	log := logging.Get(logging.CategoryBatch)
	timer := logging.StartTimer(logging.CategoryBatch, "batch")
	defer timer.Stop()

	start := time.Now()
	runID := uuid.NewString()
	paths = dedupe(paths, log)

	log.Info("batch started",
		zap.String("run_id", runID),
		zap.Int("files", len(paths)),
		zap.Int("max_concurrent", t.opts.MaxConcurrent))

	outcomes := make([]*Outcome, len(paths))
	sem := semaphore.NewWeighted(int64(t.opts.MaxConcurrent))

	var g errgroup.Group
	for i, path := range paths {
		i, path := i, path
		g.Go(func() error {
			if err := sem.Acquire(ctx, 1); err != nil {
				outcomes[i] = canceledOutcome(path, err)
				return nil
			}
			defer sem.Release(1)
			outcomes[i] = t.processRecovered(ctx, path)
			return nil
		})
	}
	_ = g.Wait()

	result := newBatchResult(runID, outcomes, time.Since(start))
	log.Info("batch finished",
		zap.String("run_id", runID),
		zap.Int("success", result.SuccessCount),
		zap.Int("errors", result.ErrorCount),
		zap.Duration("elapsed", result.Elapsed))
	return result
}

// processRecovered turns a panic inside one file's protocol into that file's
// failure.
func (t *Tagger) processRecovered(ctx context.Context, path string) (out *Outcome) {
	defer func() {
		if r := recover(); r != nil {
			logging.Get(logging.CategoryBatch).Error("panic while processing file",
				zap.String("path", path),
				zap.Any("panic", r),
				zap.Stack("stack"))
			out = failedOutcome(path, fmt.Sprint(r), fmt.Errorf("panic: %v", r))
		}
	}()
	return t.ProcessFile(ctx, path)
}

// ProcessDirectory processes the markdown files directly inside dir, or the
// whole tree when recursive is set. Invalid input is the only error.
func (t *Tagger) ProcessDirectory(ctx context.Context, dir string, recursive bool) (*BatchResult, error) {
	paths, err := FindMarkdown(dir, recursive)
	if err != nil {
		return nil, err
	}
	return t.ProcessFiles(ctx, paths), nil
}

// FindMarkdown lists regular *.md files in dir, recursing when asked.
// Results are sorted.
func FindMarkdown(dir string, recursive bool) ([]string, error) {
	info, err := os.Stat(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrDirectoryNotFound, dir)
		}
		return nil, fmt.Errorf("stat %s: %w", dir, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%w: %s", ErrNotADirectory, dir)
	}

	pattern := "*.md"
	if recursive {
		pattern = "**/*.md"
	}

	matches, err := doublestar.Glob(os.DirFS(dir), pattern)
	if err != nil {
		return nil, fmt.Errorf("glob %s: %w", pattern, err)
	}

	paths := make([]string, 0, len(matches))
	for _, m := range matches {
		full := filepath.Join(dir, filepath.FromSlash(m))
		fi, err := os.Stat(full)
		if err != nil || !fi.Mode().IsRegular() {
			continue
		}
		paths = append(paths, full)
	}
	slices.Sort(paths)
	return paths, nil
}

func dedupe(paths []string, log *zap.Logger) []string {
	seen := make(map[string]struct{}, len(paths))
	out := make([]string, 0, len(paths))
	for _, p := range paths {
		key := filepath.Clean(p)
		if abs, err := filepath.Abs(p); err == nil {
			key = abs
		}
		if _, dup := seen[key]; dup {
			log.Warn("duplicate path ignored", zap.String("path", p))
			continue
		}
		seen[key] = struct{}{}
		out = append(out, p)
	}
	return out
}
