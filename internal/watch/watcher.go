// Package watch tags markdown files as they are created or saved.
package watch

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"sage/internal/logging"
	"sage/internal/tagger"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// Processor runs the tagging protocol on one file.
type Processor interface {
	ProcessFile(ctx context.Context, path string) *tagger.Outcome
}

// Options configures a Watcher.
type Options struct {
	Recursive bool
	Debounce  time.Duration // Quiet period before a changed file is processed
	Cooldown  time.Duration // Events for a file this soon after processing it are ignored
	Pattern   string        // Base-name glob, default "*.md"
}

// Stats tracks watcher activity.
type Stats struct {
	FilesCreated  int
	FilesModified int
	Processed     int
	Succeeded     int
	Failed        int
	Suppressed    int
	Errors        int
	LastEventTime time.Time
	LastEventPath string
	LastEventType string
}

// Watcher watches a directory and runs a Processor on settled markdown
// changes. Files are processed one at a time on the event loop.
type Watcher struct {
	mu        sync.RWMutex
	watcher   *fsnotify.Watcher
	proc      Processor
	root      string
	opts      Options
	pending   map[string]time.Time
	processed map[string]time.Time
	onOutcome func(*tagger.Outcome)
	stopCh    chan struct{}
	doneCh    chan struct{}
	stopOnce  sync.Once
	running   bool
	stopped   bool
	stats     Stats
	log       *zap.Logger
}

// New creates a Watcher for root.
func New(root string, proc Processor, opts Options) (*Watcher, error) {
	info, err := os.Stat(root)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, tagger.ErrDirectoryNotFound
		}
		return nil, err
	}
	if !info.IsDir() {
		return nil, tagger.ErrNotADirectory
	}

	if opts.Debounce <= 0 {
		opts.Debounce = 500 * time.Millisecond
	}
	if opts.Cooldown < 0 {
		opts.Cooldown = 0
	}
	if opts.Pattern == "" {
		opts.Pattern = "*.md"
	}
	if !doublestar.ValidatePattern(opts.Pattern) {
		return nil, doublestar.ErrBadPattern
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	return &Watcher{
		watcher:   fw,
		proc:      proc,
		root:      root,
		opts:      opts,
		pending:   make(map[string]time.Time),
		processed: make(map[string]time.Time),
		stopCh:    make(chan struct{}),
		doneCh:    make(chan struct{}),
		log:       logging.Get(logging.CategoryWatch),
	}, nil
}

// OnOutcome registers a callback invoked after each processed file.
func (w *Watcher) OnOutcome(fn func(*tagger.Outcome)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.onOutcome = fn
}

// Start begins watching. It is non-blocking.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.stopped {
		w.mu.Unlock()
		return errors.New("watcher already stopped")
	}
	if w.running {
		w.mu.Unlock()
		return nil
	}
	w.running = true
	w.mu.Unlock()

	if err := w.addTree(w.root); err != nil {
		w.mu.Lock()
		w.running = false
		w.mu.Unlock()
		return err
	}
	w.log.Info("watching", zap.String("root", w.root), zap.Bool("recursive", w.opts.Recursive))

	go w.run(ctx)
	return nil
}

// Stop stops the watcher and waits for the event loop to exit. It also
// releases a watcher that was never started.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() {
		w.mu.Lock()
		wasRunning := w.running
		w.running = false
		w.stopped = true
		w.mu.Unlock()

		if wasRunning {
			close(w.stopCh)
			<-w.doneCh
		}

		if err := w.watcher.Close(); err != nil {
			w.log.Error("error closing watcher", zap.Error(err))
		}
		w.log.Info("stopped")
	})
}

// IsWatching reports whether the event loop is running.
func (w *Watcher) IsWatching() bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.running
}

// Run watches until ctx is done.
func (w *Watcher) Run(ctx context.Context) error {
	if err := w.Start(ctx); err != nil {
		return err
	}
	<-ctx.Done()
	w.Stop()
	return nil
}

// Stats returns a snapshot of watcher statistics.
func (w *Watcher) Stats() Stats {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.stats
}

// WatchedDirs returns the directories being watched.
func (w *Watcher) WatchedDirs() []string {
	return w.watcher.WatchList()
}

func (w *Watcher) addTree(dir string) error {
	if !w.opts.Recursive {
		return w.watcher.Add(dir)
	}
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if path != dir && strings.HasPrefix(d.Name(), ".") {
			return filepath.SkipDir
		}
		if err := w.watcher.Add(path); err != nil {
			return err
		}
		w.log.Debug("watching directory", zap.String("dir", path))
		return nil
	})
}

func (w *Watcher) run(ctx context.Context) {
	defer close(w.doneCh)

	ticker := time.NewTicker(debounceTick(w.opts.Debounce))
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case <-w.stopCh:
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handleEvent(event)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.log.Error("watcher error", zap.Error(err))
			w.mu.Lock()
			w.stats.Errors++
			w.mu.Unlock()

		case <-ticker.C:
			w.processSettled(ctx)
		}
	}
}

func debounceTick(debounce time.Duration) time.Duration {
	tick := debounce / 5
	if tick < 10*time.Millisecond {
		tick = 10 * time.Millisecond
	}
	if tick > 100*time.Millisecond {
		tick = 100 * time.Millisecond
	}
	return tick
}

func (w *Watcher) handleEvent(event fsnotify.Event) {
	var eventType string
	switch {
	case event.Op&fsnotify.Create != 0:
		eventType = "create"
	case event.Op&fsnotify.Write != 0:
		eventType = "modify"
	default:
		return
	}

	if eventType == "create" && w.opts.Recursive {
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			if err := w.addTree(event.Name); err != nil {
				w.log.Warn("failed to watch new directory", zap.String("dir", event.Name), zap.Error(err))
			}
			return
		}
	}

	if ok, _ := doublestar.Match(w.opts.Pattern, filepath.Base(event.Name)); !ok {
		return
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	w.stats.LastEventTime = time.Now()
	w.stats.LastEventPath = event.Name
	w.stats.LastEventType = eventType

	if last, ok := w.processed[event.Name]; ok && time.Since(last) < w.opts.Cooldown {
		w.stats.Suppressed++
		return
	}

	if eventType == "create" {
		w.stats.FilesCreated++
	} else {
		w.stats.FilesModified++
	}
	w.pending[event.Name] = time.Now()
}

func (w *Watcher) processSettled(ctx context.Context) {
	w.mu.Lock()
	now := time.Now()
	var ready []string
	for path, at := range w.pending {
		if now.Sub(at) >= w.opts.Debounce {
			ready = append(ready, path)
			delete(w.pending, path)
		}
	}
	w.mu.Unlock()

	for _, path := range ready {
		if ctx.Err() != nil {
			return
		}
		w.process(ctx, path)
	}
}

func (w *Watcher) process(ctx context.Context, path string) {
	info, err := os.Stat(path)
	if err != nil || !info.Mode().IsRegular() {
		w.log.Debug("skipping vanished or irregular file", zap.String("path", path))
		return
	}

	out := w.proc.ProcessFile(ctx, path)

	w.mu.Lock()
	w.processed[path] = time.Now()
	delete(w.pending, path)
	w.stats.Processed++
	if out.Success {
		w.stats.Succeeded++
	} else {
		w.stats.Failed++
	}
	cb := w.onOutcome
	w.mu.Unlock()

	w.log.Info("processed",
		zap.String("path", path),
		zap.Bool("success", out.Success),
		zap.Strings("tags", out.Tags))

	if cb != nil {
		cb(out)
	}
}
