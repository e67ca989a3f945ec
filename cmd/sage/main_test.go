package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sage/internal/config"
	"sage/internal/store"
	"sage/internal/tagger"
)

const doc = "# Title\n\nSome notes about Go.\n"

// sageEnv isolates config and history for one test and returns the config
// path to pass with --config.
func sageEnv(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("SAGE_HISTORY_DB", filepath.Join(dir, "history.db"))
	t.Setenv("SAGE_HISTORY_DISABLED", "")
	t.Setenv("SAGE_DEBUG", "")
	t.Setenv("SAGE_TIMEOUT", "")
	t.Setenv("SAGE_WORKERS", "")
	return filepath.Join(dir, "config.yaml")
}

func useInvoker(t *testing.T, inv tagger.InvokerFunc) {
	t.Helper()
	old := newInvoker
	newInvoker = func(*config.Config) tagger.Invoker { return inv }
	t.Cleanup(func() { newInvoker = old })
}

// appendTags mimics a well-behaved claude run.
func appendTags(calls *atomic.Int32, tags ...string) tagger.InvokerFunc {
	return func(ctx context.Context, path, document string) (*tagger.Invocation, error) {
		if calls != nil {
			calls.Add(1)
		}
		var b strings.Builder
		b.WriteString(document)
		b.WriteString("\n")
		for _, tag := range tags {
			b.WriteString("\n[[" + tag + "]]")
		}
		return &tagger.Invocation{}, os.WriteFile(path, []byte(b.String()), 0644)
	}
}

func failWith(stderr string) tagger.InvokerFunc {
	return func(ctx context.Context, path, document string) (*tagger.Invocation, error) {
		return &tagger.Invocation{ExitCode: 1, Stderr: stderr}, nil
	}
}

func execute(t *testing.T, cfgPath string, args ...string) (int, string, string) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	code := run(context.Background(), append([]string{"--config", cfgPath}, args...), &stdout, &stderr)
	return code, stdout.String(), stderr.String()
}

func writeNote(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestVersion(t *testing.T) {
	cfg := sageEnv(t)
	code, out, _ := execute(t, cfg, "--version")
	assert.Equal(t, 0, code)
	assert.Equal(t, "sage "+Version+"\n", out)
}

func TestFile_Tags(t *testing.T) {
	cfg := sageEnv(t)
	var calls atomic.Int32
	useInvoker(t, appendTags(&calls, "go", "notes"))

	path := writeNote(t, t.TempDir(), "note.md", doc)
	code, out, _ := execute(t, cfg, "file", path)

	assert.Equal(t, 0, code)
	assert.Equal(t, "✓ Tagged note.md with: go, notes\n", out)
	assert.Equal(t, int32(1), calls.Load())

	// A second run finds the tags and does not invoke again.
	code, out, _ = execute(t, cfg, "file", path)
	assert.Equal(t, 0, code)
	assert.Contains(t, out, "Tagged note.md with: go, notes")
	assert.Equal(t, int32(1), calls.Load())

	code, _, _ = execute(t, cfg, "file", "--force", path)
	assert.Equal(t, 0, code)
	assert.Equal(t, int32(2), calls.Load())
}

func TestFile_NoTags(t *testing.T) {
	cfg := sageEnv(t)
	useInvoker(t, appendTags(nil))

	path := writeNote(t, t.TempDir(), "empty.md", doc)
	code, out, _ := execute(t, cfg, "file", path)

	assert.Equal(t, 0, code)
	assert.Equal(t, "ℹ No new tags added to empty.md\n", out)
}

func TestFile_Failure(t *testing.T) {
	cfg := sageEnv(t)
	useInvoker(t, failWith("quota exceeded"))

	path := writeNote(t, t.TempDir(), "note.md", doc)

	code, out, _ := execute(t, cfg, "file", path)
	assert.Equal(t, 1, code)
	assert.Equal(t, "✗ Failed to tag note.md: claude error: quota exceeded\n", out)

	code, out, _ = execute(t, cfg, "file", "--quiet", path)
	assert.Equal(t, 1, code)
	assert.Empty(t, out)
}

func TestFile_JSON(t *testing.T) {
	cfg := sageEnv(t)
	useInvoker(t, appendTags(nil, "go", "Bad Tag"))

	path := writeNote(t, t.TempDir(), "note.md", doc)
	code, out, _ := execute(t, cfg, "file", "--json", path)
	require.Equal(t, 0, code)

	var got struct {
		File    string   `json:"file"`
		Success bool     `json:"success"`
		Error   *string  `json:"error"`
		Tags    []string `json:"tags"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	assert.Equal(t, path, got.File)
	assert.True(t, got.Success)
	require.NotNil(t, got.Error)
	assert.Equal(t, "cleaned 1 invalid tags", *got.Error)
	assert.Equal(t, []string{"go"}, got.Tags)
}

func TestFile_JSONFailureExitsZero(t *testing.T) {
	cfg := sageEnv(t)
	useInvoker(t, failWith("boom"))

	path := writeNote(t, t.TempDir(), "note.md", doc)
	code, out, _ := execute(t, cfg, "file", "--json", path)
	assert.Equal(t, 0, code)

	var got map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	assert.Equal(t, false, got["success"])
	assert.Equal(t, "claude error: boom", got["error"])
	assert.Equal(t, []any{}, got["tags"])
}

func TestFile_InvalidInput(t *testing.T) {
	cfg := sageEnv(t)
	useInvoker(t, appendTags(nil, "x"))

	txt := writeNote(t, t.TempDir(), "notes.txt", doc)
	code, out, _ := execute(t, cfg, "file", txt)
	assert.Equal(t, 1, code)
	assert.Contains(t, out, "File must be a markdown file (.md)")

	code, out, _ = execute(t, cfg, "file", filepath.Join(t.TempDir(), "missing.md"))
	assert.Equal(t, 1, code)
	assert.Contains(t, out, "Path does not exist")

	code, _, errOut := execute(t, cfg, "file", "--timeout", "-1", writeNote(t, t.TempDir(), "n.md", doc))
	assert.Equal(t, 1, code)
	assert.Contains(t, errOut, "--timeout must be positive")
}

func TestFiles(t *testing.T) {
	cfg := sageEnv(t)
	useInvoker(t, func(ctx context.Context, path, document string) (*tagger.Invocation, error) {
		if filepath.Base(path) == "bad.md" {
			return failWith("boom")(ctx, path, document)
		}
		return appendTags(nil, "ok")(ctx, path, document)
	})

	dir := t.TempDir()
	good := writeNote(t, dir, "good.md", doc)
	bad := writeNote(t, dir, "bad.md", doc)
	txt := writeNote(t, dir, "skip.txt", doc)

	code, out, _ := execute(t, cfg, "files", good, bad, txt)
	assert.Equal(t, 1, code)

	lines := strings.Split(strings.TrimRight(out, "\n"), "\n")
	require.Len(t, lines, 5, out)
	assert.Equal(t, "⚠ Skipped 1 non-markdown files", lines[0])
	assert.Regexp(t, `^ℹ Processed 2 files in \d+\.\d\ds$`, lines[1])
	assert.Equal(t, "✓ Successfully tagged: 1", lines[2])
	assert.Equal(t, "✗ Errors: 1", lines[3])
	assert.Equal(t, "✗   bad.md: claude error: boom", lines[4])
}

func TestFiles_NoMarkdown(t *testing.T) {
	cfg := sageEnv(t)
	useInvoker(t, appendTags(nil, "x"))

	txt := writeNote(t, t.TempDir(), "a.txt", doc)
	code, out, _ := execute(t, cfg, "files", "--quiet", txt)
	assert.Equal(t, 1, code)
	assert.Equal(t, "✗ No markdown files found in the provided paths\n", out)
}

func TestFiles_JSONAndSequential(t *testing.T) {
	cfg := sageEnv(t)
	var active, peak atomic.Int32
	useInvoker(t, func(ctx context.Context, path, document string) (*tagger.Invocation, error) {
		n := active.Add(1)
		defer active.Add(-1)
		if n > peak.Load() {
			peak.Store(n)
		}
		return appendTags(nil, "seq")(ctx, path, document)
	})

	dir := t.TempDir()
	var paths []string
	for i := 0; i < 4; i++ {
		paths = append(paths, writeNote(t, dir, fmt.Sprintf("n%d.md", i), doc))
	}

	code, out, _ := execute(t, cfg, append([]string{"files", "--sequential", "--json"}, paths...)...)
	require.Equal(t, 0, code)
	assert.Equal(t, int32(1), peak.Load())

	var got map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	assert.Equal(t, float64(4), got["total_files"])
	assert.Equal(t, float64(4), got["success_count"])
	assert.Equal(t, float64(0), got["error_count"])
	assert.Contains(t, got, "elapsed_time")
	assert.Equal(t, []any{}, got["errors"])
	assert.NotContains(t, got, "directory")
}

func TestFiles_ConcurrentAndSequentialConflict(t *testing.T) {
	cfg := sageEnv(t)
	path := writeNote(t, t.TempDir(), "a.md", doc)
	code, _, errOut := execute(t, cfg, "files", "--concurrent", "--sequential", path)
	assert.Equal(t, 1, code)
	assert.Contains(t, errOut, "concurrent")
}

func TestDir_ErrorListing(t *testing.T) {
	cfg := sageEnv(t)
	long := strings.Repeat("x", 100)
	useInvoker(t, failWith(long))

	dir := t.TempDir()
	for i := 0; i < 7; i++ {
		writeNote(t, dir, fmt.Sprintf("f%d.md", i), doc)
	}

	code, out, _ := execute(t, cfg, "dir", dir)
	assert.Equal(t, 1, code)

	lines := strings.Split(strings.TrimRight(out, "\n"), "\n")
	require.Len(t, lines, 9, out)
	assert.Regexp(t, `^ℹ Processed 7 files directly in .+ \(\d+\.\d\ds\)$`, lines[0])
	assert.Equal(t, "✓ Successfully tagged: 0", lines[1])
	assert.Equal(t, "✗ Errors: 7", lines[2])
	want := "claude error: " + long
	assert.Equal(t, "✗   f0.md: "+want[:57]+"...", lines[3])
	assert.Equal(t, "✗   ... and 2 more errors", lines[8])
}

func TestDir_RecursiveJSON(t *testing.T) {
	cfg := sageEnv(t)
	var calls atomic.Int32
	useInvoker(t, appendTags(&calls, "deep"))

	dir := t.TempDir()
	writeNote(t, dir, "top.md", doc)
	writeNote(t, dir, "sub/inner.md", doc)
	writeNote(t, dir, "sub/skip.txt", doc)

	code, out, _ := execute(t, cfg, "dir", "-r", "--json", dir)
	require.Equal(t, 0, code)
	assert.Equal(t, int32(2), calls.Load())

	var got map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	assert.Equal(t, dir, got["directory"])
	assert.Equal(t, true, got["recursive"])
	assert.Equal(t, float64(2), got["total_files"])
}

func TestDir_EmptyAndMissing(t *testing.T) {
	cfg := sageEnv(t)
	useInvoker(t, appendTags(nil, "x"))

	empty := t.TempDir()
	code, out, _ := execute(t, cfg, "dir", empty)
	assert.Equal(t, 0, code)
	assert.Equal(t, "ℹ No markdown files found in "+empty+"\n", out)

	missing := filepath.Join(t.TempDir(), "missing")
	code, out, _ = execute(t, cfg, "dir", "--json", missing)
	assert.Equal(t, 1, code)
	assert.Equal(t, "✗ directory not found: "+missing+"\n", out)
}

func TestHistory(t *testing.T) {
	cfg := sageEnv(t)
	useInvoker(t, appendTags(nil, "logged"))

	dir := t.TempDir()
	path := writeNote(t, dir, "note.md", doc)
	writeNote(t, dir, "other.md", doc)

	code, _, _ := execute(t, cfg, "file", path)
	require.Equal(t, 0, code)
	code, _, _ = execute(t, cfg, "dir", dir)
	require.Equal(t, 0, code)

	code, out, _ := execute(t, cfg, "history", "--json")
	require.Equal(t, 0, code)
	var runs []store.Run
	require.NoError(t, json.Unmarshal([]byte(out), &runs))
	require.Len(t, runs, 2)
	assert.Equal(t, "dir", runs[0].Command)
	assert.Equal(t, 2, runs[0].Total)
	assert.Equal(t, "file", runs[1].Command)

	code, out, _ = execute(t, cfg, "history", "--json", "--file", path)
	require.Equal(t, 0, code)
	var records []store.OutcomeRecord
	require.NoError(t, json.Unmarshal([]byte(out), &records))
	require.Len(t, records, 2)
	assert.Equal(t, []string{"logged"}, records[0].Tags)
	assert.False(t, records[0].Invoked, "second run found existing tags")
	assert.True(t, records[1].Invoked)

	code, out, _ = execute(t, cfg, "history", "--limit", "1")
	require.Equal(t, 0, code)
	assert.Contains(t, out, "Recent runs (1)")
	assert.Contains(t, out, "dir")
}

func TestHistory_Disabled(t *testing.T) {
	cfg := sageEnv(t)
	t.Setenv("SAGE_HISTORY_DISABLED", "true")
	useInvoker(t, appendTags(nil, "x"))

	path := writeNote(t, t.TempDir(), "note.md", doc)
	code, _, _ := execute(t, cfg, "file", path)
	require.Equal(t, 0, code)

	code, out, _ := execute(t, cfg, "history")
	assert.Equal(t, 0, code)
	assert.Equal(t, "ℹ History is disabled\n", out)
	_, err := os.Stat(os.Getenv("SAGE_HISTORY_DB"))
	assert.True(t, os.IsNotExist(err))
}

func TestConfigFlagOverrides(t *testing.T) {
	cfgPath := sageEnv(t)
	cfg := config.DefaultConfig()
	cfg.Execution.Binary = "/nonexistent/claude"
	cfg.History.Enabled = false
	require.NoError(t, cfg.Save(cfgPath))

	var seen atomic.Value
	old := newInvoker
	newInvoker = func(c *config.Config) tagger.Invoker {
		seen.Store(c.Execution.Binary)
		return appendTags(nil, "cfg")
	}
	t.Cleanup(func() { newInvoker = old })

	path := writeNote(t, t.TempDir(), "note.md", doc)
	code, _, _ := execute(t, cfgPath, "file", path)
	require.Equal(t, 0, code)
	assert.Equal(t, "/nonexistent/claude", seen.Load())
}

func TestInvalidConfig(t *testing.T) {
	cfgPath := sageEnv(t)
	require.NoError(t, os.WriteFile(cfgPath, []byte("limits:\n  max_concurrent: 0\n"), 0644))

	code, _, errOut := execute(t, cfgPath, "dir", t.TempDir())
	assert.Equal(t, 1, code)
	assert.Contains(t, errOut, "max_concurrent")
}

func TestWatch(t *testing.T) {
	cfg := sageEnv(t)
	useInvoker(t, appendTags(nil, "watched"))

	dir := t.TempDir()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var stdout, stderr bytes.Buffer
	done := make(chan int, 1)
	go func() {
		done <- run(ctx, []string{"--config", cfg, "watch", dir}, &stdout, &stderr)
	}()

	// Give the watcher time to register the directory.
	time.Sleep(300 * time.Millisecond)
	path := writeNote(t, dir, "live.md", doc)

	require.Eventually(t, func() bool {
		data, err := os.ReadFile(path)
		return err == nil && strings.Contains(string(data), "[[watched]]")
	}, 10*time.Second, 20*time.Millisecond)

	// Let the outcome callback finish before stopping.
	time.Sleep(100 * time.Millisecond)
	cancel()

	select {
	case code := <-done:
		assert.Equal(t, 0, code, stderr.String())
	case <-time.After(10 * time.Second):
		t.Fatal("watch did not stop after cancel")
	}

	out := stdout.String()
	assert.Contains(t, out, "Watching "+dir+" directly")
	assert.Contains(t, out, "✓ Tagged live.md with: watched")
	assert.Contains(t, out, "1 processed, 1 succeeded, 0 failed")
}

func TestWatch_MissingDirectory(t *testing.T) {
	cfg := sageEnv(t)
	code, out, _ := execute(t, cfg, "watch", filepath.Join(t.TempDir(), "missing"))
	assert.Equal(t, 1, code)
	assert.Contains(t, out, "directory not found")
}
