package tagger

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sage/internal/config"
	"sage/internal/tactile"
)

type recordingExecutor struct {
	cmd    tactile.Command
	result *tactile.ExecutionResult
	err    error
}

func (r *recordingExecutor) Execute(ctx context.Context, cmd tactile.Command) (*tactile.ExecutionResult, error) {
	r.cmd = cmd
	return r.result, r.err
}

func (r *recordingExecutor) Validate(cmd tactile.Command) error { return nil }

func testExecutionConfig() config.ExecutionConfig {
	return config.DefaultConfig().Execution
}

func TestClaudeInvoker_BuildsCommand(t *testing.T) {
	exec := &recordingExecutor{result: &tactile.ExecutionResult{Success: true, Stdout: "done"}}
	cfg := testExecutionConfig()
	cfg.Env = []string{"SAGE_TAGGING=1"}
	inv := NewClaudeInvoker(exec, cfg)

	dir := t.TempDir()
	path := filepath.Join(dir, "note.md")

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	got, err := inv.Invoke(ctx, path, "# Doc\n")
	require.NoError(t, err)
	assert.Equal(t, "done", got.Stdout)

	assert.Equal(t, "claude", exec.cmd.Binary)
	assert.Equal(t, dir, exec.cmd.WorkingDirectory)
	assert.Equal(t, "# Doc\n", exec.cmd.Stdin)
	assert.Equal(t, []string{"SAGE_TAGGING=1"}, exec.cmd.Environment)
	require.Len(t, exec.cmd.Arguments, 3)
	assert.Equal(t, "-p", exec.cmd.Arguments[0])
	assert.True(t, strings.HasPrefix(exec.cmd.Arguments[1], config.DefaultPrompt))
	assert.Contains(t, exec.cmd.Arguments[1], path)
	assert.Equal(t, "--allowedTools=Read,Edit", exec.cmd.Arguments[2])
	assert.Greater(t, exec.cmd.Timeout, time.Duration(0))
	assert.LessOrEqual(t, exec.cmd.Timeout, time.Minute)
	assert.NotEmpty(t, exec.cmd.RequestID)
}

func TestClaudeInvoker_ResultMapping(t *testing.T) {
	tests := []struct {
		name    string
		result  *tactile.ExecutionResult
		execErr error
		check   func(t *testing.T, inv *Invocation, err error)
	}{
		{
			name:   "non-zero exit is not an error",
			result: &tactile.ExecutionResult{Success: true, ExitCode: 2, Stderr: "bad"},
			check: func(t *testing.T, inv *Invocation, err error) {
				require.NoError(t, err)
				assert.Equal(t, 2, inv.ExitCode)
				assert.Equal(t, "bad", inv.Stderr)
			},
		},
		{
			name:   "timeout",
			result: &tactile.ExecutionResult{Success: true, Killed: true, TimedOut: true, KillReason: "timeout after 1s"},
			check: func(t *testing.T, inv *Invocation, err error) {
				assert.ErrorIs(t, err, ErrInvocationTimeout)
			},
		},
		{
			name:   "canceled",
			result: &tactile.ExecutionResult{Success: true, Killed: true, KillReason: "context canceled"},
			check: func(t *testing.T, inv *Invocation, err error) {
				assert.ErrorIs(t, err, context.Canceled)
				assert.NotErrorIs(t, err, ErrInvocationTimeout)
			},
		},
		{
			name:   "binary missing",
			result: &tactile.ExecutionResult{Success: false, Error: "executable file not found"},
			check: func(t *testing.T, inv *Invocation, err error) {
				require.Error(t, err)
				assert.Contains(t, err.Error(), "executable file not found")
			},
		},
		{
			name:    "validation error",
			execErr: errors.New("binary is required"),
			check: func(t *testing.T, inv *Invocation, err error) {
				require.Error(t, err)
				assert.Contains(t, err.Error(), "binary is required")
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			exec := &recordingExecutor{result: tt.result, err: tt.execErr}
			inv, err := NewClaudeInvoker(exec, testExecutionConfig()).Invoke(context.Background(), "note.md", "")
			tt.check(t, inv, err)
		})
	}
}

func TestClaudeInvoker_ExpiredDeadline(t *testing.T) {
	exec := &recordingExecutor{}
	ctx, cancel := context.WithDeadline(context.Background(), time.Now().Add(-time.Second))
	defer cancel()

	_, err := NewClaudeInvoker(exec, testExecutionConfig()).Invoke(ctx, "note.md", "")
	assert.ErrorIs(t, err, ErrInvocationTimeout)
	assert.Empty(t, exec.cmd.Binary, "executor must not run")
}

// fakeClaude writes a shell script standing in for the claude CLI. The
// script body receives the prompt as $2 and runs in the file's directory.
func fakeClaude(t *testing.T, script string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell script fake requires a POSIX shell")
	}
	path := filepath.Join(t.TempDir(), "claude")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+script), 0755))
	return path
}

func TestClaudeInvoker_EndToEnd(t *testing.T) {
	bin := fakeClaude(t, `cat > /dev/null
printf '\n[[shell]]\n[[Bad Tag]]\n' >> note.md
`)
	dir := t.TempDir()
	path := writeDoc(t, dir, "note.md", body)

	cfg := testExecutionConfig()
	cfg.Binary = bin
	inv := NewClaudeInvoker(tactile.NewDirectExecutor(), cfg)

	out := New(inv, fastOptions()).ProcessFile(context.Background(), path)

	require.True(t, out.Success, out.Error)
	assert.Equal(t, []string{"shell"}, out.Tags)
	assert.Equal(t, "cleaned 1 invalid tags", out.Message)
	assert.Equal(t, "# Title\n\nBody text.\n\n[[shell]]", readDoc(t, path))
}

func TestClaudeInvoker_EndToEndFailure(t *testing.T) {
	bin := fakeClaude(t, `echo "quota exceeded" >&2
exit 3
`)
	path := writeDoc(t, t.TempDir(), "note.md", body)

	cfg := testExecutionConfig()
	cfg.Binary = bin
	inv := NewClaudeInvoker(tactile.NewDirectExecutor(), cfg)

	out := New(inv, fastOptions()).ProcessFile(context.Background(), path)

	assert.False(t, out.Success)
	assert.Equal(t, "claude error: quota exceeded\n", out.Error)
	assert.ErrorIs(t, out.Cause, ErrNonZeroExit)
}

func TestClaudeInvoker_EndToEndTimeout(t *testing.T) {
	bin := fakeClaude(t, "sleep 10\n")
	path := writeDoc(t, t.TempDir(), "note.md", body)

	cfg := testExecutionConfig()
	cfg.Binary = bin
	inv := NewClaudeInvoker(tactile.NewDirectExecutor(), cfg)

	opts := fastOptions()
	opts.Timeout = 200 * time.Millisecond
	opts.TimeoutAttempts = 2

	start := time.Now()
	out := New(inv, opts).ProcessFile(context.Background(), path)

	assert.False(t, out.Success)
	assert.Equal(t, "timeout after 2 attempts", out.Error)
	assert.Less(t, time.Since(start), 8*time.Second)
}
