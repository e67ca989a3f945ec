package tagger

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"sage/internal/config"
	"sage/internal/tactile"

	"github.com/google/uuid"
)

// Invocation is what the external tool produced for one call.
type Invocation struct {
	ExitCode int
	Stdout   string
	Stderr   string
	Duration time.Duration
}

// Invoker runs the external tagging tool against one document. The tool is
// expected to edit the file at path in place; document is the text the
// protocol read just before the call.
//
// Implementations return ErrInvocationTimeout (or an error wrapping
// context.DeadlineExceeded) when ctx's deadline passes. A non-zero exit is
// reported on the Invocation, not as an error.
type Invoker interface {
	Invoke(ctx context.Context, path, document string) (*Invocation, error)
}

// InvokerFunc adapts a function to the Invoker interface.
type InvokerFunc func(ctx context.Context, path, document string) (*Invocation, error)

// Invoke calls f.
func (f InvokerFunc) Invoke(ctx context.Context, path, document string) (*Invocation, error) {
	return f(ctx, path, document)
}

// ClaudeInvoker runs the claude CLI through a tactile executor.
type ClaudeInvoker struct {
	executor tactile.Executor
	cfg      config.ExecutionConfig
}

// NewClaudeInvoker creates an invoker for the configured binary.
func NewClaudeInvoker(executor tactile.Executor, cfg config.ExecutionConfig) *ClaudeInvoker {
	return &ClaudeInvoker{executor: executor, cfg: cfg}
}

// Invoke runs `claude -p <prompt> --allowedTools=...` with the document on
// stdin, in the file's directory. The timeout comes from ctx's deadline.
func (c *ClaudeInvoker) Invoke(ctx context.Context, path, document string) (*Invocation, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve %s: %w", path, err)
	}

	cmd := tactile.Command{
		Binary:           c.cfg.Binary,
		Arguments:        c.cfg.Args(c.prompt(absPath)),
		WorkingDirectory: filepath.Dir(absPath),
		Environment:      c.cfg.Env,
		Stdin:            document,
		RequestID:        uuid.NewString(),
	}
	if deadline, ok := ctx.Deadline(); ok {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil, ErrInvocationTimeout
		}
		cmd.Timeout = remaining
	}

	result, err := c.executor.Execute(ctx, cmd)
	if err != nil {
		return nil, fmt.Errorf("failed to run %s: %w", c.cfg.Binary, err)
	}
	if result.IsError() {
		return nil, fmt.Errorf("failed to run %s: %s", c.cfg.Binary, result.Error)
	}
	if result.Killed {
		if !result.TimedOut {
			return nil, context.Canceled
		}
		return nil, fmt.Errorf("%w: %s", ErrInvocationTimeout, result.KillReason)
	}

	return &Invocation{
		ExitCode: result.ExitCode,
		Stdout:   result.Stdout,
		Stderr:   result.Stderr,
		Duration: result.Duration,
	}, nil
}

func (c *ClaudeInvoker) prompt(absPath string) string {
	prompt := c.cfg.Prompt
	if prompt == "" {
		prompt = config.DefaultPrompt
	}
	return fmt.Sprintf("%s\n\nThe markdown file is: %s", prompt, absPath)
}
