package tagger

import (
	"context"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func fastOptions() Options {
	return Options{
		Timeout:         time.Second,
		MaxConcurrent:   5,
		TimeoutAttempts: 3,
		TimeoutBackoff:  time.Millisecond,
		ErrorAttempts:   2,
		ErrorBackoff:    time.Millisecond,
	}
}

func writeDoc(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func readDoc(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	return string(data)
}

// appendingInvoker behaves like a well-mannered tool: it appends suffix to
// the file it was given.
func appendingInvoker(suffix string, calls *atomic.Int32) InvokerFunc {
	return func(ctx context.Context, path, document string) (*Invocation, error) {
		if calls != nil {
			calls.Add(1)
		}
		if err := os.WriteFile(path, []byte(document+suffix), 0644); err != nil {
			return nil, err
		}
		return &Invocation{ExitCode: 0}, nil
	}
}

// hangingInvoker blocks until its context ends, like a tool that never answers.
func hangingInvoker(calls *atomic.Int32) InvokerFunc {
	return func(ctx context.Context, path, document string) (*Invocation, error) {
		if calls != nil {
			calls.Add(1)
		}
		<-ctx.Done()
		return nil, ctx.Err()
	}
}
