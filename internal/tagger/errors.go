package tagger

import "errors"

// Per-file protocol errors. They are carried on Outcome.Cause and never
// returned from the batch layer.
var (
	// ErrNotMarkdownFile is returned when a path does not end in .md.
	ErrNotMarkdownFile = errors.New("not a markdown file")

	// ErrNonZeroExit is returned when the external tool exits non-zero.
	ErrNonZeroExit = errors.New("external tool exited non-zero")

	// ErrInvocationTimeout is returned when one invocation exceeds its deadline.
	ErrInvocationTimeout = errors.New("invocation timed out")

	// ErrContentIntegrity is returned when the tool altered non-tag content.
	ErrContentIntegrity = errors.New("content verification failed")

	// ErrRetriesExhausted wraps an unexpected error that survived its retry.
	ErrRetriesExhausted = errors.New("retries exhausted")

	// ErrCanceled is returned when the caller's context ends mid-protocol.
	ErrCanceled = errors.New("processing canceled")
)

// Batch input errors.
var (
	// ErrDirectoryNotFound is returned when the directory does not exist.
	ErrDirectoryNotFound = errors.New("directory not found")

	// ErrNotADirectory is returned when the path exists but is not a directory.
	ErrNotADirectory = errors.New("not a directory")
)
