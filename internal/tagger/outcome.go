package tagger

import (
	"time"
)

// Outcome is the result of running the protocol on one file. It is built
// once and not modified afterwards.
type Outcome struct {
	Path    string   `json:"file"`
	Success bool     `json:"success"`
	Error   string   `json:"error,omitempty"`
	Message string   `json:"message,omitempty"` // Informational note on success
	Tags    []string `json:"tags"`

	// Cause is the typed failure for errors.Is checks.
	Cause error `json:"-"`

	Attempts    int           `json:"attempts"`
	Invoked     bool          `json:"invoked"`
	Repaired    bool          `json:"repaired"`
	RemovedTags []string      `json:"removed_tags,omitempty"`
	Duration    time.Duration `json:"duration"`

	// Content hashes around the run; empty when the file was never read.
	HashBefore string `json:"hash_before,omitempty"`
	HashAfter  string `json:"hash_after,omitempty"`
}

// Note returns the failure message, or the informational message on success.
func (o *Outcome) Note() string {
	if !o.Success {
		return o.Error
	}
	return o.Message
}

// FileError pairs a failed path with its message.
type FileError struct {
	Path    string `json:"file"`
	Message string `json:"error"`
}

// BatchResult aggregates outcomes. It is assembled by a single writer after
// every task has finished.
type BatchResult struct {
	RunID        string        `json:"run_id"`
	SuccessCount int           `json:"success_count"`
	ErrorCount   int           `json:"error_count"`
	Errors       []FileError   `json:"errors"`
	Outcomes     []*Outcome    `json:"-"`
	Elapsed      time.Duration `json:"-"`
}

// Total returns the number of files processed.
func (r *BatchResult) Total() int {
	return r.SuccessCount + r.ErrorCount
}

func newBatchResult(runID string, outcomes []*Outcome, elapsed time.Duration) *BatchResult {
	result := &BatchResult{
		RunID:    runID,
		Errors:   []FileError{},
		Outcomes: outcomes,
		Elapsed:  elapsed,
	}
	for _, o := range outcomes {
		if o.Success {
			result.SuccessCount++
			continue
		}
		result.ErrorCount++
		msg := o.Error
		if msg == "" {
			msg = "unknown error"
		}
		result.Errors = append(result.Errors, FileError{Path: o.Path, Message: msg})
	}
	return result
}
