package store

import "time"

// Run is one recorded invocation of sage over one or more files.
type Run struct {
	ID         string    `json:"id"`
	Command    string    `json:"command"`
	Target     string    `json:"target"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	Total      int       `json:"total"`
	Succeeded  int       `json:"succeeded"`
	Failed     int       `json:"failed"`
}

// Elapsed returns how long the run took.
func (r Run) Elapsed() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}

// OutcomeRecord is one persisted per-file outcome.
type OutcomeRecord struct {
	ID          int64     `json:"id"`
	RunID       string    `json:"run_id"`
	Path        string    `json:"file"`
	Success     bool      `json:"success"`
	Error       string    `json:"error,omitempty"`
	Message     string    `json:"message,omitempty"`
	Tags        []string  `json:"tags"`
	RemovedTags []string  `json:"removed_tags,omitempty"`
	Attempts    int       `json:"attempts"`
	Invoked     bool      `json:"invoked"`
	Repaired    bool      `json:"repaired"`
	HashBefore  string    `json:"hash_before,omitempty"`
	HashAfter   string    `json:"hash_after,omitempty"`
	DurationMs  int64     `json:"duration_ms"`
	RecordedAt  time.Time `json:"recorded_at"`
}

// Changed reports whether the file's bytes differ after the run.
func (o OutcomeRecord) Changed() bool {
	return o.HashBefore != "" && o.HashAfter != "" && o.HashBefore != o.HashAfter
}
