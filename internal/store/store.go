// Package store keeps the history ledger: a SQLite database of tagging runs
// and the per-file outcomes they produced.
package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"sage/internal/logging"
	"sage/internal/tagger"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"
)

// Store manages the history database.
type Store struct {
	db     *sql.DB
	dbPath string
	mu     sync.RWMutex
	log    *zap.Logger
}

// Open creates or opens the ledger at dbPath.
func Open(dbPath string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	store := &Store{
		db:     db,
		dbPath: dbPath,
		log:    logging.Get(logging.CategoryStore),
	}

	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	if err := store.runMigrations(); err != nil {
		db.Close()
		return nil, err
	}

	store.log.Debug("history opened", zap.String("path", dbPath))
	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.dbPath
}

func (s *Store) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS runs (
		id TEXT PRIMARY KEY,
		command TEXT NOT NULL,
		target TEXT NOT NULL,
		started_at DATETIME NOT NULL,
		finished_at DATETIME NOT NULL,
		total INTEGER NOT NULL,
		succeeded INTEGER NOT NULL,
		failed INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_runs_started ON runs(started_at);

	CREATE TABLE IF NOT EXISTS outcomes (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id TEXT NOT NULL,
		path TEXT NOT NULL,
		success INTEGER NOT NULL,
		error TEXT,
		message TEXT,
		tags_json TEXT,
		removed_tags_json TEXT,
		attempts INTEGER NOT NULL,
		invoked INTEGER NOT NULL,
		repaired INTEGER NOT NULL,
		hash_before TEXT,
		hash_after TEXT,
		duration_ms INTEGER NOT NULL,
		recorded_at DATETIME NOT NULL,
		FOREIGN KEY (run_id) REFERENCES runs(id)
	);
	CREATE INDEX IF NOT EXISTS idx_outcomes_run ON outcomes(run_id);
	CREATE INDEX IF NOT EXISTS idx_outcomes_path ON outcomes(path);
	`

	_, err := s.db.Exec(schema)
	return err
}

// RecordBatch stores a batch result as one run. The run ID is taken from
// the result.
func (s *Store) RecordBatch(command, target string, startedAt time.Time, result *tagger.BatchResult) (*Run, error) {
	run := &Run{
		ID:         result.RunID,
		Command:    command,
		Target:     target,
		StartedAt:  startedAt,
		FinishedAt: startedAt.Add(result.Elapsed),
		Total:      result.Total(),
		Succeeded:  result.SuccessCount,
		Failed:     result.ErrorCount,
	}
	if run.ID == "" {
		run.ID = uuid.NewString()
	}
	if err := s.record(run, result.Outcomes); err != nil {
		return nil, err
	}
	return run, nil
}

// RecordOutcome stores a single-file run.
func (s *Store) RecordOutcome(command string, startedAt time.Time, o *tagger.Outcome) (*Run, error) {
	run := &Run{
		ID:         uuid.NewString(),
		Command:    command,
		Target:     o.Path,
		StartedAt:  startedAt,
		FinishedAt: startedAt.Add(o.Duration),
		Total:      1,
	}
	if o.Success {
		run.Succeeded = 1
	} else {
		run.Failed = 1
	}
	if err := s.record(run, []*tagger.Outcome{o}); err != nil {
		return nil, err
	}
	return run, nil
}

func (s *Store) record(run *Run, outcomes []*tagger.Outcome) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.Exec(`
		INSERT INTO runs (id, command, target, started_at, finished_at, total, succeeded, failed)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, run.ID, run.Command, run.Target, run.StartedAt, run.FinishedAt,
		run.Total, run.Succeeded, run.Failed)
	if err != nil {
		return fmt.Errorf("failed to record run: %w", err)
	}

	stmt, err := tx.Prepare(`
		INSERT INTO outcomes (run_id, path, success, error, message, tags_json, removed_tags_json,
			attempts, invoked, repaired, hash_before, hash_after, duration_ms, recorded_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare outcome insert: %w", err)
	}
	defer stmt.Close()

	now := time.Now()
	for _, o := range outcomes {
		if o == nil {
			continue
		}
		tagsJSON, _ := json.Marshal(o.Tags)
		removedJSON, _ := json.Marshal(o.RemovedTags)
		_, err := stmt.Exec(run.ID, absPath(o.Path), o.Success, o.Error, o.Message,
			string(tagsJSON), string(removedJSON), o.Attempts, o.Invoked, o.Repaired,
			o.HashBefore, o.HashAfter, o.Duration.Milliseconds(), now)
		if err != nil {
			return fmt.Errorf("failed to record outcome for %s: %w", o.Path, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit run: %w", err)
	}

	s.log.Debug("run recorded",
		zap.String("run_id", run.ID),
		zap.String("command", run.Command),
		zap.Int("outcomes", len(outcomes)))
	return nil
}

// RecentRuns returns the most recent runs, newest first.
func (s *Store) RecentRuns(limit int) ([]Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(`
		SELECT id, command, target, started_at, finished_at, total, succeeded, failed
		FROM runs
		ORDER BY started_at DESC, rowid DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}
	defer rows.Close()

	runs := []Run{}
	for rows.Next() {
		var r Run
		if err := rows.Scan(&r.ID, &r.Command, &r.Target, &r.StartedAt, &r.FinishedAt,
			&r.Total, &r.Succeeded, &r.Failed); err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// RunOutcomes returns the outcomes recorded for one run in insertion order.
func (s *Store) RunOutcomes(runID string) ([]OutcomeRecord, error) {
	return s.queryOutcomes(`WHERE run_id = ? ORDER BY id ASC`, runID)
}

// FileHistory returns the outcomes recorded for path, newest first.
func (s *Store) FileHistory(path string, limit int) ([]OutcomeRecord, error) {
	return s.queryOutcomes(`WHERE path = ? ORDER BY id DESC LIMIT ?`, absPath(path), limit)
}

func (s *Store) queryOutcomes(where string, args ...any) ([]OutcomeRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(`
		SELECT id, run_id, path, success, error, message, tags_json, removed_tags_json,
			attempts, invoked, repaired, hash_before, hash_after, duration_ms, recorded_at
		FROM outcomes
		`+where, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query outcomes: %w", err)
	}
	defer rows.Close()

	records := []OutcomeRecord{}
	for rows.Next() {
		var rec OutcomeRecord
		var errMsg, message, tagsJSON, removedJSON, hashBefore, hashAfter sql.NullString
		if err := rows.Scan(&rec.ID, &rec.RunID, &rec.Path, &rec.Success, &errMsg, &message,
			&tagsJSON, &removedJSON, &rec.Attempts, &rec.Invoked, &rec.Repaired,
			&hashBefore, &hashAfter, &rec.DurationMs, &rec.RecordedAt); err != nil {
			return nil, fmt.Errorf("failed to scan outcome: %w", err)
		}
		rec.Error = errMsg.String
		rec.Message = message.String
		rec.HashBefore = hashBefore.String
		rec.HashAfter = hashAfter.String
		rec.Tags = []string{}
		if tagsJSON.Valid {
			_ = json.Unmarshal([]byte(tagsJSON.String), &rec.Tags)
		}
		if removedJSON.Valid {
			_ = json.Unmarshal([]byte(removedJSON.String), &rec.RemovedTags)
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

func absPath(p string) string {
	if abs, err := filepath.Abs(p); err == nil {
		return abs
	}
	return p
}
