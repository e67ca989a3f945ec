package store

import (
	"database/sql"
	"fmt"

	"go.uber.org/zap"
)

// CurrentSchemaVersion is stored in PRAGMA user_version.
//
// v1: runs and outcomes with path, success, error, tags
// v2: informational message, removed tags, repair flag
// v3: content hashes before and after each run
const CurrentSchemaVersion = 3

// Migration adds a column that older ledgers lack.
type Migration struct {
	Version int
	Table   string
	Column  string
	Def     string
}

var pendingMigrations = []Migration{
	{2, "outcomes", "message", "TEXT"},
	{2, "outcomes", "removed_tags_json", "TEXT"},
	{2, "outcomes", "repaired", "INTEGER NOT NULL DEFAULT 0"},
	{3, "outcomes", "hash_before", "TEXT"},
	{3, "outcomes", "hash_after", "TEXT"},
}

// runMigrations brings an existing ledger up to CurrentSchemaVersion.
func (s *Store) runMigrations() error {
	version, err := schemaVersion(s.db)
	if err != nil {
		return err
	}
	if version >= CurrentSchemaVersion {
		return nil
	}

	applied := 0
	for _, m := range pendingMigrations {
		if m.Version <= version {
			continue
		}
		exists, err := columnExists(s.db, m.Table, m.Column)
		if err != nil {
			return err
		}
		if exists {
			continue
		}
		query := fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s", m.Table, m.Column, m.Def)
		if _, err := s.db.Exec(query); err != nil {
			return fmt.Errorf("migration %s.%s failed: %w", m.Table, m.Column, err)
		}
		s.log.Info("migration applied", zap.String("table", m.Table), zap.String("column", m.Column))
		applied++
	}

	if _, err := s.db.Exec(fmt.Sprintf("PRAGMA user_version = %d", CurrentSchemaVersion)); err != nil {
		return fmt.Errorf("failed to set schema version: %w", err)
	}
	s.log.Debug("schema migrations complete",
		zap.Int("from", version),
		zap.Int("to", CurrentSchemaVersion),
		zap.Int("applied", applied))
	return nil
}

func schemaVersion(db *sql.DB) (int, error) {
	var v int
	if err := db.QueryRow("PRAGMA user_version").Scan(&v); err != nil {
		return 0, fmt.Errorf("failed to read schema version: %w", err)
	}
	return v, nil
}

// columnExists checks a column with PRAGMA table_info.
func columnExists(db *sql.DB, table, column string) (bool, error) {
	rows, err := db.Query(fmt.Sprintf("PRAGMA table_info(%s)", table))
	if err != nil {
		return false, fmt.Errorf("failed to inspect %s: %w", table, err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			cid       int
			name      string
			ctype     string
			notnull   int
			dfltValue any
			pk        int
		)
		if err := rows.Scan(&cid, &name, &ctype, &notnull, &dfltValue, &pk); err != nil {
			return false, err
		}
		if name == column {
			return true, nil
		}
	}
	return false, rows.Err()
}
