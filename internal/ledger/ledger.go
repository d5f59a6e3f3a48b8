// Package ledger persists the set of episode files that have been
// fully downloaded. Presence of a filename means the transfer completed
// and the file was moved into its final place; absence means nothing
// (the file may still exist on disk from an interrupted earlier run).
package ledger

import (
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // SQLite driver

	"github.com/mainmeister/dlclubtwit/internal/util"
)

const currentSchemaVersion = 1

// Schema v1 - Initial database schema
const schemaV1 = `
-- Schema version tracking
CREATE TABLE IF NOT EXISTS schema_version (
  version INTEGER PRIMARY KEY,
  applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
);

-- Completed downloads, one row per output filename
CREATE TABLE IF NOT EXISTS downloads (
  filename TEXT UNIQUE NOT NULL,
  recorded_at DATETIME DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_downloads_filename ON downloads(filename);
`

// Ledger is the durable completion record backed by SQLite
type Ledger struct {
	db *sql.DB
}

// Entry is one completed download as recorded in the ledger
type Entry struct {
	Filename   string
	RecordedAt time.Time
}

// Open opens or creates the ledger database at the given path.
// Opening an existing database leaves its contents untouched.
func Open(path string) (*Ledger, error) {
	// Open with pragmas for performance and reliability
	dsn := fmt.Sprintf("file:%s?_journal_mode=WAL&_timeout=5000&_busy_timeout=5000", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite works best with a single writer
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	l := &Ledger{db: db}

	if err := l.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migration failed: %w", err)
	}

	return l, nil
}

// Close closes the database connection
func (l *Ledger) Close() error {
	return l.db.Close()
}

// Contains reports whether a completion record exists for filename
func (l *Ledger) Contains(filename string) (bool, error) {
	var count int
	err := l.db.QueryRow(
		"SELECT COUNT(*) FROM downloads WHERE filename = ?", filename,
	).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("failed to query ledger: %w", err)
	}
	return count > 0, nil
}

// Record inserts a completion record for filename. Returns ErrDuplicate
// if the filename is already recorded; callers treat that as a no-op
// since a retry after a partial commit can legitimately insert twice.
func (l *Ledger) Record(filename string) error {
	result, err := l.db.Exec(
		"INSERT OR IGNORE INTO downloads (filename) VALUES (?)", filename,
	)
	if err != nil {
		return fmt.Errorf("failed to record %s: %w", filename, err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to record %s: %w", filename, err)
	}
	if rows == 0 {
		return fmt.Errorf("record %s: %w", filename, util.ErrDuplicate)
	}

	return nil
}

// Remove deletes the completion record for filename so the episode is
// downloaded again on the next run. Removing an absent filename is not
// an error.
func (l *Ledger) Remove(filename string) error {
	if _, err := l.db.Exec("DELETE FROM downloads WHERE filename = ?", filename); err != nil {
		return fmt.Errorf("failed to remove %s: %w", filename, err)
	}
	return nil
}

// Entries returns all completion records ordered by recording time
func (l *Ledger) Entries() ([]Entry, error) {
	rows, err := l.db.Query(
		"SELECT filename, recorded_at FROM downloads ORDER BY recorded_at, filename",
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query ledger: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.Filename, &e.RecordedAt); err != nil {
			return nil, fmt.Errorf("failed to scan entry: %w", err)
		}
		entries = append(entries, e)
	}

	return entries, rows.Err()
}

// migrate applies database migrations
func (l *Ledger) migrate() error {
	version, err := l.getSchemaVersion()
	if err != nil {
		return err
	}

	if version >= currentSchemaVersion {
		// Already at current version
		return nil
	}

	tx, err := l.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if version < 1 {
		if _, err := tx.Exec(schemaV1); err != nil {
			return fmt.Errorf("failed to apply schema v1: %w", err)
		}
		if _, err := tx.Exec("INSERT INTO schema_version (version) VALUES (?)", 1); err != nil {
			return fmt.Errorf("failed to set schema version: %w", err)
		}
	}

	// Future migrations would go here:
	// if version < 2 { ... }

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit migration: %w", err)
	}

	return nil
}

// getSchemaVersion returns the current schema version
func (l *Ledger) getSchemaVersion() (int, error) {
	var exists int
	err := l.db.QueryRow(`
		SELECT COUNT(*) FROM sqlite_master
		WHERE type='table' AND name='schema_version'
	`).Scan(&exists)
	if err != nil {
		return 0, err
	}

	if exists == 0 {
		// No schema yet
		return 0, nil
	}

	var version int
	err = l.db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_version").Scan(&version)
	if err != nil {
		return 0, err
	}

	return version, nil
}
