// Package sqlite stores pipeline run history in a SQLite database using the
// pure-Go modernc.org/sqlite driver.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fwojciec/crew"
	crewjson "github.com/fwojciec/crew/json"
	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// Interface compliance check.
var _ crew.RunStore = (*DB)(nil)

// DB wraps an SQLite connection holding run history.
type DB struct {
	conn *sql.DB
	path string
	mu   sync.RWMutex
	now  func() time.Time
}

// Open opens the database at path, creating parent directories, and applies
// pending migrations. WAL mode is enabled for concurrent readers.
func Open(path string) (*DB, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}
	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if _, err := conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}
	if _, err := conn.Exec("PRAGMA busy_timeout=5000"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}
	db := &DB{conn: conn, path: path, now: time.Now}
	if err := db.Migrate(); err != nil {
		conn.Close()
		return nil, err
	}
	return db, nil
}

// Close closes the database connection.
func (db *DB) Close() error {
	db.mu.Lock()
	defer db.mu.Unlock()
	return db.conn.Close()
}

// Path returns the path to the database file.
func (db *DB) Path() string {
	return db.path
}

// Migrate applies all pending schema migrations. It is idempotent.
func (db *DB) Migrate() error {
	db.mu.Lock()
	defer db.mu.Unlock()

	_, err := db.conn.Exec(`
		CREATE TABLE IF NOT EXISTS schema_version (
			version INTEGER PRIMARY KEY,
			applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)
	`)
	if err != nil {
		return fmt.Errorf("create schema_version table: %w", err)
	}

	var current int
	if err := db.conn.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_version").Scan(&current); err != nil {
		return fmt.Errorf("get schema version: %w", err)
	}

	migrations := []struct {
		version int
		sql     string
	}{
		{1, migrationV1Runs},
	}
	for _, m := range migrations {
		if m.version <= current {
			continue
		}
		tx, err := db.conn.Begin()
		if err != nil {
			return fmt.Errorf("begin transaction: %w", err)
		}
		if _, err := tx.Exec(m.sql); err != nil {
			tx.Rollback()
			return fmt.Errorf("apply migration v%d: %w", m.version, err)
		}
		if _, err := tx.Exec("INSERT INTO schema_version (version) VALUES (?)", m.version); err != nil {
			tx.Rollback()
			return fmt.Errorf("record migration v%d: %w", m.version, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration v%d: %w", m.version, err)
		}
	}
	return nil
}

const migrationV1Runs = `
CREATE TABLE IF NOT EXISTS runs (
	id TEXT PRIMARY KEY,
	session_id TEXT NOT NULL,
	description TEXT NOT NULL,
	requirements TEXT NOT NULL DEFAULT '',
	status TEXT NOT NULL,
	error TEXT NOT NULL DEFAULT '',
	plan TEXT NOT NULL DEFAULT '',
	code TEXT NOT NULL DEFAULT '',
	tests TEXT NOT NULL DEFAULT '',
	metrics TEXT NOT NULL,
	started_at TEXT NOT NULL,
	ended_at TEXT NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_runs_started_at ON runs(started_at);
`

// RecordRun inserts run, or replaces the record with the same id. An empty
// ID is filled with a new UUID; a zero StartedAt with the current time.
func (db *DB) RecordRun(ctx context.Context, run crew.Run) error {
	if run.ID == "" {
		run.ID = uuid.NewString()
	}
	if run.StartedAt.IsZero() {
		run.StartedAt = db.now()
	}
	if run.Status != crew.RunCompleted && run.Status != crew.RunFailed {
		return fmt.Errorf("record run: invalid status %q: %w", run.Status, crew.ErrValidation)
	}
	metrics, err := crewjson.MarshalSummary(run.Metrics)
	if err != nil {
		return fmt.Errorf("record run: encode metrics: %w", err)
	}

	db.mu.Lock()
	defer db.mu.Unlock()
	_, err = db.conn.ExecContext(ctx, `
		INSERT OR REPLACE INTO runs
			(id, session_id, description, requirements, status, error, plan, code, tests, metrics, started_at, ended_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.SessionID, run.Description, run.Requirements, string(run.Status), run.Error,
		run.Plan, run.Code, run.Tests, string(metrics),
		formatTime(run.StartedAt), formatTime(run.EndedAt),
	)
	if err != nil {
		return fmt.Errorf("record run: %w", err)
	}
	return nil
}

// ListRuns returns up to limit runs, most recent first. A limit below one
// returns every run.
func (db *DB) ListRuns(ctx context.Context, limit int) ([]crew.Run, error) {
	if limit < 1 {
		limit = -1
	}
	db.mu.RLock()
	defer db.mu.RUnlock()

	rows, err := db.conn.QueryContext(ctx, `
		SELECT id, session_id, description, requirements, status, error, plan, code, tests, metrics, started_at, ended_at
		FROM runs
		ORDER BY started_at DESC, id
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var runs []crew.Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("list runs: %w", err)
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	return runs, nil
}

// GetRun returns the run with the given id, or crew.ErrRunNotFound.
func (db *DB) GetRun(ctx context.Context, id string) (crew.Run, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()

	row := db.conn.QueryRowContext(ctx, `
		SELECT id, session_id, description, requirements, status, error, plan, code, tests, metrics, started_at, ended_at
		FROM runs WHERE id = ?`, id)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return crew.Run{}, fmt.Errorf("get run %s: %w", id, crew.ErrRunNotFound)
	}
	if err != nil {
		return crew.Run{}, fmt.Errorf("get run %s: %w", id, err)
	}
	return run, nil
}

// timeLayout is fixed-width so stored timestamps sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(s scanner) (crew.Run, error) {
	var (
		run                crew.Run
		status, metrics    string
		startedAt, endedAt string
	)
	err := s.Scan(&run.ID, &run.SessionID, &run.Description, &run.Requirements, &status, &run.Error,
		&run.Plan, &run.Code, &run.Tests, &metrics, &startedAt, &endedAt)
	if err != nil {
		return crew.Run{}, err
	}
	run.Status = crew.RunStatus(status)
	if run.Metrics, err = crewjson.UnmarshalSummary([]byte(metrics)); err != nil {
		return crew.Run{}, fmt.Errorf("decode metrics: %w", err)
	}
	if run.StartedAt, err = parseTime(startedAt); err != nil {
		return crew.Run{}, err
	}
	if run.EndedAt, err = parseTime(endedAt); err != nil {
		return crew.Run{}, err
	}
	return run, nil
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse time %q: %w", s, err)
	}
	return t, nil
}
