package checkpoint

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	_ "github.com/mattn/go-sqlite3"

	"github.com/xhe623/planrun/internal/domain"
)

// SQLiteStore implements Store using SQLite. The full task ledger and
// trace log are stored as JSON columns; the summary fields the listing
// view needs are kept as plain columns so List never touches the JSON.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a new SQLite store.
func NewSQLiteStore(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// For in-memory SQLite, multiple connections create separate databases.
	// Keep a single connection to avoid schema/data disappearing across goroutines.
	if dsn == ":memory:" || strings.Contains(dsn, "mode=memory") {
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
	}

	store := &SQLiteStore{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return store, nil
}

func (s *SQLiteStore) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS runs (
			run_id TEXT PRIMARY KEY,
			goal TEXT NOT NULL,
			phase TEXT NOT NULL,
			paused INTEGER NOT NULL DEFAULT 0,
			last_error TEXT,
			task_count INTEGER NOT NULL DEFAULT 0,
			completed_count INTEGER NOT NULL DEFAULT 0,
			failed_count INTEGER NOT NULL DEFAULT 0,
			tasks TEXT NOT NULL,
			traces TEXT NOT NULL,
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_runs_updated ON runs(updated_at)`,
	}

	for _, m := range migrations {
		if _, err := s.db.Exec(m); err != nil {
			return fmt.Errorf("migration failed: %w\n%s", err, m)
		}
	}
	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Save overwrites the snapshot for the run in a single statement, so a
// concurrent reader sees either the old or the new snapshot, never a mix.
func (s *SQLiteStore) Save(ctx context.Context, state *domain.RunState) error {
	tasks, err := json.Marshal(state.Tasks)
	if err != nil {
		return fmt.Errorf("failed to marshal tasks: %w", err)
	}
	traces, err := json.Marshal(state.Traces)
	if err != nil {
		return fmt.Errorf("failed to marshal traces: %w", err)
	}

	p := state.Progress()
	_, err = s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO runs
		 (run_id, goal, phase, paused, last_error, task_count, completed_count, failed_count, tasks, traces, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		state.RunID, state.Goal, state.Phase, state.Paused, nullString(state.LastError),
		p.Total, p.Completed, p.Failed, string(tasks), string(traces),
		state.CreatedAt, state.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to save snapshot: %w", err)
	}
	return nil
}

// Load returns the snapshot for the run, or (nil, nil) if none exists.
func (s *SQLiteStore) Load(ctx context.Context, runID string) (*domain.RunState, error) {
	var state domain.RunState
	var lastError sql.NullString
	var tasks, traces string
	err := s.db.QueryRowContext(ctx,
		`SELECT run_id, goal, phase, paused, last_error, tasks, traces, created_at, updated_at
		 FROM runs WHERE run_id = ?`, runID).
		Scan(&state.RunID, &state.Goal, &state.Phase, &state.Paused, &lastError,
			&tasks, &traces, &state.CreatedAt, &state.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if lastError.Valid {
		state.LastError = lastError.String
	}
	if err := json.Unmarshal([]byte(tasks), &state.Tasks); err != nil {
		return nil, fmt.Errorf("corrupt tasks for run %s: %w", runID, err)
	}
	if err := json.Unmarshal([]byte(traces), &state.Traces); err != nil {
		return nil, fmt.Errorf("corrupt traces for run %s: %w", runID, err)
	}
	return &state, nil
}

// List returns summaries of all known runs, most recently updated first.
func (s *SQLiteStore) List(ctx context.Context) ([]domain.RunSummary, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT run_id, goal, phase, paused, task_count, completed_count, failed_count, created_at, updated_at
		 FROM runs ORDER BY updated_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var summaries []domain.RunSummary
	for rows.Next() {
		var sum domain.RunSummary
		if err := rows.Scan(&sum.RunID, &sum.Goal, &sum.Phase, &sum.Paused,
			&sum.TaskCount, &sum.CompletedCount, &sum.FailedCount,
			&sum.CreatedAt, &sum.UpdatedAt); err != nil {
			return nil, err
		}
		summaries = append(summaries, sum)
	}
	return summaries, rows.Err()
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
