package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	_ "modernc.org/sqlite"
)

// SQLiteStore is a single-file Store backed by modernc.org/sqlite (pure Go,
// no cgo).
//
// It suits local development and single-process deployments where a parked
// run must survive a restart. The database runs in WAL mode so History
// reads do not block the dispatch loop's writes.
//
// Schema:
//   - run_revisions: one row per (run_id, rev) holding the JSON snapshot
type SQLiteStore[S any] struct {
	db     *sql.DB
	mu     sync.RWMutex
	closed bool
	path   string
}

// NewSQLiteStore opens (and migrates) the database at path. Use ":memory:"
// for a throwaway database in tests.
//
// Example:
//
//	st, err := store.NewSQLiteStore[flow.Snapshot]("./runs.db")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer st.Close()
func NewSQLiteStore[S any](path string) (*SQLiteStore[S], error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open SQLite connection: %w", err)
	}

	// SQLite supports one writer at a time; a single connection also keeps
	// ":memory:" databases alive for the lifetime of the store.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	ctx := context.Background()
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
	} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to apply %q: %w", pragma, err)
		}
	}

	s := &SQLiteStore[S]{db: db, path: path}
	if err := s.createTables(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore[S]) createTables(ctx context.Context) error {
	revisions := `
		CREATE TABLE IF NOT EXISTS run_revisions (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			run_id TEXT NOT NULL,
			rev INTEGER NOT NULL,
			label TEXT NOT NULL,
			state TEXT NOT NULL,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			UNIQUE(run_id, rev)
		)
	`
	if _, err := s.db.ExecContext(ctx, revisions); err != nil {
		return fmt.Errorf("failed to create run_revisions table: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, "CREATE INDEX IF NOT EXISTS idx_revisions_run_id ON run_revisions(run_id)"); err != nil {
		return fmt.Errorf("failed to create idx_revisions_run_id: %w", err)
	}
	return nil
}

func (s *SQLiteStore[S]) checkOpen() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrClosed
	}
	return nil
}

// SaveStep upserts a revision.
func (s *SQLiteStore[S]) SaveStep(ctx context.Context, runID string, rev int, label string, state S) error {
	if err := s.checkOpen(); err != nil {
		return err
	}

	stateJSON, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("failed to marshal state: %w", err)
	}

	query := `
		INSERT INTO run_revisions (run_id, rev, label, state)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(run_id, rev) DO UPDATE SET
			label = excluded.label,
			state = excluded.state
	`
	if _, err := s.db.ExecContext(ctx, query, runID, rev, label, string(stateJSON)); err != nil {
		return fmt.Errorf("failed to save revision: %w", err)
	}
	return nil
}

// LoadLatest returns the highest revision for runID.
func (s *SQLiteStore[S]) LoadLatest(ctx context.Context, runID string) (state S, rev int, err error) {
	if err := s.checkOpen(); err != nil {
		return state, 0, err
	}

	query := `
		SELECT rev, state
		FROM run_revisions
		WHERE run_id = ?
		ORDER BY rev DESC
		LIMIT 1
	`
	var stateJSON string
	err = s.db.QueryRowContext(ctx, query, runID).Scan(&rev, &stateJSON)
	if errors.Is(err, sql.ErrNoRows) {
		var zero S
		return zero, 0, ErrNotFound
	}
	if err != nil {
		var zero S
		return zero, 0, fmt.Errorf("failed to load latest revision: %w", err)
	}

	if err := json.Unmarshal([]byte(stateJSON), &state); err != nil {
		var zero S
		return zero, 0, fmt.Errorf("failed to unmarshal state: %w", err)
	}
	return state, rev, nil
}

// History returns every revision of runID in order.
func (s *SQLiteStore[S]) History(ctx context.Context, runID string) ([]StepRecord[S], error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT rev, label, state
		FROM run_revisions
		WHERE run_id = ?
		ORDER BY rev ASC
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query history: %w", err)
	}
	defer rows.Close()

	var records []StepRecord[S]
	for rows.Next() {
		var (
			record    StepRecord[S]
			stateJSON string
		)
		if err := rows.Scan(&record.Rev, &record.Label, &stateJSON); err != nil {
			return nil, fmt.Errorf("failed to scan revision: %w", err)
		}
		if err := json.Unmarshal([]byte(stateJSON), &record.State); err != nil {
			return nil, fmt.Errorf("failed to unmarshal state: %w", err)
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate history: %w", err)
	}
	if len(records) == 0 {
		return nil, ErrNotFound
	}
	return records, nil
}

// ListRuns returns distinct run IDs in lexical order.
func (s *SQLiteStore[S]) ListRuns(ctx context.Context) ([]string, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	return listRuns(ctx, s.db)
}

// DeleteRun removes all revisions for runID.
func (s *SQLiteStore[S]) DeleteRun(ctx context.Context, runID string) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, "DELETE FROM run_revisions WHERE run_id = ?", runID); err != nil {
		return fmt.Errorf("failed to delete run: %w", err)
	}
	return nil
}

// Close closes the database. Further calls return ErrClosed.
func (s *SQLiteStore[S]) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}

// Path returns the database location passed to NewSQLiteStore.
func (s *SQLiteStore[S]) Path() string {
	return s.path
}

func listRuns(ctx context.Context, db *sql.DB) ([]string, error) {
	rows, err := db.QueryContext(ctx, "SELECT DISTINCT run_id FROM run_revisions ORDER BY run_id")
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan run id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
