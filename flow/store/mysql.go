package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	_ "github.com/go-sql-driver/mysql"
)

// MySQLStore is a Store backed by MySQL or MariaDB.
//
// Use it when several shopagent processes share parked runs: any process
// can Restore a run another one parked.
type MySQLStore[S any] struct {
	db     *sql.DB
	mu     sync.RWMutex
	closed bool
}

// NewMySQLStore connects with dsn, verifies the connection and migrates the
// schema.
//
// DSN format:
//
//	user:password@tcp(localhost:3306)/stepflow?parseTime=true
//
// Keep credentials out of source; read the DSN from configuration.
func NewMySQLStore[S any](dsn string) (*MySQLStore[S], error) {
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open MySQL connection: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)
	db.SetConnMaxIdleTime(10 * time.Minute)

	ctx := context.Background()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping MySQL: %w", err)
	}

	m := &MySQLStore[S]{db: db}
	if err := m.createTables(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}
	return m, nil
}

func (m *MySQLStore[S]) createTables(ctx context.Context) error {
	revisions := `
		CREATE TABLE IF NOT EXISTS run_revisions (
			id BIGINT AUTO_INCREMENT PRIMARY KEY,
			run_id VARCHAR(255) NOT NULL,
			rev INT NOT NULL,
			label VARCHAR(64) NOT NULL,
			state JSON NOT NULL,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			UNIQUE KEY uk_run_rev (run_id, rev),
			INDEX idx_run_id (run_id)
		) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4
	`
	if _, err := m.db.ExecContext(ctx, revisions); err != nil {
		return fmt.Errorf("failed to create run_revisions table: %w", err)
	}
	return nil
}

func (m *MySQLStore[S]) checkOpen() error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return ErrClosed
	}
	return nil
}

// SaveStep upserts a revision.
func (m *MySQLStore[S]) SaveStep(ctx context.Context, runID string, rev int, label string, state S) error {
	if err := m.checkOpen(); err != nil {
		return err
	}

	stateJSON, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("failed to marshal state: %w", err)
	}

	query := `
		INSERT INTO run_revisions (run_id, rev, label, state)
		VALUES (?, ?, ?, ?)
		ON DUPLICATE KEY UPDATE
			label = VALUES(label),
			state = VALUES(state)
	`
	if _, err := m.db.ExecContext(ctx, query, runID, rev, label, stateJSON); err != nil {
		return fmt.Errorf("failed to save revision: %w", err)
	}
	return nil
}

// LoadLatest returns the highest revision for runID.
func (m *MySQLStore[S]) LoadLatest(ctx context.Context, runID string) (state S, rev int, err error) {
	if err := m.checkOpen(); err != nil {
		return state, 0, err
	}

	query := `
		SELECT rev, state
		FROM run_revisions
		WHERE run_id = ?
		ORDER BY rev DESC
		LIMIT 1
	`
	var stateJSON []byte
	err = m.db.QueryRowContext(ctx, query, runID).Scan(&rev, &stateJSON)
	if errors.Is(err, sql.ErrNoRows) {
		var zero S
		return zero, 0, ErrNotFound
	}
	if err != nil {
		var zero S
		return zero, 0, fmt.Errorf("failed to load latest revision: %w", err)
	}
	if err := json.Unmarshal(stateJSON, &state); err != nil {
		var zero S
		return zero, 0, fmt.Errorf("failed to unmarshal state: %w", err)
	}
	return state, rev, nil
}

// History returns every revision of runID in order.
func (m *MySQLStore[S]) History(ctx context.Context, runID string) ([]StepRecord[S], error) {
	if err := m.checkOpen(); err != nil {
		return nil, err
	}

	rows, err := m.db.QueryContext(ctx, `
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
			stateJSON []byte
		)
		if err := rows.Scan(&record.Rev, &record.Label, &stateJSON); err != nil {
			return nil, fmt.Errorf("failed to scan revision: %w", err)
		}
		if err := json.Unmarshal(stateJSON, &record.State); err != nil {
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
func (m *MySQLStore[S]) ListRuns(ctx context.Context) ([]string, error) {
	if err := m.checkOpen(); err != nil {
		return nil, err
	}
	return listRuns(ctx, m.db)
}

// DeleteRun removes all revisions for runID.
func (m *MySQLStore[S]) DeleteRun(ctx context.Context, runID string) error {
	if err := m.checkOpen(); err != nil {
		return err
	}
	if _, err := m.db.ExecContext(ctx, "DELETE FROM run_revisions WHERE run_id = ?", runID); err != nil {
		return fmt.Errorf("failed to delete run: %w", err)
	}
	return nil
}

// Close closes the connection pool.
func (m *MySQLStore[S]) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil
	}
	m.closed = true
	return m.db.Close()
}

// Stats exposes connection pool statistics for monitoring.
func (m *MySQLStore[S]) Stats() sql.DBStats {
	return m.db.Stats()
}
