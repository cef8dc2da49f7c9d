package shop

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// PGCatalog is a Writer over a PostgreSQL connection pool. Properties are
// stored as JSONB.
type PGCatalog struct {
	db *pgxpool.Pool
}

// NewPGCatalog wraps an existing pool. Call Migrate once before use.
func NewPGCatalog(db *pgxpool.Pool) *PGCatalog {
	return &PGCatalog{db: db}
}

// OpenPGCatalog connects to connString and migrates the schema.
//
// Example connString:
//
//	host=localhost port=5432 user=shop password=secret dbname=shop sslmode=disable
func OpenPGCatalog(ctx context.Context, connString string) (*PGCatalog, error) {
	pool, err := pgxpool.New(ctx, connString)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping postgres: %w", err)
	}
	c := NewPGCatalog(pool)
	if err := c.Migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return c, nil
}

// Migrate creates the products table if needed.
func (c *PGCatalog) Migrate(ctx context.Context) error {
	_, err := c.db.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS products (
			id BIGSERIAL PRIMARY KEY,
			name TEXT NOT NULL,
			properties JSONB NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`)
	if err != nil {
		return fmt.Errorf("failed to create products table: %w", err)
	}
	return nil
}

// Insert adds r.
func (c *PGCatalog) Insert(ctx context.Context, r Record) error {
	name := r.Name()
	if name == "" {
		return &WriteError{Err: ErrNoName}
	}
	props, err := json.Marshal(r)
	if err != nil {
		return &WriteError{Name: name, Err: err}
	}
	if _, err := c.db.Exec(ctx, "INSERT INTO products (name, properties) VALUES ($1, $2)", name, props); err != nil {
		return &WriteError{Name: name, Err: err}
	}
	return nil
}

// List returns every stored product in insertion order.
func (c *PGCatalog) List(ctx context.Context) ([]Record, error) {
	rows, err := c.db.Query(ctx, "SELECT properties FROM products ORDER BY id")
	if err != nil {
		return nil, fmt.Errorf("failed to query products: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("failed to scan product: %w", err)
		}
		var r Record
		if err := json.Unmarshal(raw, &r); err != nil {
			return nil, fmt.Errorf("failed to decode product: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// Close releases the pool.
func (c *PGCatalog) Close() {
	c.db.Close()
}
