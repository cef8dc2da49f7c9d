package shop

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	_ "github.com/go-sql-driver/mysql"
	_ "modernc.org/sqlite"
)

// Writer stores new products in the catalog of record.
type Writer interface {
	Insert(ctx context.Context, r Record) error
}

// Dialect selects the SQL driver behind SQLCatalog.
type Dialect string

// Supported dialects.
const (
	DialectSQLite Dialect = "sqlite"
	DialectMySQL  Dialect = "mysql"
)

// SQLCatalog is a Writer over database/sql. Products land in a "products"
// table keyed by an auto-increment ID, with the full record kept as JSON.
type SQLCatalog struct {
	db      *sql.DB
	dialect Dialect
}

// OpenSQLCatalog opens dsn with the dialect's driver and creates the
// products table if needed. For SQLite dsn is a file path or ":memory:".
func OpenSQLCatalog(ctx context.Context, dialect Dialect, dsn string) (*SQLCatalog, error) {
	if dialect != DialectSQLite && dialect != DialectMySQL {
		return nil, fmt.Errorf("unsupported catalog dialect %q", dialect)
	}

	db, err := sql.Open(string(dialect), dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s catalog: %w", dialect, err)
	}
	if dialect == DialectSQLite {
		db.SetMaxOpenConns(1)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping %s catalog: %w", dialect, err)
	}

	c := &SQLCatalog{db: db, dialect: dialect}
	if err := c.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return c, nil
}

func (c *SQLCatalog) migrate(ctx context.Context) error {
	ddl := `
		CREATE TABLE IF NOT EXISTS products (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			name TEXT NOT NULL,
			properties TEXT NOT NULL,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)
	`
	if c.dialect == DialectMySQL {
		ddl = `
			CREATE TABLE IF NOT EXISTS products (
				id BIGINT AUTO_INCREMENT PRIMARY KEY,
				name VARCHAR(512) NOT NULL,
				properties JSON NOT NULL,
				created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
			) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4
		`
	}
	if _, err := c.db.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("failed to create products table: %w", err)
	}
	return nil
}

// Insert adds r. Records without a name are rejected.
func (c *SQLCatalog) Insert(ctx context.Context, r Record) error {
	name := r.Name()
	if name == "" {
		return &WriteError{Err: ErrNoName}
	}
	props, err := json.Marshal(r)
	if err != nil {
		return &WriteError{Name: name, Err: err}
	}
	if _, err := c.db.ExecContext(ctx, "INSERT INTO products (name, properties) VALUES (?, ?)", name, string(props)); err != nil {
		return &WriteError{Name: name, Err: err}
	}
	return nil
}

// List returns every stored product in insertion order.
func (c *SQLCatalog) List(ctx context.Context) ([]Record, error) {
	rows, err := c.db.QueryContext(ctx, "SELECT properties FROM products ORDER BY id")
	if err != nil {
		return nil, fmt.Errorf("failed to query products: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("failed to scan product: %w", err)
		}
		var r Record
		if err := json.Unmarshal([]byte(raw), &r); err != nil {
			return nil, fmt.Errorf("failed to decode product: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// Close closes the database.
func (c *SQLCatalog) Close() error {
	return c.db.Close()
}
