// Package database opens PostgreSQL and SQLite handles and hides the few
// places where their SQL differs.
package database

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"time"

	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/xfxf/dabo/internal/logging"
	"github.com/xfxf/dabo/internal/metrics"
)

// Dialect identifies the SQL flavour of a database handle.
type Dialect string

const (
	Postgres Dialect = "postgres"
	SQLite   Dialect = "sqlite3"
)

// ParseDialect maps a driver or dbtype name to a Dialect.
func ParseDialect(name string) (Dialect, error) {
	switch strings.ToLower(name) {
	case "postgres", "postgresql", "pq":
		return Postgres, nil
	case "sqlite", "sqlite3":
		return SQLite, nil
	}
	return "", fmt.Errorf("unsupported database type %q", name)
}

// Placeholder returns the bind parameter for the n-th (1-based) argument.
func (d Dialect) Placeholder(n int) string {
	if d == Postgres {
		return "$" + strconv.Itoa(n)
	}
	return "?"
}

// Placeholders returns n comma-separated bind parameters starting at from.
func (d Dialect) Placeholders(from, n int) string {
	parts := make([]string, n)
	for i := range parts {
		parts[i] = d.Placeholder(from + i)
	}
	return strings.Join(parts, ", ")
}

// QuoteIdent quotes an identifier that has already been validated.
func (d Dialect) QuoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

// DB is an open database handle with its dialect.
type DB struct {
	*sql.DB
	Dialect Dialect
	name    string
}

// Open opens and pings a database. name labels the connection in metrics.
func Open(ctx context.Context, name string, dialect Dialect, dsn string) (*DB, error) {
	db, err := sql.Open(string(dialect), dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	switch dialect {
	case SQLite:
		// SQLite serializes writers; one connection avoids SQLITE_BUSY
		// and keeps :memory: databases shared.
		db.SetMaxOpenConns(1)
	default:
		db.SetMaxOpenConns(25)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(5 * time.Minute)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	logging.Debug("database opened", zap.String("name", name), zap.String("dialect", string(dialect)))
	return &DB{DB: db, Dialect: dialect, name: name}, nil
}

// Name returns the label the handle was opened with.
func (db *DB) Name() string { return db.name }

// UpdateConnectionMetrics updates the open connections gauge.
func (db *DB) UpdateConnectionMetrics() {
	metrics.SetDBConnectionsOpen(db.name, db.Stats().OpenConnections)
}

// Rebind rewrites "?" placeholders for the handle's dialect.
func (db *DB) Rebind(query string) string {
	if db.Dialect != Postgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteString(db.Dialect.Placeholder(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

var migrations = map[Dialect][]string{
	Postgres: {
		`CREATE TABLE IF NOT EXISTS filecache (
			token   TEXT PRIMARY KEY,
			updated BIGINT NOT NULL,
			payload BYTEA NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS filecache_updated_idx ON filecache (updated)`,
	},
	SQLite: {
		`CREATE TABLE IF NOT EXISTS filecache (
			token   TEXT PRIMARY KEY,
			updated INTEGER NOT NULL,
			payload BLOB NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS filecache_updated_idx ON filecache (updated)`,
	},
}

// Migrate creates the tables the server owns.
func (db *DB) Migrate(ctx context.Context) error {
	for i, stmt := range migrations[db.Dialect] {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migration %d: %w", i+1, err)
		}
	}
	logging.Info("database migrated", zap.String("name", db.name))
	return nil
}

// RunMetrics refreshes connection metrics until ctx is done.
func (db *DB) RunMetrics(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			db.UpdateConnectionMetrics()
		}
	}
}
