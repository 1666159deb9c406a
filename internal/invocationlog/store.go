// Package invocationlog persists per-record processing outcomes for
// operational review: which application was served, with what status, and
// whether the cache answered. Writes are best-effort; the processor logs
// and drops a failed write rather than failing the record.
package invocationlog

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

// Entry is one processed record's outcome.
type Entry struct {
	RequestID  string
	AppName    string
	StatusCode int
	Cached     bool
	ErrorBody  string
	CreatedAt  time.Time
}

// Writer persists invocation entries.
type Writer interface {
	Write(ctx context.Context, entry Entry) error
}

// NoopWriter ignores all writes.
type NoopWriter struct{}

func (NoopWriter) Write(_ context.Context, _ Entry) error { return nil }

// SQLWriter persists entries to SQLite or Postgres.
type SQLWriter struct {
	db      *sql.DB
	dialect string
}

// NewSQLiteWriter opens (or creates) a SQLite-backed writer at dsn.
func NewSQLiteWriter(dsn string) (*SQLWriter, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		dsn = "router-invocations.db"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite invocation log: %w", err)
	}
	w := &SQLWriter{db: db, dialect: "sqlite"}
	if err := w.init(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return w, nil
}

// NewPostgresWriter opens a Postgres-backed writer.
func NewPostgresWriter(dsn string) (*SQLWriter, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, fmt.Errorf("postgres dsn is required")
	}
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres invocation log: %w", err)
	}
	w := &SQLWriter{db: db, dialect: "postgres"}
	if err := w.init(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return w, nil
}

func (w *SQLWriter) init() error {
	if err := w.db.Ping(); err != nil {
		return fmt.Errorf("ping %s invocation log: %w", w.dialect, err)
	}

	ddl := `
CREATE TABLE IF NOT EXISTS invocations (
	id INTEGER PRIMARY KEY,
	request_id TEXT,
	app_name TEXT,
	status_code INTEGER NOT NULL,
	cached INTEGER NOT NULL,
	error_body TEXT,
	created_at TIMESTAMP NOT NULL
);`
	if w.dialect == "postgres" {
		ddl = `
CREATE TABLE IF NOT EXISTS invocations (
	id BIGSERIAL PRIMARY KEY,
	request_id TEXT,
	app_name TEXT,
	status_code INTEGER NOT NULL,
	cached BOOLEAN NOT NULL,
	error_body TEXT,
	created_at TIMESTAMPTZ NOT NULL
);`
	}
	if _, err := w.db.Exec(ddl); err != nil {
		return fmt.Errorf("create invocations table: %w", err)
	}
	return nil
}

// Write inserts one entry.
func (w *SQLWriter) Write(ctx context.Context, entry Entry) error {
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	stmt := `INSERT INTO invocations (request_id, app_name, status_code, cached, error_body, created_at)
VALUES (?, ?, ?, ?, ?, ?)`
	args := []any{
		entry.RequestID, entry.AppName, entry.StatusCode,
		boolValue(entry.Cached, w.dialect), entry.ErrorBody, entry.CreatedAt,
	}
	if w.dialect == "postgres" {
		stmt = `INSERT INTO invocations (request_id, app_name, status_code, cached, error_body, created_at)
VALUES ($1, $2, $3, $4, $5, $6)`
	}

	if _, err := w.db.ExecContext(ctx, stmt, args...); err != nil {
		return fmt.Errorf("insert invocation: %w", err)
	}
	return nil
}

// CountByStatus returns how many entries exist per status code.
func (w *SQLWriter) CountByStatus(ctx context.Context) (map[int]int, error) {
	rows, err := w.db.QueryContext(ctx, `SELECT status_code, COUNT(*) FROM invocations GROUP BY status_code`)
	if err != nil {
		return nil, fmt.Errorf("count invocations: %w", err)
	}
	defer rows.Close()

	counts := make(map[int]int)
	for rows.Next() {
		var status, n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("scan invocation count: %w", err)
		}
		counts[status] = n
	}
	return counts, rows.Err()
}

// Close releases the database handle.
func (w *SQLWriter) Close() error {
	return w.db.Close()
}

// SQLite has no boolean type; store 0/1 there and a real bool on Postgres.
func boolValue(b bool, dialect string) any {
	if dialect == "postgres" {
		return b
	}
	if b {
		return 1
	}
	return 0
}
