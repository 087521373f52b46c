package journal

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS rpc_calls (
	seq INTEGER PRIMARY KEY AUTOINCREMENT,
	id TEXT NOT NULL UNIQUE,
	direction TEXT NOT NULL,
	caller TEXT NOT NULL,
	service TEXT NOT NULL,
	procedure TEXT NOT NULL,
	encoding TEXT NOT NULL,
	code TEXT NOT NULL,
	duration_ms INTEGER NOT NULL,
	at_ms INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_rpc_calls_service ON rpc_calls(service, procedure);
`

// SQLiteStore is a Store backed by a SQLite file.
type SQLiteStore struct {
	db   *sql.DB
	path string
}

// OpenSQLite opens or creates the SQLite database at path.
func OpenSQLite(ctx context.Context, path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// SQLite allows a single writer
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &SQLiteStore{db: db, path: path}, nil
}

// Path returns the database path.
func (s *SQLiteStore) Path() string {
	return s.path
}

// Record stores e.
func (s *SQLiteStore) Record(ctx context.Context, e Entry) error {
	e = normalize(e)
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO rpc_calls (id, direction, caller, service, procedure, encoding, code, duration_ms, at_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID.String(), string(e.Direction), e.Caller, e.Service, e.Procedure,
		e.Encoding, e.Code, e.DurationMS, e.At.UnixMilli())
	if err != nil {
		return fmt.Errorf("failed to record call: %w", err)
	}
	return nil
}

// Recent returns up to limit entries, newest first.
func (s *SQLiteStore) Recent(ctx context.Context, limit int) ([]Entry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, direction, caller, service, procedure, encoding, code, duration_ms, at_ms
		FROM rpc_calls ORDER BY seq DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query calls: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var (
			e        Entry
			id, dir  string
			atMillis int64
		)
		if err := rows.Scan(&id, &dir, &e.Caller, &e.Service, &e.Procedure,
			&e.Encoding, &e.Code, &e.DurationMS, &atMillis); err != nil {
			return nil, fmt.Errorf("failed to scan call: %w", err)
		}
		if e.ID, err = uuid.Parse(id); err != nil {
			return nil, fmt.Errorf("invalid call id %q: %w", id, err)
		}
		e.Direction = Direction(dir)
		e.At = time.UnixMilli(atMillis)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
