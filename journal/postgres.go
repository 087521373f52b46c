package journal

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

var postgresSchema = []string{`
CREATE TABLE IF NOT EXISTS rpc_calls (
	seq BIGSERIAL PRIMARY KEY,
	id UUID NOT NULL UNIQUE,
	direction TEXT NOT NULL,
	caller TEXT NOT NULL,
	service TEXT NOT NULL,
	procedure TEXT NOT NULL,
	encoding TEXT NOT NULL,
	code TEXT NOT NULL,
	duration_ms BIGINT NOT NULL,
	at TIMESTAMPTZ NOT NULL
)`,
	`CREATE INDEX IF NOT EXISTS idx_rpc_calls_service ON rpc_calls(service, procedure)`,
}

// PostgresStore is a Store backed by a PostgreSQL connection pool.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// OpenPostgres connects to the database described by dsn.
func OpenPostgres(ctx context.Context, dsn string) (*PostgresStore, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse connection string: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	for _, stmt := range postgresSchema {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			pool.Close()
			return nil, fmt.Errorf("failed to initialize schema: %w", err)
		}
	}

	return &PostgresStore{pool: pool}, nil
}

// Record stores e.
func (s *PostgresStore) Record(ctx context.Context, e Entry) error {
	e = normalize(e)
	_, err := s.pool.Exec(ctx, `
		INSERT INTO rpc_calls (id, direction, caller, service, procedure, encoding, code, duration_ms, at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		e.ID, string(e.Direction), e.Caller, e.Service, e.Procedure,
		e.Encoding, e.Code, e.DurationMS, e.At)
	if err != nil {
		return fmt.Errorf("failed to record call: %w", err)
	}
	return nil
}

// Recent returns up to limit entries, newest first.
func (s *PostgresStore) Recent(ctx context.Context, limit int) ([]Entry, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id::text, direction, caller, service, procedure, encoding, code, duration_ms, at
		FROM rpc_calls ORDER BY seq DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query calls: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var (
			e       Entry
			id, dir string
		)
		if err := rows.Scan(&id, &dir, &e.Caller, &e.Service, &e.Procedure,
			&e.Encoding, &e.Code, &e.DurationMS, &e.At); err != nil {
			return nil, fmt.Errorf("failed to scan call: %w", err)
		}
		if e.ID, err = uuid.Parse(id); err != nil {
			return nil, fmt.Errorf("invalid call id %q: %w", id, err)
		}
		e.Direction = Direction(dir)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Close closes the pool.
func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}
