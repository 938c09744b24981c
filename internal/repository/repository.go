// Package repository persists the job run log in PostgreSQL.
package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Pool size defaults. The run log sees one write per job attempt, so a small
// pool is enough for both the API and the worker.
const (
	DefaultMaxConns int32 = 10
	DefaultMinConns int32 = 2
)

// Option tunes the connection pool.
type Option func(*pgxpool.Config)

// WithPoolSize overrides the pool bounds. Non-positive values keep the default.
func WithPoolSize(minConns, maxConns int32) Option {
	return func(c *pgxpool.Config) {
		if maxConns > 0 {
			c.MaxConns = maxConns
		}
		if minConns > 0 && minConns <= c.MaxConns {
			c.MinConns = minConns
		}
	}
}

// Repository stores job runs.
type Repository struct {
	pool *pgxpool.Pool
}

// New connects to databaseURL and verifies the connection before returning.
func New(ctx context.Context, databaseURL string, opts ...Option) (*Repository, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database URL: %w", err)
	}
	cfg.MaxConns = DefaultMaxConns
	cfg.MinConns = DefaultMinConns
	for _, opt := range opts {
		opt(cfg)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return &Repository{pool: pool}, nil
}

// Ping satisfies the readiness checker.
func (r *Repository) Ping(ctx context.Context) error {
	return r.pool.Ping(ctx)
}

func (r *Repository) Close() {
	r.pool.Close()
}

// Pool exposes the pool to test helpers that need raw access.
func (r *Repository) Pool() *pgxpool.Pool {
	return r.pool
}

const jobRunsSchema = `
CREATE TABLE IF NOT EXISTS job_runs (
	job_id      TEXT PRIMARY KEY,
	message_id  TEXT NOT NULL DEFAULT '',
	kind        TEXT NOT NULL,
	path        TEXT NOT NULL,
	status      TEXT NOT NULL,
	attempts    INTEGER NOT NULL DEFAULT 0,
	created     INTEGER NOT NULL DEFAULT 0,
	failed      INTEGER NOT NULL DEFAULT 0,
	error       TEXT NOT NULL DEFAULT '',
	started_at  TIMESTAMPTZ NOT NULL,
	finished_at TIMESTAMPTZ
);
CREATE INDEX IF NOT EXISTS idx_job_runs_started_at ON job_runs (started_at DESC);
CREATE INDEX IF NOT EXISTS idx_job_runs_status ON job_runs (status);
`

// EnsureSchema creates the job_runs table and its indexes. It is idempotent.
func (r *Repository) EnsureSchema(ctx context.Context) error {
	if _, err := r.pool.Exec(ctx, jobRunsSchema); err != nil {
		return fmt.Errorf("ensure job_runs schema: %w", err)
	}
	return nil
}
