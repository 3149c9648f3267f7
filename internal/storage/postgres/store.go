// Package postgres persists targets, schedules, results, catalog products and
// activity rows in Postgres through a pgx connection pool.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/catalog-crawler/internal/crawler"
)

// Config controls the Postgres connection pool.
type Config struct {
	DSN             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

// Pool is the subset of pgxpool.Pool used by the store.
type Pool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
	Close()
}

// Store implements crawler.Store on Postgres.
type Store struct {
	pool Pool
}

var _ crawler.Store = (*Store)(nil)

// New connects a pool using cfg.
func New(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("database.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &Store{pool: pool}, nil
}

// NewWithPool constructs a store from an existing pool (primarily for testing).
func NewWithPool(pool Pool) (*Store, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &Store{pool: pool}, nil
}

// Close releases the underlying pool resources.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// Migrate creates the tables the engine needs when they are missing.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

func notFound(err error, sentinel error, what string) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%s: %w", what, sentinel)
	}
	return fmt.Errorf("%s: %w", what, err)
}

const schema = `
CREATE TABLE IF NOT EXISTS crawl_targets (
	id           TEXT PRIMARY KEY,
	url          TEXT NOT NULL,
	supplier_id  TEXT NOT NULL DEFAULT '',
	selectors    JSONB NOT NULL,
	frequency    TEXT NOT NULL,
	cron_expr    TEXT NOT NULL DEFAULT '',
	status       TEXT NOT NULL,
	headers      JSONB NOT NULL DEFAULT '{}',
	cookies      JSONB NOT NULL DEFAULT '{}',
	rate_limit   DOUBLE PRECISION NOT NULL DEFAULT 0,
	max_pages    INTEGER NOT NULL DEFAULT 1,
	last_crawled TIMESTAMPTZ,
	created_at   TIMESTAMPTZ NOT NULL,
	updated_at   TIMESTAMPTZ NOT NULL
);
CREATE TABLE IF NOT EXISTS crawl_schedules (
	target_id TEXT PRIMARY KEY REFERENCES crawl_targets(id) ON DELETE CASCADE,
	next_run  TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS crawl_schedules_next_run_idx ON crawl_schedules (next_run);
CREATE TABLE IF NOT EXISTS crawl_results (
	id            TEXT PRIMARY KEY,
	target_id     TEXT NOT NULL,
	ts            TIMESTAMPTZ NOT NULL,
	success       BOOLEAN NOT NULL,
	data          JSONB NOT NULL DEFAULT '{}',
	error_message TEXT NOT NULL DEFAULT '',
	duration_ms   BIGINT NOT NULL,
	status_code   INTEGER NOT NULL DEFAULT 0,
	pages_visited INTEGER NOT NULL DEFAULT 0,
	item_count    INTEGER NOT NULL DEFAULT 0,
	snapshot_uri  TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS crawl_results_target_ts_idx ON crawl_results (target_id, ts DESC);
CREATE TABLE IF NOT EXISTS products (
	id          TEXT PRIMARY KEY,
	supplier_id TEXT NOT NULL,
	name        TEXT NOT NULL,
	price       TEXT NOT NULL DEFAULT '',
	stock       TEXT NOT NULL DEFAULT '',
	image_url   TEXT NOT NULL DEFAULT '',
	source_url  TEXT NOT NULL DEFAULT '',
	metadata    JSONB NOT NULL DEFAULT '{}',
	updated_at  TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS products_supplier_idx ON products (supplier_id);
CREATE TABLE IF NOT EXISTS crawl_activity (
	id        BIGSERIAL PRIMARY KEY,
	kind      TEXT NOT NULL,
	target_id TEXT NOT NULL,
	job_id    TEXT NOT NULL DEFAULT '',
	at        TIMESTAMPTZ NOT NULL,
	note      TEXT NOT NULL DEFAULT ''
);
`
