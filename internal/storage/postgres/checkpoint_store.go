// Package postgres provides Postgres-backed persistence implementations.
package postgres

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/hood-archiver/internal/crawler"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// CheckpointStoreConfig controls the Postgres connection pool used for checkpoint rows.
type CheckpointStoreConfig struct {
	DSN             string
	Table           string
	MaxConns        int32
	MaxConnLifetime time.Duration
}

type querier interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	QueryRow(context.Context, string, ...any) pgx.Row
	Close()
}

// CheckpointStore implements crawler.CheckpointStore with one row per
// completed unit. A collection-level unit has an empty sub_collection_id.
type CheckpointStore struct {
	pool  querier
	table string
	clock crawler.Clock
}

// NewCheckpointStore creates a Postgres-backed CheckpointStore using the provided config.
func NewCheckpointStore(ctx context.Context, cfg CheckpointStoreConfig, clock crawler.Clock) (*CheckpointStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("checkpoint.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	store, err := NewCheckpointStoreWithPool(pool, cfg.Table, clock)
	if err != nil {
		pool.Close()
		return nil, err
	}
	return store, nil
}

// NewCheckpointStoreWithPool constructs a store from an existing pool (primarily for testing).
func NewCheckpointStoreWithPool(pool querier, table string, clock crawler.Clock) (*CheckpointStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if table == "" {
		table = "crawl_checkpoints"
	}
	if !validTableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	return &CheckpointStore{pool: pool, table: table, clock: clock}, nil
}

// Close releases the underlying pool resources.
func (s *CheckpointStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// Load ensures the checkpoint table exists.
func (s *CheckpointStore) Load(ctx context.Context) error {
	query := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
	collection_id     TEXT        NOT NULL,
	sub_collection_id TEXT        NOT NULL DEFAULT '',
	completed_at      TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (collection_id, sub_collection_id)
)`, s.table)
	if _, err := s.pool.Exec(ctx, query); err != nil {
		return fmt.Errorf("ensure checkpoint table: %w", err)
	}
	return nil
}

// IsComplete reports whether a row exists for the unit.
func (s *CheckpointStore) IsComplete(ctx context.Context, unit crawler.Unit) (bool, error) {
	query := fmt.Sprintf(
		`SELECT EXISTS (SELECT 1 FROM %s WHERE collection_id = $1 AND sub_collection_id = $2)`,
		s.table,
	)
	var done bool
	if err := s.pool.QueryRow(ctx, query, unit.Collection, unit.SubCollection).Scan(&done); err != nil {
		return false, fmt.Errorf("query checkpoint: %w", err)
	}
	return done, nil
}

// MarkComplete upserts the unit's row.
func (s *CheckpointStore) MarkComplete(ctx context.Context, unit crawler.Unit) error {
	query := fmt.Sprintf(`
INSERT INTO %s (collection_id, sub_collection_id, completed_at)
VALUES ($1, $2, $3)
ON CONFLICT (collection_id, sub_collection_id) DO UPDATE
SET completed_at = EXCLUDED.completed_at`, s.table)
	if _, err := s.pool.Exec(ctx, query, unit.Collection, unit.SubCollection, s.clock.Now().UTC()); err != nil {
		return &crawler.PersistenceError{Unit: unit, Op: "upsert checkpoint", Err: err}
	}
	return nil
}
