// Package postgres provides a Postgres-backed dedup key store.
package postgres

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// Config controls the connection pool and table used for dedup keys.
type Config struct {
	DSN             string
	Table           string
	Namespace       string
	MaxConns        int32
	MaxConnLifetime time.Duration
}

type pool interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	QueryRow(context.Context, string, ...any) pgx.Row
	Close()
}

// Store keeps keys for one namespace in a shared table. Several stores may
// share a pool; each closes it independently only when it owns it.
type Store struct {
	pool      pool
	table     string
	namespace string
	owned     bool
}

// New connects to Postgres and ensures the table exists.
func New(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("dedup.postgres.dsn is required")
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
	p, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	store, err := NewWithPool(p, cfg.Table, cfg.Namespace)
	if err != nil {
		p.Close()
		return nil, err
	}
	store.owned = true
	if err := store.EnsureSchema(ctx); err != nil {
		p.Close()
		return nil, err
	}
	return store, nil
}

// NewWithPool constructs a store from an existing pool (primarily for testing).
func NewWithPool(p pool, table, namespace string) (*Store, error) {
	if p == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if table == "" {
		table = "dedup_keys"
	}
	if !validTableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	if namespace == "" {
		return nil, fmt.Errorf("namespace is required")
	}
	return &Store{pool: p, table: table, namespace: namespace}, nil
}

// EnsureSchema creates the key table when missing.
func (s *Store) EnsureSchema(ctx context.Context) error {
	query := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
	namespace TEXT NOT NULL,
	key TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (namespace, key)
)`, s.table)
	if _, err := s.pool.Exec(ctx, query); err != nil {
		return fmt.Errorf("create %s: %w", s.table, err)
	}
	return nil
}

// Has reports whether key exists in the namespace.
func (s *Store) Has(ctx context.Context, key string) (bool, error) {
	query := fmt.Sprintf(`SELECT EXISTS (SELECT 1 FROM %s WHERE namespace = $1 AND key = $2)`, s.table)
	var exists bool
	if err := s.pool.QueryRow(ctx, query, s.namespace, key).Scan(&exists); err != nil {
		return false, fmt.Errorf("lookup key: %w", err)
	}
	return exists, nil
}

// Put inserts key and reports whether this call created it.
func (s *Store) Put(ctx context.Context, key string) (bool, error) {
	query := fmt.Sprintf(`
INSERT INTO %s (namespace, key) VALUES ($1, $2)
ON CONFLICT (namespace, key) DO NOTHING`, s.table)
	tag, err := s.pool.Exec(ctx, query, s.namespace, key)
	if err != nil {
		return false, fmt.Errorf("insert key: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// Close releases the pool when this store opened it.
func (s *Store) Close() error {
	if s == nil || s.pool == nil || !s.owned {
		return nil
	}
	s.pool.Close()
	return nil
}
