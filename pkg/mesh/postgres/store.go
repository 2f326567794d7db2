package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgxvec "github.com/pgvector/pgvector-go/pgx"

	"github.com/mycelialmesh/meshcore/pkg/mesh"
)

// Compile-time interface check.
var _ mesh.GraphStore = (*Store)(nil)

// Store is the PostgreSQL-backed [mesh.GraphStore]. It holds a single
// [pgxpool.Pool] shared across agents, edges, nutrients, route records, and
// hyphal memory — mirroring the teacher's single-pool, multi-table layout.
//
// All methods are safe for concurrent use.
type Store struct {
	pool *pgxpool.Pool
}

// Config holds pool-sizing knobs for [NewStore], per spec §5 "Shared-resource
// policy" (min 10 / max 20 connections, shared between readers and writers).
type Config struct {
	DSN                 string
	EmbeddingDimensions int
	MinConns            int32
	MaxConns            int32
}

// NewStore opens a connection pool to dsn, registers pgvector types on every
// connection, runs [Migrate], and returns a ready-to-use Store.
func NewStore(ctx context.Context, cfg Config) (*Store, error) {
	pgxCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("mesh postgres: parse dsn: %w", err)
	}

	if cfg.MinConns > 0 {
		pgxCfg.MinConns = cfg.MinConns
	} else {
		pgxCfg.MinConns = 10
	}
	if cfg.MaxConns > 0 {
		pgxCfg.MaxConns = cfg.MaxConns
	} else {
		pgxCfg.MaxConns = 20
	}

	pgxCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		return pgxvec.RegisterTypes(ctx, conn)
	}

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, fmt.Errorf("mesh postgres: create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("mesh postgres: ping: %w", err)
	}

	dims := cfg.EmbeddingDimensions
	if dims == 0 {
		dims = mesh.EmbeddingDim
	}
	if err := Migrate(ctx, pool, dims); err != nil {
		pool.Close()
		return nil, fmt.Errorf("mesh postgres: migrate: %w", err)
	}

	return &Store{pool: pool}, nil
}

// Ping implements [mesh.GraphStore]. It performs a real round-trip against
// the pool so health checks reflect actual connectivity, not just process
// liveness.
func (s *Store) Ping(ctx context.Context) error {
	var one int
	if err := s.pool.QueryRow(ctx, "SELECT 1").Scan(&one); err != nil {
		return fmt.Errorf("mesh postgres: ping: %w", err)
	}
	return nil
}

// Close releases all connections held by the underlying pool.
func (s *Store) Close() {
	s.pool.Close()
}

// isNoRows reports whether err is the pgx "no rows" sentinel.
func isNoRows(err error) bool {
	return errors.Is(err, pgx.ErrNoRows)
}
