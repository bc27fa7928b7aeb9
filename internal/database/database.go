// Package database constructs the PostgreSQL connection pool used by the
// vector index and the note corpus store.
package database

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgxvector "github.com/pgvector/pgvector-go/pgx"

	"github.com/qaz741wsd856/blinko/db"
)

// Open creates a pgx connection pool for connURL and registers the
// pgvector codec on every connection so vector values can be bound and
// scanned natively.
func Open(ctx context.Context, connURL string) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(connURL)
	if err != nil {
		return nil, fmt.Errorf("parsing connection URL: %w", err)
	}

	cfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		// Requires the vector extension; run migrations before opening.
		return pgxvector.RegisterTypes(ctx, conn)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("creating connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	return pool, nil
}

// OpenAndMigrate opens the pool after applying all pending schema
// migrations. This is the normal startup path.
func OpenAndMigrate(ctx context.Context, connURL string) (*pgxpool.Pool, error) {
	if err := db.Migrate(connURL); err != nil {
		return nil, fmt.Errorf("migrating database: %w", err)
	}
	return Open(ctx, connURL)
}
