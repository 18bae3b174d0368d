// Package postgres implements the storage interfaces on PostgreSQL with the
// pgvector extension.
package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"
)

// Config holds connection settings.
type Config struct {
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	VectorSize      int // Dimension of the embedding column
}

// Client wraps a connection pool and the schema parameters.
type Client struct {
	DB         *sql.DB
	vectorSize int
}

// Open connects to PostgreSQL and verifies the connection.
func Open(ctx context.Context, cfg Config) (*Client, error) {
	db, err := sql.Open("postgres", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("opening postgres connection: %w", err)
	}

	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("pinging postgres: %w", err)
	}
	return &Client{DB: db, vectorSize: cfg.VectorSize}, nil
}

// Close closes the pool.
func (c *Client) Close() error {
	return c.DB.Close()
}

// InTx runs fn inside a transaction, committing on success and rolling back on error.
func (c *Client) InTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := c.DB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("rolling back transaction after error %v: %w", rbErr, err)
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

// schema returns the idempotent DDL for a given embedding dimension.
func schema(vectorSize int) []string {
	return []string{
		`CREATE EXTENSION IF NOT EXISTS vector`,
		`CREATE TABLE IF NOT EXISTS books (
			id TEXT PRIMARY KEY,
			slug TEXT NOT NULL,
			title TEXT NOT NULL,
			author TEXT NOT NULL DEFAULT '',
			pdf_hash TEXT NOT NULL,
			total_pages INTEGER NOT NULL DEFAULT 0,
			total_chunks INTEGER NOT NULL DEFAULT 0,
			indexed_at TIMESTAMPTZ,
			is_active BOOLEAN NOT NULL DEFAULT FALSE,
			UNIQUE (slug, pdf_hash)
		)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS books_one_active_per_slug ON books (slug) WHERE is_active`,
		`CREATE TABLE IF NOT EXISTS ingestion_runs (
			id TEXT PRIMARY KEY,
			book_id TEXT NOT NULL REFERENCES books(id),
			pdf_hash TEXT NOT NULL,
			status TEXT NOT NULL CHECK (status IN ('running', 'completed', 'failed')),
			chunks_processed INTEGER NOT NULL DEFAULT 0,
			chunks_skipped INTEGER NOT NULL DEFAULT 0,
			last_processed_chunk_index INTEGER NOT NULL DEFAULT -1,
			error_message TEXT NOT NULL DEFAULT '',
			started_at TIMESTAMPTZ NOT NULL,
			completed_at TIMESTAMPTZ
		)`,
		`CREATE INDEX IF NOT EXISTS ingestion_runs_resume ON ingestion_runs (book_id, pdf_hash, status)`,
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS chunks (
			id TEXT PRIMARY KEY,
			book_id TEXT NOT NULL REFERENCES books(id),
			chunk_index INTEGER NOT NULL,
			page_number INTEGER NOT NULL,
			section_title TEXT NOT NULL DEFAULT '',
			content TEXT NOT NULL,
			token_count INTEGER NOT NULL,
			chunk_hash TEXT NOT NULL,
			embedding vector(%d) NOT NULL,
			UNIQUE (book_id, chunk_hash)
		)`, vectorSize),
		`CREATE INDEX IF NOT EXISTS chunks_book_order ON chunks (book_id, chunk_index)`,
		`CREATE INDEX IF NOT EXISTS chunks_embedding_hnsw ON chunks USING hnsw (embedding vector_cosine_ops)`,
	}
}

// Migrate creates the extension, tables and indexes. It is idempotent.
func (c *Client) Migrate(ctx context.Context) error {
	if c.vectorSize <= 0 {
		return fmt.Errorf("vector size must be positive, got %d", c.vectorSize)
	}
	return c.InTx(ctx, func(tx *sql.Tx) error {
		for _, stmt := range schema(c.vectorSize) {
			if _, err := tx.ExecContext(ctx, stmt); err != nil {
				return fmt.Errorf("migrating: %w", err)
			}
		}
		return nil
	})
}
