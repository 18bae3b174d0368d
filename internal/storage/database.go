package storage

import (
	"database/sql"
	"strings"
	"time"

	"github.com/mattn/go-sqlite3"
)

// driverName is go-sqlite3 with a unicode_lower(text) SQL function, since the
// built-in lower() and LIKE fold ASCII letters only.
const driverName = "sqlite3_bookrag"

func init() {
	sql.Register(driverName, &sqlite3.SQLiteDriver{
		ConnectHook: func(conn *sqlite3.SQLiteConn) error {
			return conn.RegisterFunc("unicode_lower", strings.ToLower, true)
		},
	})
}

// New opens a SQLite database connection at the given path.
// Foreign keys are enabled through the DSN so every pooled connection enforces them.
func New(path string) (*sql.DB, error) {
	db, err := sql.Open(driverName, path+"?_foreign_keys=on&_busy_timeout=5000&_journal_mode=WAL")
	if err != nil {
		return nil, err
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, err
	}

	return db, nil
}

// Migrate runs database migrations to create the required tables.
// It is idempotent and can be run multiple times safely.
func Migrate(db *sql.DB) error {
	schema := []string{
		`CREATE TABLE IF NOT EXISTS books (
			id TEXT PRIMARY KEY,
			slug TEXT NOT NULL,
			title TEXT NOT NULL,
			author TEXT NOT NULL DEFAULT '',
			pdf_hash TEXT NOT NULL,
			total_pages INTEGER NOT NULL DEFAULT 0,
			total_chunks INTEGER NOT NULL DEFAULT 0,
			indexed_at DATETIME,
			is_active INTEGER NOT NULL DEFAULT 0,
			UNIQUE (slug, pdf_hash)
		);`,
		`CREATE UNIQUE INDEX IF NOT EXISTS books_one_active_per_slug ON books (slug) WHERE is_active = 1;`,
		`CREATE TABLE IF NOT EXISTS ingestion_runs (
			id TEXT PRIMARY KEY,
			book_id TEXT NOT NULL,
			pdf_hash TEXT NOT NULL,
			status TEXT NOT NULL CHECK (status IN ('running', 'completed', 'failed')),
			chunks_processed INTEGER NOT NULL DEFAULT 0,
			chunks_skipped INTEGER NOT NULL DEFAULT 0,
			last_processed_chunk_index INTEGER NOT NULL DEFAULT -1,
			error_message TEXT NOT NULL DEFAULT '',
			started_at DATETIME NOT NULL,
			completed_at DATETIME,
			FOREIGN KEY (book_id) REFERENCES books(id)
		);`,
		`CREATE INDEX IF NOT EXISTS ingestion_runs_resume ON ingestion_runs (book_id, pdf_hash, status);`,
		`CREATE TABLE IF NOT EXISTS chunks (
			id TEXT PRIMARY KEY,
			book_id TEXT NOT NULL,
			chunk_index INTEGER NOT NULL,
			page_number INTEGER NOT NULL,
			section_title TEXT NOT NULL DEFAULT '',
			content TEXT NOT NULL,
			token_count INTEGER NOT NULL,
			chunk_hash TEXT NOT NULL,
			FOREIGN KEY (book_id) REFERENCES books(id),
			UNIQUE (book_id, chunk_hash)
		);`,
		`CREATE INDEX IF NOT EXISTS chunks_book_order ON chunks (book_id, chunk_index);`,
	}

	for _, stmt := range schema {
		if _, err := db.Exec(stmt); err != nil {
			return err
		}
	}

	return nil
}

// placeholders returns "?, ?, ..." with n markers.
func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	b := make([]byte, 0, n*3)
	for i := 0; i < n; i++ {
		if i > 0 {
			b = append(b, ", "...)
		}
		b = append(b, '?')
	}
	return string(b)
}

// stringArgs converts ids to query arguments.
func stringArgs(values []string) []any {
	args := make([]any, len(values))
	for i, v := range values {
		args[i] = v
	}
	return args
}
