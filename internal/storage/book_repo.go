package storage

//go:generate go run go.uber.org/mock/mockgen@latest -destination=mocks/mock_book_store.go -package=mocks bookrag/internal/storage BookStore

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// BookStore defines the interface for book version storage operations.
type BookStore interface {
	// GetBySlugAndHash gets a book version regardless of its active flag.
	// Returns nil and ErrNotFound if not found.
	GetBySlugAndHash(ctx context.Context, slug, pdfHash string) (*Book, error)
	// GetByID gets a book by id. Returns nil and ErrNotFound if not found.
	GetByID(ctx context.Context, id string) (*Book, error)
	// GetOrCreate returns the (slug, pdfHash) version, inserting book as inactive if absent.
	// Safe under concurrent calls for the same pair.
	GetOrCreate(ctx context.Context, book *Book) (*Book, error)
	// Activate deactivates every other version of the book's slug and activates
	// bookID with totalChunks, atomically.
	Activate(ctx context.Context, bookID string, totalChunks int) error
	// ActiveIDsBySlugs resolves slugs to the ids of their active versions.
	ActiveIDsBySlugs(ctx context.Context, slugs []string) ([]string, error)
	// ListActive returns all active books ordered by slug.
	ListActive(ctx context.Context) ([]*Book, error)
}

// BookRepo provides methods for book operations.
// It implements the BookStore interface.
type BookRepo struct {
	db *sql.DB
}

// NewBookRepo creates a new BookRepo.
func NewBookRepo(db *sql.DB) *BookRepo {
	return &BookRepo{db: db}
}

const bookColumns = "id, slug, title, author, pdf_hash, total_pages, total_chunks, indexed_at, is_active"

type rowScanner interface {
	Scan(dest ...any) error
}

func scanBook(row rowScanner) (*Book, error) {
	var (
		book      Book
		indexedAt sql.NullTime
	)
	err := row.Scan(&book.ID, &book.Slug, &book.Title, &book.Author, &book.PDFHash,
		&book.TotalPages, &book.TotalChunks, &indexedAt, &book.IsActive)
	if err != nil {
		return nil, err
	}
	if indexedAt.Valid {
		book.IndexedAt = indexedAt.Time
	}
	return &book, nil
}

// GetBySlugAndHash gets a book version by slug and source hash.
func (r *BookRepo) GetBySlugAndHash(ctx context.Context, slug, pdfHash string) (*Book, error) {
	book, err := scanBook(r.db.QueryRowContext(ctx,
		"SELECT "+bookColumns+" FROM books WHERE slug = ? AND pdf_hash = ?",
		slug, pdfHash,
	))
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query book: %w", err)
	}
	return book, nil
}

// GetByID gets a book by id.
func (r *BookRepo) GetByID(ctx context.Context, id string) (*Book, error) {
	book, err := scanBook(r.db.QueryRowContext(ctx, "SELECT "+bookColumns+" FROM books WHERE id = ?", id))
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query book: %w", err)
	}
	return book, nil
}

// GetOrCreate returns the existing version for (slug, pdfHash) or inserts book as inactive.
func (r *BookRepo) GetOrCreate(ctx context.Context, book *Book) (*Book, error) {
	id := book.ID
	if id == "" {
		id = uuid.New().String()
	}

	_, err := r.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO books (id, slug, title, author, pdf_hash, total_pages, is_active)
		 VALUES (?, ?, ?, ?, ?, ?, 0)`,
		id, book.Slug, book.Title, book.Author, book.PDFHash, book.TotalPages,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to insert book: %w", err)
	}

	return r.GetBySlugAndHash(ctx, book.Slug, book.PDFHash)
}

// Activate swaps the active version of a slug inside one transaction.
func (r *BookRepo) Activate(ctx context.Context, bookID string, totalChunks int) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	var slug string
	err = tx.QueryRowContext(ctx, "SELECT slug FROM books WHERE id = ?", bookID).Scan(&slug)
	if err == sql.ErrNoRows {
		return fmt.Errorf("book %s: %w", bookID, ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("failed to query book slug: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		"UPDATE books SET is_active = 0 WHERE slug = ? AND id <> ? AND is_active = 1",
		slug, bookID,
	); err != nil {
		return fmt.Errorf("failed to deactivate previous versions: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		"UPDATE books SET is_active = 1, total_chunks = ?, indexed_at = ? WHERE id = ?",
		totalChunks, time.Now().UTC(), bookID,
	); err != nil {
		return fmt.Errorf("failed to activate book: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit activation: %w", err)
	}
	return nil
}

// ActiveIDsBySlugs resolves slugs to active book ids. Unknown slugs are ignored.
func (r *BookRepo) ActiveIDsBySlugs(ctx context.Context, slugs []string) ([]string, error) {
	if len(slugs) == 0 {
		return nil, nil
	}

	rows, err := r.db.QueryContext(ctx,
		"SELECT id FROM books WHERE is_active = 1 AND slug IN ("+placeholders(len(slugs))+") ORDER BY slug",
		stringArgs(slugs)...,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query active books: %w", err)
	}
	defer func() {
		_ = rows.Close()
	}()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan book id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}
	return ids, nil
}

// ListActive returns all active books ordered by slug.
func (r *BookRepo) ListActive(ctx context.Context) ([]*Book, error) {
	rows, err := r.db.QueryContext(ctx, "SELECT "+bookColumns+" FROM books WHERE is_active = 1 ORDER BY slug")
	if err != nil {
		return nil, fmt.Errorf("failed to query books: %w", err)
	}
	defer func() {
		_ = rows.Close()
	}()

	var books []*Book
	for rows.Next() {
		book, err := scanBook(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan book: %w", err)
		}
		books = append(books, book)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}
	return books, nil
}
