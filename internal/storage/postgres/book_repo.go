package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"bookrag/internal/storage"
)

// BookRepo implements storage.BookStore.
type BookRepo struct {
	client *Client
}

// NewBookRepo creates a new BookRepo.
func NewBookRepo(client *Client) *BookRepo {
	return &BookRepo{client: client}
}

const bookColumns = "id, slug, title, author, pdf_hash, total_pages, total_chunks, indexed_at, is_active"

type rowScanner interface {
	Scan(dest ...any) error
}

func scanBook(row rowScanner) (*storage.Book, error) {
	var (
		book      storage.Book
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

func (r *BookRepo) getOne(ctx context.Context, query string, args ...any) (*storage.Book, error) {
	book, err := scanBook(r.client.DB.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying book: %w", err)
	}
	return book, nil
}

// GetBySlugAndHash gets a book version regardless of its active flag.
func (r *BookRepo) GetBySlugAndHash(ctx context.Context, slug, pdfHash string) (*storage.Book, error) {
	return r.getOne(ctx, "SELECT "+bookColumns+" FROM books WHERE slug = $1 AND pdf_hash = $2", slug, pdfHash)
}

// GetByID gets a book by id.
func (r *BookRepo) GetByID(ctx context.Context, id string) (*storage.Book, error) {
	return r.getOne(ctx, "SELECT "+bookColumns+" FROM books WHERE id = $1", id)
}

// GetOrCreate inserts the version as inactive unless (slug, pdf_hash) already exists.
func (r *BookRepo) GetOrCreate(ctx context.Context, book *storage.Book) (*storage.Book, error) {
	id := book.ID
	if id == "" {
		id = uuid.New().String()
	}
	_, err := r.client.DB.ExecContext(ctx,
		`INSERT INTO books (id, slug, title, author, pdf_hash, total_pages, is_active)
		 VALUES ($1, $2, $3, $4, $5, $6, FALSE)
		 ON CONFLICT (slug, pdf_hash) DO NOTHING`,
		id, book.Slug, book.Title, book.Author, book.PDFHash, book.TotalPages,
	)
	if err != nil {
		return nil, fmt.Errorf("inserting book: %w", err)
	}
	return r.GetBySlugAndHash(ctx, book.Slug, book.PDFHash)
}

// Activate swaps the active version of the book's slug in one transaction.
func (r *BookRepo) Activate(ctx context.Context, bookID string, totalChunks int) error {
	return r.client.InTx(ctx, func(tx *sql.Tx) error {
		var slug string
		err := tx.QueryRowContext(ctx, "SELECT slug FROM books WHERE id = $1 FOR UPDATE", bookID).Scan(&slug)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("book %s: %w", bookID, storage.ErrNotFound)
		}
		if err != nil {
			return fmt.Errorf("querying book slug: %w", err)
		}

		if _, err := tx.ExecContext(ctx,
			"UPDATE books SET is_active = FALSE WHERE slug = $1 AND id <> $2 AND is_active",
			slug, bookID,
		); err != nil {
			return fmt.Errorf("deactivating previous versions: %w", err)
		}

		if _, err := tx.ExecContext(ctx,
			"UPDATE books SET is_active = TRUE, total_chunks = $1, indexed_at = $2 WHERE id = $3",
			totalChunks, time.Now().UTC(), bookID,
		); err != nil {
			return fmt.Errorf("activating book: %w", err)
		}
		return nil
	})
}

// ActiveIDsBySlugs resolves slugs to active book ids.
func (r *BookRepo) ActiveIDsBySlugs(ctx context.Context, slugs []string) ([]string, error) {
	if len(slugs) == 0 {
		return nil, nil
	}
	rows, err := r.client.DB.QueryContext(ctx,
		"SELECT id FROM books WHERE is_active AND slug = ANY($1) ORDER BY slug",
		pq.Array(slugs),
	)
	if err != nil {
		return nil, fmt.Errorf("querying active books: %w", err)
	}
	defer func() {
		_ = rows.Close()
	}()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scanning book id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// ListActive returns all active books ordered by slug.
func (r *BookRepo) ListActive(ctx context.Context) ([]*storage.Book, error) {
	rows, err := r.client.DB.QueryContext(ctx, "SELECT "+bookColumns+" FROM books WHERE is_active ORDER BY slug")
	if err != nil {
		return nil, fmt.Errorf("querying books: %w", err)
	}
	defer func() {
		_ = rows.Close()
	}()

	var books []*storage.Book
	for rows.Next() {
		book, err := scanBook(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning book: %w", err)
		}
		books = append(books, book)
	}
	return books, rows.Err()
}
