package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/lib/pq"
	"github.com/pgvector/pgvector-go"

	"bookrag/internal/storage"
)

// ChunkRepo implements storage.ChunkStore with pgvector similarity search.
type ChunkRepo struct {
	client *Client
}

// NewChunkRepo creates a new ChunkRepo.
func NewChunkRepo(client *Client) *ChunkRepo {
	return &ChunkRepo{client: client}
}

// ExistingHashes returns the subset of hashes already stored for the book.
func (r *ChunkRepo) ExistingHashes(ctx context.Context, bookID string, hashes []string) (map[string]struct{}, error) {
	existing := make(map[string]struct{})
	if len(hashes) == 0 {
		return existing, nil
	}

	rows, err := r.client.DB.QueryContext(ctx,
		"SELECT chunk_hash FROM chunks WHERE book_id = $1 AND chunk_hash = ANY($2)",
		bookID, pq.Array(hashes),
	)
	if err != nil {
		return nil, fmt.Errorf("querying chunk hashes: %w", err)
	}
	defer func() {
		_ = rows.Close()
	}()

	for rows.Next() {
		var hash string
		if err := rows.Scan(&hash); err != nil {
			return nil, fmt.Errorf("scanning chunk hash: %w", err)
		}
		existing[hash] = struct{}{}
	}
	return existing, rows.Err()
}

// InsertBatch inserts chunks in one transaction, doing nothing on a (book_id, chunk_hash) conflict.
func (r *ChunkRepo) InsertBatch(ctx context.Context, chunks []*storage.ChunkRecord) (int, error) {
	if len(chunks) == 0 {
		return 0, nil
	}

	inserted := 0
	err := r.client.InTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx,
			`INSERT INTO chunks (id, book_id, chunk_index, page_number, section_title, content, token_count, chunk_hash, embedding)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
			 ON CONFLICT (book_id, chunk_hash) DO NOTHING`)
		if err != nil {
			return fmt.Errorf("preparing insert: %w", err)
		}
		defer func() {
			_ = stmt.Close()
		}()

		for _, c := range chunks {
			if c.ID == "" {
				c.ID = storage.StableChunkID(c.BookID, c.ChunkHash)
			}
			result, err := stmt.ExecContext(ctx, c.ID, c.BookID, c.ChunkIndex, c.PageNumber, c.SectionTitle,
				c.Content, c.TokenCount, c.ChunkHash, pgvector.NewVector(c.Embedding))
			if err != nil {
				return fmt.Errorf("inserting chunk %d: %w", c.ChunkIndex, err)
			}
			n, err := result.RowsAffected()
			if err != nil {
				return fmt.Errorf("reading rows affected: %w", err)
			}
			inserted += int(n)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return inserted, nil
}

// CountByBook returns the number of chunks stored for the book.
func (r *ChunkRepo) CountByBook(ctx context.Context, bookID string) (int, error) {
	var count int
	if err := r.client.DB.QueryRowContext(ctx, "SELECT COUNT(*) FROM chunks WHERE book_id = $1", bookID).Scan(&count); err != nil {
		return 0, fmt.Errorf("counting chunks: %w", err)
	}
	return count, nil
}

// TokenCountsByBook returns per-chunk token counts in chunk order.
func (r *ChunkRepo) TokenCountsByBook(ctx context.Context, bookID string) ([]int, error) {
	rows, err := r.client.DB.QueryContext(ctx, "SELECT token_count FROM chunks WHERE book_id = $1 ORDER BY chunk_index", bookID)
	if err != nil {
		return nil, fmt.Errorf("querying token counts: %w", err)
	}
	defer func() {
		_ = rows.Close()
	}()

	var counts []int
	for rows.Next() {
		var n int
		if err := rows.Scan(&n); err != nil {
			return nil, fmt.Errorf("scanning token count: %w", err)
		}
		counts = append(counts, n)
	}
	return counts, rows.Err()
}

const resultColumns = "c.id, c.book_id, b.slug, b.title, c.content, c.page_number, c.section_title"

// similarityQuery ranks chunks of active books by cosine distance. An empty id
// array means no book restriction.
const similarityQuery = `SELECT ` + resultColumns + `, 1 - (c.embedding <=> $1) AS similarity
	FROM chunks c JOIN books b ON b.id = c.book_id
	WHERE b.is_active
	  AND (cardinality($2::text[]) = 0 OR c.book_id = ANY($2::text[]))
	  AND 1 - (c.embedding <=> $1) >= $3
	ORDER BY c.embedding <=> $1
	LIMIT $4`

// SearchSimilar returns up to q.Limit chunks at or above q.MinSimilarity.
func (r *ChunkRepo) SearchSimilar(ctx context.Context, q storage.VectorQuery) ([]storage.SearchResult, error) {
	if q.Limit <= 0 {
		return nil, nil
	}
	rows, err := r.client.DB.QueryContext(ctx, similarityQuery,
		pgvector.NewVector(q.Vector), pq.Array(nonNil(q.BookIDs)), q.MinSimilarity, q.Limit)
	if err != nil {
		return nil, fmt.Errorf("searching similar chunks: %w", err)
	}
	defer func() {
		_ = rows.Close()
	}()

	var results []storage.SearchResult
	for rows.Next() {
		var res storage.SearchResult
		if err := rows.Scan(&res.ID, &res.BookID, &res.BookSlug, &res.BookTitle, &res.Content,
			&res.PageNumber, &res.SectionTitle, &res.Similarity); err != nil {
			return nil, fmt.Errorf("scanning chunk: %w", err)
		}
		results = append(results, res)
	}
	return results, rows.Err()
}

const keywordQuery = `SELECT ` + resultColumns + `
	FROM chunks c JOIN books b ON b.id = c.book_id
	WHERE b.is_active
	  AND (cardinality($2::text[]) = 0 OR c.book_id = ANY($2::text[]))
	  AND c.content ILIKE ANY($1::text[])
	ORDER BY b.slug, c.chunk_index
	LIMIT $3`

// SearchKeyword returns chunks whose content contains any term, case-insensitively.
func (r *ChunkRepo) SearchKeyword(ctx context.Context, q storage.KeywordQuery) ([]storage.SearchResult, error) {
	if len(q.Terms) == 0 || q.Limit <= 0 {
		return nil, nil
	}

	rows, err := r.client.DB.QueryContext(ctx, keywordQuery,
		pq.Array(likePatterns(q.Terms)), pq.Array(nonNil(q.BookIDs)), q.Limit)
	if err != nil {
		return nil, fmt.Errorf("searching chunk content: %w", err)
	}
	defer func() {
		_ = rows.Close()
	}()

	var results []storage.SearchResult
	for rows.Next() {
		var res storage.SearchResult
		if err := rows.Scan(&res.ID, &res.BookID, &res.BookSlug, &res.BookTitle, &res.Content,
			&res.PageNumber, &res.SectionTitle); err != nil {
			return nil, fmt.Errorf("scanning chunk: %w", err)
		}
		results = append(results, res)
	}
	return results, rows.Err()
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// likePatterns wraps each term as an escaped %term% pattern.
func likePatterns(terms []string) []string {
	patterns := make([]string, len(terms))
	for i, t := range terms {
		patterns[i] = "%" + likeEscaper.Replace(t) + "%"
	}
	return patterns
}

// nonNil avoids pq encoding a nil slice as NULL.
func nonNil(ids []string) []string {
	if ids == nil {
		return []string{}
	}
	return ids
}

var (
	_ storage.BookStore  = (*BookRepo)(nil)
	_ storage.RunStore   = (*RunRepo)(nil)
	_ storage.ChunkStore = (*ChunkRepo)(nil)
)
