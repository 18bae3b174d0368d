package storage

//go:generate go run go.uber.org/mock/mockgen@latest -destination=mocks/mock_chunk_store.go -package=mocks bookrag/internal/storage ChunkStore

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"bookrag/internal/contextutil"
	"bookrag/internal/vectorstore"
)

// ChunkStore defines the interface for chunk storage and search operations.
type ChunkStore interface {
	// ExistingHashes returns which of hashes are already stored for bookID.
	ExistingHashes(ctx context.Context, bookID string, hashes []string) (map[string]struct{}, error)
	// InsertBatch stores chunks, silently skipping any (book_id, chunk_hash) that already exists.
	// Returns the number of rows actually inserted.
	InsertBatch(ctx context.Context, chunks []*ChunkRecord) (int, error)
	// CountByBook returns the number of chunks stored for bookID.
	CountByBook(ctx context.Context, bookID string) (int, error)
	// TokenCountsByBook returns the token count of every chunk of bookID.
	TokenCountsByBook(ctx context.Context, bookID string) ([]int, error)
	// SearchSimilar returns chunks of active books ranked by cosine similarity.
	SearchSimilar(ctx context.Context, q VectorQuery) ([]SearchResult, error)
	// SearchKeyword returns chunks of active books whose content contains any term.
	SearchKeyword(ctx context.Context, q KeywordQuery) ([]SearchResult, error)
}

// ChunkRepo stores chunk text in SQLite and chunk vectors in a VectorStore.
// It implements the ChunkStore interface.
type ChunkRepo struct {
	db         *sql.DB
	vectors    vectorstore.VectorStore
	collection string
}

// NewChunkRepo creates a new ChunkRepo.
func NewChunkRepo(db *sql.DB, vectors vectorstore.VectorStore, collection string) *ChunkRepo {
	return &ChunkRepo{db: db, vectors: vectors, collection: collection}
}

// ExistingHashes returns the subset of hashes already stored for the book.
func (r *ChunkRepo) ExistingHashes(ctx context.Context, bookID string, hashes []string) (map[string]struct{}, error) {
	existing := make(map[string]struct{})
	if len(hashes) == 0 {
		return existing, nil
	}

	args := append([]any{bookID}, stringArgs(hashes)...)
	rows, err := r.db.QueryContext(ctx,
		"SELECT chunk_hash FROM chunks WHERE book_id = ? AND chunk_hash IN ("+placeholders(len(hashes))+")",
		args...,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query chunk hashes: %w", err)
	}
	defer func() {
		_ = rows.Close()
	}()

	for rows.Next() {
		var hash string
		if err := rows.Scan(&hash); err != nil {
			return nil, fmt.Errorf("failed to scan chunk hash: %w", err)
		}
		existing[hash] = struct{}{}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}
	return existing, nil
}

// InsertBatch upserts vectors first, then inserts rows with INSERT OR IGNORE in one
// transaction. Point ids are stable, so a retried batch overwrites its own vectors.
func (r *ChunkRepo) InsertBatch(ctx context.Context, chunks []*ChunkRecord) (int, error) {
	if len(chunks) == 0 {
		return 0, nil
	}

	points := make([]vectorstore.Point, len(chunks))
	for i, c := range chunks {
		if c.ID == "" {
			c.ID = StableChunkID(c.BookID, c.ChunkHash)
		}
		points[i] = vectorstore.Point{
			ID:  c.ID,
			Vec: c.Embedding,
			Meta: map[string]any{
				vectorstore.BookIDField: c.BookID,
				"chunk_index":           c.ChunkIndex,
				"page_number":           c.PageNumber,
			},
		}
	}
	if err := r.vectors.Upsert(ctx, r.collection, points); err != nil {
		return 0, fmt.Errorf("failed to upsert chunk vectors: %w", err)
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT OR IGNORE INTO chunks (id, book_id, chunk_index, page_number, section_title, content, token_count, chunk_hash)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return 0, fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer func() {
		_ = stmt.Close()
	}()

	inserted := 0
	for _, c := range chunks {
		result, err := stmt.ExecContext(ctx, c.ID, c.BookID, c.ChunkIndex, c.PageNumber, c.SectionTitle, c.Content, c.TokenCount, c.ChunkHash)
		if err != nil {
			return 0, fmt.Errorf("failed to insert chunk %d: %w", c.ChunkIndex, err)
		}
		n, err := result.RowsAffected()
		if err != nil {
			return 0, fmt.Errorf("failed to read rows affected: %w", err)
		}
		inserted += int(n)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit chunks: %w", err)
	}
	return inserted, nil
}

// CountByBook returns the number of chunks stored for the book.
func (r *ChunkRepo) CountByBook(ctx context.Context, bookID string) (int, error) {
	var count int
	if err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM chunks WHERE book_id = ?", bookID).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count chunks: %w", err)
	}
	return count, nil
}

// TokenCountsByBook returns per-chunk token counts in chunk order.
func (r *ChunkRepo) TokenCountsByBook(ctx context.Context, bookID string) ([]int, error) {
	rows, err := r.db.QueryContext(ctx, "SELECT token_count FROM chunks WHERE book_id = ? ORDER BY chunk_index", bookID)
	if err != nil {
		return nil, fmt.Errorf("failed to query token counts: %w", err)
	}
	defer func() {
		_ = rows.Close()
	}()

	var counts []int
	for rows.Next() {
		var n int
		if err := rows.Scan(&n); err != nil {
			return nil, fmt.Errorf("failed to scan token count: %w", err)
		}
		counts = append(counts, n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}
	return counts, nil
}

func (r *ChunkRepo) activeBookIDs(ctx context.Context) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, "SELECT id FROM books WHERE is_active = 1")
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
	return ids, rows.Err()
}

// SearchSimilar queries the vector store, then joins hits with their chunk and book rows.
func (r *ChunkRepo) SearchSimilar(ctx context.Context, q VectorQuery) ([]SearchResult, error) {
	logger := contextutil.LoggerFromContext(ctx)

	bookIDs := q.BookIDs
	if len(bookIDs) == 0 {
		ids, err := r.activeBookIDs(ctx)
		if err != nil {
			return nil, err
		}
		if len(ids) == 0 {
			return nil, nil
		}
		bookIDs = ids
	}

	hits, err := r.vectors.Search(ctx, r.collection, q.Vector, q.Limit, vectorstore.Filter{
		BookIDs:  bookIDs,
		MinScore: float32(q.MinSimilarity),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to search vectors: %w", err)
	}
	if len(hits) == 0 {
		return nil, nil
	}

	ids := make([]string, len(hits))
	for i, h := range hits {
		ids[i] = h.PointID
	}
	byID, err := r.fetchResults(ctx, ids)
	if err != nil {
		return nil, err
	}

	results := make([]SearchResult, 0, len(hits))
	for _, h := range hits {
		res, ok := byID[h.PointID]
		if !ok {
			// Vector without a row of an active book: superseded version or a batch still committing
			logger.DebugContext(ctx, "skipping vector hit without active chunk row", "point_id", h.PointID)
			continue
		}
		res.Similarity = clampSimilarity(float64(h.Score))
		results = append(results, res)
	}
	return results, nil
}

func (r *ChunkRepo) fetchResults(ctx context.Context, ids []string) (map[string]SearchResult, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT c.id, c.book_id, b.slug, b.title, c.content, c.page_number, c.section_title
		 FROM chunks c JOIN books b ON b.id = c.book_id
		 WHERE b.is_active = 1 AND c.id IN (`+placeholders(len(ids))+`)`,
		stringArgs(ids)...,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query chunks: %w", err)
	}
	defer func() {
		_ = rows.Close()
	}()

	out := make(map[string]SearchResult, len(ids))
	for rows.Next() {
		var res SearchResult
		if err := rows.Scan(&res.ID, &res.BookID, &res.BookSlug, &res.BookTitle, &res.Content, &res.PageNumber, &res.SectionTitle); err != nil {
			return nil, fmt.Errorf("failed to scan chunk: %w", err)
		}
		out[res.ID] = res
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}
	return out, nil
}

// SearchKeyword matches chunk content against any term, case-insensitively
// for every script: both sides are lowercased with unicode_lower.
func (r *ChunkRepo) SearchKeyword(ctx context.Context, q KeywordQuery) ([]SearchResult, error) {
	if len(q.Terms) == 0 || q.Limit <= 0 {
		return nil, nil
	}

	var (
		conds []string
		args  []any
	)
	for _, term := range q.Terms {
		conds = append(conds, `unicode_lower(c.content) LIKE ? ESCAPE '\'`)
		args = append(args, "%"+escapeLike(strings.ToLower(term))+"%")
	}

	query := `SELECT c.id, c.book_id, b.slug, b.title, c.content, c.page_number, c.section_title
		FROM chunks c JOIN books b ON b.id = c.book_id
		WHERE b.is_active = 1 AND (` + strings.Join(conds, " OR ") + `)`
	if len(q.BookIDs) > 0 {
		query += " AND c.book_id IN (" + placeholders(len(q.BookIDs)) + ")"
		args = append(args, stringArgs(q.BookIDs)...)
	}
	query += " ORDER BY b.slug, c.chunk_index LIMIT ?"
	args = append(args, q.Limit)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to search chunk content: %w", err)
	}
	defer func() {
		_ = rows.Close()
	}()

	var results []SearchResult
	for rows.Next() {
		var res SearchResult
		if err := rows.Scan(&res.ID, &res.BookID, &res.BookSlug, &res.BookTitle, &res.Content, &res.PageNumber, &res.SectionTitle); err != nil {
			return nil, fmt.Errorf("failed to scan chunk: %w", err)
		}
		results = append(results, res)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}
	return results, nil
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func escapeLike(term string) string {
	return likeEscaper.Replace(term)
}

// clampSimilarity bounds a provider score to [0, 1].
func clampSimilarity(s float64) float64 {
	switch {
	case s < 0:
		return 0
	case s > 1:
		return 1
	default:
		return s
	}
}
