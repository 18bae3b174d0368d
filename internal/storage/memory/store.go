// Package memory provides in-process implementations of the storage
// interfaces. Vector search is a brute-force cosine scan.
package memory

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"bookrag/internal/storage"
)

// Store holds books, runs and chunks behind one mutex so that activation
// and search observe a consistent view.
type Store struct {
	mu     sync.RWMutex
	books  map[string]*storage.Book
	runs   map[string]*storage.IngestionRun
	chunks map[string]*storage.ChunkRecord // keyed by chunk id
	byHash map[string]string               // bookID + ":" + hash -> chunk id
	order  []string                        // insertion order of chunk ids
}

// New creates an empty store.
func New() *Store {
	return &Store{
		books:  make(map[string]*storage.Book),
		runs:   make(map[string]*storage.IngestionRun),
		chunks: make(map[string]*storage.ChunkRecord),
		byHash: make(map[string]string),
	}
}

// Books returns a BookStore view of the store.
func (s *Store) Books() *BookRepo { return &BookRepo{s: s} }

// Runs returns a RunStore view of the store.
func (s *Store) Runs() *RunRepo { return &RunRepo{s: s} }

// Chunks returns a ChunkStore view of the store.
func (s *Store) Chunks() *ChunkRepo { return &ChunkRepo{s: s} }

// BookRepo implements storage.BookStore.
type BookRepo struct{ s *Store }

func (r *BookRepo) GetBySlugAndHash(_ context.Context, slug, pdfHash string) (*storage.Book, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	for _, b := range r.s.books {
		if b.Slug == slug && b.PDFHash == pdfHash {
			cp := *b
			return &cp, nil
		}
	}
	return nil, storage.ErrNotFound
}

func (r *BookRepo) GetByID(_ context.Context, id string) (*storage.Book, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	b, ok := r.s.books[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	cp := *b
	return &cp, nil
}

func (r *BookRepo) GetOrCreate(ctx context.Context, book *storage.Book) (*storage.Book, error) {
	r.s.mu.Lock()
	for _, b := range r.s.books {
		if b.Slug == book.Slug && b.PDFHash == book.PDFHash {
			cp := *b
			r.s.mu.Unlock()
			return &cp, nil
		}
	}
	nb := *book
	if nb.ID == "" {
		nb.ID = uuid.New().String()
	}
	nb.IsActive = false
	nb.TotalChunks = 0
	nb.IndexedAt = time.Time{}
	r.s.books[nb.ID] = &nb
	r.s.mu.Unlock()

	return r.GetByID(ctx, nb.ID)
}

func (r *BookRepo) Activate(_ context.Context, bookID string, totalChunks int) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	target, ok := r.s.books[bookID]
	if !ok {
		return fmt.Errorf("book %s: %w", bookID, storage.ErrNotFound)
	}
	for _, b := range r.s.books {
		if b.Slug == target.Slug && b.ID != bookID {
			b.IsActive = false
		}
	}
	target.IsActive = true
	target.TotalChunks = totalChunks
	target.IndexedAt = time.Now().UTC()
	return nil
}

func (r *BookRepo) ActiveIDsBySlugs(_ context.Context, slugs []string) ([]string, error) {
	if len(slugs) == 0 {
		return nil, nil
	}
	want := make(map[string]struct{}, len(slugs))
	for _, s := range slugs {
		want[s] = struct{}{}
	}

	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	var active []*storage.Book
	for _, b := range r.s.books {
		if _, ok := want[b.Slug]; ok && b.IsActive {
			active = append(active, b)
		}
	}
	sort.Slice(active, func(i, j int) bool { return active[i].Slug < active[j].Slug })
	ids := make([]string, len(active))
	for i, b := range active {
		ids[i] = b.ID
	}
	return ids, nil
}

func (r *BookRepo) ListActive(_ context.Context) ([]*storage.Book, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	var books []*storage.Book
	for _, b := range r.s.books {
		if b.IsActive {
			cp := *b
			books = append(books, &cp)
		}
	}
	sort.Slice(books, func(i, j int) bool { return books[i].Slug < books[j].Slug })
	return books, nil
}

// RunRepo implements storage.RunStore.
type RunRepo struct{ s *Store }

func (r *RunRepo) FindRunning(_ context.Context, bookID, pdfHash string) (*storage.IngestionRun, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	var latest *storage.IngestionRun
	for _, run := range r.s.runs {
		if run.BookID != bookID || run.PDFHash != pdfHash || run.Status != storage.RunRunning {
			continue
		}
		if latest == nil || run.StartedAt.After(latest.StartedAt) {
			latest = run
		}
	}
	if latest == nil {
		return nil, storage.ErrNotFound
	}
	cp := *latest
	return &cp, nil
}

func (r *RunRepo) GetByID(_ context.Context, id string) (*storage.IngestionRun, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	run, ok := r.s.runs[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	cp := *run
	return &cp, nil
}

func (r *RunRepo) Create(_ context.Context, run *storage.IngestionRun) error {
	if run.ID == "" {
		run.ID = uuid.New().String()
	}
	if run.StartedAt.IsZero() {
		run.StartedAt = time.Now().UTC()
	}
	run.Status = storage.RunRunning

	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.books[run.BookID]; !ok {
		return fmt.Errorf("book %s: %w", run.BookID, storage.ErrNotFound)
	}
	cp := *run
	r.s.runs[run.ID] = &cp
	return nil
}

func (r *RunRepo) UpdateProgress(_ context.Context, runID string, processed, skipped, lastIndex int) error {
	return r.updateRunning(runID, func(run *storage.IngestionRun) {
		run.ChunksProcessed = processed
		run.ChunksSkipped = skipped
		run.LastProcessedChunkIndex = lastIndex
	})
}

func (r *RunRepo) Complete(_ context.Context, runID string) error {
	return r.updateRunning(runID, func(run *storage.IngestionRun) {
		run.Status = storage.RunCompleted
		run.CompletedAt = time.Now().UTC()
	})
}

func (r *RunRepo) Fail(_ context.Context, runID, message string) error {
	return r.updateRunning(runID, func(run *storage.IngestionRun) {
		run.Status = storage.RunFailed
		run.ErrorMessage = message
		run.CompletedAt = time.Now().UTC()
	})
}

func (r *RunRepo) updateRunning(runID string, apply func(*storage.IngestionRun)) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	run, ok := r.s.runs[runID]
	if !ok || run.Status != storage.RunRunning {
		return fmt.Errorf("running run %s: %w", runID, storage.ErrNotFound)
	}
	apply(run)
	return nil
}

// ChunkRepo implements storage.ChunkStore.
type ChunkRepo struct{ s *Store }

func hashKey(bookID, hash string) string { return bookID + ":" + hash }

func (r *ChunkRepo) ExistingHashes(_ context.Context, bookID string, hashes []string) (map[string]struct{}, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	existing := make(map[string]struct{})
	for _, h := range hashes {
		if _, ok := r.s.byHash[hashKey(bookID, h)]; ok {
			existing[h] = struct{}{}
		}
	}
	return existing, nil
}

func (r *ChunkRepo) InsertBatch(_ context.Context, chunks []*storage.ChunkRecord) (int, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	for _, c := range chunks {
		if _, ok := r.s.books[c.BookID]; !ok {
			return 0, fmt.Errorf("book %s: %w", c.BookID, storage.ErrNotFound)
		}
	}

	inserted := 0
	for _, c := range chunks {
		key := hashKey(c.BookID, c.ChunkHash)
		if _, ok := r.s.byHash[key]; ok {
			continue
		}
		if c.ID == "" {
			c.ID = storage.StableChunkID(c.BookID, c.ChunkHash)
		}
		cp := *c
		cp.Embedding = append([]float32(nil), c.Embedding...)
		r.s.chunks[cp.ID] = &cp
		r.s.byHash[key] = cp.ID
		r.s.order = append(r.s.order, cp.ID)
		inserted++
	}
	return inserted, nil
}

func (r *ChunkRepo) CountByBook(_ context.Context, bookID string) (int, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	n := 0
	for _, c := range r.s.chunks {
		if c.BookID == bookID {
			n++
		}
	}
	return n, nil
}

func (r *ChunkRepo) TokenCountsByBook(_ context.Context, bookID string) ([]int, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	var chunks []*storage.ChunkRecord
	for _, c := range r.s.chunks {
		if c.BookID == bookID {
			chunks = append(chunks, c)
		}
	}
	sort.Slice(chunks, func(i, j int) bool { return chunks[i].ChunkIndex < chunks[j].ChunkIndex })
	counts := make([]int, len(chunks))
	for i, c := range chunks {
		counts[i] = c.TokenCount
	}
	return counts, nil
}

// candidates returns chunks of active books, restricted to bookIDs when non-empty.
// Callers must hold the read lock.
func (r *ChunkRepo) candidates(bookIDs []string) []*storage.ChunkRecord {
	var allowed map[string]struct{}
	if len(bookIDs) > 0 {
		allowed = make(map[string]struct{}, len(bookIDs))
		for _, id := range bookIDs {
			allowed[id] = struct{}{}
		}
	}

	var out []*storage.ChunkRecord
	for _, id := range r.s.order {
		c := r.s.chunks[id]
		b := r.s.books[c.BookID]
		if b == nil || !b.IsActive {
			continue
		}
		if allowed != nil {
			if _, ok := allowed[c.BookID]; !ok {
				continue
			}
		}
		out = append(out, c)
	}
	return out
}

func (r *ChunkRepo) toResult(c *storage.ChunkRecord, similarity float64) storage.SearchResult {
	b := r.s.books[c.BookID]
	return storage.SearchResult{
		ID:           c.ID,
		BookID:       c.BookID,
		BookSlug:     b.Slug,
		BookTitle:    b.Title,
		Content:      c.Content,
		PageNumber:   c.PageNumber,
		SectionTitle: c.SectionTitle,
		Similarity:   similarity,
	}
}

func (r *ChunkRepo) SearchSimilar(_ context.Context, q storage.VectorQuery) ([]storage.SearchResult, error) {
	if q.Limit <= 0 {
		return nil, nil
	}
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	var results []storage.SearchResult
	for _, c := range r.candidates(q.BookIDs) {
		sim := Cosine(q.Vector, c.Embedding)
		if sim < q.MinSimilarity {
			continue
		}
		results = append(results, r.toResult(c, sim))
	}
	sort.SliceStable(results, func(i, j int) bool { return results[i].Similarity > results[j].Similarity })
	if len(results) > q.Limit {
		results = results[:q.Limit]
	}
	return results, nil
}

func (r *ChunkRepo) SearchKeyword(_ context.Context, q storage.KeywordQuery) ([]storage.SearchResult, error) {
	if len(q.Terms) == 0 || q.Limit <= 0 {
		return nil, nil
	}
	terms := make([]string, len(q.Terms))
	for i, t := range q.Terms {
		terms[i] = strings.ToLower(t)
	}

	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	var matched []*storage.ChunkRecord
	for _, c := range r.candidates(q.BookIDs) {
		content := strings.ToLower(c.Content)
		for _, t := range terms {
			if strings.Contains(content, t) {
				matched = append(matched, c)
				break
			}
		}
	}
	sort.SliceStable(matched, func(i, j int) bool {
		si, sj := r.s.books[matched[i].BookID].Slug, r.s.books[matched[j].BookID].Slug
		if si != sj {
			return si < sj
		}
		return matched[i].ChunkIndex < matched[j].ChunkIndex
	})
	if len(matched) > q.Limit {
		matched = matched[:q.Limit]
	}

	results := make([]storage.SearchResult, len(matched))
	for i, c := range matched {
		results[i] = r.toResult(c, 0)
	}
	return results, nil
}

// Cosine returns the cosine similarity of a and b clamped to [0, 1].
// Mismatched or zero-length vectors score 0.
func Cosine(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	sim := dot / (math.Sqrt(na) * math.Sqrt(nb))
	return math.Max(0, math.Min(1, sim))
}

var (
	_ storage.BookStore  = (*BookRepo)(nil)
	_ storage.RunStore   = (*RunRepo)(nil)
	_ storage.ChunkStore = (*ChunkRepo)(nil)
)
