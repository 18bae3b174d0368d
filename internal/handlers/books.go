package handlers

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"

	"bookrag/internal/contextutil"
	"bookrag/internal/indexer"
	"bookrag/internal/storage"
)

// Ingestor runs ingestion in two steps so the run id is known before embedding starts.
type Ingestor interface {
	Begin(ctx context.Context, req indexer.IngestRequest) (*indexer.Job, error)
	Run(ctx context.Context, job *indexer.Job) (*storage.IngestionRun, error)
	BookStats(ctx context.Context, bookID string) (*indexer.IndexStats, error)
}

// IngestRequest represents the HTTP request payload for adding a book.
type IngestRequest struct {
	Slug    string `json:"slug"`
	Title   string `json:"title"`
	Author  string `json:"author,omitempty"`
	Format  string `json:"format"`
	Content string `json:"content"`
}

// RunResponse describes an ingestion run.
type RunResponse struct {
	ID                      string     `json:"id"`
	BookID                  string     `json:"book_id"`
	Status                  string     `json:"status"`
	ChunksProcessed         int        `json:"chunks_processed"`
	ChunksSkipped           int        `json:"chunks_skipped"`
	LastProcessedChunkIndex int        `json:"last_processed_chunk_index"`
	ErrorMessage            string     `json:"error_message,omitempty"`
	StartedAt               time.Time  `json:"started_at"`
	CompletedAt             *time.Time `json:"completed_at,omitempty"`
}

func toRunResponse(run *storage.IngestionRun) RunResponse {
	resp := RunResponse{
		ID:                      run.ID,
		BookID:                  run.BookID,
		Status:                  string(run.Status),
		ChunksProcessed:         run.ChunksProcessed,
		ChunksSkipped:           run.ChunksSkipped,
		LastProcessedChunkIndex: run.LastProcessedChunkIndex,
		ErrorMessage:            run.ErrorMessage,
		StartedAt:               run.StartedAt,
	}
	if !run.CompletedAt.IsZero() {
		completed := run.CompletedAt
		resp.CompletedAt = &completed
	}
	return resp
}

// BookResponse describes an active book with its index statistics.
type BookResponse struct {
	ID          string              `json:"id"`
	Slug        string              `json:"slug"`
	Title       string              `json:"title"`
	Author      string              `json:"author,omitempty"`
	PDFHash     string              `json:"pdf_hash"`
	TotalPages  int                 `json:"total_pages"`
	TotalChunks int                 `json:"total_chunks"`
	IndexedAt   time.Time           `json:"indexed_at"`
	Stats       *indexer.IndexStats `json:"stats,omitempty"`
}

// ListBooksResponse represents the response of GET /api/v1/books.
type ListBooksResponse struct {
	Books []BookResponse `json:"books"`
}

// BooksHandler serves the book and ingestion-run endpoints.
type BooksHandler struct {
	ingestor Ingestor
	books    storage.BookStore
	runs     storage.RunStore

	// base parents every background ingestion; cancel stops them on shutdown.
	base   context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewBooksHandler creates a new BooksHandler.
func NewBooksHandler(ingestor Ingestor, books storage.BookStore, runs storage.RunStore) *BooksHandler {
	base, cancel := context.WithCancel(context.Background())
	return &BooksHandler{ingestor: ingestor, books: books, runs: runs, base: base, cancel: cancel}
}

// Create handles POST /api/v1/books. The document is validated and chunked
// synchronously; embedding continues in the background and the response
// carries the run to poll.
func (h *BooksHandler) Create(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := contextutil.LoggerFromContext(ctx)

	var req IngestRequest
	if err := decodeJSON(w, r, &req); err != nil {
		logger.WarnContext(ctx, "invalid request body", "error", err)
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	job, err := h.ingestor.Begin(ctx, indexer.IngestRequest{
		Document: []byte(req.Content),
		Format:   req.Format,
		Slug:     req.Slug,
		Title:    req.Title,
		Author:   req.Author,
	})
	if err != nil {
		handleError(ctx, w, err, "Failed to start ingestion")
		return
	}

	// The job's run belongs to the background goroutine from here on
	resp := toRunResponse(job.Run)
	runID := job.Run.ID

	// Outlive the request but keep its logger and request id
	bgCtx := contextutil.WithRequestID(contextutil.WithLogger(h.base, logger), contextutil.RequestIDFromContext(ctx))
	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		if _, err := h.ingestor.Run(bgCtx, job); err != nil {
			logger.ErrorContext(bgCtx, "background ingestion failed", "run_id", runID, "error", err)
		}
	}()

	logger.InfoContext(ctx, "ingestion accepted", "slug", req.Slug, "run_id", runID)
	writeJSON(ctx, w, http.StatusAccepted, resp)
}

// Wait blocks until every background ingestion has returned.
func (h *BooksHandler) Wait() {
	h.wg.Wait()
}

// Shutdown waits for background ingestions until ctx is done, then cancels
// the remaining ones and waits for them to return. A cancelled run stays
// running and resumes when the same document is ingested again.
func (h *BooksHandler) Shutdown(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		h.cancel()
		<-done
		return ctx.Err()
	}
}

// List handles GET /api/v1/books.
func (h *BooksHandler) List(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := contextutil.LoggerFromContext(ctx)

	books, err := h.books.ListActive(ctx)
	if err != nil {
		handleError(ctx, w, err, "Failed to list books")
		return
	}

	resp := ListBooksResponse{Books: make([]BookResponse, 0, len(books))}
	for _, b := range books {
		item := BookResponse{
			ID:          b.ID,
			Slug:        b.Slug,
			Title:       b.Title,
			Author:      b.Author,
			PDFHash:     b.PDFHash,
			TotalPages:  b.TotalPages,
			TotalChunks: b.TotalChunks,
			IndexedAt:   b.IndexedAt,
		}
		stats, err := h.ingestor.BookStats(ctx, b.ID)
		if err != nil {
			logger.WarnContext(ctx, "failed to get index stats", "book_id", b.ID, "error", err)
		} else {
			item.Stats = stats
		}
		resp.Books = append(resp.Books, item)
	}
	writeJSON(ctx, w, http.StatusOK, resp)
}

// GetRun handles GET /api/v1/runs/{id}.
func (h *BooksHandler) GetRun(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	run, err := h.runs.GetByID(ctx, chi.URLParam(r, "id"))
	if errors.Is(err, storage.ErrNotFound) {
		writeError(w, http.StatusNotFound, "Run not found")
		return
	}
	if err != nil {
		handleError(ctx, w, err, "Failed to get run")
		return
	}
	writeJSON(ctx, w, http.StatusOK, toRunResponse(run))
}
