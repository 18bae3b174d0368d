package indexer

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"bookrag/internal/apperr"
	"bookrag/internal/contextutil"
	"bookrag/internal/llm"
	"bookrag/internal/metrics"
	"bookrag/internal/storage"
	"bookrag/internal/telemetry"
)

const (
	// DefaultBatchSize is the number of chunks embedded and committed per checkpoint.
	DefaultBatchSize = 100
	// minPageChars drops pages whose cleaned text is too short to carry content.
	minPageChars = 10
	// documentHashLen is the number of hex characters kept from the SHA-256 digest.
	documentHashLen = 16
)

// Extractor turns a source document into ordered pages.
type Extractor interface {
	Extract(doc []byte) ([]RawPage, error)
}

// IngestRequest is one document to index under a slug.
type IngestRequest struct {
	Document []byte
	Format   string // Key of a registered Extractor
	Slug     string
	Title    string
	Author   string
}

// Pipeline indexes documents into resumable, deduplicated, embedded chunks.
type Pipeline struct {
	books      storage.BookStore
	runs       storage.RunStore
	chunks     storage.ChunkStore
	embedder   llm.Embedder
	chunker    *Chunker
	extractors map[string]Extractor
	retry      llm.RetryConfig
	batchSize  int
	model      string
	metrics    *metrics.Metrics
	sink       telemetry.Sink
}

// PipelineOption configures a Pipeline.
type PipelineOption func(*Pipeline)

// WithExtractor registers e for documents of the given format.
func WithExtractor(format string, e Extractor) PipelineOption {
	return func(p *Pipeline) {
		p.extractors[format] = e
	}
}

// WithBatchSize overrides DefaultBatchSize. Values above llm.MaxBatchSize are capped.
func WithBatchSize(n int) PipelineOption {
	return func(p *Pipeline) {
		if n > 0 {
			p.batchSize = min(n, llm.MaxBatchSize)
		}
	}
}

// WithRetryConfig overrides llm.DefaultRetryConfig for embedding calls.
func WithRetryConfig(cfg llm.RetryConfig) PipelineOption {
	return func(p *Pipeline) {
		p.retry = cfg
	}
}

// WithEmbeddingModel names the embedding model for index versioning.
func WithEmbeddingModel(model string) PipelineOption {
	return func(p *Pipeline) {
		p.model = model
	}
}

// WithMetrics sets the Prometheus collectors.
func WithMetrics(m *metrics.Metrics) PipelineOption {
	return func(p *Pipeline) {
		p.metrics = m
	}
}

// WithTelemetry sets the ingestion event sink.
func WithTelemetry(s telemetry.Sink) PipelineOption {
	return func(p *Pipeline) {
		if s != nil {
			p.sink = s
		}
	}
}

// NewPipeline creates a new ingestion pipeline.
func NewPipeline(
	books storage.BookStore,
	runs storage.RunStore,
	chunks storage.ChunkStore,
	embedder llm.Embedder,
	chunker *Chunker,
	opts ...PipelineOption,
) *Pipeline {
	p := &Pipeline{
		books:      books,
		runs:       runs,
		chunks:     chunks,
		embedder:   embedder,
		chunker:    chunker,
		extractors: make(map[string]Extractor),
		retry:      llm.DefaultRetryConfig(),
		batchSize:  DefaultBatchSize,
		sink:       telemetry.NopSink{},
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// DocumentHash returns the short content digest identifying a document version.
func DocumentHash(doc []byte) string {
	sum := sha256.Sum256(doc)
	return hex.EncodeToString(sum[:])[:documentHashLen]
}

// Prepare validates req, extracts its pages and chunks them without touching storage.
func (p *Pipeline) Prepare(req IngestRequest) ([]TextChunk, int, error) {
	if strings.TrimSpace(req.Slug) == "" {
		return nil, 0, apperr.Invalid("slug", "slug is required")
	}
	if strings.TrimSpace(req.Title) == "" {
		return nil, 0, apperr.Invalid("title", "title is required")
	}
	if len(req.Document) == 0 {
		return nil, 0, apperr.Invalid("document", "document is empty")
	}
	extractor, ok := p.extractors[req.Format]
	if !ok {
		return nil, 0, apperr.Invalid("format", fmt.Sprintf("unsupported format %q", req.Format))
	}

	pages, err := extractor.Extract(req.Document)
	if err != nil {
		return nil, 0, apperr.Invalid("document", fmt.Sprintf("failed to extract text: %v", err))
	}

	kept := pages[:0]
	for _, page := range pages {
		if utf8.RuneCountInString(CleanText(page.Text)) > minPageChars {
			kept = append(kept, page)
		}
	}

	chunks := p.chunker.Chunk(kept)
	if len(chunks) == 0 {
		return nil, len(kept), apperr.Invalid("document", "document has no indexable text")
	}
	return chunks, len(kept), nil
}

// Job is an ingestion whose book version and run are resolved but whose chunks
// are not yet stored.
type Job struct {
	Run    *storage.IngestionRun
	Book   *storage.Book
	req    IngestRequest
	chunks []TextChunk
	pages  int
}

// Ingest indexes req and returns the run in its terminal state.
//
// A running run for the same book version is resumed after its last committed
// batch. The book becomes visible to retrieval only after every chunk is stored.
// If ctx is cancelled the run is left running so a later call resumes it.
func (p *Pipeline) Ingest(ctx context.Context, req IngestRequest) (*storage.IngestionRun, error) {
	job, err := p.Begin(ctx, req)
	if err != nil {
		return nil, err
	}
	return p.Run(ctx, job)
}

// Begin validates and chunks req, then resolves its book version and run.
// Nothing is embedded; pass the job to Run.
func (p *Pipeline) Begin(ctx context.Context, req IngestRequest) (*Job, error) {
	chunks, pageCount, err := p.Prepare(req)
	if err != nil {
		return nil, err
	}
	pdfHash := DocumentHash(req.Document)

	book, err := p.books.GetOrCreate(ctx, &storage.Book{
		Slug:       req.Slug,
		Title:      req.Title,
		Author:     req.Author,
		PDFHash:    pdfHash,
		TotalPages: pageCount,
	})
	if err != nil {
		return nil, apperr.Dependency("resolve book", err)
	}

	run, err := p.resolveRun(ctx, book.ID, pdfHash)
	if err != nil {
		return nil, err
	}
	return &Job{Run: run, Book: book, req: req, chunks: chunks, pages: pageCount}, nil
}

// Run embeds and stores the job's chunks and activates the book version.
func (p *Pipeline) Run(ctx context.Context, job *Job) (*storage.IngestionRun, error) {
	run, book, req := job.Run, job.Book, job.req
	logger := contextutil.LoggerFromContext(ctx).With("slug", req.Slug, "book_id", book.ID, "run_id", run.ID)
	ctx = contextutil.WithLogger(ctx, logger)
	start := time.Now()

	logger.InfoContext(ctx, "ingestion started",
		"pdf_hash", book.PDFHash,
		"pages", job.pages,
		"chunks", len(job.chunks),
		"resume_from", run.LastProcessedChunkIndex+1,
	)

	tokens, err := p.processBatches(ctx, run, job.chunks)
	if err != nil {
		if ctx.Err() != nil {
			logger.WarnContext(ctx, "ingestion interrupted, run left resumable",
				"last_processed_chunk_index", run.LastProcessedChunkIndex)
			return run, err
		}
		return p.fail(ctx, run, req.Slug, tokens, start, err)
	}

	if err := p.complete(ctx, run, book.ID); err != nil {
		return p.fail(ctx, run, req.Slug, tokens, start, err)
	}

	final, err := p.runs.GetByID(ctx, run.ID)
	if err != nil {
		return nil, apperr.Dependency("reload run", err)
	}

	p.logStats(ctx, book.ID)
	p.metrics.ObserveRun(string(storage.RunCompleted))
	p.track(final, req.Slug, tokens, start)
	logger.InfoContext(ctx, "ingestion completed",
		"chunks_processed", final.ChunksProcessed,
		"chunks_skipped", final.ChunksSkipped,
		"embedding_tokens", tokens,
		"duration", time.Since(start),
	)
	return final, nil
}

// resolveRun resumes the running run for the book version or creates a fresh one.
func (p *Pipeline) resolveRun(ctx context.Context, bookID, pdfHash string) (*storage.IngestionRun, error) {
	run, err := p.runs.FindRunning(ctx, bookID, pdfHash)
	if err == nil {
		return run, nil
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return nil, apperr.Dependency("find running run", err)
	}

	run = &storage.IngestionRun{
		BookID:                  bookID,
		PDFHash:                 pdfHash,
		LastProcessedChunkIndex: -1,
	}
	if err := p.runs.Create(ctx, run); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, apperr.DataIntegrity("create run", err)
		}
		return nil, apperr.Dependency("create run", err)
	}
	return run, nil
}

// processBatches embeds and stores every chunk after the run's checkpoint,
// persisting progress after each batch. It returns the embedding tokens spent.
func (p *Pipeline) processBatches(ctx context.Context, run *storage.IngestionRun, chunks []TextChunk) (int, error) {
	logger := contextutil.LoggerFromContext(ctx)
	tokens := 0

	// Hashes stored by this run, for duplicates inside the document.
	seen := make(map[string]struct{})

	for start := run.LastProcessedChunkIndex + 1; start < len(chunks); start += p.batchSize {
		if err := ctx.Err(); err != nil {
			return tokens, err
		}
		end := min(start+p.batchSize, len(chunks))
		batch := chunks[start:end]

		hashes := make([]string, len(batch))
		for i, c := range batch {
			hashes[i] = c.Hash
		}
		existing, err := p.chunks.ExistingHashes(ctx, run.BookID, hashes)
		if err != nil {
			return tokens, apperr.Dependency("check existing chunks", err)
		}

		var pending []TextChunk
		skipped := 0
		for _, c := range batch {
			if _, ok := existing[c.Hash]; ok {
				skipped++
				continue
			}
			if _, ok := seen[c.Hash]; ok {
				skipped++
				continue
			}
			seen[c.Hash] = struct{}{}
			pending = append(pending, c)
		}

		inserted := 0
		if len(pending) > 0 {
			texts := make([]string, len(pending))
			for i, c := range pending {
				texts[i] = c.Content
			}

			retry := p.retry
			retry.OnRetry = func(int, error) { p.metrics.ObserveRetry() }
			var embedded llm.BatchEmbedding
			err := llm.Retry(ctx, "embed chunks", retry, func() error {
				var err error
				embedded, err = p.embedder.EmbedBatch(ctx, texts)
				return err
			})
			if err != nil {
				return tokens, fmt.Errorf("failed to embed batch at chunk %d: %w", start, err)
			}
			if len(embedded.Vectors) != len(pending) {
				return tokens, apperr.Dependency("embed chunks",
					fmt.Errorf("embedding count mismatch: expected %d, got %d", len(pending), len(embedded.Vectors)))
			}
			tokens += embedded.TotalTokens
			p.metrics.ObserveEmbeddingTokens("ingest", embedded.TotalTokens)

			records := make([]*storage.ChunkRecord, len(pending))
			for i, c := range pending {
				records[i] = &storage.ChunkRecord{
					ID:           storage.StableChunkID(run.BookID, c.Hash),
					BookID:       run.BookID,
					ChunkIndex:   c.Index,
					PageNumber:   c.PageNumber,
					SectionTitle: c.SectionTitle,
					Content:      c.Content,
					TokenCount:   c.TokenCount,
					ChunkHash:    c.Hash,
					Embedding:    embedded.Vectors[i],
				}
			}
			inserted, err = p.chunks.InsertBatch(ctx, records)
			if err != nil {
				return tokens, apperr.Dependency("insert chunks", err)
			}
			// Rows another run committed between the hash check and the insert.
			skipped += len(pending) - inserted
		}

		processed := run.ChunksProcessed + inserted
		skippedTotal := run.ChunksSkipped + skipped
		if err := p.runs.UpdateProgress(ctx, run.ID, processed, skippedTotal, end-1); err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				return tokens, apperr.DataIntegrity("update run progress", err)
			}
			return tokens, apperr.Dependency("update run progress", err)
		}
		run.ChunksProcessed = processed
		run.ChunksSkipped = skippedTotal
		run.LastProcessedChunkIndex = end - 1

		p.metrics.ObserveChunks(inserted, skipped)
		logger.DebugContext(ctx, "batch committed",
			"first_index", start,
			"last_index", end-1,
			"inserted", inserted,
			"skipped", skipped,
		)
	}
	return tokens, nil
}

// complete marks the run completed, then swaps the active version of the slug.
func (p *Pipeline) complete(ctx context.Context, run *storage.IngestionRun, bookID string) error {
	total, err := p.chunks.CountByBook(ctx, bookID)
	if err != nil {
		return apperr.Dependency("count chunks", err)
	}
	if err := p.runs.Complete(ctx, run.ID); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return apperr.DataIntegrity("complete run", err)
		}
		return apperr.Dependency("complete run", err)
	}
	if err := p.books.Activate(ctx, bookID, total); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return apperr.DataIntegrity("activate book", err)
		}
		return apperr.Dependency("activate book", err)
	}
	return nil
}

// fail records cause on the run and returns the failed run with cause.
func (p *Pipeline) fail(ctx context.Context, run *storage.IngestionRun, slug string, tokens int, start time.Time, cause error) (*storage.IngestionRun, error) {
	logger := contextutil.LoggerFromContext(ctx)
	logger.ErrorContext(ctx, "ingestion failed", "error", cause)

	if err := p.runs.Fail(ctx, run.ID, cause.Error()); err != nil {
		// The run may already be terminal when completion failed on activation.
		logger.WarnContext(ctx, "failed to mark run failed", "error", err)
	} else {
		run.Status = storage.RunFailed
		run.ErrorMessage = cause.Error()
	}

	p.metrics.ObserveRun(string(storage.RunFailed))
	p.track(run, slug, tokens, start)
	return run, cause
}

func (p *Pipeline) track(run *storage.IngestionRun, slug string, tokens int, start time.Time) {
	p.sink.Track(telemetry.IngestionEvent{
		Type:            telemetry.EventIngestion,
		RunID:           run.ID,
		BookID:          run.BookID,
		Slug:            slug,
		Status:          string(run.Status),
		ChunksProcessed: run.ChunksProcessed,
		ChunksSkipped:   run.ChunksSkipped,
		EmbeddingTokens: tokens,
		LatencyMs:       time.Since(start).Milliseconds(),
		Timestamp:       time.Now().UTC(),
	})
}

func (p *Pipeline) logStats(ctx context.Context, bookID string) {
	logger := contextutil.LoggerFromContext(ctx)
	stats, err := p.BookStats(ctx, bookID)
	if err != nil {
		logger.WarnContext(ctx, "failed to compute index stats", "error", err)
		return
	}
	logger.InfoContext(ctx, "index stats",
		"chunks", stats.Chunks,
		"tokens_min", stats.ChunkTokenStats.Min,
		"tokens_max", stats.ChunkTokenStats.Max,
		"tokens_mean", stats.ChunkTokenStats.Mean,
		"tokens_p95", stats.ChunkTokenStats.P95,
		"index_version", stats.IndexVersion,
	)
}
