// Package rag retrieves book passages for a question and assembles them into a
// bounded, cited prompt context.
package rag

import (
	"context"
	"fmt"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"bookrag/internal/apperr"
	"bookrag/internal/contextutil"
	"bookrag/internal/llm"
	"bookrag/internal/metrics"
	"bookrag/internal/storage"
)

// Retriever runs hybrid vector and keyword search over active books.
type Retriever struct {
	embedder llm.Embedder
	books    storage.BookStore
	chunks   storage.ChunkStore
	metrics  *metrics.Metrics
}

// RetrieverOption configures a Retriever.
type RetrieverOption func(*Retriever)

// WithRetrieverMetrics sets the Prometheus collectors.
func WithRetrieverMetrics(m *metrics.Metrics) RetrieverOption {
	return func(r *Retriever) {
		r.metrics = m
	}
}

// NewRetriever creates a new Retriever.
func NewRetriever(embedder llm.Embedder, books storage.BookStore, chunks storage.ChunkStore, opts ...RetrieverOption) *Retriever {
	r := &Retriever{
		embedder: embedder,
		books:    books,
		chunks:   chunks,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Retrieve embeds query, searches both branches concurrently and merges them:
// vector rows in rank order first, then keyword-only rows scored KeywordSimilarity.
// An empty result is not an error.
func (r *Retriever) Retrieve(ctx context.Context, query string, opts Options) (*Retrieval, error) {
	logger := contextutil.LoggerFromContext(ctx)
	opts = opts.withDefaults()

	query = strings.TrimSpace(query)
	if query == "" {
		return nil, apperr.Invalid("query", "query is required")
	}

	embedStart := time.Now()
	embedding, err := r.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}
	out := &Retrieval{
		Results:          []storage.SearchResult{},
		EmbeddingLatency: time.Since(embedStart),
		EmbeddingTokens:  embedding.Tokens,
	}
	r.metrics.ObserveLatency("embed", out.EmbeddingLatency)
	r.metrics.ObserveEmbeddingTokens("query", embedding.Tokens)

	var bookIDs []string
	if len(opts.BookSlugs) > 0 {
		bookIDs, err = r.books.ActiveIDsBySlugs(ctx, opts.BookSlugs)
		if err != nil {
			return nil, apperr.Dependency("resolve book slugs", err)
		}
		if len(bookIDs) == 0 {
			logger.InfoContext(ctx, "no active books match filter", "book_slugs", opts.BookSlugs)
			r.metrics.ObserveResults(0)
			return out, nil
		}
	}

	terms := ExtractKeywords(query)
	out.KeywordTerms = terms

	searchStart := time.Now()
	var vectorRows, keywordRows []storage.SearchResult
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		start := time.Now()
		rows, err := r.chunks.SearchSimilar(gctx, storage.VectorQuery{
			Vector:        embedding.Vector,
			Limit:         opts.TopK,
			BookIDs:       bookIDs,
			MinSimilarity: opts.SimilarityThreshold,
		})
		if err != nil {
			return fmt.Errorf("vector search: %w", err)
		}
		vectorRows = rows
		r.metrics.ObserveLatency("vector", time.Since(start))
		return nil
	})
	g.Go(func() error {
		if len(terms) == 0 {
			return nil
		}
		start := time.Now()
		rows, err := r.chunks.SearchKeyword(gctx, storage.KeywordQuery{
			Terms:   terms,
			Limit:   opts.TopK,
			BookIDs: bookIDs,
		})
		if err != nil {
			return fmt.Errorf("keyword search: %w", err)
		}
		keywordRows = rows
		r.metrics.ObserveLatency("keyword", time.Since(start))
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, apperr.Dependency("retrieve", err)
	}
	out.RetrievalLatency = time.Since(searchStart)

	out.Results = merge(query, vectorRows, keywordRows)
	r.metrics.ObserveResults(len(out.Results))

	logger.InfoContext(ctx, "retrieval completed",
		"vector_results", len(vectorRows),
		"keyword_results", len(keywordRows),
		"merged_results", len(out.Results),
		"keyword_terms", terms,
		"embedding_latency", out.EmbeddingLatency,
		"retrieval_latency", out.RetrievalLatency,
	)
	return out, nil
}

// merge appends keyword rows absent from the vector rows, scored KeywordSimilarity.
func merge(query string, vectorRows, keywordRows []storage.SearchResult) []storage.SearchResult {
	merged := make([]storage.SearchResult, 0, len(vectorRows)+len(keywordRows))
	seen := make(map[string]struct{}, len(vectorRows))
	for _, row := range vectorRows {
		seen[row.ID] = struct{}{}
		merged = append(merged, row)
	}

	var keywordOnly []storage.SearchResult
	for _, row := range keywordRows {
		if _, ok := seen[row.ID]; ok {
			continue
		}
		seen[row.ID] = struct{}{}
		row.Similarity = KeywordSimilarity
		keywordOnly = append(keywordOnly, row)
	}
	rankByLexicalScore(query, keywordOnly)
	return append(merged, keywordOnly...)
}
