package handlers

import (
	"context"
	"net/http"

	"bookrag/internal/contextutil"
	"bookrag/internal/rag"
	"bookrag/internal/storage"
)

// Searcher runs hybrid retrieval.
type Searcher interface {
	Retrieve(ctx context.Context, query string, opts rag.Options) (*rag.Retrieval, error)
}

// ContextAssembler builds a bounded prompt context from results.
type ContextAssembler interface {
	Assemble(results []storage.SearchResult) rag.Assembly
}

// SearchRequest represents the HTTP request payload for retrieval.
type SearchRequest struct {
	Query               string   `json:"query"`
	BookSlugs           []string `json:"book_slugs,omitempty"`
	TopK                int      `json:"top_k,omitempty"`
	SimilarityThreshold float64  `json:"similarity_threshold,omitempty"`
	// Assemble adds the assembled context for the results to the response.
	Assemble bool `json:"assemble,omitempty"`
}

// SearchResponse represents the HTTP response payload for retrieval.
type SearchResponse struct {
	Results            []storage.SearchResult `json:"results"`
	KeywordTerms       []string               `json:"keyword_terms"`
	EmbeddingTokens    int                    `json:"embedding_tokens"`
	EmbeddingLatencyMs int64                  `json:"embedding_latency_ms"`
	RetrievalLatencyMs int64                  `json:"retrieval_latency_ms"`
	Context            *rag.Assembly          `json:"context,omitempty"`
}

// SearchHandler handles POST /api/v1/search.
type SearchHandler struct {
	searcher  Searcher
	assembler ContextAssembler
}

// NewSearchHandler creates a new SearchHandler.
func NewSearchHandler(searcher Searcher, assembler ContextAssembler) *SearchHandler {
	return &SearchHandler{searcher: searcher, assembler: assembler}
}

// ServeHTTP returns ranked passages for a query without generating an answer.
func (h *SearchHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := contextutil.LoggerFromContext(ctx)

	var req SearchRequest
	if err := decodeJSON(w, r, &req); err != nil {
		logger.WarnContext(ctx, "invalid request body", "error", err)
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	retrieval, err := h.searcher.Retrieve(ctx, req.Query, rag.Options{
		BookSlugs:           req.BookSlugs,
		TopK:                req.TopK,
		SimilarityThreshold: req.SimilarityThreshold,
	})
	if err != nil {
		handleError(ctx, w, err, "Failed to search")
		return
	}

	resp := SearchResponse{
		Results:            retrieval.Results,
		KeywordTerms:       retrieval.KeywordTerms,
		EmbeddingTokens:    retrieval.EmbeddingTokens,
		EmbeddingLatencyMs: retrieval.EmbeddingLatency.Milliseconds(),
		RetrievalLatencyMs: retrieval.RetrievalLatency.Milliseconds(),
	}
	if resp.Results == nil {
		resp.Results = []storage.SearchResult{}
	}
	if resp.KeywordTerms == nil {
		resp.KeywordTerms = []string{}
	}
	if req.Assemble && h.assembler != nil {
		assembly := h.assembler.Assemble(retrieval.Results)
		resp.Context = &assembly
	}

	logger.InfoContext(ctx, "search completed", "results", len(resp.Results), "keyword_terms", len(resp.KeywordTerms))
	writeJSON(ctx, w, http.StatusOK, resp)
}
