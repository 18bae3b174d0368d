package rag

import (
	"time"

	"bookrag/internal/storage"
)

const (
	// DefaultTopK is the number of rows each search branch returns when unset.
	DefaultTopK = 5
	// MaxTopK caps the per-branch row count.
	MaxTopK = 10
	// DefaultSimilarityThreshold is the minimum cosine similarity of vector rows.
	DefaultSimilarityThreshold = 0.4
	// KeywordSimilarity is the synthetic score given to keyword-only rows. It sits
	// just above the vector threshold so such rows rank below any strong vector hit.
	KeywordSimilarity = 0.45
)

// Options controls a retrieval. Zero values select the defaults.
type Options struct {
	// BookSlugs restricts retrieval to the active versions of these books. Empty searches every active book.
	BookSlugs []string `json:"book_slugs,omitempty"`
	// TopK is the per-branch row limit, at most MaxTopK.
	TopK int `json:"top_k,omitempty"`
	// SimilarityThreshold is the minimum vector similarity in (0, 1].
	SimilarityThreshold float64 `json:"similarity_threshold,omitempty"`
}

func (o Options) withDefaults() Options {
	if o.TopK <= 0 {
		o.TopK = DefaultTopK
	}
	if o.TopK > MaxTopK {
		o.TopK = MaxTopK
	}
	if o.SimilarityThreshold <= 0 || o.SimilarityThreshold > 1 {
		o.SimilarityThreshold = DefaultSimilarityThreshold
	}
	return o
}

// Retrieval is the merged result of the vector and keyword branches.
type Retrieval struct {
	// Results holds vector rows in rank order followed by keyword-only rows.
	Results []storage.SearchResult `json:"results"`
	// KeywordTerms are the terms the keyword branch searched for.
	KeywordTerms     []string      `json:"keyword_terms,omitempty"`
	EmbeddingLatency time.Duration `json:"embedding_latency"`
	// RetrievalLatency covers both search branches. Zero when no search was issued.
	RetrievalLatency time.Duration `json:"retrieval_latency"`
	EmbeddingTokens  int           `json:"embedding_tokens"`
}

// Citation identifies one page a context passage came from.
type Citation struct {
	BookSlug   string `json:"book_slug"`
	BookTitle  string `json:"book_title"`
	PageNumber int    `json:"page_number"`
	// Similarity of the first passage cited for this page.
	Similarity float64 `json:"similarity"`
}

// Assembly is the bounded prompt context built from retrieval results.
type Assembly struct {
	ContextText string                 `json:"context_text"`
	UsedChunks  []storage.SearchResult `json:"used_chunks"`
	Citations   []Citation             `json:"citations"`
	// TotalTokens counts passage content only, not headers or separators.
	TotalTokens int `json:"total_tokens"`
}
