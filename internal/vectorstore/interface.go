// Package vectorstore stores chunk embeddings in an approximate nearest-neighbor index.
package vectorstore

//go:generate go run go.uber.org/mock/mockgen@latest -destination=mocks/mock_vector_store.go -package=mocks bookrag/internal/vectorstore VectorStore

import "context"

// Point represents a vector point with metadata.
type Point struct {
	ID   string
	Vec  []float32
	Meta map[string]any
}

// SearchResult represents a search result from vector search.
type SearchResult struct {
	PointID string
	Score   float32
	Meta    map[string]any
}

// Filter restricts a search. An empty BookIDs matches every point.
type Filter struct {
	BookIDs  []string
	MinScore float32
}

// VectorStore defines the interface for vector storage operations.
type VectorStore interface {
	// EnsureCollection creates the collection with cosine distance if it does not exist.
	EnsureCollection(ctx context.Context, collection string, vectorSize int) error

	// Upsert inserts or updates points in the collection.
	Upsert(ctx context.Context, collection string, points []Point) error

	// Search returns up to k points ranked by cosine similarity, at or above filter.MinScore.
	Search(ctx context.Context, collection string, query []float32, k int, filter Filter) ([]SearchResult, error)
}
