package storage

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrNotFound is returned when a record is not found.
	ErrNotFound = errors.New("record not found")
)

// chunkNamespace scopes chunk ids so the same (book, hash) pair always maps to the same UUID.
var chunkNamespace = uuid.MustParse("6f1c2a5e-8a47-4c1b-9d0e-3b2f7c4a9e10")

// StableChunkID derives a deterministic chunk id from its book and content hash.
// Vector points share this id, so retried inserts overwrite rather than duplicate.
func StableChunkID(bookID, chunkHash string) string {
	return uuid.NewSHA1(chunkNamespace, []byte(bookID+":"+chunkHash)).String()
}

// Book is one indexed version of a document. At most one version per slug is active.
type Book struct {
	ID          string // UUID
	Slug        string // Stable logical identifier across versions
	Title       string
	Author      string
	PDFHash     string // Short hex digest of the source bytes
	TotalPages  int
	TotalChunks int
	IndexedAt   time.Time // Zero until activated
	IsActive    bool
}

// RunStatus is the lifecycle state of an ingestion run.
type RunStatus string

const (
	RunRunning   RunStatus = "running"
	RunCompleted RunStatus = "completed"
	RunFailed    RunStatus = "failed"
)

// IngestionRun records one ingestion attempt and its resume checkpoint.
type IngestionRun struct {
	ID                      string // UUID
	BookID                  string
	PDFHash                 string
	Status                  RunStatus
	ChunksProcessed         int
	ChunksSkipped           int
	LastProcessedChunkIndex int // -1 before the first batch commits
	ErrorMessage            string
	StartedAt               time.Time
	CompletedAt             time.Time // Zero while running
}

// ChunkRecord is a persisted chunk with its embedding.
type ChunkRecord struct {
	ID           string // StableChunkID(BookID, ChunkHash)
	BookID       string
	ChunkIndex   int
	PageNumber   int
	SectionTitle string
	Content      string
	TokenCount   int
	ChunkHash    string
	Embedding    []float32
}

// SearchResult is a chunk matched by a query, joined with its book.
type SearchResult struct {
	ID           string  `json:"id"`
	BookID       string  `json:"book_id"`
	BookSlug     string  `json:"book_slug"`
	BookTitle    string  `json:"book_title"`
	Content      string  `json:"content"`
	PageNumber   int     `json:"page_number"`
	SectionTitle string  `json:"section_title,omitempty"`
	Similarity   float64 `json:"similarity"`
}

// VectorQuery is a nearest-neighbor search over active books.
type VectorQuery struct {
	Vector        []float32
	Limit         int
	BookIDs       []string // Empty means every active book
	MinSimilarity float64
}

// KeywordQuery matches chunks containing any of Terms, case-insensitively.
type KeywordQuery struct {
	Terms   []string
	Limit   int
	BookIDs []string // Empty means every active book
}
