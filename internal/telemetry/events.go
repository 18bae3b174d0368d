// Package telemetry publishes query and ingestion events off the request path.
// Delivery is best effort: a slow or unavailable broker never changes a
// request's outcome.
package telemetry

import "time"

// EventType distinguishes telemetry events on the topic.
type EventType string

const (
	EventQuery     EventType = "query"
	EventIngestion EventType = "ingestion"
)

// QueryEvent describes one retrieval, with or without answer generation.
type QueryEvent struct {
	Type               EventType `json:"type"`
	RequestID          string    `json:"request_id,omitempty"`
	Query              string    `json:"query"`
	BookSlugs          []string  `json:"book_slugs,omitempty"`
	Results            int       `json:"results"`
	UsedChunks         int       `json:"used_chunks"`
	ContextTokens      int       `json:"context_tokens"`
	EmbeddingTokens    int       `json:"embedding_tokens"`
	CompletionTokens   int       `json:"completion_tokens"`
	EmbeddingLatencyMs int64     `json:"embedding_latency_ms"`
	RetrievalLatencyMs int64     `json:"retrieval_latency_ms"`
	Fallback           bool      `json:"fallback"`
	Timestamp          time.Time `json:"timestamp"`
}

// IngestionEvent describes the outcome of an ingestion run.
type IngestionEvent struct {
	Type            EventType `json:"type"`
	RunID           string    `json:"run_id"`
	BookID          string    `json:"book_id"`
	Slug            string    `json:"slug"`
	Status          string    `json:"status"`
	ChunksProcessed int       `json:"chunks_processed"`
	ChunksSkipped   int       `json:"chunks_skipped"`
	EmbeddingTokens int       `json:"embedding_tokens"`
	LatencyMs       int64     `json:"latency_ms"`
	Timestamp       time.Time `json:"timestamp"`
}

// Sink accepts events without blocking.
type Sink interface {
	Track(event any)
}

// NopSink discards every event.
type NopSink struct{}

func (NopSink) Track(any) {}
