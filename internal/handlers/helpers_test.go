package handlers

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"unicode"

	"bookrag/internal/extract"
	"bookrag/internal/indexer"
	"bookrag/internal/llm"
	"bookrag/internal/storage/memory"
)

func init() {
	slog.SetDefault(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

// wordTokenizer counts whitespace-separated words.
type wordTokenizer struct{}

func (wordTokenizer) Count(text string) int { return len(strings.Fields(text)) }

func (wordTokenizer) Truncate(text string, maxTokens int) string {
	fields := strings.FieldsFunc(text, unicode.IsSpace)
	if len(fields) <= maxTokens {
		return text
	}
	return strings.Join(fields[:maxTokens], " ")
}

// lengthEmbedder returns the same vector for every text, so every stored chunk
// matches every query with similarity 1.
type lengthEmbedder struct{}

func (lengthEmbedder) Embed(_ context.Context, text string) (llm.Embedding, error) {
	return llm.Embedding{Vector: []float32{1, 1, 1}, Tokens: len(strings.Fields(text))}, nil
}

func (lengthEmbedder) EmbedBatch(_ context.Context, texts []string) (llm.BatchEmbedding, error) {
	out := llm.BatchEmbedding{Vectors: make([][]float32, len(texts))}
	for i, text := range texts {
		out.Vectors[i] = []float32{1, 1, 1}
		out.TotalTokens += len(strings.Fields(text))
	}
	return out, nil
}

func newTestPipeline(store *memory.Store) *indexer.Pipeline {
	return newPipelineWith(store, lengthEmbedder{})
}

func newPipelineWith(store *memory.Store, embedder llm.Embedder) *indexer.Pipeline {
	chunker := indexer.NewChunker(wordTokenizer{},
		indexer.WithTargetTokens(20), indexer.WithMinTokens(5), indexer.WithOverlapTokens(4))
	return indexer.NewPipeline(store.Books(), store.Runs(), store.Chunks(), embedder, chunker,
		extract.PipelineOptions()...)
}

// blockingEmbedder holds every call until its context ends.
type blockingEmbedder struct {
	started chan struct{}
}

func (b blockingEmbedder) Embed(ctx context.Context, _ string) (llm.Embedding, error) {
	<-ctx.Done()
	return llm.Embedding{}, ctx.Err()
}

func (b blockingEmbedder) EmbedBatch(ctx context.Context, _ []string) (llm.BatchEmbedding, error) {
	select {
	case b.started <- struct{}{}:
	default:
	}
	<-ctx.Done()
	return llm.BatchEmbedding{}, ctx.Err()
}

// bookText is three sentences of plain text, enough for at least one chunk.
const bookText = "The spice melange is found only on the desert planet Arrakis far from the empire.\n" +
	"Paul Atreides travels with his family to govern the planet and its harvesters.\n" +
	"The Fremen of the deep desert ride the great sandworms across the dunes at night.\n"

func ingestRequest(slug, title string) indexer.IngestRequest {
	return indexer.IngestRequest{Document: []byte(bookText), Format: extract.FormatText, Slug: slug, Title: title}
}
