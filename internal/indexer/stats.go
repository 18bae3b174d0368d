package indexer

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math"
	"sort"
)

// ChunkerVersion is the version identifier for the chunker implementation.
// Update this when chunking logic changes significantly.
const ChunkerVersion = "v2.0"

// IndexStats describes the stored chunks of one book version.
type IndexStats struct {
	BookID string `json:"book_id"`
	// Chunks is the number of stored chunks.
	Chunks int `json:"chunks"`
	// ChunkTokenStats contains statistics about token counts per chunk.
	ChunkTokenStats ChunkTokenStats `json:"chunk_token_stats"`
	// ChunkerVersion is the version of the chunker used.
	ChunkerVersion string `json:"chunker_version"`
	// IndexVersion is a hash identifying the index build (chunker + embedding model + params).
	IndexVersion string `json:"index_version"`
}

// ChunkTokenStats contains statistics about token counts in chunks.
type ChunkTokenStats struct {
	// Min is the minimum token count across all chunks.
	Min int `json:"min"`
	// Max is the maximum token count across all chunks.
	Max int `json:"max"`
	// Mean is the mean token count across all chunks.
	Mean float64 `json:"mean"`
	// P95 is the 95th percentile token count.
	P95 int `json:"p95"`
}

// BookStats computes index statistics for a stored book version.
func (p *Pipeline) BookStats(ctx context.Context, bookID string) (*IndexStats, error) {
	counts, err := p.chunks.TokenCountsByBook(ctx, bookID)
	if err != nil {
		return nil, fmt.Errorf("failed to get token counts: %w", err)
	}
	return &IndexStats{
		BookID:          bookID,
		Chunks:          len(counts),
		ChunkTokenStats: ComputeTokenStats(counts),
		ChunkerVersion:  ChunkerVersion,
		IndexVersion:    p.chunker.IndexVersion(p.model),
	}, nil
}

// IndexVersion hashes the chunker version, embedding model and chunking
// parameters into a 16 hex character build identifier.
func (c *Chunker) IndexVersion(embeddingModel string) string {
	input := fmt.Sprintf("%s|%s|targetTokens=%d|minTokens=%d|overlapTokens=%d",
		ChunkerVersion, embeddingModel, c.targetTokens, c.minTokens, c.overlapTokens)
	hash := sha256.Sum256([]byte(input))
	return hex.EncodeToString(hash[:])[:16] // 16 hex chars = 64 bits
}

// ComputeTokenStats computes min, max, mean, and p95 from token counts.
func ComputeTokenStats(tokenCounts []int) ChunkTokenStats {
	if len(tokenCounts) == 0 {
		return ChunkTokenStats{}
	}

	// Sort for percentile calculation
	sorted := make([]int, len(tokenCounts))
	copy(sorted, tokenCounts)
	sort.Ints(sorted)

	sum := 0
	for _, count := range tokenCounts {
		sum += count
	}
	mean := float64(sum) / float64(len(tokenCounts))

	p95Index := int(math.Ceil(float64(len(sorted)) * 0.95))
	if p95Index >= len(sorted) {
		p95Index = len(sorted) - 1
	}

	return ChunkTokenStats{
		Min:  sorted[0],
		Max:  sorted[len(sorted)-1],
		Mean: math.Round(mean*100) / 100, // Round to 2 decimal places
		P95:  sorted[p95Index],
	}
}
