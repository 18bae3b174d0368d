package cache

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bookrag/internal/llm"
	"bookrag/internal/metrics"
)

type memStore struct {
	mu     sync.Mutex
	data   map[string][]byte
	ttls   map[string]time.Duration
	getErr error
}

func newMemStore() *memStore {
	return &memStore{data: map[string][]byte{}, ttls: map[string]time.Duration{}}
}

func (s *memStore) Get(_ context.Context, key string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.getErr != nil {
		return nil, s.getErr
	}
	v, ok := s.data[key]
	if !ok {
		return nil, redis.Nil
	}
	return v, nil
}

func (s *memStore) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[key] = value
	s.ttls[key] = ttl
	return nil
}

type countingEmbedder struct {
	calls atomic.Int32
	delay time.Duration
}

func (e *countingEmbedder) Embed(_ context.Context, text string) (llm.Embedding, error) {
	e.calls.Add(1)
	time.Sleep(e.delay)
	return llm.Embedding{Vector: []float32{float32(len(text)), 1}, Tokens: 3}, nil
}

func (e *countingEmbedder) EmbedBatch(_ context.Context, texts []string) (llm.BatchEmbedding, error) {
	e.calls.Add(1)
	return llm.BatchEmbedding{Vectors: make([][]float32, len(texts)), TotalTokens: len(texts)}, nil
}

func TestEmbeddingCache_HitAfterMiss(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	next := &countingEmbedder{}
	m := metrics.New(prometheus.NewRegistry())
	c := NewEmbeddingCache(next, store, "text-embedding-3-small", WithTTL(time.Hour), WithMetrics(m))

	first, err := c.Embed(ctx, "who is paul")
	require.NoError(t, err)
	assert.Equal(t, 3, first.Tokens)

	second, err := c.Embed(ctx, "who is paul")
	require.NoError(t, err)
	assert.Equal(t, first.Vector, second.Vector)
	assert.Zero(t, second.Tokens)

	assert.EqualValues(t, 1, next.calls.Load())
	assert.Equal(t, 1.0, testutil.ToFloat64(m.EmbeddingCache.WithLabelValues("hit")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.EmbeddingCache.WithLabelValues("miss")))
	for _, ttl := range store.ttls {
		assert.Equal(t, time.Hour, ttl)
	}
}

func TestEmbeddingCache_KeyIncludesModel(t *testing.T) {
	a := NewEmbeddingCache(nil, nil, "model-a")
	b := NewEmbeddingCache(nil, nil, "model-b")
	assert.NotEqual(t, a.key("text"), b.key("text"))
	assert.Equal(t, a.key("text"), a.key("text"))
}

func TestEmbeddingCache_StoreFailureFallsThrough(t *testing.T) {
	store := newMemStore()
	store.getErr = errors.New("connection refused")
	next := &countingEmbedder{}
	c := NewEmbeddingCache(next, store, "m")

	emb, err := c.Embed(context.Background(), "query")
	require.NoError(t, err)
	assert.NotEmpty(t, emb.Vector)
	assert.EqualValues(t, 1, next.calls.Load())
}

func TestEmbeddingCache_CollapsesConcurrentMisses(t *testing.T) {
	next := &countingEmbedder{delay: 50 * time.Millisecond}
	c := NewEmbeddingCache(next, newMemStore(), "m")

	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := c.Embed(context.Background(), "same question")
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
	assert.LessOrEqual(t, next.calls.Load(), int32(2))
}

func TestEmbeddingCache_BatchPassesThrough(t *testing.T) {
	next := &countingEmbedder{}
	c := NewEmbeddingCache(next, newMemStore(), "m")

	out, err := c.EmbedBatch(context.Background(), []string{"a", "b"})
	require.NoError(t, err)
	assert.Equal(t, 2, out.TotalTokens)
	assert.EqualValues(t, 1, next.calls.Load())
}
