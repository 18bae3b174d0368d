// Package cache memoizes query embeddings in Redis.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"

	"bookrag/internal/llm"
	"bookrag/internal/metrics"
)

const (
	keyPrefix  = "bookrag:emb:"
	DefaultTTL = 24 * time.Hour
)

// Store is the subset of Redis the cache needs. A missing key is reported as redis.Nil.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
}

// RedisStore adapts a go-redis client to Store.
type RedisStore struct {
	client redis.UniversalClient
}

// NewRedisStore wraps client.
func NewRedisStore(client redis.UniversalClient) *RedisStore {
	return &RedisStore{client: client}
}

func (s *RedisStore) Get(ctx context.Context, key string) ([]byte, error) {
	return s.client.Get(ctx, key).Bytes()
}

func (s *RedisStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return s.client.Set(ctx, key, value, ttl).Err()
}

// Connect opens a Redis client for addr and verifies it with PING.
func Connect(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("pinging redis at %s: %w", addr, err)
	}
	return client, nil
}

// EmbeddingCache decorates an Embedder, caching single-text embeddings.
// Concurrent misses for the same text share one provider call. Cache
// failures fall through to the provider.
type EmbeddingCache struct {
	next    llm.Embedder
	store   Store
	model   string
	ttl     time.Duration
	group   singleflight.Group
	metrics *metrics.Metrics
	logger  *slog.Logger
}

// Option configures an EmbeddingCache.
type Option func(*EmbeddingCache)

// WithTTL overrides DefaultTTL.
func WithTTL(ttl time.Duration) Option {
	return func(c *EmbeddingCache) {
		if ttl > 0 {
			c.ttl = ttl
		}
	}
}

// WithMetrics sets the Prometheus collectors.
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *EmbeddingCache) {
		c.metrics = m
	}
}

// NewEmbeddingCache wraps next. model is part of the key so that switching
// models never serves stale vectors.
func NewEmbeddingCache(next llm.Embedder, store Store, model string, opts ...Option) *EmbeddingCache {
	c := &EmbeddingCache{
		next:   next,
		store:  store,
		model:  model,
		ttl:    DefaultTTL,
		logger: slog.Default().With("component", "embedding-cache"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type entry struct {
	Vector []float32 `json:"vector"`
}

// Embed returns the cached vector for text or computes and stores it.
// A cache hit reports zero provider tokens.
func (c *EmbeddingCache) Embed(ctx context.Context, text string) (llm.Embedding, error) {
	key := c.key(text)
	if emb, ok := c.get(ctx, key); ok {
		return emb, nil
	}

	val, err, _ := c.group.Do(key, func() (any, error) {
		emb, err := c.next.Embed(ctx, text)
		if err != nil {
			return llm.Embedding{}, err
		}
		c.set(ctx, key, emb)
		return emb, nil
	})
	if err != nil {
		return llm.Embedding{}, err
	}
	return val.(llm.Embedding), nil
}

// EmbedBatch is not cached.
func (c *EmbeddingCache) EmbedBatch(ctx context.Context, texts []string) (llm.BatchEmbedding, error) {
	return c.next.EmbedBatch(ctx, texts)
}

func (c *EmbeddingCache) get(ctx context.Context, key string) (llm.Embedding, bool) {
	data, err := c.store.Get(ctx, key)
	if err != nil {
		if errors.Is(err, redis.Nil) {
			c.metrics.ObserveCache("miss")
		} else {
			c.logger.WarnContext(ctx, "cache get failed", "key", key, "error", err)
			c.metrics.ObserveCache("error")
		}
		return llm.Embedding{}, false
	}

	var e entry
	if err := json.Unmarshal(data, &e); err != nil || len(e.Vector) == 0 {
		c.logger.WarnContext(ctx, "cache entry unreadable", "key", key, "error", err)
		c.metrics.ObserveCache("error")
		return llm.Embedding{}, false
	}
	c.metrics.ObserveCache("hit")
	return llm.Embedding{Vector: e.Vector}, true
}

func (c *EmbeddingCache) set(ctx context.Context, key string, emb llm.Embedding) {
	data, err := json.Marshal(entry{Vector: emb.Vector})
	if err != nil {
		c.logger.WarnContext(ctx, "cache marshal failed", "key", key, "error", err)
		return
	}
	if err := c.store.Set(ctx, key, data, c.ttl); err != nil {
		c.logger.WarnContext(ctx, "cache set failed", "key", key, "error", err)
	}
}

func (c *EmbeddingCache) key(text string) string {
	sum := sha256.Sum256([]byte(c.model + "\x00" + text))
	return keyPrefix + hex.EncodeToString(sum[:16])
}
