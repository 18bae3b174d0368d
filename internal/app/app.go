// Package app assembles the storage backend, model clients, ingestion pipeline
// and query services from configuration. It is shared by the API server and
// the ingest CLI.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"

	"bookrag/internal/cache"
	"bookrag/internal/config"
	"bookrag/internal/extract"
	"bookrag/internal/indexer"
	"bookrag/internal/llm"
	"bookrag/internal/metrics"
	"bookrag/internal/rag"
	"bookrag/internal/service"
	"bookrag/internal/storage"
	"bookrag/internal/storage/memory"
	"bookrag/internal/storage/postgres"
	"bookrag/internal/telemetry"
	"bookrag/internal/tokenizer"
	"bookrag/internal/vectorstore"
)

// App holds the wired components.
type App struct {
	Books  storage.BookStore
	Runs   storage.RunStore
	Chunks storage.ChunkStore

	Embedder  llm.Embedder
	Pipeline  *indexer.Pipeline
	Retriever *rag.Retriever
	Assembler *rag.Assembler
	Answers   service.AnswerService
	Metrics   *metrics.Metrics

	// Checks probes each external dependency by name.
	Checks map[string]func(ctx context.Context) error

	embeddings *llm.EmbeddingsClient
	closers    []func() error
}

// New builds every component described by cfg. Close releases what New opened,
// including on error.
func New(ctx context.Context, cfg *config.Config) (*App, error) {
	a := &App{Checks: make(map[string]func(ctx context.Context) error)}
	if err := a.build(ctx, cfg); err != nil {
		_ = a.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) build(ctx context.Context, cfg *config.Config) error {
	if err := a.openStorage(ctx, cfg); err != nil {
		return err
	}

	a.Metrics = metrics.New(prometheus.NewRegistry())

	var sink telemetry.Sink = telemetry.NopSink{}
	if len(cfg.KafkaBrokers) > 0 {
		publisher := telemetry.NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaTopic)
		collector := telemetry.NewCollector(publisher, 0)
		collector.Start(ctx)
		a.closers = append(a.closers, func() error {
			collector.Close()
			return publisher.Close()
		})
		sink = collector
		slog.Info("Telemetry enabled", "brokers", cfg.KafkaBrokers, "topic", cfg.KafkaTopic)
	}

	a.embeddings = llm.NewEmbeddingsClient(
		cfg.EmbeddingBaseURL,
		cfg.EmbeddingAPIKey,
		cfg.EmbeddingModelName,
		cfg.VectorSize,
		llm.WithRateLimit(cfg.EmbeddingRateLimit, cfg.EmbeddingBurst),
	)
	a.Embedder = a.embeddings

	if cfg.RedisAddr != "" {
		client, err := cache.Connect(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err != nil {
			return err
		}
		a.closers = append(a.closers, client.Close)
		a.Checks["redis"] = func(ctx context.Context) error { return client.Ping(ctx).Err() }
		a.Embedder = cache.NewEmbeddingCache(a.embeddings, cache.NewRedisStore(client), cfg.EmbeddingModelName,
			cache.WithTTL(cfg.CacheTTL),
			cache.WithMetrics(a.Metrics),
		)
		slog.Info("Embedding cache enabled", "addr", cfg.RedisAddr, "ttl", cfg.CacheTTL)
	}

	tok := tokenizer.Default()

	pipelineOpts := append(extract.PipelineOptions(),
		indexer.WithBatchSize(cfg.IngestBatchSize),
		indexer.WithEmbeddingModel(cfg.EmbeddingModelName),
		indexer.WithMetrics(a.Metrics),
		indexer.WithTelemetry(sink),
	)
	a.Pipeline = indexer.NewPipeline(a.Books, a.Runs, a.Chunks, a.Embedder, indexer.NewChunker(tok), pipelineOpts...)

	a.Retriever = rag.NewRetriever(a.Embedder, a.Books, a.Chunks, rag.WithRetrieverMetrics(a.Metrics))
	a.Assembler = rag.NewAssembler(tok,
		rag.WithBudget(cfg.ContextBudget),
		rag.WithAssemblerMetrics(a.Metrics),
	)

	llmClient := llm.NewClient(cfg.LLMBaseURL, cfg.LLMAPIKey, cfg.LLMModelName)
	a.Answers = service.NewAnswerService(a.Retriever, a.Assembler, llmClient,
		service.WithMetrics(a.Metrics),
		service.WithTelemetry(sink),
		service.WithMaxTokens(cfg.LLMMaxTokens),
	)
	return nil
}

func (a *App) openStorage(ctx context.Context, cfg *config.Config) error {
	switch cfg.StorageBackend {
	case config.BackendMemory:
		store := memory.New()
		a.Books, a.Runs, a.Chunks = store.Books(), store.Runs(), store.Chunks()
		slog.Info("Using in-memory storage")

	case config.BackendPostgres:
		client, err := postgres.Open(ctx, postgres.Config{DSN: cfg.PostgresDSN, VectorSize: cfg.VectorSize})
		if err != nil {
			return fmt.Errorf("failed to open postgres: %w", err)
		}
		a.closers = append(a.closers, client.Close)
		if err := client.Migrate(ctx); err != nil {
			return fmt.Errorf("failed to run migrations: %w", err)
		}
		a.Books, a.Runs, a.Chunks = postgres.NewBookRepo(client), postgres.NewRunRepo(client), postgres.NewChunkRepo(client)
		a.Checks["postgres"] = client.DB.PingContext
		slog.Info("Postgres storage initialized", "vector_size", cfg.VectorSize)

	default:
		db, err := storage.New(cfg.DBPath)
		if err != nil {
			return fmt.Errorf("failed to open database: %w", err)
		}
		a.closers = append(a.closers, db.Close)
		if err := storage.Migrate(db); err != nil {
			return fmt.Errorf("failed to run migrations: %w", err)
		}
		slog.Info("Database initialized", "path", cfg.DBPath)

		vectors, err := vectorstore.NewQdrantStore(cfg.QdrantURL)
		if err != nil {
			return err
		}
		a.closers = append(a.closers, vectors.Close)
		if err := vectors.EnsureCollection(ctx, cfg.QdrantCollection, cfg.VectorSize); err != nil {
			return fmt.Errorf("failed to ensure Qdrant collection: %w", err)
		}
		slog.Info("Qdrant collection ready", "collection", cfg.QdrantCollection, "vector_size", cfg.VectorSize)

		a.Books, a.Runs = storage.NewBookRepo(db), storage.NewRunRepo(db)
		a.Chunks = storage.NewChunkRepo(db, vectors, cfg.QdrantCollection)
		a.Checks["sqlite"] = db.PingContext
		a.Checks["qdrant"] = func(ctx context.Context) error {
			exists, err := vectors.CollectionExists(ctx, cfg.QdrantCollection)
			if err != nil {
				return err
			}
			if !exists {
				return fmt.Errorf("collection %s not found", cfg.QdrantCollection)
			}
			return nil
		}
	}
	return nil
}

// ValidateEmbedder embeds a probe text and fails fast when the provider is
// unreachable or returns vectors of the wrong size.
func (a *App) ValidateEmbedder(ctx context.Context) error {
	emb, err := a.embeddings.Embed(ctx, "test")
	if err != nil {
		return fmt.Errorf("failed to validate embedding client: %w", err)
	}
	if len(emb.Vector) != a.embeddings.ExpectedSize {
		return fmt.Errorf("embedding vector size mismatch: expected %d, got %d", a.embeddings.ExpectedSize, len(emb.Vector))
	}
	return nil
}

// Close releases resources in reverse order of acquisition.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
