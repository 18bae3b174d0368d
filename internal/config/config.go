package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Storage backends.
const (
	BackendSQLite   = "sqlite"
	BackendPostgres = "postgres"
	BackendMemory   = "memory"
)

// Config holds all configuration for the application.
// Values come from defaults, then the optional YAML file at CONFIG_PATH, then
// environment variables, each layer overriding the previous one.
type Config struct {
	APIPort   string     `yaml:"api_port"`
	LogLevel  slog.Level `yaml:"-"`
	LogFormat string     `yaml:"log_format"`
	// LogLevelName is the textual level from YAML or LOG_LEVEL; LogLevel is parsed from it.
	LogLevelName string `yaml:"log_level"`

	StorageBackend string `yaml:"storage_backend"`
	DBPath         string `yaml:"db_path"`
	PostgresDSN    string `yaml:"postgres_dsn"`

	QdrantURL        string `yaml:"qdrant_url"`
	QdrantCollection string `yaml:"qdrant_collection"`
	// VectorSize must match the output dimension of the embedding model.
	VectorSize int `yaml:"vector_size"`

	EmbeddingBaseURL   string  `yaml:"embedding_base_url"`
	EmbeddingAPIKey    string  `yaml:"embedding_api_key"`
	EmbeddingModelName string  `yaml:"embedding_model"`
	EmbeddingRateLimit float64 `yaml:"embedding_rate_limit"` // requests per second, 0 disables
	EmbeddingBurst     int     `yaml:"embedding_burst"`

	LLMBaseURL   string `yaml:"llm_base_url"`
	LLMAPIKey    string `yaml:"llm_api_key"`
	LLMModelName string `yaml:"llm_model"`
	LLMMaxTokens int    `yaml:"llm_max_tokens"`

	IngestBatchSize int    `yaml:"ingest_batch_size"`
	ContextBudget   int    `yaml:"context_budget"`
	LibraryPath     string `yaml:"library_path"`

	RedisAddr     string        `yaml:"redis_addr"` // empty disables the embedding cache
	RedisPassword string        `yaml:"redis_password"`
	RedisDB       int           `yaml:"redis_db"`
	CacheTTL      time.Duration `yaml:"cache_ttl"`

	KafkaBrokers []string `yaml:"kafka_brokers"` // empty disables telemetry publishing
	KafkaTopic   string   `yaml:"kafka_topic"`
}

func defaults() *Config {
	return &Config{
		APIPort:            "9000",
		LogFormat:          "text",
		LogLevelName:       "info",
		StorageBackend:     BackendSQLite,
		DBPath:             "./data/bookrag.db",
		QdrantURL:          "http://localhost:6334",
		QdrantCollection:   "book_chunks",
		EmbeddingBaseURL:   "https://api.openai.com",
		EmbeddingModelName: "text-embedding-3-small",
		EmbeddingBurst:     1,
		LLMBaseURL:         "https://api.openai.com",
		LLMModelName:       "gpt-4o-mini",
		IngestBatchSize:    100,
		ContextBudget:      3000,
		CacheTTL:           24 * time.Hour,
		KafkaTopic:         "bookrag-events",
	}
}

// Load reads configuration and returns a validated Config.
// If a .env file exists in the current directory or a parent, it is loaded first.
// Environment variables already set take precedence over .env file values.
func Load() (*Config, error) {
	loadDotEnv()

	cfg := defaults()
	if path := os.Getenv("CONFIG_PATH"); path != "" {
		if err := loadFile(path, cfg); err != nil {
			return nil, err
		}
	}

	if err := applyEnv(cfg); err != nil {
		return nil, err
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	if cfg.StorageBackend == BackendSQLite {
		// Create the data directory for the database file
		if err := os.MkdirAll(filepath.Dir(cfg.DBPath), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create data directory: %w", err)
		}
	}
	return cfg, nil
}

func loadDotEnv() {
	_ = godotenv.Load()

	wd, err := os.Getwd()
	if err != nil {
		return
	}
	dir := wd
	for i := 0; i < 5; i++ { // Limit search depth
		envPath := filepath.Join(dir, ".env")
		if _, err := os.Stat(envPath); err == nil {
			_ = godotenv.Load(envPath)
			return
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return
		}
		dir = parent
	}
}

func loadFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

func applyEnv(cfg *Config) error {
	cfg.APIPort = getEnv("API_PORT", cfg.APIPort)
	cfg.LogFormat = getEnv("LOG_FORMAT", cfg.LogFormat)
	cfg.LogLevelName = getEnv("LOG_LEVEL", cfg.LogLevelName)

	cfg.StorageBackend = getEnv("STORAGE_BACKEND", cfg.StorageBackend)
	cfg.DBPath = getEnv("DB_PATH", cfg.DBPath)
	cfg.PostgresDSN = getEnv("POSTGRES_DSN", cfg.PostgresDSN)

	cfg.QdrantURL = getEnv("QDRANT_URL", cfg.QdrantURL)
	cfg.QdrantCollection = getEnv("QDRANT_COLLECTION", cfg.QdrantCollection)

	cfg.EmbeddingBaseURL = getEnv("EMBEDDING_BASE_URL", cfg.EmbeddingBaseURL)
	cfg.EmbeddingModelName = getEnv("EMBEDDING_MODEL_NAME", cfg.EmbeddingModelName)

	cfg.LLMBaseURL = getEnv("LLM_BASE_URL", cfg.LLMBaseURL)
	cfg.LLMAPIKey = getEnv("LLM_API_KEY", cfg.LLMAPIKey)
	cfg.LLMModelName = getEnv("LLM_MODEL", cfg.LLMModelName)
	// The embeddings provider shares the LLM key unless given its own
	cfg.EmbeddingAPIKey = getEnv("EMBEDDING_API_KEY", firstNonEmpty(cfg.EmbeddingAPIKey, cfg.LLMAPIKey))

	cfg.LibraryPath = getEnv("LIBRARY_PATH", cfg.LibraryPath)
	cfg.RedisAddr = getEnv("REDIS_ADDR", cfg.RedisAddr)
	cfg.RedisPassword = getEnv("REDIS_PASSWORD", cfg.RedisPassword)
	cfg.KafkaTopic = getEnv("KAFKA_TOPIC", cfg.KafkaTopic)
	if brokers := getEnv("KAFKA_BROKERS", ""); brokers != "" {
		cfg.KafkaBrokers = splitList(brokers)
	}

	var errs []error
	for _, f := range []struct {
		key string
		dst *int
	}{
		{"VECTOR_SIZE", &cfg.VectorSize},
		{"EMBEDDING_BURST", &cfg.EmbeddingBurst},
		{"LLM_MAX_TOKENS", &cfg.LLMMaxTokens},
		{"INGEST_BATCH_SIZE", &cfg.IngestBatchSize},
		{"CONTEXT_BUDGET", &cfg.ContextBudget},
		{"REDIS_DB", &cfg.RedisDB},
	} {
		if err := getEnvInt(f.key, f.dst); err != nil {
			errs = append(errs, err)
		}
	}
	if v := getEnv("EMBEDDING_RATE_LIMIT", ""); v != "" {
		rps, err := strconv.ParseFloat(v, 64)
		if err != nil {
			errs = append(errs, fmt.Errorf("EMBEDDING_RATE_LIMIT must be a number: %w", err))
		}
		cfg.EmbeddingRateLimit = rps
	}
	if v := getEnv("CACHE_TTL", ""); v != "" {
		ttl, err := time.ParseDuration(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("CACHE_TTL must be a duration: %w", err))
		}
		cfg.CacheTTL = ttl
	}
	return errors.Join(errs...)
}

func (c *Config) validate() error {
	if err := c.LogLevel.UnmarshalText([]byte(c.LogLevelName)); err != nil {
		return fmt.Errorf("LOG_LEVEL must be one of debug, info, warn, error: %w", err)
	}
	if c.LogFormat != "text" && c.LogFormat != "json" {
		return fmt.Errorf("LOG_FORMAT must be text or json, got %q", c.LogFormat)
	}
	if c.VectorSize <= 0 {
		return fmt.Errorf("VECTOR_SIZE is required and must be greater than 0")
	}

	switch c.StorageBackend {
	case BackendSQLite:
		if c.DBPath == "" {
			return fmt.Errorf("DB_PATH is required for the sqlite backend")
		}
	case BackendPostgres:
		if c.PostgresDSN == "" {
			return fmt.Errorf("POSTGRES_DSN is required for the postgres backend")
		}
	case BackendMemory:
	default:
		return fmt.Errorf("STORAGE_BACKEND must be sqlite, postgres or memory, got %q", c.StorageBackend)
	}

	if c.IngestBatchSize <= 0 {
		return fmt.Errorf("INGEST_BATCH_SIZE must be greater than 0")
	}
	if c.ContextBudget <= 0 {
		return fmt.Errorf("CONTEXT_BUDGET must be greater than 0")
	}
	if c.EmbeddingRateLimit < 0 {
		return fmt.Errorf("EMBEDDING_RATE_LIMIT must not be negative")
	}
	if len(c.KafkaBrokers) > 0 && c.KafkaTopic == "" {
		return fmt.Errorf("KAFKA_TOPIC is required when KAFKA_BROKERS is set")
	}
	return nil
}

// NewLogger builds the process logger from the log settings.
func (c *Config) NewLogger() *slog.Logger {
	opts := &slog.HandlerOptions{Level: c.LogLevel}
	var handler slog.Handler
	if c.LogFormat == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	return slog.New(handler)
}

// getEnv gets an environment variable or returns a default value.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt overwrites dst when key is set.
func getEnvInt(key string, dst *int) error {
	value := os.Getenv(key)
	if value == "" {
		return nil
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return fmt.Errorf("%s must be a valid integer: %w", key, err)
	}
	*dst = n
	return nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
