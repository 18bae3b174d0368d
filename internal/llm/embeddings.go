package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"golang.org/x/time/rate"

	"bookrag/internal/apperr"
)

// MaxBatchSize is the provider's ceiling on inputs per embeddings request.
const MaxBatchSize = 100

// EmbeddingsClient is a client for an OpenAI-compatible embeddings API.
type EmbeddingsClient struct {
	BaseURL      string
	APIKey       string
	Model        string
	ExpectedSize int // Expected vector size for validation, 0 disables the check
	client       *http.Client
	limiter      *rate.Limiter
}

// EmbeddingsOption configures an EmbeddingsClient.
type EmbeddingsOption func(*EmbeddingsClient)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(hc *http.Client) EmbeddingsOption {
	return func(c *EmbeddingsClient) {
		if hc != nil {
			c.client = hc
		}
	}
}

// WithRateLimit throttles requests to rps with the given burst before they reach the provider.
func WithRateLimit(rps float64, burst int) EmbeddingsOption {
	return func(c *EmbeddingsClient) {
		if rps > 0 {
			if burst < 1 {
				burst = 1
			}
			c.limiter = rate.NewLimiter(rate.Limit(rps), burst)
		}
	}
}

// NewEmbeddingsClient creates a new embeddings client.
// All vectors are validated against expectedSize when it is positive.
func NewEmbeddingsClient(baseURL, apiKey, model string, expectedSize int, opts ...EmbeddingsOption) *EmbeddingsClient {
	c := &EmbeddingsClient{
		BaseURL:      baseURL,
		APIKey:       apiKey,
		Model:        model,
		ExpectedSize: expectedSize,
		client:       http.DefaultClient,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// EmbeddingsRequest represents the request payload for embeddings API.
type EmbeddingsRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

// EmbeddingData represents a single embedding in the response.
type EmbeddingData struct {
	Index     int       `json:"index"`
	Embedding []float64 `json:"embedding"`
}

// EmbeddingsResponse represents the response from the embeddings API.
type EmbeddingsResponse struct {
	Data  []EmbeddingData `json:"data"`
	Usage Usage           `json:"usage"`
}

// Embed embeds a single text.
func (c *EmbeddingsClient) Embed(ctx context.Context, text string) (Embedding, error) {
	batch, err := c.EmbedBatch(ctx, []string{text})
	if err != nil {
		return Embedding{}, err
	}
	return Embedding{Vector: batch.Vectors[0], Tokens: batch.TotalTokens}, nil
}

// EmbedBatch embeds up to MaxBatchSize texts in one request.
// Vectors are re-aligned to input order using the provider's index field.
func (c *EmbeddingsClient) EmbedBatch(ctx context.Context, texts []string) (BatchEmbedding, error) {
	if len(texts) == 0 {
		return BatchEmbedding{}, apperr.Invalid("texts", "empty input array")
	}
	if len(texts) > MaxBatchSize {
		return BatchEmbedding{}, apperr.Invalid("texts", fmt.Sprintf("batch of %d exceeds limit of %d", len(texts), MaxBatchSize))
	}

	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return BatchEmbedding{}, fmt.Errorf("rate limiter wait: %w", err)
		}
	}

	url := fmt.Sprintf("%s/v1/embeddings", c.BaseURL)

	body, err := json.Marshal(EmbeddingsRequest{Model: c.Model, Input: texts})
	if err != nil {
		return BatchEmbedding{}, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewBuffer(body))
	if err != nil {
		return BatchEmbedding{}, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Authorization", fmt.Sprintf("Bearer %s", c.APIKey))
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return BatchEmbedding{}, apperr.Dependency("embeddings", fmt.Errorf("failed to send request: %w", err))
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(resp.Body)
		statusErr := fmt.Errorf("bad status %d: %s", resp.StatusCode, string(raw))
		if resp.StatusCode == http.StatusTooManyRequests {
			return BatchEmbedding{}, apperr.RateLimited("embeddings", statusErr)
		}
		return BatchEmbedding{}, apperr.Dependency("embeddings", statusErr)
	}

	var embeddingsResp EmbeddingsResponse
	if err := json.NewDecoder(resp.Body).Decode(&embeddingsResp); err != nil {
		return BatchEmbedding{}, apperr.Dependency("embeddings", fmt.Errorf("failed to decode response: %w", err))
	}

	if len(embeddingsResp.Data) != len(texts) {
		return BatchEmbedding{}, apperr.Dependency("embeddings",
			fmt.Errorf("expected %d embeddings, got %d", len(texts), len(embeddingsResp.Data)))
	}

	// Provider order is not guaranteed; place each vector at its declared index
	vectors := make([][]float32, len(texts))
	for _, data := range embeddingsResp.Data {
		if data.Index < 0 || data.Index >= len(texts) {
			return BatchEmbedding{}, apperr.Dependency("embeddings", fmt.Errorf("embedding index %d out of range", data.Index))
		}
		if vectors[data.Index] != nil {
			return BatchEmbedding{}, apperr.Dependency("embeddings", fmt.Errorf("duplicate embedding index %d", data.Index))
		}
		if c.ExpectedSize > 0 && len(data.Embedding) != c.ExpectedSize {
			return BatchEmbedding{}, apperr.Dependency("embeddings",
				fmt.Errorf("embedding %d has size %d, expected %d", data.Index, len(data.Embedding), c.ExpectedSize))
		}

		vec := make([]float32, len(data.Embedding))
		for j, v := range data.Embedding {
			vec[j] = float32(v)
		}
		vectors[data.Index] = vec
	}

	return BatchEmbedding{Vectors: vectors, TotalTokens: embeddingsResp.Usage.TotalTokens}, nil
}
