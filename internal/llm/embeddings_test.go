package llm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"bookrag/internal/apperr"
)

func TestNewEmbeddingsClient(t *testing.T) {
	client := NewEmbeddingsClient("http://localhost:8080", "test-key", "test-model", 768)
	if client == nil {
		t.Fatal("NewEmbeddingsClient() returned nil")
	}
	if client.BaseURL != "http://localhost:8080" {
		t.Errorf("NewEmbeddingsClient() BaseURL = %v, want http://localhost:8080", client.BaseURL)
	}
	if client.ExpectedSize != 768 {
		t.Errorf("NewEmbeddingsClient() ExpectedSize = %v, want 768", client.ExpectedSize)
	}
	if client.limiter != nil {
		t.Error("NewEmbeddingsClient() should not rate limit by default")
	}

	limited := NewEmbeddingsClient("http://localhost:8080", "k", "m", 3, WithRateLimit(5, 0))
	if limited.limiter == nil {
		t.Error("WithRateLimit() should install a limiter")
	}
}

func vectorOf(size int, v float64) []float64 {
	vec := make([]float64, size)
	for i := range vec {
		vec[i] = v
	}
	return vec
}

func TestEmbeddingsClient_EmbedBatch(t *testing.T) {
	tests := []struct {
		name        string
		texts       []string
		serverResp  func(w http.ResponseWriter, r *http.Request)
		wantErr     error
		wantVectors [][]float32
		wantTokens  int
	}{
		{
			name:  "successful embedding",
			texts: []string{"Hello", "World"},
			serverResp: func(w http.ResponseWriter, r *http.Request) {
				if r.Method != http.MethodPost {
					t.Errorf("expected POST, got %s", r.Method)
				}
				if r.URL.Path != "/v1/embeddings" {
					t.Errorf("expected /v1/embeddings, got %s", r.URL.Path)
				}
				resp := EmbeddingsResponse{
					Data: []EmbeddingData{
						{Index: 0, Embedding: vectorOf(3, 1)},
						{Index: 1, Embedding: vectorOf(3, 2)},
					},
					Usage: Usage{PromptTokens: 2, TotalTokens: 2},
				}
				_ = json.NewEncoder(w).Encode(resp)
			},
			wantVectors: [][]float32{{1, 1, 1}, {2, 2, 2}},
			wantTokens:  2,
		},
		{
			name:  "out of order response is realigned",
			texts: []string{"a", "b", "c"},
			serverResp: func(w http.ResponseWriter, r *http.Request) {
				resp := EmbeddingsResponse{
					Data: []EmbeddingData{
						{Index: 2, Embedding: vectorOf(3, 3)},
						{Index: 0, Embedding: vectorOf(3, 1)},
						{Index: 1, Embedding: vectorOf(3, 2)},
					},
					Usage: Usage{TotalTokens: 9},
				}
				_ = json.NewEncoder(w).Encode(resp)
			},
			wantVectors: [][]float32{{1, 1, 1}, {2, 2, 2}, {3, 3, 3}},
			wantTokens:  9,
		},
		{
			name:       "empty input",
			texts:      []string{},
			serverResp: func(w http.ResponseWriter, r *http.Request) {},
			wantErr:    apperr.ErrInput,
		},
		{
			name:       "batch too large",
			texts:      make([]string, MaxBatchSize+1),
			serverResp: func(w http.ResponseWriter, r *http.Request) {},
			wantErr:    apperr.ErrInput,
		},
		{
			name:  "wrong embedding count",
			texts: []string{"Hello", "World"},
			serverResp: func(w http.ResponseWriter, r *http.Request) {
				resp := EmbeddingsResponse{Data: []EmbeddingData{{Index: 0, Embedding: vectorOf(3, 1)}}}
				_ = json.NewEncoder(w).Encode(resp)
			},
			wantErr: apperr.ErrDependency,
		},
		{
			name:  "duplicate index",
			texts: []string{"a", "b"},
			serverResp: func(w http.ResponseWriter, r *http.Request) {
				resp := EmbeddingsResponse{Data: []EmbeddingData{
					{Index: 0, Embedding: vectorOf(3, 1)},
					{Index: 0, Embedding: vectorOf(3, 1)},
				}}
				_ = json.NewEncoder(w).Encode(resp)
			},
			wantErr: apperr.ErrDependency,
		},
		{
			name:  "wrong vector size",
			texts: []string{"a"},
			serverResp: func(w http.ResponseWriter, r *http.Request) {
				resp := EmbeddingsResponse{Data: []EmbeddingData{{Index: 0, Embedding: vectorOf(5, 1)}}}
				_ = json.NewEncoder(w).Encode(resp)
			},
			wantErr: apperr.ErrDependency,
		},
		{
			name:  "rate limited",
			texts: []string{"a"},
			serverResp: func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusTooManyRequests)
				_, _ = w.Write([]byte(`{"error":"slow down"}`))
			},
			wantErr: apperr.ErrRateLimited,
		},
		{
			name:  "server error",
			texts: []string{"a"},
			serverResp: func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusInternalServerError)
			},
			wantErr: apperr.ErrDependency,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(tt.serverResp))
			defer server.Close()

			client := NewEmbeddingsClient(server.URL, "test-key", "test-model", 3)
			got, err := client.EmbedBatch(context.Background(), tt.texts)

			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("EmbedBatch() error = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("EmbedBatch() unexpected error: %v", err)
			}
			if got.TotalTokens != tt.wantTokens {
				t.Errorf("EmbedBatch() TotalTokens = %d, want %d", got.TotalTokens, tt.wantTokens)
			}
			if len(got.Vectors) != len(tt.wantVectors) {
				t.Fatalf("EmbedBatch() returned %d vectors, want %d", len(got.Vectors), len(tt.wantVectors))
			}
			for i := range tt.wantVectors {
				for j := range tt.wantVectors[i] {
					if got.Vectors[i][j] != tt.wantVectors[i][j] {
						t.Errorf("vector[%d][%d] = %v, want %v", i, j, got.Vectors[i][j], tt.wantVectors[i][j])
					}
				}
			}
		})
	}
}

func TestEmbeddingsClient_Embed(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req EmbeddingsRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		if len(req.Input) != 1 || req.Input[0] != "what is dune about" {
			t.Errorf("unexpected input %v", req.Input)
		}
		_ = json.NewEncoder(w).Encode(EmbeddingsResponse{
			Data:  []EmbeddingData{{Index: 0, Embedding: []float64{0.1, 0.2, 0.3}}},
			Usage: Usage{TotalTokens: 5},
		})
	}))
	defer server.Close()

	client := NewEmbeddingsClient(server.URL, "k", "m", 3)
	emb, err := client.Embed(context.Background(), "what is dune about")
	if err != nil {
		t.Fatalf("Embed() unexpected error: %v", err)
	}
	if emb.Tokens != 5 {
		t.Errorf("Embed() Tokens = %d, want 5", emb.Tokens)
	}
	if len(emb.Vector) != 3 || emb.Vector[2] != float32(0.3) {
		t.Errorf("Embed() Vector = %v", emb.Vector)
	}
}
