package llm

import "context"

// Message represents a single message in a chat conversation.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatParams holds parameters for chat completion requests.
type ChatParams struct {
	// Model specifies the model to use. If empty, the client's default model is used.
	Model string

	// MaxTokens specifies the maximum number of tokens to generate.
	// If 0, no limit is applied.
	MaxTokens int

	// Temperature controls the randomness of the output.
	// Default is 0.7 if not specified.
	Temperature float32
}

// Usage is the token accounting reported by the provider.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Completion is a finished, non-streamed chat answer.
type Completion struct {
	Content string
	Usage   Usage
}

// StreamEvent is one increment of a streamed answer. The final event carries
// Usage when the provider reports it; Err terminates the stream.
type StreamEvent struct {
	Delta string
	Usage *Usage
	Err   error
}

// Embedding is a single embedded text.
type Embedding struct {
	Vector []float32
	Tokens int
}

// BatchEmbedding holds vectors in request order plus the batch token cost.
type BatchEmbedding struct {
	Vectors     [][]float32
	TotalTokens int
}

// Embedder turns text into vectors.
type Embedder interface {
	Embed(ctx context.Context, text string) (Embedding, error)
	EmbedBatch(ctx context.Context, texts []string) (BatchEmbedding, error)
}

// Completer produces chat completions, streamed or whole.
type Completer interface {
	Complete(ctx context.Context, messages []Message, params ChatParams) (Completion, error)
	// Stream returns a finite, non-restartable channel of increments. The channel
	// is closed after the last event.
	Stream(ctx context.Context, messages []Message, params ChatParams) (<-chan StreamEvent, error)
}
