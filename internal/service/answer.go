package service

//go:generate go run go.uber.org/mock/mockgen@latest -destination=mocks/mock_llm_client.go -package=mocks bookrag/internal/service LLMClient
//go:generate go run go.uber.org/mock/mockgen@latest -destination=mocks/mock_answer_service.go -package=mocks bookrag/internal/service AnswerService

import (
	"context"
	"fmt"
	"strings"
	"time"

	"bookrag/internal/apperr"
	"bookrag/internal/contextutil"
	"bookrag/internal/llm"
	"bookrag/internal/metrics"
	"bookrag/internal/rag"
	"bookrag/internal/storage"
	"bookrag/internal/telemetry"
)

// FallbackSimilarity is the similarity at least one result must reach for the
// answer to be grounded. It sits above rag.KeywordSimilarity, so keyword-only
// matches alone never ground an answer.
const FallbackSimilarity = 0.5

const (
	groundedPrompt = "You are a helpful assistant that answers questions about the user's books. " +
		"Answer the question using only the passages below. Each passage starts with its source and page. " +
		"If the passages do not contain enough information to answer, say so. " +
		"Cite the book and page for every claim, for example (dune, p. 12)."
	fallbackPrompt = "You are a helpful assistant that answers questions about the user's books. " +
		"No passage from the library matched this question. Answer briefly from general knowledge " +
		"and state clearly that the answer is not drawn from the library."
	defaultTemperature = 0.2
)

// LLMClient is the completion provider as seen by the answer service.
type LLMClient interface {
	// Complete returns a whole answer.
	Complete(ctx context.Context, messages []llm.Message, params llm.ChatParams) (llm.Completion, error)
	// Stream returns a channel of answer increments, closed after the last one.
	Stream(ctx context.Context, messages []llm.Message, params llm.ChatParams) (<-chan llm.StreamEvent, error)
}

// Retriever finds passages for a query.
type Retriever interface {
	Retrieve(ctx context.Context, query string, opts rag.Options) (*rag.Retrieval, error)
}

// Assembler builds the bounded prompt context.
type Assembler interface {
	Assemble(results []storage.SearchResult) rag.Assembly
}

// AskRequest is a question plus retrieval options.
type AskRequest struct {
	Question string
	Options  rag.Options
}

// Usage is the token accounting of one answer.
type Usage struct {
	EmbeddingTokens  int `json:"embedding_tokens"`
	ContextTokens    int `json:"context_tokens"`
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
}

// Latency breaks an answer's wall time down by stage.
type Latency struct {
	Embedding  time.Duration `json:"embedding"`
	Retrieval  time.Duration `json:"retrieval"`
	Completion time.Duration `json:"completion"`
}

// Answer is a generated answer with its grounding.
type Answer struct {
	Answer    string         `json:"answer"`
	Citations []rag.Citation `json:"citations"`
	// Fallback is set when no passage was similar enough and the answer is ungrounded.
	Fallback bool    `json:"fallback"`
	Usage    Usage   `json:"usage"`
	Latency  Latency `json:"latency"`
}

// AnswerService answers questions over the indexed books.
type AnswerService interface {
	// Ask returns a complete answer.
	Ask(ctx context.Context, req AskRequest) (*Answer, error)
	// Stream passes answer increments to onDelta as they arrive and returns the
	// finished answer. An error from onDelta aborts the stream.
	Stream(ctx context.Context, req AskRequest, onDelta func(delta string) error) (*Answer, error)
}

// Option configures the answer service.
type Option func(*answerService)

// WithMetrics sets the Prometheus collectors.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *answerService) {
		s.metrics = m
	}
}

// WithTelemetry sets the sink query events go to.
func WithTelemetry(sink telemetry.Sink) Option {
	return func(s *answerService) {
		if sink != nil {
			s.sink = sink
		}
	}
}

// WithMaxTokens caps the completion length. Zero means no cap.
func WithMaxTokens(n int) Option {
	return func(s *answerService) {
		s.maxTokens = n
	}
}

type answerService struct {
	retriever Retriever
	assembler Assembler
	llmClient LLMClient
	metrics   *metrics.Metrics
	sink      telemetry.Sink
	maxTokens int
}

// NewAnswerService creates an AnswerService.
func NewAnswerService(retriever Retriever, assembler Assembler, llmClient LLMClient, opts ...Option) AnswerService {
	s := &answerService{
		retriever: retriever,
		assembler: assembler,
		llmClient: llmClient,
		sink:      telemetry.NopSink{},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// prepared is the state shared by Ask and Stream once the prompt is built.
type prepared struct {
	retrieval *rag.Retrieval
	assembly  rag.Assembly
	fallback  bool
	messages  []llm.Message
}

func (s *answerService) prepare(ctx context.Context, req AskRequest) (*prepared, error) {
	logger := contextutil.LoggerFromContext(ctx)

	question := strings.TrimSpace(req.Question)
	if question == "" {
		logger.WarnContext(ctx, "empty question in ask request")
		return nil, apperr.Invalid("question", "cannot be empty")
	}

	retrieval, err := s.retriever.Retrieve(ctx, question, req.Options)
	if err != nil {
		logger.ErrorContext(ctx, "failed to retrieve passages", "error", err)
		return nil, err
	}

	p := &prepared{retrieval: retrieval, fallback: !grounded(retrieval.Results)}
	if p.fallback {
		logger.InfoContext(ctx, "no passage above fallback similarity, answering without context",
			"results", len(retrieval.Results),
			"fallback_similarity", FallbackSimilarity,
		)
		p.messages = []llm.Message{
			{Role: "system", Content: fallbackPrompt},
			{Role: "user", Content: question},
		}
		return p, nil
	}

	p.assembly = s.assembler.Assemble(retrieval.Results)
	logger.InfoContext(ctx, "context assembled",
		"results", len(retrieval.Results),
		"used_chunks", len(p.assembly.UsedChunks),
		"context_tokens", p.assembly.TotalTokens,
	)
	logger.DebugContext(ctx, "assembled context", "context", p.assembly.ContextText)

	p.messages = []llm.Message{
		{Role: "system", Content: groundedPrompt},
		{Role: "user", Content: fmt.Sprintf("%s\n\n--- Passages ---\n\n%s\n\n--- End Passages ---", question, p.assembly.ContextText)},
	}
	return p, nil
}

func grounded(results []storage.SearchResult) bool {
	for _, r := range results {
		if r.Similarity >= FallbackSimilarity {
			return true
		}
	}
	return false
}

func (s *answerService) params() llm.ChatParams {
	return llm.ChatParams{MaxTokens: s.maxTokens, Temperature: defaultTemperature}
}

// Ask retrieves, assembles and completes.
func (s *answerService) Ask(ctx context.Context, req AskRequest) (*Answer, error) {
	logger := contextutil.LoggerFromContext(ctx)

	p, err := s.prepare(ctx, req)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	completion, err := s.llmClient.Complete(ctx, p.messages, s.params())
	if err != nil {
		logger.ErrorContext(ctx, "failed to get LLM response", "error", err)
		return nil, fmt.Errorf("failed to get LLM response: %w", err)
	}

	answer := s.finish(ctx, req, p, completion.Content, completion.Usage, time.Since(start))
	logger.InfoContext(ctx, "ask request processed successfully",
		"question_length", len(req.Question),
		"answer_length", len(answer.Answer),
		"fallback", answer.Fallback,
	)
	return answer, nil
}

// Stream retrieves and assembles up front, then streams the completion.
func (s *answerService) Stream(ctx context.Context, req AskRequest, onDelta func(delta string) error) (*Answer, error) {
	logger := contextutil.LoggerFromContext(ctx)

	p, err := s.prepare(ctx, req)
	if err != nil {
		return nil, err
	}

	// Cancelling on return releases the producer when the consumer stops early
	streamCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	start := time.Now()
	events, err := s.llmClient.Stream(streamCtx, p.messages, s.params())
	if err != nil {
		logger.ErrorContext(ctx, "failed to start LLM stream", "error", err)
		return nil, fmt.Errorf("failed to stream LLM response: %w", err)
	}

	var (
		text  strings.Builder
		usage llm.Usage
	)
	for ev := range events {
		if ev.Err != nil {
			logger.ErrorContext(ctx, "LLM stream failed", "error", ev.Err)
			return nil, fmt.Errorf("failed to stream LLM response: %w", ev.Err)
		}
		if ev.Usage != nil {
			usage = *ev.Usage
		}
		if ev.Delta == "" {
			continue
		}
		text.WriteString(ev.Delta)
		if err := onDelta(ev.Delta); err != nil {
			logger.WarnContext(ctx, "stream consumer stopped", "error", err)
			return nil, err
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	answer := s.finish(ctx, req, p, text.String(), usage, time.Since(start))
	logger.InfoContext(ctx, "streaming ask request processed successfully",
		"question_length", len(req.Question),
		"answer_length", len(answer.Answer),
		"fallback", answer.Fallback,
	)
	return answer, nil
}

func (s *answerService) finish(ctx context.Context, req AskRequest, p *prepared, text string, usage llm.Usage, completion time.Duration) *Answer {
	s.metrics.ObserveLatency("completion", completion)

	citations := p.assembly.Citations
	if citations == nil {
		citations = []rag.Citation{}
	}
	answer := &Answer{
		Answer:    text,
		Citations: citations,
		Fallback:  p.fallback,
		Usage: Usage{
			EmbeddingTokens:  p.retrieval.EmbeddingTokens,
			ContextTokens:    p.assembly.TotalTokens,
			PromptTokens:     usage.PromptTokens,
			CompletionTokens: usage.CompletionTokens,
		},
		Latency: Latency{
			Embedding:  p.retrieval.EmbeddingLatency,
			Retrieval:  p.retrieval.RetrievalLatency,
			Completion: completion,
		},
	}

	s.sink.Track(telemetry.QueryEvent{
		Type:               telemetry.EventQuery,
		RequestID:          contextutil.RequestIDFromContext(ctx),
		Query:              req.Question,
		BookSlugs:          req.Options.BookSlugs,
		Results:            len(p.retrieval.Results),
		UsedChunks:         len(p.assembly.UsedChunks),
		ContextTokens:      p.assembly.TotalTokens,
		EmbeddingTokens:    p.retrieval.EmbeddingTokens,
		CompletionTokens:   usage.CompletionTokens,
		EmbeddingLatencyMs: p.retrieval.EmbeddingLatency.Milliseconds(),
		RetrievalLatencyMs: p.retrieval.RetrievalLatency.Milliseconds(),
		Fallback:           p.fallback,
		Timestamp:          time.Now().UTC(),
	})
	return answer
}
