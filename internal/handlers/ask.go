package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"

	"bookrag/internal/contextutil"
	"bookrag/internal/rag"
	"bookrag/internal/service"
)

// AskRequest represents the HTTP request payload for questions.
type AskRequest struct {
	Question            string   `json:"question"`
	BookSlugs           []string `json:"book_slugs,omitempty"`
	TopK                int      `json:"top_k,omitempty"`
	SimilarityThreshold float64  `json:"similarity_threshold,omitempty"`
}

func (r AskRequest) toService() service.AskRequest {
	return service.AskRequest{
		Question: r.Question,
		Options: rag.Options{
			BookSlugs:           r.BookSlugs,
			TopK:                r.TopK,
			SimilarityThreshold: r.SimilarityThreshold,
		},
	}
}

// LatencyResponse reports stage timings in milliseconds.
type LatencyResponse struct {
	EmbeddingMs  int64 `json:"embedding_ms"`
	RetrievalMs  int64 `json:"retrieval_ms"`
	CompletionMs int64 `json:"completion_ms"`
}

// AskResponse represents the HTTP response payload for questions.
type AskResponse struct {
	Answer    string          `json:"answer"`
	Citations []rag.Citation  `json:"citations"`
	Fallback  bool            `json:"fallback"`
	Usage     service.Usage   `json:"usage"`
	Latency   LatencyResponse `json:"latency"`
}

func toAskResponse(a *service.Answer) AskResponse {
	return AskResponse{
		Answer:    a.Answer,
		Citations: a.Citations,
		Fallback:  a.Fallback,
		Usage:     a.Usage,
		Latency: LatencyResponse{
			EmbeddingMs:  a.Latency.Embedding.Milliseconds(),
			RetrievalMs:  a.Latency.Retrieval.Milliseconds(),
			CompletionMs: a.Latency.Completion.Milliseconds(),
		},
	}
}

// AskHandler handles POST /api/v1/ask.
type AskHandler struct {
	answers service.AnswerService
}

// NewAskHandler creates a new AskHandler.
func NewAskHandler(answers service.AnswerService) *AskHandler {
	return &AskHandler{answers: answers}
}

// ServeHTTP answers a question from the indexed books.
func (h *AskHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := contextutil.LoggerFromContext(ctx)

	var req AskRequest
	if err := decodeJSON(w, r, &req); err != nil {
		logger.WarnContext(ctx, "invalid request body", "error", err)
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	answer, err := h.answers.Ask(ctx, req.toService())
	if err != nil {
		handleError(ctx, w, err, "Failed to answer question")
		return
	}
	writeJSON(ctx, w, http.StatusOK, toAskResponse(answer))
}

// StreamHandler handles POST /api/v1/ask/stream with Server-Sent Events.
//
// Each answer increment is sent as a "delta" event whose data is a JSON string.
// The stream ends with a "done" event carrying the AskResponse, or an "error"
// event if generation fails after the stream has started.
type StreamHandler struct {
	answers service.AnswerService
}

// NewStreamHandler creates a new StreamHandler.
func NewStreamHandler(answers service.AnswerService) *StreamHandler {
	return &StreamHandler{answers: answers}
}

func (h *StreamHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := contextutil.LoggerFromContext(ctx)

	var req AskRequest
	if err := decodeJSON(w, r, &req); err != nil {
		logger.WarnContext(ctx, "invalid request body for streaming", "error", err)
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		logger.ErrorContext(ctx, "streaming not supported by response writer")
		writeError(w, http.StatusInternalServerError, "Streaming not supported")
		return
	}

	// Headers are sent with the first event so that errors raised before any
	// output still get a proper status code.
	started := false
	start := func() {
		if started {
			return
		}
		started = true
		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		w.WriteHeader(http.StatusOK)
	}

	answer, err := h.answers.Stream(ctx, req.toService(), func(delta string) error {
		start()
		if err := writeEvent(w, "delta", delta); err != nil {
			return err
		}
		flusher.Flush()
		return nil
	})
	if err != nil {
		if !started {
			handleError(ctx, w, err, "Failed to answer question")
			return
		}
		logger.ErrorContext(ctx, "error streaming answer", "error", err)
		_ = writeEvent(w, "error", ErrorResponse{Error: "Answer generation failed"})
		flusher.Flush()
		return
	}

	start()
	_ = writeEvent(w, "done", toAskResponse(answer))
	flusher.Flush()
}

// writeEvent writes one SSE event with JSON-encoded data. JSON encoding keeps
// newlines in deltas from breaking the event framing.
func writeEvent(w http.ResponseWriter, event string, data any) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("failed to encode event: %w", err)
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, payload)
	return err
}
