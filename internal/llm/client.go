package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"bookrag/internal/apperr"
)

// Client is a client for an OpenAI-compatible chat completions API.
type Client struct {
	BaseURL string
	APIKey  string
	Model   string
	client  *http.Client
}

// NewClient creates a new LLM client.
func NewClient(baseURL, apiKey, model string) *Client {
	return &Client{
		BaseURL: baseURL,
		APIKey:  apiKey,
		Model:   model,
		client:  http.DefaultClient,
	}
}

// ChatRequest represents the request payload for chat completions.
type ChatRequest struct {
	Model         string         `json:"model"`
	Messages      []Message      `json:"messages"`
	MaxTokens     int            `json:"max_tokens,omitempty"`
	Temperature   float32        `json:"temperature"`
	Stream        bool           `json:"stream,omitempty"`
	StreamOptions *StreamOptions `json:"stream_options,omitempty"`
}

// StreamOptions asks the provider to append a usage summary to the stream.
type StreamOptions struct {
	IncludeUsage bool `json:"include_usage"`
}

// ChatChoice represents a single choice in the chat response.
type ChatChoice struct {
	Index        int     `json:"index"`
	Message      Message `json:"message"`
	FinishReason string  `json:"finish_reason"`
}

// ChatResponse represents the response from the chat completions API.
type ChatResponse struct {
	ID      string       `json:"id"`
	Object  string       `json:"object"`
	Choices []ChatChoice `json:"choices"`
	Usage   Usage        `json:"usage"`
}

type streamChunk struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage *Usage `json:"usage"`
}

func (c *Client) newRequest(ctx context.Context, messages []Message, params ChatParams, stream bool) (*http.Request, error) {
	if len(messages) == 0 {
		return nil, apperr.Invalid("messages", "cannot be empty")
	}

	model := params.Model
	if model == "" {
		model = c.Model
	}
	temperature := params.Temperature
	if temperature == 0 {
		temperature = 0.7
	}

	payload := ChatRequest{
		Model:       model,
		Messages:    messages,
		MaxTokens:   params.MaxTokens,
		Temperature: temperature,
		Stream:      stream,
	}
	if stream {
		payload.StreamOptions = &StreamOptions{IncludeUsage: true}
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	url := fmt.Sprintf("%s/v1/chat/completions", c.BaseURL)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewBuffer(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Authorization", fmt.Sprintf("Bearer %s", c.APIKey))
	req.Header.Set("Content-Type", "application/json")
	if stream {
		req.Header.Set("Accept", "text/event-stream")
	}
	return req, nil
}

func (c *Client) do(req *http.Request) (*http.Response, error) {
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, apperr.Dependency("chat", fmt.Errorf("failed to send request: %w", err))
	}
	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		statusErr := fmt.Errorf("bad status %d: %s", resp.StatusCode, string(raw))
		if resp.StatusCode == http.StatusTooManyRequests {
			return nil, apperr.RateLimited("chat", statusErr)
		}
		return nil, apperr.Dependency("chat", statusErr)
	}
	return resp, nil
}

// Complete sends a non-streaming chat completion request.
func (c *Client) Complete(ctx context.Context, messages []Message, params ChatParams) (Completion, error) {
	req, err := c.newRequest(ctx, messages, params, false)
	if err != nil {
		return Completion{}, err
	}

	resp, err := c.do(req)
	if err != nil {
		return Completion{}, err
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	var chatResp ChatResponse
	if err := json.NewDecoder(resp.Body).Decode(&chatResp); err != nil {
		return Completion{}, apperr.Dependency("chat", fmt.Errorf("failed to decode response: %w", err))
	}

	if len(chatResp.Choices) == 0 {
		return Completion{}, apperr.Dependency("chat", fmt.Errorf("no choices returned"))
	}

	return Completion{Content: chatResp.Choices[0].Message.Content, Usage: chatResp.Usage}, nil
}

// Stream sends a streaming chat completion request and reads Server-Sent Events
// on a background goroutine. The returned channel is closed when the stream ends,
// fails, or ctx is cancelled.
func (c *Client) Stream(ctx context.Context, messages []Message, params ChatParams) (<-chan StreamEvent, error) {
	req, err := c.newRequest(ctx, messages, params, true)
	if err != nil {
		return nil, err
	}

	resp, err := c.do(req)
	if err != nil {
		return nil, err
	}

	events := make(chan StreamEvent)
	go func() {
		defer close(events)
		defer func() {
			_ = resp.Body.Close()
		}()

		send := func(ev StreamEvent) bool {
			select {
			case events <- ev:
				return true
			case <-ctx.Done():
				return false
			}
		}

		const dataPrefix = "data: "
		const doneMarker = "[DONE]"

		scanner := bufio.NewScanner(resp.Body)
		for scanner.Scan() {
			line := scanner.Text()
			if !strings.HasPrefix(line, dataPrefix) {
				continue
			}

			data := strings.TrimPrefix(line, dataPrefix)
			if data == doneMarker {
				return
			}

			var chunk streamChunk
			if err := json.Unmarshal([]byte(data), &chunk); err != nil {
				// Skip malformed JSON chunks
				continue
			}

			if len(chunk.Choices) > 0 && chunk.Choices[0].Delta.Content != "" {
				if !send(StreamEvent{Delta: chunk.Choices[0].Delta.Content}) {
					return
				}
			}
			if chunk.Usage != nil {
				if !send(StreamEvent{Usage: chunk.Usage}) {
					return
				}
			}
		}

		if err := scanner.Err(); err != nil {
			send(StreamEvent{Err: apperr.Dependency("chat", fmt.Errorf("failed to read stream: %w", err))})
		}
	}()

	return events, nil
}
