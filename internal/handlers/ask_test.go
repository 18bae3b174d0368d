package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"bookrag/internal/apperr"
	"bookrag/internal/rag"
	"bookrag/internal/service"
	service_mocks "bookrag/internal/service/mocks"

	"go.uber.org/mock/gomock"
)

func jsonBody(t *testing.T, v any) *bytes.Reader {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatal(err)
	}
	return bytes.NewReader(data)
}

func TestAskHandler(t *testing.T) {
	answer := &service.Answer{
		Answer:    "Arrakis.",
		Citations: []rag.Citation{{BookSlug: "dune", BookTitle: "Dune", PageNumber: 7, Similarity: 0.82}},
		Usage:     service.Usage{EmbeddingTokens: 4, CompletionTokens: 3},
		Latency:   service.Latency{Retrieval: 12 * time.Millisecond},
	}

	tests := []struct {
		name           string
		body           string
		mockSetup      func(m *service_mocks.MockAnswerService)
		expectedStatus int
	}{
		{
			name: "successful answer",
			body: `{"question":"Where is the spice?","book_slugs":["dune"],"top_k":3}`,
			mockSetup: func(m *service_mocks.MockAnswerService) {
				m.EXPECT().
					Ask(gomock.Any(), service.AskRequest{
						Question: "Where is the spice?",
						Options:  rag.Options{BookSlugs: []string{"dune"}, TopK: 3},
					}).
					Return(answer, nil)
			},
			expectedStatus: http.StatusOK,
		},
		{
			name:           "malformed body",
			body:           `{"question":`,
			mockSetup:      func(*service_mocks.MockAnswerService) {},
			expectedStatus: http.StatusBadRequest,
		},
		{
			name:           "unknown field",
			body:           `{"question":"q","k":3}`,
			mockSetup:      func(*service_mocks.MockAnswerService) {},
			expectedStatus: http.StatusBadRequest,
		},
		{
			name: "empty question",
			body: `{"question":""}`,
			mockSetup: func(m *service_mocks.MockAnswerService) {
				m.EXPECT().Ask(gomock.Any(), gomock.Any()).Return(nil, apperr.Invalid("question", "cannot be empty"))
			},
			expectedStatus: http.StatusBadRequest,
		},
		{
			name: "rate limited",
			body: `{"question":"q"}`,
			mockSetup: func(m *service_mocks.MockAnswerService) {
				m.EXPECT().Ask(gomock.Any(), gomock.Any()).Return(nil, apperr.RateLimited("chat", errors.New("429")))
			},
			expectedStatus: http.StatusTooManyRequests,
		},
		{
			name: "dependency failure",
			body: `{"question":"q"}`,
			mockSetup: func(m *service_mocks.MockAnswerService) {
				m.EXPECT().Ask(gomock.Any(), gomock.Any()).Return(nil, apperr.Dependency("retrieve", errors.New("down")))
			},
			expectedStatus: http.StatusBadGateway,
		},
		{
			name: "unexpected failure",
			body: `{"question":"q"}`,
			mockSetup: func(m *service_mocks.MockAnswerService) {
				m.EXPECT().Ask(gomock.Any(), gomock.Any()).Return(nil, errors.New("boom"))
			},
			expectedStatus: http.StatusInternalServerError,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctrl := gomock.NewController(t)
			svc := service_mocks.NewMockAnswerService(ctrl)
			tt.mockSetup(svc)
			handler := NewAskHandler(svc)

			req := httptest.NewRequest(http.MethodPost, "/api/v1/ask", strings.NewReader(tt.body))
			w := httptest.NewRecorder()
			handler.ServeHTTP(w, req)

			if w.Code != tt.expectedStatus {
				t.Fatalf("status = %d, want %d (body %s)", w.Code, tt.expectedStatus, w.Body.String())
			}
			if tt.expectedStatus != http.StatusOK {
				var errResp ErrorResponse
				if err := json.NewDecoder(w.Body).Decode(&errResp); err != nil || errResp.Error == "" {
					t.Errorf("error body = %q, decode error = %v", w.Body.String(), err)
				}
				return
			}

			var resp AskResponse
			if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
				t.Fatalf("decode response: %v", err)
			}
			if resp.Answer != "Arrakis." || len(resp.Citations) != 1 || resp.Citations[0].Similarity != 0.82 || resp.Latency.RetrievalMs != 12 {
				t.Errorf("response = %+v", resp)
			}
		})
	}
}

func TestStreamHandler(t *testing.T) {
	ctrl := gomock.NewController(t)
	svc := service_mocks.NewMockAnswerService(ctrl)
	svc.EXPECT().
		Stream(gomock.Any(), gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, _ service.AskRequest, onDelta func(string) error) (*service.Answer, error) {
			for _, d := range []string{"Arr", "akis\n."} {
				if err := onDelta(d); err != nil {
					return nil, err
				}
			}
			return &service.Answer{Answer: "Arrakis\n.", Citations: []rag.Citation{}}, nil
		})

	handler := NewStreamHandler(svc)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/ask/stream", jsonBody(t, AskRequest{Question: "Where?"}))
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("Content-Type = %q", ct)
	}
	body := w.Body.String()
	for _, want := range []string{
		"event: delta\ndata: \"Arr\"\n\n",
		"event: delta\ndata: \"akis\\n.\"\n\n",
		"event: done\ndata: {\"answer\":\"Arrakis\\n.\"",
	} {
		if !strings.Contains(body, want) {
			t.Errorf("stream missing %q in:\n%s", want, body)
		}
	}
}

func TestStreamHandler_Errors(t *testing.T) {
	tests := []struct {
		name           string
		stream         func(onDelta func(string) error) error
		expectedStatus int
		wantEvent      string
	}{
		{
			name: "error before first delta uses status code",
			stream: func(func(string) error) error {
				return apperr.Invalid("question", "cannot be empty")
			},
			expectedStatus: http.StatusBadRequest,
		},
		{
			name: "error after first delta is an event",
			stream: func(onDelta func(string) error) error {
				_ = onDelta("partial")
				return apperr.Dependency("chat", errors.New("reset"))
			},
			expectedStatus: http.StatusOK,
			wantEvent:      "event: error\n",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctrl := gomock.NewController(t)
			svc := service_mocks.NewMockAnswerService(ctrl)
			svc.EXPECT().
				Stream(gomock.Any(), gomock.Any(), gomock.Any()).
				DoAndReturn(func(_ context.Context, _ service.AskRequest, onDelta func(string) error) (*service.Answer, error) {
					return nil, tt.stream(onDelta)
				})

			req := httptest.NewRequest(http.MethodPost, "/api/v1/ask/stream", strings.NewReader(`{"question":"q"}`))
			w := httptest.NewRecorder()
			NewStreamHandler(svc).ServeHTTP(w, req)

			if w.Code != tt.expectedStatus {
				t.Errorf("status = %d, want %d", w.Code, tt.expectedStatus)
			}
			if tt.wantEvent != "" && !strings.Contains(w.Body.String(), tt.wantEvent) {
				t.Errorf("body missing %q: %s", tt.wantEvent, w.Body.String())
			}
		})
	}
}
