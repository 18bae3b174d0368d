package http

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"go.uber.org/mock/gomock"

	"bookrag/internal/contextutil"
	"bookrag/internal/handlers"
	"bookrag/internal/metrics"
	"bookrag/internal/rag"
	"bookrag/internal/service"
	"bookrag/internal/service/mocks"
	"bookrag/internal/storage"
	storage_mocks "bookrag/internal/storage/mocks"
)

type emptySearcher struct{}

func (emptySearcher) Retrieve(context.Context, string, rag.Options) (*rag.Retrieval, error) {
	return &rag.Retrieval{Results: []storage.SearchResult{}}, nil
}

func newTestDeps(t *testing.T) (*Deps, *mocks.MockAnswerService) {
	t.Helper()
	ctrl := gomock.NewController(t)
	answers := mocks.NewMockAnswerService(ctrl)
	books := storage_mocks.NewMockBookStore(ctrl)
	runs := storage_mocks.NewMockRunStore(ctrl)
	books.EXPECT().ListActive(gomock.Any()).Return(nil, nil).AnyTimes()
	runs.EXPECT().GetByID(gomock.Any(), gomock.Any()).Return(nil, storage.ErrNotFound).AnyTimes()

	return &Deps{
		Answers:  answers,
		Searcher: emptySearcher{},
		Books:    handlers.NewBooksHandler(nil, books, runs),
		Health: map[string]handlers.HealthCheck{
			"storage": func(context.Context) error { return nil },
		},
		Metrics: metrics.New(prometheus.NewRegistry()),
	}, answers
}

func TestRouter_Routes(t *testing.T) {
	deps, answers := newTestDeps(t)
	answers.EXPECT().Ask(gomock.Any(), gomock.Any()).Return(nil, errors.New("unused")).AnyTimes()
	router := NewRouter(deps)

	tests := []struct {
		name       string
		method     string
		path       string
		body       string
		wantStatus int
	}{
		{name: "health", method: http.MethodGet, path: "/health", wantStatus: http.StatusOK},
		{name: "metrics", method: http.MethodGet, path: "/metrics", wantStatus: http.StatusOK},
		{name: "list books", method: http.MethodGet, path: "/api/v1/books", wantStatus: http.StatusOK},
		{name: "unknown run", method: http.MethodGet, path: "/api/v1/runs/nope", wantStatus: http.StatusNotFound},
		{name: "search", method: http.MethodPost, path: "/api/v1/search", body: `{"query":"q"}`, wantStatus: http.StatusOK},
		// Bad request due to invalid body, but route exists
		{name: "ask exists", method: http.MethodPost, path: "/api/v1/ask", wantStatus: http.StatusBadRequest},
		{name: "stream exists", method: http.MethodPost, path: "/api/v1/ask/stream", wantStatus: http.StatusBadRequest},
		{name: "ingest exists", method: http.MethodPost, path: "/api/v1/books", wantStatus: http.StatusBadRequest},
		{name: "ask method not allowed", method: http.MethodGet, path: "/api/v1/ask", wantStatus: http.StatusMethodNotAllowed},
		{name: "unknown route", method: http.MethodGet, path: "/api/v1/notes", wantStatus: http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, tt.path, strings.NewReader(tt.body))
			w := httptest.NewRecorder()

			router.ServeHTTP(w, req)

			if w.Code != tt.wantStatus {
				t.Errorf("Router %s %s status = %v, want %v", tt.method, tt.path, w.Code, tt.wantStatus)
			}
		})
	}
}

func TestRouter_MiddlewareApplied(t *testing.T) {
	deps, answers := newTestDeps(t)
	answers.EXPECT().
		Ask(gomock.Any(), gomock.Any()).
		DoAndReturn(func(ctx context.Context, _ service.AskRequest) (*service.Answer, error) {
			if id := contextutil.RequestIDFromContext(ctx); id == "" {
				t.Error("request ID missing from context")
			}
			return &service.Answer{Answer: "ok", Citations: []rag.Citation{}}, nil
		})
	router := NewRouter(deps)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/ask", strings.NewReader(`{"question":"q"}`))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}
	if w.Header().Get("Access-Control-Allow-Origin") == "" {
		t.Error("Router should apply CORS middleware")
	}
	got := testutil.ToFloat64(deps.Metrics.HTTPRequestsTotal.WithLabelValues(http.MethodPost, "/api/v1/ask", "200"))
	if got != 1 {
		t.Errorf("request counter = %v, want 1", got)
	}
}
