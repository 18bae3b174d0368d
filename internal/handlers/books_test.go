package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/mock/gomock"

	"bookrag/internal/storage"
	storage_mocks "bookrag/internal/storage/mocks"
	"bookrag/internal/storage/memory"
)

func booksRouter(h *BooksHandler) http.Handler {
	r := chi.NewRouter()
	r.Post("/api/v1/books", h.Create)
	r.Get("/api/v1/books", h.List)
	r.Get("/api/v1/runs/{id}", h.GetRun)
	return r
}

func TestBooksHandler_IngestThenList(t *testing.T) {
	store := memory.New()
	h := NewBooksHandler(newTestPipeline(store), store.Books(), store.Runs())
	router := booksRouter(h)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/books", jsonBody(t, IngestRequest{
		Slug:    "dune",
		Title:   "Dune",
		Author:  "Frank Herbert",
		Format:  "text",
		Content: bookText,
	}))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusAccepted {
		t.Fatalf("POST status = %d, want 202 (body %s)", w.Code, w.Body.String())
	}
	var accepted RunResponse
	if err := json.NewDecoder(w.Body).Decode(&accepted); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if accepted.ID == "" || accepted.Status != string(storage.RunRunning) {
		t.Errorf("accepted run = %+v", accepted)
	}

	h.Wait()

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/runs/"+accepted.ID, nil))
	if w.Code != http.StatusOK {
		t.Fatalf("GET run status = %d", w.Code)
	}
	var run RunResponse
	if err := json.NewDecoder(w.Body).Decode(&run); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if run.Status != string(storage.RunCompleted) || run.ChunksProcessed == 0 || run.CompletedAt == nil {
		t.Errorf("run = %+v, want completed with chunks", run)
	}

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/books", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("GET books status = %d", w.Code)
	}
	var list ListBooksResponse
	if err := json.NewDecoder(w.Body).Decode(&list); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(list.Books) != 1 {
		t.Fatalf("books = %d, want 1", len(list.Books))
	}
	book := list.Books[0]
	if book.Slug != "dune" || book.TotalChunks != run.ChunksProcessed {
		t.Errorf("book = %+v", book)
	}
	if book.Stats == nil || book.Stats.Chunks != book.TotalChunks || book.Stats.IndexVersion == "" {
		t.Errorf("stats = %+v", book.Stats)
	}
}

func TestBooksHandler_CreateInvalid(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{name: "malformed body", body: `{"slug":`},
		{name: "missing slug", body: `{"title":"Dune","format":"text","content":"` + strings.TrimSpace(strings.ReplaceAll(bookText, "\n", " ")) + `"}`},
		{name: "unsupported format", body: `{"slug":"dune","title":"Dune","format":"pdf","content":"x"}`},
		{name: "empty content", body: `{"slug":"dune","title":"Dune","format":"text","content":""}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := memory.New()
			h := NewBooksHandler(newTestPipeline(store), store.Books(), store.Runs())

			w := httptest.NewRecorder()
			booksRouter(h).ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/v1/books", strings.NewReader(tt.body)))

			if w.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want 400 (body %s)", w.Code, w.Body.String())
			}
			books, _ := store.Books().ListActive(context.Background())
			if len(books) != 0 {
				t.Errorf("books = %d, want none", len(books))
			}
		})
	}
}

func TestBooksHandler_GetRun(t *testing.T) {
	tests := []struct {
		name           string
		mockSetup      func(m *storage_mocks.MockRunStore)
		expectedStatus int
	}{
		{
			name: "found",
			mockSetup: func(m *storage_mocks.MockRunStore) {
				m.EXPECT().GetByID(gomock.Any(), "run-1").Return(&storage.IngestionRun{ID: "run-1", Status: storage.RunFailed, ErrorMessage: "embedding failed"}, nil)
			},
			expectedStatus: http.StatusOK,
		},
		{
			name: "not found",
			mockSetup: func(m *storage_mocks.MockRunStore) {
				m.EXPECT().GetByID(gomock.Any(), "run-1").Return(nil, storage.ErrNotFound)
			},
			expectedStatus: http.StatusNotFound,
		},
		{
			name: "store failure",
			mockSetup: func(m *storage_mocks.MockRunStore) {
				m.EXPECT().GetByID(gomock.Any(), "run-1").Return(nil, errors.New("database is locked"))
			},
			expectedStatus: http.StatusInternalServerError,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctrl := gomock.NewController(t)
			runs := storage_mocks.NewMockRunStore(ctrl)
			tt.mockSetup(runs)
			h := NewBooksHandler(nil, nil, runs)

			w := httptest.NewRecorder()
			booksRouter(h).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/runs/run-1", nil))

			if w.Code != tt.expectedStatus {
				t.Errorf("status = %d, want %d", w.Code, tt.expectedStatus)
			}
		})
	}
}

func TestBooksHandler_ConcurrentCreates(t *testing.T) {
	store := memory.New()
	h := NewBooksHandler(newTestPipeline(store), store.Books(), store.Runs())
	router := booksRouter(h)

	const n = 20
	ids := make([]string, n)
	var wg sync.WaitGroup
	for i := range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			w := httptest.NewRecorder()
			router.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/v1/books", jsonBody(t, IngestRequest{
				Slug:    fmt.Sprintf("book-%d", i),
				Title:   "Dune",
				Format:  "text",
				Content: bookText,
			})))
			if w.Code != http.StatusAccepted {
				t.Errorf("POST %d status = %d (body %s)", i, w.Code, w.Body.String())
				return
			}
			var accepted RunResponse
			if err := json.NewDecoder(w.Body).Decode(&accepted); err != nil {
				t.Errorf("decode: %v", err)
				return
			}
			if accepted.Status != string(storage.RunRunning) || accepted.ChunksProcessed != 0 {
				t.Errorf("accepted run = %+v, want the state before embedding", accepted)
			}
			ids[i] = accepted.ID
		}()
	}
	wg.Wait()
	h.Wait()

	for i, id := range ids {
		if id == "" {
			continue
		}
		run, err := store.Runs().GetByID(context.Background(), id)
		if err != nil {
			t.Fatalf("GetByID(%s) error = %v", id, err)
		}
		if run.Status != storage.RunCompleted {
			t.Errorf("run %d status = %s, want completed", i, run.Status)
		}
	}
}

func TestBooksHandler_Shutdown(t *testing.T) {
	t.Run("no background runs", func(t *testing.T) {
		store := memory.New()
		h := NewBooksHandler(newTestPipeline(store), store.Books(), store.Runs())
		if err := h.Shutdown(context.Background()); err != nil {
			t.Errorf("Shutdown() error = %v", err)
		}
	})

	t.Run("cancels runs after the grace period", func(t *testing.T) {
		store := memory.New()
		embedder := blockingEmbedder{started: make(chan struct{}, 1)}
		h := NewBooksHandler(newPipelineWith(store, embedder), store.Books(), store.Runs())

		w := httptest.NewRecorder()
		booksRouter(h).ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/v1/books", jsonBody(t, IngestRequest{
			Slug: "dune", Title: "Dune", Format: "text", Content: bookText,
		})))
		if w.Code != http.StatusAccepted {
			t.Fatalf("POST status = %d (body %s)", w.Code, w.Body.String())
		}
		var accepted RunResponse
		if err := json.NewDecoder(w.Body).Decode(&accepted); err != nil {
			t.Fatalf("decode: %v", err)
		}

		select {
		case <-embedder.started:
		case <-time.After(2 * time.Second):
			t.Fatal("background run never reached the embedder")
		}

		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		defer cancel()
		if err := h.Shutdown(ctx); !errors.Is(err, context.DeadlineExceeded) {
			t.Errorf("Shutdown() error = %v, want deadline exceeded", err)
		}

		run, err := store.Runs().GetByID(context.Background(), accepted.ID)
		if err != nil {
			t.Fatalf("GetByID() error = %v", err)
		}
		if run.Status != storage.RunRunning {
			t.Errorf("run status = %s, want running so it can resume", run.Status)
		}
	})
}
