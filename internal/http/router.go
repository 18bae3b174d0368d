// Package http wires the API handlers into a chi router with logging, metrics
// and CORS middleware.
package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"bookrag/internal/handlers"
	"bookrag/internal/metrics"
	"bookrag/internal/service"
)

// Deps holds dependencies for the HTTP router.
type Deps struct {
	Answers   service.AnswerService
	Searcher  handlers.Searcher
	Assembler handlers.ContextAssembler
	Books     *handlers.BooksHandler
	Health    map[string]handlers.HealthCheck
	Metrics   *metrics.Metrics
}

// NewRouter creates a new HTTP router with the provided dependencies.
func NewRouter(deps *Deps) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(LoggerMiddleware)
	r.Use(RequestLogger)
	r.Use(Metrics(deps.Metrics))
	r.Use(middleware.Recoverer)
	r.Use(CORS)

	r.Method(http.MethodGet, "/health", handlers.NewHealthHandler(deps.Health))
	r.Method(http.MethodGet, "/metrics", deps.Metrics.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Method(http.MethodPost, "/ask", handlers.NewAskHandler(deps.Answers))
		r.Method(http.MethodPost, "/ask/stream", handlers.NewStreamHandler(deps.Answers))
		r.Method(http.MethodPost, "/search", handlers.NewSearchHandler(deps.Searcher, deps.Assembler))
		r.Post("/books", deps.Books.Create)
		r.Get("/books", deps.Books.List)
		r.Get("/runs/{id}", deps.Books.GetRun)
	})

	return r
}
