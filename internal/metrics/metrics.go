// Package metrics defines the Prometheus collectors for ingestion, retrieval
// and the HTTP surface, and exposes a scrape handler.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus collectors. A nil *Metrics is valid and records nothing.
type Metrics struct {
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	ChunksIngested      *prometheus.CounterVec
	IngestionRuns       *prometheus.CounterVec
	EmbeddingTokens     *prometheus.CounterVec
	EmbeddingRetries    prometheus.Counter
	RetrievalLatency    *prometheus.HistogramVec
	ResultsPerQuery     prometheus.Histogram
	ContextTokens       prometheus.Histogram
	EmbeddingCache      *prometheus.CounterVec

	gatherer prometheus.Gatherer
}

// New creates the collectors and registers them with reg. A *prometheus.Registry
// is also used as the gatherer for Handler.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bookrag_http_requests_total",
				Help: "Total number of HTTP requests by method, route, and status.",
			},
			[]string{"method", "route", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "bookrag_http_request_duration_seconds",
				Help:    "HTTP request latency in seconds.",
				Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
			},
			[]string{"method", "route"},
		),
		ChunksIngested: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bookrag_ingested_chunks_total",
				Help: "Chunks handled by ingestion, by outcome (embedded, skipped).",
			},
			[]string{"outcome"},
		),
		IngestionRuns: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bookrag_ingestion_runs_total",
				Help: "Ingestion runs by final status.",
			},
			[]string{"status"},
		),
		EmbeddingTokens: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bookrag_embedding_tokens_total",
				Help: "Tokens billed by the embedding provider, by stage (ingest, query).",
			},
			[]string{"stage"},
		),
		EmbeddingRetries: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "bookrag_embedding_retries_total",
				Help: "Embedding calls retried after a rate-limit response.",
			},
		),
		RetrievalLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "bookrag_retrieval_latency_seconds",
				Help:    "Retrieval latency in seconds, by branch (embed, vector, keyword).",
				Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
			},
			[]string{"branch"},
		),
		ResultsPerQuery: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "bookrag_results_per_query",
				Help:    "Merged retrieval results per query.",
				Buckets: []float64{0, 1, 2, 5, 10, 20},
			},
		),
		ContextTokens: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "bookrag_context_tokens",
				Help:    "Tokens of passage content in each assembled context.",
				Buckets: []float64{0, 250, 500, 1000, 1500, 2000, 2500, 3000},
			},
		),
		EmbeddingCache: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bookrag_embedding_cache_total",
				Help: "Query embedding cache lookups by result (hit, miss, error).",
			},
			[]string{"result"},
		),
	}

	reg.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.ChunksIngested,
		m.IngestionRuns,
		m.EmbeddingTokens,
		m.EmbeddingRetries,
		m.RetrievalLatency,
		m.ResultsPerQuery,
		m.ContextTokens,
		m.EmbeddingCache,
	)
	if g, ok := reg.(prometheus.Gatherer); ok {
		m.gatherer = g
	}
	return m
}

// Handler returns the Prometheus scrape handler for the registry m was built with.
func (m *Metrics) Handler() http.Handler {
	if m == nil || m.gatherer == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

// ObserveChunks counts chunks embedded and skipped by one ingestion batch.
func (m *Metrics) ObserveChunks(embedded, skipped int) {
	if m == nil {
		return
	}
	m.ChunksIngested.WithLabelValues("embedded").Add(float64(embedded))
	m.ChunksIngested.WithLabelValues("skipped").Add(float64(skipped))
}

// ObserveRun counts an ingestion run reaching status.
func (m *Metrics) ObserveRun(status string) {
	if m == nil {
		return
	}
	m.IngestionRuns.WithLabelValues(status).Inc()
}

// ObserveEmbeddingTokens adds billed embedding tokens for stage.
func (m *Metrics) ObserveEmbeddingTokens(stage string, tokens int) {
	if m == nil {
		return
	}
	m.EmbeddingTokens.WithLabelValues(stage).Add(float64(tokens))
}

// ObserveRetry counts one embedding retry.
func (m *Metrics) ObserveRetry() {
	if m == nil {
		return
	}
	m.EmbeddingRetries.Inc()
}

// ObserveLatency records the duration of a retrieval branch.
func (m *Metrics) ObserveLatency(branch string, d time.Duration) {
	if m == nil {
		return
	}
	m.RetrievalLatency.WithLabelValues(branch).Observe(d.Seconds())
}

// ObserveResults records the merged result count of a query.
func (m *Metrics) ObserveResults(n int) {
	if m == nil {
		return
	}
	m.ResultsPerQuery.Observe(float64(n))
}

// ObserveContextTokens records the size of an assembled context.
func (m *Metrics) ObserveContextTokens(tokens int) {
	if m == nil {
		return
	}
	m.ContextTokens.Observe(float64(tokens))
}

// ObserveCache counts an embedding cache lookup result.
func (m *Metrics) ObserveCache(result string) {
	if m == nil {
		return
	}
	m.EmbeddingCache.WithLabelValues(result).Inc()
}

// ObserveRequest records one served HTTP request. route is the matched route
// pattern, never the raw path, to bound label cardinality.
func (m *Metrics) ObserveRequest(method, route string, status int, d time.Duration) {
	if m == nil {
		return
	}
	m.HTTPRequestsTotal.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, route).Observe(d.Seconds())
}
