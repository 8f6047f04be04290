package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Synthesis pass metrics
	SynthesisPasses = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "research_synthesis_passes_total",
			Help: "Total number of synthesis passes",
		},
		[]string{"status"},
	)

	SynthesisDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "research_synthesis_duration_seconds",
			Help:    "Synthesis pass duration in seconds",
			Buckets: []float64{0.5, 1, 2, 5, 10, 20, 40, 60},
		},
		[]string{"status"},
	)

	SynthesisRetries = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "research_synthesis_retries_total",
			Help: "Total number of synthesis passes retried after a generation failure",
		},
	)

	ResponseConfidence = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "research_response_confidence",
			Help:    "Confidence score of assembled responses",
			Buckets: prometheus.LinearBuckets(0, 0.1, 11),
		},
	)

	ResponseFreshness = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "research_response_freshness",
			Help:    "Freshness score of assembled responses",
			Buckets: prometheus.LinearBuckets(0, 0.1, 11),
		},
	)

	CitationsReferenced = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "research_citations_referenced",
			Help:    "Number of distinct sources referenced per response",
			Buckets: []float64{0, 1, 2, 3, 5, 8, 13, 21},
		},
		[]string{"source_type"},
	)

	UnresolvedMarkers = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "research_unresolved_markers_total",
			Help: "Total number of citation markers that did not resolve to a source",
		},
	)

	InsightsEmitted = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "research_insights_emitted",
			Help:    "Number of insights per response",
			Buckets: []float64{0, 1, 2, 3, 4, 5, 8, 10},
		},
	)

	// Retrieval metrics
	RetrievalResults = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "research_retrieval_results_total",
			Help: "Total number of evidence items returned by retrieval",
		},
		[]string{"source_type"},
	)

	RetrievalFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "research_retrieval_failures_total",
			Help: "Total number of failed retrieval calls",
		},
		[]string{"source_type"},
	)

	LiveCacheHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "research_live_cache_hits_total",
			Help: "Total number of live search cache hits",
		},
	)

	LiveCacheMisses = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "research_live_cache_misses_total",
			Help: "Total number of live search cache misses",
		},
	)

	// Generation metrics
	GenerationRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "research_generation_requests_total",
			Help: "Total number of text generation requests",
		},
		[]string{"provider", "status"},
	)

	GenerationLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "research_generation_latency_seconds",
			Help:    "Text generation latency in seconds",
			Buckets: []float64{0.25, 0.5, 1, 2, 5, 10, 20, 40},
		},
		[]string{"provider"},
	)

	// Credits metrics
	CreditsCharged = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "research_credits_charged_total",
			Help: "Total number of credits charged for reports",
		},
	)

	CreditsRefused = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "research_credits_refused_total",
			Help: "Total number of requests refused for lack of credits",
		},
	)

	// Vector DB metrics
	VectorSearches = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "research_vector_search_total",
			Help: "Total number of vector searches",
		},
		[]string{"collection", "status"},
	)

	VectorSearchLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "research_vector_search_latency_seconds",
			Help:    "Vector search latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"collection"},
	)

	// Embedding metrics
	EmbeddingRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "research_embedding_requests_total",
			Help: "Total number of embedding requests",
		},
		[]string{"model", "status"},
	)

	EmbeddingLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "research_embedding_latency_seconds",
			Help:    "Embedding generation latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"model"},
	)
)

// RecordSynthesisMetrics records the outcome of one synthesis pass
func RecordSynthesisMetrics(status string, durationSeconds float64) {
	SynthesisPasses.WithLabelValues(status).Inc()
	SynthesisDuration.WithLabelValues(status).Observe(durationSeconds)
}

// RecordResponseMetrics records the quality of an assembled response
func RecordResponseMetrics(confidence, freshness float64, documents, live, unresolved, insights int) {
	ResponseConfidence.Observe(confidence)
	ResponseFreshness.Observe(freshness)
	CitationsReferenced.WithLabelValues("document").Observe(float64(documents))
	CitationsReferenced.WithLabelValues("live_data").Observe(float64(live))
	if unresolved > 0 {
		UnresolvedMarkers.Add(float64(unresolved))
	}
	InsightsEmitted.Observe(float64(insights))
}

// RecordRetrievalMetrics records a retrieval call for one source namespace
func RecordRetrievalMetrics(sourceType string, results int, err error) {
	if err != nil {
		RetrievalFailures.WithLabelValues(sourceType).Inc()
		return
	}
	RetrievalResults.WithLabelValues(sourceType).Add(float64(results))
}

// RecordGenerationMetrics records a text generation call
func RecordGenerationMetrics(provider, status string, durationSeconds float64) {
	GenerationRequests.WithLabelValues(provider, status).Inc()
	if durationSeconds > 0 {
		GenerationLatency.WithLabelValues(provider).Observe(durationSeconds)
	}
}

// RecordVectorSearchMetrics records vector search metrics
func RecordVectorSearchMetrics(collection, status string, durationSeconds float64) {
	VectorSearches.WithLabelValues(collection, status).Inc()
	if durationSeconds > 0 {
		VectorSearchLatency.WithLabelValues(collection).Observe(durationSeconds)
	}
}

// RecordEmbeddingMetrics records embedding metrics
func RecordEmbeddingMetrics(model, status string, durationSeconds float64) {
	EmbeddingRequests.WithLabelValues(model, status).Inc()
	if durationSeconds > 0 {
		EmbeddingLatency.WithLabelValues(model).Observe(durationSeconds)
	}
}

// HTTP API metrics
var (
	HTTPRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "research_http_requests_total",
			Help: "Total number of API requests by route and status code",
		},
		[]string{"route", "code"},
	)

	HTTPDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "research_http_request_duration_seconds",
			Help:    "API request latency",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route"},
	)
)

// RecordHTTPMetrics records one served API request
func RecordHTTPMetrics(route string, code int, durationSeconds float64) {
	HTTPRequests.WithLabelValues(route, strconv.Itoa(code)).Inc()
	HTTPDuration.WithLabelValues(route).Observe(durationSeconds)
}
