package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus collectors this service exports alongside
// the default Go runtime metrics already served at /metrics.
type Metrics struct {
	DocumentsProcessed *prometheus.CounterVec
	ChunkDuration      *prometheus.HistogramVec
	LLMRetries         *prometheus.CounterVec
	TokensTruncated    prometheus.Counter
}

// NewMetrics registers the extraction service's collectors against reg.
// Pass prometheus.DefaultRegisterer to expose them on the handler
// cmd/extractor/server.go mounts at /metrics; tests should pass a fresh
// prometheus.NewRegistry() to avoid collisions across parallel runs.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		DocumentsProcessed: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "extractor_documents_processed_total",
			Help: "Documents routed through the orchestrator, by parsing_mode and outcome.",
		}, []string{"parsing_mode", "outcome"}),
		ChunkDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "extractor_chunk_duration_seconds",
			Help:    "Wall-clock time C7 spends on one page chunk's LLM round trip.",
			Buckets: prometheus.DefBuckets,
		}, []string{"parsing_mode"}),
		LLMRetries: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "extractor_llm_retries_total",
			Help: "Throttling retries C4 issued, by model_id.",
		}, []string{"model_id"}),
		TokensTruncated: factory.NewCounter(prometheus.CounterOpts{
			Name: "extractor_tokens_truncated_total",
			Help: "Documents C6 had to middle-truncate to fit the model's context budget.",
		}),
	}
}
