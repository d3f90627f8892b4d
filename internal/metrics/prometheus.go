package metrics

import (
	"sync"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	QueryDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "docqa_query_duration_seconds",
			Help:    "Question answering duration in seconds",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
		},
		[]string{"mode"},
	)

	QueryTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "docqa_query_total",
			Help: "Total number of questions processed",
		},
		[]string{"status"},
	)

	RetrievalTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "docqa_retrieval_total",
			Help: "Retrievals by the path that produced the context",
		},
		[]string{"mode"},
	)

	RetrievalResultsCount = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "docqa_retrieval_results_count",
			Help:    "Number of chunks placed in the context per retrieval",
			Buckets: []float64{0, 1, 2, 3, 4, 5, 10},
		},
	)

	LLMTokensUsed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "docqa_llm_tokens_used",
			Help: "Total tokens reported by the OpenAI API",
		},
		[]string{"model", "type"},
	)

	EmbeddingsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "docqa_embeddings_total",
			Help: "Embedding requests by outcome",
		},
		[]string{"outcome"},
	)

	CacheHits = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "docqa_cache_hits_total",
			Help: "Total cache hits",
		},
		[]string{"cache_type"},
	)

	CacheMisses = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "docqa_cache_misses_total",
			Help: "Total cache misses",
		},
		[]string{"cache_type"},
	)

	DocumentsProcessed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "docqa_documents_processed_total",
			Help: "Uploads by terminal state",
		},
		[]string{"status"},
	)

	DocumentsSuperseded = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "docqa_documents_superseded_total",
			Help: "Documents deleted because a file with the same name was uploaded again",
		},
	)

	ChunksCreated = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "docqa_chunks_created_total",
			Help: "Chunks persisted, by whether an embedding was attached",
		},
		[]string{"embedded"},
	)

	IngestionDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "docqa_ingestion_duration_seconds",
			Help:    "Upload processing duration in seconds",
			Buckets: []float64{0.5, 1, 5, 15, 30, 60, 120, 300},
		},
		[]string{"kind"},
	)

	CircuitState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "docqa_circuit_state",
			Help: "Circuit breaker state (0 closed, 1 open)",
		},
		[]string{"name"},
	)
)

var registerOnce sync.Once

func Init() {
	registerOnce.Do(func() {
		prometheus.MustRegister(QueryDuration)
		prometheus.MustRegister(QueryTotal)
		prometheus.MustRegister(RetrievalTotal)
		prometheus.MustRegister(RetrievalResultsCount)
		prometheus.MustRegister(LLMTokensUsed)
		prometheus.MustRegister(EmbeddingsTotal)
		prometheus.MustRegister(CacheHits)
		prometheus.MustRegister(CacheMisses)
		prometheus.MustRegister(DocumentsProcessed)
		prometheus.MustRegister(DocumentsSuperseded)
		prometheus.MustRegister(ChunksCreated)
		prometheus.MustRegister(IngestionDuration)
		prometheus.MustRegister(CircuitState)
	})
}

func MetricsHandler() fiber.Handler {
	return adaptor.HTTPHandler(promhttp.Handler())
}
