package metrics

import (
	"sync"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/casebot/backend/pkg/circuitbreaker"
)

var (
	DocumentsIngested = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "casebot_documents_ingested_total",
			Help: "Ingestion attempts by outcome",
		},
		[]string{"status"},
	)

	LazyFills = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "casebot_lazy_fills_total",
			Help: "On-demand ingestions triggered by scoped retrieval",
		},
		[]string{"status"},
	)

	IndexSize = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "casebot_index_documents",
			Help: "Documents currently held by the vector index",
		},
	)

	RetrievalDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "casebot_retrieval_duration_seconds",
			Help:    "Retrieval duration in seconds",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5},
		},
		[]string{"mode"},
	)

	RetrievalOutcomes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "casebot_retrieval_outcomes_total",
			Help: "Retrieval outcomes by mode and status",
		},
		[]string{"mode", "status"},
	)

	ChatMessages = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "casebot_chat_messages_total",
			Help: "Inbound chat messages by outcome",
		},
		[]string{"outcome"},
	)

	GenerationFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "casebot_generation_failures_total",
			Help: "Generation calls that fell back to the apology reply",
		},
	)

	LLMTokensUsed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "casebot_llm_tokens_used",
			Help: "Total LLM tokens used",
		},
		[]string{"model", "type"},
	)

	CacheHits = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "casebot_cache_hits_total",
			Help: "Total cache hits",
		},
		[]string{"cache_type"},
	)

	CacheMisses = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "casebot_cache_misses_total",
			Help: "Total cache misses",
		},
		[]string{"cache_type"},
	)

	PersistenceFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "casebot_persistence_failures_total",
			Help: "Best-effort store writes that failed",
		},
		[]string{"operation"},
	)

	ProviderBreakerState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "casebot_provider_breaker_state",
			Help: "Circuit breaker state per provider (0 closed, 1 half-open, 2 open)",
		},
		[]string{"provider"},
	)
)

var initOnce sync.Once

// Init registers every collector with the default registry. Safe to call more than once.
func Init() {
	initOnce.Do(func() {
		prometheus.MustRegister(
			DocumentsIngested,
			LazyFills,
			IndexSize,
			RetrievalDuration,
			RetrievalOutcomes,
			ChatMessages,
			GenerationFailures,
			LLMTokensUsed,
			CacheHits,
			CacheMisses,
			PersistenceFailures,
			ProviderBreakerState,
		)
	})
}

func MetricsHandler() fiber.Handler {
	return adaptor.HTTPHandler(promhttp.Handler())
}

// BreakerStateChanged is a circuitbreaker.Config.OnStateChange hook.
func BreakerStateChanged(name string, _ circuitbreaker.State, to circuitbreaker.State) {
	ProviderBreakerState.WithLabelValues(name).Set(float64(to))
}
