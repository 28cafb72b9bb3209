package telemetry

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	once sync.Once

	EventsPublished  = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "bus_events_published_total", Help: "Events accepted by the bus per topic"}, []string{"topic"})
	EventsRejected   = prometheus.NewCounter(prometheus.CounterOpts{Name: "bus_events_rejected_total", Help: "Publishes rejected by payload validation"})
	HandlerFailures  = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "bus_handler_failures_total", Help: "Subscriber panics caught during dispatch"}, []string{"topic"})
	JournalFailures  = prometheus.NewCounter(prometheus.CounterOpts{Name: "journal_append_failures_total", Help: "Best-effort journal writes that failed"})
	PoolDrops        = prometheus.NewCounter(prometheus.CounterOpts{Name: "worker_pool_drops_total", Help: "Tasks rejected because the worker pool was saturated"})
	TicksIngested    = prometheus.NewCounter(prometheus.CounterOpts{Name: "market_ticks_ingested_total", Help: "Market ticks persisted"})
	JobsCompleted    = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "ingestion_jobs_completed_total", Help: "Ingestion jobs reaching a terminal status"}, []string{"status"})
	DuplicateFetches = prometheus.NewCounter(prometheus.CounterOpts{Name: "fetch_requests_duplicate_total", Help: "Fetch requests dropped by the dedup store"})
	ConnectorErrors  = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "connector_errors_total", Help: "Per-source connector failures"}, []string{"source"})
	Decisions        = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "governance_decisions_total", Help: "Decision records reaching each state"}, []string{"state"})
	RateLimitRejects = prometheus.NewCounter(prometheus.CounterOpts{Name: "ingest_rate_limit_rejects_total", Help: "API requests rejected by the rate limiter"})
)

// Handler exposes the /metrics HTTP handler with a singleton registry.
func Handler() http.Handler {
	once.Do(func() {
		prometheus.MustRegister(
			EventsPublished,
			EventsRejected,
			HandlerFailures,
			JournalFailures,
			PoolDrops,
			TicksIngested,
			JobsCompleted,
			DuplicateFetches,
			ConnectorErrors,
			Decisions,
			RateLimitRejects,
		)
	})
	return promhttp.Handler()
}
