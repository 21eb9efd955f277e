package telemetry

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	once sync.Once

	AnalysesCreated    = prometheus.NewCounter(prometheus.CounterOpts{Name: "analyses_created_total", Help: "Analysis jobs accepted by the API"})
	RateLimitRejects   = prometheus.NewCounter(prometheus.CounterOpts{Name: "analyses_rate_limit_rejects_total", Help: "Requests rejected by rate limiter"})
	AnalysesCompleted  = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "analyses_completed_total", Help: "Jobs that reached SUCCEEDED, by decision"}, []string{"decision"})
	AnalysesFailed     = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "analyses_failed_total", Help: "Jobs that reached FAILED, by error code"}, []string{"error_code"})
	ExtractionFailures = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "extraction_failures_total", Help: "Per-document extraction failures, by kind"}, []string{"kind"})
	ExtractionDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "extraction_duration_seconds",
		Help:    "Time spent extracting one document",
		Buckets: []float64{0.5, 1, 2, 5, 10, 20, 40, 80},
	}, []string{"document_type"})
	WorkerNacks      = prometheus.NewCounter(prometheus.CounterOpts{Name: "worker_nacks_total", Help: "Deliveries scheduled for redelivery after an infrastructure fault"})
	WorkerDeadLetter = prometheus.NewCounter(prometheus.CounterOpts{Name: "worker_dead_letter_total", Help: "Deliveries moved to the DLQ"})
	QueueDepthGauge  = prometheus.NewGauge(prometheus.GaugeOpts{Name: "analysis_queue_depth", Help: "Ready queue depth"})
	InFlightGauge    = prometheus.NewGauge(prometheus.GaugeOpts{Name: "analysis_inflight", Help: "Jobs currently leased by workers"})
)

// Handler exposes /metrics HTTP handler with a singleton registry.
func Handler() http.Handler {
	once.Do(func() {
		prometheus.MustRegister(
			AnalysesCreated,
			RateLimitRejects,
			AnalysesCompleted,
			AnalysesFailed,
			ExtractionFailures,
			ExtractionDuration,
			WorkerNacks,
			WorkerDeadLetter,
			QueueDepthGauge,
			InFlightGauge,
		)
	})
	return promhttp.Handler()
}
