package observability

import (
	"log/slog"
	"net/http"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	JobsSubmitted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gateway_jobs_submitted_total",
		Help: "The total number of jobs pushed onto the work queue",
	}, []string{"endpoint"})

	JobOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gateway_job_outcomes_total",
		Help: "Job resolutions by outcome", // COMPLETED, FAILED, TIMEOUT
	}, []string{"outcome"})

	ChunksRelayed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "gateway_stream_chunks_relayed_total",
		Help: "The total number of stream chunks relayed to callers",
	})

	WaitDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "gateway_result_wait_seconds",
		Help:    "Time from wait/relay start to job resolution.",
		Buckets: prometheus.ExponentialBuckets(0.05, 2, 12),
	}, []string{"outcome"})
)

// NewLogger creates a new structured logger.
func NewLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stdout, nil))
}

// StartMetricsServer runs an HTTP server to expose Prometheus metrics.
func StartMetricsServer(addr string) {
	go func() {
		http.Handle("/metrics", promhttp.Handler())
		if err := http.ListenAndServe(addr, nil); err != nil {
			slog.Error("metrics server failed", "error", err)
		}
	}()
}
