package scheduler

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics contains the Prometheus metrics for a BatchProcessor.
type Metrics struct {
	// --- Tier 1: Critical Health ---
	RunsTotal *prometheus.CounterVec

	// --- Tier 2: Degraded Paths ---
	EstimateTimeoutsTotal *prometheus.CounterVec
	RetriesTotal          *prometheus.CounterVec

	// --- Tier 3: Performance ---
	RunDuration *prometheus.HistogramVec
}

// NewMetrics creates the batch processor metrics. A nil registerer leaves
// them unregistered.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	return &Metrics{
		RunsTotal: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "btb_batch_runs_total",
			Help: "Total number of daily batch runs, labeled by outcome (submitted, skipped, failed).",
		}, []string{"outcome"}),

		EstimateTimeoutsTotal: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "btb_batch_estimate_timeouts_total",
			Help: "Total number of runs that fell back to the default gas limit because estimation timed out.",
		}, []string{}),

		RetriesTotal: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "btb_batch_submit_retries_total",
			Help: "Total number of submission retries after transient failures.",
		}, []string{}),

		RunDuration: promauto.With(reg).NewHistogramVec(prometheus.HistogramOpts{
			Name:    "btb_batch_run_duration_seconds",
			Help:    "A histogram of the time a batch run takes from estimation to submission.",
			Buckets: prometheus.DefBuckets,
		}, []string{}),
	}
}
