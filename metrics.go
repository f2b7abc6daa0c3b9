package btbclient

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// --- Prometheus Metrics Definition ---

// Metrics contains all the Prometheus metrics for the Client.
type Metrics struct {
	// --- Tier 1: Critical Health ---
	ErrorsTotal    *prometheus.CounterVec
	MutationsTotal *prometheus.CounterVec

	// --- Tier 2: Performance & Cache Efficiency ---
	QueriesTotal  *prometheus.CounterVec
	QueryDuration *prometheus.HistogramVec

	// --- Tier 3: Data Integrity ---
	DecodeFailuresTotal *prometheus.CounterVec
	ApprovalsTotal      *prometheus.CounterVec
	InvalidationsTotal  *prometheus.CounterVec
}

// NewMetrics creates and registers the client metrics. A nil registerer
// leaves them unregistered.
func NewMetrics(reg prometheus.Registerer, clientName string) *Metrics {
	return &Metrics{
		// --- Tier 1 Metrics ---
		ErrorsTotal: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Subsystem: clientName,
			Name:      "btb_client_errors_total",
			Help:      "Total number of errors surfaced by the client, labeled by error type.",
		}, []string{"type"}),

		MutationsTotal: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Subsystem: clientName,
			Name:      "btb_client_mutations_total",
			Help:      "Total number of state-changing operations, labeled by operation and outcome category.",
		}, []string{"operation", "result"}),

		// --- Tier 2 Metrics ---
		QueriesTotal: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Subsystem: clientName,
			Name:      "btb_client_queries_total",
			Help:      "Total number of aggregation queries, labeled by query and whether the cache answered.",
		}, []string{"query", "source"}),

		QueryDuration: promauto.With(reg).NewHistogramVec(prometheus.HistogramOpts{
			Subsystem: clientName,
			Name:      "btb_client_query_duration_seconds",
			Help:      "A histogram of the time it takes to answer an aggregation query from the chain.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"query"}),

		// --- Tier 3 Metrics ---
		DecodeFailuresTotal: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Subsystem: clientName,
			Name:      "btb_client_decode_failures_total",
			Help:      "Total number of per-token results skipped because they could not be decoded.",
		}, []string{"query"}),

		ApprovalsTotal: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Subsystem: clientName,
			Name:      "btb_client_approvals_total",
			Help:      "Total number of approval transactions submitted before an operation, labeled by standard.",
		}, []string{"standard"}),

		InvalidationsTotal: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Subsystem: clientName,
			Name:      "btb_client_cache_invalidations_total",
			Help:      "Total number of cache entries dropped after state-changing operations.",
		}, []string{"operation"}),
	}
}
