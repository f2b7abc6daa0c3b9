package multicall

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics contains the Prometheus metrics for an Executor.
type Metrics struct {
	// --- Tier 1: Health ---
	CallsTotal    *prometheus.CounterVec
	FailuresTotal *prometheus.CounterVec

	// --- Tier 2: Throughput & Backpressure ---
	ChunksTotal   *prometheus.CounterVec
	RetriesTotal  *prometheus.CounterVec
	ChunkDuration *prometheus.HistogramVec
}

// NewMetrics creates the executor metrics. A nil registerer leaves them
// unregistered.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	return &Metrics{
		CallsTotal: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "btb_multicall_calls_total",
			Help: "Total number of eth_call requests issued by the executor, labeled by mode.",
		}, []string{"mode"}),

		FailuresTotal: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "btb_multicall_failures_total",
			Help: "Total number of executor invocations that failed, labeled by mode and whether the error was transient.",
		}, []string{"mode", "transient"}),

		ChunksTotal: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "btb_multicall_chunks_total",
			Help: "Total number of chunk attempts executed, labeled by mode.",
		}, []string{"mode"}),

		RetriesTotal: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "btb_multicall_retries_total",
			Help: "Total number of chunk retries caused by transient errors.",
		}, []string{}),

		ChunkDuration: promauto.With(reg).NewHistogramVec(prometheus.HistogramOpts{
			Name:    "btb_multicall_chunk_duration_seconds",
			Help:    "A histogram of the time it takes to execute one chunk of calls.",
			Buckets: prometheus.DefBuckets,
		}, []string{"mode"}),
	}
}
