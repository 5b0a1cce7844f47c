package metrics

import "github.com/prometheus/client_golang/prometheus"

const namespace = "mpsflow"

var (
	SolveRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "solve_requests_total",
			Help:      "Total number of /solve_mps requests, labeled by outcome.",
		},
		[]string{"outcome"},
	)

	SolveStatusTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "solve_status_total",
			Help:      "Solver termination statuses of served solves, labeled by problem kind.",
		},
		[]string{"kind", "status"},
	)

	SolveDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "solve_duration_seconds",
			Help:      "Wall time of the batch solve (seconds).",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300, 600},
		},
		[]string{"kind"},
	)

	SolveBatchSize = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "solve_batch_size",
			Help:      "Requested batch size per solve.",
			Buckets:   []float64{1, 2, 4, 8, 16, 32, 64},
		},
	)

	ArtifactUploadsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "artifact_uploads_total",
			Help:      "Total number of solve artifact uploads, labeled by outcome.",
		},
		[]string{"outcome"},
	)
	RateLimitHitsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rate_limit_hits_total",
			Help:      "Total number of requests rejected by the rate limiter.",
		},
		[]string{"scope", "operation"},
	)
)

func init() {
	prometheus.MustRegister(
		SolveRequestsTotal,
		SolveStatusTotal,
		SolveDurationSeconds,
		SolveBatchSize,
		ArtifactUploadsTotal,
		RateLimitHitsTotal,
	)
}
