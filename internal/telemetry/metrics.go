package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics exposed for live observation of a run (spec section S6): queue
// depth, in-flight count, dispatch jitter, and per-request latency, named
// the way the teacher names its own shannon_* series.
var (
	RequestsStarted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "genbench_requests_started_total",
			Help: "Total number of requests dispatched to the backend",
		},
		[]string{"strategy"},
	)

	RequestsCompleted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "genbench_requests_completed_total",
			Help: "Total number of requests that reached request_complete",
		},
		[]string{"strategy", "status"},
	)

	RequestLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "genbench_request_latency_seconds",
			Help:    "End-to-end request latency from the backend stream's start event to its final event",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"strategy"},
	)

	TimeToFirstToken = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "genbench_time_to_first_token_seconds",
			Help:    "Latency from the backend stream's start event to the first streamed token",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"strategy"},
	)

	DispatchJitter = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "genbench_dispatch_jitter_seconds",
			Help:    "max(0, worker_start - target_start_time) per request",
			Buckets: []float64{0, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
		},
	)

	QueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "genbench_requests_queue_depth",
			Help: "Current number of envelopes buffered in the requests queue",
		},
	)

	InFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "genbench_requests_in_flight",
			Help: "Current number of requests in the processing state",
		},
	)
)
