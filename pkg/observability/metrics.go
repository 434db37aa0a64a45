// Package observability provides Prometheus metrics and HTTP middleware
// for monitoring the kbqa gateway.
package observability

import "github.com/prometheus/client_golang/prometheus"

// LLMBuckets defines histogram buckets suited for LLM inference latencies,
// ranging from 100ms to 180s (local models are slow).
var LLMBuckets = []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120, 180}

// RetrievalBuckets covers embedding plus vector search round trips.
var RetrievalBuckets = []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5}

var (
	// RequestsTotal counts all HTTP requests by method, status class, and route.
	RequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kbqa_requests_total",
			Help: "Total requests",
		},
		[]string{"method", "status", "route"},
	)

	// RequestDuration records HTTP request duration in seconds by method and route.
	RequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "kbqa_request_duration_seconds",
			Help:    "Request duration",
			Buckets: LLMBuckets,
		},
		[]string{"method", "route"},
	)

	// StreamingConnections tracks the number of active SSE streaming connections.
	StreamingConnections = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "kbqa_streaming_connections_active",
			Help: "Active streaming connections",
		},
	)

	// ProviderRequestsTotal counts generation calls sent to LLM backends.
	ProviderRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kbqa_provider_requests_total",
			Help: "Provider requests",
		},
		[]string{"backend", "model", "status"},
	)

	// ProviderLatency records backend latency in seconds. For streams this
	// is the time until the stream ends.
	ProviderLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "kbqa_provider_latency_seconds",
			Help:    "Provider latency",
			Buckets: LLMBuckets,
		},
		[]string{"backend", "model"},
	)

	// FailoversTotal counts switches of the active backend caused by
	// upstream failures.
	FailoversTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kbqa_failovers_total",
			Help: "Backend failovers",
		},
		[]string{"from", "to"},
	)

	// BackendHealthy reports 1 for backends currently considered healthy.
	BackendHealthy = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "kbqa_backend_healthy",
			Help: "Backend health state",
		},
		[]string{"backend"},
	)

	// CacheLookupsTotal counts answer cache lookups by result (hit, miss, error).
	CacheLookupsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kbqa_cache_lookups_total",
			Help: "Answer cache lookups",
		},
		[]string{"result"},
	)

	// RetrievalDuration records knowledge base search latency.
	RetrievalDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "kbqa_retrieval_duration_seconds",
			Help:    "Retrieval duration",
			Buckets: RetrievalBuckets,
		},
		[]string{"retriever"},
	)

	// RateLimitRejectedTotal counts requests rejected by the rate limiter.
	RateLimitRejectedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kbqa_ratelimit_rejected_total",
			Help: "Rate limit rejections",
		},
		[]string{"tier"},
	)
)

func init() {
	prometheus.MustRegister(
		RequestsTotal,
		RequestDuration,
		StreamingConnections,
		ProviderRequestsTotal,
		ProviderLatency,
		FailoversTotal,
		BackendHealthy,
		CacheLookupsTotal,
		RetrievalDuration,
		RateLimitRejectedTotal,
	)
}
