package metrics

import "github.com/prometheus/client_golang/prometheus"

// Search path Prometheus metrics.
var (
	SearchRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "kbsearch",
			Name:      "search_requests_total",
			Help:      "Total number of search requests by terminal status",
		},
		[]string{"status"}, // ok, embedding_disabled, kb_unavailable, rate_limited, invalid_filters
	)

	ResultCacheTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "kbsearch",
			Name:      "result_cache_total",
			Help:      "Search result cache hits and misses",
		},
		[]string{"result"}, // "hit" / "miss" / "error"
	)

	RateLimitTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "kbsearch",
			Name:      "rate_limit_total",
			Help:      "Rate limiter decisions",
		},
		[]string{"decision"}, // "allowed" / "limited" / "fail_open"
	)

	EmbeddingRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "kbsearch",
			Name:      "embedding_requests_total",
			Help:      "Total number of embedding requests",
		},
		[]string{"provider", "model", "status"},
	)

	EmbeddingRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "kbsearch",
			Name:      "embedding_request_duration_seconds",
			Help:      "Embedding request duration in seconds",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
		[]string{"provider", "model"},
	)

	EmbeddingQueueWait = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "kbsearch",
			Name:      "embedding_queue_wait_seconds",
			Help:      "Time spent waiting for an embedding concurrency slot",
			Buckets:   []float64{0.001, 0.01, 0.05, 0.1, 0.5, 1, 5, 10},
		},
	)

	RerankRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "kbsearch",
			Name:      "rerank_requests_total",
			Help:      "Total number of rerank requests",
		},
		[]string{"status"},
	)
)

var searchMetricsRegistered bool

// RegisterSearchMetrics registers search path metrics. Must be called once from main.
func RegisterSearchMetrics() {
	if searchMetricsRegistered {
		return
	}
	prometheus.MustRegister(SearchRequestsTotal)
	prometheus.MustRegister(ResultCacheTotal)
	prometheus.MustRegister(RateLimitTotal)
	prometheus.MustRegister(EmbeddingRequestsTotal)
	prometheus.MustRegister(EmbeddingRequestDuration)
	prometheus.MustRegister(EmbeddingQueueWait)
	prometheus.MustRegister(RerankRequestsTotal)
	searchMetricsRegistered = true
}
