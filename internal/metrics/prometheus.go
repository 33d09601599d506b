package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gateway_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "route", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "gateway_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10},
		},
		[]string{"method", "route"},
	)

	upstreamRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gateway_upstream_requests_total",
			Help: "Total number of upstream dispatches",
		},
		[]string{"upstream", "status"},
	)

	rateLimitHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "gateway_rate_limit_hits_total",
			Help: "Total number of throttled requests",
		},
	)

	circuitBreakerTrips = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gateway_circuit_breaker_trips_total",
			Help: "Total number of circuit breaker opens",
		},
		[]string{"upstream"},
	)

	cacheHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gateway_cache_events_total",
			Help: "Response cache hits and misses",
		},
		[]string{"result"},
	)

	concurrentConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "gateway_concurrent_connections",
			Help: "Current number of in-flight requests",
		},
	)

	bytesTransferred = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gateway_bytes_transferred_total",
			Help: "Total bytes transferred",
		},
		[]string{"direction"},
	)
)

// RecordHTTPRequest mirrors one finished request into Prometheus
func RecordHTTPRequest(method, route string, status int, duration time.Duration, bytesIn, bytesOut int64) {
	statusStr := strconv.Itoa(status)
	httpRequestsTotal.WithLabelValues(method, route, statusStr).Inc()
	httpRequestDuration.WithLabelValues(method, route).Observe(duration.Seconds())
	bytesTransferred.WithLabelValues("in").Add(float64(bytesIn))
	bytesTransferred.WithLabelValues("out").Add(float64(bytesOut))
}

// RecordUpstreamRequest counts one upstream dispatch
func RecordUpstreamRequest(upstream string, status int) {
	upstreamRequestsTotal.WithLabelValues(upstream, strconv.Itoa(status)).Inc()
}

// RecordRateLimitHit counts one throttled request
func RecordRateLimitHit() {
	rateLimitHits.Inc()
}

// RecordBreakerTrip counts one circuit open
func RecordBreakerTrip(upstream string) {
	circuitBreakerTrips.WithLabelValues(upstream).Inc()
}

// RecordCacheEvent counts a cache hit, stale hit or miss
func RecordCacheEvent(result string) {
	cacheHits.WithLabelValues(result).Inc()
}

// ConnGaugeInc / ConnGaugeDec track in-flight requests

func ConnGaugeInc() { concurrentConnections.Inc() }
func ConnGaugeDec() { concurrentConnections.Dec() }
