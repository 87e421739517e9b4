package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"mercator-hq/callisto/pkg/config"
)

// RequestMetrics tracks connections and requests.
//
// Metrics:
//   - callisto_frontend_requests_total: requests by kind and status
//   - callisto_frontend_request_duration_seconds: request duration by kind
//   - callisto_frontend_response_bytes_total: bytes written by the server
//   - callisto_frontend_connections_open: currently open connections
//   - callisto_frontend_requests_per_connection: requests served per connection
type RequestMetrics struct {
	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	responseBytes   *prometheus.CounterVec
	connectionsOpen prometheus.Gauge
	perConnection   prometheus.Histogram
}

// NewRequestMetrics creates and registers request metrics with the provided registry.
func NewRequestMetrics(cfg *config.MetricsConfig, registry *prometheus.Registry) *RequestMetrics {
	rm := &RequestMetrics{
		requestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "requests_total",
				Help:      "Total number of requests by response kind and status",
			},
			[]string{"kind", "status"},
		),

		requestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "request_duration_seconds",
				Help:      "Duration of requests in seconds",
				Buckets:   cfg.DurationBuckets,
			},
			[]string{"kind"},
		),

		responseBytes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "response_bytes_total",
				Help:      "Response bytes written by the server",
			},
			[]string{"kind"},
		),

		connectionsOpen: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "connections_open",
				Help:      "Number of open client connections",
			},
		),

		perConnection: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "requests_per_connection",
				Help:      "Requests served per connection",
				Buckets:   prometheus.ExponentialBuckets(1, 2, 10),
			},
		),
	}

	registry.MustRegister(
		rm.requestsTotal,
		rm.requestDuration,
		rm.responseBytes,
		rm.connectionsOpen,
		rm.perConnection,
	)

	return rm
}

// RecordRequest records a finished request.
func (rm *RequestMetrics) RecordRequest(kind string, status int, duration time.Duration, bytes int64) {
	code := "worker"
	if status > 0 {
		code = strconv.Itoa(status)
	}
	rm.requestsTotal.WithLabelValues(kind, code).Inc()
	rm.requestDuration.WithLabelValues(kind).Observe(duration.Seconds())
	if bytes > 0 {
		rm.responseBytes.WithLabelValues(kind).Add(float64(bytes))
	}
}

// ConnectionOpened increments the open connection gauge.
func (rm *RequestMetrics) ConnectionOpened() {
	rm.connectionsOpen.Inc()
}

// ConnectionClosed decrements the gauge and observes the request count.
func (rm *RequestMetrics) ConnectionClosed(requests int) {
	rm.connectionsOpen.Dec()
	rm.perConnection.Observe(float64(requests))
}
