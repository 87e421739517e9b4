package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"mercator-hq/callisto/pkg/config"
)

// SandboxMetrics tracks script workers.
type SandboxMetrics struct {
	jobs     *prometheus.CounterVec
	duration *prometheus.HistogramVec
	inFlight prometheus.Gauge
}

// NewSandboxMetrics creates and registers sandbox metrics.
func NewSandboxMetrics(cfg *config.MetricsConfig, registry *prometheus.Registry) *SandboxMetrics {
	sm := &SandboxMetrics{
		jobs: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "sandbox_jobs_total",
				Help:      "Sandbox jobs by terminal state",
			},
			[]string{"state"},
		),
		duration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "sandbox_job_duration_seconds",
				Help:      "Wall time of sandbox jobs from spawn to exit",
				Buckets:   cfg.DurationBuckets,
			},
			[]string{"state"},
		),
		inFlight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "sandbox_in_flight",
				Help:      "Workers currently running",
			},
		),
	}

	registry.MustRegister(sm.jobs, sm.duration, sm.inFlight)
	return sm
}

// RecordJob counts a job and observes its duration.
func (sm *SandboxMetrics) RecordJob(state string, duration time.Duration) {
	sm.jobs.WithLabelValues(state).Inc()
	sm.duration.WithLabelValues(state).Observe(duration.Seconds())
}

// UpdateInFlight sets the in-flight gauge.
func (sm *SandboxMetrics) UpdateInFlight(n int) {
	sm.inFlight.Set(float64(n))
}
