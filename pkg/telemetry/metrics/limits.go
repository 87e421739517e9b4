package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"mercator-hq/callisto/pkg/config"
)

// LimitMetrics tracks the per-client rate limiter.
type LimitMetrics struct {
	admissions *prometheus.CounterVec
	bans       prometheus.Counter
	tracked    prometheus.Gauge
}

// NewLimitMetrics creates and registers rate limiter metrics.
func NewLimitMetrics(cfg *config.MetricsConfig, registry *prometheus.Registry) *LimitMetrics {
	lm := &LimitMetrics{
		admissions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "admissions_total",
				Help:      "Rate limiter decisions by outcome",
			},
			[]string{"decision"},
		),
		bans: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "bans_total",
				Help:      "Bans started",
			},
		),
		tracked: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "tracked_clients",
				Help:      "Clients currently held in the rate table",
			},
		),
	}

	registry.MustRegister(lm.admissions, lm.bans, lm.tracked)
	return lm
}

// RecordAdmission counts a decision and a new ban.
func (lm *LimitMetrics) RecordAdmission(decision string, newBan bool) {
	lm.admissions.WithLabelValues(decision).Inc()
	if newBan {
		lm.bans.Inc()
	}
}

// UpdateTracked sets the tracked client gauge.
func (lm *LimitMetrics) UpdateTracked(n int) {
	lm.tracked.Set(float64(n))
}
