package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"mercator-hq/callisto/pkg/config"
)

// FilterMetrics tracks rule evaluation and the rule cache.
type FilterMetrics struct {
	verdicts      *prometheus.CounterVec
	duration      prometheus.Histogram
	cacheSize     prometheus.Gauge
	invalidations *prometheus.CounterVec
}

// NewFilterMetrics creates and registers filter metrics.
func NewFilterMetrics(cfg *config.MetricsConfig, registry *prometheus.Registry) *FilterMetrics {
	fm := &FilterMetrics{
		verdicts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "filter_verdicts_total",
				Help:      "Filter verdicts by rule action and rule directory",
			},
			[]string{"action", "root"},
		),
		duration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "filter_evaluation_duration_seconds",
				Help:      "Time spent evaluating rule files",
				Buckets:   []float64{0.00001, 0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05},
			},
		),
		cacheSize: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "filter_cache_entries",
				Help:      "Directories held in the rule cache",
			},
		),
		invalidations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "filter_cache_invalidations_total",
				Help:      "Rule cache invalidations by scope",
			},
			[]string{"scope"},
		),
	}

	registry.MustRegister(fm.verdicts, fm.duration, fm.cacheSize, fm.invalidations)
	return fm
}

// RecordVerdict counts a verdict and observes the evaluation time.
func (fm *FilterMetrics) RecordVerdict(action, root string, duration time.Duration) {
	if action == "" {
		action = "none"
	}
	fm.verdicts.WithLabelValues(action, root).Inc()
	fm.duration.Observe(duration.Seconds())
}

// UpdateCacheSize sets the cache size gauge.
func (fm *FilterMetrics) UpdateCacheSize(n int) {
	fm.cacheSize.Set(float64(n))
}

// RecordInvalidation counts an invalidation.
func (fm *FilterMetrics) RecordInvalidation(all bool) {
	scope := "directory"
	if all {
		scope = "all"
	}
	fm.invalidations.WithLabelValues(scope).Inc()
}
