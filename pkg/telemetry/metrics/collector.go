package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"mercator-hq/callisto/pkg/config"
)

// Collector owns every Prometheus metric of the server.
//
// All Record methods are safe on a nil Collector and when metrics are
// disabled, so callers never need to check.
type Collector struct {
	config   *config.MetricsConfig
	registry *prometheus.Registry

	requestMetrics *RequestMetrics
	limitMetrics   *LimitMetrics
	filterMetrics  *FilterMetrics
	sandboxMetrics *SandboxMetrics

	// Rule roots are user controlled paths.
	cardinalityLimiter *CardinalityLimiter
}

// NewCollector creates a collector registering into registry, or into a new
// registry when nil.
//
// Example:
//
//	collector := metrics.NewCollector(&cfg.Telemetry.Metrics, nil)
//	mux.Handle(cfg.Telemetry.Metrics.Path, collector.Handler())
func NewCollector(cfg *config.MetricsConfig, registry *prometheus.Registry) *Collector {
	if registry == nil {
		registry = prometheus.NewRegistry()
	}

	if cfg.Namespace == "" {
		cfg.Namespace = "callisto"
	}
	if cfg.Subsystem == "" {
		cfg.Subsystem = "frontend"
	}
	if len(cfg.DurationBuckets) == 0 {
		cfg.DurationBuckets = config.DefaultDurationBuckets()
	}

	c := &Collector{
		config:             cfg,
		registry:           registry,
		cardinalityLimiter: NewCardinalityLimiter(1000),
	}

	c.requestMetrics = NewRequestMetrics(cfg, registry)
	c.limitMetrics = NewLimitMetrics(cfg, registry)
	c.filterMetrics = NewFilterMetrics(cfg, registry)
	c.sandboxMetrics = NewSandboxMetrics(cfg, registry)

	return c
}

func (c *Collector) enabled() bool {
	return c != nil && c.config.Enabled
}

// ConnectionOpened counts an accepted connection.
func (c *Collector) ConnectionOpened() {
	if !c.enabled() {
		return
	}
	c.requestMetrics.ConnectionOpened()
}

// ConnectionClosed records a closed connection and how many requests it
// carried.
func (c *Collector) ConnectionClosed(requests int) {
	if !c.enabled() {
		return
	}
	c.requestMetrics.ConnectionClosed(requests)
}

// RecordRequest records a finished request.
//
// Parameters:
//   - kind: how it was answered ("status", "redirect", "static", "script")
//   - status: HTTP status, 0 when the worker answered itself
//   - duration: from complete head to response written
//   - bytes: response bytes written by the server
func (c *Collector) RecordRequest(kind string, status int, duration time.Duration, bytes int64) {
	if !c.enabled() {
		return
	}
	c.requestMetrics.RecordRequest(kind, status, duration, bytes)
}

// RecordAdmission records a rate limiter decision.
func (c *Collector) RecordAdmission(decision string, newBan bool) {
	if !c.enabled() {
		return
	}
	c.limitMetrics.RecordAdmission(decision, newBan)
}

// UpdateTrackedClients sets the number of clients in the rate table.
func (c *Collector) UpdateTrackedClients(n int) {
	if !c.enabled() {
		return
	}
	c.limitMetrics.UpdateTracked(n)
}

// RecordVerdict records a filter evaluation. root is the directory of the
// matching rule file, empty when no rule matched.
func (c *Collector) RecordVerdict(action, root string, duration time.Duration) {
	if !c.enabled() {
		return
	}
	if root != "" && !c.cardinalityLimiter.Allow(root) {
		root = "other"
	}
	c.filterMetrics.RecordVerdict(action, root, duration)
}

// UpdateRuleCacheSize sets the number of cached rule directories.
func (c *Collector) UpdateRuleCacheSize(n int) {
	if !c.enabled() {
		return
	}
	c.filterMetrics.UpdateCacheSize(n)
}

// RecordRuleInvalidation counts a cache invalidation; all reports a full
// flush.
func (c *Collector) RecordRuleInvalidation(all bool) {
	if !c.enabled() {
		return
	}
	c.filterMetrics.RecordInvalidation(all)
}

// RecordSandboxJob records a finished sandbox job by terminal state.
func (c *Collector) RecordSandboxJob(state string, duration time.Duration) {
	if !c.enabled() {
		return
	}
	c.sandboxMetrics.RecordJob(state, duration)
}

// UpdateSandboxInFlight sets the number of running workers.
func (c *Collector) UpdateSandboxInFlight(n int) {
	if !c.enabled() {
		return
	}
	c.sandboxMetrics.UpdateInFlight(n)
}

// Registry returns the Prometheus registry used by this collector.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// CardinalityLimiter prevents metric cardinality explosion by limiting
// the number of unique label values.
type CardinalityLimiter struct {
	maxCardinality int
	current        map[string]struct{}
	mu             sync.RWMutex
}

// NewCardinalityLimiter creates a new cardinality limiter with the specified
// maximum cardinality.
func NewCardinalityLimiter(maxCardinality int) *CardinalityLimiter {
	return &CardinalityLimiter{
		maxCardinality: maxCardinality,
		current:        make(map[string]struct{}),
	}
}

// Allow reports whether a label value may be used. Known values are always
// allowed; new ones only while the limit is not reached.
func (cl *CardinalityLimiter) Allow(labelSet string) bool {
	cl.mu.RLock()
	if _, exists := cl.current[labelSet]; exists {
		cl.mu.RUnlock()
		return true
	}
	cl.mu.RUnlock()

	cl.mu.Lock()
	defer cl.mu.Unlock()

	if _, exists := cl.current[labelSet]; exists {
		return true
	}
	if len(cl.current) >= cl.maxCardinality {
		return false
	}
	cl.current[labelSet] = struct{}{}
	return true
}

// Count returns the current cardinality.
func (cl *CardinalityLimiter) Count() int {
	cl.mu.RLock()
	defer cl.mu.RUnlock()
	return len(cl.current)
}
