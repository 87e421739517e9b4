// Package metrics provides Prometheus metrics for the server.
//
// # Metrics Categories
//
//   - Request metrics: requests by kind and status, durations, bytes,
//     open connections and requests per connection
//   - Limit metrics: admission decisions, bans, tracked clients
//   - Filter metrics: verdicts by action and rule directory, evaluation
//     time, rule cache size and invalidations
//   - Sandbox metrics: jobs by terminal state, job durations, workers in
//     flight
//
// # Usage
//
//	collector := metrics.NewCollector(&cfg.Telemetry.Metrics, nil)
//	collector.RecordRequest("static", 200, 3*time.Millisecond, 5120)
//	collector.RecordSandboxJob("timed_out", 5500*time.Millisecond)
//
// # Cardinality Management
//
// Rule directory labels come from the serving tree. After 1000 distinct
// directories further ones are counted as "other".
package metrics
