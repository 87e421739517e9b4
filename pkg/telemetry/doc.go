// Package telemetry groups the observability packages of the server.
//
//   - logging: slog setup with context fields and credential redaction
//   - metrics: Prometheus collector for requests, limits, rules and the sandbox
//   - tracing: OpenTelemetry spans exported over OTLP gRPC
//   - health: liveness and readiness endpoints
//
// All four are served or configured from the telemetry section of the
// configuration file; metrics and health share the admin listener.
package telemetry
