// Package tracing provides OpenTelemetry tracing.
//
// Each request gets a "request" span; sandbox jobs add a child
// "sandbox.execute" span. Spans are exported over OTLP gRPC:
//
//	telemetry:
//	  tracing:
//	    enabled: true
//	    endpoint: localhost:4317
//	    insecure: true
//	    sampler: ratio
//	    sample_ratio: 0.1
//
// Incoming traceparent headers are honored through Extract, so a request
// forwarded by an instrumented load balancer joins its trace.
package tracing
