package tracing

import (
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Attribute keys. Standard keys follow the OpenTelemetry HTTP conventions,
// the rest live under "callisto.".
const (
	AttrMethod     = "http.request.method"
	AttrTarget     = "url.path"
	AttrStatusCode = "http.response.status_code"
	AttrClient     = "client.address"

	AttrDecision   = "callisto.limit.decision"
	AttrRuleAction = "callisto.rule.action"
	AttrRuleRoot   = "callisto.rule.root"
	AttrRuleToken  = "callisto.rule.token"
	AttrKind       = "callisto.response.kind"
	AttrFile       = "callisto.file"
	AttrConnection = "callisto.connection.id"
	AttrSequence   = "callisto.connection.request"

	AttrWorkerID     = "callisto.sandbox.worker_id"
	AttrSandboxState = "callisto.sandbox.state"
	AttrExitCode     = "callisto.sandbox.exit_code"
)

// SetRequestAttributes sets the request line attributes.
func SetRequestAttributes(span trace.Span, method, path, client string) {
	span.SetAttributes(
		attribute.String(AttrMethod, method),
		attribute.String(AttrTarget, path),
		attribute.String(AttrClient, client),
	)
}

// SetRuleAttributes records the rule that decided the request.
func SetRuleAttributes(span trace.Span, action, root, token string) {
	if action == "" {
		return
	}
	span.SetAttributes(
		attribute.String(AttrRuleAction, action),
		attribute.String(AttrRuleRoot, root),
		attribute.String(AttrRuleToken, token),
	)
}

// SetResponseAttributes records how the request was answered.
func SetResponseAttributes(span trace.Span, kind string, status int) {
	attrs := []attribute.KeyValue{attribute.String(AttrKind, kind)}
	if status > 0 {
		attrs = append(attrs, attribute.Int(AttrStatusCode, status))
	}
	span.SetAttributes(attrs...)
}

// SetSandboxAttributes records how a worker ended.
func SetSandboxAttributes(span trace.Span, state string, exitCode int) {
	span.SetAttributes(
		attribute.String(AttrSandboxState, state),
		attribute.Int(AttrExitCode, exitCode),
	)
}
