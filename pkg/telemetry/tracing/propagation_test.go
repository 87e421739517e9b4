package tracing

import (
	"context"
	"testing"

	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

func TestExtract_JoinsRemoteTrace(t *testing.T) {
	NewWithProvider(sdktrace.NewTracerProvider())

	header := map[string]string{
		"TraceParent": "00-4bf92f3577b34da6a3ce929d0e0e4736-00f067aa0ba902b7-01",
		"Host":        "example.com",
	}
	ctx := Extract(context.Background(), header)

	sc := trace.SpanContextFromContext(ctx)
	if !sc.IsRemote() || sc.TraceID().String() != "4bf92f3577b34da6a3ce929d0e0e4736" {
		t.Errorf("remote span context not extracted: %+v", sc)
	}
}

func TestExtract_InvalidHeaderIgnored(t *testing.T) {
	NewWithProvider(sdktrace.NewTracerProvider())

	ctx := Extract(context.Background(), map[string]string{"traceparent": "garbage"})
	if trace.SpanContextFromContext(ctx).IsValid() {
		t.Error("invalid traceparent produced a span context")
	}
}
