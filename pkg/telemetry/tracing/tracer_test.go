package tracing

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"

	"mercator-hq/callisto/pkg/config"
)

func TestNew(t *testing.T) {
	tests := []struct {
		name    string
		config  *config.TracingConfig
		wantErr bool
	}{
		{name: "nil config", config: nil, wantErr: true},
		{name: "disabled", config: &config.TracingConfig{ServiceName: "test"}},
		{
			name: "enabled",
			config: &config.TracingConfig{
				Enabled:     true,
				Sampler:     SamplerAlways,
				Endpoint:    "127.0.0.1:4317",
				ServiceName: "test",
				Insecure:    true,
				Timeout:     time.Second,
			},
		},
		{
			name: "bad sampler",
			config: &config.TracingConfig{
				Enabled:  true,
				Sampler:  "sometimes",
				Endpoint: "127.0.0.1:4317",
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr, err := New(tt.config, "test")
			if (err != nil) != tt.wantErr {
				t.Fatalf("New() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil {
				return
			}
			if tr.Enabled() != tt.config.Enabled {
				t.Errorf("Enabled() = %v", tr.Enabled())
			}

			ctx, cancel := context.WithTimeout(context.Background(), time.Second)
			defer cancel()
			tr.Shutdown(ctx)
		})
	}
}

func TestDisabledTracerIsNoop(t *testing.T) {
	tr, err := New(&config.TracingConfig{}, "test")
	if err != nil {
		t.Fatal(err)
	}

	ctx, span := tr.Tracer().Start(context.Background(), "op")
	defer span.End()

	if span.IsRecording() {
		t.Error("disabled tracer produced a recording span")
	}
	if trace.SpanContextFromContext(ctx).IsValid() {
		t.Error("disabled tracer produced a trace id")
	}
}

func TestNewWithProvider_RecordsSpans(t *testing.T) {
	rec := tracetest.NewSpanRecorder()
	tr := NewWithProvider(sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec)))
	defer tr.Shutdown(context.Background())

	ctx, span := tr.Tracer().Start(context.Background(), "request")
	SetRequestAttributes(span, "GET", "/index.html", "192.0.2.1")
	SetRuleAttributes(span, "deny", "/admin", "/secret")
	SetResponseAttributes(span, "status", 403)
	SetError(span, errors.New("denied"))
	if !trace.SpanContextFromContext(ctx).IsValid() {
		t.Error("expected a trace id on a recording span")
	}
	span.End()

	ended := rec.Ended()
	if len(ended) != 1 {
		t.Fatalf("recorded %d spans, want 1", len(ended))
	}
	s := ended[0]
	if s.Name() != "request" || s.Status().Code != codes.Error {
		t.Errorf("span %q status %v", s.Name(), s.Status())
	}

	attrs := map[string]string{}
	for _, kv := range s.Attributes() {
		attrs[string(kv.Key)] = kv.Value.Emit()
	}
	for k, want := range map[string]string{
		AttrMethod:     "GET",
		AttrRuleAction: "deny",
		AttrRuleToken:  "/secret",
		AttrStatusCode: "403",
		AttrKind:       "status",
	} {
		if attrs[k] != want {
			t.Errorf("%s = %q, want %q", k, attrs[k], want)
		}
	}
}

func TestSetRuleAttributes_NoRule(t *testing.T) {
	rec := tracetest.NewSpanRecorder()
	tr := NewWithProvider(sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec)))

	_, span := tr.Tracer().Start(context.Background(), "request")
	SetRuleAttributes(span, "", "", "")
	span.End()

	if n := len(rec.Ended()[0].Attributes()); n != 0 {
		t.Errorf("expected no attributes, got %d", n)
	}
}
