package tracing

import (
	"context"
	"strings"

	"go.opentelemetry.io/otel"
)

// headerCarrier adapts a parsed request header, whose keys are in canonical
// MIME form, to the propagation API. Propagators ask for lower-case names.
type headerCarrier map[string]string

func (c headerCarrier) Get(key string) string {
	if v, ok := c[key]; ok {
		return v
	}
	for k, v := range c {
		if strings.EqualFold(k, key) {
			return v
		}
	}
	return ""
}

func (c headerCarrier) Set(key, value string) {
	c[key] = value
}

func (c headerCarrier) Keys() []string {
	keys := make([]string, 0, len(c))
	for k := range c {
		keys = append(keys, k)
	}
	return keys
}

// Extract returns ctx carrying the remote span context found in the
// traceparent and tracestate headers. Invalid or missing headers leave ctx
// unchanged.
func Extract(ctx context.Context, header map[string]string) context.Context {
	return otel.GetTextMapPropagator().Extract(ctx, headerCarrier(header))
}
