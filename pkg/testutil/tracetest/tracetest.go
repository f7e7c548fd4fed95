// Package tracetest provides a minimal span-recording tracer provider so
// tests can assert an operation was traced without pulling in the SDK.
package tracetest

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/embedded"
	"go.opentelemetry.io/otel/trace/noop"
)

// Provider records the names of spans started through it.
type Provider struct {
	embedded.TracerProvider

	mu    sync.Mutex
	names []string
}

func NewProvider() *Provider {
	return &Provider{}
}

func (p *Provider) Tracer(string, ...trace.TracerOption) trace.Tracer {
	return &tracer{provider: p}
}

// SpanNames returns the names of all spans started so far, in order.
func (p *Provider) SpanNames() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.names...)
}

type tracer struct {
	embedded.Tracer

	provider *Provider
}

func (t *tracer) Start(ctx context.Context, name string, _ ...trace.SpanStartOption) (context.Context, trace.Span) {
	t.provider.mu.Lock()
	t.provider.names = append(t.provider.names, name)
	t.provider.mu.Unlock()
	return noop.NewTracerProvider().Tracer("").Start(ctx, name)
}
