package tracing

import (
	"context"

	"go.opentelemetry.io/otel/trace"
)

// TracerProvider is the tracing hook the engine starts its spans from.
type TracerProvider interface {
	GetTracer(name string, opts ...trace.TracerOption) trace.Tracer

	// Shutdown flushes buffered spans. ctx should carry a deadline.
	Shutdown(ctx context.Context) error
}
