package observability

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// TracerName is the instrumentation scope for spans emitted by the relay.
const TracerName = "github.com/synerchat/server"

// Tracer returns the relay tracer from the global provider. Without an SDK
// installed the global provider is a no-op.
func Tracer() trace.Tracer {
	return otel.Tracer(TracerName)
}

// WithSpan runs fn inside a span and marks the span failed when fn errors.
func WithSpan(ctx context.Context, tracer trace.Tracer, name string, fn func(context.Context, trace.Span) error, opts ...trace.SpanStartOption) error {
	if tracer == nil {
		tracer = Tracer()
	}
	ctx, span := tracer.Start(ctx, name, opts...)
	defer span.End()

	err := fn(ctx, span)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}
