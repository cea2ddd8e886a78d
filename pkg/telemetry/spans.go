package telemetry

import (
	"context"
	"net/http"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Tracer names
const (
	SyncTracer     = "clientsync"
	RemoteTracer   = "backend"
	RealtimeTracer = "realtime"
)

// TraceSyncCall creates a span for a synchronizer operation
// Examples: load, mutate, refetch
func TraceSyncCall(ctx context.Context, operation, feature, key string) (context.Context, trace.Span) {
	return otel.Tracer(SyncTracer).Start(ctx, "syncer."+operation,
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(
			attribute.String("sync.operation", operation),
			attribute.String("sync.feature", feature),
			attribute.String("sync.key", key),
		),
	)
}

// TraceRemoteCall creates a span for a backend call
// Examples: query, mutate, rpc
func TraceRemoteCall(ctx context.Context, operation, target string) (context.Context, trace.Span) {
	return otel.Tracer(RemoteTracer).Start(ctx, "backend."+operation,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("backend.operation", operation),
			attribute.String("backend.target", target),
		),
	)
}

// RecordError marks the span as failed
func RecordError(span trace.Span, err error) {
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		span.RecordError(err)
	}
}

// RecordSuccess adds result attributes and marks the span ok
func RecordSuccess(span trace.Span, attrs ...attribute.KeyValue) {
	if len(attrs) > 0 {
		span.SetAttributes(attrs...)
	}
	span.SetStatus(codes.Ok, "")
}

// NewTransport wraps base with client tracing
func NewTransport(base http.RoundTripper) http.RoundTripper {
	if base == nil {
		base = http.DefaultTransport
	}
	return otelhttp.NewTransport(base,
		otelhttp.WithSpanOptions(trace.WithSpanKind(trace.SpanKindClient)),
	)
}
