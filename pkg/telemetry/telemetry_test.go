package telemetry

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func withRecorder(t *testing.T) *tracetest.SpanRecorder {
	t.Helper()
	rec := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec))
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() { otel.SetTracerProvider(prev) })
	return rec
}

func TestTraceSyncCall(t *testing.T) {
	rec := withRecorder(t)

	_, span := TraceSyncCall(context.Background(), "load", "poll", "poll/1")
	RecordSuccess(span, attribute.Bool("sync.from_cache", true))
	span.End()

	spans := rec.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, "syncer.load", spans[0].Name())
	assert.Equal(t, codes.Ok, spans[0].Status().Code)
	assert.Contains(t, spans[0].Attributes(), attribute.String("sync.key", "poll/1"))
}

func TestRecordError(t *testing.T) {
	rec := withRecorder(t)

	_, span := TraceRemoteCall(context.Background(), "query", "posts")
	RecordError(span, errors.New("503"))
	RecordError(span, nil)
	span.End()

	spans := rec.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, codes.Error, spans[0].Status().Code)
	assert.Len(t, spans[0].Events(), 1)
}

func TestInitTracerDisabled(t *testing.T) {
	tp, err := InitTracer(context.Background(), Config{Enabled: false})
	assert.NoError(t, err)
	assert.Nil(t, tp)
}
