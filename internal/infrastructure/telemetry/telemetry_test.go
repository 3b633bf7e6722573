package telemetry

import (
	"context"
	"testing"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

func TestInitTracer_NoEndpointIsNoop(t *testing.T) {
	shutdown, err := InitTracer(context.Background(), "addrscan", "  ")
	require.NoError(t, err)
	require.NoError(t, shutdown(context.Background()))

	_, span := otel.Tracer("test").Start(context.Background(), "noop")
	defer span.End()
	assert.False(t, span.SpanContext().IsValid())
}

func TestKafkaHeaders_RoundTrip(t *testing.T) {
	_, err := InitTracer(context.Background(), "addrscan", "")
	require.NoError(t, err)

	traceID, err := trace.TraceIDFromHex("4bf92f3577b34da6a3ce929d0e0e4736")
	require.NoError(t, err)
	spanID, err := trace.SpanIDFromHex("00f067aa0ba902b7")
	require.NoError(t, err)
	ctx := trace.ContextWithSpanContext(context.Background(), trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    traceID,
		SpanID:     spanID,
		TraceFlags: trace.FlagsSampled,
	}))

	base := []kafka.Header{{Key: "Traceparent", Value: []byte("stale")}, {Key: "source", Value: []byte("addrscan")}}
	headers := TraceHeaders(ctx, base...)
	require.Len(t, headers, 2)
	assert.Equal(t, "stale", string(base[0].Value))
	assert.Equal(t, "addrscan", headerCarrier(headers).Get("SOURCE"))

	extracted := trace.SpanContextFromContext(ContextFromHeaders(context.Background(), headers))
	assert.Equal(t, traceID, extracted.TraceID())
	assert.Equal(t, spanID, extracted.SpanID())
	assert.True(t, extracted.IsRemote())
}
