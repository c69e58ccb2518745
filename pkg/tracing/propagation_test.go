package tracing

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace"

	"github.com/zeusync/topicrpc/pkg/wire"
)

func TestInjectWritesB3Keys(t *testing.T) {
	tp := NewTracerProvider("test")
	defer func() { _ = tp.Shutdown(context.Background()) }()

	ctx, span := tp.Tracer("test").Start(context.Background(), "op")
	defer span.End()

	msg := wire.NewMessage()
	Inject(ctx, msg)

	sc := span.SpanContext()
	traceID, ok := msg.MetadataString(TraceIDKey)
	require.True(t, ok)
	assert.Len(t, traceID, 16, "64-bit trace ids use the short form")
	assert.Equal(t, sc.TraceID().String()[16:], traceID)
	assert.Equal(t, sc.SpanID().String(), msg.Metadata[SpanIDKey])
	assert.Equal(t, "1", msg.Metadata[SampledKey])
	assert.Equal(t, "0000000000000000", msg.Metadata[ParentSpanIDKey])
	assert.Equal(t, "0", msg.Metadata[FlagsKey])
}

func TestExtractRoundTrip(t *testing.T) {
	msg := wire.NewMessage()
	msg.SetMetadata(TraceIDKey, "00000000000000AB")
	msg.SetMetadata(SpanIDKey, "00000000000000cd")
	msg.SetMetadata(SampledKey, "1")

	sc := trace.SpanContextFromContext(Extract(context.Background(), msg))
	require.True(t, sc.IsValid())
	assert.True(t, sc.IsRemote())
	assert.True(t, sc.IsSampled())
	assert.Equal(t, "000000000000000000000000000000ab", sc.TraceID().String())
	assert.Equal(t, "00000000000000cd", sc.SpanID().String())

	out := wire.NewMessage()
	Inject(trace.ContextWithSpanContext(context.Background(), sc), out)
	assert.Equal(t, "00000000000000ab", out.Metadata[TraceIDKey])
}

func TestExtractIgnoresIncompleteHeaders(t *testing.T) {
	msg := wire.NewMessage()
	msg.SetMetadata(TraceIDKey, "00000000000000ab")
	ctx := Extract(context.Background(), msg)
	assert.False(t, trace.SpanContextFromContext(ctx).IsValid())

	msg.SetMetadata(SpanIDKey, "not-hex")
	ctx = Extract(context.Background(), msg)
	assert.False(t, trace.SpanContextFromContext(ctx).IsValid())
}

func TestExtractLongTraceID(t *testing.T) {
	carrier := MetadataCarrier{
		TraceIDKey: "4bf92f3577b34da6a3ce929d0e0e4736",
		SpanIDKey:  "00f067aa0ba902b7",
	}
	sc := trace.SpanContextFromContext(B3{}.Extract(context.Background(), carrier))
	require.True(t, sc.IsValid())
	assert.False(t, sc.IsSampled())

	out := MetadataCarrier{}
	B3{}.Inject(trace.ContextWithSpanContext(context.Background(), sc), out)
	assert.Equal(t, "4bf92f3577b34da6a3ce929d0e0e4736", out[TraceIDKey])
}

func TestIDGenerator(t *testing.T) {
	tid, sid := IDGenerator{}.NewIDs(context.Background())
	assert.True(t, tid.IsValid())
	assert.True(t, sid.IsValid())
	assert.Equal(t, [8]byte{}, [8]byte(tid[:8]))
}
