package tracing

import (
	"context"
	"encoding/hex"
	"strings"

	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	"github.com/zeusync/topicrpc/pkg/wire"
)

// B3 single-value-per-key headers carried in message metadata.
const (
	TraceIDKey      = "x-b3-traceid"
	SpanIDKey       = "x-b3-spanid"
	ParentSpanIDKey = "x-b3-parentspanid"
	SampledKey      = "x-b3-sampled"
	FlagsKey        = "x-b3-flags"
)

var emptyParentSpanID = strings.Repeat("0", 16)

// MetadataCarrier adapts message metadata to the otel carrier interface.
// Only string values are visible to Get.
type MetadataCarrier map[string]any

var _ propagation.TextMapCarrier = MetadataCarrier(nil)

// Carrier returns a carrier writing into msg's metadata, creating it when
// needed.
func Carrier(msg *wire.Message) MetadataCarrier {
	if msg.Metadata == nil {
		msg.Metadata = make(map[string]any)
	}
	return MetadataCarrier(msg.Metadata)
}

func (c MetadataCarrier) Get(key string) string {
	switch v := c[key].(type) {
	case string:
		return v
	case []byte:
		return string(v)
	default:
		return ""
	}
}

func (c MetadataCarrier) Set(key, value string) {
	c[key] = value
}

func (c MetadataCarrier) Keys() []string {
	keys := make([]string, 0, len(c))
	for k := range c {
		keys = append(keys, k)
	}
	return keys
}

// B3 propagates span contexts with the x-b3-* keys. Trace ids whose upper 64
// bits are zero are written in their 16 hex digit form.
type B3 struct{}

var _ propagation.TextMapPropagator = B3{}

func (B3) Inject(ctx context.Context, carrier propagation.TextMapCarrier) {
	sc := trace.SpanContextFromContext(ctx)
	if !sc.IsValid() {
		return
	}
	carrier.Set(TraceIDKey, formatTraceID(sc.TraceID()))
	carrier.Set(SpanIDKey, sc.SpanID().String())
	carrier.Set(SampledKey, "1")
	carrier.Set(ParentSpanIDKey, emptyParentSpanID)
	carrier.Set(FlagsKey, "0")
}

func (B3) Extract(ctx context.Context, carrier propagation.TextMapCarrier) context.Context {
	sc, ok := extract(carrier)
	if !ok {
		return ctx
	}
	return trace.ContextWithRemoteSpanContext(ctx, sc)
}

func (B3) Fields() []string {
	return []string{TraceIDKey, SpanIDKey, ParentSpanIDKey, SampledKey, FlagsKey}
}

// Extract returns ctx carrying the remote span context found in msg, if any.
func Extract(ctx context.Context, msg *wire.Message) context.Context {
	return B3{}.Extract(ctx, Carrier(msg))
}

// Inject writes the span context of ctx into msg.
func Inject(ctx context.Context, msg *wire.Message) {
	B3{}.Inject(ctx, Carrier(msg))
}

func extract(carrier propagation.TextMapCarrier) (trace.SpanContext, bool) {
	rawTrace, rawSpan := carrier.Get(TraceIDKey), carrier.Get(SpanIDKey)
	if rawTrace == "" || rawSpan == "" {
		return trace.SpanContext{}, false
	}
	traceID, ok := parseTraceID(rawTrace)
	if !ok {
		return trace.SpanContext{}, false
	}
	spanID, err := trace.SpanIDFromHex(strings.ToLower(rawSpan))
	if err != nil {
		return trace.SpanContext{}, false
	}

	var flags trace.TraceFlags
	if s := carrier.Get(SampledKey); s == "1" || s == "true" || carrier.Get(FlagsKey) == "1" {
		flags = trace.FlagsSampled
	}
	sc := trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    traceID,
		SpanID:     spanID,
		TraceFlags: flags,
		Remote:     true,
	})
	return sc, sc.IsValid()
}

func parseTraceID(s string) (trace.TraceID, bool) {
	s = strings.ToLower(s)
	switch len(s) {
	case 16:
		s = strings.Repeat("0", 16) + s
	case 32:
	default:
		return trace.TraceID{}, false
	}
	var id trace.TraceID
	if _, err := hex.Decode(id[:], []byte(s)); err != nil {
		return trace.TraceID{}, false
	}
	return id, id.IsValid()
}

func formatTraceID(id trace.TraceID) string {
	full := id.String()
	if strings.HasPrefix(full, emptyParentSpanID) {
		return full[16:]
	}
	return full
}
