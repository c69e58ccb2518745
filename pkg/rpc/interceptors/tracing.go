package interceptors

import (
	"errors"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/zeusync/topicrpc/pkg/rpc"
	"github.com/zeusync/topicrpc/pkg/tracing"
)

// Addon keys under which the tracing interceptor publishes its state.
const (
	TracerKey = "tracing.tracer"
	SpanKey   = "tracing.span"
)

var errMissingStart = errors.New("after call without a matching before call")

// Tracing opens a span per call. Served requests continue the trace found in
// the request metadata and hand their span ids back in the reply metadata;
// issued requests carry the client span to the service.
type Tracing struct {
	tracer trace.Tracer
}

var _ rpc.Interceptor = (*Tracing)(nil)

func NewTracing(tp trace.TracerProvider) *Tracing {
	return &Tracing{tracer: tp.Tracer("github.com/zeusync/topicrpc/pkg/rpc")}
}

func (m *Tracing) Name() string {
	return "tracing"
}

func (m *Tracing) BeforeCall(ctx *rpc.Context) error {
	parent := ctx.Context()
	kind := trace.SpanKindClient
	if ctx.Side() == rpc.ServerSide {
		parent = tracing.Extract(parent, ctx.Request)
		kind = trace.SpanKindServer
	}

	spanCtx, span := m.tracer.Start(parent, ctx.Service(), trace.WithSpanKind(kind))
	if ctx.Side() == rpc.ClientSide {
		tracing.Inject(spanCtx, ctx.Request)
	}

	ctx.WithContext(spanCtx)
	ctx.Set(TracerKey, m.tracer)
	ctx.Set(SpanKey, span)
	return nil
}

func (m *Tracing) AfterCall(ctx *rpc.Context) error {
	v, ok := ctx.Get(SpanKey)
	if !ok {
		return errMissingStart
	}
	span := v.(trace.Span)

	if status := ctx.Status(); !status.OK() {
		span.SetAttributes(
			attribute.String("rpc.status_code", status.Code.String()),
			attribute.String("rpc.status_why", status.Why),
			attribute.String("rpc.reply_to", ctx.Request.ReplyTo()),
		)
		span.SetStatus(codes.Error, status.Code.String())
	}
	if ctx.Side() == rpc.ServerSide && ctx.Reply != nil {
		tracing.Inject(trace.ContextWithSpan(ctx.Context(), span), ctx.Reply)
	}
	span.End()
	return nil
}
