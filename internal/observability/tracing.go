package observability

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/danmuck/edgemesh"

// PacketSpan describes the packet a span is opened for.
type PacketSpan struct {
	Role       string
	PacketID   string
	PacketType string
	SenderID   string
	Remote     string
}

// StartPacketSpan opens a span on the global tracer provider. Without a
// configured provider the span is a no-op.
func StartPacketSpan(ctx context.Context, name string, p PacketSpan) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, name,
		trace.WithSpanKind(trace.SpanKindServer),
		trace.WithAttributes(
			attribute.String("edgemesh.role", p.Role),
			attribute.String("packet.id", p.PacketID),
			attribute.String("packet.type", p.PacketType),
			attribute.String("packet.sender_id", p.SenderID),
			attribute.String("net.peer.addr", p.Remote),
		),
	)
}

// EndPacketSpan records the outcome and ends span.
func EndPacketSpan(span trace.Span, responseType string, err error) {
	span.SetAttributes(attribute.String("packet.response_type", responseType))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}
