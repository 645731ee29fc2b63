package observe

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/MrWong99/medlingo"

// Span attribute keys set by MedLingo spans.
const (
	AttrSourceLanguage = attribute.Key("medlingo.language.source")
	AttrTargetLanguage = attribute.Key("medlingo.language.target")
	AttrTextLength     = attribute.Key("medlingo.text.length")
	AttrRoom           = attribute.Key("medlingo.room")
)

// SpanTranslate names the span around one upstream translation call.
const SpanTranslate = "gateway.translate"

func tracer() trace.Tracer {
	return otel.Tracer(tracerName)
}

// StartTranslateSpan starts the span of an upstream translation from source
// to target. Only the length of the text is recorded; clinical content never
// leaves the process through traces.
func StartTranslateSpan(ctx context.Context, source, target string, textLen int) (context.Context, trace.Span) {
	return tracer().Start(ctx, SpanTranslate,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			AttrSourceLanguage.String(source),
			AttrTargetLanguage.String(target),
			AttrTextLength.Int(textLen),
		),
	)
}

// StartRoomSpan starts the span of a room store operation, named "room."+op.
func StartRoomSpan(ctx context.Context, op, code string) (context.Context, trace.Span) {
	return tracer().Start(ctx, "room."+op, trace.WithAttributes(AttrRoom.String(code)))
}

// EndSpan marks span failed when err is non-nil and ends it.
func EndSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

// CorrelationID returns the trace ID of the span in ctx, or "" without one.
func CorrelationID(ctx context.Context) string {
	sc := trace.SpanContextFromContext(ctx)
	if sc.HasTraceID() {
		return sc.TraceID().String()
	}
	return ""
}

// Logger returns the default logger with trace_id and span_id from the span
// in ctx. Without an active span it is [slog.Default] unchanged.
func Logger(ctx context.Context) *slog.Logger {
	l := slog.Default()
	sc := trace.SpanContextFromContext(ctx)
	if sc.HasTraceID() {
		l = l.With(
			slog.String("trace_id", sc.TraceID().String()),
			slog.String("span_id", sc.SpanID().String()),
		)
	}
	return l
}
