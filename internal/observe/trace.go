package observe

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/MrWong99/callpilot"

// Tracer returns the callpilot tracer from the global provider.
func Tracer() trace.Tracer {
	return otel.Tracer(tracerName)
}

// StartSpan starts a new span. The caller must call span.End.
func StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return Tracer().Start(ctx, name, opts...)
}

// CorrelationID returns the trace ID of the active span in ctx, or "".
func CorrelationID(ctx context.Context) string {
	sc := trace.SpanContextFromContext(ctx)
	if sc.HasTraceID() {
		return sc.TraceID().String()
	}
	return ""
}

type callKey struct{}

// callInfo identifies the call (and stream session) a context belongs to.
type callInfo struct {
	callID    string
	sessionID string
}

// WithCall returns a context tagged with the call and session IDs so that
// [Logger] includes them on every line.
func WithCall(ctx context.Context, callID, sessionID string) context.Context {
	return context.WithValue(ctx, callKey{}, callInfo{callID: callID, sessionID: sessionID})
}

// CallID returns the call ID stored by [WithCall], or "".
func CallID(ctx context.Context) string {
	ci, _ := ctx.Value(callKey{}).(callInfo)
	return ci.callID
}

// Logger returns the default logger enriched with trace_id/span_id from the
// active span and call_id/session_id from [WithCall], when present.
func Logger(ctx context.Context) *slog.Logger {
	l := slog.Default()
	sc := trace.SpanContextFromContext(ctx)
	if sc.HasTraceID() {
		l = l.With(
			slog.String("trace_id", sc.TraceID().String()),
			slog.String("span_id", sc.SpanID().String()),
		)
	}
	if ci, ok := ctx.Value(callKey{}).(callInfo); ok {
		if ci.callID != "" {
			l = l.With(slog.String("call_id", ci.callID))
		}
		if ci.sessionID != "" {
			l = l.With(slog.String("session_id", ci.sessionID))
		}
	}
	return l
}
