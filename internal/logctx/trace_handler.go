package logctx

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel/trace"
)

// attrExtractor pulls correlation attributes out of a context.
type attrExtractor func(ctx context.Context) []slog.Attr

// TraceHandler decorates every record with the correlation ids found in the
// record's context: trace_id and span_id of the active span and the run_id.
type TraceHandler struct {
	inner      slog.Handler
	extractors []attrExtractor
}

// NewTraceHandler wraps h. It panics on a nil handler.
func NewTraceHandler(h slog.Handler) *TraceHandler {
	if h == nil {
		panic("logctx: NewTraceHandler called with nil handler")
	}

	return &TraceHandler{
		inner:      h,
		extractors: []attrExtractor{spanAttrs, runAttrs},
	}
}

func (h *TraceHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.inner.Enabled(ctx, level)
}

func (h *TraceHandler) Handle(ctx context.Context, r slog.Record) error {
	for _, extract := range h.extractors {
		if attrs := extract(ctx); len(attrs) > 0 {
			r.AddAttrs(attrs...)
		}
	}

	return h.inner.Handle(ctx, r)
}

func (h *TraceHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return h.derive(h.inner.WithAttrs(attrs))
}

func (h *TraceHandler) WithGroup(name string) slog.Handler {
	return h.derive(h.inner.WithGroup(name))
}

func (h *TraceHandler) derive(inner slog.Handler) *TraceHandler {
	return &TraceHandler{inner: inner, extractors: h.extractors}
}

func spanAttrs(ctx context.Context) []slog.Attr {
	sc := trace.SpanContextFromContext(ctx)
	if !sc.IsValid() {
		return nil
	}

	return []slog.Attr{
		slog.String("trace_id", sc.TraceID().String()),
		slog.String("span_id", sc.SpanID().String()),
	}
}

func runAttrs(ctx context.Context) []slog.Attr {
	runID := RunIDFromContext(ctx)
	if runID == "" {
		return nil
	}

	return []slog.Attr{slog.String("run_id", runID)}
}
