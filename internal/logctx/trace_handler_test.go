package logctx

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace"
)

func newTestLogger(buf *bytes.Buffer, level slog.Level) *slog.Logger {
	return slog.New(NewTraceHandler(slog.NewJSONHandler(buf, &slog.HandlerOptions{Level: level})))
}

func decodeEntry(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry), "output: %s", buf.String())

	return entry
}

func spanContext(t *testing.T) context.Context {
	t.Helper()

	traceID, err := trace.TraceIDFromHex("4bf92f3577b34da6a3ce929d0e0e4736")
	require.NoError(t, err)

	spanID, err := trace.SpanIDFromHex("00f067aa0ba902b7")
	require.NoError(t, err)

	sc := trace.NewSpanContext(trace.SpanContextConfig{TraceID: traceID, SpanID: spanID})

	return trace.ContextWithSpanContext(context.Background(), sc)
}

func TestTraceHandler_InjectedFields(t *testing.T) {
	tests := []struct {
		name      string
		ctx       func(t *testing.T) context.Context
		wantTrace bool
		wantRunID string
	}{
		{
			name: "plain context",
			ctx:  func(*testing.T) context.Context { return context.Background() },
		},
		{
			name:      "valid span",
			ctx:       spanContext,
			wantTrace: true,
		},
		{
			name: "run id only",
			ctx: func(*testing.T) context.Context {
				return WithRunID(context.Background(), "host-1234")
			},
			wantRunID: "host-1234",
		},
		{
			name: "span and run id",
			ctx: func(t *testing.T) context.Context {
				return WithRunID(spanContext(t), "host-5678")
			},
			wantTrace: true,
			wantRunID: "host-5678",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer

			newTestLogger(&buf, slog.LevelInfo).InfoContext(tt.ctx(t), "test message", "key", "value")

			entry := decodeEntry(t, &buf)

			assert.Equal(t, "test message", entry["msg"])
			assert.Equal(t, "value", entry["key"])

			if tt.wantTrace {
				assert.Equal(t, "4bf92f3577b34da6a3ce929d0e0e4736", entry["trace_id"])
				assert.Equal(t, "00f067aa0ba902b7", entry["span_id"])
			} else {
				assert.NotContains(t, entry, "trace_id")
				assert.NotContains(t, entry, "span_id")
			}

			if tt.wantRunID != "" {
				assert.Equal(t, tt.wantRunID, entry["run_id"])
			} else {
				assert.NotContains(t, entry, "run_id")
			}
		})
	}
}

func TestTraceHandler_Enabled(t *testing.T) {
	h := NewTraceHandler(slog.NewJSONHandler(&bytes.Buffer{}, &slog.HandlerOptions{Level: slog.LevelWarn}))

	assert.False(t, h.Enabled(context.Background(), slog.LevelInfo))
	assert.True(t, h.Enabled(context.Background(), slog.LevelWarn))
	assert.True(t, h.Enabled(context.Background(), slog.LevelError))
}

func TestTraceHandler_WithAttrsAndGroup(t *testing.T) {
	var buf bytes.Buffer

	h := NewTraceHandler(slog.NewJSONHandler(&buf, nil))

	withAttrs := h.WithAttrs([]slog.Attr{slog.String("component", "downloader")})
	assert.IsType(t, &TraceHandler{}, withAttrs)

	withGroup := withAttrs.WithGroup("item")
	assert.IsType(t, &TraceHandler{}, withGroup)

	slog.New(withGroup).InfoContext(WithRunID(context.Background(), "r1"), "saved", "key", "a.jpg")

	entry := decodeEntry(t, &buf)
	assert.Equal(t, "downloader", entry["component"])
	assert.Equal(t, map[string]any{"key": "a.jpg", "run_id": "r1"}, entry["item"])
}

func TestTraceHandler_NilHandlerPanics(t *testing.T) {
	assert.Panics(t, func() { NewTraceHandler(nil) })
}

func TestLoggerFromContext(t *testing.T) {
	assert.Equal(t, slog.Default(), LoggerFromContext(context.Background()))

	var buf bytes.Buffer

	logger := newTestLogger(&buf, slog.LevelDebug)
	ctx := WithLogger(context.Background(), logger)

	assert.Same(t, logger, LoggerFromContext(ctx))
	assert.Empty(t, RunIDFromContext(ctx))
	assert.Equal(t, "abc", RunIDFromContext(WithRunID(ctx, "abc")))
}
