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

func decodeRecord(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))

	return entry
}

func TestTraceHandler_NoSpanNoJob(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(NewTraceHandler(slog.NewJSONHandler(&buf, nil)))

	logger.InfoContext(context.Background(), "plain", "key", "value")

	entry := decodeRecord(t, &buf)
	assert.NotContains(t, entry, "trace_id")
	assert.NotContains(t, entry, "span_id")
	assert.NotContains(t, entry, "chat_id")
	assert.Equal(t, "value", entry["key"])
}

func TestTraceHandler_WithValidSpan(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(NewTraceHandler(slog.NewJSONHandler(&buf, nil)))

	traceID, _ := trace.TraceIDFromHex("4bf92f3577b34da6a3ce929d0e0e4736")
	spanID, _ := trace.SpanIDFromHex("00f067aa0ba902b7")
	spanCtx := trace.NewSpanContext(trace.SpanContextConfig{TraceID: traceID, SpanID: spanID})
	ctx := trace.ContextWithSpanContext(context.Background(), spanCtx)

	logger.InfoContext(ctx, "traced")

	entry := decodeRecord(t, &buf)
	assert.Equal(t, "4bf92f3577b34da6a3ce929d0e0e4736", entry["trace_id"])
	assert.Equal(t, "00f067aa0ba902b7", entry["span_id"])
}

func TestTraceHandler_WithJob(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(NewTraceHandler(slog.NewJSONHandler(&buf, nil)))

	ctx := WithJob(context.Background(), 42, "job-1")
	logger.InfoContext(ctx, "job scoped")

	entry := decodeRecord(t, &buf)
	assert.EqualValues(t, 42, entry["chat_id"])
	assert.Equal(t, "job-1", entry["job_id"])
}

func TestTraceHandler_JobWithoutID(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(NewTraceHandler(slog.NewJSONHandler(&buf, nil)))

	logger.InfoContext(WithJob(context.Background(), 7, ""), "chat scoped")

	entry := decodeRecord(t, &buf)
	assert.EqualValues(t, 7, entry["chat_id"])
	assert.NotContains(t, entry, "job_id")
}

func TestTraceHandler_Enabled(t *testing.T) {
	h := NewTraceHandler(slog.NewJSONHandler(&bytes.Buffer{}, &slog.HandlerOptions{Level: slog.LevelWarn}))

	assert.False(t, h.Enabled(context.Background(), slog.LevelInfo))
	assert.True(t, h.Enabled(context.Background(), slog.LevelError))
}

func TestTraceHandler_WithAttrsAndGroup(t *testing.T) {
	var buf bytes.Buffer
	h := NewTraceHandler(slog.NewJSONHandler(&buf, nil))

	_, ok := h.WithAttrs([]slog.Attr{slog.String("component", "bot")}).(*TraceHandler)
	assert.True(t, ok)

	grouped := h.WithGroup("relay")
	_, ok = grouped.(*TraceHandler)
	require.True(t, ok)

	slog.New(grouped).Info("grouped", "stage", "download")
	assert.Contains(t, buf.String(), `"relay":{"stage":"download"}`)
}

func TestTraceHandler_NilHandler(t *testing.T) {
	assert.Panics(t, func() { NewTraceHandler(nil) })
}

func TestLoggerFromContext_Default(t *testing.T) {
	assert.Equal(t, slog.Default(), LoggerFromContext(context.Background()))

	custom := slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))
	assert.Equal(t, custom, LoggerFromContext(WithLogger(context.Background(), custom)))
}
