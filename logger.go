package main

import (
	"context"
	"io"
	"log/slog"
	"os"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

func setupLogger(format, level string) {
	slog.SetDefault(slog.New(newLogHandler(os.Stderr, format, level)))
}

// newLogHandler builds the handler used by every logger in the process.
// Unknown levels fall back to info, unknown formats to JSON.
func newLogHandler(w io.Writer, format, level string) slog.Handler {
	opts := &slog.HandlerOptions{
		Level:     parseLevel(level),
		AddSource: true,
	}

	var handler slog.Handler
	switch format {
	case "logfmt":
		handler = slog.NewTextHandler(w, opts)
	default:
		handler = slog.NewJSONHandler(w, opts)
	}

	return &traceLogHandler{handler}
}

func parseLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

type traceLogHandler struct {
	slog.Handler
}

var _ slog.Handler = (*traceLogHandler)(nil)

func (h *traceLogHandler) Handle(ctx context.Context, r slog.Record) error {
	span := trace.SpanFromContext(ctx)
	if span.IsRecording() {
		var attrs []attribute.KeyValue
		r.Attrs(func(a slog.Attr) bool {
			attrs = append(attrs, attribute.String(a.Key, a.Value.String()))
			return true
		})

		r.Add(slog.String("traceID", span.SpanContext().TraceID().String()))

		span.AddEvent(r.Message, trace.WithAttributes(attrs...))
	}

	if id := requestIDFromContext(ctx); id != "" {
		r.Add(slog.String("request_id", id))
	}

	return h.Handler.Handle(ctx, r)
}

func (h *traceLogHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &traceLogHandler{h.Handler.WithAttrs(attrs)}
}

func (h *traceLogHandler) Enabled(ctx context.Context, lvl slog.Level) bool {
	return h.Handler.Enabled(ctx, lvl)
}

func (h *traceLogHandler) WithGroup(name string) slog.Handler {
	return &traceLogHandler{h.Handler.WithGroup(name)}
}
