// Package logging provides structured logging configuration using log/slog.
//
// Every log entry written through FromContext carries the identifiers that
// are present in the context: run_id for one recorder process, cycle for one
// sampling cycle and request_id for status server requests (chi RequestID).
package logging

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
)

type ctxKey int

const (
	runIDKey ctxKey = iota
	cycleKey
)

// Setup configures the global slog logger based on level and format.
//
// Level values: "debug", "info", "warn", "error" (default: "info")
// Format values: "text", "json" (default: "text")
func Setup(level, format string) {
	SetupWriter(os.Stderr, level, format)
}

// SetupWriter is Setup with an explicit destination. Logs go to stderr by
// default so the CLI can print results on stdout.
func SetupWriter(w io.Writer, level, format string) {
	opts := &slog.HandlerOptions{
		Level: parseLevel(level),
	}

	var handler slog.Handler
	if strings.ToLower(format) == "json" {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}

	slog.SetDefault(slog.New(handler))
}

// parseLevel converts a string log level to slog.Level.
func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// WithRunID returns a context tagged with a fresh run id.
func WithRunID(ctx context.Context) context.Context {
	return context.WithValue(ctx, runIDKey, uuid.NewString())
}

// RunID returns the run id stored in ctx, or "".
func RunID(ctx context.Context) string {
	id, _ := ctx.Value(runIDKey).(string)
	return id
}

// WithCycle returns a context tagged with a sampling cycle sequence number.
func WithCycle(ctx context.Context, seq uint64) context.Context {
	return context.WithValue(ctx, cycleKey, seq)
}

// FromContext returns a logger enriched with the run, cycle and request
// identifiers found in ctx.
//
// Usage:
//
//	logger := logging.FromContext(ctx)
//	logger.Info("fetch succeeded", "keys", m.Len())
func FromContext(ctx context.Context) *slog.Logger {
	logger := slog.Default()

	if id := RunID(ctx); id != "" {
		logger = logger.With("run_id", id)
	}
	if seq, ok := ctx.Value(cycleKey).(uint64); ok {
		logger = logger.With("cycle", seq)
	}
	if reqID := middleware.GetReqID(ctx); reqID != "" {
		logger = logger.With("request_id", reqID)
	}

	return logger
}

// WithFields returns a logger with additional structured fields.
//
// Usage:
//
//	srcLogger := logging.WithFields(ctx, "source", "archive", "stream", stream)
//	srcLogger.Info("fetch started")
func WithFields(ctx context.Context, args ...any) *slog.Logger {
	return FromContext(ctx).With(args...)
}
