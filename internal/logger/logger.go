// Package logger provides structured logging using log/slog.
// It sets up a JSON handler with service-level context and carries a tick ID
// through context.Context so every log line from one tick can be correlated.
package logger

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
)

type ctxKey string

const tickIDKey ctxKey = "tick"

// Init creates a JSON logger on stdout for the given service and installs it
// as the slog default.
func Init(service string, level slog.Level) *slog.Logger {
	return InitWriter(os.Stdout, service, level)
}

// InitWriter is Init with an explicit destination.
func InitWriter(w io.Writer, service string, level slog.Level) *slog.Logger {
	handler := slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: level,
	})

	logger := slog.New(handler).With(
		slog.String("service", service),
	)

	slog.SetDefault(logger)

	return logger
}

// ParseLevel maps LOG_LEVEL values onto slog levels. Unknown values yield Info.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
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

// WithTickID stores the tick sequence number in the context.
func WithTickID(ctx context.Context, tick uint64) context.Context {
	return context.WithValue(ctx, tickIDKey, tick)
}

// TickID extracts the tick sequence number. The bool is false if none is set.
func TickID(ctx context.Context) (uint64, bool) {
	v, ok := ctx.Value(tickIDKey).(uint64)
	return v, ok
}

// LogWithTick returns slog attributes including the tick ID from context.
// Usage: slog.Info("msg", logger.LogWithTick(ctx)...)
func LogWithTick(ctx context.Context) []any {
	tid, ok := TickID(ctx)
	if !ok {
		return nil
	}
	return []any{slog.Uint64("tick", tid)}
}
