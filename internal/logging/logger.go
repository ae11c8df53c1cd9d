// Package logging provides the structured logger used throughout the
// server, wrapping log/slog with request/connection/user enrichment
// pulled from context.
package logging

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/dukepan/multi-rooms-chat-back/internal/contextkey"
	"github.com/google/uuid"
)

// Logger provides structured logging enriched from context.
type Logger struct {
	slog *slog.Logger
}

// New creates a new structured logger at the given level (e.g. "debug",
// "info", "warn", "error"); unparseable levels default to info.
func New(logLevel string) *Logger {
	level := new(slog.Level)
	if err := level.UnmarshalText([]byte(logLevel)); err != nil {
		*level = slog.LevelInfo
	}

	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		AddSource: true,
		Level:     level,
	})

	return &Logger{slog: slog.New(handler)}
}

// WithContext creates a child logger carrying request/connection/user IDs
// found in ctx.
func (l *Logger) WithContext(ctx context.Context) *slog.Logger {
	logger := l.slog

	if reqID, ok := ctx.Value(contextkey.ContextKeyRequestID).(uuid.UUID); ok {
		logger = logger.With(slog.String("request_id", reqID.String()))
	}
	if connID, ok := ctx.Value(contextkey.ContextKeyConnectionID).(string); ok {
		logger = logger.With(slog.String("connection_id", connID))
	}
	if userID, ok := ctx.Value(contextkey.ContextKeyUserID).(uuid.UUID); ok {
		logger = logger.With(slog.String("user_id", userID.String()))
	}

	return logger
}

func (l *Logger) Info(ctx context.Context, msg string, args ...interface{}) {
	l.WithContext(ctx).Info(fmt.Sprintf(msg, args...))
}

func (l *Logger) Error(ctx context.Context, msg string, args ...interface{}) {
	l.WithContext(ctx).Error(fmt.Sprintf(msg, args...))
}

func (l *Logger) Debug(ctx context.Context, msg string, args ...interface{}) {
	l.WithContext(ctx).Debug(fmt.Sprintf(msg, args...))
}

// Fatal logs at error level and exits. Reserved for unrecoverable startup
// failures.
func (l *Logger) Fatal(ctx context.Context, msg string, args ...interface{}) {
	l.WithContext(ctx).Error(fmt.Sprintf(msg, args...))
	os.Exit(1)
}
