// Package logger provides the narrow structured-logging interface used
// across the pipeline, backed by the standard library's log/slog.
package logger

import (
	"context"
	"log/slog"
	"os"
)

// Interface is the logging surface every component depends on. Every
// call takes a context so trace/span ids can be attached later without
// changing call sites, and a variadic key-value tail matching slog's
// convention.
type Interface interface {
	Debug(ctx context.Context, msg string, kv ...any)
	Info(ctx context.Context, msg string, kv ...any)
	Warn(ctx context.Context, msg string, kv ...any)
	Error(ctx context.Context, msg string, kv ...any)
}

// Slog adapts a *slog.Logger to Interface.
type Slog struct {
	l *slog.Logger
}

// New builds a Slog logger writing leveled JSON to stderr.
func New(level slog.Level) *Slog {
	h := slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	return &Slog{l: slog.New(h)}
}

// NewWithHandler wraps an arbitrary slog.Handler, for tests that want to
// capture output.
func NewWithHandler(h slog.Handler) *Slog {
	return &Slog{l: slog.New(h)}
}

func (s *Slog) Debug(ctx context.Context, msg string, kv ...any) {
	s.l.DebugContext(ctx, msg, kv...)
}

func (s *Slog) Info(ctx context.Context, msg string, kv ...any) {
	s.l.InfoContext(ctx, msg, kv...)
}

func (s *Slog) Warn(ctx context.Context, msg string, kv ...any) {
	s.l.WarnContext(ctx, msg, kv...)
}

func (s *Slog) Error(ctx context.Context, msg string, kv ...any) {
	s.l.ErrorContext(ctx, msg, kv...)
}

// Nop discards everything; used where a component accepts an optional
// logger and none was configured.
type Nop struct{}

func (Nop) Debug(context.Context, string, ...any) {}
func (Nop) Info(context.Context, string, ...any)  {}
func (Nop) Warn(context.Context, string, ...any)  {}
func (Nop) Error(context.Context, string, ...any) {}
