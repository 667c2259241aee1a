// Package logging provides a configured slog logger for the migrator.
package logging

import (
	"io"
	"log/slog"
	"os"
)

// Logger is the narrow logging surface passed to core components so they
// never depend on *slog.Logger directly.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
	With(args ...any) Logger
}

// Options configures the default slog logger used by the migrator.
type Options struct {
	// Verbose toggles debug level logging when true.
	Verbose bool
	// Writer directs log output; defaults to os.Stderr when nil.
	Writer io.Writer
}

// New constructs a slog.Logger with the migrator's defaults.
func New(opts Options) *slog.Logger {
	level := slog.LevelInfo
	if opts.Verbose {
		level = slog.LevelDebug
	}
	writer := opts.Writer
	if writer == nil {
		writer = os.Stderr
	}
	handler := slog.NewTextHandler(writer, &slog.HandlerOptions{Level: level})
	return slog.New(handler)
}

// SlogAdapter wraps *slog.Logger so it satisfies Logger.
type SlogAdapter struct {
	l *slog.Logger
}

// NewSlogAdapter adapts a *slog.Logger to the Logger interface.
func NewSlogAdapter(l *slog.Logger) *SlogAdapter {
	return &SlogAdapter{l: l}
}

func (a *SlogAdapter) Debug(msg string, args ...any) { a.l.Debug(msg, args...) }
func (a *SlogAdapter) Info(msg string, args ...any)  { a.l.Info(msg, args...) }
func (a *SlogAdapter) Warn(msg string, args ...any)  { a.l.Warn(msg, args...) }
func (a *SlogAdapter) Error(msg string, args ...any) { a.l.Error(msg, args...) }

// With returns a Logger that prepends args to every subsequent call.
func (a *SlogAdapter) With(args ...any) Logger {
	return &SlogAdapter{l: a.l.With(args...)}
}

// NopLogger is a Logger that drops everything; useful in tests.
type NopLogger struct{}

// NewNopLogger constructs a Logger that discards all output.
func NewNopLogger() *NopLogger { return &NopLogger{} }

func (*NopLogger) Debug(string, ...any) {}
func (*NopLogger) Info(string, ...any)  {}
func (*NopLogger) Warn(string, ...any)  {}
func (*NopLogger) Error(string, ...any) {}
func (n *NopLogger) With(...any) Logger { return n }
