// Package logger provides a small structured logger on top of log/slog.
//
// Unlike a package-level global logger, every caller threads an explicit
// *Logger instance through its call chain (Processor, Lock Manager, Append
// Engine). This matches the "no global mutable state" design constraint:
// logging sinks are configured once per invocation and passed down rather
// than mutated through package globals, so that two cubes processed in the
// same binary never race on shared logger state.
package logger

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
)

// Config controls where and how a Logger writes.
type Config struct {
	// Level is one of DEBUG, INFO, WARN, ERROR (case-insensitive).
	Level string
	// Format is "text" or "json".
	Format string
	// Output is "stdout", "stderr", or a file path.
	Output string
}

// Logger wraps an *slog.Logger with level-gated convenience methods and a
// fluent With that returns a derived Logger carrying extra fields.
type Logger struct {
	slog *slog.Logger
	out  io.Closer
}

// New builds a Logger from Config. The returned Logger owns any file handle
// it opens for Output; call Close when the invocation ends.
func New(cfg Config) (*Logger, error) {
	level := parseLevel(cfg.Level)

	var w io.Writer
	var closer io.Closer
	switch strings.ToLower(cfg.Output) {
	case "", "stdout":
		w = os.Stdout
	case "stderr":
		w = os.Stderr
	default:
		f, err := os.OpenFile(cfg.Output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, fmt.Errorf("open log output %q: %w", cfg.Output, err)
		}
		w, closer = f, f
	}

	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	if strings.ToLower(cfg.Format) == "json" {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}

	return &Logger{slog: slog.New(handler), out: closer}, nil
}

// Nop returns a Logger that discards everything; useful as a safe default
// in tests and library entry points that don't configure logging.
func Nop() *Logger {
	return &Logger{slog: slog.New(slog.NewTextHandler(io.Discard, nil))}
}

// Close releases the underlying output file, if one was opened.
func (l *Logger) Close() error {
	if l.out != nil {
		return l.out.Close()
	}
	return nil
}

// With returns a derived Logger with additional structured fields bound to
// every subsequent record.
func (l *Logger) With(args ...any) *Logger {
	return &Logger{slog: l.slog.With(args...), out: l.out}
}

func (l *Logger) Debug(msg string, args ...any) { l.slog.Debug(msg, args...) }
func (l *Logger) Info(msg string, args ...any)  { l.slog.Info(msg, args...) }
func (l *Logger) Warn(msg string, args ...any)  { l.slog.Warn(msg, args...) }
func (l *Logger) Error(msg string, args ...any) { l.slog.Error(msg, args...) }

func parseLevel(level string) slog.Level {
	switch strings.ToUpper(level) {
	case "DEBUG":
		return slog.LevelDebug
	case "WARN":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
