// Package logger provides structured logging functionality
package logger

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	slogmulti "github.com/samber/slog-multi"
)

// Logger wraps slog.Logger for application-wide logging
type Logger struct {
	*slog.Logger
	closer io.Closer
}

// Config holds logger configuration
type Config struct {
	Level  string // debug, info, warn, error
	Format string // text, json
	File   string // optional path; JSON lines are appended there as well
}

func parseLevel(s string) slog.Level {
	switch s {
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

// New creates a new structured logger writing to stdout.
func New(cfg Config) *Logger {
	return &Logger{Logger: slog.New(consoleHandler(os.Stdout, cfg))}
}

// NewWithFile is like New but fans records out to cfg.File as JSON when set.
func NewWithFile(cfg Config) (*Logger, error) {
	if cfg.File == "" {
		return New(cfg), nil
	}

	f, err := os.OpenFile(cfg.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open log file: %w", err)
	}

	fileHandler := slog.NewJSONHandler(f, &slog.HandlerOptions{Level: slog.LevelDebug})
	handler := slogmulti.Fanout(consoleHandler(os.Stdout, cfg), fileHandler)

	return &Logger{Logger: slog.New(handler), closer: f}, nil
}

func consoleHandler(w io.Writer, cfg Config) slog.Handler {
	opts := &slog.HandlerOptions{Level: parseLevel(cfg.Level)}
	if cfg.Format == "json" {
		return slog.NewJSONHandler(w, opts)
	}
	return slog.NewTextHandler(w, opts)
}

// Close releases the log file, if any.
func (l *Logger) Close() error {
	if l.closer == nil {
		return nil
	}
	return l.closer.Close()
}

// WithComponent returns a logger with a component attribute
func (l *Logger) WithComponent(component string) *Logger {
	return &Logger{Logger: l.With("component", component)}
}

// WithAttrs returns a logger carrying the given key/value pairs
func (l *Logger) WithAttrs(args ...any) *Logger {
	return &Logger{Logger: l.With(args...)}
}

// WithTask returns a logger with task context attributes
func (l *Logger) WithTask(taskID, kind string) *Logger {
	return &Logger{Logger: l.With("task_id", taskID, "kind", kind)}
}

// Discard returns a logger that drops everything, for tests.
func Discard() *Logger {
	return &Logger{Logger: slog.New(slog.NewTextHandler(io.Discard, nil))}
}

// Default returns a default logger for quick usage
func Default() *Logger {
	return New(Config{
		Level:  "info",
		Format: "text",
	})
}
