package logging

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"

	"github.com/m-mizutani/clog"
	"github.com/m-mizutani/goerr/v2"
)

var (
	ErrInvalidLevel  = goerr.New("invalid log level")
	ErrInvalidFormat = goerr.New("invalid log format")
)

// Format selects the log handler. Console is colored text for terminals,
// JSON suits the HTTP server running behind a log collector.
type Format string

const (
	FormatConsole Format = "console"
	FormatJSON    Format = "json"
)

type contextKey struct{}

var (
	loggerKey       = contextKey{}
	defaultLogger   *slog.Logger
	defaultLoggerMu sync.RWMutex
)

func init() {
	// stdout carries answers and the MCP stdio stream
	defaultLogger = slog.New(newHandler(os.Stderr, slog.LevelInfo, FormatConsole))
}

// ParseLevel converts a level name (case-insensitive) to slog.Level
func ParseLevel(level string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return slog.LevelInfo, goerr.Wrap(ErrInvalidLevel, "unknown level", goerr.V("level", level))
}

// ParseFormat validates a log format name
func ParseFormat(format string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(format))); f {
	case "", FormatConsole:
		return FormatConsole, nil
	case FormatJSON:
		return FormatJSON, nil
	}
	return FormatConsole, goerr.Wrap(ErrInvalidFormat, "unknown format", goerr.V("format", format))
}

type config struct {
	level  slog.Level
	format Format
}

type Option func(*config)

func WithLevel(level slog.Level) Option {
	return func(c *config) { c.level = level }
}

func WithFormat(format Format) Option {
	return func(c *config) { c.format = format }
}

// New creates a logger writing to w. A nil writer means stderr.
func New(w io.Writer, opts ...Option) *slog.Logger {
	if w == nil {
		w = os.Stderr
	}
	cfg := config{level: slog.LevelInfo, format: FormatConsole}
	for _, opt := range opts {
		opt(&cfg)
	}
	return slog.New(newHandler(w, cfg.level, cfg.format))
}

func newHandler(w io.Writer, level slog.Level, format Format) slog.Handler {
	if format == FormatJSON {
		return slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level})
	}
	return clog.New(
		clog.WithWriter(w),
		clog.WithLevel(level),
		clog.WithTimeFmt("15:04:05"),
		clog.WithSource(false),
		clog.WithAttrHook(clog.GoerrHook),
	)
}

// Default returns the default logger
func Default() *slog.Logger {
	defaultLoggerMu.RLock()
	defer defaultLoggerMu.RUnlock()
	return defaultLogger
}

// SetDefault sets the default logger
func SetDefault(logger *slog.Logger) {
	defaultLoggerMu.Lock()
	defer defaultLoggerMu.Unlock()
	defaultLogger = logger
}

// With returns a new context with the logger attached
func With(ctx context.Context, logger *slog.Logger) context.Context {
	return context.WithValue(ctx, loggerKey, logger)
}

// WithSession tags every later log line of ctx with the chat session ID
func WithSession(ctx context.Context, sessionID string) context.Context {
	return With(ctx, From(ctx).With("session_id", sessionID))
}

// From retrieves the logger from the context, falling back to the default logger
func From(ctx context.Context) *slog.Logger {
	if logger, ok := ctx.Value(loggerKey).(*slog.Logger); ok {
		return logger
	}
	return Default()
}
