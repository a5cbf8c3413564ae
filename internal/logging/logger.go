// Package logging wires slog with request-scoped context carry and an
// optional OTLP export fanout.
package logging

import (
	"context"
	"log/slog"
	"os"
	"slices"

	"go.opentelemetry.io/contrib/bridges/otelslog"
	"go.opentelemetry.io/otel/sdk/log"
)

// loggerKey is the context key for the request-scoped logger.
type loggerKey struct{}

// Logger wraps slog.Logger with convenience methods.
type Logger struct {
	*slog.Logger
}

// Config holds logging configuration.
type Config struct {
	Level  string // debug, info, warn, error
	Format string // json, text
	// LoggerProvider, when set, exports records over OTLP in addition to
	// writing them to stdout.
	LoggerProvider *log.LoggerProvider
}

// New creates a structured logger. Records always go to stdout; when an
// OTLP logger provider is configured they are additionally exported through
// the otelslog bridge.
func New(cfg Config) *Logger {
	handler := stdoutHandler(cfg)
	if cfg.LoggerProvider != nil {
		otlp := otelslog.NewHandler("tablegraph", otelslog.WithLoggerProvider(cfg.LoggerProvider))
		handler = newFanoutHandler(handler, otlp)
	}
	return &Logger{Logger: slog.New(handler)}
}

// stdoutHandler builds the text or JSON stdout handler at the configured
// level. Source locations are only worth the overhead at error level.
func stdoutHandler(cfg Config) slog.Handler {
	level := parseLevel(cfg.Level)
	opts := &slog.HandlerOptions{Level: level, AddSource: level >= slog.LevelError}
	if cfg.Format == "text" {
		return slog.NewTextHandler(os.Stdout, opts)
	}
	return slog.NewJSONHandler(os.Stdout, opts)
}

var levelNames = map[string]slog.Level{
	"debug": slog.LevelDebug,
	"info":  slog.LevelInfo,
	"warn":  slog.LevelWarn,
	"error": slog.LevelError,
}

// parseLevel maps a level name to its slog level, defaulting to info for
// anything unrecognized.
func parseLevel(level string) slog.Level {
	if parsed, ok := levelNames[level]; ok {
		return parsed
	}
	return slog.LevelInfo
}

// fanoutHandler duplicates records across multiple slog handlers.
type fanoutHandler struct {
	handlers []slog.Handler
}

func newFanoutHandler(handlers ...slog.Handler) *fanoutHandler {
	return &fanoutHandler{handlers: handlers}
}

func (f *fanoutHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return slices.ContainsFunc(f.handlers, func(h slog.Handler) bool {
		return h.Enabled(ctx, level)
	})
}

func (f *fanoutHandler) Handle(ctx context.Context, record slog.Record) error {
	for _, h := range f.handlers {
		if !h.Enabled(ctx, record.Level) {
			continue
		}
		if err := h.Handle(ctx, record.Clone()); err != nil {
			return err
		}
	}
	return nil
}

func (f *fanoutHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return f.fanout(func(h slog.Handler) slog.Handler { return h.WithAttrs(attrs) })
}

func (f *fanoutHandler) WithGroup(name string) slog.Handler {
	return f.fanout(func(h slog.Handler) slog.Handler { return h.WithGroup(name) })
}

func (f *fanoutHandler) fanout(transform func(slog.Handler) slog.Handler) slog.Handler {
	handlers := make([]slog.Handler, len(f.handlers))
	for i, h := range f.handlers {
		handlers[i] = transform(h)
	}
	return &fanoutHandler{handlers: handlers}
}

// WithRequestID returns a new logger with the request ID field attached.
func (l *Logger) WithRequestID(requestID string) *Logger {
	return &Logger{Logger: l.With(slog.String("request_id", requestID))}
}

// WithComponent returns a new logger tagged with a subsystem name, e.g.
// "engine" or "reload".
func (l *Logger) WithComponent(name string) *Logger {
	return &Logger{Logger: l.With(slog.String("component", name))}
}

// WithFields returns a new logger with additional fields.
func (l *Logger) WithFields(fields ...any) *Logger {
	return &Logger{Logger: l.With(fields...)}
}

// FromContext retrieves the logger from context, or returns a default logger.
func FromContext(ctx context.Context) *Logger {
	if logger, ok := ctx.Value(loggerKey{}).(*Logger); ok {
		return logger
	}
	return &Logger{Logger: slog.Default()}
}

// WithLogger adds a logger to the context.
func WithLogger(ctx context.Context, logger *Logger) context.Context {
	return context.WithValue(ctx, loggerKey{}, logger)
}
