// Package middleware applies cross-cutting HTTP policies such as request
// logging, CORS, rate limiting and admin token authentication.
package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"tablegraph/internal/logging"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// RequestIDHeader carries the request correlation ID.
const RequestIDHeader = "X-Request-ID"

// ensureRequestID reuses the caller-supplied correlation ID or mints one,
// and echoes it on the response either way.
func ensureRequestID(w http.ResponseWriter, r *http.Request) string {
	requestID := r.Header.Get(RequestIDHeader)
	if requestID == "" {
		requestID = uuid.New().String()
	}
	w.Header().Set(RequestIDHeader, requestID)
	return requestID
}

func levelForStatus(status int) slog.Level {
	switch {
	case status >= 500:
		return slog.LevelError
	case status >= 400:
		return slog.LevelWarn
	default:
		return slog.LevelInfo
	}
}

// decorateContext threads the request logger through the context and tags
// any active span with the correlation ID.
func decorateContext(ctx context.Context, reqLog *logging.Logger, requestID string) context.Context {
	ctx = logging.WithLogger(ctx, reqLog)
	if span := trace.SpanFromContext(ctx); span.SpanContext().IsValid() {
		span.SetAttributes(attribute.String("http.request_id", requestID))
	}
	return ctx
}

// requestLog emits the start and completion lines with shared attributes.
type requestLog struct {
	logger *logging.Logger
	method string
	path   string
}

func (l requestLog) started(ctx context.Context, remoteAddr string) {
	l.logger.Log(ctx, slog.LevelInfo, "request started",
		slog.String("method", l.method),
		slog.String("path", l.path),
		slog.String("remote_addr", remoteAddr),
	)
}

func (l requestLog) completed(ctx context.Context, status int, duration time.Duration) {
	l.logger.Log(ctx, levelForStatus(status), "request completed",
		slog.String("method", l.method),
		slog.String("path", l.path),
		slog.Int("status", status),
		slog.Duration("duration", duration),
		slog.Int64("duration_ms", duration.Milliseconds()),
	)
}

// LoggingMiddleware attaches a request-scoped logger with a correlation ID
// to the context and logs request start and completion.
func LoggingMiddleware(logger *logging.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			requestID := ensureRequestID(w, r)
			reqLog := logger.WithRequestID(requestID).WithComponent("http")
			ctx := decorateContext(r.Context(), reqLog, requestID)

			line := requestLog{logger: reqLog, method: r.Method, path: r.URL.Path}
			line.started(ctx, r.RemoteAddr)

			wrapped := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(wrapped, r.WithContext(ctx))
			line.completed(ctx, wrapped.status, time.Since(start))
		})
	}
}

// statusRecorder captures the response status code for logging. Only the
// first WriteHeader wins, matching net/http semantics.
type statusRecorder struct {
	http.ResponseWriter
	status  int
	written bool
}

func (rw *statusRecorder) WriteHeader(status int) {
	if rw.written {
		return
	}
	rw.status = status
	rw.written = true
	rw.ResponseWriter.WriteHeader(status)
}

func (rw *statusRecorder) Write(b []byte) (int, error) {
	// Implicit 200 for handlers that write without setting a status.
	rw.WriteHeader(http.StatusOK)
	return rw.ResponseWriter.Write(b)
}
