package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"tablegraph/internal/gqlrequest"
	"tablegraph/internal/logging"
	"tablegraph/internal/observability"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

const graphqlTracerName = "tablegraph/graphql"

// GraphQLTracingMiddleware wraps GraphQL execution in a span annotated with
// operation metadata from the request analysis. Requests without a query
// pass through untraced.
func GraphQLTracingMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			analysis := gqlrequest.AnalysisFromContext(r.Context())
			if analysis == nil || strings.TrimSpace(analysis.Envelope.Query) == "" {
				next.ServeHTTP(w, r)
				return
			}

			ctx, span := otel.Tracer(graphqlTracerName).Start(r.Context(), "graphql.execute")
			defer span.End()

			ctx = correlateLogger(ctx, span)
			if span.IsRecording() {
				meta, _ := gqlrequest.ExecMetaFromContext(ctx)
				span.SetAttributes(observability.GraphQLSpanAttributes(analysis, meta)...)
			}

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// correlateLogger threads trace and span IDs into the request logger so
// log lines written during execution carry them.
func correlateLogger(ctx context.Context, span trace.Span) context.Context {
	spanCtx := span.SpanContext()
	if !spanCtx.IsValid() {
		return ctx
	}
	reqLog := logging.FromContext(ctx).WithFields(
		slog.String("trace_id", spanCtx.TraceID().String()),
		slog.String("span_id", spanCtx.SpanID().String()),
	)
	return logging.WithLogger(ctx, reqLog)
}
