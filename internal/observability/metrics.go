package observability

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// GraphQLMetrics holds custom metrics for GraphQL operations.
type GraphQLMetrics struct {
	requestDuration metric.Float64Histogram
	requestCounter  metric.Int64Counter
	errorCounter    metric.Int64Counter
	activeRequests  metric.Int64UpDownCounter
	queryDepth      metric.Int64Histogram
	resultsCount    metric.Int64Histogram
}

// InitMetrics registers the GraphQL instrument set on the global meter
// provider and returns it.
func InitMetrics(logger *slog.Logger) (*GraphQLMetrics, error) {
	b := instrumentBuilder{meter: otel.Meter(meterName)}
	m := &GraphQLMetrics{
		requestDuration: b.durationHistogram("graphql.request.duration", "Duration of GraphQL requests in milliseconds"),
		requestCounter:  b.counter("graphql.requests.total", "Total number of GraphQL requests"),
		errorCounter:    b.counter("graphql.errors.total", "Total number of GraphQL errors"),
		activeRequests:  b.upDownCounter("graphql.requests.active", "Number of active GraphQL requests"),
		queryDepth:      b.intHistogram("graphql.query.depth", "Selection depth of GraphQL operations"),
		resultsCount:    b.intHistogram("graphql.results.count", "Number of results returned by GraphQL queries"),
	}
	if b.err != nil {
		return nil, fmt.Errorf("failed to initialize GraphQL metrics: %w", b.err)
	}

	logger.Info("GraphQL metrics registered")
	return m, nil
}

// opAttrs builds the measurement attributes every GraphQL instrument
// carries, the operation_type label plus any extras.
func opAttrs(operationType string, extra ...attribute.KeyValue) metric.MeasurementOption {
	attrs := append([]attribute.KeyValue{attribute.String("operation_type", operationType)}, extra...)
	return metric.WithAttributes(attrs...)
}

// RecordRequest records a GraphQL request with its duration and outcome.
// errorCode carries the engine error classification when the response
// contains errors, empty otherwise.
func (m *GraphQLMetrics) RecordRequest(ctx context.Context, duration time.Duration, operationType string, errorCode string) {
	outcome := opAttrs(operationType, attribute.Bool("has_errors", errorCode != ""))
	m.requestDuration.Record(ctx, float64(duration.Milliseconds()), outcome)
	m.requestCounter.Add(ctx, 1, outcome)

	if errorCode != "" {
		m.errorCounter.Add(ctx, 1, opAttrs(operationType, attribute.String("code", errorCode)))
	}
}

// RecordQueryDepth records the selection depth of a GraphQL operation.
func (m *GraphQLMetrics) RecordQueryDepth(ctx context.Context, depth int64, operationType string) {
	m.queryDepth.Record(ctx, depth, opAttrs(operationType))
}

// RecordResultsCount records the number of results returned.
func (m *GraphQLMetrics) RecordResultsCount(ctx context.Context, count int64, operationType string) {
	m.resultsCount.Record(ctx, count, opAttrs(operationType))
}

// IncrementActiveRequests increments the active requests counter.
func (m *GraphQLMetrics) IncrementActiveRequests(ctx context.Context) {
	m.activeRequests.Add(ctx, 1)
}

// DecrementActiveRequests decrements the active requests counter.
func (m *GraphQLMetrics) DecrementActiveRequests(ctx context.Context) {
	m.activeRequests.Add(ctx, -1)
}
