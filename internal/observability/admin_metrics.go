package observability

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// AdminMetrics tracks access to the token-guarded admin endpoints.
type AdminMetrics struct {
	accessCounter       metric.Int64Counter
	unauthorizedCounter metric.Int64Counter
}

// InitAdminMetrics initializes admin endpoint metrics.
func InitAdminMetrics() (*AdminMetrics, error) {
	b := instrumentBuilder{meter: otel.Meter(meterName)}
	m := &AdminMetrics{
		accessCounter:       b.counter("admin.access.total", "Total number of admin endpoint access attempts"),
		unauthorizedCounter: b.counter("admin.unauthorized.total", "Total number of rejected admin endpoint requests"),
	}
	if b.err != nil {
		return nil, b.err
	}
	return m, nil
}

// RecordAccess records an admin endpoint access attempt.
func (m *AdminMetrics) RecordAccess(ctx context.Context, operation string, authorized bool) {
	m.accessCounter.Add(ctx, 1, metric.WithAttributes(
		attribute.String("operation", operation),
		attribute.Bool("authorized", authorized),
	))
}

// RecordUnauthorized records a rejected admin request.
func (m *AdminMetrics) RecordUnauthorized(ctx context.Context, operation, reason string) {
	m.unauthorizedCounter.Add(ctx, 1, metric.WithAttributes(
		attribute.String("operation", operation),
		attribute.String("reason", reason),
	))
}
