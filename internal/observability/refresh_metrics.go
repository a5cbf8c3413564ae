package observability

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// RefreshMetrics holds custom metrics for schema rebuild behavior.
type RefreshMetrics struct {
	rebuildCounter  metric.Int64Counter
	errorCounter    metric.Int64Counter
	durationHist    metric.Float64Histogram
	lastSuccessUnix atomic.Int64
}

// InitRefreshMetrics initializes schema rebuild metrics.
func InitRefreshMetrics(logger *slog.Logger) (*RefreshMetrics, error) {
	meter := otel.Meter(meterName)
	b := instrumentBuilder{meter: meter}

	metrics := &RefreshMetrics{
		rebuildCounter: b.counter("schema.rebuild.total", "Total number of schema rebuild attempts"),
		errorCounter:   b.counter("schema.rebuild.errors.total", "Total number of failed schema rebuild attempts"),
		durationHist:   b.durationHistogram("schema.rebuild.duration", "Duration of schema rebuild attempts in milliseconds"),
	}
	lastSuccessGauge := b.unixGauge("schema.rebuild.last_success_unix", "Unix timestamp of the last successful schema rebuild")
	if b.err != nil {
		return nil, b.err
	}

	// Zero means no rebuild has succeeded yet; the gauge stays absent
	// rather than reporting the epoch.
	_, err := meter.RegisterCallback(
		func(ctx context.Context, observer metric.Observer) error {
			if value := metrics.lastSuccessUnix.Load(); value > 0 {
				observer.ObserveInt64(lastSuccessGauge, value)
			}
			return nil
		},
		lastSuccessGauge,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to register schema rebuild gauge callback: %w", err)
	}

	logger.Info("schema rebuild metrics initialized")
	return metrics, nil
}

// RecordRebuild records a schema rebuild attempt. trigger names what asked
// for the rebuild: "startup", "periodic", "periodic_no_change", or "admin".
func (m *RefreshMetrics) RecordRebuild(ctx context.Context, duration time.Duration, success bool, trigger string) {
	attempt := metric.WithAttributes(
		attribute.String("trigger", trigger),
		attribute.Bool("success", success),
	)
	m.rebuildCounter.Add(ctx, 1, attempt)
	m.durationHist.Record(ctx, float64(duration.Milliseconds()), attempt)

	if !success {
		m.errorCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("trigger", trigger)))
		return
	}
	m.lastSuccessUnix.Store(time.Now().Unix())
}
