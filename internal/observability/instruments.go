package observability

import (
	"fmt"

	"go.opentelemetry.io/otel/metric"
)

// instrumentBuilder creates instruments against one meter and keeps the
// first creation failure, so init code can stay declarative.
type instrumentBuilder struct {
	meter metric.Meter
	err   error
}

func (b *instrumentBuilder) keep(name string, err error) {
	if err != nil && b.err == nil {
		b.err = fmt.Errorf("failed to create instrument %s: %w", name, err)
	}
}

func (b *instrumentBuilder) counter(name, desc string) metric.Int64Counter {
	c, err := b.meter.Int64Counter(name, metric.WithDescription(desc))
	b.keep(name, err)
	return c
}

func (b *instrumentBuilder) upDownCounter(name, desc string) metric.Int64UpDownCounter {
	c, err := b.meter.Int64UpDownCounter(name, metric.WithDescription(desc))
	b.keep(name, err)
	return c
}

func (b *instrumentBuilder) intHistogram(name, desc string) metric.Int64Histogram {
	h, err := b.meter.Int64Histogram(name, metric.WithDescription(desc))
	b.keep(name, err)
	return h
}

// durationHistogram records float64 milliseconds.
func (b *instrumentBuilder) durationHistogram(name, desc string) metric.Float64Histogram {
	h, err := b.meter.Float64Histogram(name, metric.WithDescription(desc), metric.WithUnit("ms"))
	b.keep(name, err)
	return h
}

func (b *instrumentBuilder) unixGauge(name, desc string) metric.Int64ObservableGauge {
	g, err := b.meter.Int64ObservableGauge(name, metric.WithDescription(desc), metric.WithUnit("s"))
	b.keep(name, err)
	return g
}
