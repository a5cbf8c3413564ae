package serverapp

import (
	"context"
	"log/slog"

	"tablegraph/internal/logging"
)

// teardownStack collects release functions during Init and unwinds them
// in reverse acquisition order.
type teardownStack struct {
	steps []teardownStep
}

type teardownStep struct {
	name string
	fn   func(context.Context) error
}

func (t *teardownStack) add(name string, fn func(context.Context) error) {
	t.steps = append(t.steps, teardownStep{name: name, fn: fn})
}

func (t *teardownStack) unwind(ctx context.Context, logger *logging.Logger) {
	for i := len(t.steps) - 1; i >= 0; i-- {
		step := t.steps[i]
		if logger != nil {
			logger.Info("stopping " + step.name)
		}
		err := step.fn(ctx)
		if err != nil && logger != nil {
			logger.Warn("teardown error",
				slog.String("component", step.name),
				slog.String("error", err.Error()),
			)
		}
	}
}

// Shutdown releases everything Init acquired. Safe to call more than once;
// only the first call unwinds.
func (a *App) Shutdown(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	a.shutdownOnce.Do(func() {
		a.stateMu.Lock()
		td := a.teardown
		a.started = false
		a.stateMu.Unlock()

		td.unwind(ctx, a.logger)
	})

	return nil
}
