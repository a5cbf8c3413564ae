package serverapp

import (
	"fmt"
	"log/slog"
	"os"
)

// Start launches the HTTP server goroutine. Init must have completed.
// Calling Start again returns the same error channel.
func (a *App) Start() (<-chan error, error) {
	a.stateMu.Lock()
	defer a.stateMu.Unlock()

	if !a.initialized {
		return nil, fmt.Errorf("app is not initialized")
	}
	if !a.started {
		a.serverErrors = startServer(a.cfg, a.logger, a.srv, a.serverAddr)
		a.started = true
	}
	return a.serverErrors, nil
}

func (a *App) currentServerErrors() <-chan error {
	a.stateMu.Lock()
	defer a.stateMu.Unlock()
	return a.serverErrors
}

// WaitForStop blocks until an OS signal arrives or the server fails, and
// reports which one it was ("signal" or "server_error").
func (a *App) WaitForStop(stop <-chan os.Signal, serverErrors <-chan error) (string, error) {
	if serverErrors == nil {
		serverErrors = a.currentServerErrors()
	}
	if stop == nil && serverErrors == nil {
		return "", fmt.Errorf("both stop and serverErrors channels are nil")
	}

	// A nil channel never fires in a select, so the single-channel cases
	// need no separate handling.
	select {
	case err := <-serverErrors:
		return "server_error", serverFailure(err)
	case sig := <-stop:
		a.logSignal(sig)
		return "signal", nil
	}
}

func (a *App) logSignal(sig os.Signal) {
	if a.logger != nil {
		a.logger.Info("received shutdown signal", slog.String("signal", sig.String()))
	}
}

func serverFailure(err error) error {
	if err == nil {
		return fmt.Errorf("server stopped unexpectedly")
	}
	return fmt.Errorf("server failed: %w", err)
}
