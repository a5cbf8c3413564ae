package main

import (
	"cmp"
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"tablegraph/internal/config"
	"tablegraph/internal/logging"
	"tablegraph/internal/serverapp"

	// Loads a local .env file into the environment before config.Load reads
	// TGQL_ variables.
	_ "github.com/joho/godotenv/autoload"
	"github.com/spf13/pflag"
)

// Version and Commit are stamped at build time through -ldflags -X.
var (
	Version = "dev"
	Commit  = "none"
)

func main() {
	if err := run(); err != nil {
		slog.Error("server exited with error", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func versionString() string {
	return fmt.Sprintf("tablegraph %s (%s)", Version, Commit)
}

// reportConfigIssues logs every warning and error from validation and
// returns an error when the configuration cannot be served.
func reportConfigIssues(result *config.ValidationResult) error {
	for _, warn := range result.Warnings {
		slog.Warn("configuration warning",
			slog.String("field", warn.Field),
			slog.String("message", warn.Message),
			slog.String("hint", warn.Hint),
		)
	}
	if !result.HasErrors() {
		return nil
	}
	for _, issue := range result.Errors {
		slog.Error("configuration error",
			slog.String("field", issue.Field),
			slog.String("message", issue.Message),
			slog.String("hint", issue.Hint),
		)
	}
	return fmt.Errorf("configuration validation failed")
}

func run() error {
	pflag.Bool("version", false, "Print build version and exit")

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	if wantVersion, _ := pflag.CommandLine.GetBool("version"); wantVersion {
		fmt.Println(versionString())
		return nil
	}

	cfg.Observability.ServiceVersion = cmp.Or(cfg.Observability.ServiceVersion, Version)
	if err := reportConfigIssues(cfg.Validate()); err != nil {
		return err
	}

	app, logger, err := bootstrap(cfg)
	if err != nil {
		return err
	}
	return serve(app, logger, cfg)
}

// bootstrap brings up logging and an initialized App. On failure every
// resource acquired so far has already been released.
func bootstrap(cfg *config.Config) (*serverapp.App, *logging.Logger, error) {
	logger, logProvider, err := serverapp.InitLogger(cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize logging: %w", err)
	}

	app, err := serverapp.New(cfg, logger)
	if err != nil {
		if logProvider != nil {
			_ = logProvider.Shutdown(context.Background(), logger.Logger)
		}
		return nil, nil, err
	}
	app.AttachLoggerProvider(logProvider)

	if err := app.Init(context.Background()); err != nil {
		return nil, nil, err
	}
	return app, logger, nil
}

// serve runs the App until a signal or server failure stops it, then
// shuts it down within the configured timeout.
func serve(app *serverapp.App, logger *logging.Logger, cfg *config.Config) error {
	shutdown := func() error {
		ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		return app.Shutdown(ctx)
	}

	serverErrs, err := app.Start()
	if err != nil {
		_ = shutdown()
		return err
	}

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigs)

	_, waitErr := app.WaitForStop(sigs, serverErrs)

	logger.Info("shutting down server")
	if err := cmp.Or(waitErr, shutdown()); err != nil {
		return err
	}
	logger.Info("server stopped")
	return nil
}
