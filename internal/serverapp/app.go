package serverapp

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"

	"tablegraph/internal/config"
	"tablegraph/internal/logging"
	"tablegraph/internal/observability"
	"tablegraph/internal/reload"
	"tablegraph/internal/tlscert"
	"tablegraph/sqlctx"
)

// databaseIdentity is everything New derives from the database section up
// front, so Init can log and connect without re-deriving it.
type databaseIdentity struct {
	dialect             sqlctx.Dialect
	introspectionSchema string
	effectiveDatabase   string
	databaseSource      string
	dsnPresent          bool
}

// telemetrySet groups the OpenTelemetry providers and instrument bundles
// Init brings up.
type telemetrySet struct {
	meterProvider  *observability.MeterProvider
	tracerProvider *observability.TracerProvider
	loggerProvider *observability.LoggerProvider

	graphqlMetrics *observability.GraphQLMetrics
	refreshMetrics *observability.RefreshMetrics
	adminMetrics   *observability.AdminMetrics
}

// httpStack is the assembled HTTP serving surface, filled in by Init.
type httpStack struct {
	graphqlHandler http.Handler
	adminHandler   http.Handler
	mux            *http.ServeMux
	handler        http.Handler

	serverAddr string
	srv        *http.Server
	tlsManager tlscert.Manager
}

// App owns runtime resources for the tablegraph server lifecycle.
type App struct {
	cfg    *config.Config
	logger *logging.Logger

	databaseIdentity
	telemetrySet
	httpStack

	db         *sql.DB
	dbStatsReg interface{ Unregister() error }

	manager      *reload.Manager
	reloadCancel context.CancelFunc

	teardown teardownStack

	stateMu      sync.Mutex
	initialized  bool
	started      bool
	serverErrors chan error

	shutdownOnce sync.Once
}

// New builds the server lifecycle, resolving the database identity up
// front so dialect and DSN problems surface before Init opens anything.
func New(cfg *config.Config, logger *logging.Logger) (*App, error) {
	switch {
	case cfg == nil:
		return nil, errors.New("config is required")
	case logger == nil:
		return nil, errors.New("logger is required")
	}

	identity, err := resolveDatabaseIdentity(cfg.Database)
	if err != nil {
		return nil, err
	}
	return &App{cfg: cfg, logger: logger, databaseIdentity: identity}, nil
}

func resolveDatabaseIdentity(dbCfg config.DatabaseConfig) (databaseIdentity, error) {
	dialect, err := resolveDialect(dbCfg.NormalizedDialect())
	if err != nil {
		return databaseIdentity{}, err
	}

	schema, err := dbCfg.IntrospectionSchema()
	if err != nil {
		return databaseIdentity{}, fmt.Errorf("failed to resolve introspection schema: %w", err)
	}

	name, source, err := dbCfg.EffectiveDatabaseName()
	if err != nil {
		return databaseIdentity{}, fmt.Errorf("failed to resolve effective database configuration: %w", err)
	}

	return databaseIdentity{
		dialect:             dialect,
		introspectionSchema: schema,
		effectiveDatabase:   name,
		databaseSource:      source,
		dsnPresent:          strings.TrimSpace(dbCfg.ConnectionString) != "",
	}, nil
}

func resolveDialect(name string) (sqlctx.Dialect, error) {
	switch name {
	case "mysql":
		return sqlctx.MySQL, nil
	case "postgres":
		return sqlctx.Postgres, nil
	default:
		return 0, fmt.Errorf("unsupported database dialect: %q (valid dialects: mysql, postgres)", name)
	}
}

// AttachLoggerProvider adopts the OTLP logger provider built during
// startup so teardown flushes it along with everything else.
func (a *App) AttachLoggerProvider(provider *observability.LoggerProvider) {
	a.stateMu.Lock()
	defer a.stateMu.Unlock()
	a.loggerProvider = provider
}
