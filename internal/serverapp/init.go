package serverapp

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/http"

	"tablegraph/internal/observability"
	"tablegraph/internal/reload"
	"tablegraph/internal/tlscert"
)

// initState accumulates resources while Init runs its stages, so a failed
// stage can unwind everything acquired before it. commit publishes the
// collected resources onto the App in one locked step.
type initState struct {
	app *App
	td  teardownStack

	meterProvider  *observability.MeterProvider
	graphqlMetrics *observability.GraphQLMetrics
	refreshMetrics *observability.RefreshMetrics
	adminMetrics   *observability.AdminMetrics
	tracerProvider *observability.TracerProvider

	db         *sql.DB
	dbStatsReg interface{ Unregister() error }

	manager      *reload.Manager
	reloadCancel context.CancelFunc

	graphqlHandler http.Handler
	adminHandler   http.Handler
	mux            *http.ServeMux
	handler        http.Handler

	serverAddr string
	srv        *http.Server
	tlsManager tlscert.Manager
}

// Init acquires every runtime resource in dependency order: telemetry
// providers, the database pool, the schema manager, then the HTTP stack.
// On failure it unwinds whatever was already acquired. Calling Init on an
// initialized App is a no-op.
func (a *App) Init(ctx context.Context) error {
	if a.isInitialized() {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}

	st := &initState{app: a}
	committed := false
	defer func() {
		if !committed {
			st.td.unwind(context.Background(), a.logger)
		}
	}()

	stages := []func(context.Context) error{
		st.startTelemetry,
		st.openDatabase,
		st.startSchema,
		st.buildHTTPStack,
	}
	for _, stage := range stages {
		if err := stage(ctx); err != nil {
			return err
		}
	}

	st.commit()
	committed = true
	return nil
}

func (a *App) isInitialized() bool {
	a.stateMu.Lock()
	defer a.stateMu.Unlock()
	return a.initialized
}

func (st *initState) startTelemetry(_ context.Context) error {
	a := st.app

	// The logger provider was attached before Init; it still belongs in
	// this teardown stack so a later stage failure shuts it down too.
	if a.loggerProvider != nil {
		st.td.add("logger provider", func(stopCtx context.Context) error {
			return a.loggerProvider.Shutdown(stopCtx, a.logger.Logger)
		})
	}

	metrics, err := initMetrics(a.cfg, a.logger)
	if err != nil {
		return fmt.Errorf("failed to start OpenTelemetry metrics: %w", err)
	}
	st.meterProvider = metrics.provider
	st.graphqlMetrics = metrics.graphql
	st.refreshMetrics = metrics.refresh
	st.adminMetrics = metrics.admin
	if metrics.provider != nil {
		st.td.add("meter provider", func(stopCtx context.Context) error {
			return metrics.provider.Shutdown(stopCtx, a.logger.Logger)
		})
	}

	tracer, err := initTracer(a.cfg, a.logger)
	if err != nil {
		return fmt.Errorf("failed to start OpenTelemetry tracing: %w", err)
	}
	st.tracerProvider = tracer
	if tracer != nil {
		st.td.add("tracer provider", func(stopCtx context.Context) error {
			return tracer.Shutdown(stopCtx, a.logger.Logger)
		})
	}
	return nil
}

func (st *initState) openDatabase(ctx context.Context) error {
	a := st.app
	dbCfg := a.cfg.Database

	// Identity details land on the "connected" log line once the pool is
	// verified; here only the target matters.
	a.logger.Info("connecting to database",
		slog.String("dialect", a.dialect.String()),
		slog.String("host", dbCfg.Host),
		slog.Int("port", dbCfg.EffectivePort()),
	)

	db, statsReg, err := connectDB(a.cfg, a.logger, a.dialect)
	if err != nil {
		return fmt.Errorf("failed to open database pool: %w", err)
	}
	st.db = db
	st.dbStatsReg = statsReg
	st.td.add("database", func(_ context.Context) error {
		unregisterDBStats(a.logger, statsReg)
		return db.Close()
	})

	if err := configureDatabase(ctx, a.cfg, a.logger, db, a.databaseIdentity); err != nil {
		return fmt.Errorf("failed waiting for database: %w", err)
	}
	return nil
}

func (st *initState) startSchema(ctx context.Context) error {
	a := st.app

	manager, reloadCancel, err := startSchemaManager(ctx, a.cfg, a.logger, st.db, a.dialect, a.introspectionSchema, st.refreshMetrics)
	if err != nil {
		return fmt.Errorf("failed to initialize schema reload manager: %w", err)
	}
	st.manager = manager
	st.reloadCancel = reloadCancel
	st.td.add("schema manager", func(stopCtx context.Context) error {
		reloadCancel()
		return manager.Wait(stopCtx)
	})
	return nil
}

func (st *initState) buildHTTPStack(_ context.Context) error {
	a := st.app

	st.graphqlHandler = buildGraphQLHandler(a.cfg, a.logger, st.manager, st.graphqlMetrics)

	adminHandler, err := buildAdminHandler(a.cfg, a.logger, st.manager, st.adminMetrics)
	if err != nil {
		return fmt.Errorf("failed to build admin handler: %w", err)
	}
	st.adminHandler = adminHandler

	st.mux = buildRouter(a.cfg, a.logger, st.db, st.graphqlHandler, adminHandler, st.meterProvider)
	st.handler = wrapHTTPHandler(a.cfg, a.logger, st.mux)

	st.serverAddr = fmt.Sprintf(":%d", a.cfg.Server.Port)
	srv, tlsMgr, err := buildServer(a.cfg, a.logger, st.handler, st.serverAddr)
	if err != nil {
		return fmt.Errorf("failed to build HTTP server: %w", err)
	}
	st.srv = srv
	st.tlsManager = tlsMgr
	st.td.add("HTTP server", func(stopCtx context.Context) error {
		return srv.Shutdown(stopCtx)
	})
	if tlsMgr != nil {
		st.td.add("TLS manager", func(_ context.Context) error {
			return tlsMgr.Shutdown()
		})
	}
	return nil
}

func (st *initState) commit() {
	a := st.app
	a.stateMu.Lock()
	defer a.stateMu.Unlock()

	a.meterProvider = st.meterProvider
	a.graphqlMetrics = st.graphqlMetrics
	a.refreshMetrics = st.refreshMetrics
	a.adminMetrics = st.adminMetrics
	a.tracerProvider = st.tracerProvider
	a.db = st.db
	a.dbStatsReg = st.dbStatsReg
	a.manager = st.manager
	a.reloadCancel = st.reloadCancel
	a.graphqlHandler = st.graphqlHandler
	a.adminHandler = st.adminHandler
	a.mux = st.mux
	a.handler = st.handler
	a.serverAddr = st.serverAddr
	a.srv = st.srv
	a.tlsManager = st.tlsManager
	a.teardown = st.td
	a.initialized = true
}
