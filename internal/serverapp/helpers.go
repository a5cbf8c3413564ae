package serverapp

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"tablegraph"
	"tablegraph/internal/config"
	"tablegraph/internal/logging"
	"tablegraph/internal/middleware"
	"tablegraph/internal/observability"
	"tablegraph/internal/reload"
	"tablegraph/internal/tableselect"
	"tablegraph/internal/tlscert"
	"tablegraph/sqlctx"

	"github.com/XSAM/otelsql"
	_ "github.com/go-sql-driver/mysql"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/attribute"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

// telemetryConfig maps the service identity portion of the app config
// onto the observability package's Config.
func telemetryConfig(cfg *config.Config) observability.Config {
	return observability.Config{
		ServiceName:    cfg.Observability.ServiceName,
		ServiceVersion: cfg.Observability.ServiceVersion,
		Environment:    cfg.Observability.Environment,
	}
}

func exporterConfig(otlp config.OTLPConfig) observability.OTLPExporterConfig {
	return observability.OTLPExporterConfig{
		Endpoint:          otlp.Endpoint,
		Protocol:          otlp.Protocol,
		Insecure:          otlp.Insecure,
		TLSCertFile:       otlp.TLSCertFile,
		TLSClientCertFile: otlp.TLSClientCertFile,
		TLSClientKeyFile:  otlp.TLSClientKeyFile,
		Headers:           otlp.Headers,
		Timeout:           otlp.Timeout,
		Compression:       otlp.Compression,
		RetryEnabled:      otlp.RetryEnabled,
		RetryMaxAttempts:  otlp.RetryMaxAttempts,
	}
}

func serviceLogAttrs(cfg *config.Config) []any {
	o := cfg.Observability
	return []any{
		slog.String("service_name", o.ServiceName),
		slog.String("service_version", o.ServiceVersion),
		slog.String("environment", o.Environment),
	}
}

func otlpLogAttrs(cfg *config.Config, otlp config.OTLPConfig) []any {
	return append(serviceLogAttrs(cfg),
		slog.String("otlp_endpoint", otlp.Endpoint),
		slog.String("otlp_protocol", otlp.Protocol),
		slog.Bool("insecure", otlp.Insecure),
	)
}

// InitLogger builds the process logger. When log export is enabled it
// also boots an OTLP logger provider and rebuilds the logger on top of
// it, so records fan out to stdout and the collector.
func InitLogger(cfg *config.Config) (*logging.Logger, *observability.LoggerProvider, error) {
	base := logging.Config{Level: cfg.Observability.Logging.Level, Format: cfg.Observability.Logging.Format}
	install := func(c logging.Config) *logging.Logger {
		l := logging.New(c)
		slog.SetDefault(l.Logger)
		return l
	}
	logger := install(base)

	if !cfg.Observability.Logging.ExportsEnabled {
		return logger, nil, nil
	}

	otlp := cfg.Observability.LogsConfig()
	logger.Info("initializing OpenTelemetry log export", otlpLogAttrs(cfg, otlp)...)

	observabilityCfg := telemetryConfig(cfg)
	observabilityCfg.OTLP = exporterConfig(otlp)
	provider, err := observability.InitLoggerProvider(observabilityCfg)
	if err != nil {
		return nil, nil, err
	}

	base.LoggerProvider = provider.Provider()
	logger = install(base)
	logger.Info("OpenTelemetry log export enabled")

	return logger, provider, nil
}

// metricsSet carries the meter provider and the instrument groups built
// on top of it. The zero value means metrics are disabled.
type metricsSet struct {
	provider *observability.MeterProvider
	graphql  *observability.GraphQLMetrics
	refresh  *observability.RefreshMetrics
	admin    *observability.AdminMetrics
}

func initMetrics(cfg *config.Config, logger *logging.Logger) (metricsSet, error) {
	var set metricsSet
	if !cfg.Observability.MetricsEnabled {
		return set, nil
	}

	logger.Info("initializing OpenTelemetry metrics", serviceLogAttrs(cfg)...)

	var err error
	if set.provider, err = observability.InitMeterProvider(telemetryConfig(cfg)); err != nil {
		return metricsSet{}, err
	}
	if set.graphql, err = observability.InitMetrics(logger.Logger); err != nil {
		return metricsSet{}, err
	}
	if set.refresh, err = observability.InitRefreshMetrics(logger.Logger); err != nil {
		return metricsSet{}, err
	}
	if set.admin, err = observability.InitAdminMetrics(); err != nil {
		return metricsSet{}, err
	}
	logger.Info("OpenTelemetry metrics enabled")

	return set, nil
}

func initTracer(cfg *config.Config, logger *logging.Logger) (*observability.TracerProvider, error) {
	if !cfg.Observability.TracingEnabled {
		return nil, nil
	}

	otlp := cfg.Observability.TracesConfig()
	logger.Info("initializing OpenTelemetry tracing", otlpLogAttrs(cfg, otlp)...)

	observabilityCfg := telemetryConfig(cfg)
	observabilityCfg.TraceSampleRatio = cfg.Observability.TraceSampleRatio
	observabilityCfg.OTLP = exporterConfig(otlp)
	provider, err := observability.InitTracerProvider(observabilityCfg)
	if err != nil {
		return nil, err
	}
	logger.Info("OpenTelemetry tracing enabled",
		slog.Float64("sample_ratio", cfg.Observability.TraceSampleRatio))

	return provider, nil
}

func dbSystemAttribute(dialect sqlctx.Dialect) attribute.KeyValue {
	if dialect == sqlctx.Postgres {
		return semconv.DBSystemPostgreSQL
	}
	return semconv.DBSystemMySQL
}

func connectDB(cfg *config.Config, logger *logging.Logger, dialect sqlctx.Dialect) (*sql.DB, interface{ Unregister() error }, error) {
	dsn := cfg.Database.DSN()
	driverName := dialect.DriverName()

	if !cfg.Observability.MetricsEnabled && !cfg.Observability.TracingEnabled {
		db, err := sql.Open(driverName, dsn)
		if err != nil {
			return nil, nil, err
		}
		return db, nil, nil
	}

	opts := []otelsql.Option{
		otelsql.WithAttributes(dbSystemAttribute(dialect)),
	}
	if cfg.Observability.TracingEnabled {
		opts = append(opts, otelsql.WithSpanOptions(otelsql.SpanOptions{
			DisableErrSkip: true,
		}))
	}

	db, err := otelsql.Open(driverName, dsn, opts...)
	if err != nil {
		return nil, nil, err
	}

	var dbStatsReg interface{ Unregister() error }
	if cfg.Observability.MetricsEnabled {
		dbStatsReg, err = otelsql.RegisterDBStatsMetrics(db, otelsql.WithAttributes(dbSystemAttribute(dialect)))
		if err != nil {
			logger.Warn("failed to register DB stats metrics", slog.String("error", err.Error()))
		}
	}

	logger.Info("database instrumentation enabled",
		slog.String("driver", driverName),
		slog.Bool("metrics", cfg.Observability.MetricsEnabled),
		slog.Bool("tracing", cfg.Observability.TracingEnabled),
	)
	return db, dbStatsReg, nil
}

// unregisterDBStats detaches the pool stats collector before the pool
// closes. Unregister failures only warn, the pool still shuts down.
func unregisterDBStats(logger *logging.Logger, reg interface{ Unregister() error }) {
	if reg == nil {
		return
	}
	if err := reg.Unregister(); err != nil {
		logger.Warn("failed to unregister database stats collector", slog.String("error", err.Error()))
	}
}

func configureDatabase(ctx context.Context, cfg *config.Config, logger *logging.Logger, db *sql.DB, identity databaseIdentity) error {
	if ctx == nil {
		ctx = context.Background()
	}

	pool := cfg.Database.Pool
	db.SetMaxOpenConns(pool.MaxOpen)
	db.SetMaxIdleConns(pool.MaxIdle)
	db.SetConnMaxLifetime(pool.MaxLifetime)

	if err := waitForDatabase(ctx, logger, db, cfg.Database.ConnectionTimeout, cfg.Database.ConnectionRetryInterval); err != nil {
		return err
	}

	logger.Info("connected to database",
		slog.String("database_effective", identity.effectiveDatabase),
		slog.String("database_source", identity.databaseSource),
		slog.Bool("dsn_present", identity.dsnPresent),
		slog.Group("pool",
			slog.Int("max_open", pool.MaxOpen),
			slog.Int("max_idle", pool.MaxIdle),
			slog.Duration("max_lifetime", pool.MaxLifetime),
		),
	)
	return nil
}

// waitForDatabase pings until the database answers or the timeout
// elapses. A zero timeout means a single attempt. The retry interval
// doubles per attempt, capped at 30s.
func waitForDatabase(ctx context.Context, logger *logging.Logger, db *sql.DB, timeout, retryEvery time.Duration) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if timeout == 0 {
		return db.PingContext(ctx)
	}

	giveUp := time.Now().Add(timeout)
	backoff := retryEvery

	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		err := db.PingContext(ctx)
		switch {
		case err == nil && attempt > 1:
			logger.Info("database reachable", slog.Int("attempts", attempt))
			return nil
		case err == nil:
			return nil
		case time.Now().After(giveUp):
			return fmt.Errorf("database still unreachable after %v: %w", timeout, err)
		}

		logger.Warn("database not ready, will retry",
			slog.Int("attempt", attempt),
			slog.Duration("next_attempt_in", backoff),
			slog.String("error", err.Error()),
		)
		time.Sleep(backoff)
		backoff = min(backoff*2, 30*time.Second)
	}
}

func startSchemaManager(ctx context.Context, cfg *config.Config, logger *logging.Logger, db *sql.DB, dialect sqlctx.Dialect, schemaName string, metrics *observability.RefreshMetrics) (*reload.Manager, context.CancelFunc, error) {
	manager, err := reload.NewManager(ctx, reload.Config{
		DB:         db,
		Dialect:    dialect,
		SchemaName: schemaName,
		Tables: tableselect.Policy{
			Include:  cfg.Engine.IncludeTables,
			Exclude:  cfg.Engine.ExcludeTables,
			ReadOnly: cfg.Engine.ReadOnlyTables,
		},
		AllowUnscopedMutations: cfg.Engine.AllowUnscopedMutations,
		Naming: tablegraph.NamingConfig{
			PluralOverrides:   cfg.Naming.PluralOverrides,
			SingularOverrides: cfg.Naming.SingularOverrides,
		},
		GraphiQL: cfg.Server.GraphiQLEnabled,
		Interval: cfg.Server.SchemaRefreshInterval,
		Logger:   logger,
		Metrics:  metrics,
	})
	if err != nil {
		return nil, nil, err
	}

	// The polling loop outlives the Init context; it stops via the
	// returned cancel during teardown.
	reloadCtx, reloadCancel := context.WithCancel(context.Background())
	manager.Start(reloadCtx)

	return manager, reloadCancel, nil
}

// buildGraphQLHandler assembles the middleware chain around the snapshot
// handler. The chain is:
//
//	request -> logging -> request analysis -> metrics -> tracing -> graphql
//
// Request analysis runs before metrics and tracing because both read the
// decoded operation from context.
func buildGraphQLHandler(cfg *config.Config, logger *logging.Logger, manager *reload.Manager, graphqlMetrics *observability.GraphQLMetrics) http.Handler {
	handler := manager.Handler()

	handler = middleware.GraphQLTracingMiddleware()(handler)

	if cfg.Observability.MetricsEnabled && graphqlMetrics != nil {
		handler = middleware.GraphQLMetricsMiddleware(graphqlMetrics)(handler)
		logger.Info("GraphQL metrics middleware enabled")
	}

	handler = middleware.GraphQLRequestAnalysisMiddleware(manager.Version)(handler)

	return middleware.LoggingMiddleware(logger)(handler)
}

func buildAdminHandler(cfg *config.Config, logger *logging.Logger, manager *reload.Manager, adminMetrics *observability.AdminMetrics) (http.Handler, error) {
	if !cfg.Server.Admin.SchemaReloadEnabled {
		return nil, nil
	}

	authMiddleware, err := middleware.AdminTokenAuthMiddleware(middleware.AdminTokenAuthConfig{
		Token:   cfg.Server.Admin.AuthToken,
		Metrics: adminMetrics,
	})
	if err != nil {
		return nil, err
	}

	var adminHandler http.Handler = http.HandlerFunc(rebuildSchemaHandler(manager))
	adminHandler = authMiddleware(adminHandler)
	adminHandler = middleware.LoggingMiddleware(logger)(adminHandler)
	return adminHandler, nil
}

func buildRouter(cfg *config.Config, logger *logging.Logger, db *sql.DB, graphql, admin http.Handler, meters *observability.MeterProvider) *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/graphql", graphql)
	mux.HandleFunc("/health", healthHandler(db, cfg.Server.HealthCheckTimeout))

	// The "/" pattern also catches every path no other route claims.
	mux.HandleFunc("/", rootRedirect)

	if admin != nil {
		mux.Handle("/admin/rebuild-schema", admin)
		logger.Info("admin schema rebuild endpoint enabled", slog.String("path", "/admin/rebuild-schema"))
	}

	if cfg.Observability.MetricsEnabled && meters != nil {
		mux.Handle("/metrics", promhttp.Handler())
		logger.Info("metrics endpoint enabled", slog.String("path", "/metrics"))
	}

	return mux
}

// rootRedirect sends "/" to the GraphQL endpoint and 404s every other
// unclaimed path.
func rootRedirect(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	http.Redirect(w, r, "/graphql", http.StatusFound)
}

func corsFromConfig(cfg *config.Config) middleware.CORSConfig {
	return middleware.CORSConfig{
		Enabled:          cfg.Server.CORSEnabled,
		AllowedOrigins:   cfg.Server.CORSAllowedOrigins,
		AllowedMethods:   cfg.Server.CORSAllowedMethods,
		AllowedHeaders:   cfg.Server.CORSAllowedHeaders,
		ExposeHeaders:    cfg.Server.CORSExposeHeaders,
		AllowCredentials: cfg.Server.CORSAllowCredentials,
		MaxAge:           cfg.Server.CORSMaxAge,
	}
}

func rateLimitFromConfig(cfg *config.Config) middleware.RateLimitConfig {
	return middleware.RateLimitConfig{
		Enabled: cfg.Server.RateLimitEnabled,
		RPS:     cfg.Server.RateLimitRPS,
		Burst:   cfg.Server.RateLimitBurst,
	}
}

// wrapHTTPHandler layers the outermost concerns over the router: rate
// limiting outermost, then CORS, then OTel HTTP instrumentation, so the
// limiter rejects before any span is opened.
func wrapHTTPHandler(cfg *config.Config, logger *logging.Logger, next http.Handler) http.Handler {
	if cfg.Observability.MetricsEnabled || cfg.Observability.TracingEnabled {
		next = otelhttp.NewHandler(next, "http.server",
			otelhttp.WithSpanNameFormatter(rootSpanName),
			otelhttp.WithMessageEvents(otelhttp.ReadEvents, otelhttp.WriteEvents),
		)
		logger.Info("HTTP instrumentation enabled")
	}

	if cfg.Server.CORSEnabled {
		next = middleware.CORSMiddleware(corsFromConfig(cfg))(next)
	}
	if cfg.Server.RateLimitEnabled {
		next = middleware.RateLimitMiddleware(rateLimitFromConfig(cfg))(next)
	}

	return next
}

func rootSpanName(_ string, r *http.Request) string {
	return rootSpanLabel(r)
}

func rootSpanLabel(r *http.Request) string {
	method := "HTTP"
	route := "/*"
	if r != nil {
		if m := strings.TrimSpace(r.Method); m != "" {
			method = m
		}
		route = foldSpanRoute(r.URL.Path)
	}
	return method + " " + route
}

// registeredRoutes are the mux paths; anything else folds into "/*" so
// span names stay low cardinality.
var registeredRoutes = map[string]struct{}{
	"/":                     {},
	"/graphql":              {},
	"/health":               {},
	"/metrics":              {},
	"/admin/rebuild-schema": {},
}

func foldSpanRoute(path string) string {
	if _, ok := registeredRoutes[path]; ok {
		return path
	}
	return "/*"
}

func buildServer(cfg *config.Config, logger *logging.Logger, h http.Handler, addr string) (*http.Server, tlscert.Manager, error) {
	web := cfg.Server
	srv := &http.Server{
		Addr:         addr,
		Handler:      h,
		ReadTimeout:  web.ReadTimeout,
		WriteTimeout: web.WriteTimeout,
		IdleTimeout:  web.IdleTimeout,
	}
	if !tlsEnabled(cfg) {
		return srv, nil, nil
	}

	tlsMgr, err := newTLSManager(cfg, logger)
	if err != nil {
		return nil, nil, err
	}
	srv.TLSConfig, err = tlsMgr.TLSConfig()
	if err != nil {
		return nil, nil, err
	}

	logger.Info("TLS enabled",
		slog.String("mode", web.TLSMode),
		slog.String("cert_source", tlsMgr.Description()))

	return srv, tlsMgr, nil
}

func newTLSManager(cfg *config.Config, logger *logging.Logger) (tlscert.Manager, error) {
	mode := tlscert.Mode(cfg.Server.TLSMode)
	switch cfg.Server.TLSMode {
	case "auto":
		mode = tlscert.ModeSelfSigned
	case "file":
		mode = tlscert.ModeFile
	}

	// SelfSignedHosts is left empty so the tlscert package applies its
	// loopback defaults.
	return tlscert.New(tlscert.Config{
		Mode:              mode,
		CertFile:          cfg.Server.TLSCertFile,
		KeyFile:           cfg.Server.TLSKeyFile,
		SelfSignedCertDir: cfg.Server.TLSAutoCertDir,
	}, logger.Logger)
}

func tlsEnabled(cfg *config.Config) bool {
	return cfg.Server.TLSMode != "" && cfg.Server.TLSMode != "off"
}

func startServer(cfg *config.Config, logger *logging.Logger, srv *http.Server, addr string) chan error {
	errs := make(chan error, 1)
	useTLS := tlsEnabled(cfg)

	go func() {
		scheme := "http"
		serve := srv.ListenAndServe
		if useTLS {
			scheme = "https"
			serve = func() error { return srv.ListenAndServeTLS("", "") }
		}

		web := cfg.Server
		logCfg := cfg.Observability.Logging
		attrs := make([]any, 0, 16)
		attrs = append(attrs,
			slog.String("protocol", scheme),
			slog.String("address", addr),
			slog.String("graphql_endpoint", "/graphql"),
			slog.String("health_endpoint", "/health"),
			slog.Duration("schema_refresh_interval", web.SchemaRefreshInterval),
			slog.Bool("graphiql", web.GraphiQLEnabled),
			slog.String("log_level", logCfg.Level),
			slog.String("log_format", logCfg.Format),
			slog.Bool("tls_enabled", useTLS),
		)
		if useTLS {
			attrs = append(attrs, slog.String("tls_mode", web.TLSMode))
		}
		if cfg.Observability.MetricsEnabled {
			attrs = append(attrs, slog.String("metrics_endpoint", "/metrics"))
		}
		if web.RateLimitEnabled {
			attrs = append(attrs,
				slog.Float64("rate_limit_rps", web.RateLimitRPS),
				slog.Int("rate_limit_burst", web.RateLimitBurst))
		}
		logger.Info("server starting", attrs...)

		if err := serve(); err != nil && err != http.ErrServerClosed {
			errs <- fmt.Errorf("server failed: %w", err)
		}
	}()
	return errs
}

const (
	healthyBody   = `{"status":"healthy","database":"ok"}`
	unhealthyBody = `{"status":"unhealthy","database":"failed"}`
)

// healthHandler reports liveness of the process and its database. The
// response body stays generic; failure detail goes to the log.
func healthHandler(db *sql.DB, timeout time.Duration) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		reqLog := logging.FromContext(r.Context())
		w.Header().Set("Content-Type", "application/json")

		pingCtx, cancel := context.WithTimeout(r.Context(), timeout)
		defer cancel()

		if err := db.PingContext(pingCtx); err != nil {
			reqLog.Error("health check failed",
				slog.String("check", "database"),
				slog.String("error", err.Error()),
			)
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = fmt.Fprint(w, unhealthyBody)
			return
		}

		reqLog.Debug("health check passed")
		w.WriteHeader(http.StatusOK)
		_, _ = fmt.Fprint(w, healthyBody)
	}
}

func rebuildSchemaHandler(manager *reload.Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		reqLog := logging.FromContext(r.Context())
		w.Header().Set("Content-Type", "application/json")

		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			_, _ = fmt.Fprint(w, `{"error":"method not allowed"}`)
			return
		}

		reqLog.Info("admin endpoint accessed",
			slog.String("operation", "rebuild_schema"),
			slog.String("remote_addr", r.RemoteAddr),
		)

		rebuildCtx, rebuildCancel := context.WithTimeout(r.Context(), 15*time.Second)
		defer rebuildCancel()

		snapshot, err := manager.RebuildNow(rebuildCtx)
		if err != nil {
			reqLog.Error("schema rebuild failed", slog.String("error", err.Error()))
			w.WriteHeader(http.StatusInternalServerError)
			_, _ = fmt.Fprint(w, `{"status":"error","message":"schema rebuild failed"}`)
			return
		}

		reqLog.Info("schema rebuilt",
			slog.String("version", snapshot.Version),
			slog.Int("tables", len(snapshot.Tables)),
		)
		w.WriteHeader(http.StatusOK)
		_, _ = fmt.Fprintf(w, `{"status":"ok","version":%q,"tables":%d}`, snapshot.Version, len(snapshot.Tables))
	}
}
