// Package reload builds executable schema snapshots from a live database
// and swaps them in when the introspected structure changes.
package reload

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/graphql-go/graphql"
	"github.com/graphql-go/handler"

	"tablegraph"
	"tablegraph/internal/logging"
	"tablegraph/internal/observability"
	"tablegraph/internal/tableselect"
	"tablegraph/sqlctx"
)

// versionLength truncates the catalog digest for logs and response
// metadata. 48 bits is plenty to tell two structures apart.
const versionLength = 12

// Snapshot is an immutable view of one generated schema. Requests in
// flight keep resolving against the snapshot they started with even
// after a newer one is swapped in.
type Snapshot struct {
	Schema  *graphql.Schema
	Handler http.Handler
	Catalog *sqlctx.Catalog
	Tables  []string
	BuiltAt time.Time
	Version string
}

// Config controls snapshot builds and the reload loop.
type Config struct {
	DB         *sql.DB
	Dialect    sqlctx.Dialect
	SchemaName string
	// Tables decides which catalog tables register and which of those
	// register read-only.
	Tables                 tableselect.Policy
	AllowUnscopedMutations bool
	Naming                 tablegraph.NamingConfig
	GraphiQL               bool
	// Interval is the polling period for structure changes. Zero or
	// negative disables polling; explicit rebuilds still work.
	Interval time.Duration
	Logger   *logging.Logger
	Metrics  *observability.RefreshMetrics
}

// Manager maintains the active snapshot and rebuilds it on demand or on
// a timer.
type Manager struct {
	db            *sql.DB
	dialect       sqlctx.Dialect
	schemaName    string
	policy        tableselect.Policy
	allowUnscoped bool
	naming        tablegraph.NamingConfig
	graphiQL      bool
	interval      time.Duration
	logger        *logging.Logger
	quiet         *slog.Logger
	metrics       *observability.RefreshMetrics
	active        atomic.Pointer[Snapshot]
	wg            sync.WaitGroup
}

// NewManager builds the initial snapshot and returns a manager. Startup
// fails when the first build does; serving without a schema would only
// defer the same error to every caller.
func NewManager(ctx context.Context, cfg Config) (*Manager, error) {
	if cfg.DB == nil {
		return nil, fmt.Errorf("schema reload manager requires a database handle")
	}
	if cfg.Logger == nil {
		cfg.Logger = &logging.Logger{Logger: slog.Default()}
	}
	logger := cfg.Logger.WithComponent("schema_reload")

	m := &Manager{
		db:            cfg.DB,
		dialect:       cfg.Dialect,
		schemaName:    cfg.SchemaName,
		policy:        cfg.Tables,
		allowUnscoped: cfg.AllowUnscopedMutations,
		naming:        cfg.Naming,
		graphiQL:      cfg.GraphiQL,
		interval:      cfg.Interval,
		logger:        logger,
		// Polls introspect every interval, so their routine info lines
		// are filtered out. Warnings still get through.
		quiet:   slog.New(minLevelHandler{Handler: logger.Handler(), min: slog.LevelWarn}),
		metrics: cfg.Metrics,
	}

	start := time.Now()
	snapshot, err := m.buildSnapshot(ctx)
	if err != nil {
		m.recordRebuild(time.Since(start), false, "startup")
		return nil, err
	}
	m.active.Store(snapshot)
	m.recordRebuild(time.Since(start), true, "startup")
	return m, nil
}

// Start begins the periodic reload loop. A non-positive interval
// disables polling.
func (m *Manager) Start(ctx context.Context) {
	if m.interval <= 0 {
		m.logger.Info("periodic schema reload disabled")
		return
	}
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		m.reloadLoop(ctx)
	}()
}

// Wait blocks until the reload loop exits or the context is canceled.
func (m *Manager) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// CurrentSnapshot returns the active snapshot, or nil before the first
// build completes.
func (m *Manager) CurrentSnapshot() *Snapshot {
	return m.active.Load()
}

// Version returns the active snapshot's version, or "" when no snapshot
// is active.
func (m *Manager) Version() string {
	if snapshot := m.active.Load(); snapshot != nil {
		return snapshot.Version
	}
	return ""
}

// Handler serves GraphQL requests against whatever snapshot is active
// at the time of each request, so a handler registered once on a mux
// follows swaps.
func (m *Manager) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		snapshot := m.active.Load()
		if snapshot == nil || snapshot.Handler == nil {
			http.Error(w, "schema not ready", http.StatusServiceUnavailable)
			return
		}
		snapshot.Handler.ServeHTTP(w, r)
	})
}

// RebuildNow rebuilds and swaps the snapshot regardless of whether the
// structure changed. The admin endpoint uses it after out-of-band DDL.
func (m *Manager) RebuildNow(ctx context.Context) (*Snapshot, error) {
	start := time.Now()
	snapshot, err := m.buildSnapshot(ctx)
	if err != nil {
		m.recordRebuild(time.Since(start), false, "admin")
		return nil, err
	}
	m.active.Store(snapshot)
	m.recordRebuild(time.Since(start), true, "admin")
	m.logger.Info("schema rebuilt on request",
		slog.String("version", snapshot.Version),
		slog.Int("tables", len(snapshot.Tables)),
	)
	return snapshot, nil
}

func (m *Manager) reloadLoop(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			m.logger.Info("schema reload stopped")
			return
		case <-ticker.C:
			m.reloadOnce(ctx)
		}
	}
}

// reloadOnce introspects the database and swaps in a fresh snapshot when
// the structure changed. Introspection runs every poll; the expensive
// schema synthesis is skipped while the digest matches the active
// version.
func (m *Manager) reloadOnce(ctx context.Context) {
	start := time.Now()
	catalog, version, err := m.introspect(ctx, m.quiet)
	if err != nil {
		m.logger.Warn("schema introspection failed", slog.String("error", err.Error()))
		m.recordRebuild(time.Since(start), false, "periodic")
		return
	}

	if current := m.active.Load(); current != nil && current.Version == version {
		m.logger.Debug("schema unchanged", slog.String("version", version))
		m.recordRebuild(time.Since(start), true, "periodic_no_change")
		return
	}

	snapshot, err := m.assemble(ctx, catalog, version)
	if err != nil {
		m.logger.Error("failed to rebuild schema", slog.String("error", err.Error()))
		m.recordRebuild(time.Since(start), false, "periodic")
		return
	}
	m.active.Store(snapshot)
	m.recordRebuild(time.Since(start), true, "periodic")
	m.logger.Info("schema change detected, snapshot swapped",
		slog.String("version", version),
		slog.Int("tables", len(snapshot.Tables)),
	)
}

func (m *Manager) buildSnapshot(ctx context.Context) (*Snapshot, error) {
	catalog, version, err := m.introspect(ctx, m.logger.Logger)
	if err != nil {
		return nil, err
	}
	return m.assemble(ctx, catalog, version)
}

func (m *Manager) introspect(ctx context.Context, attachLogger *slog.Logger) (*sqlctx.Catalog, string, error) {
	catalog, err := sqlctx.Attach(ctx, m.db, m.dialect, m.schemaName, sqlctx.WithLogger(attachLogger))
	if err != nil {
		return nil, "", err
	}
	version, err := catalogVersion(ctx, catalog)
	if err != nil {
		return nil, "", err
	}
	return catalog, version, nil
}

// assemble registers the catalog's tables with a fresh engine and wraps
// the generated schema in an HTTP handler.
func (m *Manager) assemble(ctx context.Context, catalog *sqlctx.Catalog, version string) (*Snapshot, error) {
	start := time.Now()
	engine := tablegraph.New(
		tablegraph.WithLogger(m.logger.Logger),
		tablegraph.WithNaming(m.naming),
	)

	var registered []string
	for _, name := range catalog.Tables() {
		decision := m.policy.Decide(name)
		if !decision.Register {
			m.logger.Debug("table excluded from schema", slog.String("table", name))
			continue
		}
		table, ok := catalog.Table(name)
		if !ok {
			continue
		}
		var opts []tablegraph.RegisterOption
		if decision.ReadOnly {
			opts = append(opts, tablegraph.WithoutMutations())
		} else if m.allowUnscoped {
			opts = append(opts, tablegraph.WithAllowUnscoped())
		}
		if err := engine.RegisterTable(ctx, table, opts...); err != nil {
			return nil, fmt.Errorf("register table %s: %w", name, err)
		}
		registered = append(registered, name)
	}
	if len(registered) == 0 {
		m.logger.Warn("no tables matched the registration policy")
	}

	schema, err := engine.BuildSchema()
	if err != nil {
		return nil, err
	}

	graphqlHandler := handler.New(&handler.Config{
		Schema:     &schema,
		Pretty:     true,
		GraphiQL:   m.graphiQL,
		Playground: true,
	})

	m.logger.Info("schema snapshot built",
		slog.String("version", version),
		slog.Int("tables", len(registered)),
		slog.Duration("duration", time.Since(start)),
	)

	return &Snapshot{
		Schema:  &schema,
		Handler: graphqlHandler,
		Catalog: catalog,
		Tables:  registered,
		BuiltAt: time.Now(),
		Version: version,
	}, nil
}

func (m *Manager) recordRebuild(duration time.Duration, success bool, trigger string) {
	if m.metrics == nil {
		return
	}
	m.metrics.RecordRebuild(context.Background(), duration, success, trigger)
}

// catalogVersion digests the introspected structure: table names, column
// descriptors, and first-level relationship edges. Nested relation trees
// derive from the same foreign keys, so hashing one level is enough to
// detect any structural change.
func catalogVersion(ctx context.Context, catalog *sqlctx.Catalog) (string, error) {
	names := append([]string(nil), catalog.Tables()...)
	sort.Strings(names)

	digest := sha256.New()
	for _, name := range names {
		table, ok := catalog.Table(name)
		if !ok {
			continue
		}
		columns, err := table.Schema(ctx)
		if err != nil {
			return "", fmt.Errorf("digest columns of %s: %w", name, err)
		}
		relationships, err := table.Relationships(ctx)
		if err != nil {
			return "", fmt.Errorf("digest relationships of %s: %w", name, err)
		}

		writeFramed(digest, name)
		for _, col := range columns {
			writeFramed(digest, fmt.Sprintf("%s %s nullable=%t identity=%t virtual=%t primary=%t",
				col.Name, col.Datatype, col.Nullable, col.Identity, col.Virtual, col.Primary))
		}
		for _, rel := range relationships {
			writeFramed(digest, fmt.Sprintf("%s %s %s %s=%s",
				rel.RelationKey, rel.Cardinality, rel.TableName, rel.LocalColumn, rel.ForeignColumn))
		}
		_, _ = digest.Write([]byte{'\n'})
	}
	return hex.EncodeToString(digest.Sum(nil))[:versionLength], nil
}

// writeFramed writes a length-prefixed cell so adjacent values cannot
// collide when concatenated.
func writeFramed(w io.Writer, cell string) {
	_, _ = fmt.Fprintf(w, "%d:%s|", len(cell), cell)
}

// minLevelHandler drops records below min.
type minLevelHandler struct {
	slog.Handler
	min slog.Level
}

func (h minLevelHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return level >= h.min && h.Handler.Enabled(ctx, level)
}
