// Package dbtest provisions isolated per-test databases for integration
// tests. Connection details come from TABLEGRAPH_TEST_* environment
// variables; tests skip when they are unset.
package dbtest

import (
	"database/sql"
	"fmt"
	"net/url"
	"os"
	"strings"
	"testing"
	"time"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/jackc/pgx/v5/stdlib"

	"tablegraph/sqlctx"
)

// TestDB is a connection to a freshly created database that is dropped
// when the test finishes.
type TestDB struct {
	DB      *sql.DB
	Name    string
	Dialect sqlctx.Dialect

	cfg Config
}

// Config holds test database connection information.
type Config struct {
	Dialect  string
	Host     string
	Port     string
	User     string
	Password string
	// TLSMode is passed through to the driver: the "tls" DSN parameter for
	// MySQL, "sslmode" for Postgres.
	TLSMode string
}

// New creates an isolated database named after the test and connects to it.
// The database is dropped during test cleanup.
func New(t *testing.T) *TestDB {
	t.Helper()

	cfg := configFromEnv(t)
	dialect := dialectFromConfig(t, cfg)

	dbName := fmt.Sprintf("test_%s_%d", sanitizeName(t.Name()), time.Now().UnixMilli())
	if !isValidDatabaseName(dbName) {
		t.Fatalf("invalid database name generated: %s", dbName)
	}

	admin := openMaintenance(t, cfg, dialect)
	createSQL := fmt.Sprintf("CREATE DATABASE %s", quoteIdent(dialect, dbName))
	if dialect == sqlctx.MySQL {
		createSQL = fmt.Sprintf("CREATE DATABASE IF NOT EXISTS %s", quoteIdent(dialect, dbName))
	}
	if _, err := admin.Exec(createSQL); err != nil {
		_ = admin.Close()
		t.Fatalf("failed to create test database %s: %v", dbName, err)
	}
	if err := admin.Close(); err != nil {
		t.Logf("warning: failed to close maintenance connection: %v", err)
	}

	db, err := sql.Open(dialect.DriverName(), buildDSN(cfg, dialect, dbName))
	if err != nil {
		t.Fatalf("failed to connect to test database: %v", err)
	}
	configurePool(db)
	if err := db.Ping(); err != nil {
		_ = db.Close()
		t.Fatalf("failed to ping test database: %v", err)
	}

	tdb := &TestDB{DB: db, Name: dbName, Dialect: dialect, cfg: cfg}
	t.Cleanup(func() { tdb.teardown(t) })
	return tdb
}

// DSN returns the connection string for the test database, suitable for
// config.DatabaseConfig.ConnectionString.
func (tdb *TestDB) DSN() string {
	return buildDSN(tdb.cfg, tdb.Dialect, tdb.Name)
}

// Schema returns the schema name to introspect: the database name for
// MySQL, "public" for Postgres.
func (tdb *TestDB) Schema() string {
	if tdb.Dialect == sqlctx.Postgres {
		return "public"
	}
	return tdb.Name
}

// Exec runs each statement in order, failing the test on the first error.
func (tdb *TestDB) Exec(t *testing.T, statements ...string) {
	t.Helper()
	for i, stmt := range statements {
		stmt = strings.TrimSpace(stmt)
		if stmt == "" {
			continue
		}
		if _, err := tdb.DB.Exec(stmt); err != nil {
			t.Fatalf("failed to execute statement %d: %v\nstatement: %s", i+1, err, stmt)
		}
	}
}

// teardown drops the test database. Postgres refuses to drop a database
// with open connections, so the test connection closes first and the drop
// runs over a maintenance connection.
func (tdb *TestDB) teardown(t *testing.T) {
	t.Helper()

	if tdb.DB != nil {
		if err := tdb.DB.Close(); err != nil {
			t.Logf("warning: failed to close test database connection: %v", err)
		}
	}

	if !isValidDatabaseName(tdb.Name) {
		return
	}

	admin, err := sql.Open(tdb.Dialect.DriverName(), buildDSN(tdb.cfg, tdb.Dialect, maintenanceDatabase(tdb.Dialect)))
	if err != nil {
		t.Logf("warning: failed to open maintenance connection for teardown: %v", err)
		return
	}
	defer func() {
		if err := admin.Close(); err != nil {
			t.Logf("warning: failed to close maintenance connection: %v", err)
		}
	}()

	dropSQL := fmt.Sprintf("DROP DATABASE IF EXISTS %s", quoteIdent(tdb.Dialect, tdb.Name))
	if _, err := admin.Exec(dropSQL); err != nil {
		t.Logf("warning: failed to drop test database %s: %v", tdb.Name, err)
	}
}

func configFromEnv(t *testing.T) Config {
	t.Helper()

	cfg := Config{
		Dialect:  os.Getenv("TABLEGRAPH_TEST_DIALECT"),
		Host:     os.Getenv("TABLEGRAPH_TEST_HOST"),
		Port:     os.Getenv("TABLEGRAPH_TEST_PORT"),
		User:     os.Getenv("TABLEGRAPH_TEST_USER"),
		Password: os.Getenv("TABLEGRAPH_TEST_PASSWORD"),
		TLSMode:  os.Getenv("TABLEGRAPH_TEST_TLS"),
	}

	if cfg.Host == "" || cfg.User == "" {
		t.Skip("test database credentials not set. Set TABLEGRAPH_TEST_HOST, TABLEGRAPH_TEST_USER, TABLEGRAPH_TEST_PASSWORD to run integration tests")
	}

	if cfg.Dialect == "" {
		cfg.Dialect = "mysql"
	}
	if cfg.Port == "" {
		if cfg.Dialect == "postgres" {
			cfg.Port = "5432"
		} else {
			cfg.Port = "3306"
		}
	}
	return cfg
}

func dialectFromConfig(t *testing.T, cfg Config) sqlctx.Dialect {
	t.Helper()
	switch strings.ToLower(cfg.Dialect) {
	case "mysql":
		return sqlctx.MySQL
	case "postgres", "postgresql", "pg":
		return sqlctx.Postgres
	default:
		t.Fatalf("unsupported TABLEGRAPH_TEST_DIALECT: %q", cfg.Dialect)
		return 0
	}
}

func openMaintenance(t *testing.T, cfg Config, dialect sqlctx.Dialect) *sql.DB {
	t.Helper()

	db, err := sql.Open(dialect.DriverName(), buildDSN(cfg, dialect, maintenanceDatabase(dialect)))
	if err != nil {
		t.Fatalf("failed to connect to %s: %v", dialect, err)
	}
	configurePool(db)
	if err := db.Ping(); err != nil {
		_ = db.Close()
		t.Fatalf("failed to ping %s: %v", dialect, err)
	}
	return db
}

func maintenanceDatabase(dialect sqlctx.Dialect) string {
	if dialect == sqlctx.Postgres {
		return "postgres"
	}
	return "information_schema"
}

func buildDSN(cfg Config, dialect sqlctx.Dialect, database string) string {
	if dialect == sqlctx.Postgres {
		u := url.URL{
			Scheme: "postgres",
			User:   url.UserPassword(cfg.User, cfg.Password),
			Host:   cfg.Host + ":" + cfg.Port,
			Path:   "/" + database,
		}
		sslMode := cfg.TLSMode
		if sslMode == "" {
			sslMode = "disable"
		}
		u.RawQuery = "sslmode=" + url.QueryEscape(sslMode)
		return u.String()
	}

	dsn := fmt.Sprintf("%s:%s@tcp(%s:%s)/%s?parseTime=true",
		cfg.User, cfg.Password, cfg.Host, cfg.Port, database)
	if cfg.TLSMode != "" {
		dsn += "&tls=" + cfg.TLSMode
	}
	return dsn
}

func configurePool(db *sql.DB) {
	db.SetMaxOpenConns(5)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(5 * time.Minute)
}

func quoteIdent(dialect sqlctx.Dialect, name string) string {
	if dialect == sqlctx.Postgres {
		return `"` + name + `"`
	}
	return "`" + name + "`"
}

// sanitizeName makes a test name safe for use in a database name. Database
// names are limited to 64 characters and keep only alphanumerics and
// underscores here.
func sanitizeName(name string) string {
	var result strings.Builder
	for _, ch := range strings.ToLower(name) {
		if (ch >= 'a' && ch <= 'z') || (ch >= '0' && ch <= '9') {
			result.WriteRune(ch)
		} else {
			result.WriteRune('_')
		}
	}

	sanitized := result.String()
	if len(sanitized) > 40 {
		sanitized = sanitized[:40]
	}
	return sanitized
}

// isValidDatabaseName rejects names that could break out of the quoted
// CREATE/DROP DATABASE statements.
func isValidDatabaseName(name string) bool {
	if name == "" || len(name) > 64 {
		return false
	}
	for _, ch := range name {
		if !((ch >= 'a' && ch <= 'z') || (ch >= 'A' && ch <= 'Z') || (ch >= '0' && ch <= '9') || ch == '_') {
			return false
		}
	}
	return true
}
