package config

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/go-sql-driver/mysql"
)

// Dialect name constants accepted by database.dialect.
const (
	DialectMySQL    = "mysql"
	DialectPostgres = "postgres"
)

// NormalizedDialect returns the canonical dialect name, folding case and the
// "postgresql" alias. Unknown dialects are returned lowercased for the
// validator to reject.
func (d *DatabaseConfig) NormalizedDialect() string {
	dialect := strings.ToLower(strings.TrimSpace(d.Dialect))
	if dialect == "postgresql" || dialect == "pg" {
		return DialectPostgres
	}
	return dialect
}

// EffectivePort returns the configured port, or the dialect default when
// the port is zero.
func (d *DatabaseConfig) EffectivePort() int {
	if d.Port != 0 {
		return d.Port
	}
	if d.NormalizedDialect() == DialectPostgres {
		return 5432
	}
	return 3306
}

// DSN returns the data source name for the configured dialect.
//
// For MySQL the DSN always carries parseTime=true, loc=UTC and
// clientFoundRows=true; the last one makes UPDATE report matched rows
// rather than changed rows, which the mutation row counts rely on.
// An explicit ConnectionString is used as-is apart from those parameters.
func (d *DatabaseConfig) DSN() string {
	if d.NormalizedDialect() == DialectPostgres {
		return d.postgresDSN()
	}
	return d.mysqlDSN()
}

func (d *DatabaseConfig) mysqlDSN() string {
	dsn := d.ConnectionString
	if dsn == "" {
		dsn = fmt.Sprintf("%s:%s@tcp(%s:%d)/%s",
			d.User, d.Password, d.Host, d.EffectivePort(), d.Database)
	}
	for _, p := range [...][2]string{
		{"parseTime", "parseTime=true"},
		{"loc=", "loc=UTC"},
		{"clientFoundRows", "clientFoundRows=true"},
	} {
		dsn = ensureMySQLParam(dsn, p[0], p[1])
	}
	return dsn
}

// ensureMySQLParam appends a query parameter to a MySQL DSN unless a
// parameter with the given marker is already present.
func ensureMySQLParam(dsn, marker, param string) string {
	if strings.Contains(dsn, marker) {
		return dsn
	}
	if strings.Contains(dsn, "?") {
		return dsn + "&" + param
	}
	return dsn + "?" + param
}

func (d *DatabaseConfig) postgresDSN() string {
	if d.ConnectionString != "" {
		return d.ConnectionString
	}
	u := url.URL{
		Scheme: "postgres",
		Host:   fmt.Sprintf("%s:%d", d.Host, d.EffectivePort()),
		Path:   "/" + d.Database,
	}
	if d.User != "" {
		if d.Password != "" {
			u.User = url.UserPassword(d.User, d.Password)
		} else {
			u.User = url.User(d.User)
		}
	}
	return u.String()
}

// EffectiveDatabaseName returns the canonical database name together with
// the config source it came from. The database field and a DSN that names a
// database must agree; a silent mismatch would introspect one database and
// query another.
func (d *DatabaseConfig) EffectiveDatabaseName() (name string, source string, err error) {
	fromConfig := strings.TrimSpace(d.Database)
	fromDSN, err := d.parseDSNDatabaseName()
	if err != nil {
		return "", "", err
	}

	switch {
	case fromConfig != "" && fromDSN != "" && fromConfig != fromDSN:
		return "", "", fmt.Errorf("database mismatch: database.database=%q but database.dsn targets %q",
			fromConfig, fromDSN)
	case fromConfig != "":
		return fromConfig, "database.database", nil
	case fromDSN != "":
		return fromDSN, "dsn", nil
	}
	return "", "", fmt.Errorf("no database name configured: set database.database or include /<database> in database.dsn")
}

// IntrospectionSchema returns the schema name table introspection should
// target: the database itself for MySQL, the configured schema (default
// "public") for Postgres.
func (d *DatabaseConfig) IntrospectionSchema() (string, error) {
	if d.NormalizedDialect() == DialectPostgres {
		schema := strings.TrimSpace(d.Schema)
		if schema == "" {
			schema = "public"
		}
		return schema, nil
	}
	name, _, err := d.EffectiveDatabaseName()
	return name, err
}

func (d *DatabaseConfig) parseDSNDatabaseName() (string, error) {
	dsn := strings.TrimSpace(d.ConnectionString)
	switch {
	case dsn == "":
		return "", nil
	case d.NormalizedDialect() == DialectPostgres:
		return parsePostgresDSNDatabase(dsn)
	}

	parsed, err := mysql.ParseDSN(dsn)
	if err != nil {
		return "", fmt.Errorf("database.dsn is invalid: %w", err)
	}
	return strings.TrimSpace(parsed.DBName), nil
}

// parsePostgresDSNDatabase extracts the database name from either a
// postgres:// URL or a keyword/value connection string.
func parsePostgresDSNDatabase(dsn string) (string, error) {
	if strings.Contains(dsn, "://") {
		u, err := url.Parse(dsn)
		if err != nil {
			return "", fmt.Errorf("database.dsn is invalid: %w", err)
		}
		return strings.TrimPrefix(u.Path, "/"), nil
	}
	for _, field := range strings.Fields(dsn) {
		if value, ok := strings.CutPrefix(field, "dbname="); ok {
			return strings.Trim(value, "'"), nil
		}
	}
	return "", nil
}
