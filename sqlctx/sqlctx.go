// Package sqlctx provides a datactx implementation backed by a relational
// database. Attach introspects information_schema once and yields a Catalog
// of tables; each table serves reads and writes through squirrel-built SQL
// with the dialect's quoting and placeholder style.
//
// On MySQL, open the connection with clientFoundRows=true so update counts
// report matched rows rather than changed rows.
package sqlctx

import (
	"context"
	"database/sql"
	"log/slog"

	sq "github.com/Masterminds/squirrel"
	_ "github.com/jackc/pgx/v5/stdlib" // registers the pgx database/sql driver

	"tablegraph/datactx"
)

// Dialect selects the SQL flavor used for identifier quoting, placeholders,
// introspection queries, and insert echo strategy.
type Dialect int

const (
	// MySQL covers MySQL-compatible servers, TiDB included.
	MySQL Dialect = iota
	// Postgres covers PostgreSQL via the pgx driver.
	Postgres
)

func (d Dialect) String() string {
	if d == Postgres {
		return "postgres"
	}
	return "mysql"
}

// DriverName returns the database/sql driver name for the dialect.
func (d Dialect) DriverName() string {
	if d == Postgres {
		return "pgx"
	}
	return "mysql"
}

func (d Dialect) placeholders() sq.PlaceholderFormat {
	if d == Postgres {
		return sq.Dollar
	}
	return sq.Question
}

// quoteIdentifier quotes a table or column name, escaping embedded quote
// characters by doubling them.
func (d Dialect) quoteIdentifier(name string) string {
	quote := "`"
	if d == Postgres {
		quote = `"`
	}
	escaped := make([]byte, 0, len(name)+2)
	escaped = append(escaped, quote...)
	for i := 0; i < len(name); i++ {
		if string(name[i]) == quote {
			escaped = append(escaped, quote...)
		}
		escaped = append(escaped, name[i])
	}
	return string(append(escaped, quote...))
}

// Open opens a database handle using the dialect's registered driver.
func Open(dialect Dialect, dsn string) (*sql.DB, error) {
	return sql.Open(dialect.DriverName(), dsn)
}

// Option configures a Catalog.
type Option func(*Catalog)

// WithLogger sets the logger used for introspection and query diagnostics.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Catalog) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// Catalog is the set of tables discovered in one database schema. It is
// immutable after Attach and safe for concurrent use.
type Catalog struct {
	db      *sql.DB
	dialect Dialect
	logger  *slog.Logger
	tables  map[string]*tableMeta
	order   []string
}

// Dialect returns the dialect the catalog was attached with.
func (c *Catalog) Dialect() Dialect {
	return c.dialect
}

// Tables returns the discovered table names in introspection order.
func (c *Catalog) Tables() []string {
	return append([]string(nil), c.order...)
}

// Table returns the data context for a table, or false when the catalog
// does not contain it.
func (c *Catalog) Table(name string) (*Table, bool) {
	meta, ok := c.tables[name]
	if !ok {
		return nil, false
	}
	return &Table{cat: c, meta: meta}, true
}

// tableMeta is the introspected shape of one table.
type tableMeta struct {
	name          string
	columns       []datactx.ColumnDescriptor
	relationships []datactx.RelationshipDescriptor
	// primary holds the primary key column names in key order.
	primary []string
	// identity names the auto-generated key column, empty when absent.
	identity string
}

func (m *tableMeta) column(name string) *datactx.ColumnDescriptor {
	for i := range m.columns {
		if m.columns[i].Name == name {
			return &m.columns[i]
		}
	}
	return nil
}

// Table implements datactx.Context over one introspected table.
type Table struct {
	cat  *Catalog
	meta *tableMeta
}

func (t *Table) Name() string {
	return t.meta.name
}

func (t *Table) Schema(ctx context.Context) ([]datactx.ColumnDescriptor, error) {
	return append([]datactx.ColumnDescriptor(nil), t.meta.columns...), nil
}

func (t *Table) Relationships(ctx context.Context) ([]datactx.RelationshipDescriptor, error) {
	return append([]datactx.RelationshipDescriptor(nil), t.meta.relationships...), nil
}

func (t *Table) Where(cond datactx.Cond) datactx.Context {
	return t.view().Where(cond)
}

func (t *Table) Include(path string) datactx.Context {
	return t.view().Include(path)
}

func (t *Table) Skip(n int) datactx.Context {
	return t.view().Skip(n)
}

func (t *Table) Take(n int) datactx.Context {
	return t.view().Take(n)
}

func (t *Table) Select(ctx context.Context, columns []string) ([]datactx.Row, error) {
	return t.view().Select(ctx, columns)
}

func (t *Table) Insert(ctx context.Context, record datactx.Row) ([]datactx.Row, error) {
	return t.view().Insert(ctx, record)
}

func (t *Table) Update(ctx context.Context, set datactx.Row) (int64, error) {
	return t.view().Update(ctx, set)
}

func (t *Table) Delete(ctx context.Context) (int64, error) {
	return t.view().Delete(ctx)
}

func (t *Table) view() view {
	return view{table: t}
}

// view carries one chain of conditions, includes, and pagination over a
// table. Derivation methods copy, so chains never share backing state.
type view struct {
	table    *Table
	conds    []datactx.Cond
	includes []string
	skip     int
	take     int
	hasSkip  bool
	hasTake  bool
}

func (v view) Name() string {
	return v.table.Name()
}

func (v view) Schema(ctx context.Context) ([]datactx.ColumnDescriptor, error) {
	return v.table.Schema(ctx)
}

func (v view) Relationships(ctx context.Context) ([]datactx.RelationshipDescriptor, error) {
	return v.table.Relationships(ctx)
}

func (v view) Where(cond datactx.Cond) datactx.Context {
	if cond.IsZero() {
		return v
	}
	conds := make([]datactx.Cond, 0, len(v.conds)+1)
	conds = append(conds, v.conds...)
	v.conds = append(conds, cond)
	return v
}

func (v view) Include(path string) datactx.Context {
	if path == "" {
		return v
	}
	includes := make([]string, 0, len(v.includes)+1)
	includes = append(includes, v.includes...)
	v.includes = append(includes, path)
	return v
}

func (v view) Skip(n int) datactx.Context {
	v.skip = n
	v.hasSkip = true
	return v
}

func (v view) Take(n int) datactx.Context {
	v.take = n
	v.hasTake = true
	return v
}
