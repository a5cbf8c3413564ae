package sqlctx

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"tablegraph/datactx"
	"tablegraph/internal/naming"
)

// maxRelationDepth bounds how deep introspected relationship trees nest.
// Tables already on the path are never revisited, so derived trees are
// always acyclic.
const maxRelationDepth = 3

// Attach introspects one database schema and returns a catalog of its
// tables. Relationships are derived from single-column foreign keys: the
// referencing table gets a one-to-one relation to its parent and the parent
// gets a one-to-many relation back.
func Attach(ctx context.Context, db *sql.DB, dialect Dialect, schemaName string, opts ...Option) (*Catalog, error) {
	cat := &Catalog{
		db:      db,
		dialect: dialect,
		logger:  slog.Default(),
		tables:  make(map[string]*tableMeta),
	}
	for _, opt := range opts {
		opt(cat)
	}

	ctx, span := startSpan(ctx, "sqlctx.attach",
		attribute.String("db.schema", schemaName),
		attribute.String("db.dialect", dialect.String()),
	)
	defer span.End()

	names, err := cat.tableNames(ctx, schemaName)
	if err != nil {
		recordSpanError(span, err)
		return nil, fmt.Errorf("list tables: %w", err)
	}

	foreignKeys := make(map[string][]foreignKey)
	for _, name := range names {
		columns, err := cat.loadColumns(ctx, schemaName, name)
		if err != nil {
			recordSpanError(span, err)
			return nil, fmt.Errorf("columns of %s: %w", name, err)
		}
		primary, err := cat.loadPrimaryKeys(ctx, schemaName, name)
		if err != nil {
			recordSpanError(span, err)
			return nil, fmt.Errorf("primary key of %s: %w", name, err)
		}
		fks, err := cat.loadForeignKeys(ctx, schemaName, name)
		if err != nil {
			recordSpanError(span, err)
			return nil, fmt.Errorf("foreign keys of %s: %w", name, err)
		}

		meta := &tableMeta{name: name, columns: columns, primary: primary}
		for i := range meta.columns {
			for _, pk := range primary {
				if meta.columns[i].Name == pk {
					meta.columns[i].Primary = true
				}
			}
			if meta.columns[i].Identity && meta.identity == "" {
				meta.identity = meta.columns[i].Name
			}
		}
		cat.tables[name] = meta
		cat.order = append(cat.order, name)
		foreignKeys[name] = fks
	}

	buildRelationships(cat, foreignKeys)

	cat.logger.Info("attached database schema",
		"schema", schemaName,
		"dialect", dialect.String(),
		"tables", len(cat.order),
	)
	return cat, nil
}

const mysqlTablesSQL = `
	SELECT TABLE_NAME
	FROM INFORMATION_SCHEMA.TABLES
	WHERE TABLE_SCHEMA = ? AND TABLE_TYPE = 'BASE TABLE'
	ORDER BY TABLE_NAME`

const pgTablesSQL = `
	SELECT table_name
	FROM information_schema.tables
	WHERE table_schema = $1 AND table_type = 'BASE TABLE'
	ORDER BY table_name`

func (c *Catalog) tableNames(ctx context.Context, schemaName string) ([]string, error) {
	ctx, span := startSpan(ctx, "sqlctx.table_names",
		attribute.String("db.schema", schemaName),
	)
	defer span.End()

	query := mysqlTablesSQL
	if c.dialect == Postgres {
		query = pgTablesSQL
	}
	rows, err := c.db.QueryContext(ctx, query, schemaName)
	if err != nil {
		recordSpanError(span, err)
		return nil, err
	}
	defer func() {
		_ = rows.Close()
	}()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			recordSpanError(span, err)
			return nil, err
		}
		names = append(names, name)
	}
	if err := rows.Err(); err != nil {
		recordSpanError(span, err)
		return nil, err
	}
	return names, nil
}

const mysqlColumnsSQL = `
	SELECT COLUMN_NAME, DATA_TYPE, COLUMN_TYPE, IS_NULLABLE, EXTRA
	FROM INFORMATION_SCHEMA.COLUMNS
	WHERE TABLE_SCHEMA = ? AND TABLE_NAME = ?
	ORDER BY ORDINAL_POSITION`

const pgColumnsSQL = `
	SELECT column_name, data_type, is_nullable, column_default, is_identity, is_generated
	FROM information_schema.columns
	WHERE table_schema = $1 AND table_name = $2
	ORDER BY ordinal_position`

func (c *Catalog) loadColumns(ctx context.Context, schemaName, tableName string) ([]datactx.ColumnDescriptor, error) {
	ctx, span := startSpan(ctx, "sqlctx.load_columns",
		attribute.String("db.schema", schemaName),
		attribute.String("db.table", tableName),
	)
	defer span.End()

	if c.dialect == Postgres {
		cols, err := c.loadColumnsPostgres(ctx, schemaName, tableName)
		recordSpanError(span, err)
		return cols, err
	}
	cols, err := c.loadColumnsMySQL(ctx, schemaName, tableName)
	recordSpanError(span, err)
	return cols, err
}

func (c *Catalog) loadColumnsMySQL(ctx context.Context, schemaName, tableName string) ([]datactx.ColumnDescriptor, error) {
	rows, err := c.db.QueryContext(ctx, mysqlColumnsSQL, schemaName, tableName)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = rows.Close()
	}()

	var columns []datactx.ColumnDescriptor
	for rows.Next() {
		var name, dataType, columnType, isNullable, extra string
		if err := rows.Scan(&name, &dataType, &columnType, &isNullable, &extra); err != nil {
			return nil, err
		}
		extraLower := strings.ToLower(extra)
		columns = append(columns, datactx.ColumnDescriptor{
			Name:     name,
			Datatype: datatypeFromSQL(dataType, columnType),
			Nullable: strings.EqualFold(isNullable, "YES"),
			Identity: strings.Contains(extraLower, "auto_increment") || strings.Contains(extraLower, "auto_random"),
			// MySQL 8 reports DEFAULT_GENERATED for expression defaults, so
			// match the generated-column forms explicitly.
			Virtual: strings.Contains(extraLower, "virtual generated") || strings.Contains(extraLower, "stored generated"),
		})
	}
	return columns, rows.Err()
}

func (c *Catalog) loadColumnsPostgres(ctx context.Context, schemaName, tableName string) ([]datactx.ColumnDescriptor, error) {
	rows, err := c.db.QueryContext(ctx, pgColumnsSQL, schemaName, tableName)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = rows.Close()
	}()

	var columns []datactx.ColumnDescriptor
	for rows.Next() {
		var name, dataType, isNullable, isIdentity, isGenerated string
		var columnDefault sql.NullString
		if err := rows.Scan(&name, &dataType, &isNullable, &columnDefault, &isIdentity, &isGenerated); err != nil {
			return nil, err
		}
		serial := columnDefault.Valid && strings.HasPrefix(columnDefault.String, "nextval(")
		columns = append(columns, datactx.ColumnDescriptor{
			Name:     name,
			Datatype: datatypeFromSQL(dataType, dataType),
			Nullable: strings.EqualFold(isNullable, "YES"),
			Identity: strings.EqualFold(isIdentity, "YES") || serial,
			Virtual:  strings.EqualFold(isGenerated, "ALWAYS"),
		})
	}
	return columns, rows.Err()
}

const mysqlPrimaryKeysSQL = `
	SELECT COLUMN_NAME
	FROM INFORMATION_SCHEMA.KEY_COLUMN_USAGE
	WHERE TABLE_SCHEMA = ? AND TABLE_NAME = ? AND CONSTRAINT_NAME = 'PRIMARY'
	ORDER BY ORDINAL_POSITION`

const pgPrimaryKeysSQL = `
	SELECT kcu.column_name
	FROM information_schema.table_constraints tc
	JOIN information_schema.key_column_usage kcu
		ON kcu.constraint_name = tc.constraint_name AND kcu.table_schema = tc.table_schema
	WHERE tc.table_schema = $1 AND tc.table_name = $2 AND tc.constraint_type = 'PRIMARY KEY'
	ORDER BY kcu.ordinal_position`

func (c *Catalog) loadPrimaryKeys(ctx context.Context, schemaName, tableName string) ([]string, error) {
	ctx, span := startSpan(ctx, "sqlctx.load_primary_keys",
		attribute.String("db.schema", schemaName),
		attribute.String("db.table", tableName),
	)
	defer span.End()

	query := mysqlPrimaryKeysSQL
	if c.dialect == Postgres {
		query = pgPrimaryKeysSQL
	}
	rows, err := c.db.QueryContext(ctx, query, schemaName, tableName)
	if err != nil {
		recordSpanError(span, err)
		return nil, err
	}
	defer func() {
		_ = rows.Close()
	}()

	var keys []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			recordSpanError(span, err)
			return nil, err
		}
		keys = append(keys, name)
	}
	if err := rows.Err(); err != nil {
		recordSpanError(span, err)
		return nil, err
	}
	return keys, nil
}

// foreignKey is one column of a foreign key constraint.
type foreignKey struct {
	constraint string
	column     string
	refTable   string
	refColumn  string
}

const mysqlForeignKeysSQL = `
	SELECT CONSTRAINT_NAME, COLUMN_NAME, REFERENCED_TABLE_NAME, REFERENCED_COLUMN_NAME
	FROM INFORMATION_SCHEMA.KEY_COLUMN_USAGE
	WHERE TABLE_SCHEMA = ? AND TABLE_NAME = ? AND REFERENCED_TABLE_NAME IS NOT NULL
	ORDER BY CONSTRAINT_NAME, ORDINAL_POSITION`

const pgForeignKeysSQL = `
	SELECT tc.constraint_name, kcu.column_name, ccu.table_name, ccu.column_name
	FROM information_schema.table_constraints tc
	JOIN information_schema.key_column_usage kcu
		ON kcu.constraint_name = tc.constraint_name AND kcu.table_schema = tc.table_schema
	JOIN information_schema.constraint_column_usage ccu
		ON ccu.constraint_name = tc.constraint_name AND ccu.table_schema = tc.table_schema
	WHERE tc.table_schema = $1 AND tc.table_name = $2 AND tc.constraint_type = 'FOREIGN KEY'
	ORDER BY tc.constraint_name, kcu.ordinal_position`

func (c *Catalog) loadForeignKeys(ctx context.Context, schemaName, tableName string) ([]foreignKey, error) {
	ctx, span := startSpan(ctx, "sqlctx.load_foreign_keys",
		attribute.String("db.schema", schemaName),
		attribute.String("db.table", tableName),
	)
	defer span.End()

	query := mysqlForeignKeysSQL
	if c.dialect == Postgres {
		query = pgForeignKeysSQL
	}
	rows, err := c.db.QueryContext(ctx, query, schemaName, tableName)
	if err != nil {
		recordSpanError(span, err)
		return nil, err
	}
	defer func() {
		_ = rows.Close()
	}()

	var fks []foreignKey
	for rows.Next() {
		var fk foreignKey
		if err := rows.Scan(&fk.constraint, &fk.column, &fk.refTable, &fk.refColumn); err != nil {
			recordSpanError(span, err)
			return nil, err
		}
		fks = append(fks, fk)
	}
	if err := rows.Err(); err != nil {
		recordSpanError(span, err)
		return nil, err
	}
	return fks, nil
}

// link is one usable single-column foreign key edge between two tables.
type link struct {
	parent    string
	child     string
	parentCol string
	childCol  string
	// only reports whether this is the sole link between the pair, which
	// decides the relation key naming.
	only bool
}

// buildRelationships derives each table's relationship tree from the
// collected foreign keys. Composite constraints are skipped.
func buildRelationships(cat *Catalog, foreignKeys map[string][]foreignKey) {
	var links []link
	pairCount := make(map[string]int)
	for _, child := range cat.order {
		byConstraint := make(map[string][]foreignKey)
		var constraintOrder []string
		for _, fk := range foreignKeys[child] {
			if _, seen := byConstraint[fk.constraint]; !seen {
				constraintOrder = append(constraintOrder, fk.constraint)
			}
			byConstraint[fk.constraint] = append(byConstraint[fk.constraint], fk)
		}
		for _, name := range constraintOrder {
			group := byConstraint[name]
			if len(group) != 1 {
				cat.logger.Warn("skipping composite foreign key",
					"table", child,
					"constraint", name,
					"columns", len(group),
				)
				continue
			}
			fk := group[0]
			if _, ok := cat.tables[fk.refTable]; !ok {
				continue
			}
			links = append(links, link{
				parent:    fk.refTable,
				child:     child,
				parentCol: fk.refColumn,
				childCol:  fk.column,
			})
			pairCount[child+"\x00"+fk.refTable]++
		}
	}
	for i := range links {
		links[i].only = pairCount[links[i].child+"\x00"+links[i].parent] == 1
	}

	namer := naming.Default()
	for _, name := range cat.order {
		meta := cat.tables[name]
		meta.relationships = relationsFor(cat, namer, links, name, map[string]struct{}{name: {}}, maxRelationDepth)
	}
}

func relationsFor(cat *Catalog, namer *naming.Namer, links []link, table string, onPath map[string]struct{}, depth int) []datactx.RelationshipDescriptor {
	if depth == 0 {
		return nil
	}

	var rels []datactx.RelationshipDescriptor
	seen := make(map[string]struct{})
	add := func(key string, cardinality datactx.Cardinality, related, localCol, foreignCol string) {
		if _, dup := seen[key]; dup {
			cat.logger.Warn("duplicate relation key derived from foreign keys",
				"table", table,
				"relation", key,
				"related", related,
			)
			return
		}
		seen[key] = struct{}{}

		nested := make(map[string]struct{}, len(onPath)+1)
		for k := range onPath {
			nested[k] = struct{}{}
		}
		nested[related] = struct{}{}

		rels = append(rels, datactx.RelationshipDescriptor{
			RelationKey:   key,
			Cardinality:   cardinality,
			TableName:     related,
			LocalColumn:   localCol,
			ForeignColumn: foreignCol,
			Columns:       append([]datactx.ColumnDescriptor(nil), cat.tables[related].columns...),
			Relationships: relationsFor(cat, namer, links, related, nested, depth-1),
		})
	}

	for _, l := range links {
		if l.child == table {
			if _, visited := onPath[l.parent]; !visited {
				add(oneToOneKey(namer, l.parent, l.childCol, l.only), datactx.OneToOne, l.parent, l.childCol, l.parentCol)
			}
		}
	}
	for _, l := range links {
		if l.parent == table {
			if _, visited := onPath[l.child]; !visited {
				add(oneToManyKey(namer, l.child, l.childCol, l.only), datactx.OneToMany, l.child, l.parentCol, l.childCol)
			}
		}
	}
	return rels
}

// oneToOneKey names a child table's reference to its parent, e.g.
// user_roles.role_id -> "Role". With several links to the same parent the
// foreign key column disambiguates: author_id -> "Author".
func oneToOneKey(namer *naming.Namer, parent, fkColumn string, only bool) string {
	if only {
		return naming.ToPascalCase(namer.Singularize(parent))
	}
	base := trimKeySuffix(fkColumn)
	if base == "" {
		base = namer.Singularize(parent)
	}
	return naming.ToPascalCase(base)
}

// oneToManyKey names a parent table's collection of referencing rows, e.g.
// users <- user_roles -> "UserRoles", or "AuthorPosts" when the child holds
// several links to the parent.
func oneToManyKey(namer *naming.Namer, child, fkColumn string, only bool) string {
	if only {
		return naming.ToPascalCase(child)
	}
	base := trimKeySuffix(fkColumn)
	if base == "" {
		return naming.ToPascalCase(child)
	}
	return naming.ToPascalCase(base) + naming.ToPascalCase(child)
}

func trimKeySuffix(column string) string {
	lower := strings.ToLower(column)
	if strings.HasSuffix(lower, "_id") {
		return column[:len(column)-3]
	}
	if lower != "id" && strings.HasSuffix(lower, "id") {
		return column[:len(column)-2]
	}
	return column
}

// datatypeFromSQL maps an information_schema data type to a descriptor
// category. columnType carries the full MySQL type so tinyint(1) can map to
// boolean.
func datatypeFromSQL(dataType, columnType string) datactx.Datatype {
	base := strings.ToLower(dataType)
	if idx := strings.Index(base, "("); idx != -1 {
		base = base[:idx]
	}
	switch base {
	case "tinyint":
		if strings.HasPrefix(strings.ToLower(columnType), "tinyint(1)") {
			return datactx.TypeBoolean
		}
		return datactx.TypeInt
	case "smallint", "mediumint", "int", "integer", "bigint",
		"serial", "smallserial", "bigserial", "bit":
		return datactx.TypeInt
	case "float", "double", "double precision", "real", "decimal", "numeric":
		return datactx.TypeFloat
	case "bool", "boolean":
		return datactx.TypeBoolean
	case "date", "datetime", "timestamp", "time", "year",
		"timestamp with time zone", "timestamp without time zone",
		"time with time zone", "time without time zone":
		return datactx.TypeDate
	default:
		return datactx.TypeString
	}
}

func startSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	tracer := otel.Tracer("tablegraph/sqlctx")
	ctx, span := tracer.Start(ctx, name)
	if len(attrs) > 0 {
		span.SetAttributes(attrs...)
	}
	return ctx, span
}

func recordSpanError(span trace.Span, err error) {
	if err == nil {
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}
