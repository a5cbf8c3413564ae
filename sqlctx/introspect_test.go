package sqlctx

import (
	"context"
	"testing"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tablegraph/datactx"
	"tablegraph/internal/naming"
)

func expectMySQLTable(t *testing.T, mock sqlmock.Sqlmock, schema, table string, columns, primaryKeys, foreignKeys *sqlmock.Rows) {
	t.Helper()
	expectQuery(t, mock, mysqlColumnsSQL, []any{schema, table}, columns)
	expectQuery(t, mock, mysqlPrimaryKeysSQL, []any{schema, table}, primaryKeys)
	expectQuery(t, mock, mysqlForeignKeysSQL, []any{schema, table}, foreignKeys)
}

func mysqlColumnRows() *sqlmock.Rows {
	return sqlmock.NewRows([]string{"COLUMN_NAME", "DATA_TYPE", "COLUMN_TYPE", "IS_NULLABLE", "EXTRA"})
}

func keyRows(names ...string) *sqlmock.Rows {
	rows := sqlmock.NewRows([]string{"COLUMN_NAME"})
	for _, name := range names {
		rows.AddRow(name)
	}
	return rows
}

func fkRows() *sqlmock.Rows {
	return sqlmock.NewRows([]string{"CONSTRAINT_NAME", "COLUMN_NAME", "REFERENCED_TABLE_NAME", "REFERENCED_COLUMN_NAME"})
}

func tableColumns(t *testing.T, table *Table) []datactx.ColumnDescriptor {
	t.Helper()
	columns, err := table.Schema(context.Background())
	require.NoError(t, err)
	return columns
}

func tableRelationships(t *testing.T, table *Table) []datactx.RelationshipDescriptor {
	t.Helper()
	rels, err := table.Relationships(context.Background())
	require.NoError(t, err)
	return rels
}

func TestAttach_MySQLDerivesColumnsAndRelationships(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer func() {
		_ = db.Close()
	}()

	expectQuery(t, mock, mysqlTablesSQL, []any{"appdb"},
		sqlmock.NewRows([]string{"TABLE_NAME"}).
			AddRow("roles").AddRow("user_roles").AddRow("users"))

	expectMySQLTable(t, mock, "appdb", "roles",
		mysqlColumnRows().
			AddRow("id", "int", "int(11)", "NO", "auto_increment").
			AddRow("title", "varchar", "varchar(255)", "NO", ""),
		keyRows("id"),
		fkRows())
	expectMySQLTable(t, mock, "appdb", "user_roles",
		mysqlColumnRows().
			AddRow("id", "int", "int(11)", "NO", "auto_increment").
			AddRow("user_id", "int", "int(11)", "NO", "").
			AddRow("role_id", "int", "int(11)", "NO", ""),
		keyRows("id"),
		fkRows().
			AddRow("user_roles_ibfk_1", "user_id", "users", "id").
			AddRow("user_roles_ibfk_2", "role_id", "roles", "id"))
	expectMySQLTable(t, mock, "appdb", "users",
		mysqlColumnRows().
			AddRow("id", "int", "int(11)", "NO", "auto_increment").
			AddRow("first_name", "varchar", "varchar(255)", "NO", "").
			AddRow("last_name", "varchar", "varchar(255)", "YES", "").
			AddRow("age", "int", "int(11)", "YES", ""),
		keyRows("id"),
		fkRows())

	cat, err := Attach(context.Background(), db, MySQL, "appdb", WithLogger(discardLogger()))
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())

	assert.Equal(t, []string{"roles", "user_roles", "users"}, cat.Tables())

	users, ok := cat.Table("users")
	require.True(t, ok)
	schema := tableColumns(t, users)
	require.Len(t, schema, 4)
	assert.Equal(t, "id", schema[0].Name)
	assert.Equal(t, datactx.TypeInt, schema[0].Datatype)
	assert.True(t, schema[0].Identity)
	assert.True(t, schema[0].Primary)
	assert.False(t, schema[1].Nullable)
	assert.True(t, schema[2].Nullable)

	rels := tableRelationships(t, users)
	require.Len(t, rels, 1)
	assert.Equal(t, "UserRoles", rels[0].RelationKey)
	assert.Equal(t, datactx.OneToMany, rels[0].Cardinality)
	assert.Equal(t, "user_roles", rels[0].TableName)
	assert.Equal(t, "id", rels[0].LocalColumn)
	assert.Equal(t, "user_id", rels[0].ForeignColumn)
	require.Len(t, rels[0].Relationships, 1)
	assert.Equal(t, "Role", rels[0].Relationships[0].RelationKey)
	assert.Equal(t, datactx.OneToOne, rels[0].Relationships[0].Cardinality)

	junction, ok := cat.Table("user_roles")
	require.True(t, ok)
	var keys []string
	for _, rel := range tableRelationships(t, junction) {
		keys = append(keys, rel.RelationKey)
	}
	assert.Equal(t, []string{"User", "Role"}, keys)

	roles, ok := cat.Table("roles")
	require.True(t, ok)
	roleRels := tableRelationships(t, roles)
	require.Len(t, roleRels, 1)
	assert.Equal(t, "UserRoles", roleRels[0].RelationKey)
	assert.Equal(t, "role_id", roleRels[0].ForeignColumn)
	require.Len(t, roleRels[0].Relationships, 1)
	assert.Equal(t, "User", roleRels[0].Relationships[0].RelationKey)
}

func TestAttach_SkipsCompositeForeignKeys(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer func() {
		_ = db.Close()
	}()

	expectQuery(t, mock, mysqlTablesSQL, []any{"appdb"},
		sqlmock.NewRows([]string{"TABLE_NAME"}).
			AddRow("order_items").AddRow("orders"))

	expectMySQLTable(t, mock, "appdb", "order_items",
		mysqlColumnRows().
			AddRow("order_id", "int", "int(11)", "NO", "").
			AddRow("line_no", "int", "int(11)", "NO", ""),
		keyRows("order_id", "line_no"),
		fkRows().
			AddRow("oi_fk", "order_id", "orders", "id").
			AddRow("oi_fk", "line_no", "orders", "line_no"))
	expectMySQLTable(t, mock, "appdb", "orders",
		mysqlColumnRows().
			AddRow("id", "int", "int(11)", "NO", "auto_increment").
			AddRow("line_no", "int", "int(11)", "NO", ""),
		keyRows("id"),
		fkRows())

	cat, err := Attach(context.Background(), db, MySQL, "appdb", WithLogger(discardLogger()))
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())

	items, ok := cat.Table("order_items")
	require.True(t, ok)
	assert.Empty(t, tableRelationships(t, items))
	orders, ok := cat.Table("orders")
	require.True(t, ok)
	assert.Empty(t, tableRelationships(t, orders))
}

func TestAttach_MultipleLinksDisambiguateByColumn(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer func() {
		_ = db.Close()
	}()

	expectQuery(t, mock, mysqlTablesSQL, []any{"appdb"},
		sqlmock.NewRows([]string{"TABLE_NAME"}).
			AddRow("posts").AddRow("users"))

	expectMySQLTable(t, mock, "appdb", "posts",
		mysqlColumnRows().
			AddRow("id", "int", "int(11)", "NO", "auto_increment").
			AddRow("author_id", "int", "int(11)", "NO", "").
			AddRow("editor_id", "int", "int(11)", "YES", "").
			AddRow("title", "varchar", "varchar(255)", "NO", ""),
		keyRows("id"),
		fkRows().
			AddRow("posts_ibfk_1", "author_id", "users", "id").
			AddRow("posts_ibfk_2", "editor_id", "users", "id"))
	expectMySQLTable(t, mock, "appdb", "users",
		mysqlColumnRows().
			AddRow("id", "int", "int(11)", "NO", "auto_increment").
			AddRow("name", "varchar", "varchar(255)", "NO", ""),
		keyRows("id"),
		fkRows())

	cat, err := Attach(context.Background(), db, MySQL, "appdb", WithLogger(discardLogger()))
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())

	posts, ok := cat.Table("posts")
	require.True(t, ok)
	var postKeys []string
	for _, rel := range tableRelationships(t, posts) {
		postKeys = append(postKeys, rel.RelationKey)
	}
	assert.Equal(t, []string{"Author", "Editor"}, postKeys)

	users, ok := cat.Table("users")
	require.True(t, ok)
	var userKeys []string
	for _, rel := range tableRelationships(t, users) {
		userKeys = append(userKeys, rel.RelationKey)
	}
	assert.Equal(t, []string{"AuthorPosts", "EditorPosts"}, userKeys)
}

func TestAttach_PostgresIdentityAndGeneratedColumns(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer func() {
		_ = db.Close()
	}()

	expectQuery(t, mock, pgTablesSQL, []any{"public"},
		sqlmock.NewRows([]string{"table_name"}).AddRow("accounts"))
	expectQuery(t, mock, pgColumnsSQL, []any{"public", "accounts"},
		sqlmock.NewRows([]string{"column_name", "data_type", "is_nullable", "column_default", "is_identity", "is_generated"}).
			AddRow("id", "integer", "NO", "nextval('accounts_id_seq'::regclass)", "NO", "NEVER").
			AddRow("email", "character varying", "NO", nil, "NO", "NEVER").
			AddRow("created_at", "timestamp with time zone", "YES", nil, "NO", "NEVER").
			AddRow("search_text", "tsvector", "YES", nil, "NO", "ALWAYS"))
	expectQuery(t, mock, pgPrimaryKeysSQL, []any{"public", "accounts"}, keyRows("id"))
	expectQuery(t, mock, pgForeignKeysSQL, []any{"public", "accounts"},
		sqlmock.NewRows([]string{"constraint_name", "column_name", "table_name", "ref_column_name"}))

	cat, err := Attach(context.Background(), db, Postgres, "public", WithLogger(discardLogger()))
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())

	accounts, ok := cat.Table("accounts")
	require.True(t, ok)
	schema := tableColumns(t, accounts)
	require.Len(t, schema, 4)
	assert.True(t, schema[0].Identity, "serial default should mark the column as identity")
	assert.True(t, schema[0].Primary)
	assert.Equal(t, datactx.TypeString, schema[1].Datatype)
	assert.Equal(t, datactx.TypeDate, schema[2].Datatype)
	assert.True(t, schema[3].Virtual, "generated always should mark the column as virtual")
}

func TestDatatypeFromSQL(t *testing.T) {
	cases := []struct {
		dataType   string
		columnType string
		want       datactx.Datatype
	}{
		{"tinyint", "tinyint(1)", datactx.TypeBoolean},
		{"tinyint", "tinyint(4)", datactx.TypeInt},
		{"bigint", "bigint(20) unsigned", datactx.TypeInt},
		{"smallint", "smallint(6)", datactx.TypeInt},
		{"decimal", "decimal(10,2)", datactx.TypeFloat},
		{"double", "double", datactx.TypeFloat},
		{"double precision", "double precision", datactx.TypeFloat},
		{"boolean", "boolean", datactx.TypeBoolean},
		{"date", "date", datactx.TypeDate},
		{"datetime", "datetime", datactx.TypeDate},
		{"year", "year(4)", datactx.TypeDate},
		{"timestamp with time zone", "timestamp with time zone", datactx.TypeDate},
		{"varchar", "varchar(255)", datactx.TypeString},
		{"character varying", "character varying", datactx.TypeString},
		{"text", "text", datactx.TypeString},
		{"json", "json", datactx.TypeString},
		{"uuid", "uuid", datactx.TypeString},
	}
	for _, tc := range cases {
		t.Run(tc.dataType+"/"+tc.columnType, func(t *testing.T) {
			assert.Equal(t, tc.want, datatypeFromSQL(tc.dataType, tc.columnType))
		})
	}
}

func TestRelationKeyNaming(t *testing.T) {
	namer := naming.Default()

	assert.Equal(t, "User", oneToOneKey(namer, "users", "user_id", true))
	assert.Equal(t, "Author", oneToOneKey(namer, "users", "author_id", false))
	assert.Equal(t, "Parent", oneToOneKey(namer, "categories", "parentId", false))

	assert.Equal(t, "Posts", oneToManyKey(namer, "posts", "author_id", true))
	assert.Equal(t, "AuthorPosts", oneToManyKey(namer, "posts", "author_id", false))

	assert.Equal(t, "author", trimKeySuffix("author_id"))
	assert.Equal(t, "parent", trimKeySuffix("parentId"))
	assert.Equal(t, "id", trimKeySuffix("id"))
	assert.Equal(t, "owner", trimKeySuffix("owner"))
}
