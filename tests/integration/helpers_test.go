//go:build integration
// +build integration

package integration

import (
	"context"
	"testing"

	"tablegraph"
	"tablegraph/internal/logging"
	"tablegraph/internal/testutil/dbtest"
	"tablegraph/sqlctx"

	"github.com/graphql-go/graphql"
	"github.com/stretchr/testify/require"
)

func testLogger() *logging.Logger {
	return logging.New(logging.Config{Level: "error", Format: "text"})
}

// seedBlog creates a small blog structure: users with a one-to-many posts
// relation, seeded with two users and three posts.
func seedBlog(t *testing.T, tdb *dbtest.TestDB) {
	t.Helper()

	if tdb.Dialect == sqlctx.Postgres {
		tdb.Exec(t,
			`CREATE TABLE users (
				id SERIAL PRIMARY KEY,
				name TEXT NOT NULL,
				email TEXT
			)`,
			`CREATE TABLE posts (
				id SERIAL PRIMARY KEY,
				user_id INT NOT NULL REFERENCES users(id),
				title TEXT NOT NULL
			)`,
		)
	} else {
		tdb.Exec(t,
			`CREATE TABLE users (
				id INT AUTO_INCREMENT PRIMARY KEY,
				name VARCHAR(100) NOT NULL,
				email VARCHAR(100)
			)`,
			`CREATE TABLE posts (
				id INT AUTO_INCREMENT PRIMARY KEY,
				user_id INT NOT NULL,
				title VARCHAR(200) NOT NULL,
				FOREIGN KEY (user_id) REFERENCES users(id)
			)`,
		)
	}

	tdb.Exec(t,
		`INSERT INTO users (name, email) VALUES ('Ada', 'ada@example.com'), ('Grace', NULL)`,
		`INSERT INTO posts (user_id, title) VALUES (1, 'Hello'), (1, 'Again'), (2, 'Notes')`,
	)
}

// buildSchema introspects the test database and registers every table.
func buildSchema(t *testing.T, tdb *dbtest.TestDB) graphql.Schema {
	t.Helper()

	ctx := context.Background()
	catalog, err := sqlctx.Attach(ctx, tdb.DB, tdb.Dialect, tdb.Schema(), sqlctx.WithLogger(testLogger().Logger))
	require.NoError(t, err)

	engine := tablegraph.New(tablegraph.WithLogger(testLogger().Logger))
	for _, name := range catalog.Tables() {
		table, ok := catalog.Table(name)
		require.True(t, ok)
		require.NoError(t, engine.RegisterTable(ctx, table))
	}

	schema, err := engine.BuildSchema()
	require.NoError(t, err)
	return schema
}

func execute(t *testing.T, schema graphql.Schema, query string) *graphql.Result {
	t.Helper()
	return graphql.Do(graphql.Params{
		Schema:        schema,
		RequestString: query,
		Context:       context.Background(),
	})
}

func dataRows(t *testing.T, result *graphql.Result, field string) []any {
	t.Helper()
	require.Empty(t, result.Errors, "query should not fail")
	data, ok := result.Data.(map[string]any)
	require.True(t, ok, "result data should be an object")
	rows, ok := data[field].([]any)
	require.True(t, ok, "field %s should resolve to a list", field)
	return rows
}

func dataObject(t *testing.T, result *graphql.Result, field string) map[string]any {
	t.Helper()
	require.Empty(t, result.Errors, "mutation should not fail")
	data, ok := result.Data.(map[string]any)
	require.True(t, ok, "result data should be an object")
	obj, ok := data[field].(map[string]any)
	require.True(t, ok, "field %s should resolve to an object", field)
	return obj
}

func countRows(t *testing.T, tdb *dbtest.TestDB, table string) int {
	t.Helper()
	var count int
	require.NoError(t, tdb.DB.QueryRow("SELECT COUNT(*) FROM "+table).Scan(&count))
	return count
}
