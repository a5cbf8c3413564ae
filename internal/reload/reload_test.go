package reload

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tablegraph/internal/logging"
	"tablegraph/internal/tableselect"
	"tablegraph/sqlctx"
)

const (
	tablesPattern      = `FROM INFORMATION_SCHEMA\.TABLES`
	columnsPattern     = `FROM INFORMATION_SCHEMA\.COLUMNS`
	primaryKeysPattern = `CONSTRAINT_NAME = 'PRIMARY'`
	foreignKeysPattern = `REFERENCED_TABLE_NAME IS NOT NULL`
)

func testLogger() *logging.Logger {
	handler := slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelInfo})
	return &logging.Logger{Logger: slog.New(handler)}
}

// expectIntrospection queues one full MySQL introspection round for a
// single users table. withEmail adds a column, changing the structure.
func expectIntrospection(mock sqlmock.Sqlmock, withEmail bool) {
	mock.ExpectQuery(tablesPattern).WithArgs("appdb").
		WillReturnRows(sqlmock.NewRows([]string{"TABLE_NAME"}).AddRow("users"))

	columns := sqlmock.NewRows([]string{"COLUMN_NAME", "DATA_TYPE", "COLUMN_TYPE", "IS_NULLABLE", "EXTRA"}).
		AddRow("id", "int", "int(11)", "NO", "auto_increment").
		AddRow("name", "varchar", "varchar(255)", "NO", "")
	if withEmail {
		columns.AddRow("email", "varchar", "varchar(255)", "YES", "")
	}
	mock.ExpectQuery(columnsPattern).WithArgs("appdb", "users").WillReturnRows(columns)
	mock.ExpectQuery(primaryKeysPattern).WithArgs("appdb", "users").
		WillReturnRows(sqlmock.NewRows([]string{"COLUMN_NAME"}).AddRow("id"))
	mock.ExpectQuery(foreignKeysPattern).WithArgs("appdb", "users").
		WillReturnRows(sqlmock.NewRows([]string{"CONSTRAINT_NAME", "COLUMN_NAME", "REFERENCED_TABLE_NAME", "REFERENCED_COLUMN_NAME"}))
}

func newTestManager(t *testing.T, cfg Config) (*Manager, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = db.Close()
	})

	expectIntrospection(mock, false)

	cfg.DB = db
	cfg.Dialect = sqlctx.MySQL
	cfg.SchemaName = "appdb"
	cfg.Logger = testLogger()
	manager, err := NewManager(context.Background(), cfg)
	require.NoError(t, err)
	return manager, mock
}

func TestNewManager_BuildsInitialSnapshot(t *testing.T) {
	manager, mock := newTestManager(t, Config{})

	require.NoError(t, mock.ExpectationsWereMet())

	snapshot := manager.CurrentSnapshot()
	require.NotNil(t, snapshot)
	assert.Equal(t, []string{"users"}, snapshot.Tables)
	assert.Len(t, snapshot.Version, versionLength)
	assert.Equal(t, snapshot.Version, manager.Version())
	assert.False(t, snapshot.BuiltAt.IsZero())

	require.NotNil(t, snapshot.Schema)
	assert.Contains(t, snapshot.Schema.QueryType().Fields(), "users")
	require.NotNil(t, snapshot.Schema.MutationType())
	assert.Contains(t, snapshot.Schema.MutationType().Fields(), "insertUser")
}

func TestNewManager_RequiresDatabase(t *testing.T) {
	_, err := NewManager(context.Background(), Config{Logger: testLogger()})
	require.Error(t, err)
}

func TestNewManager_FailsWhenIntrospectionFails(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer func() {
		_ = db.Close()
	}()

	mock.ExpectQuery(tablesPattern).WithArgs("appdb").
		WillReturnError(errors.New("connection refused"))

	_, err = NewManager(context.Background(), Config{
		DB:         db,
		Dialect:    sqlctx.MySQL,
		SchemaName: "appdb",
		Logger:     testLogger(),
	})
	require.Error(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestReloadOnce_UnchangedStructureKeepsSnapshot(t *testing.T) {
	manager, mock := newTestManager(t, Config{})
	first := manager.CurrentSnapshot()

	expectIntrospection(mock, false)
	manager.reloadOnce(context.Background())

	require.NoError(t, mock.ExpectationsWereMet())
	assert.Same(t, first, manager.CurrentSnapshot(), "matching digests should not swap the snapshot")
}

func TestReloadOnce_ChangedStructureSwapsSnapshot(t *testing.T) {
	manager, mock := newTestManager(t, Config{})
	first := manager.CurrentSnapshot()

	expectIntrospection(mock, true)
	manager.reloadOnce(context.Background())

	require.NoError(t, mock.ExpectationsWereMet())
	second := manager.CurrentSnapshot()
	require.NotSame(t, first, second)
	assert.NotEqual(t, first.Version, second.Version)
}

func TestReloadOnce_IntrospectionFailureKeepsSnapshot(t *testing.T) {
	manager, mock := newTestManager(t, Config{})
	first := manager.CurrentSnapshot()

	mock.ExpectQuery(tablesPattern).WithArgs("appdb").
		WillReturnError(errors.New("server gone"))
	manager.reloadOnce(context.Background())

	require.NoError(t, mock.ExpectationsWereMet())
	assert.Same(t, first, manager.CurrentSnapshot())
}

func TestRebuildNow_SwapsEvenWhenUnchanged(t *testing.T) {
	manager, mock := newTestManager(t, Config{})
	first := manager.CurrentSnapshot()

	expectIntrospection(mock, false)
	snapshot, err := manager.RebuildNow(context.Background())
	require.NoError(t, err)

	require.NoError(t, mock.ExpectationsWereMet())
	require.NotSame(t, first, snapshot)
	assert.Equal(t, first.Version, snapshot.Version)
	assert.Same(t, snapshot, manager.CurrentSnapshot())
}

func TestRegistrationPolicy(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer func() {
		_ = db.Close()
	}()

	mock.ExpectQuery(tablesPattern).WithArgs("appdb").
		WillReturnRows(sqlmock.NewRows([]string{"TABLE_NAME"}).
			AddRow("audit_log").AddRow("schema_migrations").AddRow("users"))
	for _, table := range []string{"audit_log", "schema_migrations", "users"} {
		mock.ExpectQuery(columnsPattern).WithArgs("appdb", table).
			WillReturnRows(sqlmock.NewRows([]string{"COLUMN_NAME", "DATA_TYPE", "COLUMN_TYPE", "IS_NULLABLE", "EXTRA"}).
				AddRow("id", "int", "int(11)", "NO", "auto_increment"))
		mock.ExpectQuery(primaryKeysPattern).WithArgs("appdb", table).
			WillReturnRows(sqlmock.NewRows([]string{"COLUMN_NAME"}).AddRow("id"))
		mock.ExpectQuery(foreignKeysPattern).WithArgs("appdb", table).
			WillReturnRows(sqlmock.NewRows([]string{"CONSTRAINT_NAME", "COLUMN_NAME", "REFERENCED_TABLE_NAME", "REFERENCED_COLUMN_NAME"}))
	}

	manager, err := NewManager(context.Background(), Config{
		DB:         db,
		Dialect:    sqlctx.MySQL,
		SchemaName: "appdb",
		Logger:     testLogger(),
		Tables: tableselect.Policy{
			Exclude:  []string{"schema_migrations"},
			ReadOnly: []string{"audit_*"},
		},
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())

	snapshot := manager.CurrentSnapshot()
	require.NotNil(t, snapshot)
	assert.Equal(t, []string{"audit_log", "users"}, snapshot.Tables)

	queryFields := snapshot.Schema.QueryType().Fields()
	assert.Contains(t, queryFields, "audit_log")
	assert.Contains(t, queryFields, "users")
	assert.NotContains(t, queryFields, "schema_migrations")

	require.NotNil(t, snapshot.Schema.MutationType())
	mutationFields := snapshot.Schema.MutationType().Fields()
	assert.Contains(t, mutationFields, "insertUser")
	assert.NotContains(t, mutationFields, "insertAuditLog", "read-only tables should not register mutations")
}

func TestHandler_ServesActiveSnapshotAcrossSwaps(t *testing.T) {
	manager, mock := newTestManager(t, Config{})
	endpoint := manager.Handler()

	post := func() *httptest.ResponseRecorder {
		recorder := httptest.NewRecorder()
		request := httptest.NewRequest(http.MethodPost, "/graphql",
			strings.NewReader(`{"query": "{ __typename }"}`))
		request.Header.Set("Content-Type", "application/json")
		endpoint.ServeHTTP(recorder, request)
		return recorder
	}

	recorder := post()
	assert.Equal(t, http.StatusOK, recorder.Code)
	assert.Contains(t, recorder.Body.String(), `"__typename"`)

	expectIntrospection(mock, true)
	_, err := manager.RebuildNow(context.Background())
	require.NoError(t, err)

	recorder = post()
	assert.Equal(t, http.StatusOK, recorder.Code, "the handler registered before the swap should serve the new snapshot")
}

func TestHandler_WithoutSnapshotRepliesServiceUnavailable(t *testing.T) {
	var manager Manager

	recorder := httptest.NewRecorder()
	request := httptest.NewRequest(http.MethodPost, "/graphql", nil)
	manager.Handler().ServeHTTP(recorder, request)

	assert.Equal(t, http.StatusServiceUnavailable, recorder.Code)
}

func TestCatalogVersion_IgnoresTableOrder(t *testing.T) {
	attach := func(first, second string) string {
		db, mock, err := sqlmock.New()
		require.NoError(t, err)
		defer func() {
			_ = db.Close()
		}()

		mock.ExpectQuery(tablesPattern).WithArgs("appdb").
			WillReturnRows(sqlmock.NewRows([]string{"TABLE_NAME"}).AddRow(first).AddRow(second))
		for _, table := range []string{first, second} {
			mock.ExpectQuery(columnsPattern).WithArgs("appdb", table).
				WillReturnRows(sqlmock.NewRows([]string{"COLUMN_NAME", "DATA_TYPE", "COLUMN_TYPE", "IS_NULLABLE", "EXTRA"}).
					AddRow("id", "int", "int(11)", "NO", "auto_increment"))
			mock.ExpectQuery(primaryKeysPattern).WithArgs("appdb", table).
				WillReturnRows(sqlmock.NewRows([]string{"COLUMN_NAME"}).AddRow("id"))
			mock.ExpectQuery(foreignKeysPattern).WithArgs("appdb", table).
				WillReturnRows(sqlmock.NewRows([]string{"CONSTRAINT_NAME", "COLUMN_NAME", "REFERENCED_TABLE_NAME", "REFERENCED_COLUMN_NAME"}))
		}

		catalog, err := sqlctx.Attach(context.Background(), db, sqlctx.MySQL, "appdb",
			sqlctx.WithLogger(testLogger().Logger))
		require.NoError(t, err)
		version, err := catalogVersion(context.Background(), catalog)
		require.NoError(t, err)
		return version
	}

	assert.Equal(t, attach("alpha", "beta"), attach("beta", "alpha"))
}
