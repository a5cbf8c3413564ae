package tablegraph

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/require"

	"tablegraph/datactx"
	"tablegraph/memctx"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func idColumn() datactx.ColumnDescriptor {
	return datactx.ColumnDescriptor{Name: "Id", Datatype: datactx.TypeInt, Identity: true, Primary: true}
}

/// userStore builds users -> user_roles -> roles with three users: John
// (roles Admin and Editor), Jane (Editor), Bob (no roles, null fields).
func userStore(t *testing.T) (*memctx.Store, *memctx.Table) {
	t.Helper()
	store := memctx.NewStore()

	roleColumns := []datactx.ColumnDescriptor{
		idColumn(),
		{Name: "Title", Datatype: datactx.TypeString},
	}
	roles := store.AddTable("roles", roleColumns, nil)

	roleRel := datactx.RelationshipDescriptor{
		RelationKey:   "Role",
		Cardinality:   datactx.OneToOne,
		TableName:     "roles",
		LocalColumn:   "RoleId",
		ForeignColumn: "Id",
		Columns:       roleColumns,
	}
	userRoleColumns := []datactx.ColumnDescriptor{
		idColumn(),
		{Name: "UserId", Datatype: datactx.TypeInt},
		{Name: "RoleId", Datatype: datactx.TypeInt},
	}
	userRoles := store.AddTable("user_roles", userRoleColumns, []datactx.RelationshipDescriptor{roleRel})

	users := store.AddTable("users", []datactx.ColumnDescriptor{
		idColumn(),
		{Name: "FirstName", Datatype: datactx.TypeString},
		{Name: "LastName", Datatype: datactx.TypeString, Nullable: true},
		{Name: "Age", Datatype: datactx.TypeInt, Nullable: true},
	}, []datactx.RelationshipDescriptor{{
		RelationKey:   "UserRoles",
		Cardinality:   datactx.OneToMany,
		TableName:     "user_roles",
		LocalColumn:   "Id",
		ForeignColumn: "UserId",
		Columns:       userRoleColumns,
		Relationships: []datactx.RelationshipDescriptor{roleRel},
	}})

	require.NoError(t, roles.Seed(
		datactx.Row{"Title": "Admin"},
		datactx.Row{"Title": "Editor"},
	))
	require.NoError(t, users.Seed(
		datactx.Row{"FirstName": "John", "LastName": "Smith", "Age": 34},
		datactx.Row{"FirstName": "Jane", "LastName": "Jones", "Age": 28},
		datactx.Row{"FirstName": "Bob"},
	))
	require.NoError(t, userRoles.Seed(
		datactx.Row{"UserId": 1, "RoleId": 1},
		datactx.Row{"UserId": 1, "RoleId": 2},
		datactx.Row{"UserId": 2, "RoleId": 2},
	))
	return store, users
}

// newUserEngine registers the users table on a fresh engine.
func newUserEngine(t *testing.T, opts ...RegisterOption) (*Engine, *memctx.Store) {
	t.Helper()
	store, users := userStore(t)
	e := New(WithLogger(discardLogger()))
	require.NoError(t, e.RegisterTable(context.Background(), users, opts...))
	return e, store
}

// spyCalls records what resolution asked of a data context.
type spyCalls struct {
	conds    []datactx.Cond
	includes []string
	skips    []int
	takes    []int
	columns  []string
	inserted []datactx.Row
	updates  []datactx.Row
	deletes  int
}

// spyCtx wraps a real context and records the chain, following derived
// contexts so the terminal call is observed too.
type spyCtx struct {
	datactx.Context
	calls *spyCalls
}

func newSpy(inner datactx.Context) (spyCtx, *spyCalls) {
	calls := &spyCalls{}
	return spyCtx{Context: inner, calls: calls}, calls
}

func (s spyCtx) Where(cond datactx.Cond) datactx.Context {
	s.calls.conds = append(s.calls.conds, cond)
	return spyCtx{Context: s.Context.Where(cond), calls: s.calls}
}

func (s spyCtx) Include(path string) datactx.Context {
	s.calls.includes = append(s.calls.includes, path)
	return spyCtx{Context: s.Context.Include(path), calls: s.calls}
}

func (s spyCtx) Skip(n int) datactx.Context {
	s.calls.skips = append(s.calls.skips, n)
	return spyCtx{Context: s.Context.Skip(n), calls: s.calls}
}

func (s spyCtx) Take(n int) datactx.Context {
	s.calls.takes = append(s.calls.takes, n)
	return spyCtx{Context: s.Context.Take(n), calls: s.calls}
}

func (s spyCtx) Select(ctx context.Context, columns []string) ([]datactx.Row, error) {
	s.calls.columns = columns
	return s.Context.Select(ctx, columns)
}

func (s spyCtx) Insert(ctx context.Context, record datactx.Row) ([]datactx.Row, error) {
	s.calls.inserted = append(s.calls.inserted, record)
	return s.Context.Insert(ctx, record)
}

func (s spyCtx) Update(ctx context.Context, set datactx.Row) (int64, error) {
	s.calls.updates = append(s.calls.updates, set)
	return s.Context.Update(ctx, set)
}

func (s spyCtx) Delete(ctx context.Context) (int64, error) {
	s.calls.deletes++
	return s.Context.Delete(ctx)
}
