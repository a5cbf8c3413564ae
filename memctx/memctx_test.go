package memctx

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tablegraph/datactx"
)

func intCol(name string) datactx.ColumnDescriptor {
	return datactx.ColumnDescriptor{Name: name, Datatype: datactx.TypeInt}
}

func idCol() datactx.ColumnDescriptor {
	return datactx.ColumnDescriptor{Name: "Id", Datatype: datactx.TypeInt, Identity: true, Primary: true}
}

// newUserStore builds users -> user_roles -> roles with seeded rows:
// John (two roles), Jane (one role), Bob (none).
func newUserStore(t *testing.T) (*Store, *Table) {
	t.Helper()
	store := NewStore()

	roleColumns := []datactx.ColumnDescriptor{
		idCol(),
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
	userRoleColumns := []datactx.ColumnDescriptor{idCol(), intCol("UserId"), intCol("RoleId")}
	userRoles := store.AddTable("user_roles", userRoleColumns, []datactx.RelationshipDescriptor{roleRel})

	users := store.AddTable("users", []datactx.ColumnDescriptor{
		idCol(),
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

func TestInsert_AssignsSequentialIdentity(t *testing.T) {
	_, users := newUserStore(t)

	rows, err := users.Insert(context.Background(), datactx.Row{"FirstName": "Dana"})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.EqualValues(t, 4, rows[0]["Id"])
	assert.Equal(t, "Dana", rows[0]["FirstName"])
	assert.Nil(t, rows[0]["LastName"])
}

func TestInsert_RejectsNullRequiredColumn(t *testing.T) {
	_, users := newUserStore(t)

	_, err := users.Insert(context.Background(), datactx.Row{"LastName": "Nameless"})
	require.Error(t, err)
	assert.ErrorIs(t, err, datactx.ErrWriteRejected)
}

func TestInsert_RejectsUnknownColumn(t *testing.T) {
	_, users := newUserStore(t)

	_, err := users.Insert(context.Background(), datactx.Row{"FirstName": "Eve", "Nope": 1})
	assert.ErrorIs(t, err, datactx.ErrUnknownColumn)
}

func TestInsert_ExplicitIdentityAdvancesSequence(t *testing.T) {
	store := NewStore()
	things := store.AddTable("things", []datactx.ColumnDescriptor{
		idCol(),
		{Name: "Label", Datatype: datactx.TypeString, Nullable: true},
	}, nil)

	require.NoError(t, things.Seed(datactx.Row{"Id": 10, "Label": "ten"}))
	_, err := things.Insert(context.Background(), datactx.Row{"Id": 10})
	assert.ErrorIs(t, err, datactx.ErrWriteRejected, "duplicate primary key")

	rows, err := things.Insert(context.Background(), datactx.Row{})
	require.NoError(t, err)
	assert.EqualValues(t, 11, rows[0]["Id"])
}

func TestSelect_FilterAndProjection(t *testing.T) {
	_, users := newUserStore(t)

	rows, err := users.Where(datactx.Eq("FirstName", "John")).
		Select(context.Background(), []string{"Id", "FirstName"})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.EqualValues(t, 1, rows[0]["Id"])
	assert.Equal(t, "John", rows[0]["FirstName"])
	assert.NotContains(t, rows[0], "LastName")
	assert.NotContains(t, rows[0], "Age")
}

func TestSelect_EmptyColumnListSelectsAllRootColumns(t *testing.T) {
	_, users := newUserStore(t)

	rows, err := users.Where(datactx.Eq("Id", 3)).Select(context.Background(), nil)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Contains(t, rows[0], "FirstName")
	assert.Contains(t, rows[0], "LastName")
	assert.Contains(t, rows[0], "Age")
}

func TestSelect_SkipAndTake(t *testing.T) {
	_, users := newUserStore(t)
	ctx := context.Background()

	rows, err := users.Take(2).Select(ctx, []string{"Id"})
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.EqualValues(t, 1, rows[0]["Id"])
	assert.EqualValues(t, 2, rows[1]["Id"])

	rows, err = users.Skip(2).Take(2).Select(ctx, []string{"Id"})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.EqualValues(t, 3, rows[0]["Id"])

	rows, err = users.Skip(10).Take(2).Select(ctx, []string{"Id"})
	require.NoError(t, err)
	assert.Empty(t, rows)

	rows, err = users.Take(0).Select(ctx, []string{"Id"})
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestSelect_IncludeStitchesRelationTree(t *testing.T) {
	_, users := newUserStore(t)

	rows, err := users.Where(datactx.Eq("Id", 1)).
		Include("UserRoles").
		Include("UserRoles.Role").
		Select(context.Background(), []string{"FirstName", "UserRoles.RoleId", "UserRoles.Role.Title"})
	require.NoError(t, err)
	require.Len(t, rows, 1)

	userRoles, ok := rows[0]["UserRoles"].([]datactx.Row)
	require.True(t, ok, "UserRoles should stitch as a row list")
	require.Len(t, userRoles, 2)
	assert.EqualValues(t, 1, userRoles[0]["RoleId"])
	assert.NotContains(t, userRoles[0], "UserId")

	role, ok := userRoles[0]["Role"].(datactx.Row)
	require.True(t, ok, "Role should stitch as a single row")
	assert.Equal(t, "Admin", role["Title"])
	assert.NotContains(t, role, "Id")
}

func TestSelect_IncludeWithoutMatchesYieldsEmptyListAndNilRef(t *testing.T) {
	store, users := newUserStore(t)
	userRoles, ok := store.Table("user_roles")
	require.True(t, ok)

	// Bob has no roles.
	rows, err := users.Where(datactx.Eq("Id", 3)).
		Include("UserRoles").
		Select(context.Background(), []string{"Id", "UserRoles.RoleId"})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, []datactx.Row{}, rows[0]["UserRoles"])

	// A user_roles row pointing at a missing role.
	_, err = userRoles.Insert(context.Background(), datactx.Row{"UserId": 3, "RoleId": 99})
	require.NoError(t, err)
	rows, err = userRoles.Where(datactx.Eq("RoleId", 99)).
		Include("Role").
		Select(context.Background(), []string{"Id", "Role.Title"})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Nil(t, rows[0]["Role"])
}

func TestSelect_UnknownColumnAndRelation(t *testing.T) {
	_, users := newUserStore(t)
	ctx := context.Background()

	_, err := users.Select(ctx, []string{"Nope"})
	assert.ErrorIs(t, err, datactx.ErrUnknownColumn)

	_, err = users.Select(ctx, []string{"Nope.Title"})
	assert.ErrorIs(t, err, datactx.ErrUnknownRelation)

	_, err = users.Include("Nope").Select(ctx, []string{"Id"})
	assert.ErrorIs(t, err, datactx.ErrUnknownRelation)

	_, err = users.Include("UserRoles").Select(ctx, []string{"Id", "UserRoles.Nope"})
	assert.ErrorIs(t, err, datactx.ErrUnknownColumn)
}

func TestWhere_UnknownColumnRejected(t *testing.T) {
	_, users := newUserStore(t)
	ctx := context.Background()
	scoped := users.Where(datactx.Eq("Nickname", "x"))

	_, err := scoped.Select(ctx, []string{"Id"})
	assert.ErrorIs(t, err, datactx.ErrUnknownColumn)

	_, err = scoped.Update(ctx, datactx.Row{"FirstName": "y"})
	assert.ErrorIs(t, err, datactx.ErrUnknownColumn)

	_, err = scoped.Delete(ctx)
	assert.ErrorIs(t, err, datactx.ErrUnknownColumn)
}

func TestDerivedContextsAreIndependent(t *testing.T) {
	_, users := newUserStore(t)
	ctx := context.Background()

	base := users.Where(datactx.Ne("FirstName", "Bob"))
	johns := base.Where(datactx.Eq("FirstName", "John"))
	janes := base.Where(datactx.Eq("FirstName", "Jane"))

	rows, err := johns.Select(ctx, []string{"FirstName"})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "John", rows[0]["FirstName"])

	rows, err = janes.Select(ctx, []string{"FirstName"})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "Jane", rows[0]["FirstName"])

	rows, err = base.Select(ctx, []string{"FirstName"})
	require.NoError(t, err)
	assert.Len(t, rows, 2)
}

func TestUpdate_AppliesSetToMatchedRows(t *testing.T) {
	_, users := newUserStore(t)
	ctx := context.Background()

	n, err := users.Where(datactx.Eq("LastName", "Smith")).Update(ctx, datactx.Row{"Age": 35})
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	rows, err := users.Where(datactx.Eq("Id", 1)).Select(ctx, []string{"Age"})
	require.NoError(t, err)
	assert.Equal(t, 35, rows[0]["Age"])
}

func TestUpdate_Rejections(t *testing.T) {
	_, users := newUserStore(t)
	ctx := context.Background()

	_, err := users.Where(datactx.Eq("Id", 1)).Update(ctx, datactx.Row{"Nope": 1})
	assert.ErrorIs(t, err, datactx.ErrUnknownColumn)

	_, err = users.Where(datactx.Eq("Id", 1)).Update(ctx, datactx.Row{"Id": 9})
	assert.ErrorIs(t, err, datactx.ErrWriteRejected)

	_, err = users.Where(datactx.Eq("Id", 1)).Update(ctx, datactx.Row{"FirstName": nil})
	assert.ErrorIs(t, err, datactx.ErrWriteRejected)
}

func TestUpdate_NoMatchesAffectsZeroRows(t *testing.T) {
	_, users := newUserStore(t)

	n, err := users.Where(datactx.Eq("FirstName", "Nobody")).
		Update(context.Background(), datactx.Row{"Age": 1})
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestDelete_RemovesMatchedRows(t *testing.T) {
	store, _ := newUserStore(t)
	userRoles, ok := store.Table("user_roles")
	require.True(t, ok)
	ctx := context.Background()

	n, err := userRoles.Where(datactx.Eq("UserId", 1)).Delete(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)

	rows, err := userRoles.Select(ctx, []string{"UserId"})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.EqualValues(t, 2, rows[0]["UserId"])
}

func TestMatches_Comparisons(t *testing.T) {
	row := datactx.Row{"Age": 30, "Name": "carol"}

	cases := []struct {
		name string
		cond datactx.Cond
		want bool
	}{
		{"eq", datactx.Eq("Age", 30), true},
		{"ne", datactx.Ne("Age", 30), false},
		{"lt", datactx.Lt("Age", 40), true},
		{"lt at bound", datactx.Lt("Age", 30), false},
		{"lte at bound", datactx.Lte("Age", 30), true},
		{"gt cross numeric type", datactx.Gt("Age", int64(29)), true},
		{"gte", datactx.Gte("Age", 31), false},
		{"string ordering", datactx.Lt("Name", "dave"), true},
		{"mixed types never order", datactx.Lt("Name", 3), false},
		{"and", datactx.And(datactx.Gt("Age", 20), datactx.Lt("Age", 40)), true},
		{"and short circuit", datactx.And(datactx.Gt("Age", 20), datactx.Eq("Name", "x")), false},
		{"nil equals missing", datactx.Eq("Missing", nil), true},
		{"nil never ordered", datactx.Gt("Missing", 1), false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, matches(row, tc.cond))
		})
	}
}
