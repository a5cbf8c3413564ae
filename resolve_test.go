package tablegraph

import (
	"context"
	"testing"

	"github.com/graphql-go/graphql"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tablegraph/datactx"
	"tablegraph/memctx"
)

// newSpyEngine builds a schema over the seeded user store with a spy
// recording every data-context call.
func newSpyEngine(t *testing.T, opts ...RegisterOption) (graphql.Schema, *spyCalls, *memctx.Store) {
	t.Helper()
	store, users := userStore(t)
	spy, calls := newSpy(users)
	e := New(WithLogger(discardLogger()))
	require.NoError(t, e.RegisterTable(context.Background(), spy, opts...))
	schema, err := e.BuildSchema()
	require.NoError(t, err)
	return schema, calls, store
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
	data, ok := result.Data.(map[string]any)
	require.True(t, ok, "result data should be an object")
	rows, ok := data[field].([]any)
	require.True(t, ok, "field %s should resolve to a list", field)
	return rows
}

func dataObject(t *testing.T, result *graphql.Result, field string) map[string]any {
	t.Helper()
	data, ok := result.Data.(map[string]any)
	require.True(t, ok, "result data should be an object")
	obj, ok := data[field].(map[string]any)
	require.True(t, ok, "field %s should resolve to an object", field)
	return obj
}

func errorCode(t *testing.T, result *graphql.Result) string {
	t.Helper()
	require.NotEmpty(t, result.Errors)
	code, ok := result.Errors[0].Extensions["code"].(string)
	require.True(t, ok, "error should carry a code extension: %v", result.Errors[0])
	return code
}

func TestResolveQuery_FilterAndProjection(t *testing.T) {
	schema, calls, _ := newSpyEngine(t)

	result := execute(t, schema, `{ users(FirstName: "John") { Id FirstName } }`)
	require.Empty(t, result.Errors)

	assert.Equal(t, map[string]any{
		"users": []any{
			map[string]any{"Id": 1, "FirstName": "John"},
		},
	}, result.Data)

	assert.Equal(t, []datactx.Cond{datactx.Eq("FirstName", "John")}, calls.conds)
	assert.Equal(t, []string{"Id", "FirstName"}, calls.columns)
	assert.Empty(t, calls.includes)
	assert.Empty(t, calls.takes)
	assert.Empty(t, calls.skips)
}

func TestResolveQuery_ConditionsApplyInSortedArgOrder(t *testing.T) {
	schema, calls, _ := newSpyEngine(t)

	result := execute(t, schema, `{ users(FirstName: "John", Age: 34) { Id } }`)
	require.Empty(t, result.Errors)
	require.Len(t, dataRows(t, result, "users"), 1)

	assert.Equal(t, []datactx.Cond{
		datactx.Eq("Age", 34),
		datactx.Eq("FirstName", "John"),
	}, calls.conds)
}

func TestResolveQuery_NestedSelection(t *testing.T) {
	schema, calls, _ := newSpyEngine(t)

	result := execute(t, schema, `{
		users {
			Id
			UserRoles {
				RoleId
				Role { Title }
			}
		}
	}`)
	require.Empty(t, result.Errors)

	assert.Equal(t, []string{"UserRoles", "UserRoles.Role"}, calls.includes)
	assert.Equal(t, []string{"Id", "UserRoles.RoleId", "UserRoles.Role.Title"}, calls.columns)

	rows := dataRows(t, result, "users")
	require.Len(t, rows, 3)

	john, ok := rows[0].(map[string]any)
	require.True(t, ok)
	johnRoles, ok := john["UserRoles"].([]any)
	require.True(t, ok)
	require.Len(t, johnRoles, 2)
	first, ok := johnRoles[0].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, 1, first["RoleId"])
	assert.Equal(t, map[string]any{"Title": "Admin"}, first["Role"])

	bob, ok := rows[2].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, []any{}, bob["UserRoles"])
}

func TestResolveQuery_TakeGatesSkip(t *testing.T) {
	schema, calls, _ := newSpyEngine(t)

	result := execute(t, schema, `{ users(take: 2) { Id } }`)
	require.Empty(t, result.Errors)
	assert.Len(t, dataRows(t, result, "users"), 2)
	assert.Equal(t, []int{2}, calls.takes)
	assert.Empty(t, calls.skips)

	*calls = spyCalls{}
	result = execute(t, schema, `{ users(skip: 1) { Id } }`)
	require.Empty(t, result.Errors)
	assert.Len(t, dataRows(t, result, "users"), 3, "skip without take is a no-op")
	assert.Empty(t, calls.skips)
	assert.Empty(t, calls.takes)

	*calls = spyCalls{}
	result = execute(t, schema, `{ users(skip: 1, take: 1) { Id } }`)
	require.Empty(t, result.Errors)
	rows := dataRows(t, result, "users")
	require.Len(t, rows, 1)
	assert.Equal(t, map[string]any{"Id": 2}, rows[0])
	assert.Equal(t, []int{1}, calls.skips)
	assert.Equal(t, []int{1}, calls.takes)
}

func TestResolveQuery_FragmentsAndTypename(t *testing.T) {
	schema, calls, _ := newSpyEngine(t)

	result := execute(t, schema, `
		query {
			users(FirstName: "Jane") {
				__typename
				...cols
			}
		}
		fragment cols on User { Id FirstName }
	`)
	require.Empty(t, result.Errors)

	rows := dataRows(t, result, "users")
	require.Len(t, rows, 1)
	assert.Equal(t, map[string]any{"__typename": "User", "Id": 2, "FirstName": "Jane"}, rows[0])
	assert.Equal(t, []string{"Id", "FirstName"}, calls.columns, "__typename never reaches the data context")
}

func TestResolveQuery_CustomArgumentPredicate(t *testing.T) {
	minAge := func(c datactx.Context, value any) (datactx.Context, error) {
		return c.Where(datactx.Gte("Age", value)), nil
	}
	schema, calls, _ := newSpyEngine(t, WithCustomize(func(c *Customize) error {
		return c.Query.AddArgument("minAge", "Minimum age to match.", graphql.Int, minAge)
	}))

	result := execute(t, schema, `{ users(minAge: 30) { FirstName } }`)
	require.Empty(t, result.Errors)

	rows := dataRows(t, result, "users")
	require.Len(t, rows, 1)
	assert.Equal(t, map[string]any{"FirstName": "John"}, rows[0])
	assert.Equal(t, []datactx.Cond{datactx.Gte("Age", 30)}, calls.conds)
}

func TestResolveQuery_RedefinedPredicateReplacesEquality(t *testing.T) {
	under := func(c datactx.Context, value any) (datactx.Context, error) {
		return c.Where(datactx.Lt("Age", value)), nil
	}
	schema, _, _ := newSpyEngine(t, WithCustomize(func(c *Customize) error {
		return c.Query.ChangeArgument("Age").Redefine(under).Apply()
	}))

	result := execute(t, schema, `{ users(Age: 30) { FirstName } }`)
	require.Empty(t, result.Errors)

	rows := dataRows(t, result, "users")
	require.Len(t, rows, 1, "only Jane is under 30; Bob's null age never matches")
	assert.Equal(t, map[string]any{"FirstName": "Jane"}, rows[0])
}

func TestResolveQuery_RenamedFilterAndControl(t *testing.T) {
	schema, calls, _ := newSpyEngine(t, WithCustomize(func(c *Customize) error {
		if err := c.Query.ChangeArgument("FirstName").Rename("name").Apply(); err != nil {
			return err
		}
		return c.Query.ChangeArgument("take").Rename("limit").Apply()
	}))

	result := execute(t, schema, `{ users(name: "Jane", limit: 5) { Id } }`)
	require.Empty(t, result.Errors)
	require.Len(t, dataRows(t, result, "users"), 1)
	assert.Equal(t, []datactx.Cond{datactx.Eq("FirstName", "Jane")}, calls.conds,
		"renamed filter keeps its column binding")
	assert.Equal(t, []int{5}, calls.takes, "renamed control keeps its meaning")

	result = execute(t, schema, `{ users(FirstName: "Jane") { Id } }`)
	assert.NotEmpty(t, result.Errors, "the original name is retired")
}

func TestResolveInsert_EchoesStoredRow(t *testing.T) {
	schema, calls, store := newSpyEngine(t)

	result := execute(t, schema, `mutation {
		insertUser(FirstName: "Dana", Age: 40) { Id FirstName LastName Age }
	}`)
	require.Empty(t, result.Errors)

	rows := dataRows(t, result, "insertUser")
	require.Len(t, rows, 1)
	assert.Equal(t, map[string]any{
		"Id":        4,
		"FirstName": "Dana",
		"LastName":  nil,
		"Age":       40,
	}, rows[0])

	require.Len(t, calls.inserted, 1)
	assert.Equal(t, datactx.Row{"FirstName": "Dana", "Age": 40}, calls.inserted[0])

	users, ok := store.Table("users")
	require.True(t, ok)
	stored, err := users.Select(context.Background(), []string{"Id"})
	require.NoError(t, err)
	assert.Len(t, stored, 4)
}

func TestResolveInsert_RejectionSurfacesCode(t *testing.T) {
	store := memctx.NewStore()
	tags := store.AddTable("tags", []datactx.ColumnDescriptor{
		{Name: "Id", Datatype: datactx.TypeInt, Primary: true},
		{Name: "Label", Datatype: datactx.TypeString},
	}, nil)
	e := New(WithLogger(discardLogger()))
	require.NoError(t, e.RegisterTable(context.Background(), tags))
	schema, err := e.BuildSchema()
	require.NoError(t, err)

	result := execute(t, schema, `mutation { insertTag(Id: 1, Label: "a") { Id } }`)
	require.Empty(t, result.Errors)

	result = execute(t, schema, `mutation { insertTag(Id: 1, Label: "b") { Id } }`)
	assert.Equal(t, CodeInsertRejected, errorCode(t, result))

	rows, err := tags.Select(context.Background(), []string{"Label"})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "a", rows[0]["Label"])
}

func TestResolveUpdate_FilterPrefixSplitsArguments(t *testing.T) {
	schema, calls, store := newSpyEngine(t)

	result := execute(t, schema, `mutation {
		updateUser(filterBy_Id: 1, FirstName: "Johnny") { numRowsAffected }
	}`)
	require.Empty(t, result.Errors)
	assert.Equal(t, map[string]any{"numRowsAffected": 1}, dataObject(t, result, "updateUser"))

	assert.Equal(t, []datactx.Cond{datactx.Eq("Id", 1)}, calls.conds)
	require.Len(t, calls.updates, 1)
	assert.Equal(t, datactx.Row{"FirstName": "Johnny"}, calls.updates[0])

	users, ok := store.Table("users")
	require.True(t, ok)
	rows, err := users.Where(datactx.Eq("Id", 1)).Select(context.Background(), []string{"FirstName"})
	require.NoError(t, err)
	assert.Equal(t, "Johnny", rows[0]["FirstName"])
}

func TestResolveUpdate_UnscopedRejectedWithoutWrite(t *testing.T) {
	schema, calls, store := newSpyEngine(t)

	result := execute(t, schema, `mutation {
		updateUser(FirstName: "X") { numRowsAffected }
	}`)
	assert.Equal(t, CodeUnscopedMutation, errorCode(t, result))
	assert.Empty(t, calls.updates, "rejected update must not reach the data context")

	users, ok := store.Table("users")
	require.True(t, ok)
	rows, err := users.Where(datactx.Eq("FirstName", "X")).Select(context.Background(), []string{"Id"})
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestResolveUpdate_AllowUnscopedOptIn(t *testing.T) {
	schema, _, _ := newSpyEngine(t, WithAllowUnscoped())

	result := execute(t, schema, `mutation {
		updateUser(LastName: "Shared") { numRowsAffected }
	}`)
	require.Empty(t, result.Errors)
	assert.Equal(t, map[string]any{"numRowsAffected": 3}, dataObject(t, result, "updateUser"))
}

func TestResolveUpdate_CustomArgumentCountsAsFilter(t *testing.T) {
	byFirstName := func(c datactx.Context, value any) (datactx.Context, error) {
		return c.Where(datactx.Eq("FirstName", value)), nil
	}
	schema, _, _ := newSpyEngine(t, WithCustomize(func(c *Customize) error {
		return c.Update.AddArgument("byFirstName", "", graphql.String, byFirstName)
	}))

	result := execute(t, schema, `mutation {
		updateUser(byFirstName: "John", LastName: "Renamed") { numRowsAffected }
	}`)
	require.Empty(t, result.Errors)
	assert.Equal(t, map[string]any{"numRowsAffected": 1}, dataObject(t, result, "updateUser"))
}

func TestResolveDelete_ScopedByBareColumnFilter(t *testing.T) {
	schema, calls, store := newSpyEngine(t)

	result := execute(t, schema, `mutation { deleteUser(Id: 3) { numRowsAffected } }`)
	require.Empty(t, result.Errors)
	assert.Equal(t, map[string]any{"numRowsAffected": 1}, dataObject(t, result, "deleteUser"))
	assert.Equal(t, 1, calls.deletes)

	users, ok := store.Table("users")
	require.True(t, ok)
	rows, err := users.Select(context.Background(), []string{"Id"})
	require.NoError(t, err)
	assert.Len(t, rows, 2)
}

func TestResolveDelete_UnscopedRejected(t *testing.T) {
	schema, calls, store := newSpyEngine(t)

	result := execute(t, schema, `mutation { deleteUser { numRowsAffected } }`)
	assert.Equal(t, CodeUnscopedMutation, errorCode(t, result))
	assert.Zero(t, calls.deletes)

	users, ok := store.Table("users")
	require.True(t, ok)
	rows, err := users.Select(context.Background(), []string{"Id"})
	require.NoError(t, err)
	assert.Len(t, rows, 3, "no rows removed")
}

func TestResolve_ConcurrentQueriesShareFrozenState(t *testing.T) {
	_, users := userStore(t)
	e := New(WithLogger(discardLogger()))
	require.NoError(t, e.RegisterTable(context.Background(), users))
	schema, err := e.BuildSchema()
	require.NoError(t, err)

	done := make(chan *graphql.Result, 8)
	for i := 0; i < 8; i++ {
		go func() {
			done <- graphql.Do(graphql.Params{
				Schema:        schema,
				RequestString: `{ users(take: 2) { Id FirstName } }`,
				Context:       context.Background(),
			})
		}()
	}
	for i := 0; i < 8; i++ {
		result := <-done
		require.Empty(t, result.Errors)
		assert.Len(t, dataRows(t, result, "users"), 2)
	}
}
