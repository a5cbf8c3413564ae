package naming

import (
	"bytes"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
)

// capturedLogger returns a logger whose output lands in the buffer, for
// asserting on warning text.
func capturedLogger() (*bytes.Buffer, *slog.Logger) {
	var buf bytes.Buffer
	return &buf, slog.New(slog.NewTextHandler(&buf, nil))
}

func TestTypeName(t *testing.T) {
	namer := Default()

	for input, want := range map[string]string{
		"users":       "User",
		"user_roles":  "UserRole",
		"people":      "Person",
		"order_items": "OrderItem",
		"a":           "A",
	} {
		assert.Equal(t, want, namer.TypeName(input), input)
	}
}

func TestRelationTypeName(t *testing.T) {
	namer := Default()

	assert.Equal(t, "UserRole", namer.RelationTypeName("UserRoles", "user_roles", false))
	assert.Equal(t, "RoleRef", namer.RelationTypeName("Role", "roles", true))
	assert.Equal(t, "Comment", namer.RelationTypeName("", "comments", false))
}

func TestMutationFieldName(t *testing.T) {
	namer := Default()

	for want, in := range map[string]struct{ verb, alias string }{
		"insertUser":     {"insert", "users"},
		"updateUserRole": {"update", "user_roles"},
		"deletePerson":   {"delete", "people"},
	} {
		assert.Equal(t, want, namer.MutationFieldName(in.verb, in.alias), want)
	}
}

func TestSingularizeWithOverrides(t *testing.T) {
	namer := New(Config{
		PluralOverrides:   map[string]string{"equipment": "equipment"},
		SingularOverrides: map[string]string{"media": "medium"},
	}, nil)

	assert.Equal(t, "medium", namer.Singularize("media"))
	assert.Equal(t, "equipment", namer.Pluralize("equipment"))
	// Non-overridden words still go through the inflection library.
	assert.Equal(t, "person", namer.Singularize("people"))
}

func TestRegisterRootField_Collision(t *testing.T) {
	buf, logger := capturedLogger()
	namer := New(DefaultConfig(), logger)

	first := namer.RegisterRootField("insertPerson", "table:people")
	second := namer.RegisterRootField("insertPerson", "table:persons")
	third := namer.RegisterRootField("insertPerson", "table:person")

	assert.Equal(t, "insertPerson", first)
	assert.Equal(t, "insertPerson2", second)
	assert.Equal(t, "insertPerson3", third)
	assert.Contains(t, buf.String(), "naming collision detected")
}

func TestRegisterRootField_ResetClearsState(t *testing.T) {
	namer := Default()

	assert.Equal(t, "users", namer.RegisterRootField("users", "table:users"))
	namer.Reset()
	assert.Equal(t, "users", namer.RegisterRootField("users", "table:users"))
}

func TestArgumentName_Reserved(t *testing.T) {
	buf, logger := capturedLogger()
	namer := New(DefaultConfig(), logger)

	assert.Equal(t, "skip_", namer.ArgumentName("skip"))
	assert.Equal(t, "Take_", namer.ArgumentName("Take"))
	assert.Equal(t, "name", namer.ArgumentName("name"))
	assert.Contains(t, buf.String(), "auto-suffixed")
}

func TestToPascalCase(t *testing.T) {
	for input, want := range map[string]string{
		"users":            "Users",
		"user_profiles":    "UserProfiles",
		"api_v2_endpoints": "ApiV2Endpoints",
		"":                 "",
	} {
		assert.Equal(t, want, ToPascalCase(input), input)
	}
}

func TestToCamelCase(t *testing.T) {
	for input, want := range map[string]string{
		"user_name":  "userName",
		"created_at": "createdAt",
		"id":         "id",
		"":           "",
	} {
		assert.Equal(t, want, ToCamelCase(input), input)
	}
}
