// Package naming converts table, column, and relation names into the names
// exposed by generated schemas: type names, operation field names, and
// argument names. It handles singular/plural inflection, reserved argument
// names, and collisions between generated names.
package naming

import (
	"log/slog"
	"strings"
)

// Namer provides all name transformation functions for one schema build.
type Namer struct {
	config   Config
	logger   *slog.Logger
	resolver *CollisionResolver
}

// New creates a Namer with the given configuration.
func New(cfg Config, logger *slog.Logger) *Namer {
	if logger == nil {
		logger = slog.Default()
	}
	n := &Namer{config: cfg, logger: logger}
	n.Reset()
	return n
}

// Default returns a Namer with default configuration.
func Default() *Namer {
	return New(DefaultConfig(), nil)
}

// Reset clears collision state so the namer can serve a fresh schema build.
func (n *Namer) Reset() {
	n.resolver = NewCollisionResolver(n.logger)
}

// TypeName derives the composite type name for a table alias.
// Example: "user_roles" -> "UserRole".
func (n *Namer) TypeName(alias string) string {
	return ToPascalCase(n.Singularize(alias))
}

// RelationTypeName derives the composite type name for a relationship
// entry. One-to-many relations name the list element after the singular
// relation key; one-to-one relations keep the key and mark the shape with a
// Ref suffix so the two cardinalities never share a generated name.
// Example: ("UserRoles", one-to-many) -> "UserRole",
// ("Role", one-to-one) -> "RoleRef".
func (n *Namer) RelationTypeName(relationKey, tableName string, oneToOne bool) string {
	key := relationKey
	if key == "" {
		key = tableName
	}
	if oneToOne {
		return ToPascalCase(key) + "Ref"
	}
	return ToPascalCase(n.Singularize(key))
}

// MutationFieldName derives a mutation operation name from a verb and the
// table alias. Example: ("insert", "users") -> "insertUser".
func (n *Namer) MutationFieldName(verb, alias string) string {
	return verb + ToPascalCase(n.Singularize(alias))
}

// RegisterRootField records a root operation field name, resolving
// collisions with a numeric suffix. Two aliases that singularize to the
// same word would otherwise produce identical mutation names.
func (n *Namer) RegisterRootField(fieldName, source string) string {
	return n.resolver.RegisterRootField(fieldName, source)
}

// RegisterTypeName records a generated type name. Returning an existing
// name is not a collision here: repeated shapes intentionally share one
// type, so the caller checks for a memoized type first.
func (n *Namer) RegisterTypeName(typeName, source string) string {
	return n.resolver.RegisterType(typeName, source)
}

// ArgumentName returns the argument name for a column, suffixing names that
// would shadow control arguments like skip and take.
func (n *Namer) ArgumentName(columnName string) string {
	if IsReservedArgument(columnName) {
		safe := columnName + "_"
		n.logger.Warn("column name shadows a control argument, auto-suffixed",
			slog.String("original", columnName),
			slog.String("renamed", safe),
		)
		return safe
	}
	return columnName
}

// ToPascalCase converts snake_case to PascalCase.
func ToPascalCase(s string) string {
	return joinTitled(strings.Split(s, "_"), 0)
}

// ToCamelCase converts snake_case to camelCase.
func ToCamelCase(s string) string {
	return joinTitled(strings.Split(s, "_"), 1)
}

// joinTitled concatenates parts, upcasing the first byte of each part from
// index start on. Earlier parts pass through untouched.
func joinTitled(parts []string, start int) string {
	var b strings.Builder
	for i, part := range parts {
		if i >= start && part != "" {
			b.WriteString(strings.ToUpper(part[:1]))
			b.WriteString(part[1:])
			continue
		}
		b.WriteString(part)
	}
	return b.String()
}
