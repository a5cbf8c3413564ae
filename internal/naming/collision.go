package naming

import (
	"fmt"
	"log/slog"
)

// namespace tracks claimed names within one collision scope, keyed by
// name with the claiming source as value.
type namespace map[string]string

// claim reserves name, suffixing with the next free ordinal when the
// plain name is taken. The first duplicate becomes name2.
func (ns namespace) claim(name, source string, logger *slog.Logger) string {
	holder, taken := ns[name]
	if !taken {
		ns[name] = source
		return name
	}

	logger.Warn("naming collision detected, applying suffix",
		slog.String("name", name),
		slog.String("existing_source", holder),
		slog.String("new_source", source),
	)

	for i := 2; ; i++ {
		candidate := fmt.Sprintf("%s%d", name, i)
		if _, taken := ns[candidate]; !taken {
			ns[candidate] = source
			return candidate
		}
	}
}

// CollisionResolver keeps generated type names and root field names
// unique. The two namespaces are independent: a type and a root field
// may share a spelling.
type CollisionResolver struct {
	types      namespace
	rootFields namespace
	logger     *slog.Logger
}

func NewCollisionResolver(logger *slog.Logger) *CollisionResolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &CollisionResolver{
		types:      make(namespace),
		rootFields: make(namespace),
		logger:     logger,
	}
}

// RegisterType claims a generated type name and returns the name to use.
func (c *CollisionResolver) RegisterType(typeName, source string) string {
	return c.types.claim(typeName, source, c.logger)
}

// RegisterRootField claims a root operation field name and returns the
// name to use.
func (c *CollisionResolver) RegisterRootField(fieldName, source string) string {
	return c.rootFields.claim(fieldName, source, c.logger)
}
