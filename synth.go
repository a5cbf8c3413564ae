package tablegraph

import (
	"fmt"
	"log/slog"
	"sort"

	"github.com/graphql-go/graphql"

	"tablegraph/internal/typemap"
)

// argSpec tells the resolver how one exposed argument behaves. Specs are
// computed once at synthesis so resolution never consults the
// customization sets again.
type argSpec struct {
	kind argKind
	// column receiving the value (set arguments) or compared against
	// (default equality filters). Empty for control and custom arguments.
	column string
	// control carries the canonical control name (skip or take) so a
	// renamed control argument keeps its meaning.
	control string
	// predicate overrides default equality when a custom or redefined
	// argument supplies one.
	predicate Predicate
}

type argKind int

const (
	argFilter argKind = iota
	argSet
	argControl
)

// argPlan maps exposed argument names to their resolution behavior.
type argPlan map[string]argSpec

// synthArgs folds a customization set over an operation's defaults and
// returns the final argument schema plus the matching resolution plan.
func synthArgs(b *tableBinding, set *customizationSet) (graphql.FieldConfigArgument, argPlan, error) {
	args := graphql.FieldConfigArgument{}
	plan := argPlan{}

	names := make([]string, 0, len(set.defaults))
	for name := range set.defaults {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		if _, gone := set.suppressed[name]; gone {
			continue
		}
		def := set.defaults[name]

		exposed := name
		description := defaultArgDescription(set.kind, name, def)
		var typ graphql.Input
		var pred Predicate

		switch {
		case def.kind == defaultControl:
			typ = graphql.Int
		case set.kind == opInsert:
			var err error
			typ, err = typemap.InsertType(def.column)
			if err != nil {
				return nil, nil, fmt.Errorf("argument %s: %w", name, err)
			}
		default:
			var err error
			typ, err = typemap.FilterType(def.column)
			if err != nil {
				return nil, nil, fmt.Errorf("argument %s: %w", name, err)
			}
		}

		if alt, changed := set.altered[name]; changed {
			if alt.newName != "" {
				exposed = alt.newName
			}
			if alt.hasDescription {
				description = alt.newDescription
			}
			if alt.newType != nil {
				typ = alt.newType
			}
			if alt.newPredicate != nil {
				pred = alt.newPredicate
			}
		}

		args[exposed] = &graphql.ArgumentConfig{
			Type:        typ,
			Description: description,
		}
		spec := argSpec{predicate: pred}
		switch def.kind {
		case defaultControl:
			spec.kind = argControl
			spec.control = name
		case defaultSet:
			spec.kind = argSet
			spec.column = def.column.Name
		default:
			spec.kind = argFilter
			spec.column = def.column.Name
		}
		plan[exposed] = spec
	}

	for _, custom := range set.customs {
		args[custom.name] = &graphql.ArgumentConfig{
			Type:        custom.valueType,
			Description: custom.description,
		}
		plan[custom.name] = argSpec{kind: argFilter, predicate: custom.predicate}
	}

	return args, plan, nil
}

func defaultArgDescription(kind opKind, name string, def defaultArg) string {
	switch def.kind {
	case defaultControl:
		if name == "skip" {
			return "Number of rows to skip; applied only when take is present."
		}
		return "Maximum number of rows to return."
	case defaultSet:
		if kind == opInsert {
			return fmt.Sprintf("Value for %s.", def.column.Name)
		}
		return fmt.Sprintf("New value for %s.", def.column.Name)
	default:
		return fmt.Sprintf("Match rows where %s equals this value.", def.column.Name)
	}
}

// queryField synthesizes the root query field for one binding.
func (s *buildSession) queryField(b *tableBinding, logger *slog.Logger) (string, *graphql.Field, error) {
	rowType, err := s.buildTableType(b)
	if err != nil {
		return "", nil, err
	}
	args, plan, err := synthArgs(b, b.query)
	if err != nil {
		return "", nil, fmt.Errorf("table %s query: %w", b.alias, err)
	}
	name := s.namer.RegisterRootField(b.alias, b.alias)
	return name, &graphql.Field{
		Type:        graphql.NewList(rowType),
		Description: fmt.Sprintf("Rows from %s, filtered and paginated by arguments.", b.alias),
		Args:        args,
		Resolve:     makeQueryResolver(b, plan, logger),
	}, nil
}

// insertField synthesizes the insert mutation for one binding. The result
// echoes stored rows through the flat type so generated values are visible.
func (s *buildSession) insertField(b *tableBinding, logger *slog.Logger) (string, *graphql.Field, error) {
	rowType, err := s.buildFlatType(b)
	if err != nil {
		return "", nil, err
	}
	args, plan, err := synthArgs(b, b.insert)
	if err != nil {
		return "", nil, fmt.Errorf("table %s insert: %w", b.alias, err)
	}
	name := s.namer.RegisterRootField(s.namer.MutationFieldName("insert", b.alias), b.alias)
	return name, &graphql.Field{
		Type:        graphql.NewList(rowType),
		Description: fmt.Sprintf("Insert a row into %s.", b.alias),
		Args:        args,
		Resolve:     makeInsertResolver(b, plan, logger),
	}, nil
}

// updateField synthesizes the update mutation for one binding.
func (s *buildSession) updateField(b *tableBinding, logger *slog.Logger) (string, *graphql.Field, error) {
	args, plan, err := synthArgs(b, b.update)
	if err != nil {
		return "", nil, fmt.Errorf("table %s update: %w", b.alias, err)
	}
	name := s.namer.RegisterRootField(s.namer.MutationFieldName("update", b.alias), b.alias)
	return name, &graphql.Field{
		Type:        graphql.NewNonNull(s.affectedRowsType()),
		Description: fmt.Sprintf("Update %s rows matched by filter arguments.", b.alias),
		Args:        args,
		Resolve:     makeUpdateResolver(b, plan, logger),
	}, nil
}

// deleteField synthesizes the delete mutation for one binding.
func (s *buildSession) deleteField(b *tableBinding, logger *slog.Logger) (string, *graphql.Field, error) {
	args, plan, err := synthArgs(b, b.del)
	if err != nil {
		return "", nil, fmt.Errorf("table %s delete: %w", b.alias, err)
	}
	name := s.namer.RegisterRootField(s.namer.MutationFieldName("delete", b.alias), b.alias)
	return name, &graphql.Field{
		Type:        graphql.NewNonNull(s.affectedRowsType()),
		Description: fmt.Sprintf("Delete %s rows matched by filter arguments.", b.alias),
		Args:        args,
		Resolve:     makeDeleteResolver(b, plan, logger),
	}, nil
}
