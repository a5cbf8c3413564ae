package tablegraph

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"

	"tablegraph/datactx"
	"tablegraph/internal/naming"
)

// updateFilterPrefix distinguishes row-targeting arguments from set values
// on update operations.
const updateFilterPrefix = "filterBy_"

// tableBinding is one registered table: its metadata snapshot, its data
// context, and the customizations collected during registration. Bindings
// are read-only once the engine freezes.
type tableBinding struct {
	alias         string
	description   string
	dc            datactx.Context
	columns       []datactx.ColumnDescriptor
	relationships []datactx.RelationshipDescriptor

	query  *customizationSet
	insert *customizationSet
	update *customizationSet
	del    *customizationSet

	mutations     MutationOptions
	allowUnscoped bool
}

func newTableBinding(ctx context.Context, dc datactx.Context, reg registration, frozen *atomic.Bool, namer *naming.Namer, logger *slog.Logger) (*tableBinding, error) {
	alias := reg.alias
	if alias == "" {
		alias = dc.Name()
	}
	if alias == "" {
		return nil, fmt.Errorf("register table: data context reports no name and no display name was given")
	}

	columns, err := dc.Schema(ctx)
	if err != nil {
		return nil, fmt.Errorf("register table %s: load schema: %w", alias, err)
	}
	if len(columns) == 0 {
		return nil, fmt.Errorf("register table %s: schema has no columns", alias)
	}
	relationships, err := dc.Relationships(ctx)
	if err != nil {
		return nil, fmt.Errorf("register table %s: load relationships: %w", alias, err)
	}

	b := &tableBinding{
		alias:         alias,
		description:   reg.description,
		dc:            dc,
		columns:       columns,
		relationships: relationships,
		mutations:     reg.mutations,
		allowUnscoped: reg.allowUnscoped,
	}
	b.query = newCustomizationSet(opQuery, queryDefaults(columns, namer), nil)
	insertDefs, insertVacant := insertDefaults(columns)
	b.insert = newCustomizationSet(opInsert, insertDefs, insertVacant)
	b.update = newCustomizationSet(opUpdate, updateDefaults(columns, logger), nil)
	b.del = newCustomizationSet(opDelete, deleteDefaults(columns), nil)

	if len(reg.customize) > 0 {
		c := &Customize{
			Query:  &OpCustomizer{table: alias, set: b.query, frozen: frozen},
			Insert: &InsertCustomizer{op: &OpCustomizer{table: alias, set: b.insert, frozen: frozen}},
			Update: &OpCustomizer{table: alias, set: b.update, frozen: frozen},
			Delete: &OpCustomizer{table: alias, set: b.del, frozen: frozen},
		}
		for _, fn := range reg.customize {
			if err := fn(c); err != nil {
				return nil, fmt.Errorf("register table %s: customize: %w", alias, err)
			}
		}
		// Callbacks may drop per-call errors; recorded ones still fail the
		// registration so a misconfiguration never reaches traffic.
		for _, set := range []*customizationSet{b.query, b.insert, b.update, b.del} {
			if set.err != nil {
				return nil, fmt.Errorf("register table %s: customize: %w", alias, set.err)
			}
		}
	}
	return b, nil
}

// queryDefaults synthesizes the skip/take controls plus one equality
// filter per column. Columns that shadow a control argument are exposed
// with a trailing underscore.
func queryDefaults(columns []datactx.ColumnDescriptor, namer *naming.Namer) map[string]defaultArg {
	defs := map[string]defaultArg{
		"skip": {kind: defaultControl},
		"take": {kind: defaultControl},
	}
	for _, col := range columns {
		defs[namer.ArgumentName(col.Name)] = defaultArg{kind: defaultFilter, column: col}
	}
	return defs
}

// insertDefaults synthesizes one value argument per insertable column.
// Identity and virtual columns produce no argument and are returned as
// vacant names so suppressing them stays a no-op.
func insertDefaults(columns []datactx.ColumnDescriptor) (map[string]defaultArg, map[string]struct{}) {
	defs := make(map[string]defaultArg, len(columns))
	vacant := make(map[string]struct{})
	for _, col := range columns {
		if col.Identity || col.Virtual {
			vacant[col.Name] = struct{}{}
			continue
		}
		defs[col.Name] = defaultArg{kind: defaultSet, column: col, required: !col.Nullable}
	}
	return defs, vacant
}

// updateDefaults synthesizes a filterBy_ argument per column plus a set
// argument per writable column.
func updateDefaults(columns []datactx.ColumnDescriptor, logger *slog.Logger) map[string]defaultArg {
	defs := make(map[string]defaultArg, 2*len(columns))
	for _, col := range columns {
		defs[updateFilterPrefix+col.Name] = defaultArg{kind: defaultFilter, column: col}
	}
	for _, col := range columns {
		if col.Identity || col.Virtual {
			continue
		}
		name := col.Name
		for {
			if _, taken := defs[name]; !taken {
				break
			}
			// A column literally named filterBy_<other> collides with the
			// synthesized filter for <other>.
			logger.Warn("update argument collides with a filter name, applying suffix",
				"column", col.Name,
				"argument", name+"_")
			name += "_"
		}
		defs[name] = defaultArg{kind: defaultSet, column: col}
	}
	return defs
}

// deleteDefaults synthesizes one equality filter per column under its bare
// column name; delete has no set values to disambiguate from.
func deleteDefaults(columns []datactx.ColumnDescriptor) map[string]defaultArg {
	defs := make(map[string]defaultArg, len(columns))
	for _, col := range columns {
		defs[col.Name] = defaultArg{kind: defaultFilter, column: col}
	}
	return defs
}
