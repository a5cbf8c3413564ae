// Package selection extracts requested columns and relationship includes
// from parsed GraphQL selection trees. It understands named and inline
// fragments and produces dotted paths ("UserRoles.Role.Title") matching the
// data context contract.
package selection

import (
	"github.com/graphql-go/graphql/language/ast"

	"tablegraph/datactx"
)

// Request is the flattened form of one field's selection tree.
type Request struct {
	// Columns are the requested leaf columns as dotted paths, in
	// encounter order with duplicates removed.
	Columns []string
	// Includes are the relationship paths that carry nested selections,
	// parents listed before their children.
	Includes []string
}

// Walk resolves a field's selection set against a table's columns and
// relationship tree. A nil field or empty selection set selects every
// root column (and no relations).
func Walk(field *ast.Field, columns []datactx.ColumnDescriptor, relationships []datactx.RelationshipDescriptor, fragments map[string]ast.Definition) Request {
	if field == nil || field.SelectionSet == nil {
		return Request{Columns: allColumnPaths(columns)}
	}

	w := &walker{
		fragments: fragments,
		seenCols:  make(map[string]struct{}),
		seenRels:  make(map[string]struct{}),
	}
	w.visit(field.SelectionSet.Selections, "", columns, relationships, make(map[string]struct{}))

	if len(w.request.Columns) == 0 && len(w.request.Includes) == 0 {
		return Request{Columns: allColumnPaths(columns)}
	}
	return w.request
}

type walker struct {
	fragments map[string]ast.Definition
	request   Request
	seenCols  map[string]struct{}
	seenRels  map[string]struct{}
}

// visit walks one selection level. prefix is the dotted relation path of
// the level ("" at the root). visitedFragments guards against fragment
// cycles within a single level chain.
func (w *walker) visit(selections []ast.Selection, prefix string, columns []datactx.ColumnDescriptor, relationships []datactx.RelationshipDescriptor, visitedFragments map[string]struct{}) {
	columnNames := make(map[string]struct{}, len(columns))
	for _, col := range columns {
		columnNames[col.Name] = struct{}{}
	}
	relationByKey := make(map[string]datactx.RelationshipDescriptor, len(relationships))
	for _, rel := range relationships {
		relationByKey[rel.RelationKey] = rel
	}

	for _, selection := range selections {
		switch sel := selection.(type) {
		case *ast.Field:
			if sel.Name == nil {
				continue
			}
			name := sel.Name.Value
			if name == "__typename" {
				continue
			}
			if rel, ok := relationByKey[name]; ok && sel.SelectionSet != nil {
				path := joinPath(prefix, name)
				w.addInclude(path)
				w.visit(sel.SelectionSet.Selections, path, rel.Columns, rel.Relationships, make(map[string]struct{}))
				continue
			}
			if _, ok := columnNames[name]; ok && sel.SelectionSet == nil {
				w.addColumn(joinPath(prefix, name))
			}
		case *ast.InlineFragment:
			if sel.SelectionSet != nil {
				w.visit(sel.SelectionSet.Selections, prefix, columns, relationships, visitedFragments)
			}
		case *ast.FragmentSpread:
			if w.fragments == nil || sel.Name == nil {
				continue
			}
			fragmentName := sel.Name.Value
			if _, seen := visitedFragments[fragmentName]; seen {
				continue
			}
			def, ok := w.fragments[fragmentName]
			if !ok {
				continue
			}
			fragment, ok := def.(*ast.FragmentDefinition)
			if !ok || fragment.SelectionSet == nil {
				continue
			}
			visitedFragments[fragmentName] = struct{}{}
			w.visit(fragment.SelectionSet.Selections, prefix, columns, relationships, visitedFragments)
		}
	}
}

func (w *walker) addColumn(path string) {
	if _, ok := w.seenCols[path]; ok {
		return
	}
	w.seenCols[path] = struct{}{}
	w.request.Columns = append(w.request.Columns, path)
}

func (w *walker) addInclude(path string) {
	if _, ok := w.seenRels[path]; ok {
		return
	}
	w.seenRels[path] = struct{}{}
	w.request.Includes = append(w.request.Includes, path)
}

func joinPath(prefix, name string) string {
	if prefix == "" {
		return name
	}
	return prefix + "." + name
}

func allColumnPaths(columns []datactx.ColumnDescriptor) []string {
	paths := make([]string, 0, len(columns))
	for _, col := range columns {
		paths = append(paths, col.Name)
	}
	return paths
}
