package memctx

import (
	"context"
	"fmt"
	"strings"

	"tablegraph/datactx"
)

// pathNode is one level of a dotted-path tree shared by projection and
// include handling. Child order preserves first-encounter order.
type pathNode struct {
	cols     []string
	children map[string]*pathNode
	order    []string
}

func newPathNode() *pathNode {
	return &pathNode{children: make(map[string]*pathNode)}
}

func (n *pathNode) child(name string) *pathNode {
	c, ok := n.children[name]
	if !ok {
		c = newPathNode()
		n.children[name] = c
		n.order = append(n.order, name)
	}
	return c
}

func (v view) Select(ctx context.Context, columns []string) ([]datactx.Row, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	proj := newPathNode()
	if len(columns) == 0 {
		for _, col := range v.table.columns {
			proj.cols = append(proj.cols, col.Name)
		}
	} else {
		for _, path := range columns {
			parts := strings.Split(path, ".")
			node := proj
			for _, rel := range parts[:len(parts)-1] {
				node = node.child(rel)
			}
			node.cols = append(node.cols, parts[len(parts)-1])
		}
	}

	inc := newPathNode()
	for _, path := range v.includes {
		incNode, projNode := inc, proj
		for _, part := range strings.Split(path, ".") {
			incNode = incNode.child(part)
			// Included relations appear in the output even when no column
			// underneath them was requested.
			projNode = projNode.child(part)
		}
	}

	if err := validateProjection(proj, v.table.columns, v.table.relationships, ""); err != nil {
		return nil, err
	}
	if err := v.validateConds(); err != nil {
		return nil, err
	}

	v.table.mu.RLock()
	var rows []datactx.Row
	for _, row := range v.table.rows {
		if v.matchesAll(row) {
			rows = append(rows, copyRow(row))
		}
	}
	v.table.mu.RUnlock()

	rows = v.paginate(rows)

	if err := v.stitch(rows, v.table.relationships, inc, ""); err != nil {
		return nil, err
	}
	return project(rows, proj), nil
}

func (v view) matchesAll(row datactx.Row) bool {
	for _, cond := range v.conds {
		if !matches(row, cond) {
			return false
		}
	}
	return true
}

func (v view) paginate(rows []datactx.Row) []datactx.Row {
	if v.hasSkip && v.skip > 0 {
		if v.skip >= len(rows) {
			rows = nil
		} else {
			rows = rows[v.skip:]
		}
	}
	if v.hasTake {
		switch {
		case v.take <= 0:
			rows = nil
		case v.take < len(rows):
			rows = rows[:v.take]
		}
	}
	return rows
}

func validateProjection(node *pathNode, columns []datactx.ColumnDescriptor, rels []datactx.RelationshipDescriptor, scope string) error {
	known := make(map[string]struct{}, len(columns))
	for _, col := range columns {
		known[col.Name] = struct{}{}
	}
	for _, col := range node.cols {
		if _, ok := known[col]; !ok {
			return fmt.Errorf("select %s%s: %w", scope, col, datactx.ErrUnknownColumn)
		}
	}
	for _, name := range node.order {
		rel := findRelation(rels, name)
		if rel == nil {
			return fmt.Errorf("select %s%s: %w", scope, name, datactx.ErrUnknownRelation)
		}
		if err := validateProjection(node.children[name], rel.Columns, rel.Relationships, scope+name+"."); err != nil {
			return err
		}
	}
	return nil
}

func findRelation(rels []datactx.RelationshipDescriptor, name string) *datactx.RelationshipDescriptor {
	for i := range rels {
		if rels[i].RelationKey == name {
			return &rels[i]
		}
	}
	return nil
}

// stitch attaches related rows beneath each parent row, one include tree
// level at a time. Child tables are read through the shared store.
func (v view) stitch(rows []datactx.Row, rels []datactx.RelationshipDescriptor, tree *pathNode, scope string) error {
	for _, name := range tree.order {
		node := tree.children[name]
		rel := findRelation(rels, name)
		if rel == nil {
			return fmt.Errorf("include %s%s: %w", scope, name, datactx.ErrUnknownRelation)
		}
		child, ok := v.table.store.Table(rel.TableName)
		if !ok {
			return fmt.Errorf("include %s%s: table %s not in store: %w", scope, name, rel.TableName, datactx.ErrUnknownRelation)
		}

		matched := make([][]datactx.Row, len(rows))
		child.mu.RLock()
		for i, row := range rows {
			for _, childRow := range child.rows {
				if valuesEqual(row[rel.LocalColumn], childRow[rel.ForeignColumn]) {
					matched[i] = append(matched[i], copyRow(childRow))
				}
			}
		}
		child.mu.RUnlock()

		var all []datactx.Row
		for _, m := range matched {
			all = append(all, m...)
		}
		if err := v.stitch(all, rel.Relationships, node, scope+name+"."); err != nil {
			return err
		}

		for i, row := range rows {
			if rel.Cardinality == datactx.OneToOne {
				if len(matched[i]) > 0 {
					row[name] = matched[i][0]
				} else {
					row[name] = nil
				}
				continue
			}
			m := matched[i]
			if m == nil {
				m = []datactx.Row{}
			}
			row[name] = m
		}
	}
	return nil
}

func project(rows []datactx.Row, node *pathNode) []datactx.Row {
	out := make([]datactx.Row, len(rows))
	for i, row := range rows {
		out[i] = projectRow(row, node)
	}
	return out
}

func projectRow(row datactx.Row, node *pathNode) datactx.Row {
	out := datactx.Row{}
	for _, col := range node.cols {
		out[col] = row[col]
	}
	for _, name := range node.order {
		child := node.children[name]
		switch nested := row[name].(type) {
		case []datactx.Row:
			out[name] = project(nested, child)
		case datactx.Row:
			out[name] = projectRow(nested, child)
		default:
			out[name] = nil
		}
	}
	return out
}

func copyRow(row datactx.Row) datactx.Row {
	out := make(datactx.Row, len(row))
	for k, val := range row {
		out[k] = val
	}
	return out
}
