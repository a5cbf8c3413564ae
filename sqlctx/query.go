package sqlctx

import (
	"context"
	"database/sql"
	"fmt"
	"math"
	"strings"

	sq "github.com/Masterminds/squirrel"

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
	meta := v.table.meta
	cat := v.table.cat

	proj := newPathNode()
	if len(columns) == 0 {
		for _, col := range meta.columns {
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

	if err := validateProjection(proj, meta.columns, meta.relationships, ""); err != nil {
		return nil, err
	}
	if err := validateConds(meta, v.conds); err != nil {
		return nil, err
	}
	if v.hasTake && v.take <= 0 {
		return []datactx.Row{}, nil
	}

	fetch := fetchColumns(proj, inc, meta.relationships)
	builder := sq.Select(quoteAll(cat.dialect, fetch)...).
		From(cat.dialect.quoteIdentifier(meta.name))
	if pred := wherePredicate(cat.dialect, v.conds); pred != nil {
		builder = builder.Where(pred)
	}
	for _, pk := range meta.primary {
		builder = builder.OrderBy(cat.dialect.quoteIdentifier(pk))
	}
	if v.hasTake {
		builder = builder.Limit(uint64(v.take))
	}
	if v.hasSkip && v.skip > 0 {
		builder = builder.Offset(uint64(v.skip))
		if !v.hasTake && cat.dialect == MySQL {
			// MySQL cannot express OFFSET without LIMIT.
			builder = builder.Limit(math.MaxUint64)
		}
	}

	rows, err := cat.queryRows(ctx, builder.PlaceholderFormat(cat.dialect.placeholders()), fetch)
	if err != nil {
		return nil, fmt.Errorf("select from %s: %w", meta.name, err)
	}

	if err := cat.stitch(ctx, rows, meta.relationships, inc, proj, ""); err != nil {
		return nil, err
	}
	return project(rows, proj), nil
}

// fetchColumns returns the root columns the SQL statement must select: the
// requested ones plus the join keys feeding included relations. Helper
// columns are stripped again by the final projection.
func fetchColumns(proj, inc *pathNode, rels []datactx.RelationshipDescriptor) []string {
	fetch := append([]string(nil), proj.cols...)
	seen := make(map[string]struct{}, len(fetch))
	for _, col := range fetch {
		seen[col] = struct{}{}
	}
	for _, name := range inc.order {
		rel := findRelation(rels, name)
		if rel == nil {
			continue
		}
		if _, ok := seen[rel.LocalColumn]; !ok {
			seen[rel.LocalColumn] = struct{}{}
			fetch = append(fetch, rel.LocalColumn)
		}
	}
	return fetch
}

func quoteAll(d Dialect, names []string) []string {
	quoted := make([]string, len(names))
	for i, name := range names {
		quoted[i] = d.quoteIdentifier(name)
	}
	return quoted
}

// queryRows executes a select and scans every row into a map keyed by the
// fetched column names. Byte slices become strings so values compare and
// serialize cleanly.
func (c *Catalog) queryRows(ctx context.Context, builder sq.SelectBuilder, columns []string) ([]datactx.Row, error) {
	query, args, err := builder.ToSql()
	if err != nil {
		return nil, err
	}
	rows, err := c.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = rows.Close()
	}()
	return scanRows(rows, columns)
}

func scanRows(rows *sql.Rows, columns []string) ([]datactx.Row, error) {
	var results []datactx.Row
	for rows.Next() {
		values := make([]any, len(columns))
		valuePtrs := make([]any, len(columns))
		for i := range values {
			valuePtrs[i] = &values[i]
		}
		if err := rows.Scan(valuePtrs...); err != nil {
			return nil, err
		}
		row := make(datactx.Row, len(columns))
		for i, col := range columns {
			row[col] = convertValue(values[i])
		}
		results = append(results, row)
	}
	return results, rows.Err()
}

func convertValue(val any) any {
	if b, ok := val.([]byte); ok {
		return string(b)
	}
	return val
}

// stitch loads and attaches related rows one include level at a time. Each
// level costs a single query filtering the child table by the parents' join
// key values.
func (c *Catalog) stitch(ctx context.Context, rows []datactx.Row, rels []datactx.RelationshipDescriptor, inc, proj *pathNode, scope string) error {
	for _, name := range inc.order {
		incNode := inc.children[name]
		projNode := proj.children[name]
		rel := findRelation(rels, name)
		if rel == nil {
			return fmt.Errorf("include %s%s: %w", scope, name, datactx.ErrUnknownRelation)
		}
		childMeta, ok := c.tables[rel.TableName]
		if !ok {
			return fmt.Errorf("include %s%s: table %s not in catalog: %w", scope, name, rel.TableName, datactx.ErrUnknownRelation)
		}

		keys := parentKeys(rows, rel.LocalColumn)
		var childRows []datactx.Row
		if len(keys) > 0 {
			fetch := childFetchColumns(projNode, incNode, rel, childMeta)
			builder := sq.Select(quoteAll(c.dialect, fetch)...).
				From(c.dialect.quoteIdentifier(childMeta.name)).
				Where(sq.Eq{c.dialect.quoteIdentifier(rel.ForeignColumn): keys})
			for _, pk := range childMeta.primary {
				builder = builder.OrderBy(c.dialect.quoteIdentifier(pk))
			}
			var err error
			childRows, err = c.queryRows(ctx, builder.PlaceholderFormat(c.dialect.placeholders()), fetch)
			if err != nil {
				return fmt.Errorf("include %s%s: %w", scope, name, err)
			}
		}

		if err := c.stitch(ctx, childRows, childMeta.relationships, incNode, projNode, scope+name+"."); err != nil {
			return err
		}

		grouped := make(map[any][]datactx.Row, len(keys))
		for _, childRow := range childRows {
			key := joinKey(childRow[rel.ForeignColumn])
			grouped[key] = append(grouped[key], childRow)
		}
		for _, row := range rows {
			matched := grouped[joinKey(row[rel.LocalColumn])]
			if rel.Cardinality == datactx.OneToOne {
				if len(matched) > 0 {
					row[name] = matched[0]
				} else {
					row[name] = nil
				}
				continue
			}
			if matched == nil {
				matched = []datactx.Row{}
			}
			row[name] = matched
		}
	}
	return nil
}

// childFetchColumns mirrors fetchColumns for a nested level, adding the
// foreign key column needed for grouping under the parent.
func childFetchColumns(projNode, incNode *pathNode, rel *datactx.RelationshipDescriptor, childMeta *tableMeta) []string {
	var fetch []string
	if projNode != nil {
		fetch = fetchColumns(projNode, incNode, childMeta.relationships)
	}
	for _, col := range fetch {
		if col == rel.ForeignColumn {
			return fetch
		}
	}
	return append(fetch, rel.ForeignColumn)
}

func parentKeys(rows []datactx.Row, column string) []any {
	seen := make(map[any]struct{}, len(rows))
	var keys []any
	for _, row := range rows {
		val := row[column]
		if val == nil {
			continue
		}
		key := joinKey(val)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		keys = append(keys, val)
	}
	return keys
}

// joinKey normalizes numeric widths so join key values group consistently
// even when the two sides scan into different Go types.
func joinKey(val any) any {
	switch n := val.(type) {
	case int:
		return int64(n)
	case int8:
		return int64(n)
	case int16:
		return int64(n)
	case int32:
		return int64(n)
	case uint:
		return int64(n)
	case uint8:
		return int64(n)
	case uint16:
		return int64(n)
	case uint32:
		return int64(n)
	case uint64:
		return int64(n)
	case float32:
		return float64(n)
	default:
		return val
	}
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

func validateConds(meta *tableMeta, conds []datactx.Cond) error {
	for _, cond := range conds {
		if err := validateCond(meta, cond); err != nil {
			return err
		}
	}
	return nil
}

func validateCond(meta *tableMeta, cond datactx.Cond) error {
	switch cond.Op {
	case datactx.OpNone:
		return nil
	case datactx.OpAnd:
		for _, nested := range cond.Conds {
			if err := validateCond(meta, nested); err != nil {
				return err
			}
		}
		return nil
	default:
		if meta.column(cond.Column) == nil {
			return fmt.Errorf("condition column %s: %w", cond.Column, datactx.ErrUnknownColumn)
		}
		return nil
	}
}

// wherePredicate converts accumulated conditions into one squirrel
// predicate. Conditions must be validated first.
func wherePredicate(d Dialect, conds []datactx.Cond) sq.Sqlizer {
	converted := make([]sq.Sqlizer, 0, len(conds))
	for _, cond := range conds {
		if s := condToSQL(d, cond); s != nil {
			converted = append(converted, s)
		}
	}
	switch len(converted) {
	case 0:
		return nil
	case 1:
		return converted[0]
	default:
		and := make(sq.And, len(converted))
		copy(and, converted)
		return and
	}
}

func condToSQL(d Dialect, cond datactx.Cond) sq.Sqlizer {
	col := d.quoteIdentifier(cond.Column)
	switch cond.Op {
	case datactx.OpEq:
		return sq.Eq{col: cond.Value}
	case datactx.OpNe:
		return sq.NotEq{col: cond.Value}
	case datactx.OpLt:
		return sq.Lt{col: cond.Value}
	case datactx.OpLte:
		return sq.LtOrEq{col: cond.Value}
	case datactx.OpGt:
		return sq.Gt{col: cond.Value}
	case datactx.OpGte:
		return sq.GtOrEq{col: cond.Value}
	case datactx.OpAnd:
		and := make(sq.And, 0, len(cond.Conds))
		for _, nested := range cond.Conds {
			if s := condToSQL(d, nested); s != nil {
				and = append(and, s)
			}
		}
		if len(and) == 0 {
			return nil
		}
		return and
	default:
		return nil
	}
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
