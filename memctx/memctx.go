// Package memctx implements datactx.Context against in-memory tables. It
// backs tests and demos with full relationship stitching, so generated
// schemas can run end to end without a database. A Store groups the
// tables one schema spans; relationship descriptors reference sibling
// tables by name and includes are stitched from their rows.
package memctx

import (
	"context"
	"fmt"
	"sync"

	"tablegraph/datactx"
)

// Store holds the tables includes may reach. Tables created through one
// store can stitch each other's rows.
type Store struct {
	mu     sync.RWMutex
	tables map[string]*Table
}

func NewStore() *Store {
	return &Store{tables: make(map[string]*Table)}
}

// AddTable creates an empty table. Adding a name twice replaces the
// previous table; descriptors are treated as immutable afterwards.
func (s *Store) AddTable(name string, columns []datactx.ColumnDescriptor, relationships []datactx.RelationshipDescriptor) *Table {
	t := &Table{
		store:         s,
		name:          name,
		columns:       columns,
		relationships: relationships,
	}
	s.mu.Lock()
	s.tables[name] = t
	s.mu.Unlock()
	return t
}

// Table returns a table by name.
func (s *Store) Table(name string) (*Table, bool) {
	s.mu.RLock()
	t, ok := s.tables[name]
	s.mu.RUnlock()
	return t, ok
}

// Table is one in-memory table and the root datactx.Context for it.
// Reads and writes are guarded by one lock per table; derived contexts
// share the table and carry their own filter and pagination state.
type Table struct {
	store         *Store
	name          string
	columns       []datactx.ColumnDescriptor
	relationships []datactx.RelationshipDescriptor

	mu     sync.RWMutex
	rows   []datactx.Row
	nextID int64
}

// Seed inserts rows through the normal validation path.
func (t *Table) Seed(rows ...datactx.Row) error {
	for _, row := range rows {
		if _, err := t.Insert(context.Background(), row); err != nil {
			return fmt.Errorf("seed %s: %w", t.name, err)
		}
	}
	return nil
}

func (t *Table) Name() string { return t.name }

func (t *Table) Schema(context.Context) ([]datactx.ColumnDescriptor, error) {
	return t.columns, nil
}

func (t *Table) Relationships(context.Context) ([]datactx.RelationshipDescriptor, error) {
	return t.relationships, nil
}

func (t *Table) Where(cond datactx.Cond) datactx.Context { return t.view().Where(cond) }
func (t *Table) Include(path string) datactx.Context     { return t.view().Include(path) }
func (t *Table) Skip(n int) datactx.Context              { return t.view().Skip(n) }
func (t *Table) Take(n int) datactx.Context              { return t.view().Take(n) }

func (t *Table) Select(ctx context.Context, columns []string) ([]datactx.Row, error) {
	return t.view().Select(ctx, columns)
}

func (t *Table) Insert(ctx context.Context, record datactx.Row) ([]datactx.Row, error) {
	return t.view().Insert(ctx, record)
}

func (t *Table) Update(ctx context.Context, set datactx.Row) (int64, error) {
	return t.view().Update(ctx, set)
}

func (t *Table) Delete(ctx context.Context) (int64, error) {
	return t.view().Delete(ctx)
}

func (t *Table) view() view { return view{table: t} }

// view is a derived context: the table plus accumulated conditions,
// includes, and pagination. Views are values; deriving copies state so
// chains never share backing arrays.
type view struct {
	table    *Table
	conds    []datactx.Cond
	includes []string

	skip, take       int
	hasSkip, hasTake bool
}

func (v view) Name() string { return v.table.name }

func (v view) Schema(ctx context.Context) ([]datactx.ColumnDescriptor, error) {
	return v.table.Schema(ctx)
}

func (v view) Relationships(ctx context.Context) ([]datactx.RelationshipDescriptor, error) {
	return v.table.Relationships(ctx)
}

func (v view) Where(cond datactx.Cond) datactx.Context {
	if cond.IsZero() {
		return v
	}
	conds := make([]datactx.Cond, len(v.conds), len(v.conds)+1)
	copy(conds, v.conds)
	v.conds = append(conds, cond)
	return v
}

func (v view) Include(path string) datactx.Context {
	if path == "" {
		return v
	}
	includes := make([]string, len(v.includes), len(v.includes)+1)
	copy(includes, v.includes)
	v.includes = append(includes, path)
	return v
}

func (v view) Skip(n int) datactx.Context {
	v.skip, v.hasSkip = n, true
	return v
}

func (v view) Take(n int) datactx.Context {
	v.take, v.hasTake = n, true
	return v
}
