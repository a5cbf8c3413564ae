package memctx

import (
	"context"
	"fmt"

	"tablegraph/datactx"
)

func (v view) Insert(ctx context.Context, record datactx.Row) ([]datactx.Row, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	t := v.table

	for name := range record {
		if t.column(name) == nil {
			return nil, fmt.Errorf("insert into %s: column %s: %w", t.name, name, datactx.ErrUnknownColumn)
		}
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	stored := datactx.Row{}
	for _, col := range t.columns {
		value, supplied := record[col.Name]
		switch {
		case col.Identity && !supplied:
			t.nextID++
			value = t.nextID
		case col.Identity:
			// Explicit identity values are accepted (seeding fixtures needs
			// them); the sequence advances past them.
			if value == nil {
				return nil, fmt.Errorf("insert into %s: column %s cannot be null: %w", t.name, col.Name, datactx.ErrWriteRejected)
			}
			if f, ok := toFloat(value); ok && int64(f) > t.nextID {
				t.nextID = int64(f)
			}
		case col.Virtual && supplied:
			return nil, fmt.Errorf("insert into %s: column %s is computed: %w", t.name, col.Name, datactx.ErrWriteRejected)
		case !supplied || value == nil:
			if !col.Nullable && !col.Virtual {
				return nil, fmt.Errorf("insert into %s: column %s cannot be null: %w", t.name, col.Name, datactx.ErrWriteRejected)
			}
			value = nil
		}
		stored[col.Name] = value
	}

	var primaries []string
	for _, col := range t.columns {
		if col.Primary {
			primaries = append(primaries, col.Name)
		}
	}
	if len(primaries) > 0 {
		for _, row := range t.rows {
			same := true
			for _, name := range primaries {
				if !valuesEqual(row[name], stored[name]) {
					same = false
					break
				}
			}
			if same {
				return nil, fmt.Errorf("insert into %s: duplicate primary key: %w", t.name, datactx.ErrWriteRejected)
			}
		}
	}

	t.rows = append(t.rows, stored)
	return []datactx.Row{copyRow(stored)}, nil
}

func (v view) Update(ctx context.Context, set datactx.Row) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	t := v.table

	if err := v.validateConds(); err != nil {
		return 0, err
	}
	for name, value := range set {
		col := t.column(name)
		if col == nil {
			return 0, fmt.Errorf("update %s: column %s: %w", t.name, name, datactx.ErrUnknownColumn)
		}
		if col.Identity || col.Virtual {
			return 0, fmt.Errorf("update %s: column %s is generated: %w", t.name, name, datactx.ErrWriteRejected)
		}
		if value == nil && !col.Nullable {
			return 0, fmt.Errorf("update %s: column %s cannot be null: %w", t.name, name, datactx.ErrWriteRejected)
		}
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	var affected int64
	for _, row := range t.rows {
		if !v.matchesAll(row) {
			continue
		}
		for name, value := range set {
			row[name] = value
		}
		affected++
	}
	return affected, nil
}

func (v view) Delete(ctx context.Context) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	t := v.table

	if err := v.validateConds(); err != nil {
		return 0, err
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	kept := t.rows[:0]
	var affected int64
	for _, row := range t.rows {
		if v.matchesAll(row) {
			affected++
			continue
		}
		kept = append(kept, row)
	}
	t.rows = kept
	return affected, nil
}

// column finds a column descriptor by name, nil when absent.
func (t *Table) column(name string) *datactx.ColumnDescriptor {
	for i := range t.columns {
		if t.columns[i].Name == name {
			return &t.columns[i]
		}
	}
	return nil
}
