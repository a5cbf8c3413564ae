package memctx

import (
	"fmt"
	"strings"

	"tablegraph/datactx"
)

// validateConds rejects conditions naming columns the table does not have,
// before any rows are touched.
func (v view) validateConds() error {
	for _, cond := range v.conds {
		if err := v.table.validateCond(cond); err != nil {
			return err
		}
	}
	return nil
}

func (t *Table) validateCond(cond datactx.Cond) error {
	switch cond.Op {
	case datactx.OpNone:
		return nil
	case datactx.OpAnd:
		for _, nested := range cond.Conds {
			if err := t.validateCond(nested); err != nil {
				return err
			}
		}
		return nil
	default:
		if t.column(cond.Column) == nil {
			return fmt.Errorf("condition column %s: %w", cond.Column, datactx.ErrUnknownColumn)
		}
		return nil
	}
}

// matches evaluates a condition tree against one row. Zero conditions
// match everything.
func matches(row datactx.Row, cond datactx.Cond) bool {
	switch cond.Op {
	case datactx.OpNone:
		return true
	case datactx.OpAnd:
		for _, child := range cond.Conds {
			if !matches(row, child) {
				return false
			}
		}
		return true
	case datactx.OpEq:
		return valuesEqual(row[cond.Column], cond.Value)
	case datactx.OpNe:
		return !valuesEqual(row[cond.Column], cond.Value)
	case datactx.OpLt:
		c, ok := compareValues(row[cond.Column], cond.Value)
		return ok && c < 0
	case datactx.OpLte:
		c, ok := compareValues(row[cond.Column], cond.Value)
		return ok && c <= 0
	case datactx.OpGt:
		c, ok := compareValues(row[cond.Column], cond.Value)
		return ok && c > 0
	case datactx.OpGte:
		c, ok := compareValues(row[cond.Column], cond.Value)
		return ok && c >= 0
	default:
		return false
	}
}

// valuesEqual compares scalars with numeric widening, so a stored int64
// identity matches an int argument.
func valuesEqual(a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	if fa, ok := toFloat(a); ok {
		fb, okb := toFloat(b)
		return okb && fa == fb
	}
	return a == b
}

// compareValues orders two scalars; ok is false for mixed or unordered
// types, in which case no ordering condition matches.
func compareValues(a, b any) (int, bool) {
	if fa, ok := toFloat(a); ok {
		if fb, ok := toFloat(b); ok {
			switch {
			case fa < fb:
				return -1, true
			case fa > fb:
				return 1, true
			default:
				return 0, true
			}
		}
		return 0, false
	}
	sa, ok := a.(string)
	if !ok {
		return 0, false
	}
	sb, ok := b.(string)
	if !ok {
		return 0, false
	}
	return strings.Compare(sa, sb), true
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint8:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	default:
		return 0, false
	}
}
