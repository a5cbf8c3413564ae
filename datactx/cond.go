package datactx

// Op identifies a condition operator.
type Op int

const (
	// OpNone is the zero condition; it matches everything and is dropped
	// when combined.
	OpNone Op = iota
	OpEq
	OpNe
	OpLt
	OpLte
	OpGt
	OpGte
	// OpAnd conjoins nested conditions. There is no OR combinator.
	OpAnd
)

// Cond is a predicate tree over a table's columns. Leaves compare one
// column against a value; OpAnd nodes conjoin children. The zero Cond
// matches everything.
type Cond struct {
	Op     Op
	Column string
	Value  any
	Conds  []Cond
}

// IsZero reports whether the condition is empty and therefore matches all rows.
func (c Cond) IsZero() bool {
	return c.Op == OpNone
}

// Eq matches rows where column equals value.
func Eq(column string, value any) Cond {
	return Cond{Op: OpEq, Column: column, Value: value}
}

// Ne matches rows where column differs from value.
func Ne(column string, value any) Cond {
	return Cond{Op: OpNe, Column: column, Value: value}
}

// Lt matches rows where column is less than value.
func Lt(column string, value any) Cond {
	return Cond{Op: OpLt, Column: column, Value: value}
}

// Lte matches rows where column is at most value.
func Lte(column string, value any) Cond {
	return Cond{Op: OpLte, Column: column, Value: value}
}

// Gt matches rows where column is greater than value.
func Gt(column string, value any) Cond {
	return Cond{Op: OpGt, Column: column, Value: value}
}

// Gte matches rows where column is at least value.
func Gte(column string, value any) Cond {
	return Cond{Op: OpGte, Column: column, Value: value}
}

// And conjoins conds, dropping zero conditions. It returns the zero Cond
// when nothing remains and the condition itself when only one remains.
func And(conds ...Cond) Cond {
	kept := make([]Cond, 0, len(conds))
	for _, c := range conds {
		if c.IsZero() {
			continue
		}
		kept = append(kept, c)
	}
	switch len(kept) {
	case 0:
		return Cond{}
	case 1:
		return kept[0]
	default:
		return Cond{Op: OpAnd, Conds: kept}
	}
}
