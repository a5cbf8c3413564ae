// Package datactx defines the contract between generated schemas and the
// underlying data store. Implementations provide column and relationship
// metadata plus a chainable query surface; the schema layer never touches
// storage directly.
package datactx

import "context"

// Datatype is the category of a column's values as exposed to callers.
type Datatype int

const (
	// TypeString covers text and date-like columns serialized as strings.
	TypeString Datatype = iota
	// TypeInt represents integer numeric columns.
	TypeInt
	// TypeFloat represents floating-point and fixed-point numeric columns.
	TypeFloat
	// TypeBoolean represents boolean columns.
	TypeBoolean
	// TypeDate represents date/time columns. They map to string scalars at
	// the schema boundary but keep their own category for metadata fidelity.
	TypeDate
)

// String returns the scalar name used in generated schemas.
func (d Datatype) String() string {
	switch d {
	case TypeInt:
		return "Int"
	case TypeFloat:
		return "Float"
	case TypeBoolean:
		return "Boolean"
	case TypeDate:
		return "Date"
	default:
		return "String"
	}
}

// Cardinality describes how a relationship multiplies rows.
type Cardinality int

const (
	// OneToMany relationships expose a list of related rows.
	OneToMany Cardinality = iota
	// OneToOne relationships expose a single related row (or nil).
	OneToOne
)

func (c Cardinality) String() string {
	if c == OneToOne {
		return "one-to-one"
	}
	return "one-to-many"
}

// ColumnDescriptor describes one column of a bound table. Descriptors are
// immutable once loaded from the metadata provider.
type ColumnDescriptor struct {
	Name     string
	Datatype Datatype
	Nullable bool
	// Identity marks auto-generated keys. Identity columns are excluded
	// from insert/update argument sets and always optional on input.
	Identity bool
	// Virtual marks computed columns, excluded from insert/update argument sets.
	Virtual bool
	Primary bool
}

// RelationshipDescriptor describes one edge of a table's relationship tree.
// The tree is rooted at the bound table; nested descriptors describe
// multi-level chains. Cycles are not supported and are rejected during
// schema synthesis.
type RelationshipDescriptor struct {
	// RelationKey is the name under which the relation is exposed.
	RelationKey string
	Cardinality Cardinality
	// TableName is the referenced table.
	TableName string
	// LocalColumn/ForeignColumn form the join key pair: parent rows match
	// child rows where parent.LocalColumn == child.ForeignColumn.
	LocalColumn   string
	ForeignColumn string
	Columns       []ColumnDescriptor
	Relationships []RelationshipDescriptor
}

// Row is one record. Values for included one-to-many relations are []Row,
// included one-to-one relations are Row (or nil when absent).
type Row = map[string]any

// Context is a handle on one table's data. Where, Include, Skip, and Take
// return derived contexts and never mutate the receiver, so a registered
// context can serve concurrent requests through independent chains.
type Context interface {
	// Name returns the bound table's name. Generated type and field names
	// derive from it unless registration overrides the display name.
	Name() string
	// Schema returns the table's column descriptors.
	Schema(ctx context.Context) ([]ColumnDescriptor, error)
	// Relationships returns the table's relationship tree.
	Relationships(ctx context.Context) ([]RelationshipDescriptor, error)

	// Where returns a derived context with cond applied. Conditions from
	// repeated calls are conjoined.
	Where(cond Cond) Context
	// Include returns a derived context that loads the relation named by a
	// dotted path, e.g. "UserRoles" or "UserRoles.Role".
	Include(path string) Context
	// Skip returns a derived context that offsets results by n rows. Skip
	// is only meaningful in combination with Take.
	Skip(n int) Context
	// Take returns a derived context that limits results to n rows.
	Take(n int) Context

	// Select executes the read and returns rows holding exactly the
	// requested columns. Paths use dots for included relations
	// ("UserRoles.Role.Title"); an empty list selects every root column.
	Select(ctx context.Context, columns []string) ([]Row, error)
	// Insert writes one record and returns the stored rows (with any
	// generated values populated).
	Insert(ctx context.Context, record Row) ([]Row, error)
	// Update applies set to every row matched by the accumulated
	// conditions and returns the affected row count.
	Update(ctx context.Context, set Row) (int64, error)
	// Delete removes every row matched by the accumulated conditions and
	// returns the affected row count.
	Delete(ctx context.Context) (int64, error)
}
