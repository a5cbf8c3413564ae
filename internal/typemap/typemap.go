// Package typemap provides the shared mapping from column datatypes to
// GraphQL scalar types. Schema generation and argument synthesis both go
// through it so a column always presents the same scalar everywhere.
package typemap

import (
	"errors"
	"fmt"

	"github.com/graphql-go/graphql"

	"tablegraph/datactx"
)

// ErrUnknownDatatype reports column metadata whose datatype is outside the
// recognized set. This is a metadata integrity failure surfaced at schema
// build time, never silently defaulted.
var ErrUnknownDatatype = errors.New("unknown datatype")

// Scalar returns the GraphQL scalar for a datatype. Dates serialize as
// strings at the boundary; there is no native date scalar.
func Scalar(d datactx.Datatype) (*graphql.Scalar, error) {
	switch d {
	case datactx.TypeString, datactx.TypeDate:
		return graphql.String, nil
	case datactx.TypeInt:
		return graphql.Int, nil
	case datactx.TypeFloat:
		return graphql.Float, nil
	case datactx.TypeBoolean:
		return graphql.Boolean, nil
	default:
		return nil, fmt.Errorf("%w: datatype %d", ErrUnknownDatatype, int(d))
	}
}

// OutputType returns the field type for a column in generated object types:
// the column's scalar, non-null unless the column is nullable.
func OutputType(col datactx.ColumnDescriptor) (graphql.Output, error) {
	scalar, err := Scalar(col.Datatype)
	if err != nil {
		return nil, fmt.Errorf("column %q: %w", col.Name, err)
	}
	if col.Nullable {
		return scalar, nil
	}
	return graphql.NewNonNull(scalar), nil
}

// InsertType returns the argument type for a column in insert operations.
// Identity values are server-assigned and therefore optional on input, so
// only non-nullable, non-identity columns are required.
func InsertType(col datactx.ColumnDescriptor) (graphql.Input, error) {
	scalar, err := Scalar(col.Datatype)
	if err != nil {
		return nil, fmt.Errorf("column %q: %w", col.Name, err)
	}
	if col.Nullable || col.Identity {
		return scalar, nil
	}
	return graphql.NewNonNull(scalar), nil
}

// FilterType returns the argument type for a column used as a filter.
// Filter arguments are always optional regardless of column nullability.
func FilterType(col datactx.ColumnDescriptor) (graphql.Input, error) {
	scalar, err := Scalar(col.Datatype)
	if err != nil {
		return nil, fmt.Errorf("column %q: %w", col.Name, err)
	}
	return scalar, nil
}
