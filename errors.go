package tablegraph

import (
	"errors"

	"tablegraph/internal/typemap"
)

// Configuration and build errors. All of them surface eagerly at
// registration or schema-build time, never from a live request.
var (
	// ErrUnknownDatatype reports column metadata outside the recognized
	// datatype set.
	ErrUnknownDatatype = typemap.ErrUnknownDatatype

	// ErrDuplicateArgument reports a custom argument whose name collides
	// with a default column argument or a previously added custom name.
	ErrDuplicateArgument = errors.New("duplicate argument")

	// ErrCannotRemoveRequiredInsertArgument reports an attempt to suppress
	// an insert column that has no server-side or null default.
	ErrCannotRemoveRequiredInsertArgument = errors.New("cannot remove required insert argument")

	// ErrConflictingCustomization reports remove and change customizations
	// targeting the same original argument in one configuration pass.
	ErrConflictingCustomization = errors.New("conflicting customization")

	// ErrUnknownArgument reports a remove or change that names an argument
	// the operation does not expose.
	ErrUnknownArgument = errors.New("unknown argument")

	// ErrCycleDetected reports a relationship tree whose generated type
	// names revisit a shape still under construction.
	ErrCycleDetected = errors.New("relationship cycle detected")

	// ErrConfigurationFrozen reports registration or customization after
	// schema synthesis has begun.
	ErrConfigurationFrozen = errors.New("configuration frozen after schema build")

	// ErrPredicateRestricted reports a predicate redefinition on an
	// operation that keeps equality semantics for row targeting.
	ErrPredicateRestricted = errors.New("predicate redefinition restricted to query arguments")
)

// Request-time error codes carried in the GraphQL error extensions.
const (
	CodeUnscopedMutation = "unscoped_mutation_rejected"
	CodeInsertRejected   = "insert_rejected"
	CodeWriteFailed      = "write_failed"
)

// requestError is a resolution failure surfaced through the GraphQL
// response with a machine-readable code.
type requestError struct {
	message string
	code    string
	cause   error
}

func (e *requestError) Error() string {
	return e.message
}

func (e *requestError) Unwrap() error {
	return e.cause
}

// Extensions exposes the error code to GraphQL error formatting.
func (e *requestError) Extensions() map[string]interface{} {
	return map[string]interface{}{
		"code": e.code,
	}
}

func newRequestError(message, code string, cause error) error {
	return &requestError{message: message, code: code, cause: cause}
}

// IsUnscopedMutation reports whether err is the guard rejecting a mutation
// with an empty filter set.
func IsUnscopedMutation(err error) bool {
	var re *requestError
	return errors.As(err, &re) && re.code == CodeUnscopedMutation
}

// IsInsertRejected reports whether err wraps an insert the data context
// refused.
func IsInsertRejected(err error) bool {
	var re *requestError
	return errors.As(err, &re) && re.code == CodeInsertRejected
}
