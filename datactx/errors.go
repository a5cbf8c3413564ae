package datactx

import "errors"

// Contract errors implementations return so the schema layer can classify
// failures without knowing the storage engine.
var (
	// ErrUnknownColumn reports a condition, projection, or write that names
	// a column the table does not have.
	ErrUnknownColumn = errors.New("unknown column")

	// ErrUnknownRelation reports an Include path that names a relation the
	// table does not declare.
	ErrUnknownRelation = errors.New("unknown relation")

	// ErrWriteRejected wraps storage-level write failures (constraint
	// violations and the like). Callers surface these without retrying.
	ErrWriteRejected = errors.New("write rejected")
)
