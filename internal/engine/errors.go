package engine

import "errors"

// Engine error taxonomy. Callers match with errors.Is; everything else
// surfacing from an operation is an internal store or handler plumbing
// failure.
var (
	// ErrInvalidArgument means the request was malformed: missing fields,
	// an unregistered task type, or an unidentified actor.
	ErrInvalidArgument = errors.New("invalid argument")
	// ErrNotFound means the task or learning id did not resolve.
	ErrNotFound = errors.New("not found")
	// ErrFailedPrecondition means the operation is not permitted from the
	// task's current status, or the retry ceiling was reached.
	ErrFailedPrecondition = errors.New("failed precondition")
	// ErrConflict means a concurrent writer won the optimistic versioning
	// race for the same task.
	ErrConflict = errors.New("conflict")
)
