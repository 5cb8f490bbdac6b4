package run

import "errors"

// Error taxonomy for the orchestration engine. Handlers match these with
// errors.Is to pick status codes; execution failures never surface here,
// they are absorbed into FAILED target/run states.
var (
	// ErrConflict means the owner already has an active run of the kind.
	ErrConflict = errors.New("run already active")

	// ErrNotFound means the run or target is unknown.
	ErrNotFound = errors.New("not found")

	// ErrPrecondition means the operation requires a state the run has
	// not reached, e.g. summary creation before every target succeeded.
	ErrPrecondition = errors.New("precondition not met")

	// ErrInvalid means the request itself is malformed, e.g. an empty
	// or duplicated target set.
	ErrInvalid = errors.New("invalid request")
)
