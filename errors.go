package sc

import (
	"errors"
	"fmt"
)

var (
	// ErrCreateFailed is returned when the compositor refuses to create
	// a surface or transaction.
	ErrCreateFailed = errors.New("compositor returned no object")

	// ErrInvalidSurface is returned when a nil surface is used where a
	// surface is required.
	ErrInvalidSurface = errors.New("invalid surface")

	// ErrReleased is returned when a surface handle is used after its
	// reference has been released.
	ErrReleased = errors.New("surface handle released")

	// ErrBorrowed is returned when releasing a surface that was obtained
	// from Stats and is therefore not owned by the caller.
	ErrBorrowed = errors.New("surface handle is borrowed")

	// ErrClosed is returned when a closed transaction is used.
	ErrClosed = errors.New("transaction closed")

	// ErrSubmitted is returned when a transaction is modified or
	// submitted again after Submit.
	ErrSubmitted = errors.New("transaction already submitted")

	// ErrCallbackSet is returned when a second callback is registered
	// for the same phase of a transaction.
	ErrCallbackSet = errors.New("callback already registered")

	// ErrUnsupported is returned when an operation requires a newer
	// platform API level than the backend provides.
	ErrUnsupported = errors.New("operation not supported at this API level")

	// ErrInvalidArgument is wrapped by every ArgumentError.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrCommitPhase is returned by fence queries on Stats passed to an
	// on-commit callback. Fences only exist once the frame is presented.
	ErrCommitPhase = errors.New("fence not available during commit")

	// ErrStatsExpired is returned when Stats are used after the callback
	// that received them has returned.
	ErrStatsExpired = errors.New("transaction stats used outside of callback")
)

// ArgumentError reports an argument that was rejected before it could
// reach the compositor.
type ArgumentError struct {
	Op    string
	Arg   string
	Value any
}

func argError(op, arg string, v any) error {
	return &ArgumentError{Op: op, Arg: arg, Value: v}
}

func (err *ArgumentError) Error() string {
	return fmt.Sprintf("%v: invalid %v: %v", err.Op, err.Arg, err.Value)
}

func (err *ArgumentError) Unwrap() error {
	return ErrInvalidArgument
}
