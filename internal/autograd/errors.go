package autograd

import (
	"fmt"

	"github.com/pkg/errors"
)

// Sentinel errors, matched with errors.Is.
var (
	// ErrUnknownKind is returned by Construct and Lookup for names that are not a Kind.
	ErrUnknownKind = errors.New("unknown function kind")

	// ErrNotConstructible is returned by Construct for backward-only kinds and
	// kinds that are created internally by the engine.
	ErrNotConstructible = errors.New("cannot construct")

	// ErrNoSuchField is returned by Attr for names not in the kind's field table.
	ErrNoSuchField = errors.New("no such field")

	// ErrReleased is returned when a node runs backward after a previous pass
	// freed its saved buffers.
	ErrReleased = errors.New("trying to backward through the graph a second time: " +
		"saved buffers were already freed, pass WithRetainGraph the first time")

	// ErrModifiedInPlace is returned when a tensor saved for backward was
	// overwritten by an in-place operation after it was saved.
	ErrModifiedInPlace = errors.New("a variable needed for gradient computation has been modified by an in-place operation")

	// ErrLeafInPlace is returned when an in-place operation targets a leaf
	// that requires grad.
	ErrLeafInPlace = errors.New("a leaf variable that requires grad is being used in an in-place operation")
)

// ArityError reports a construction argument list of the wrong length.
type ArityError struct {
	Kind      Kind
	Want, Got int
}

func (e *ArityError) Error() string {
	return fmt.Sprintf("%s: expected %d arguments, got %d", e.Kind, e.Want, e.Got)
}

// TypeError reports a construction argument that cannot be decoded into the
// type of its field.
type TypeError struct {
	Kind  Kind
	Index int
	Field string
	Want  string
	// Got is the Go type of the offending value, "<nil>" for nil.
	Got string
}

func (e *TypeError) Error() string {
	return fmt.Sprintf("%s: argument %d (%s) must be %s, got %s", e.Kind, e.Index, e.Field, e.Want, e.Got)
}

// DeferredError is the error stored by a DelayedError function and raised
// when the backward pass reaches its Error node.
type DeferredError struct {
	Msg string
}

func (e *DeferredError) Error() string {
	return e.Msg
}

// IncompleteAccumulationError is raised by Accumulator.Finalize in debug mode
// when fewer contributions arrived than were expected.
type IncompleteAccumulationError struct {
	Variable           string
	Expected, Received int
}

func (e *IncompleteAccumulationError) Error() string {
	return fmt.Sprintf("gradient accumulator for %s finalized after %d of %d expected contributions",
		e.Variable, e.Received, e.Expected)
}

// UnreachableGradientError reports a requested leaf that received no
// gradient during a backward pass.
type UnreachableGradientError struct {
	Variable string
}

func (e *UnreachableGradientError) Error() string {
	return fmt.Sprintf("%s requires grad but was not reached by the backward pass; "+
		"pass WithAllowUnused if this is expected", e.Variable)
}
