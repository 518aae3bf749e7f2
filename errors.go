package raystack

import (
	"errors"
	"fmt"
)

var (
	// ErrUnsupportedRank reports an input array of more than 3 dimensions.
	ErrUnsupportedRank = errors.New("array rank above 3 is not supported")

	// ErrStackClosed reports a registration attempted after Close.
	ErrStackClosed = errors.New("resource stack is closed")

	// ErrNilPointer reports an array view without backing memory.
	ErrNilPointer = errors.New("array view has no backing memory")
)

// ExtentMismatchError reports that a buffer copy was attempted between
// buffers of different extents. The adapter checks this before invoking the
// engine's copy primitive; hitting it means a programming error upstream.
type ExtentMismatchError struct {
	Src, Dst [3]int
}

func (e *ExtentMismatchError) Error() string {
	return fmt.Sprintf("buffer extent mismatch: source %v, destination %v", e.Src, e.Dst)
}

// ForeignCallError wraps a failure reported by the engine for one call.
type ForeignCallError struct {
	Op  string
	Err error
}

func (e *ForeignCallError) Error() string {
	return fmt.Sprintf("engine call %s: %v", e.Op, e.Err)
}

func (e *ForeignCallError) Unwrap() error { return e.Err }

// foreignErr wraps err as a ForeignCallError unless it already is one.
func foreignErr(op string, err error) error {
	if err == nil {
		return nil
	}
	var fce *ForeignCallError
	if errors.As(err, &fce) {
		return err
	}
	return &ForeignCallError{Op: op, Err: err}
}

// TeardownError aggregates failures from resource-stack teardown. Close
// runs every registered action regardless of earlier failures and reports
// the complete set.
type TeardownError struct {
	Errs []error
}

func (e *TeardownError) Error() string {
	return fmt.Sprintf("teardown finished with %d failure(s): %v", len(e.Errs), errors.Join(e.Errs...))
}

func (e *TeardownError) Unwrap() []error { return e.Errs }
