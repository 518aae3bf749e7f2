package raystack

// ResourceStack is a LIFO registry of cleanup actions for engine resources.
// It is the exception-safety mechanism for scene construction: every handle
// is registered immediately after creation, and Close unwinds everything
// acquired so far in reverse acquisition order, whether construction
// finished or failed halfway.
//
// The stack is the sole owner of release responsibility for every handle it
// is given; releasing a registered handle through any other path is a
// caller error. Not safe for concurrent use; the harness is single-threaded
// by construction.
type ResourceStack struct {
	actions []func() error
	closed  bool
}

func NewResourceStack() *ResourceStack {
	return &ResourceStack{}
}

// Acquire registers release to run for h during teardown and returns h
// unchanged for fluent use. Registering after Close fails with
// ErrStackClosed and leaves release unregistered.
func (s *ResourceStack) Acquire(h Handle, release func(Handle) error) (Handle, error) {
	if err := s.Defer(func() error { return release(h) }); err != nil {
		return h, err
	}
	return h, nil
}

// Defer registers a cleanup action not tied to a particular handle, such as
// device-level teardown.
func (s *ResourceStack) Defer(action func() error) error {
	if s.closed {
		return ErrStackClosed
	}
	s.actions = append(s.actions, action)
	return nil
}

// Len returns the number of pending actions.
func (s *ResourceStack) Len() int {
	return len(s.actions)
}

// Close runs every registered action in reverse registration order, then
// clears the registry. A failing action does not stop teardown: every
// remaining action still runs, and the complete set of failures is
// reported as a TeardownError. Closing an already-closed or empty stack is
// a no-op.
func (s *ResourceStack) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true

	var errs []error
	for i := len(s.actions) - 1; i >= 0; i-- {
		if err := s.actions[i](); err != nil {
			errs = append(errs, err)
		}
	}
	s.actions = nil
	if len(errs) > 0 {
		return &TeardownError{Errs: errs}
	}
	return nil
}
