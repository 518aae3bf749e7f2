package raystack

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResourceStackReverseOrder(t *testing.T) {
	s := NewResourceStack()

	const n = 20
	var order []int
	for i := 0; i < n; i++ {
		i := i
		if i%3 == 0 {
			require.NoError(t, s.Defer(func() error {
				order = append(order, i)
				return nil
			}))
			continue
		}
		_, err := s.Acquire(Handle(i), func(h Handle) error {
			order = append(order, int(h))
			return nil
		})
		require.NoError(t, err)
	}
	require.Equal(t, n, s.Len())

	require.NoError(t, s.Close())
	require.Len(t, order, n)
	for i, got := range order {
		assert.Equal(t, n-1-i, got, "teardown position %d", i)
	}
}

func TestResourceStackAcquireReturnsHandle(t *testing.T) {
	s := NewResourceStack()
	h, err := s.Acquire(Handle(7), func(Handle) error { return nil })
	require.NoError(t, err)
	assert.Equal(t, Handle(7), h)
	require.NoError(t, s.Close())
}

func TestResourceStackCloseIdempotent(t *testing.T) {
	s := NewResourceStack()
	runs := 0
	require.NoError(t, s.Defer(func() error {
		runs++
		return nil
	}))

	require.NoError(t, s.Close())
	require.NoError(t, s.Close())
	assert.Equal(t, 1, runs)
}

func TestResourceStackCloseEmpty(t *testing.T) {
	s := NewResourceStack()
	assert.NoError(t, s.Close())
}

func TestResourceStackRejectsRegistrationAfterClose(t *testing.T) {
	s := NewResourceStack()
	require.NoError(t, s.Close())

	err := s.Defer(func() error { return nil })
	assert.ErrorIs(t, err, ErrStackClosed)

	h, err := s.Acquire(Handle(3), func(Handle) error { return nil })
	assert.ErrorIs(t, err, ErrStackClosed)
	// the handle still comes back so the caller can release it directly
	assert.Equal(t, Handle(3), h)
}

func TestResourceStackTeardownContinuesPastFailures(t *testing.T) {
	s := NewResourceStack()

	var ran []string
	fail := func(name string) func() error {
		return func() error {
			ran = append(ran, name)
			return fmt.Errorf("release %s failed", name)
		}
	}
	ok := func(name string) func() error {
		return func() error {
			ran = append(ran, name)
			return nil
		}
	}

	require.NoError(t, s.Defer(ok("a")))
	require.NoError(t, s.Defer(fail("b")))
	require.NoError(t, s.Defer(ok("c")))
	require.NoError(t, s.Defer(fail("d")))

	err := s.Close()
	require.Error(t, err)

	// every action ran despite the failures, in reverse order
	assert.Equal(t, []string{"d", "c", "b", "a"}, ran)

	var teardown *TeardownError
	require.ErrorAs(t, err, &teardown)
	assert.Len(t, teardown.Errs, 2)

	// a second close reports nothing new
	assert.NoError(t, s.Close())
}

func TestTeardownErrorUnwraps(t *testing.T) {
	inner := errors.New("device lost")
	err := error(&TeardownError{Errs: []error{inner}})
	assert.ErrorIs(t, err, inner)
}
