package errors

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollection(t *testing.T) {
	t.Parallel()

	t.Run("ignores nil errors", func(t *testing.T) {
		t.Parallel()

		c := &Collection{}
		c.Add(nil)

		assert.False(t, c.HasError())
		assert.Zero(t, c.Len())
		assert.NoError(t, c.GetError())
	})

	t.Run("returns single error unwrapped", func(t *testing.T) {
		t.Parallel()

		c := &Collection{}
		c.Add(ErrNoStates)

		assert.Equal(t, ErrNoStates, c.GetError())
	})

	t.Run("joins multiple errors", func(t *testing.T) {
		t.Parallel()

		c := &Collection{}
		c.Add(ErrNoStates)
		c.Addf("state %q: %w", "idle", ErrStateNotFound)
		c.Add(nil)

		require.Equal(t, 2, c.Len())

		err := c.GetError()
		require.Error(t, err)
		require.ErrorIs(t, err, ErrNoStates)
		require.ErrorIs(t, err, ErrStateNotFound)
		assert.Contains(t, err.Error(), `state "idle"`)
	})

	t.Run("clear resets the collection", func(t *testing.T) {
		t.Parallel()

		c := &Collection{}
		c.Add(ErrNoStates)
		c.Clear()

		assert.False(t, c.HasError())
		assert.NoError(t, c.GetError())
	})
}

func TestFromPanic(t *testing.T) {
	t.Parallel()

	t.Run("nil stays nil", func(t *testing.T) {
		t.Parallel()

		assert.NoError(t, FromPanic(nil, nil))
	})

	t.Run("error values keep their identity", func(t *testing.T) {
		t.Parallel()

		cause := errors.New("boom") //nolint:err113

		err := FromPanic(cause, nil)
		require.ErrorIs(t, err, ErrPanicRecovery)
		require.ErrorIs(t, err, cause)
	})

	t.Run("non-error values are formatted", func(t *testing.T) {
		t.Parallel()

		err := FromPanic(42, []byte("goroutine 1"))
		require.ErrorIs(t, err, ErrPanicRecovery)
		assert.Contains(t, err.Error(), "42")
		assert.Contains(t, err.Error(), "stack trace:\ngoroutine 1")
	})

	t.Run("recovered from a real panic", func(t *testing.T) {
		t.Parallel()

		err := func() (err error) {
			defer func() {
				err = FromPanic(recover(), nil)
			}()

			panic("kaboom")
		}()

		require.ErrorIs(t, err, ErrPanicRecovery)
		assert.Contains(t, err.Error(), "kaboom")
	})
}
