package trap

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCode_String(t *testing.T) {
	require.Equal(t, "invalid module", InvalidModule.String())
	require.Equal(t, "memory access out of bounds", MemoryOutOfBounds.String())
	require.Equal(t, "failed to allocate memory", AllocationFailure.String())
	require.Equal(t, "unknown trap code 42", Code(42).String())
}

func TestCode_IsRange(t *testing.T) {
	require.True(t, InvalidModule.IsRange())
	require.False(t, MemoryOutOfBounds.IsRange())
	require.False(t, AllocationFailure.IsRange())
}

func TestRaise(t *testing.T) {
	err := Raise(MemoryOutOfBounds, "from %d to %d pages", 1, 3)
	require.EqualError(t, err, "memory access out of bounds: from 1 to 3 pages")
	require.ErrorIs(t, err, ErrMemoryOutOfBounds)
	require.NotErrorIs(t, err, ErrAllocationFailure)
	require.Equal(t, MemoryOutOfBounds, CodeOf(err))

	// survives wrapping
	wrapped := fmt.Errorf("calling grow: %w", err)
	require.ErrorIs(t, wrapped, ErrMemoryOutOfBounds)
	require.Equal(t, MemoryOutOfBounds, CodeOf(wrapped))
}

func TestWrap(t *testing.T) {
	cause := errors.New("no space")
	err := Wrap(AllocationFailure, cause, "resize to %d bytes", 65536)
	require.EqualError(t, err, "failed to allocate memory: resize to 65536 bytes: no space")
	require.ErrorIs(t, err, ErrAllocationFailure)
	require.ErrorIs(t, err, cause)
}

func TestError_Error(t *testing.T) {
	require.EqualError(t, ErrInvalidModule, "invalid module")
	require.EqualError(t, &Error{Code: InvalidModule, Err: errors.New("stale handle")}, "invalid module: stale handle")
}

func TestCodeOf_NotTrap(t *testing.T) {
	require.Zero(t, CodeOf(nil))
	require.Zero(t, CodeOf(errors.New("plain")))
}
