package storage

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorKind_Names(t *testing.T) {
	kinds := AllKinds()
	assert.Len(t, kinds, 12)
	for _, k := range kinds {
		assert.NotContains(t, k.String(), "ErrorKind(")
	}
	assert.Equal(t, "ErrorKind(99)", ErrorKind(99).String())
}

func TestError_IsAndKindOf(t *testing.T) {
	err := NewError(KindNotFound, "object %s missing", "x").WithOperation(OperationRead).WithPath("x")
	wrapped := fmt.Errorf("outer: %w", err)

	assert.ErrorIs(t, wrapped, ErrNotFound)
	assert.NotErrorIs(t, wrapped, ErrPermissionDenied)
	assert.Equal(t, KindNotFound, KindOf(wrapped))
	assert.Equal(t, KindUnexpected, KindOf(errors.New("plain")))
	assert.Equal(t, "NotFound at read x: object x missing", err.Error())
}

func TestWrapError(t *testing.T) {
	inner := NewError(KindRateLimited, "slow down").SetTemporary()
	got := wrapError(inner, OperationStat, "p")

	var se *Error
	assert.True(t, errors.As(got, &se))
	assert.Equal(t, OperationStat, se.Operation)
	assert.Equal(t, "p", se.Path)
	assert.True(t, IsTemporary(got))
	assert.Empty(t, inner.Path, "the original is not mutated")

	plain := wrapError(context.DeadlineExceeded, OperationRead, "q")
	assert.Equal(t, KindUnexpected, KindOf(plain))
	assert.True(t, IsTemporary(plain))
	assert.ErrorIs(t, plain, context.DeadlineExceeded)

	assert.NoError(t, wrapError(nil, OperationRead, "q"))
}

func TestWithAttempts(t *testing.T) {
	err := NewError(KindUnexpected, "flaky").SetTemporary()
	final := WithAttempts(err, 3)

	assert.Equal(t, 3, Attempts(final))
	assert.False(t, IsTemporary(final))
	assert.ErrorIs(t, final, ErrUnexpected)
	assert.Equal(t, 0, Attempts(err))
}
