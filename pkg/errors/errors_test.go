package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	e := New(2002, "Room already exists", http.StatusConflict)
	assert.Equal(t, 2002, e.Code)
	assert.Equal(t, http.StatusConflict, e.HttpCode)
	assert.Equal(t, "Room already exists", e.Error())

	def := New(1, "x")
	assert.Equal(t, 200, def.HttpCode)
}

func TestWithErrorDoesNotMutate(t *testing.T) {
	base := New(2001, "Invalid message format", http.StatusBadRequest)
	cause := stderrors.New("unexpected end of JSON input")

	wrapped := base.WithError(cause)
	assert.Nil(t, base.Err)
	assert.Equal(t, cause, wrapped.Err)
	assert.Equal(t, "unexpected end of JSON input", wrapped.Detail())
	assert.Equal(t, "Invalid message format: unexpected end of JSON input", wrapped.Error())
	assert.Empty(t, base.Detail())
}

func TestIsComparesCode(t *testing.T) {
	base := New(2002, "Room already exists")
	other := base.WithMessage("room abc already exists")

	assert.True(t, Is(other, base))
	assert.False(t, Is(other, ErrServer))

	wrapped := fmt.Errorf("create: %w", other)
	assert.True(t, Is(wrapped, base))
}

func TestAsAndCodeOf(t *testing.T) {
	err := fmt.Errorf("outer: %w", ErrNotFound.WithError(stderrors.New("missing")))

	var target *Error
	require.True(t, As(err, &target))
	assert.Equal(t, ErrNotFound.Code, target.Code)
	assert.Equal(t, ErrNotFound.Code, CodeOf(err))
	assert.Equal(t, ErrServer.Code, CodeOf(stderrors.New("plain")))
}
