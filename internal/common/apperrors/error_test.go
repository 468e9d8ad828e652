package apperrors

import (
	"fmt"
	"net/http"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
)

func TestErrorChain(t *testing.T) {
	ErrBroker := New("broker error").SetStatusCode(http.StatusInternalServerError)
	ErrSession := ErrBroker.New("session error")

	assert.Equal(t, "session error", ErrSession.Error())
	assert.Equal(t, http.StatusInternalServerError, ErrSession.StatusCode())
	assert.ErrorIs(t, ErrSession, ErrBroker)

	ErrForbidden := ErrSession.New("forbidden").SetStatusCode(http.StatusForbidden)
	assert.Equal(t, http.StatusForbidden, ErrForbidden.StatusCode())
	assert.Equal(t, http.StatusInternalServerError, ErrSession.StatusCode())

	cause := errors.New("disk on fire")
	wrapped := ErrSession.Err(cause)
	assert.Equal(t, "session error", wrapped.Error())
	assert.ErrorIs(t, wrapped, cause)
	assert.ErrorIs(t, wrapped, ErrBroker)
	assert.Len(t, wrapped.UnwrapAll(), 2)

	withMsg := ErrSession.MsgErr("unable to close", fmt.Errorf("closed twice"))
	assert.Equal(t, "unable to close", withMsg.Error())
	assert.ErrorIs(t, withMsg, ErrSession)
}

func TestErrorAll(t *testing.T) {
	ErrBase := New("base")
	cause := fmt.Errorf("cause")

	assert.Equal(t, "base", ErrBase.Err(cause).ErrorAll())

	expanded := ErrBase.SetExpandError(true).Err(cause)
	assert.Equal(t, "base; base; cause", expanded.ErrorAll())
}

func TestIsNil(t *testing.T) {
	err := New("x").(*appError)
	assert.False(t, err.Is(nil))
}
