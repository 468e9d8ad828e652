package registry

import (
	"net/http"

	"github.com/tansive/pollbroker/internal/common/apperrors"
)

var (
	// ErrRegistry is the base error for registry failures.
	ErrRegistry apperrors.Error = apperrors.New("error in session registry").SetStatusCode(http.StatusInternalServerError)

	// ErrAlreadyExists is returned when registering an id that is live.
	ErrAlreadyExists apperrors.Error = ErrRegistry.New("session already exists").SetStatusCode(http.StatusConflict)

	// ErrInvalidSession is returned when registering an empty id or nil handle.
	ErrInvalidSession apperrors.Error = ErrRegistry.New("invalid session").SetStatusCode(http.StatusBadRequest)
)
