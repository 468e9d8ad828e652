package poll

import (
	"net/http"

	"github.com/tansive/pollbroker/internal/common/apperrors"
)

var (
	ErrPoll apperrors.Error = apperrors.New("error in polling handler").SetStatusCode(http.StatusInternalServerError)

	// ErrInvariant marks a request that fell through every protocol state.
	ErrInvariant apperrors.Error = ErrPoll.New("unexpected request state")

	ErrSessionCreate apperrors.Error = ErrPoll.New("unable to create session")
	ErrInvalidConfig apperrors.Error = ErrPoll.New("invalid polling handler configuration")
)
