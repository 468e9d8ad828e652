package server

import (
	"github.com/tansive/pollbroker/internal/common/apperrors"
)

var (
	ErrServer apperrors.Error = apperrors.New("unable to build server")

	// ErrLoopNotRunning is returned when a cooperative task is configured
	// but the process event loop has not been started.
	ErrLoopNotRunning apperrors.Error = ErrServer.New("cooperative task requires a running event loop")
)
