package eventloop

import (
	"github.com/tansive/pollbroker/internal/common/apperrors"
)

var (
	// ErrEventLoop is the base error for event loop failures.
	ErrEventLoop apperrors.Error = apperrors.New("event loop error")

	// ErrAlreadyStarted is returned when a loop, or the process-wide default
	// loop, is started a second time.
	ErrAlreadyStarted apperrors.Error = ErrEventLoop.New("event loop already started")

	// ErrNotRunning is returned when work is handed to a loop that has not
	// been started or has been stopped.
	ErrNotRunning apperrors.Error = ErrEventLoop.New("event loop not running")
)
