package webio

import (
	"net/http"

	"github.com/tansive/pollbroker/internal/common/apperrors"
)

var (
	// ErrWebIO is the base error for session failures.
	ErrWebIO apperrors.Error = apperrors.New("error in interactive session").SetStatusCode(http.StatusInternalServerError)

	// ErrSessionClosed is returned by TaskIO.NextEvent once the session is closed.
	ErrSessionClosed apperrors.Error = ErrWebIO.New("session closed")

	// ErrLoopRequired is returned when a cooperative task is created without a
	// running event loop.
	ErrLoopRequired apperrors.Error = ErrWebIO.New("cooperative task requires a running event loop")

	// ErrUnknownTask is returned when no task is registered under a name.
	ErrUnknownTask apperrors.Error = ErrWebIO.New("unknown task").SetStatusCode(http.StatusNotFound)

	// ErrTaskExists is returned when registering a task name twice.
	ErrTaskExists apperrors.Error = ErrWebIO.New("task already registered")
)
