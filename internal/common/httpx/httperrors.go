package httpx

import (
	"encoding/json"
	"net/http"

	"github.com/tansive/pollbroker/internal/common/apperrors"
)

// Error is an HTTP error response.
type Error struct {
	Description string `json:"description"`
	StatusCode  int    `json:"http_status_code"`
}

type errorRsp struct {
	Result int    `json:"result"`
	Error  string `json:"error"`
}

// Failure is the result code carried by every error body.
const Failure int = 0

// Send writes the error as a JSON body. A nil writer is ignored.
func (e *Error) Send(w http.ResponseWriter) {
	if w == nil {
		return
	}
	rspJson, err := json.Marshal(&errorRsp{
		Result: Failure,
		Error:  e.Description,
	})
	if err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte("Unable to parse error"))
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(e.StatusCode)
	w.Write(rspJson)
}

func (e *Error) Error() string {
	return e.Description
}

// SendError sends an application error.
func SendError(w http.ResponseWriter, err apperrors.Error) {
	if err == nil {
		return
	}
	FromAppError(err).Send(w)
}

// FromAppError converts an application error, defaulting to 500 when the
// error carries no status code.
func FromAppError(err apperrors.Error) *Error {
	statusCode := err.StatusCode()
	if statusCode == 0 {
		statusCode = http.StatusInternalServerError
	}
	return &Error{
		StatusCode:  statusCode,
		Description: err.ErrorAll(),
	}
}

// Body returns the value Send encodes, for transports that write their own
// responses.
func (e *Error) Body() any {
	return &errorRsp{
		Result: Failure,
		Error:  e.Description,
	}
}

// ErrApplicationError returns a 500 error with an optional message.
func ErrApplicationError(err ...string) *Error {
	s := "unable to process request"
	if len(err) > 0 {
		s = err[0]
	}
	return &Error{
		Description: s,
		StatusCode:  http.StatusInternalServerError,
	}
}
