// Package httpx provides HTTP response helpers shared by the broker's
// handlers: JSON responders, a uniform error body and a response writer that
// remembers whether anything was written.
package httpx

import (
	"net/http"

	"github.com/rs/zerolog/log"
	"github.com/tansive/pollbroker/internal/common/apperrors"
)

// Response is the result of a RequestHandler. ContentType defaults to
// application/json; text/plain expects Response to be a string.
type Response struct {
	StatusCode  int
	Response    any
	ContentType string
}

// RequestHandler handles a request and returns either a response or an error.
type RequestHandler func(r *http.Request) (*Response, error)

// WrapHttpRsp adapts a RequestHandler to http.HandlerFunc, translating errors
// into the JSON error body.
func WrapHttpRsp(handler RequestHandler) http.HandlerFunc {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rsp, err := handler(r)
		if err != nil {
			sendAnyError(w, err)
			return
		}
		if rsp == nil {
			ErrApplicationError().Send(w)
			return
		}
		if rsp.ContentType == "" {
			rsp.ContentType = "application/json"
		}
		switch rsp.ContentType {
		case "application/json":
			SendJsonRsp(r.Context(), w, rsp.StatusCode, rsp.Response)
		case "text/plain":
			s, ok := rsp.Response.(string)
			if !ok {
				log.Ctx(r.Context()).Error().Msg("text/plain response is not a string")
				ErrApplicationError().Send(w)
				return
			}
			SendTextRsp(w, rsp.StatusCode, s)
		default:
			ErrApplicationError("unsupported response type").Send(w)
		}
	})
}

// SendTextRsp writes a text/plain body.
func SendTextRsp(w http.ResponseWriter, statusCode int, body string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(statusCode)
	w.Write([]byte(body))
}

func sendAnyError(w http.ResponseWriter, err error) {
	if httperror, ok := err.(*Error); ok {
		httperror.Send(w)
	} else if appErr, ok := err.(apperrors.Error); ok {
		SendError(w, appErr)
	} else {
		ErrApplicationError(err.Error()).Send(w)
	}
}
