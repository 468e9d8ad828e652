// Package transport is the seam between the polling handler and a web
// framework. The handler only sees Context; adapters translate it to a
// concrete request/response pair.
package transport

import (
	"context"
	"net/http"
)

// SessionIDHeader carries the session id in both directions.
const SessionIDHeader = "webio-session-id"

// Context is one in-flight request as the polling handler sees it.
type Context interface {
	Method() string
	// Headers returns the request headers. The request host is included
	// under "Host".
	Headers() http.Header
	URLParameter(name string) (string, bool)
	// JSONBody returns the decoded request body. Absent, oversized, null or
	// malformed bodies all report false.
	JSONBody() (any, bool)
	SetHeader(name, value string)
	SetStatus(code int)
	SetBody(content any, asJSON bool)
	// Finalize writes the response and returns whatever the framework
	// expects its handler to return.
	Finalize() any
	ClientAddress() string
	RawRequest() any
	BackendName() string
	Context() context.Context
}
