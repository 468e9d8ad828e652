package logtrace

import (
	"context"
	"os"
)

type requestIdKey struct{}

// WithRequestId returns a copy of ctx carrying the request id.
func WithRequestId(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIdKey{}, id)
}

// RequestIdFromContext returns the request id, or "" if there is none.
func RequestIdFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	r, ok := ctx.Value(requestIdKey{}).(string)
	if !ok {
		return ""
	}
	return r
}

// IsTraceEnabled reports whether route tracing is enabled via POLLBROKER_TRACE.
func IsTraceEnabled() bool {
	return os.Getenv("POLLBROKER_TRACE") != ""
}
