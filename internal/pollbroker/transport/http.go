package transport

import (
	"context"
	"io"
	"net"
	"net/http"
	"strings"

	jsoniter "github.com/json-iterator/go"
	"github.com/rs/zerolog/log"

	"github.com/tansive/pollbroker/internal/common/httpx"
)

// MaxBodyBytes bounds the client event body.
const MaxBodyBytes = 4 << 20

const backendName = "net/http"

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// HTTPContext adapts net/http. Status, headers and body are buffered until
// Finalize.
type HTTPContext struct {
	w http.ResponseWriter
	r *http.Request

	status int
	body   any
	asJSON bool

	bodyRead bool
	event    any
	hasEvent bool
}

var _ Context = (*HTTPContext)(nil)

func NewHTTPContext(w http.ResponseWriter, r *http.Request) *HTTPContext {
	return &HTTPContext{
		w:      w,
		r:      r,
		status: http.StatusOK,
	}
}

func (c *HTTPContext) Method() string {
	return c.r.Method
}

func (c *HTTPContext) Headers() http.Header {
	h := c.r.Header.Clone()
	if h == nil {
		h = http.Header{}
	}
	if c.r.Host != "" {
		h.Set("Host", c.r.Host)
	}
	return h
}

func (c *HTTPContext) URLParameter(name string) (string, bool) {
	values, ok := c.r.URL.Query()[name]
	if !ok || len(values) == 0 {
		return "", false
	}
	return values[0], true
}

func (c *HTTPContext) JSONBody() (any, bool) {
	if c.bodyRead {
		return c.event, c.hasEvent
	}
	c.bodyRead = true
	if c.r.Body == nil {
		return nil, false
	}
	data, err := io.ReadAll(io.LimitReader(c.r.Body, MaxBodyBytes+1))
	if err != nil {
		log.Ctx(c.r.Context()).Debug().Err(err).Msg("unable to read request body")
		return nil, false
	}
	if len(data) > MaxBodyBytes {
		log.Ctx(c.r.Context()).Warn().Int("limit", MaxBodyBytes).Msg("request body too large, ignored")
		return nil, false
	}
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		log.Ctx(c.r.Context()).Debug().Err(err).Msg("request body is not json")
		return nil, false
	}
	if v == nil {
		return nil, false
	}
	c.event, c.hasEvent = v, true
	return v, true
}

func (c *HTTPContext) SetHeader(name, value string) {
	c.w.Header().Set(name, value)
}

func (c *HTTPContext) SetStatus(code int) {
	c.status = code
}

func (c *HTTPContext) SetBody(content any, asJSON bool) {
	c.body = content
	c.asJSON = asJSON
}

// Finalize writes the buffered response. It returns nil: net/http handlers
// have no return value.
func (c *HTTPContext) Finalize() any {
	switch {
	case c.body == nil:
		c.w.WriteHeader(c.status)
	case c.asJSON:
		httpx.SendJsonRsp(c.r.Context(), c.w, c.status, c.body)
	default:
		switch b := c.body.(type) {
		case string:
			httpx.SendTextRsp(c.w, c.status, b)
		case []byte:
			httpx.SendTextRsp(c.w, c.status, string(b))
		default:
			log.Ctx(c.r.Context()).Error().Msg("non-json body is neither string nor bytes")
			httpx.ErrApplicationError().Send(c.w)
		}
	}
	return nil
}

// ClientAddress prefers the first X-Forwarded-For hop over the peer address.
func (c *HTTPContext) ClientAddress() string {
	if fwd := c.r.Header.Get("X-Forwarded-For"); fwd != "" {
		first, _, _ := strings.Cut(fwd, ",")
		if first = strings.TrimSpace(first); first != "" {
			return first
		}
	}
	host, _, err := net.SplitHostPort(c.r.RemoteAddr)
	if err != nil {
		return c.r.RemoteAddr
	}
	return host
}

func (c *HTTPContext) RawRequest() any {
	return c.r
}

func (c *HTTPContext) BackendName() string {
	return backendName
}

func (c *HTTPContext) Context() context.Context {
	return c.r.Context()
}
