// Package httpclient is a small client for a running broker's HTTP surface,
// used by the command line to check on a server.
package httpclient

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/tidwall/gjson"
)

// HTTPError is an error response from the server.
type HTTPError struct {
	StatusCode int
	Message    string
}

func (e *HTTPError) Error() string {
	return e.Message
}

// HTTPClient talks to one broker.
type HTTPClient struct {
	serverURL  string
	httpClient *http.Client
}

// NewClient returns a client for the broker at serverURL.
func NewClient(serverURL string, timeout time.Duration) *HTTPClient {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPClient{
		serverURL:  strings.TrimSuffix(serverURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
	}
}

// RequestOptions describes one request. QueryParams and Body are optional.
type RequestOptions struct {
	Method      string
	Path        string
	QueryParams map[string]string
	Body        []byte
	Header      map[string]string
}

// DoRequest makes a request and returns the body and response headers. Error
// statuses become *HTTPError, with the message taken from the broker's error
// body when there is one.
func (c *HTTPClient) DoRequest(ctx context.Context, opts RequestOptions) ([]byte, http.Header, error) {
	u, err := url.Parse(c.serverURL)
	if err != nil {
		return nil, nil, fmt.Errorf("invalid server URL: %v", err)
	}
	u.Path = path.Join(u.Path, opts.Path)

	q := u.Query()
	for k, v := range opts.QueryParams {
		q.Set(k, v)
	}
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, opts.Method, u.String(), bytes.NewReader(opts.Body))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create request: %v", err)
	}
	if len(opts.Body) > 0 {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range opts.Header {
		req.Header.Set(k, v)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, nil, fmt.Errorf("request failed: %v", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read response body: %v", err)
	}

	if resp.StatusCode >= 400 {
		if msg := gjson.GetBytes(body, "error"); msg.Exists() && msg.String() != "" {
			return nil, resp.Header, &HTTPError{StatusCode: resp.StatusCode, Message: msg.String()}
		}
		if resp.StatusCode == http.StatusNotFound {
			return nil, resp.Header, &HTTPError{
				StatusCode: resp.StatusCode,
				Message:    "server doesn't implement this endpoint",
			}
		}
		return nil, resp.Header, &HTTPError{StatusCode: resp.StatusCode, Message: string(body)}
	}
	return body, resp.Header, nil
}

// Status is what a broker reports about itself.
type Status struct {
	ServerVersion string
	ApiVersion    string
	Compatible    bool
	Ready         bool
	Sessions      int64
}

// GetStatus collects version, readiness and live session count.
// clientVersion is checked for compatibility by the server.
func (c *HTTPClient) GetStatus(ctx context.Context, clientVersion string) (*Status, error) {
	body, _, err := c.DoRequest(ctx, RequestOptions{
		Method:      http.MethodGet,
		Path:        "/api/version",
		QueryParams: map[string]string{"client": clientVersion},
	})
	if err != nil {
		return nil, err
	}
	st := &Status{
		ServerVersion: gjson.GetBytes(body, "serverVersion").String(),
		ApiVersion:    gjson.GetBytes(body, "apiVersion").String(),
		Compatible:    gjson.GetBytes(body, "compatible").Bool(),
	}

	body, _, err = c.DoRequest(ctx, RequestOptions{Method: http.MethodGet, Path: "/api/sessions/count"})
	if err != nil {
		return nil, err
	}
	st.Sessions = gjson.GetBytes(body, "sessions").Int()

	_, _, err = c.DoRequest(ctx, RequestOptions{Method: http.MethodGet, Path: "/api/ready"})
	if err != nil {
		if herr, ok := err.(*HTTPError); !ok || herr.StatusCode != http.StatusServiceUnavailable {
			return nil, err
		}
	}
	st.Ready = err == nil
	return st, nil
}

// Probe hits the polling endpoint's liveness check. It never creates a
// session.
func (c *HTTPClient) Probe(ctx context.Context, pollPath string) error {
	body, _, err := c.DoRequest(ctx, RequestOptions{
		Method:      http.MethodGet,
		Path:        pollPath,
		QueryParams: map[string]string{"test": ""},
	})
	if err != nil {
		return err
	}
	if string(body) != "ok" {
		return fmt.Errorf("unexpected probe response: %q", string(body))
	}
	return nil
}
