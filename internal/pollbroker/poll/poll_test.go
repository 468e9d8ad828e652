package poll

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tansive/pollbroker/internal/common"
	"github.com/tansive/pollbroker/internal/pollbroker/eventloop"
	"github.com/tansive/pollbroker/internal/pollbroker/origin"
	"github.com/tansive/pollbroker/internal/pollbroker/registry"
	"github.com/tansive/pollbroker/internal/pollbroker/transport"
	"github.com/tansive/pollbroker/internal/pollbroker/webio"
)

type fakeSession struct {
	mu         sync.Mutex
	info       webio.Info
	events     []any
	pending    []webio.Command
	finished   bool
	closeCalls int
}

func (f *fakeSession) SendClientEvent(event any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, event)
	f.pending = append(f.pending, webio.Command{"command": "echo", "data": event})
}

func (f *fakeSession) PendingCommands() []webio.Command {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := f.pending
	f.pending = []webio.Command{}
	if out == nil {
		out = []webio.Command{}
	}
	return out
}

func (f *fakeSession) Closed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.finished || f.closeCalls > 0
}

func (f *fakeSession) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closeCalls++
}

func (f *fakeSession) finish() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.finished = true
	f.pending = append(f.pending, webio.CloseSessionCommand())
}

func (f *fakeSession) closes() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closeCalls
}

type fakeFactory struct {
	mu       sync.Mutex
	sessions []*fakeSession
}

func (ff *fakeFactory) create(_ context.Context, info webio.Info) (webio.Session, error) {
	ff.mu.Lock()
	defer ff.mu.Unlock()
	s := &fakeSession{info: info, pending: []webio.Command{{"command": "output", "n": len(ff.sessions)}}}
	ff.sessions = append(ff.sessions, s)
	return s, nil
}

func (ff *fakeFactory) count() int {
	ff.mu.Lock()
	defer ff.mu.Unlock()
	return len(ff.sessions)
}

func (ff *fakeFactory) last() *fakeSession {
	ff.mu.Lock()
	defer ff.mu.Unlock()
	return ff.sessions[len(ff.sessions)-1]
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type testBroker struct {
	handler  *Handler
	registry *registry.Registry
	factory  *fakeFactory
}

func newTestBroker(t *testing.T, regOpts []registry.Option, opts ...Option) *testBroker {
	t.Helper()
	reg := registry.New(regOpts...)
	ff := &fakeFactory{}
	policy, err := origin.New(nil, []string{"https://*.example.com"})
	require.NoError(t, err)
	opts = append([]Option{WithPostSettle(0), WithOriginPolicy(policy)}, opts...)
	h, err := NewHandler(reg, ff.create, opts...)
	require.NoError(t, err)
	return &testBroker{handler: h, registry: reg, factory: ff}
}

func (b *testBroker) do(method, target, sessionID, body string, headers ...string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	if sessionID != "" {
		req.Header.Set(transport.SessionIDHeader, sessionID)
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rr := httptest.NewRecorder()
	b.handler.ServeHTTP(rr, req)
	return rr
}

func decodeCommands(t *testing.T, rr *httptest.ResponseRecorder) []map[string]any {
	t.Helper()
	var cmds []map[string]any
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &cmds), rr.Body.String())
	return cmds
}

func TestNewHandlerValidation(t *testing.T) {
	ff := &fakeFactory{}
	_, err := NewHandler(nil, ff.create)
	assert.ErrorIs(t, err, ErrInvalidConfig)
	_, err = NewHandler(registry.New(), nil)
	assert.ErrorIs(t, err, ErrInvalidConfig)
	_, err = NewHandler(registry.New(), ff.create, WithSessionExpire(0))
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestLivenessProbe(t *testing.T) {
	b := newTestBroker(t, nil)
	for _, method := range []string{http.MethodGet, http.MethodPost} {
		rr := b.do(method, "/?test", "", "")
		assert.Equal(t, http.StatusOK, rr.Code)
		assert.Equal(t, "ok", rr.Body.String())
		assert.Empty(t, rr.Header().Get(transport.SessionIDHeader))
	}
	rr := b.do(http.MethodGet, "/?test=1", "unknown-id", "")
	assert.Equal(t, "ok", rr.Body.String())

	assert.Equal(t, 0, b.registry.Len())
	assert.Equal(t, 0, b.factory.count())
}

func TestPreflight(t *testing.T) {
	b := newTestBroker(t, nil)

	rr := b.do(http.MethodOptions, "/", "", "", "Origin", "https://a.example.com")
	assert.Equal(t, http.StatusNoContent, rr.Code)
	assert.Empty(t, rr.Body.String())
	assert.Equal(t, "https://a.example.com", rr.Header().Get(origin.HeaderAllowOrigin))
	assert.Equal(t, "GET, POST", rr.Header().Get(origin.HeaderAllowMethods))
	assert.Equal(t, "content-type, webio-session-id", rr.Header().Get(origin.HeaderAllowHeaders))
	assert.Equal(t, "webio-session-id", rr.Header().Get(origin.HeaderExposeHeaders))
	assert.Equal(t, "86400", rr.Header().Get(origin.HeaderMaxAge))

	rr = b.do(http.MethodOptions, "/", "", "", "Origin", "https://evil.com")
	assert.Equal(t, http.StatusNoContent, rr.Code)
	for _, h := range []string{origin.HeaderAllowOrigin, origin.HeaderAllowMethods, origin.HeaderAllowHeaders, origin.HeaderExposeHeaders, origin.HeaderMaxAge} {
		assert.Empty(t, rr.Header().Get(h))
	}
	assert.Equal(t, 0, b.registry.Len())
}

func TestCrossOriginHeadersOnPoll(t *testing.T) {
	b := newTestBroker(t, nil)
	rr := b.do(http.MethodGet, "/", "", "", "Origin", "https://app.example.com")
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "https://app.example.com", rr.Header().Get(origin.HeaderAllowOrigin))

	rr = b.do(http.MethodGet, "/?test", "", "", "Origin", "https://evil.com")
	assert.Equal(t, "ok", rr.Body.String())
	assert.Empty(t, rr.Header().Get(origin.HeaderAllowOrigin))
}

func TestPostWithoutSessionIsForbidden(t *testing.T) {
	b := newTestBroker(t, nil)
	rr := b.do(http.MethodPost, "/", "", `{"event":"click"}`)
	assert.Equal(t, http.StatusForbidden, rr.Code)
	assert.Empty(t, rr.Body.String())
	assert.Empty(t, rr.Header().Get(transport.SessionIDHeader))
	assert.Equal(t, 0, b.registry.Len())
	assert.Equal(t, 0, b.factory.count())
}

func TestCreateSession(t *testing.T) {
	b := newTestBroker(t, nil)
	req := httptest.NewRequest(http.MethodGet, "http://broker.local/poll", nil)
	req.Header.Set("User-Agent", "agent/1.0")
	req.Header.Set("Accept-Language", "de-DE,de;q=0.9")
	req.Header.Set("X-Forwarded-For", "198.51.100.4")
	rr := httptest.NewRecorder()
	b.handler.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusOK, rr.Code)
	id := rr.Header().Get(transport.SessionIDHeader)
	assert.Len(t, id, common.SESSION_ID_LEN)
	for _, r := range id {
		assert.Contains(t, common.CHARS, string(r))
	}
	_, ok := b.registry.Lookup(id)
	assert.True(t, ok)

	cmds := decodeCommands(t, rr)
	require.Len(t, cmds, 1)
	assert.Equal(t, "output", cmds[0]["command"])

	info := b.factory.last().info
	assert.Equal(t, "agent/1.0", info.UserAgent)
	assert.Equal(t, "de-DE", info.UserLanguage)
	assert.Equal(t, "broker.local", info.ServerHost)
	assert.Equal(t, "198.51.100.4", info.UserIP)
	assert.Equal(t, "net/http", info.Backend)
	assert.Same(t, req, info.Request)
}

func TestEmptySessionHeaderCreatesSession(t *testing.T) {
	b := newTestBroker(t, nil)
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header[http.CanonicalHeaderKey(transport.SessionIDHeader)] = []string{""}
	rr := httptest.NewRecorder()
	b.handler.ServeHTTP(rr, req)
	assert.Len(t, rr.Header().Get(transport.SessionIDHeader), common.SESSION_ID_LEN)
	assert.Equal(t, 1, b.registry.Len())
}

func TestUnknownSession(t *testing.T) {
	b := newTestBroker(t, nil)
	for _, method := range []string{http.MethodGet, http.MethodPost} {
		rr := b.do(method, "/", "no-such-session", `{"event":"click"}`)
		assert.Equal(t, http.StatusOK, rr.Code)
		assert.JSONEq(t, `[{"command":"close_session"}]`, rr.Body.String())
	}
	assert.Equal(t, 0, b.registry.Len())
	assert.Equal(t, 0, b.factory.count())
}

func TestPushAndPull(t *testing.T) {
	b := newTestBroker(t, nil)
	rr := b.do(http.MethodGet, "/", "", "")
	id := rr.Header().Get(transport.SessionIDHeader)
	s := b.factory.last()

	rr = b.do(http.MethodPost, "/", id, `{"event":"click","data":7}`)
	assert.Equal(t, http.StatusOK, rr.Code)
	cmds := decodeCommands(t, rr)
	require.Len(t, cmds, 1)
	assert.Equal(t, "echo", cmds[0]["command"])
	assert.Equal(t, map[string]any{"event": "click", "data": float64(7)}, cmds[0]["data"])

	rr = b.do(http.MethodGet, "/", id, "")
	assert.JSONEq(t, `[]`, rr.Body.String())
	assert.Len(t, s.events, 1)
	assert.Equal(t, 1, b.registry.Len())
}

func TestMalformedBodyDegradesToPull(t *testing.T) {
	b := newTestBroker(t, nil)
	id := b.do(http.MethodGet, "/", "", "").Header().Get(transport.SessionIDHeader)
	s := b.factory.last()

	for _, body := range []string{`{"event":`, `null`} {
		rr := b.do(http.MethodPost, "/", id, body)
		assert.Equal(t, http.StatusOK, rr.Code)
		assert.JSONEq(t, `[]`, rr.Body.String())
	}
	assert.Empty(t, s.events)
}

func TestFinishedSessionIsEvicted(t *testing.T) {
	b := newTestBroker(t, nil)
	id := b.do(http.MethodGet, "/", "", "").Header().Get(transport.SessionIDHeader)
	s := b.factory.last()
	s.finish()

	rr := b.do(http.MethodGet, "/", id, "")
	cmds := decodeCommands(t, rr)
	require.NotEmpty(t, cmds)
	assert.Equal(t, "close_session", cmds[len(cmds)-1]["command"])
	assert.Equal(t, 0, b.registry.Len())
	assert.Equal(t, 1, s.closes())

	rr = b.do(http.MethodGet, "/", id, "")
	assert.JSONEq(t, `[{"command":"close_session"}]`, rr.Body.String())
}

func TestUnsupportedMethod(t *testing.T) {
	b := newTestBroker(t, nil)
	id := b.do(http.MethodGet, "/", "", "").Header().Get(transport.SessionIDHeader)

	rr := b.do(http.MethodPut, "/", id, `{"event":"click"}`)
	assert.Equal(t, http.StatusInternalServerError, rr.Code)
	assert.JSONEq(t, `{"result":0,"error":"unexpected request method: PUT"}`, rr.Body.String())
	assert.Empty(t, b.factory.last().events)

	rr = b.do(http.MethodPut, "/", "", "")
	assert.Equal(t, http.StatusInternalServerError, rr.Code)
	assert.Equal(t, 1, b.factory.count())
	assert.Equal(t, 1, b.registry.Len())
}

func TestConcurrentCreationYieldsDistinctIDs(t *testing.T) {
	b := newTestBroker(t, nil)
	const n = 64

	ids := make([]string, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ids[i] = b.do(http.MethodGet, "/", "", "").Header().Get(transport.SessionIDHeader)
		}(i)
	}
	wg.Wait()

	seen := map[string]bool{}
	for _, id := range ids {
		require.NotEmpty(t, id)
		assert.False(t, seen[id], "duplicate id %s", id)
		seen[id] = true
	}
	assert.Equal(t, n, b.registry.Len())
	assert.Len(t, b.registry.Activity(), n)
}

func TestIDCollisionRetries(t *testing.T) {
	ids := []string{"taken", "taken", "fresh"}
	var mu sync.Mutex
	next := func() (string, error) {
		mu.Lock()
		defer mu.Unlock()
		id := ids[0]
		if len(ids) > 1 {
			ids = ids[1:]
		}
		return id, nil
	}
	b := newTestBroker(t, nil, WithIDGenerator(next))
	require.NoError(t, b.registry.Register("taken", &fakeSession{}))

	rr := b.do(http.MethodGet, "/", "", "")
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "fresh", rr.Header().Get(transport.SessionIDHeader))
	assert.Equal(t, 2, b.registry.Len())
}

func TestIDCollisionGivesUp(t *testing.T) {
	b := newTestBroker(t, nil, WithIDGenerator(func() (string, error) { return "taken", nil }))
	require.NoError(t, b.registry.Register("taken", &fakeSession{}))

	rr := b.do(http.MethodGet, "/", "", "")
	assert.Equal(t, http.StatusInternalServerError, rr.Code)
	assert.Empty(t, rr.Header().Get(transport.SessionIDHeader))
	assert.Equal(t, 1, b.factory.last().closes())
	assert.Equal(t, 1, b.registry.Len())
}

func TestExpiration(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	b := newTestBroker(t, []registry.Option{registry.WithClock(clock.Now)},
		WithSessionExpire(60*time.Second), WithCleanupInterval(20*time.Second))

	idA := b.do(http.MethodGet, "/", "", "").Header().Get(transport.SessionIDHeader)
	sessionA := b.factory.last()

	clock.Advance(30 * time.Second)
	idB := b.do(http.MethodGet, "/", "", "").Header().Get(transport.SessionIDHeader)

	clock.Advance(31 * time.Second)
	// A idle 61s, B idle 31s; this request triggers the sweep
	rr := b.do(http.MethodGet, "/", idB, "")
	assert.Equal(t, http.StatusOK, rr.Code)

	_, ok := b.registry.Lookup(idA)
	assert.False(t, ok)
	assert.Equal(t, 1, sessionA.closes())
	_, ok = b.registry.Lookup(idB)
	assert.True(t, ok)

	rr = b.do(http.MethodGet, "/", idA, "")
	assert.JSONEq(t, `[{"command":"close_session"}]`, rr.Body.String())
}

func TestExpiredSessionNotRevivedBetweenSweeps(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	b := newTestBroker(t, []registry.Option{registry.WithClock(clock.Now)},
		WithSessionExpire(60*time.Second), WithCleanupInterval(20*time.Second))

	idA := b.do(http.MethodGet, "/", "", "").Header().Get(transport.SessionIDHeader)
	sessionA := b.factory.last()

	// creating B sweeps while A is still fresh
	clock.Advance(50 * time.Second)
	b.do(http.MethodGet, "/", "", "")

	// A idle 61s, last sweep only 11s ago
	clock.Advance(11 * time.Second)
	rr := b.do(http.MethodGet, "/", idA, "")
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `[{"command":"close_session"}]`, rr.Body.String())

	_, ok := b.registry.Lookup(idA)
	assert.False(t, ok)
	assert.Equal(t, 1, sessionA.closes())
	assert.Equal(t, 1, b.registry.Len())

	rr = b.do(http.MethodPost, "/", idA, `{"event":"click"}`)
	assert.JSONEq(t, `[{"command":"close_session"}]`, rr.Body.String())
	assert.Empty(t, sessionA.events)
}

func TestPollKeepsSessionAlive(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	b := newTestBroker(t, []registry.Option{registry.WithClock(clock.Now)},
		WithSessionExpire(60*time.Second), WithCleanupInterval(20*time.Second))

	id := b.do(http.MethodGet, "/", "", "").Header().Get(transport.SessionIDHeader)
	for i := 0; i < 5; i++ {
		clock.Advance(40 * time.Second)
		rr := b.do(http.MethodGet, "/", id, "")
		assert.JSONEq(t, `[]`, rr.Body.String(), fmt.Sprintf("poll %d", i))
	}
	assert.Equal(t, 1, b.registry.Len())
}

func TestSettleDelayAbortsOnCancel(t *testing.T) {
	reg := registry.New()
	ff := &fakeFactory{}
	h, err := NewHandler(reg, ff.create, WithPostSettle(time.Hour))
	require.NoError(t, err)

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))
	id := rr.Header().Get(transport.SessionIDHeader)

	ctx, cancel := context.WithCancel(context.Background())
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"event":"click"}`)).WithContext(ctx)
	req.Header.Set(transport.SessionIDHeader, id)
	cancel()

	done := make(chan struct{})
	go func() {
		defer close(done)
		h.ServeHTTP(httptest.NewRecorder(), req)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("settle delay ignored request cancellation")
	}
}

func TestRoundTripWithEchoTask(t *testing.T) {
	reg := registry.New()
	h, err := NewHandler(reg, webio.TaskFactory(webio.EchoTask), WithPostSettle(20*time.Millisecond))
	require.NoError(t, err)

	serve := func(method, id, body string) *httptest.ResponseRecorder {
		var req *http.Request
		if body != "" {
			req = httptest.NewRequest(method, "/", strings.NewReader(body))
		} else {
			req = httptest.NewRequest(method, "/", nil)
		}
		if id != "" {
			req.Header.Set(transport.SessionIDHeader, id)
		}
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, req)
		return rr
	}

	var got []map[string]any
	rr := serve(http.MethodGet, "", "")
	id := rr.Header().Get(transport.SessionIDHeader)
	require.NotEmpty(t, id)
	got = append(got, decodeCommands(t, rr)...)

	rr = serve(http.MethodPost, id, `{"event":"exit"}`)
	got = append(got, decodeCommands(t, rr)...)

	require.Eventually(t, func() bool {
		if len(got) > 0 && got[len(got)-1]["command"] == "close_session" {
			return true
		}
		got = append(got, decodeCommands(t, serve(http.MethodGet, id, ""))...)
		return false
	}, 5*time.Second, 10*time.Millisecond)

	// greeting, bye, close_session
	require.Len(t, got, 3)
	assert.Equal(t, "output", got[0]["command"])
	assert.Equal(t, "output", got[1]["command"])
	assert.Equal(t, "close_session", got[2]["command"])

	assert.Equal(t, 0, reg.Len())
	assert.JSONEq(t, `[{"command":"close_session"}]`, serve(http.MethodGet, id, "").Body.String())
}

func TestRoundTripWithReactor(t *testing.T) {
	loop := eventloop.New(16)
	require.NoError(t, loop.Start(context.Background()))
	t.Cleanup(func() { _ = loop.Stop(context.Background()) })

	reg := registry.New()
	factory := webio.ReactorFactory(
		func() *eventloop.Loop { return loop },
		func() webio.Reactor { return webio.NewCounter(2) },
	)
	h, err := NewHandler(reg, factory, WithPostSettle(0))
	require.NoError(t, err)

	poll := func(method, id, body string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(method, "/", strings.NewReader(body))
		if id != "" {
			req.Header.Set(transport.SessionIDHeader, id)
		}
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, req)
		return rr
	}

	rr := poll(http.MethodGet, "", "")
	id := rr.Header().Get(transport.SessionIDHeader)
	require.NotEmpty(t, id)
	got := decodeCommands(t, rr)

	for _, ev := range []string{`{"event":"click"}`, `{"event":"noise"}`, `{"event":"click"}`} {
		got = append(got, decodeCommands(t, poll(http.MethodPost, id, ev))...)
	}

	require.Eventually(t, func() bool {
		if len(got) > 0 && got[len(got)-1]["command"] == "close_session" {
			return true
		}
		got = append(got, decodeCommands(t, poll(http.MethodGet, id, ""))...)
		return false
	}, 5*time.Second, 10*time.Millisecond)
	assert.Equal(t, 0, reg.Len())
}
