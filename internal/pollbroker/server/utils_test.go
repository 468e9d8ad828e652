package server

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tansive/pollbroker/internal/pollbroker/config"
	"github.com/tansive/pollbroker/internal/pollbroker/eventbus"
)

func testConfig() *config.ConfigParam {
	cfg := config.Default()
	cfg.HandleCORS = true
	cfg.Session.PostSettleMs = 0
	cfg.Origins.Allowed = []string{"https://*.example.com"}
	return cfg
}

func newTestServer(t *testing.T, bus *eventbus.EventBus) *BrokerServer {
	t.Helper()
	s, err := NewFromConfig(testConfig(), bus)
	require.NoError(t, err)
	s.MountHandlers()
	s.SetReady(true)
	t.Cleanup(func() { s.Registry.CloseAll() })
	return s
}

func executeTestRequest(t *testing.T, s *BrokerServer, req *http.Request) *httptest.ResponseRecorder {
	t.Helper()
	rr := httptest.NewRecorder()
	s.Router.ServeHTTP(rr, req)
	return rr
}
