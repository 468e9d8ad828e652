// Package server wires the polling handler and the auxiliary JSON endpoints
// into one chi router.
package server

import (
	"fmt"
	"net/http"
	"sync/atomic"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog/log"

	"github.com/tansive/pollbroker/internal/common/httpx"
	"github.com/tansive/pollbroker/internal/common/logtrace"
	"github.com/tansive/pollbroker/internal/common/middleware"
	"github.com/tansive/pollbroker/internal/pollbroker/config"
	"github.com/tansive/pollbroker/internal/pollbroker/eventbus"
	"github.com/tansive/pollbroker/internal/pollbroker/eventloop"
	"github.com/tansive/pollbroker/internal/pollbroker/origin"
	"github.com/tansive/pollbroker/internal/pollbroker/poll"
	"github.com/tansive/pollbroker/internal/pollbroker/registry"
	"github.com/tansive/pollbroker/internal/pollbroker/webio"
)

// BrokerServer is the HTTP surface of the broker.
type BrokerServer struct {
	Router   *chi.Mux
	Registry *registry.Registry

	poll       http.Handler
	origins    origin.Policy
	pollPath   string
	handleCORS bool
	ready      atomic.Bool
}

// Options configure CreateNewServer.
type Options struct {
	Registry   *registry.Registry
	Poll       http.Handler
	Origins    origin.Policy
	PollPath   string
	HandleCORS bool
}

func CreateNewServer(opts Options) (*BrokerServer, error) {
	if opts.Registry == nil || opts.Poll == nil {
		return nil, ErrServer.Msg("registry and poll handler are required")
	}
	if opts.PollPath == "" {
		opts.PollPath = "/poll"
	}
	if opts.Origins == nil {
		opts.Origins = origin.DenyAll()
	}
	return &BrokerServer{
		Router:     chi.NewRouter(),
		Registry:   opts.Registry,
		poll:       opts.Poll,
		origins:    opts.Origins,
		pollPath:   opts.PollPath,
		handleCORS: opts.HandleCORS,
	}, nil
}

// NewFromConfig builds the registry, origin policy and polling handler
// described by cfg. Cooperative tasks need the default event loop running.
func NewFromConfig(cfg *config.ConfigParam, bus *eventbus.EventBus) (*BrokerServer, error) {
	entry, err := webio.LookupTask(cfg.Session.Task)
	if err != nil {
		return nil, err
	}
	if entry.Cooperative {
		if loop := eventloop.Default(); loop == nil || !loop.Running() {
			return nil, ErrLoopNotRunning.Msg("task " + entry.Name + " requires a running event loop")
		}
	}

	policy, err := origin.New(nil, cfg.Origins.Allowed)
	if err != nil {
		return nil, err
	}

	var regOpts []registry.Option
	if bus != nil {
		regOpts = append(regOpts, registry.WithEventBus(bus))
	}
	reg := registry.New(regOpts...)

	handler, err := poll.NewHandler(reg, entry.Factory,
		poll.WithSessionExpire(cfg.Session.Expire()),
		poll.WithCleanupInterval(cfg.Session.CleanupInterval()),
		poll.WithPostSettle(cfg.Session.PostSettle()),
		poll.WithOriginPolicy(policy),
	)
	if err != nil {
		return nil, err
	}

	return CreateNewServer(Options{
		Registry:   reg,
		Poll:       handler,
		Origins:    policy,
		PollPath:   cfg.PollPath,
		HandleCORS: cfg.HandleCORS,
	})
}

// MountHandlers sets up routes and middleware.
func (s *BrokerServer) MountHandlers() {
	s.Router.Use(middleware.RequestLogger)
	s.Router.Use(middleware.PanicHandler)

	// every method reaches the polling handler; it answers OPTIONS and
	// rejects the rest itself
	s.Router.Handle(s.pollPath, s.poll)

	s.Router.Route("/api", func(r chi.Router) {
		if s.handleCORS {
			r.Use(s.HandleCORS)
		}
		r.Get("/version", s.getVersion)
		r.Get("/ready", s.getReadiness)
		r.Get("/sessions/count", httpx.WrapHttpRsp(s.getSessionCount))
	})

	if logtrace.IsTraceEnabled() {
		fmt.Println("Routes in pollbroker router")
		walkFunc := func(method string, route string, handler http.Handler, middlewares ...func(http.Handler) http.Handler) error {
			fmt.Printf("%s %s\n", method, route)
			return nil
		}
		if err := chi.Walk(s.Router, walkFunc); err != nil {
			log.Error().Err(err).Msg("Error walking router")
		}
	}
}

// SetReady flips the readiness endpoint.
func (s *BrokerServer) SetReady(ready bool) {
	s.ready.Store(ready)
}

type GetVersionRsp struct {
	ServerVersion string `json:"serverVersion"`
	ApiVersion    string `json:"apiVersion"`
	Compatible    *bool  `json:"compatible,omitempty"`
}

// getVersion reports the broker version. With ?client=<semver> it also
// reports whether that client version is compatible.
func (s *BrokerServer) getVersion(w http.ResponseWriter, r *http.Request) {
	log.Ctx(r.Context()).Debug().Msg("GetVersion")
	rsp := &GetVersionRsp{
		ServerVersion: "Pollbroker Server: " + Version,
		ApiVersion:    ApiVersion,
	}
	if client := r.URL.Query().Get("client"); client != "" {
		compatible := IsVersionCompatible(client)
		rsp.Compatible = &compatible
	}
	httpx.SendJsonRsp(r.Context(), w, http.StatusOK, rsp)
}

func (s *BrokerServer) getReadiness(w http.ResponseWriter, r *http.Request) {
	log.Ctx(r.Context()).Debug().Msg("Readiness check")
	if !s.ready.Load() {
		httpx.SendJsonRsp(r.Context(), w, http.StatusServiceUnavailable, map[string]string{
			"status": "starting",
		})
		return
	}
	httpx.SendJsonRsp(r.Context(), w, http.StatusOK, map[string]string{
		"status": "ready",
	})
}

type sessionCountRsp struct {
	Sessions int `json:"sessions"`
}

func (s *BrokerServer) getSessionCount(r *http.Request) (*httpx.Response, error) {
	return &httpx.Response{
		StatusCode: http.StatusOK,
		Response:   &sessionCountRsp{Sessions: s.Registry.Len()},
	}, nil
}

// HandleCORS answers cross-origin requests to the /api endpoints for origins
// the broker's origin policy trusts.
func (s *BrokerServer) HandleCORS(next http.Handler) http.Handler {
	return cors.Handler(cors.Options{
		AllowOriginFunc: func(_ *http.Request, o string) bool {
			return s.origins.Allowed(o)
		},
		AllowedMethods:   []string{"GET", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type"},
		ExposedHeaders:   []string{middleware.RequestIDHeader},
		AllowCredentials: false,
		MaxAge:           300,
	})(next)
}
