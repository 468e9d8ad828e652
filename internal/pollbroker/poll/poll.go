// Package poll implements the long-poll protocol: each request either pushes a
// client event (POST) or pulls pending commands (GET) for the session named by
// the webio-session-id header, creating sessions on first contact.
package poll

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/rs/zerolog/log"

	"github.com/tansive/pollbroker/internal/common"
	"github.com/tansive/pollbroker/internal/common/apperrors"
	"github.com/tansive/pollbroker/internal/common/httpx"
	"github.com/tansive/pollbroker/internal/pollbroker/origin"
	"github.com/tansive/pollbroker/internal/pollbroker/registry"
	"github.com/tansive/pollbroker/internal/pollbroker/transport"
	"github.com/tansive/pollbroker/internal/pollbroker/webio"
)

const (
	DefaultSessionExpire   = 60 * time.Second
	DefaultCleanupInterval = 20 * time.Second
	DefaultPostSettle      = 100 * time.Millisecond

	registerAttempts = 3
)

// Handler serves the polling endpoint.
type Handler struct {
	registry *registry.Registry
	sweeper  *registry.Sweeper
	factory  webio.Factory
	origins  origin.Policy
	newID    func() (string, error)

	expire          time.Duration
	cleanupInterval time.Duration
	settle          time.Duration
}

type Option func(*Handler)

// WithSessionExpire sets how long a session may go unpolled.
func WithSessionExpire(d time.Duration) Option {
	return func(h *Handler) {
		h.expire = d
	}
}

// WithCleanupInterval sets the minimum time between expiration sweeps.
func WithCleanupInterval(d time.Duration) Option {
	return func(h *Handler) {
		h.cleanupInterval = d
	}
}

// WithPostSettle sets the pause after delivering a client event, giving the
// task a chance to produce output before commands are collected.
func WithPostSettle(d time.Duration) Option {
	return func(h *Handler) {
		h.settle = d
	}
}

// WithOriginPolicy sets the cross-origin policy. The default trusts nobody.
func WithOriginPolicy(p origin.Policy) Option {
	return func(h *Handler) {
		h.origins = p
	}
}

// WithIDGenerator replaces the session id generator.
func WithIDGenerator(fn func() (string, error)) Option {
	return func(h *Handler) {
		h.newID = fn
	}
}

func NewHandler(reg *registry.Registry, factory webio.Factory, opts ...Option) (*Handler, error) {
	if reg == nil || factory == nil {
		return nil, ErrInvalidConfig.Msg("registry and session factory are required")
	}
	h := &Handler{
		registry:        reg,
		factory:         factory,
		origins:         origin.DenyAll(),
		newID:           common.NewSessionId,
		expire:          DefaultSessionExpire,
		cleanupInterval: DefaultCleanupInterval,
		settle:          DefaultPostSettle,
	}
	for _, opt := range opts {
		opt(h)
	}
	if h.expire <= 0 || h.cleanupInterval <= 0 || h.settle < 0 {
		return nil, ErrInvalidConfig.Msg("session expire and cleanup interval must be positive")
	}
	h.sweeper = registry.NewSweeper(reg, h.cleanupInterval, h.expire)
	return h, nil
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.Handle(transport.NewHTTPContext(w, r))
}

// Handle runs one request through the protocol and returns c.Finalize().
func (h *Handler) Handle(c transport.Context) any {
	ctx := c.Context()
	method := c.Method()
	headers := c.Headers()

	if method == http.MethodOptions {
		origin.ApplyHeaders(h.origins, headers.Get("Origin"), c.SetHeader)
		c.SetStatus(http.StatusNoContent)
		return c.Finalize()
	}

	if o := headers.Get("Origin"); o != "" {
		origin.ApplyHeaders(h.origins, o, c.SetHeader)
	}

	if _, ok := c.URLParameter("test"); ok {
		c.SetBody("ok", false)
		return c.Finalize()
	}

	if method != http.MethodGet && method != http.MethodPost {
		return h.invariantViolation(c, method)
	}

	id := headers.Get(transport.SessionIDHeader)
	var session webio.Session
	switch {
	case id == "":
		if method == http.MethodPost {
			// a fresh session may only be opened by GET
			c.SetStatus(http.StatusForbidden)
			return c.Finalize()
		}
		var err error
		id, session, err = h.createSession(ctx, c)
		if err != nil {
			log.Ctx(ctx).Error().Err(err).Msg("unable to create session")
			return h.sendError(c, ErrSessionCreate.Err(err))
		}
		c.SetHeader(transport.SessionIDHeader, id)

	default:
		var ok bool
		session, ok = h.registry.LookupFresh(id, h.expire)
		if !ok {
			c.SetBody([]webio.Command{webio.CloseSessionCommand()}, true)
			return c.Finalize()
		}
		if method == http.MethodPost {
			if event, ok := c.JSONBody(); ok {
				session.SendClientEvent(event)
				sleepCtx(ctx, h.settle)
			} else {
				log.Ctx(ctx).Debug().Str("session_id", id).Msg("no client event in request body")
			}
		}
	}

	h.registry.Touch(id)
	if n, swept := h.sweeper.MaybeSweep(); swept && n > 0 {
		log.Ctx(ctx).Info().Int("expired", n).Msg("expired idle sessions")
	}

	c.SetBody(session.PendingCommands(), true)
	if session.Closed() {
		h.registry.Evict(id)
	}
	return c.Finalize()
}

// createSession builds a session for the requesting client and registers it
// under a fresh id, retrying on the unlikely id collision.
func (h *Handler) createSession(ctx context.Context, c transport.Context) (string, webio.Session, error) {
	info := webio.InfoFromHeaders(c.Headers())
	info.UserIP = c.ClientAddress()
	info.Backend = c.BackendName()
	info.Request = c.RawRequest()

	session, err := h.factory(ctx, info)
	if err != nil {
		return "", nil, err
	}
	if session == nil {
		return "", nil, ErrSessionCreate.Msg("session factory returned no session")
	}

	var id string
	err = retry.Do(func() error {
		var err error
		if id, err = h.newID(); err != nil {
			return retry.Unrecoverable(err)
		}
		err = h.registry.Register(id, session)
		if err != nil && !errors.Is(err, registry.ErrAlreadyExists) {
			return retry.Unrecoverable(err)
		}
		return err
	}, retry.Attempts(registerAttempts),
		retry.Delay(0),
		retry.DelayType(retry.FixedDelay),
		retry.LastErrorOnly(true),
		retry.Context(ctx),
	)
	if err != nil {
		session.Close()
		return "", nil, err
	}
	log.Ctx(ctx).Info().Str("session_id", id).Str("user_ip", info.UserIP).Msg("session created")
	return id, session, nil
}

func (h *Handler) invariantViolation(c transport.Context, method string) any {
	log.Ctx(c.Context()).Error().
		Str("method", method).
		Bool("has_session_id", c.Headers().Get(transport.SessionIDHeader) != "").
		Msg("request matched no protocol state")
	return h.sendError(c, ErrInvariant.Msg("unexpected request method: "+method))
}

func (h *Handler) sendError(c transport.Context, err apperrors.Error) any {
	rsp := httpx.FromAppError(err)
	c.SetStatus(rsp.StatusCode)
	c.SetBody(rsp.Body(), true)
	return c.Finalize()
}

func sleepCtx(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
	case <-ctx.Done():
	}
}
