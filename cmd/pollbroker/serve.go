package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/tansive/pollbroker/internal/common/logtrace"
	"github.com/tansive/pollbroker/internal/pollbroker/config"
	"github.com/tansive/pollbroker/internal/pollbroker/eventbus"
	"github.com/tansive/pollbroker/internal/pollbroker/eventloop"
	"github.com/tansive/pollbroker/internal/pollbroker/server"
)

const shutdownGrace = 5 * time.Second

func runServe(ctx context.Context, configPath string) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if err := config.LoadConfig(configPath); err != nil {
		return fmt.Errorf("loading config file: %w", err)
	}
	cfg := config.Config()
	logtrace.InitLogger(cfg.LogLevel)

	slog := log.With().Str("state", "init").Logger()
	slog.Info().Str("config_file", configPath).Str("task", cfg.Session.Task).Msg("config loaded")

	// cooperative sessions resume on this loop, so it runs before any
	// request is accepted
	loop, err := eventloop.StartDefault(ctx, cfg.EventLoopQueue)
	if err != nil {
		return fmt.Errorf("starting event loop: %w", err)
	}

	bus := eventbus.New()
	stopLifecycle := server.LogLifecycle(bus)

	s, err := server.NewFromConfig(cfg, bus)
	if err != nil {
		stopLifecycle()
		bus.Shutdown()
		_ = loop.Stop(ctx)
		return fmt.Errorf("creating server: %w", err)
	}
	s.MountHandlers()

	srv := &http.Server{
		Addr:              cfg.ListenAddress(),
		Handler:           s.Router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	serverErrors := make(chan error, 1)
	go func() {
		slog.Info().Str("addr", srv.Addr).Str("poll_path", cfg.PollPath).Msg("server started")
		serverErrors <- srv.ListenAndServe()
	}()
	s.SetReady(true)
	bannerLabel.Fprintf(os.Stderr, "pollbroker %s listening on %s\n", server.Version, srv.Addr)

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(shutdown)

	var runErr error
	select {
	case err := <-serverErrors:
		if err != nil && err != http.ErrServerClosed {
			runErr = fmt.Errorf("server error: %w", err)
		}
	case sig := <-shutdown:
		slog.Info().Str("signal", sig.String()).Msg("shutdown signal received")
	case <-ctx.Done():
	}

	s.SetReady(false)

	// Give outstanding polls a few seconds to complete.
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancelShutdown()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error().Err(err).Msg("could not stop server gracefully")
		if err := srv.Close(); err != nil {
			slog.Error().Err(err).Msg("could not stop server")
		}
	}

	n := s.Registry.CloseAll()
	slog.Info().Int("sessions", n).Msg("closed live sessions")

	if err := loop.Stop(shutdownCtx); err != nil {
		slog.Error().Err(err).Msg("event loop did not stop in time")
	}
	stopLifecycle()
	bus.Shutdown()

	slog.Info().Msg("server stopped")
	return runErr
}
