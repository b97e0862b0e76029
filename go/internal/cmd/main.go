package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/mcdev12/tavern/go/internal/config"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		log.Error().Err(err).Msg("tavern exited with error")
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	setupLogging(cfg)

	log.Info().
		Str("env", cfg.Env).
		Str("store", cfg.Store.Backend).
		Str("chat", cfg.Chat.Backend).
		Bool("nats", cfg.NATS.URL != "").
		Msg("starting tavern")

	infra, err := setupInfra(ctx, cfg)
	if err != nil {
		return err
	}
	defer infra.Close()

	services := setupServices(cfg, infra)
	server := setupServer(cfg, services)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		services.Connections.Start(gctx)
		return nil
	})
	g.Go(func() error { return services.HUDStream.Start(gctx) })
	g.Go(func() error { return services.Relay.Start(gctx) })
	if infra.Listen != nil {
		g.Go(func() error { return infra.Listen(gctx) })
	}
	if services.TimerWatcher != nil {
		g.Go(func() error { return services.TimerWatcher.Run(gctx) })
	}

	g.Go(func() error {
		log.Info().Str("addr", server.Addr).Msg("HTTP server starting")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("HTTP server failed: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("shutting down HTTP server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownGrace)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	err = g.Wait()
	log.Info().Msg("tavern shutdown complete")
	return err
}

func setupLogging(cfg *config.Config) {
	if cfg.IsDev() {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})
	} else {
		log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
	}

	level, err := zerolog.ParseLevel(cfg.Log.Level)
	if err != nil || level == zerolog.NoLevel {
		log.Warn().Str("level", cfg.Log.Level).Msg("unknown log level, using info")
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
}
