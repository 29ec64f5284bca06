package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"studio/internal/bootstrap"
	"studio/internal/http/handlers"
	httpapi "studio/internal/http/httpapi"
	"studio/internal/infra"
	"studio/internal/middleware"
)

func main() {
	_ = godotenv.Load()

	cfg, err := infra.LoadConfig()
	if err != nil {
		panic(err)
	}
	logger := infra.NewLogger(cfg.AppEnv)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	stores, err := bootstrap.OpenStores(ctx, cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to open stores")
	}
	defer func() {
		if err := stores.Close(); err != nil {
			logger.Error().Err(err).Msg("failed to close stores")
		}
	}()

	studio, err := bootstrap.Build(ctx, cfg, stores, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to build studio")
	}
	defer func() { _ = studio.GeoIP.Close() }()

	// A session left by a previous process may still claim running jobs.
	if sess, err := studio.Orchestrator.Restore(ctx); err != nil {
		logger.Error().Err(err).Msg("failed to restore generation session")
	} else if sess != nil {
		logger.Info().Str("state", string(sess.State())).Msg("generation session restored")
	}

	sweepDone := make(chan struct{})
	go func() {
		defer close(sweepDone)
		studio.Sweeper.Run(ctx)
	}()

	app := &handlers.App{
		Wizard:       studio.Wizard,
		Orchestrator: studio.Orchestrator,
		Creations:    studio.Creations,
		Lock:         studio.Lock,
		Blobs:        studio.Blobs,
	}
	router := httpapi.NewRouter(app, httpapi.Options{
		Logger:          logger,
		AllowedOrigins:  cfg.AllowedOrigins,
		Locales:         middleware.NewLocales(cfg.SupportedLocales),
		CountryLookup:   studio.GeoIP.Lookup(),
		RateLimitPerMin: cfg.RateLimitPerMin,
	})
	server := infra.NewHTTPServer(cfg, router)

	go func() {
		logger.Info().Str("port", cfg.Port).Bool("headless", cfg.Headless).Msg("api listening")
		if err := server.Start(); err != nil {
			logger.Error().Err(err).Msg("http server failed")
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTPIdleTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("failed to shutdown server")
	}

	// In-flight runs settle and release the lock before the stores close.
	runsDone := make(chan struct{})
	go func() {
		studio.Orchestrator.Wait()
		close(runsDone)
	}()
	select {
	case <-runsDone:
	case <-time.After(cfg.GeneratorTimeout):
		logger.Warn().Msg("generation still running at shutdown; it will restore as interrupted")
	}
	<-sweepDone

	logger.Info().Msg("server stopped")
}
