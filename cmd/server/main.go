package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/getsentry/sentry-go"
	sentryhttp "github.com/getsentry/sentry-go/http"

	"github.com/songify/partyqueue/internal/broker"
	"github.com/songify/partyqueue/internal/config"
	"github.com/songify/partyqueue/internal/database"
	"github.com/songify/partyqueue/internal/logging"
	"github.com/songify/partyqueue/internal/party"
	"github.com/songify/partyqueue/internal/qr"
	"github.com/songify/partyqueue/internal/router"
	scrub "github.com/songify/partyqueue/internal/sentry"
	"github.com/songify/partyqueue/internal/services"
)

func main() {
	// Initialize structured logging (reads LOGGING_LEVEL env var)
	logging.Initialize()

	// Load configuration: env, then config file, then flags
	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		slog.Error("invalid configuration", slog.Any("error", err))
		os.Exit(2)
	}

	var middlewares []func(http.Handler) http.Handler
	if cfg.SentryDSN != "" {
		err := sentry.Init(sentry.ClientOptions{
			Dsn:                   cfg.SentryDSN,
			Environment:           cfg.SentryEnvironment,
			BeforeSend:            scrub.ScrubEvent,
			BeforeSendTransaction: scrub.ScrubTransaction,
		})
		if err != nil {
			slog.Error("failed to initialize sentry", slog.Any("error", err))
			os.Exit(1)
		}
		defer sentry.Flush(2 * time.Second)
		middlewares = append(middlewares, sentryhttp.New(sentryhttp.Options{Repanic: true}).Handle)
	}

	// Party storage
	backend, closeBackend, err := openBackend(cfg)
	if err != nil {
		slog.Error("failed to open party backend", slog.String("backend", cfg.PartyBackend), slog.Any("error", err))
		os.Exit(1)
	}
	defer closeBackend()

	clk := clock.New()
	hub := broker.New()
	store := party.NewStore(party.Options{
		Backend:     backend,
		Publisher:   hub,
		Renderer:    qr.NewEncoder(cfg.QRSize),
		Clock:       clk,
		Policy:      cfg.Policy(),
		FrontendURL: cfg.FrontendURL,
		IdleTimeout: cfg.IdleTimeout,
	})

	spotifyService := services.NewSpotifyService(cfg.SpotifyClientID, cfg.SpotifyClientSecret, cfg.SpotifyRedirectURI, cfg.UpstreamTimeout)
	gateway := services.NewSessionGateway(services.GatewayOptions{
		Catalog:        spotifyService,
		Tokens:         services.NewTokenStore(0, cfg.SessionTokenDuration),
		Clock:          clk,
		Timeout:        cfg.UpstreamTimeout,
		SearchCacheTTL: cfg.SearchCacheTTL,
	})

	handler := router.New(cfg, router.Deps{
		Store:      store,
		Hub:        hub,
		Gateway:    gateway,
		Auth:       services.NewAuthService(cfg.JWTSecret, cfg.HostTokenDuration, cfg.SessionTokenDuration),
		Names:      services.NewNameGenerator(),
		Clock:      clk,
		Middleware: middlewares,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.IdleTimeout > 0 {
		go store.Run(ctx, cfg.ReapInterval)
	}

	addr := ":" + cfg.Port
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Error("shutdown failed", slog.Any("error", err))
		}
	}()

	slog.Info("starting server",
		slog.String("addr", addr),
		slog.String("party_backend", cfg.PartyBackend),
		slog.String("vote_policy", cfg.Policy().String()),
	)

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("server failed", slog.Any("error", err))
		os.Exit(1)
	}
	slog.Info("server stopped")
}

func openBackend(cfg *config.Config) (party.Backend, func(), error) {
	if cfg.PartyBackend != config.BackendSQLite {
		return party.NewMemoryBackend(), func() {}, nil
	}

	sqlDB, err := database.New(cfg.DatabasePath)
	if err != nil {
		return nil, nil, err
	}
	if err := database.RunMigrations(sqlDB); err != nil {
		sqlDB.Close()
		return nil, nil, err
	}
	return database.NewPartyRepository(sqlDB), func() { sqlDB.Close() }, nil
}
