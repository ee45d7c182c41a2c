package router

import (
	"net/http"

	"github.com/benbjohnson/clock"
	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/songify/partyqueue/internal/broker"
	"github.com/songify/partyqueue/internal/config"
	"github.com/songify/partyqueue/internal/handlers"
	"github.com/songify/partyqueue/internal/middleware"
	"github.com/songify/partyqueue/internal/party"
	"github.com/songify/partyqueue/internal/services"
)

// Deps are the long-lived components the routes are served from.
type Deps struct {
	Store   *party.Store
	Hub     *broker.Hub
	Gateway *services.SessionGateway
	Auth    *services.AuthService
	Names   handlers.NameSource
	Clock   clock.Clock
	// Middleware wraps every route; used for Sentry.
	Middleware []func(http.Handler) http.Handler
}

func New(cfg *config.Config, deps Deps) http.Handler {
	r := chi.NewRouter()
	origins := middleware.NewAllowedOrigins(cfg.CORSAllowedOrigins)

	// Global middleware
	r.Use(chimiddleware.RequestID)
	r.Use(middleware.NewRealIPMiddleware(cfg.TrustedProxies).Handler)
	r.Use(middleware.RequestContextMiddleware)
	r.Use(middleware.RequestLogger)
	r.Use(chimiddleware.Recoverer)
	r.Use(deps.Middleware...)
	r.Use(middleware.CORSMiddleware(origins))

	// Handlers
	partyHandler := handlers.NewPartyHandler(deps.Store, deps.Auth, deps.Names, cfg, deps.Clock)
	queueHandler := handlers.NewQueueHandler(deps.Store)
	catalogHandler := handlers.NewCatalogHandler(deps.Gateway, deps.Auth)
	hostHandler := handlers.NewHostHandler(cfg, deps.Clock)
	configHandler := handlers.NewConfigHandler(cfg)
	realtimeHandler := handlers.NewRealtimeHandler(deps.Store, deps.Hub, origins, cfg.ClientBuffer)

	// OAuth redirect target registered with the music service
	r.Get("/callback", catalogHandler.Callback)

	r.Route("/api", func(r chi.Router) {
		// Health check
		r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(`{"status":"ok"}`))
		})

		// Public configuration (Spotify client ID, vote policy, etc.)
		r.Get("/config", configHandler.PublicConfig)

		// Host portal verification (no auth required)
		r.Post("/host/verify", hostHandler.VerifyPassword)

		// Music service login; the callback above completes it
		r.Get("/auth/login", catalogHandler.Login)

		// Search requires a listener session token
		r.With(
			middleware.OptionalAuthMiddleware(deps.Auth),
			middleware.UpdateRequestContextMiddleware,
		).Get("/search", catalogHandler.Search)

		// Realtime channel
		r.Get("/ws", realtimeHandler.Serve)

		r.Route("/party", func(r chi.Router) {
			r.Post("/", partyHandler.Create)

			r.Route("/{code}", func(r chi.Router) {
				r.Get("/", partyHandler.Get)
				r.Post("/join", partyHandler.Join)
				r.Put("/playback", partyHandler.UpdatePlayback)

				r.Post("/queue", queueHandler.Add)
				r.Post("/queue/{index}/vote", queueHandler.Vote)

				// Host-only
				r.With(
					middleware.AuthMiddleware(deps.Auth),
					middleware.UpdateRequestContextMiddleware,
					middleware.HostOnlyMiddleware,
				).Delete("/", partyHandler.Close)
			})
		})
	})

	return r
}
