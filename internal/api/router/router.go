// Package router assembles the HTTP surface of the crisis engine.
package router

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/havenmind/crisis-engine/internal/http/handlers"
	httpmiddleware "github.com/havenmind/crisis-engine/internal/http/middleware"
	"github.com/havenmind/crisis-engine/pkg/logging"
)

// Config holds router configuration.
type Config struct {
	Logger         *logging.Logger
	CrisisHandler  *handlers.CrisisHandler
	ConsentHandler *handlers.ConsentHandler
	StreamHandler  *handlers.StreamHandler
	AdminHandler   *handlers.AdminHandler
	MetricsHandler http.Handler

	AdminAuthSecret    string
	CORSAllowedOrigins []string

	// Requests per second per IP; zero disables rate limiting.
	RateLimitPerSecond float64
	RateLimitBurst     int
}

// New creates a chi router with all routes configured.
func New(cfg *Config) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Compress(5))
	if len(cfg.CORSAllowedOrigins) > 0 {
		r.Use(httpmiddleware.CORS(cfg.CORSAllowedOrigins))
	}
	if cfg.Logger != nil {
		r.Use(httpmiddleware.RequestLogger(cfg.Logger))
	}
	if cfg.RateLimitPerSecond > 0 {
		burst := cfg.RateLimitBurst
		if burst <= 0 {
			burst = int(cfg.RateLimitPerSecond * 2)
		}
		r.Use(httpmiddleware.RateLimit(cfg.RateLimitPerSecond, burst))
	}

	// Public endpoints: the detection surface must never sit behind auth a
	// person in crisis could fail.
	r.Group(func(public chi.Router) {
		public.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"status":"ok"}`))
		})
		if cfg.MetricsHandler != nil {
			public.Handle("/metrics", cfg.MetricsHandler)
		}
		public.Route("/v1", func(v1 chi.Router) {
			if cfg.CrisisHandler != nil {
				v1.Post("/analyze", cfg.CrisisHandler.Analyze)
				v1.Post("/respond", cfg.CrisisHandler.Respond)
				v1.Get("/sessions/{sessionID}", cfg.CrisisHandler.GetSession)
				v1.Post("/sessions/{sessionID}/resolve", cfg.CrisisHandler.ResolveSession)
			}
			if cfg.StreamHandler != nil {
				v1.Get("/sessions/{sessionID}/stream", cfg.StreamHandler.Stream)
			}
			if cfg.ConsentHandler != nil {
				v1.Get("/consent/{userRef}", cfg.ConsentHandler.GetConsent)
				v1.Put("/consent/{userRef}", cfg.ConsentHandler.SetConsent)
				v1.Get("/contacts/{userRef}", cfg.ConsentHandler.GetContacts)
				v1.Put("/contacts/{userRef}", cfg.ConsentHandler.SaveContacts)
			}
		})
	})

	// Admin routes (protected by JWT).
	if cfg.AdminHandler != nil && cfg.AdminAuthSecret != "" {
		r.Route("/admin", func(admin chi.Router) {
			admin.Use(httpmiddleware.AdminJWT(cfg.AdminAuthSecret))
			admin.Get("/events", cfg.AdminHandler.ListEvents)
			admin.Get("/audit", cfg.AdminHandler.QueryAudit)
			admin.Post("/purge", cfg.AdminHandler.Purge)
		})
	}

	return r
}
