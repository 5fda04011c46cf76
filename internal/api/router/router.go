package router

import (
	"context"
	"encoding/json"
	"net/http"
	"sort"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/wolfman30/medmitra-kiosk/internal/bookings"
	httpmiddleware "github.com/wolfman30/medmitra-kiosk/internal/http/middleware"
	"github.com/wolfman30/medmitra-kiosk/internal/resource"
	"github.com/wolfman30/medmitra-kiosk/internal/session"
	"github.com/wolfman30/medmitra-kiosk/pkg/logging"
)

// HealthCheck probes one dependency for /ready.
type HealthCheck func(ctx context.Context) error

// Config holds router configuration
type Config struct {
	Logger          *logging.Logger
	BookingsHandler *bookings.Handler
	ResourceHandler *resource.Handler
	SessionHandler  *session.Handler
	SessionManager  *session.Manager
	MetricsHandler  http.Handler

	AdminAuthSecret    string
	CORSAllowedOrigins []string
	// RateLimiter guards the booking endpoints. Nil disables limiting.
	RateLimiter httpmiddleware.Limiter

	HealthChecks map[string]HealthCheck
}

// New creates a new Chi router with all routes configured
func New(cfg *Config) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	if len(cfg.CORSAllowedOrigins) > 0 {
		r.Use(httpmiddleware.CORS(cfg.CORSAllowedOrigins))
	}
	r.Use(httpmiddleware.KioskSession(cfg.SessionManager))
	r.Use(httpmiddleware.RequestLogger(cfg.Logger))

	// Public endpoints
	r.Group(func(public chi.Router) {
		public.Get("/health", health)
		public.Get("/ready", ready(cfg.HealthChecks))
		if cfg.MetricsHandler != nil {
			public.Handle("/metrics", cfg.MetricsHandler)
		}
		if cfg.SessionHandler != nil {
			public.Route("/kiosk/session", func(r chi.Router) {
				r.Post("/set", cfg.SessionHandler.Set)
				r.Get("/me", cfg.SessionHandler.Me)
				r.Post("/clear", cfg.SessionHandler.Clear)
			})
		}
		if cfg.ResourceHandler != nil {
			public.Get("/resources", cfg.ResourceHandler.List)
		}
	})

	// Kiosk booking API
	if cfg.BookingsHandler != nil {
		r.Group(func(kiosk chi.Router) {
			kiosk.Use(middleware.NoCache)
			if cfg.RateLimiter != nil {
				kiosk.Use(httpmiddleware.RateLimit(cfg.RateLimiter, cfg.Logger))
			}
			cfg.BookingsHandler.Routes(kiosk)
		})
	}

	// Admin routes
	if cfg.AdminAuthSecret != "" && cfg.ResourceHandler != nil {
		r.Route("/admin", func(admin chi.Router) {
			admin.Use(httpmiddleware.AdminJWT(cfg.AdminAuthSecret, httpmiddleware.ScopeResourcesWrite))
			admin.Put("/resources/{type}/{id}", cfg.ResourceHandler.Put)
		})
	}

	return r
}

func health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func ready(checks map[string]HealthCheck) http.HandlerFunc {
	names := make([]string, 0, len(checks))
	for name := range checks {
		names = append(names, name)
	}
	sort.Strings(names)

	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		status := http.StatusOK
		results := make(map[string]string, len(names))
		for _, name := range names {
			if err := checks[name](ctx); err != nil {
				results[name] = err.Error()
				status = http.StatusServiceUnavailable
				continue
			}
			results[name] = "ok"
		}
		overall := "ok"
		if status != http.StatusOK {
			overall = "degraded"
		}
		writeJSON(w, status, map[string]any{"status": overall, "checks": results})
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
