package router

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"

	"github.com/wolfman30/retail-chat-bot/internal/channels/whatsapp"
	"github.com/wolfman30/retail-chat-bot/internal/http/handlers"
	httpmiddleware "github.com/wolfman30/retail-chat-bot/internal/http/middleware"
	"github.com/wolfman30/retail-chat-bot/pkg/logging"
)

// HealthCheck reports whether a dependency is reachable.
type HealthCheck func(ctx context.Context) error

// Config holds router configuration
type Config struct {
	Logger             *logging.Logger
	Webhook            *whatsapp.WebhookHandler
	Admin              *handlers.AdminHandler
	Realtime           http.Handler
	MetricsHandler     http.Handler
	AdminAuthSecret    string
	CORSAllowedOrigins []string
	// WebhookRateLimit caps webhook deliveries per minute and client IP.
	// Zero disables the limit.
	WebhookRateLimit int
	Checks           map[string]HealthCheck
}

// New creates a new Chi router with all routes configured
func New(cfg *Config) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	if len(cfg.CORSAllowedOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins:   cfg.CORSAllowedOrigins,
			AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
			AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
			ExposedHeaders:   []string{"X-Request-ID"},
			AllowCredentials: true,
			MaxAge:           300,
		}))
	}
	if cfg.Logger != nil {
		r.Use(httpmiddleware.RequestLogger(cfg.Logger))
	}

	// Public endpoints (webhooks, health checks)
	r.Group(func(public chi.Router) {
		public.Get("/health", healthHandler(cfg.Checks))
		if cfg.MetricsHandler != nil {
			public.Handle("/metrics", cfg.MetricsHandler)
		}
		if cfg.Webhook != nil {
			public.Route("/webhook", func(wh chi.Router) {
				if cfg.WebhookRateLimit > 0 {
					wh.Use(webhookRateLimit(cfg.WebhookRateLimit))
				}
				wh.Get("/", cfg.Webhook.HandleVerification)
				wh.Post("/", cfg.Webhook.HandleInbound)
			})
		}
	})

	// Agent panel API and realtime feed (protected by JWT)
	if cfg.AdminAuthSecret != "" {
		r.Group(func(private chi.Router) {
			private.Use(httpmiddleware.AdminJWT(cfg.AdminAuthSecret))
			if cfg.Admin != nil {
				private.Route("/api", func(api chi.Router) {
					api.Use(middleware.NoCache)
					cfg.Admin.Routes(api)
				})
			}
			if cfg.Realtime != nil {
				private.Get("/ws", cfg.Realtime.ServeHTTP)
			}
		})
	}

	return r
}

func webhookRateLimit(perMinute int) func(http.Handler) http.Handler {
	return httprate.Limit(
		perMinute,
		time.Minute,
		httprate.WithKeyFuncs(httprate.KeyByIP),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.Header().Set("Retry-After", "60")
			w.WriteHeader(http.StatusTooManyRequests)
			_, _ = w.Write([]byte(`{"error":"rate limit exceeded","retry_after":60}`))
		}),
	)
}
