package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"
	"github.com/stusseligmini/FionaSparx-sub000/internal/metrics"
	"github.com/stusseligmini/FionaSparx-sub000/internal/webhook"
)

// RouterConfig holds configuration for the API router.
type RouterConfig struct {
	// AllowedOrigins is the list of allowed CORS origins. Empty means all origins allowed.
	AllowedOrigins []string
	// Auth holds authentication configuration for /api/v1.
	Auth AuthConfig
	// RateLimiter is the rate limiter instance (optional).
	RateLimiter *RateLimiter
	// Webhooks is mounted under /webhooks (optional). It authenticates on its own.
	Webhooks http.Handler
	// SignatureHeader is the HMAC header webhook senders may include. Defaults to X-Signature.
	SignatureHeader string
	// Metrics records request counts and serves /metrics (optional).
	Metrics *metrics.Metrics
	// Audit enables audit logging of state-changing requests.
	Audit bool
}

// NewRouter creates a new API router.
func NewRouter(handler *Handler, logger zerolog.Logger, config RouterConfig) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(NewLoggingMiddleware(logger, config.Metrics))
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	if config.RateLimiter != nil {
		r.Use(NewRateLimitMiddleware(config.RateLimiter))
	}
	if config.Audit {
		r.Use(NewAuditMiddleware(logger))
	}

	origins := config.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	sigHeader := config.SignatureHeader
	if sigHeader == "" {
		sigHeader = webhook.DefaultSignatureHeader
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-API-Key", sigHeader},
		ExposedHeaders:   []string{"Retry-After"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Health check (no auth required)
	r.Get("/health", handler.HealthCheck)
	r.Handle("/metrics", config.Metrics.Handler())

	// Webhook routes match on the full request path.
	if config.Webhooks != nil {
		r.Mount("/webhooks", config.Webhooks)
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(NewAuthMiddleware(config.Auth))

		r.Get("/health", handler.DetailedHealth)
		r.Get("/status", handler.Status)
		r.Get("/export", handler.Export)

		r.Route("/workflows", func(r chi.Router) {
			r.Get("/", handler.ListWorkflows)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", handler.GetWorkflow)
				r.Post("/trigger", handler.TriggerWorkflow)
				r.Post("/enable", handler.EnableWorkflow)
				r.Post("/disable", handler.DisableWorkflow)
				r.Get("/executions", handler.ListExecutions)
			})
		})

		r.Route("/executions/{execId}", func(r chi.Router) {
			r.Get("/", handler.GetExecution)
			r.Post("/pause", handler.PauseExecution)
			r.Post("/resume", handler.ResumeExecution)
		})

		r.Get("/schedule/{platform}/{contentType}", handler.GetSchedule)
		r.Get("/analytics", handler.GetAnalytics)
		r.Get("/performance", handler.GetPerformance)
		r.Post("/engagement", handler.RecordEngagement)
		r.Post("/content/generate", handler.GenerateContent)

		r.Route("/abtests", func(r chi.Router) {
			r.Get("/", handler.ListABTests)
			r.Post("/", handler.CreateABTest)
			r.Get("/{id}", handler.GetABTest)
		})
	})

	return r
}
