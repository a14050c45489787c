package router

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/wolfman30/marketplace-payments/internal/http/handlers"
	httpmiddleware "github.com/wolfman30/marketplace-payments/internal/http/middleware"
	"github.com/wolfman30/marketplace-payments/internal/payments"
	"github.com/wolfman30/marketplace-payments/pkg/logging"
)

// Config holds router configuration
type Config struct {
	Logger         *logging.Logger
	MayaWebhook    *payments.WebhookHandler
	PayPalWebhook  *payments.WebhookHandler
	AdminAudit     *handlers.AdminAuditHandler
	AdminJWTSecret string
	MetricsHandler http.Handler
	RateLimiter    *httpmiddleware.RateLimiter
}

// New creates a new Chi router with all routes configured
func New(cfg *Config) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	if cfg.Logger != nil {
		r.Use(httpmiddleware.RequestLogger(cfg.Logger))
	}

	r.Get("/health", healthCheck)
	if cfg.MetricsHandler != nil {
		r.Handle("/metrics", cfg.MetricsHandler)
	}

	// Provider webhooks. Handlers answer 503 themselves when unconfigured.
	r.Route("/webhooks", func(hooks chi.Router) {
		if cfg.RateLimiter != nil {
			hooks.Use(httpmiddleware.RateLimit(cfg.RateLimiter))
		}
		if cfg.MayaWebhook != nil {
			hooks.Post("/maya", cfg.MayaWebhook.Handle)
		}
		if cfg.PayPalWebhook != nil {
			hooks.Post("/paypal", cfg.PayPalWebhook.Handle)
		}
	})

	if cfg.AdminAudit != nil && cfg.AdminJWTSecret != "" {
		r.Route("/admin", func(admin chi.Router) {
			admin.Use(httpmiddleware.AdminJWT(cfg.AdminJWTSecret))
			admin.Get("/webhooks/audit", cfg.AdminAudit.ListWebhookAudit)
		})
	}

	return r
}

func healthCheck(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}
