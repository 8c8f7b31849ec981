package router

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/wolfman30/missedcall-booking/internal/http/handlers"
	httpmiddleware "github.com/wolfman30/missedcall-booking/internal/http/middleware"
	"github.com/wolfman30/missedcall-booking/internal/leads"
	"github.com/wolfman30/missedcall-booking/internal/messaging"
	"github.com/wolfman30/missedcall-booking/pkg/logging"
)

// HealthCheck reports whether a dependency is reachable.
type HealthCheck func(ctx context.Context) error

// Config holds router configuration
type Config struct {
	Logger             *logging.Logger
	MessagingHandler   *messaging.Handler
	LeadsHandler       *leads.Handler
	AdminClinics       *handlers.AdminClinicsHandler
	AdminConversations *handlers.AdminConversationsHandler
	MetricsHandler     http.Handler

	// FollowUpEnabled mounts POST /followups. The handler still checks the token.
	FollowUpEnabled   bool
	FollowUpRateLimit float64
	AdminAuthSecret   string

	// ReadinessChecks back GET /ready, keyed by dependency name.
	ReadinessChecks map[string]HealthCheck
}

// New creates a new Chi router with all routes configured
func New(cfg *Config) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(httpmiddleware.RequestLogger(cfg.Logger))
	r.Use(middleware.Recoverer)

	// Public endpoints (webhooks, health checks)
	r.Group(func(public chi.Router) {
		public.Get("/health", health)
		public.Get("/ready", readiness(cfg.ReadinessChecks))
		if cfg.MetricsHandler != nil {
			public.Handle("/metrics", cfg.MetricsHandler)
		}
		if cfg.MessagingHandler != nil {
			public.Route("/messaging/twilio", func(r chi.Router) {
				r.Post("/webhook", cfg.MessagingHandler.TwilioWebhook)
				r.Post("/voice", cfg.MessagingHandler.TwilioVoiceStatus)
			})
			if cfg.FollowUpEnabled {
				rate := cfg.FollowUpRateLimit
				if rate <= 0 {
					rate = 5
				}
				public.With(httpmiddleware.RateLimit(rate, int(rate)*2)).Post("/followups", cfg.MessagingHandler.FollowUp)
			}
		}
	})

	// Staff routes, one clinic per token unless it is an operator token.
	if cfg.AdminAuthSecret != "" {
		r.Route("/admin/tenants/{tenantID}", func(admin chi.Router) {
			admin.Use(httpmiddleware.AdminJWT(cfg.AdminAuthSecret))
			admin.Use(httpmiddleware.RequireTenantAccess)

			if cfg.LeadsHandler != nil {
				admin.Get("/leads", cfg.LeadsHandler.ListLeads)
				admin.Get("/leads/{leadID}", cfg.LeadsHandler.GetLead)
				admin.Patch("/leads/{leadID}", cfg.LeadsHandler.RecordCallbackOutcome)
			}
			if cfg.AdminClinics != nil {
				admin.Get("/clinic", cfg.AdminClinics.GetConfig)
				admin.Put("/clinic", cfg.AdminClinics.PutConfig)
				admin.Get("/notifications", cfg.AdminClinics.GetNotificationSettings)
				admin.Put("/notifications", cfg.AdminClinics.UpdateNotificationSettings)
			}
			if cfg.AdminConversations != nil {
				admin.Get("/conversations/{conversationID}", cfg.AdminConversations.GetConversation)
			}
		})
	}

	return r
}

func health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func readiness(checks map[string]HealthCheck) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		status := http.StatusOK
		results := make(map[string]string, len(checks))
		for name, check := range checks {
			if err := check(ctx); err != nil {
				// Only the dependency name leaves the process.
				results[name] = "unavailable"
				status = http.StatusServiceUnavailable
				continue
			}
			results[name] = "ok"
		}
		writeJSON(w, status, map[string]any{"status": http.StatusText(status), "checks": results})
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
