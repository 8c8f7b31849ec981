package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/wolfman30/missedcall-booking/internal/clinic"
	"github.com/wolfman30/missedcall-booking/pkg/logging"
)

type clinicConfigStore interface {
	Get(ctx context.Context, tenantID string) (*clinic.Config, error)
	Set(ctx context.Context, cfg *clinic.Config) error
}

// AdminClinicsHandler lets staff read and edit a clinic's hours and
// notification settings.
type AdminClinicsHandler struct {
	store  clinicConfigStore
	logger *logging.Logger
}

func NewAdminClinicsHandler(store clinicConfigStore, logger *logging.Logger) *AdminClinicsHandler {
	if store == nil {
		panic("handlers: clinic store required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &AdminClinicsHandler{store: store, logger: logger}
}

// GetConfig returns the clinic config, or the defaults when none is stored.
// GET /admin/tenants/{tenantID}/clinic
func (h *AdminClinicsHandler) GetConfig(w http.ResponseWriter, r *http.Request) {
	tenantID := chi.URLParam(r, "tenantID")
	cfg, err := h.store.Get(r.Context(), tenantID)
	if err != nil {
		h.logger.Error("failed to get clinic config", "error", err, "tenant_id", tenantID)
		jsonError(w, "failed to get clinic config", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, cfg)
}

// PutConfig replaces the clinic config. The tenant in the path wins over the body.
// PUT /admin/tenants/{tenantID}/clinic
func (h *AdminClinicsHandler) PutConfig(w http.ResponseWriter, r *http.Request) {
	tenantID := chi.URLParam(r, "tenantID")

	var cfg clinic.Config
	if err := json.NewDecoder(r.Body).Decode(&cfg); err != nil {
		jsonError(w, "invalid JSON", http.StatusBadRequest)
		return
	}
	cfg.TenantID = tenantID

	if err := h.store.Set(r.Context(), &cfg); err != nil {
		if errors.Is(err, clinic.ErrInvalidHours) || errors.Is(err, clinic.ErrMissingTenant) {
			jsonError(w, err.Error(), http.StatusBadRequest)
			return
		}
		h.logger.Error("failed to save clinic config", "error", err, "tenant_id", tenantID)
		jsonError(w, "failed to save clinic config", http.StatusInternalServerError)
		return
	}

	h.logger.Info("clinic config updated", "tenant_id", tenantID, "timezone", cfg.Timezone)
	writeJSON(w, http.StatusOK, &cfg)
}

// NotificationSettings is the staff-alert part of a clinic config.
type NotificationSettings struct {
	EmailRecipients  []string `json:"email_recipients"`
	SMSRecipients    []string `json:"sms_recipients"`
	NotifyOnCallback bool     `json:"notify_on_callback"`
}

// UpdateNotificationSettingsRequest changes only the fields that are present.
type UpdateNotificationSettingsRequest struct {
	EmailRecipients  []string `json:"email_recipients,omitempty"`
	SMSRecipients    []string `json:"sms_recipients,omitempty"`
	NotifyOnCallback *bool    `json:"notify_on_callback,omitempty"`
}

// GetNotificationSettings returns who is alerted when a caller asks for a call back.
// GET /admin/tenants/{tenantID}/notifications
func (h *AdminClinicsHandler) GetNotificationSettings(w http.ResponseWriter, r *http.Request) {
	tenantID := chi.URLParam(r, "tenantID")
	cfg, err := h.store.Get(r.Context(), tenantID)
	if err != nil {
		h.logger.Error("failed to get clinic config", "error", err, "tenant_id", tenantID)
		jsonError(w, "failed to get settings", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, notificationSettings(cfg))
}

// UpdateNotificationSettings patches the notification settings.
// PUT /admin/tenants/{tenantID}/notifications
func (h *AdminClinicsHandler) UpdateNotificationSettings(w http.ResponseWriter, r *http.Request) {
	tenantID := chi.URLParam(r, "tenantID")

	var req UpdateNotificationSettingsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonError(w, "invalid JSON", http.StatusBadRequest)
		return
	}

	cfg, err := h.store.Get(r.Context(), tenantID)
	if err != nil {
		h.logger.Error("failed to get clinic config", "error", err, "tenant_id", tenantID)
		jsonError(w, "failed to get settings", http.StatusInternalServerError)
		return
	}

	if req.EmailRecipients != nil {
		cfg.Notifications.EmailRecipients = trimAll(req.EmailRecipients)
	}
	if req.SMSRecipients != nil {
		cfg.Notifications.SMSRecipients = trimAll(req.SMSRecipients)
	}
	if req.NotifyOnCallback != nil {
		cfg.Notifications.NotifyOnCallback = *req.NotifyOnCallback
	}

	if err := h.store.Set(r.Context(), cfg); err != nil {
		h.logger.Error("failed to save clinic config", "error", err, "tenant_id", tenantID)
		jsonError(w, "failed to save settings", http.StatusInternalServerError)
		return
	}

	h.logger.Info("notification settings updated", "tenant_id", tenantID,
		"notify_on_callback", cfg.Notifications.NotifyOnCallback,
		"email_recipients_count", len(cfg.Notifications.EmailRecipients),
		"sms_recipients_count", len(cfg.Notifications.SMSRecipients))

	writeJSON(w, http.StatusOK, notificationSettings(cfg))
}

func notificationSettings(cfg *clinic.Config) NotificationSettings {
	return NotificationSettings{
		EmailRecipients:  nonNil(cfg.Notifications.EmailRecipients),
		SMSRecipients:    nonNil(cfg.Notifications.SMSRecipients),
		NotifyOnCallback: cfg.Notifications.NotifyOnCallback,
	}
}

func trimAll(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
