package leads

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/wolfman30/missedcall-booking/pkg/logging"
)

const (
	defaultListLimit = 50
	maxListLimit     = 100
)

// Handler serves the staff callback queue.
type Handler struct {
	repo   Repository
	logger *logging.Logger
}

func NewHandler(repo Repository, logger *logging.Logger) *Handler {
	if logger == nil {
		logger = logging.Default()
	}
	return &Handler{repo: repo, logger: logger.WithComponent("leads.handler")}
}

// ListLeadsResponse is one page of a tenant's leads, newest first.
type ListLeadsResponse struct {
	Leads  []*Lead `json:"leads"`
	Count  int     `json:"count"`
	Offset int     `json:"offset"`
	Limit  int     `json:"limit"`
}

// ListLeads handles GET /admin/tenants/{tenantID}/leads. status and priority
// must be known values; limit is capped at 100.
func (h *Handler) ListLeads(w http.ResponseWriter, r *http.Request) {
	tenantID := chi.URLParam(r, "tenantID")
	if tenantID == "" {
		writeError(w, http.StatusBadRequest, "missing tenant_id")
		return
	}

	q := r.URL.Query()
	filter := ListLeadsFilter{
		Status:   Status(q.Get("status")),
		Priority: Priority(q.Get("priority")),
		Limit:    boundedInt(q.Get("limit"), defaultListLimit, 1, maxListLimit),
		Offset:   boundedInt(q.Get("offset"), 0, 0, -1),
	}
	if filter.Status != "" && !filter.Status.Valid() {
		writeError(w, http.StatusBadRequest, "unknown status")
		return
	}
	if filter.Priority != "" && !filter.Priority.Valid() {
		writeError(w, http.StatusBadRequest, "unknown priority")
		return
	}

	leads, err := h.repo.ListByTenant(r.Context(), tenantID, filter)
	if err != nil {
		h.logger.Error("failed to list leads", "error", err, "tenant_id", tenantID)
		writeError(w, http.StatusInternalServerError, "failed to list leads")
		return
	}
	if leads == nil {
		leads = []*Lead{}
	}
	writeJSON(w, http.StatusOK, ListLeadsResponse{Leads: leads, Count: len(leads), Offset: filter.Offset, Limit: filter.Limit})
}

// GetLead handles GET /admin/tenants/{tenantID}/leads/{leadID}.
func (h *Handler) GetLead(w http.ResponseWriter, r *http.Request) {
	lead, ok := h.load(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, lead)
}

// CallbackOutcomeRequest closes out a callback: status is contacted or lost.
type CallbackOutcomeRequest struct {
	Status Status `json:"status"`
	Note   string `json:"note,omitempty"`
}

// RecordCallbackOutcome handles PATCH /admin/tenants/{tenantID}/leads/{leadID}
// after staff have phoned the caller back.
func (h *Handler) RecordCallbackOutcome(w http.ResponseWriter, r *http.Request) {
	var req CallbackOutcomeRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 4096)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	lead, ok := h.load(w, r)
	if !ok {
		return
	}

	switch err := lead.MarkContacted(req.Status, req.Note); {
	case errors.Is(err, ErrInvalidOutcome):
		writeError(w, http.StatusBadRequest, err.Error())
		return
	case errors.Is(err, ErrLeadBooked):
		writeError(w, http.StatusConflict, err.Error())
		return
	}
	if err := h.repo.Update(r.Context(), lead); err != nil {
		h.logger.Error("failed to record callback outcome", "error", err, "tenant_id", lead.TenantID, "lead_id", lead.ID)
		writeError(w, http.StatusInternalServerError, "failed to update lead")
		return
	}
	h.logger.Info("callback outcome recorded", "tenant_id", lead.TenantID, "lead_id", lead.ID, "status", lead.Status)
	writeJSON(w, http.StatusOK, lead)
}

func (h *Handler) load(w http.ResponseWriter, r *http.Request) (*Lead, bool) {
	tenantID := chi.URLParam(r, "tenantID")
	leadID := chi.URLParam(r, "leadID")

	lead, err := h.repo.GetByID(r.Context(), tenantID, leadID)
	switch {
	case errors.Is(err, ErrLeadNotFound):
		writeError(w, http.StatusNotFound, "lead not found")
		return nil, false
	case err != nil:
		h.logger.Error("failed to load lead", "error", err, "tenant_id", tenantID, "lead_id", leadID)
		writeError(w, http.StatusInternalServerError, "failed to load lead")
		return nil, false
	}
	return lead, true
}

// boundedInt parses raw, falling back to def when it is missing or outside
// [min, max]. A negative max means no upper bound.
func boundedInt(raw string, def, min, max int) int {
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < min || (max >= 0 && v > max) {
		return def
	}
	return v
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
