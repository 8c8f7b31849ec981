package messaging

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/wolfman30/missedcall-booking/internal/conversation"
	"github.com/wolfman30/missedcall-booking/internal/events"
	"github.com/wolfman30/missedcall-booking/internal/observability/metrics"
	"github.com/wolfman30/missedcall-booking/pkg/logging"
)

var twilioTracer = otel.Tracer("missedcall.internal.messaging.twilio")

const (
	providerTwilio      = "twilio"
	providerTwilioVoice = "twilio_voice"
)

// ConversationEngine runs booking conversations.
type ConversationEngine interface {
	HandleInbound(ctx context.Context, msg conversation.InboundMessage) (conversation.Turn, error)
	StartFollowUp(ctx context.Context, req conversation.FollowUpRequest) (conversation.Turn, error)
}

// HandlerOption customizes a Handler.
type HandlerOption func(*Handler)

// WithWebhookSecret enables X-Twilio-Signature checks.
func WithWebhookSecret(secret string) HandlerOption {
	return func(h *Handler) { h.webhookSecret = secret }
}

// WithFollowUpToken sets the bearer token POST /followups requires.
func WithFollowUpToken(token string) HandlerOption {
	return func(h *Handler) { h.followUpToken = token }
}

func WithMessagingMetrics(m *metrics.MessagingMetrics) HandlerOption {
	return func(h *Handler) { h.metrics = m }
}

// WithClock replaces time.Now for received timestamps.
func WithClock(now func() time.Time) HandlerOption {
	return func(h *Handler) {
		if now != nil {
			h.now = now
		}
	}
}

// Handler handles messaging webhook requests.
type Handler struct {
	engine        ConversationEngine
	resolver      TenantResolver
	dispatcher    Dispatcher
	deduper       events.Deduper
	metrics       *metrics.MessagingMetrics
	logger        *logging.Logger
	webhookSecret string
	followUpToken string
	now           func() time.Time
}

// NewHandler creates a new messaging handler.
func NewHandler(engine ConversationEngine, resolver TenantResolver, dispatcher Dispatcher, deduper events.Deduper, logger *logging.Logger, opts ...HandlerOption) *Handler {
	if engine == nil {
		panic("messaging: engine cannot be nil")
	}
	if resolver == nil {
		panic("messaging: tenant resolver cannot be nil")
	}
	if dispatcher == nil {
		panic("messaging: dispatcher cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	h := &Handler{
		engine:     engine,
		resolver:   resolver,
		dispatcher: dispatcher,
		deduper:    deduper,
		logger:     logger.WithComponent("messaging.handler"),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// TwilioWebhook handles POST /messaging/twilio/webhook requests.
func (h *Handler) TwilioWebhook(w http.ResponseWriter, r *http.Request) {
	started := h.now()
	ctx, span := twilioTracer.Start(r.Context(), "messaging.twilio.webhook")
	defer span.End()
	defer func() { h.metrics.ObserveWebhookLatency(providerTwilio, h.now().Sub(started).Seconds()) }()

	if !h.verify(r) {
		h.logger.Warn("invalid twilio signature")
		h.metrics.ObserveInbound(providerTwilio, "unauthorized")
		span.RecordError(errors.New("invalid twilio signature"))
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	webhook, err := ParseTwilioWebhook(r)
	if err != nil {
		h.logger.Error("failed to parse twilio webhook", "error", err)
		h.metrics.ObserveInbound(providerTwilio, "invalid")
		span.RecordError(err)
		http.Error(w, "Bad Request", http.StatusBadRequest)
		return
	}
	from := NormalizeE164(webhook.From)
	to := NormalizeE164(webhook.To)
	span.SetAttributes(attribute.String("missedcall.twilio.message_sid", webhook.MessageSid))

	if webhook.MessageSid == "" || from == "" {
		h.logger.Error("invalid twilio payload", "message_sid", webhook.MessageSid)
		h.metrics.ObserveInbound(providerTwilio, "invalid")
		http.Error(w, "Bad Request", http.StatusBadRequest)
		return
	}

	tenantID, err := h.resolver.ResolveTenantID(ctx, to)
	if err != nil {
		h.logger.Warn("no tenant for twilio number", "error", err, "to", to)
		h.metrics.ObserveInbound(providerTwilio, "unknown_number")
		http.Error(w, "Unknown destination number", http.StatusBadRequest)
		return
	}
	span.SetAttributes(attribute.String("missedcall.tenant_id", tenantID))

	if strings.TrimSpace(webhook.Body) == "" {
		// Media-only messages carry nothing the engine can classify.
		h.logger.Info("ignoring empty sms body", "tenant_id", tenantID, "message_sid", webhook.MessageSid)
		h.metrics.ObserveInbound(providerTwilio, "empty")
		writeTwiML(w)
		return
	}

	if !h.claim(ctx, providerTwilio, webhook.MessageSid, tenantID) {
		h.metrics.ObserveInbound(providerTwilio, "duplicate")
		writeTwiML(w)
		return
	}

	turn, err := h.engine.HandleInbound(ctx, conversation.InboundMessage{
		TenantID:          tenantID,
		FromPhone:         from,
		ToPhone:           to,
		Body:              webhook.Body,
		ProviderMessageID: webhook.MessageSid,
		ReceivedAt:        h.now().UTC(),
	})
	status := "accepted"
	if err != nil {
		status = "error"
		span.RecordError(err)
		h.logger.Error("conversation turn failed", "error", err, "tenant_id", tenantID, "message_sid", webhook.MessageSid)
	}
	h.deliver(ctx, turn)
	h.metrics.ObserveInbound(providerTwilio, status)

	h.logger.Info("twilio webhook handled",
		"tenant_id", tenantID,
		"conversation_id", turn.ConversationID,
		"status", turn.Status,
		"suppressed", turn.Suppressed(),
	)
	writeTwiML(w)
}

// TwilioVoiceStatus handles POST /messaging/twilio/voice call status
// callbacks and starts a follow-up conversation for missed calls.
func (h *Handler) TwilioVoiceStatus(w http.ResponseWriter, r *http.Request) {
	ctx, span := twilioTracer.Start(r.Context(), "messaging.twilio.voice")
	defer span.End()

	if !h.verify(r) {
		h.logger.Warn("invalid twilio voice signature")
		h.metrics.ObserveInbound(providerTwilioVoice, "unauthorized")
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}
	call, err := ParseTwilioCallStatus(r)
	if err != nil || call.CallSid == "" || NormalizeE164(call.From) == "" || NormalizeE164(call.To) == "" {
		h.logger.Error("invalid twilio voice payload", "error", err)
		h.metrics.ObserveInbound(providerTwilioVoice, "invalid")
		http.Error(w, "Bad Request", http.StatusBadRequest)
		return
	}
	if !call.Missed() {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	from, to := NormalizeE164(call.From), NormalizeE164(call.To)
	tenantID, err := h.resolver.ResolveTenantID(ctx, to)
	if err != nil {
		h.logger.Warn("no tenant for twilio voice number", "error", err, "to", to)
		h.metrics.ObserveInbound(providerTwilioVoice, "unknown_number")
		http.Error(w, "Unknown destination number", http.StatusBadRequest)
		return
	}
	span.SetAttributes(
		attribute.String("missedcall.tenant_id", tenantID),
		attribute.String("missedcall.twilio.call_sid", call.CallSid),
	)

	if !h.claim(ctx, providerTwilioVoice, call.CallSid, tenantID) {
		h.metrics.ObserveInbound(providerTwilioVoice, "duplicate")
		writeTwiML(w)
		return
	}

	turn, err := h.engine.StartFollowUp(ctx, conversation.FollowUpRequest{
		TenantID:    tenantID,
		CallerPhone: from,
		ClinicPhone: to,
	})
	if err != nil {
		span.RecordError(err)
		h.logger.Error("failed to start missed-call follow-up", "error", err, "tenant_id", tenantID, "call_sid", call.CallSid)
		h.metrics.ObserveInbound(providerTwilioVoice, "error")
		http.Error(w, "Failed to start follow-up", http.StatusInternalServerError)
		return
	}
	h.deliver(ctx, turn)
	h.metrics.ObserveInbound(providerTwilioVoice, "accepted")
	writeTwiML(w)
}

type followUpRequest struct {
	TenantID    string `json:"tenant_id"`
	CallerPhone string `json:"caller_phone"`
	ClinicPhone string `json:"clinic_phone"`
}

type followUpResponse struct {
	ConversationID string `json:"conversation_id"`
	LeadID         string `json:"lead_id,omitempty"`
	Status         string `json:"status"`
	Sent           bool   `json:"sent"`
}

// FollowUp handles POST /followups from telephony integrations that report
// missed calls directly.
func (h *Handler) FollowUp(w http.ResponseWriter, r *http.Request) {
	if !h.authorizedFollowUp(r) {
		writeJSONError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	var req followUpRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<16)).Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	caller := NormalizeE164(req.CallerPhone)
	clinicPhone := NormalizeE164(req.ClinicPhone)
	if caller == "" {
		writeJSONError(w, http.StatusBadRequest, "caller_phone required")
		return
	}

	tenantID := strings.TrimSpace(req.TenantID)
	if tenantID == "" {
		resolved, err := h.resolver.ResolveTenantID(r.Context(), clinicPhone)
		if err != nil {
			writeJSONError(w, http.StatusBadRequest, "tenant_id or a known clinic_phone required")
			return
		}
		tenantID = resolved
	}

	turn, err := h.engine.StartFollowUp(r.Context(), conversation.FollowUpRequest{
		TenantID:    tenantID,
		CallerPhone: caller,
		ClinicPhone: clinicPhone,
	})
	if err != nil {
		h.logger.Error("failed to start follow-up", "error", err, "tenant_id", tenantID)
		if errors.Is(err, conversation.ErrMissingTenant) || errors.Is(err, conversation.ErrMissingPhone) {
			writeJSONError(w, http.StatusBadRequest, "invalid follow-up request")
			return
		}
		writeJSONError(w, http.StatusInternalServerError, "failed to start follow-up")
		return
	}
	h.deliver(r.Context(), turn)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	_ = json.NewEncoder(w).Encode(followUpResponse{
		ConversationID: turn.ConversationID,
		LeadID:         turn.LeadID,
		Status:         string(turn.Status),
		Sent:           !turn.Suppressed(),
	})
}

func (h *Handler) verify(r *http.Request) bool {
	if h.webhookSecret == "" {
		return true
	}
	return ValidateTwilioSignature(r, h.webhookSecret, buildAbsoluteURL(r))
}

// claim reports whether this delivery should be processed. A deduper
// outage fails open.
func (h *Handler) claim(ctx context.Context, provider, eventID, tenantID string) bool {
	if h.deduper == nil {
		return true
	}
	ok, err := h.deduper.Claim(ctx, provider, eventID)
	if err != nil {
		h.logger.Warn("dedupe claim failed; processing anyway", "error", err, "provider", provider, "tenant_id", tenantID)
		return true
	}
	if !ok {
		h.logger.Info("duplicate delivery ignored", "provider", provider, "event_id", eventID, "tenant_id", tenantID)
	}
	return ok
}

func (h *Handler) deliver(ctx context.Context, turn conversation.Turn) {
	if turn.Reply == nil {
		h.metrics.ObserveOutbound("skipped", true)
		return
	}
	h.dispatcher.Dispatch(ctx, *turn.Reply)
}

func (h *Handler) authorizedFollowUp(r *http.Request) bool {
	if h.followUpToken == "" {
		return false
	}
	token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
	if !ok {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(strings.TrimSpace(token)), []byte(h.followUpToken)) == 1
}

func writeTwiML(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/xml")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(emptyTwiML))
}

func writeJSONError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message})
}
