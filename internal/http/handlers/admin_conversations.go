package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/wolfman30/missedcall-booking/internal/conversation"
	"github.com/wolfman30/missedcall-booking/pkg/logging"
)

type conversationGetter interface {
	Get(ctx context.Context, id string) (*conversation.Conversation, error)
}

type transcriptLister interface {
	List(ctx context.Context, conversationID string, limit int) ([]conversation.TranscriptEntry, error)
}

// AdminConversationsHandler serves a single conversation with its transcript.
type AdminConversationsHandler struct {
	conversations conversationGetter
	transcripts   transcriptLister
	logger        *logging.Logger
}

// NewAdminConversationsHandler accepts a nil transcript lister; messages are
// then always empty.
func NewAdminConversationsHandler(conversations conversationGetter, transcripts transcriptLister, logger *logging.Logger) *AdminConversationsHandler {
	if conversations == nil {
		panic("handlers: conversation store required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &AdminConversationsHandler{conversations: conversations, transcripts: transcripts, logger: logger}
}

// ConversationResponse is a conversation plus its most recent messages.
type ConversationResponse struct {
	Conversation *conversation.Conversation     `json:"conversation"`
	Messages     []conversation.TranscriptEntry `json:"messages"`
}

// GetConversation handles GET /admin/tenants/{tenantID}/conversations/{conversationID}.
func (h *AdminConversationsHandler) GetConversation(w http.ResponseWriter, r *http.Request) {
	tenantID := chi.URLParam(r, "tenantID")
	conversationID := chi.URLParam(r, "conversationID")

	conv, err := h.conversations.Get(r.Context(), conversationID)
	if err != nil {
		if errors.Is(err, conversation.ErrConversationNotFound) {
			jsonError(w, "conversation not found", http.StatusNotFound)
			return
		}
		h.logger.Error("failed to load conversation", "error", err, "tenant_id", tenantID, "conversation_id", conversationID)
		jsonError(w, "failed to load conversation", http.StatusInternalServerError)
		return
	}
	// Other tenants' conversations are reported as missing.
	if conv.TenantID != tenantID {
		jsonError(w, "conversation not found", http.StatusNotFound)
		return
	}

	resp := ConversationResponse{Conversation: conv, Messages: []conversation.TranscriptEntry{}}
	if h.transcripts != nil {
		messages, err := h.transcripts.List(r.Context(), conv.ID, intQuery(r, "limit", 100, 500))
		if err != nil {
			h.logger.Error("failed to load transcript", "error", err, "conversation_id", conv.ID)
			jsonError(w, "failed to load transcript", http.StatusInternalServerError)
			return
		}
		if messages != nil {
			resp.Messages = messages
		}
	}
	writeJSON(w, http.StatusOK, resp)
}
