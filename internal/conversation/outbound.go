package conversation

import "context"

// ReplyMessenger delivers engine replies back to the caller (e.g. via SMS).
type ReplyMessenger interface {
	SendReply(ctx context.Context, reply OutboundReply) error
}

// OutboundReply carries the data required to push a message to the caller.
type OutboundReply struct {
	TenantID       string            `json:"tenant_id"`
	LeadID         string            `json:"lead_id,omitempty"`
	ConversationID string            `json:"conversation_id,omitempty"`
	To             string            `json:"to"`
	From           string            `json:"from"`
	Body           string            `json:"body"`
	Metadata       map[string]string `json:"metadata,omitempty"`
}
