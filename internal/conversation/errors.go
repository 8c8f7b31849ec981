package conversation

import "errors"

var (
	// ErrConversationNotFound is returned when no conversation matches.
	ErrConversationNotFound = errors.New("conversation: not found")
	// ErrOpenConversationExists is returned when creating a second open
	// conversation for the same caller.
	ErrOpenConversationExists = errors.New("conversation: open conversation already exists for caller")
	// ErrInvalidStatePayload is returned when a payload is illegal for its status.
	ErrInvalidStatePayload = errors.New("conversation: invalid state payload")
	// ErrMissingTenant is returned when an inbound message has no tenant.
	ErrMissingTenant = errors.New("conversation: tenant id is required")
	// ErrMissingPhone is returned when an inbound message has no caller phone.
	ErrMissingPhone = errors.New("conversation: caller phone is required")
)
