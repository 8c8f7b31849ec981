package appointments

import "errors"

var (
	// ErrInvalidSlot is returned when a booking request has no usable slot.
	ErrInvalidSlot = errors.New("appointments: slot is required")
	// ErrMissingTenant is returned when a booking request has no tenant.
	ErrMissingTenant = errors.New("appointments: tenant id is required")
	// ErrMissingConversation is returned when a booking is not tied to a conversation.
	ErrMissingConversation = errors.New("appointments: conversation id is required")
)
