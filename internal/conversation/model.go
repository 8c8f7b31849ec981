package conversation

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/wolfman30/missedcall-booking/internal/appointments"
	"github.com/wolfman30/missedcall-booking/internal/intent"
)

// Status is the persisted state of a conversation.
type Status string

const (
	StatusAwaitingInitialChoice    Status = "awaiting_initial_choice"
	StatusAwaitingSlotConfirmation Status = "awaiting_slot_confirmation"
	StatusAwaitingSlotSelection    Status = "awaiting_slot_selection"
	StatusAppointmentBooked        Status = "appointment_booked"
	StatusCallbackRequested        Status = "callback_requested"
	// StatusCompleted means the caller opted out.
	StatusCompleted Status = "completed"
)

// Terminal reports whether the conversation has ended.
func (s Status) Terminal() bool {
	switch s {
	case StatusAppointmentBooked, StatusCallbackRequested, StatusCompleted:
		return true
	}
	return false
}

// Valid reports whether s is one of the known statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusAwaitingInitialChoice, StatusAwaitingSlotConfirmation, StatusAwaitingSlotSelection,
		StatusAppointmentBooked, StatusCallbackRequested, StatusCompleted:
		return true
	}
	return false
}

// Expectation maps the status to what the classifier should listen for.
func (s Status) Expectation(state StatePayload) intent.Expectation {
	switch s {
	case StatusAwaitingInitialChoice:
		return intent.ExpectInitialChoice()
	case StatusAwaitingSlotConfirmation:
		if len(state.OfferedSlots) == 1 {
			return intent.ExpectConfirmation(state.OfferedSlots[0])
		}
	case StatusAwaitingSlotSelection:
		return intent.ExpectSelection(state.OfferedSlots)
	}
	return intent.ExpectNothing()
}

// StateIntent is what the caller asked for at the initial prompt.
type StateIntent string

const (
	StateIntentNone     StateIntent = ""
	StateIntentBook     StateIntent = "book"
	StateIntentCallback StateIntent = "callback"
)

// StatePayload is the typed per-status data persisted with a conversation.
type StatePayload struct {
	OfferedSlots []time.Time `json:"offered_slots"`
	PageOffset   int         `json:"page_offset"`
	Intent       StateIntent `json:"intent"`
}

// Validate checks that the payload is legal for status.
func (p StatePayload) Validate(status Status) error {
	switch status {
	case StatusAwaitingInitialChoice:
		if len(p.OfferedSlots) != 0 || p.PageOffset != 0 {
			return fmt.Errorf("%w: %s carries offered slots", ErrInvalidStatePayload, status)
		}
	case StatusAwaitingSlotConfirmation:
		if len(p.OfferedSlots) != 1 {
			return fmt.Errorf("%w: %s needs exactly one offered slot, got %d", ErrInvalidStatePayload, status, len(p.OfferedSlots))
		}
		if p.Intent != StateIntentBook {
			return fmt.Errorf("%w: %s needs intent book", ErrInvalidStatePayload, status)
		}
	case StatusAwaitingSlotSelection:
		if len(p.OfferedSlots) == 0 {
			return fmt.Errorf("%w: %s needs offered slots", ErrInvalidStatePayload, status)
		}
		if p.Intent != StateIntentBook {
			return fmt.Errorf("%w: %s needs intent book", ErrInvalidStatePayload, status)
		}
	case StatusAppointmentBooked, StatusCallbackRequested, StatusCompleted:
	default:
		return fmt.Errorf("%w: unknown status %q", ErrInvalidStatePayload, status)
	}
	if p.PageOffset < 0 {
		return fmt.Errorf("%w: negative page offset", ErrInvalidStatePayload)
	}
	return nil
}

// Encode renders the wire JSON, always with an offered_slots array.
func (p StatePayload) Encode() (json.RawMessage, error) {
	if p.OfferedSlots == nil {
		p.OfferedSlots = []time.Time{}
	}
	raw, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("conversation: encode state payload: %w", err)
	}
	return raw, nil
}

// DecodeStatePayload parses stored JSON; an empty document is the zero payload.
func DecodeStatePayload(raw []byte) (StatePayload, error) {
	var p StatePayload
	if len(raw) == 0 {
		return p, nil
	}
	if err := json.Unmarshal(raw, &p); err != nil {
		return StatePayload{}, fmt.Errorf("conversation: decode state payload: %w", err)
	}
	return p, nil
}

// ChannelSMS is the only channel the engine speaks.
const ChannelSMS = "sms"

// Conversation is one caller's thread with a tenant.
type Conversation struct {
	ID             string       `json:"id"`
	TenantID       string       `json:"tenant_id"`
	CallerPhone    string       `json:"caller_phone"`
	LeadID         string       `json:"lead_id"`
	Channel        string       `json:"channel"`
	Status         Status       `json:"status"`
	State          StatePayload `json:"state"`
	CreatedAt      time.Time    `json:"created_at"`
	LastActivityAt time.Time    `json:"last_activity_at"`
	EndedAt        *time.Time   `json:"ended_at,omitempty"`
}

// Open reports whether the conversation still counts against the
// one-open-conversation-per-caller rule.
func (c *Conversation) Open() bool { return c.EndedAt == nil }

// transition moves the conversation to status with state, stamping the
// activity and end times.
func (c *Conversation) transition(status Status, state StatePayload, now time.Time) {
	c.Status = status
	c.State = state
	c.LastActivityAt = now
	if status.Terminal() {
		if c.EndedAt == nil {
			ended := now
			c.EndedAt = &ended
		}
		return
	}
	c.EndedAt = nil
}

func (c *Conversation) clone() *Conversation {
	cp := *c
	cp.State.OfferedSlots = append([]time.Time(nil), c.State.OfferedSlots...)
	if c.EndedAt != nil {
		ended := *c.EndedAt
		cp.EndedAt = &ended
	}
	return &cp
}

// InboundMessage is a normalized SMS from a caller.
type InboundMessage struct {
	TenantID          string
	FromPhone         string
	ToPhone           string
	Body              string
	ProviderMessageID string
	ReceivedAt        time.Time
}

// FollowUpRequest starts a conversation after a missed call.
type FollowUpRequest struct {
	TenantID    string
	CallerPhone string
	ClinicPhone string
}

// Turn is the result of handling one message: the state the conversation
// ended up in and the reply to send, if any.
type Turn struct {
	TenantID       string
	ConversationID string
	LeadID         string
	Status         Status
	Intent         intent.Type
	// Reply is nil when nothing should be sent.
	Reply *OutboundReply
	// Appointment is set when this turn booked a slot.
	Appointment *appointments.Appointment
	// Created is true when the turn opened a new conversation.
	Created bool
}

// Suppressed reports whether the turn produced no outgoing message.
func (t Turn) Suppressed() bool { return t.Reply == nil }
