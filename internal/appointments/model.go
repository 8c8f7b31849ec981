// Package appointments owns the practice calendar and the booking transaction
// that guarantees a slot is never handed to two callers.
package appointments

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/wolfman30/missedcall-booking/internal/calendar"
)

// Status of an appointment row.
type Status string

const (
	StatusScheduled Status = "scheduled"
	StatusCancelled Status = "cancelled"
	StatusCompleted Status = "completed"
	StatusNoShow    Status = "no_show"
)

const (
	dateLayout  = "2006-01-02"
	clockLayout = "15:04"
)

// Appointment is a booked slot on a tenant's calendar.
type Appointment struct {
	ID              string    `json:"id"`
	TenantID        string    `json:"tenant_id"`
	PatientPhone    string    `json:"patient_phone"`
	PatientName     string    `json:"patient_name,omitempty"`
	Date            string    `json:"date"`
	StartTime       string    `json:"start_time"`
	DurationMinutes int       `json:"duration_minutes"`
	Status          Status    `json:"status"`
	LeadID          string    `json:"lead_id,omitempty"`
	ConversationID  string    `json:"conversation_id,omitempty"`
	StartsAt        time.Time `json:"starts_at"`
	CreatedAt       time.Time `json:"created_at"`
}

// BookingRequest carries everything the booking transaction writes. FinalStatus
// and FinalState are the conversation values persisted on success.
type BookingRequest struct {
	TenantID        string
	ConversationID  string
	LeadID          string
	PatientPhone    string
	PatientName     string
	Slot            time.Time
	DurationMinutes int
	FinalStatus     string
	FinalState      json.RawMessage
}

// Validate checks the request before any storage is touched.
func (r BookingRequest) Validate() error {
	if strings.TrimSpace(r.TenantID) == "" {
		return ErrMissingTenant
	}
	if strings.TrimSpace(r.ConversationID) == "" {
		return ErrMissingConversation
	}
	if r.Slot.IsZero() {
		return ErrInvalidSlot
	}
	return nil
}

// Date returns the slot's calendar date in its own location.
func (r BookingRequest) Date() string { return r.Slot.Format(dateLayout) }

// StartTime returns the slot's wall clock start.
func (r BookingRequest) StartTime() string { return r.Slot.Format(clockLayout) }

func (r BookingRequest) duration() int {
	if r.DurationMinutes <= 0 {
		return int(calendar.DefaultGranularity / time.Minute)
	}
	return r.DurationMinutes
}

// Outcome of a booking attempt that reached a decision.
type Outcome int

const (
	OutcomeBooked Outcome = iota + 1
	OutcomeConflict
)

func (o Outcome) String() string {
	switch o {
	case OutcomeBooked:
		return "booked"
	case OutcomeConflict:
		return "conflict"
	default:
		return "unknown"
	}
}

// Result is Booked with the stored appointment, or Conflict when another
// caller holds the slot. Storage failures are returned as errors instead.
type Result struct {
	Outcome     Outcome
	Appointment *Appointment
}

// Booked reports whether the slot is now held by this request.
func (r Result) Booked() bool { return r.Outcome == OutcomeBooked }

// Booker books slots and reports which slots are taken.
type Booker interface {
	Book(ctx context.Context, req BookingRequest) (Result, error)
	BookedSlots(ctx context.Context, tenantID string, from, to time.Time) (calendar.BookedSet, error)
}
