package leads

import (
	"strings"
	"time"
)

// Status tracks where a caller is in the booking funnel.
type Status string

const (
	StatusNew       Status = "new"
	StatusQualified Status = "qualified"
	StatusBooked    Status = "booked"
	StatusContacted Status = "contacted"
	StatusLost      Status = "lost"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusNew, StatusQualified, StatusBooked, StatusContacted, StatusLost:
		return true
	}
	return false
}

// Priority orders the staff callback queue.
type Priority string

const (
	PriorityNormal Priority = "normal"
	PriorityHigh   Priority = "high"
)

// Valid reports whether p is a known priority.
func (p Priority) Valid() bool {
	return p == PriorityNormal || p == PriorityHigh
}

// Lead represents a caller who reached the practice by a missed call
type Lead struct {
	ID                string     `json:"id"`
	TenantID          string     `json:"tenant_id"`
	ConversationID    string     `json:"conversation_id,omitempty"`
	Phone             string     `json:"phone"`
	Status            Status     `json:"status"`
	Priority          Priority   `json:"priority"`
	Reason            string     `json:"reason,omitempty"`
	AppointmentBooked bool       `json:"appointment_booked"`
	AppointmentAt     *time.Time `json:"appointment_at,omitempty"`
	CreatedAt         time.Time  `json:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at"`
}

// MarkQualified flags the lead for a staff callback.
func (l *Lead) MarkQualified(reason string, priority Priority) {
	l.Status = StatusQualified
	l.Priority = priority
	if strings.TrimSpace(reason) != "" {
		l.Reason = strings.TrimSpace(reason)
	}
}

// MarkBooked records the appointment on the lead.
func (l *Lead) MarkBooked(at time.Time) {
	l.Status = StatusBooked
	l.AppointmentBooked = true
	at = at.UTC()
	l.AppointmentAt = &at
}

// MarkContacted records the outcome of a staff callback. Booked leads keep
// their status.
func (l *Lead) MarkContacted(outcome Status, note string) error {
	if outcome != StatusContacted && outcome != StatusLost {
		return ErrInvalidOutcome
	}
	if l.Status == StatusBooked {
		return ErrLeadBooked
	}
	l.Status = outcome
	if note = strings.TrimSpace(note); note != "" {
		l.Reason = note
	}
	return nil
}

// CreateLeadRequest represents the fields needed to open a lead
type CreateLeadRequest struct {
	TenantID       string
	ConversationID string
	Phone          string
}

// Validate validates the create lead request
func (r *CreateLeadRequest) Validate() error {
	if strings.TrimSpace(r.TenantID) == "" {
		return ErrMissingTenant
	}
	if strings.TrimSpace(r.Phone) == "" {
		return ErrMissingPhone
	}
	return nil
}

// ListLeadsFilter narrows a tenant's lead listing.
type ListLeadsFilter struct {
	Status   Status
	Priority Priority
	Limit    int
	Offset   int
}

func (f ListLeadsFilter) matches(l *Lead) bool {
	if f.Status != "" && l.Status != f.Status {
		return false
	}
	if f.Priority != "" && l.Priority != f.Priority {
		return false
	}
	return true
}
