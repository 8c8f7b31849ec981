package appointments

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/wolfman30/missedcall-booking/internal/calendar"
)

// BookingHook applies the lead and conversation side of a booking for
// stores that cannot join a database transaction. A hook error aborts the
// booking.
type BookingHook func(ctx context.Context, req BookingRequest, appt Appointment) error

// MemoryBooker is an in-process Booker with the same contract as the
// Postgres one; the mutex plays the role of the serializable transaction.
type MemoryBooker struct {
	mu    sync.Mutex
	slots map[string]Appointment
	hooks []BookingHook
	now   func() time.Time
}

// NewMemoryBooker builds an empty calendar.
func NewMemoryBooker(hooks ...BookingHook) *MemoryBooker {
	return &MemoryBooker{
		slots: make(map[string]Appointment),
		hooks: hooks,
		now:   func() time.Time { return time.Now().UTC() },
	}
}

// AddHook registers another side effect to run inside Book.
func (m *MemoryBooker) AddHook(hook BookingHook) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.hooks = append(m.hooks, hook)
}

func (m *MemoryBooker) Book(ctx context.Context, req BookingRequest) (Result, error) {
	if err := req.Validate(); err != nil {
		return Result{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	key := slotKey(req.TenantID, req.Date(), req.StartTime())
	if _, taken := m.slots[key]; taken {
		return Result{Outcome: OutcomeConflict}, nil
	}

	appt := Appointment{
		ID:              uuid.New().String(),
		TenantID:        req.TenantID,
		PatientPhone:    req.PatientPhone,
		PatientName:     req.PatientName,
		Date:            req.Date(),
		StartTime:       req.StartTime(),
		DurationMinutes: req.duration(),
		Status:          StatusScheduled,
		LeadID:          req.LeadID,
		ConversationID:  req.ConversationID,
		StartsAt:        req.Slot,
		CreatedAt:       m.now(),
	}
	for _, hook := range m.hooks {
		if err := hook(ctx, req, appt); err != nil {
			return Result{}, fmt.Errorf("appointments: apply booking: %w", err)
		}
	}
	m.slots[key] = appt
	return Result{Outcome: OutcomeBooked, Appointment: &appt}, nil
}

func (m *MemoryBooker) BookedSlots(_ context.Context, tenantID string, from, to time.Time) (calendar.BookedSet, error) {
	fromDate, toDate := from.Format(dateLayout), to.Format(dateLayout)

	m.mu.Lock()
	defer m.mu.Unlock()

	booked := calendar.NewBookedSet()
	for _, appt := range m.slots {
		if appt.TenantID != tenantID || appt.Status == StatusCancelled {
			continue
		}
		if appt.Date < fromDate || appt.Date > toDate {
			continue
		}
		booked.AddKey(appt.Date, appt.StartTime)
	}
	return booked, nil
}

// Appointments returns a snapshot of every stored appointment for a tenant.
func (m *MemoryBooker) Appointments(tenantID string) []Appointment {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []Appointment
	for _, appt := range m.slots {
		if appt.TenantID == tenantID {
			out = append(out, appt)
		}
	}
	return out
}

func slotKey(tenantID, date, clock string) string {
	return tenantID + "|" + date + " " + clock
}
