package appointments

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/wolfman30/missedcall-booking/internal/calendar"
	"github.com/wolfman30/missedcall-booking/pkg/logging"
)

var appointmentsTracer = otel.Tracer("missedcall.internal.appointments")

// SQLSTATEs that mean another transaction won the slot.
const (
	sqlStateSerializationFailure = "40001"
	sqlStateDeadlockDetected     = "40P01"
	sqlStateUniqueViolation      = "23505"
)

// PgxPool is the subset of pgxpool.Pool used by the booker.
type PgxPool interface {
	BeginTx(ctx context.Context, txOptions pgx.TxOptions) (pgx.Tx, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// PostgresBooker runs the booking transaction against Postgres.
type PostgresBooker struct {
	pool   PgxPool
	logger *logging.Logger
}

// NewPostgresBooker wires the booker to a pgx pool.
func NewPostgresBooker(pool PgxPool, logger *logging.Logger) *PostgresBooker {
	if pool == nil {
		panic("appointments: pgx pool required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &PostgresBooker{pool: pool, logger: logger}
}

// Book atomically claims the slot and finalizes the lead and conversation.
// Losing a race is reported as a Conflict result, not an error.
func (b *PostgresBooker) Book(ctx context.Context, req BookingRequest) (Result, error) {
	if err := req.Validate(); err != nil {
		return Result{}, err
	}
	ctx, span := appointmentsTracer.Start(ctx, "appointments.book")
	defer span.End()
	span.SetAttributes(
		attribute.String("booking.tenant_id", req.TenantID),
		attribute.String("booking.conversation_id", req.ConversationID),
		attribute.String("booking.slot", calendar.Key(req.Slot)),
	)

	res, err := b.book(ctx, req)
	if err != nil {
		if isSlotConflict(err) {
			b.logger.Info("slot lost to concurrent booking", "tenant_id", req.TenantID, "conversation_id", req.ConversationID, "slot", calendar.Key(req.Slot))
			span.SetAttributes(attribute.String("booking.outcome", OutcomeConflict.String()))
			return Result{Outcome: OutcomeConflict}, nil
		}
		span.RecordError(err)
		return Result{}, err
	}
	span.SetAttributes(attribute.String("booking.outcome", res.Outcome.String()))
	if res.Booked() {
		b.logger.Info("appointment booked", "tenant_id", req.TenantID, "conversation_id", req.ConversationID, "appointment_id", res.Appointment.ID)
	}
	return res, nil
}

func (b *PostgresBooker) book(ctx context.Context, req BookingRequest) (Result, error) {
	tx, err := b.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.Serializable})
	if err != nil {
		return Result{}, fmt.Errorf("appointments: begin tx: %w", err)
	}

	var holder string
	err = tx.QueryRow(ctx, `
		SELECT id FROM appointments
		WHERE tenant_id = $1 AND appt_date = $2::date AND start_time = $3::time
			AND status <> 'cancelled'
		FOR UPDATE
	`, req.TenantID, req.Date(), req.StartTime()).Scan(&holder)
	switch {
	case err == nil:
		_ = tx.Rollback(ctx)
		return Result{Outcome: OutcomeConflict}, nil
	case !errors.Is(err, pgx.ErrNoRows):
		_ = tx.Rollback(ctx)
		return Result{}, fmt.Errorf("appointments: lock slot: %w", err)
	}

	appt := &Appointment{
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
	}
	err = tx.QueryRow(ctx, `
		INSERT INTO appointments (id, tenant_id, patient_phone, patient_name, appt_date, start_time,
			duration_minutes, status, lead_id, conversation_id, starts_at)
		VALUES ($1, $2, $3, $4, $5::date, $6::time, $7, $8, $9, $10, $11)
		RETURNING created_at
	`, appt.ID, appt.TenantID, appt.PatientPhone, appt.PatientName, appt.Date, appt.StartTime,
		appt.DurationMinutes, string(appt.Status), nullable(appt.LeadID), appt.ConversationID, appt.StartsAt,
	).Scan(&appt.CreatedAt)
	if err != nil {
		_ = tx.Rollback(ctx)
		return Result{}, fmt.Errorf("appointments: insert: %w", err)
	}

	if req.LeadID != "" {
		if _, err := tx.Exec(ctx, `
			UPDATE leads
			SET status = 'booked', appointment_booked = TRUE, appointment_at = $3, updated_at = now()
			WHERE id = $1 AND tenant_id = $2
		`, req.LeadID, req.TenantID, req.Slot.UTC()); err != nil {
			_ = tx.Rollback(ctx)
			return Result{}, fmt.Errorf("appointments: update lead: %w", err)
		}
	}

	tag, err := tx.Exec(ctx, `
		UPDATE conversations
		SET status = $3, state_payload = $4, ended_at = now(), last_activity_at = now()
		WHERE id = $1 AND tenant_id = $2
	`, req.ConversationID, req.TenantID, req.FinalStatus, []byte(req.FinalState))
	if err != nil {
		_ = tx.Rollback(ctx)
		return Result{}, fmt.Errorf("appointments: update conversation: %w", err)
	}
	if tag.RowsAffected() == 0 {
		_ = tx.Rollback(ctx)
		return Result{}, fmt.Errorf("appointments: update conversation: %s not found", req.ConversationID)
	}

	if err := tx.Commit(ctx); err != nil {
		return Result{}, fmt.Errorf("appointments: commit: %w", err)
	}
	return Result{Outcome: OutcomeBooked, Appointment: appt}, nil
}

// BookedSlots returns the tenant's non-cancelled slots between from and to,
// inclusive by calendar date.
func (b *PostgresBooker) BookedSlots(ctx context.Context, tenantID string, from, to time.Time) (calendar.BookedSet, error) {
	rows, err := b.pool.Query(ctx, `
		SELECT to_char(appt_date, 'YYYY-MM-DD'), to_char(start_time, 'HH24:MI')
		FROM appointments
		WHERE tenant_id = $1 AND status <> 'cancelled'
			AND appt_date BETWEEN $2::date AND $3::date
	`, tenantID, from.Format(dateLayout), to.Format(dateLayout))
	if err != nil {
		return nil, fmt.Errorf("appointments: booked slots: %w", err)
	}
	defer rows.Close()

	booked := calendar.NewBookedSet()
	for rows.Next() {
		var date, clock string
		if err := rows.Scan(&date, &clock); err != nil {
			return nil, fmt.Errorf("appointments: scan booked slot: %w", err)
		}
		booked.AddKey(date, clock)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("appointments: booked slots: %w", err)
	}
	return booked, nil
}

func isSlotConflict(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	switch pgErr.Code {
	case sqlStateSerializationFailure, sqlStateDeadlockDetected, sqlStateUniqueViolation:
		return true
	}
	return false
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
