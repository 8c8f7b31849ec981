package appointments

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	pgx "github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	pgxmock "github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var wedNine = time.Date(2025, 12, 10, 9, 0, 0, 0, time.UTC)

func bookingRequest() BookingRequest {
	return BookingRequest{
		TenantID:        "clinic-a",
		ConversationID:  "conv-1",
		LeadID:          "lead-1",
		PatientPhone:    "+15550000001",
		Slot:            wedNine,
		DurationMinutes: 30,
		FinalStatus:     "appointment_booked",
		FinalState:      json.RawMessage(`{"offered_slots":["2025-12-10T09:00:00Z"],"page_offset":0,"intent":"book"}`),
	}
}

func expectSlotLookup(mock pgxmock.PgxPoolIface) *pgxmock.ExpectedQuery {
	mock.ExpectBeginTx(pgx.TxOptions{IsoLevel: pgx.Serializable})
	return mock.ExpectQuery("SELECT id FROM appointments").WithArgs("clinic-a", "2025-12-10", "09:00")
}

func TestPostgresBookerBooksFreeSlot(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	booker := NewPostgresBooker(mock, nil)
	req := bookingRequest()
	created := time.Now().UTC()

	expectSlotLookup(mock).WillReturnError(pgx.ErrNoRows)
	mock.ExpectQuery("INSERT INTO appointments").
		WithArgs(pgxmock.AnyArg(), "clinic-a", "+15550000001", "", "2025-12-10", "09:00", 30, "scheduled", pgxmock.AnyArg(), "conv-1", wedNine).
		WillReturnRows(pgxmock.NewRows([]string{"created_at"}).AddRow(created))
	mock.ExpectExec("UPDATE leads").
		WithArgs("lead-1", "clinic-a", wedNine).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec("UPDATE conversations").
		WithArgs("conv-1", "clinic-a", "appointment_booked", []byte(req.FinalState)).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectCommit()

	res, err := booker.Book(context.Background(), req)
	require.NoError(t, err)
	require.True(t, res.Booked())
	assert.Equal(t, "2025-12-10", res.Appointment.Date)
	assert.Equal(t, "09:00", res.Appointment.StartTime)
	assert.Equal(t, StatusScheduled, res.Appointment.Status)
	assert.Equal(t, created, res.Appointment.CreatedAt)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresBookerExistingAppointmentIsConflict(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	booker := NewPostgresBooker(mock, nil)
	expectSlotLookup(mock).WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow("appt-other"))
	mock.ExpectRollback()

	res, err := booker.Book(context.Background(), bookingRequest())
	require.NoError(t, err)
	assert.Equal(t, OutcomeConflict, res.Outcome)
	assert.Nil(t, res.Appointment)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresBookerSerializationFailureIsConflict(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	booker := NewPostgresBooker(mock, nil)
	expectSlotLookup(mock).WillReturnError(pgx.ErrNoRows)
	mock.ExpectQuery("INSERT INTO appointments").WillReturnRows(pgxmock.NewRows([]string{"created_at"}).AddRow(time.Now()))
	mock.ExpectExec("UPDATE leads").WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec("UPDATE conversations").WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectCommit().WillReturnError(&pgconn.PgError{Code: "40001", Message: "could not serialize access"})

	res, err := booker.Book(context.Background(), bookingRequest())
	require.NoError(t, err)
	assert.Equal(t, OutcomeConflict, res.Outcome)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresBookerUniqueViolationIsConflict(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	booker := NewPostgresBooker(mock, nil)
	expectSlotLookup(mock).WillReturnError(pgx.ErrNoRows)
	mock.ExpectQuery("INSERT INTO appointments").WillReturnError(&pgconn.PgError{Code: "23505", ConstraintName: "appointments_open_slot_idx"})
	mock.ExpectRollback()

	res, err := booker.Book(context.Background(), bookingRequest())
	require.NoError(t, err)
	assert.Equal(t, OutcomeConflict, res.Outcome)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresBookerStorageFailureIsError(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	booker := NewPostgresBooker(mock, nil)
	expectSlotLookup(mock).WillReturnError(pgx.ErrNoRows)
	mock.ExpectQuery("INSERT INTO appointments").WillReturnRows(pgxmock.NewRows([]string{"created_at"}).AddRow(time.Now()))
	mock.ExpectExec("UPDATE leads").WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec("UPDATE conversations").WillReturnError(errors.New("connection reset by peer"))
	mock.ExpectRollback()

	_, err = booker.Book(context.Background(), bookingRequest())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "appointments: update conversation")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresBookerMissingConversationIsError(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	booker := NewPostgresBooker(mock, nil)
	req := bookingRequest()
	req.LeadID = ""
	expectSlotLookup(mock).WillReturnError(pgx.ErrNoRows)
	mock.ExpectQuery("INSERT INTO appointments").WillReturnRows(pgxmock.NewRows([]string{"created_at"}).AddRow(time.Now()))
	mock.ExpectExec("UPDATE conversations").WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	mock.ExpectRollback()

	_, err = booker.Book(context.Background(), req)
	require.Error(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresBookerValidatesBeforeBegin(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	booker := NewPostgresBooker(mock, nil)
	req := bookingRequest()
	req.Slot = time.Time{}

	_, err = booker.Book(context.Background(), req)
	assert.ErrorIs(t, err, ErrInvalidSlot)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresBookerBookedSlots(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	booker := NewPostgresBooker(mock, nil)
	mock.ExpectQuery("SELECT to_char").
		WithArgs("clinic-a", "2025-12-08", "2025-12-22").
		WillReturnRows(pgxmock.NewRows([]string{"date", "start"}).
			AddRow("2025-12-10", "09:00").
			AddRow("2025-12-11", "14:30"))

	booked, err := booker.BookedSlots(context.Background(), "clinic-a", time.Date(2025, 12, 8, 0, 0, 0, 0, time.UTC), time.Date(2025, 12, 22, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.True(t, booked.Has(wedNine))
	assert.True(t, booked.Has(time.Date(2025, 12, 11, 14, 30, 0, 0, time.UTC)))
	assert.False(t, booked.Has(time.Date(2025, 12, 10, 9, 30, 0, 0, time.UTC)))
	require.NoError(t, mock.ExpectationsWereMet())
}
