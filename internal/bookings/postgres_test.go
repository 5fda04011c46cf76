package bookings

import (
	"context"
	"testing"

	"github.com/jackc/pgx/v5"
	pgxmock "github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolfman30/medmitra-kiosk/internal/resource"
	"github.com/wolfman30/medmitra-kiosk/internal/slots"
)

func anyArgs(n int) []any {
	args := make([]any, n)
	for i := range args {
		args[i] = pgxmock.AnyArg()
	}
	return args
}

func TestPGReserveCommitsLocksAppointmentsAndOutbox(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	res, appts := testReservation(t, "11:00", "11:15")

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO slot_locks").
		WithArgs("doctor#1", "2025-03-04#11:00", "pat-123456", "appt-01", pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec("INSERT INTO slot_locks").
		WithArgs("doctor#1", "2025-03-04#11:15", "pat-123456", "appt-02", pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec("INSERT INTO appointments").WithArgs(anyArgs(13)...).WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec("INSERT INTO appointments").WithArgs(anyArgs(13)...).WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec("INSERT INTO outbox").WithArgs(anyArgs(4)...).WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	require.NoError(t, NewPGStore(mock).Reserve(context.Background(), res, appts))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPGReserveRollsBackOnConflict(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	res, appts := testReservation(t, "11:00", "11:15", "11:30")

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO slot_locks").WithArgs(anyArgs(5)...).WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec("INSERT INTO slot_locks").WithArgs(anyArgs(5)...).WillReturnResult(pgxmock.NewResult("INSERT", 0))
	mock.ExpectExec("INSERT INTO slot_locks").WithArgs(anyArgs(5)...).WillReturnResult(pgxmock.NewResult("INSERT", 0))
	mock.ExpectRollback()

	err = NewPGStore(mock).Reserve(context.Background(), res, appts)
	var conflict *ConflictError
	require.ErrorAs(t, err, &conflict)
	assert.Equal(t, []string{"11:15", "11:30"}, slots.Strings(conflict.Slots))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPGBookedSlots(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	rows := pgxmock.NewRows([]string{"slot_key"}).
		AddRow("2025-03-04#11:15").
		AddRow("2025-03-04#09:30")
	mock.ExpectQuery("SELECT slot_key FROM slot_locks").
		WithArgs("doctor#1", "2025-03-04#%").
		WillReturnRows(rows)

	booked, err := NewPGStore(mock).BookedSlots(context.Background(), resource.Doctor("1"), slots.NewDate(2025, 3, 4))
	require.NoError(t, err)
	assert.Equal(t, []string{"09:30", "11:15"}, slots.Strings(booked))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPGGetNotFound(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectQuery("SELECT").WithArgs("pat-123456", "appt-01").WillReturnError(pgx.ErrNoRows)

	_, err = NewPGStore(mock).Get(context.Background(), "pat-123456", "appt-01")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestPGAttachKioskNotFound(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT kiosk FROM appointments").WithArgs("pat-123456", "appt-01").WillReturnError(pgx.ErrNoRows)
	mock.ExpectRollback()

	_, err = NewPGStore(mock).AttachKiosk(context.Background(), "pat-123456", "appt-01", map[string]any{"bp": "120/80"}, testNow)
	assert.ErrorIs(t, err, ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPGListRejectsBadCursor(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	_, err = NewPGStore(mock).ListForPatient(context.Background(), "pat-123456", 10, "%%%")
	assert.ErrorIs(t, err, ErrInvalidRequest)
}

func TestNewPGStorePanicsWithoutDB(t *testing.T) {
	assert.Panics(t, func() { NewPGStore(nil) })
}
