package bookings

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5"

	"github.com/wolfman30/medmitra-kiosk/internal/events"
	"github.com/wolfman30/medmitra-kiosk/internal/resource"
	"github.com/wolfman30/medmitra-kiosk/internal/slots"
)

type pgxDB interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

const appointmentColumns = `patient_id, appointment_id, created_at, updated_at, record_type, status, source,
	resource_key, doctor_id, date_key, time_slot, contact, details, kiosk, s3_key`

// PGStore keeps slot locks and appointments in Postgres. Booking events are
// appended to the outbox inside the reserving transaction.
type PGStore struct {
	db pgxDB
}

var _ Store = (*PGStore)(nil)

// NewPGStore builds a Postgres-backed Store.
func NewPGStore(db pgxDB) *PGStore {
	if db == nil {
		panic("bookings: pgx pool cannot be nil")
	}
	return &PGStore{db: db}
}

func (s *PGStore) BookedSlots(ctx context.Context, ref resource.Ref, date slots.Date) ([]slots.TimeSlot, error) {
	rows, err := s.db.Query(ctx, `
		SELECT slot_key FROM slot_locks
		WHERE resource_key = $1 AND slot_key LIKE $2
		ORDER BY slot_key
	`, ref.Key(), date.String()+"#%")
	if err != nil {
		return nil, fmt.Errorf("bookings: failed to query slots: %w", err)
	}
	defer rows.Close()

	var out []slots.TimeSlot
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, fmt.Errorf("bookings: scan slot lock: %w", err)
		}
		ts, err := slotFromKey(key)
		if err != nil {
			continue
		}
		out = append(out, ts)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("bookings: iterate slot locks: %w", err)
	}
	return slots.NewSet(out...).Sorted(), nil
}

func (s *PGStore) Reserve(ctx context.Context, res Reservation, appts []*Appointment) error {
	if len(appts) == 0 {
		return errors.New("bookings: no appointments to reserve")
	}
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("bookings: begin reserve: %w", err)
	}

	conflict := &ConflictError{}
	for i, appt := range appts {
		createdAt, err := time.Parse(time.RFC3339, appt.CreatedAt)
		if err != nil {
			_ = tx.Rollback(ctx)
			return fmt.Errorf("bookings: invalid createdAt %q: %w", appt.CreatedAt, err)
		}
		tag, err := tx.Exec(ctx, `
			INSERT INTO slot_locks (resource_key, slot_key, patient_id, appointment_id, created_at)
			VALUES ($1, $2, $3, $4, $5)
			ON CONFLICT (resource_key, slot_key) DO NOTHING
		`, appt.ResourceKey, appt.DateKey, appt.PatientID, appt.AppointmentID, createdAt)
		if err != nil {
			_ = tx.Rollback(ctx)
			return fmt.Errorf("bookings: lock slot %s: %w", appt.DateKey, err)
		}
		if tag.RowsAffected() == 0 {
			conflict.Slots = append(conflict.Slots, res.Slots[i])
		}
	}
	if len(conflict.Slots) > 0 {
		_ = tx.Rollback(ctx)
		return conflict
	}

	for _, appt := range appts {
		if err := insertAppointment(ctx, tx, appt); err != nil {
			_ = tx.Rollback(ctx)
			return err
		}
	}

	evt := newBookedEvent(res, appts)
	if _, err := events.AppendCanonicalEvent(ctx, tx, events.PatientAggregate(res.PatientID), middleware.GetReqID(ctx), evt); err != nil {
		_ = tx.Rollback(ctx)
		return fmt.Errorf("bookings: append booked event: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("bookings: commit reserve: %w", err)
	}
	return nil
}

func insertAppointment(ctx context.Context, tx pgx.Tx, appt *Appointment) error {
	createdAt, err := time.Parse(time.RFC3339, appt.CreatedAt)
	if err != nil {
		return fmt.Errorf("bookings: invalid createdAt %q: %w", appt.CreatedAt, err)
	}
	contactJSON, err := marshalJSON(appt.Contact)
	if err != nil {
		return err
	}
	detailsJSON, err := json.Marshal(appt.Details)
	if err != nil {
		return fmt.Errorf("bookings: marshal details: %w", err)
	}
	if _, err := tx.Exec(ctx, `
		INSERT INTO appointments (
			patient_id, appointment_id, created_at, record_type, status, source,
			resource_key, doctor_id, date_key, time_slot, contact, details, s3_key
		)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
	`, appt.PatientID, appt.AppointmentID, createdAt, appt.RecordType, appt.Status, appt.Source,
		appt.ResourceKey, appt.DoctorID, appt.DateKey, appt.TimeSlot, contactJSON, detailsJSON, appt.S3Key); err != nil {
		return fmt.Errorf("bookings: insert appointment: %w", err)
	}
	return nil
}

func (s *PGStore) ListForPatient(ctx context.Context, patientID string, limit int, cursor string) (Page, error) {
	after, err := decodeCursor(cursor)
	if err != nil {
		return Page{}, err
	}
	limit = clampLimit(limit)
	rows, err := s.db.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE patient_id = $1 AND ($2 = '' OR appointment_id < $2)
		ORDER BY appointment_id DESC
		LIMIT $3
	`, patientID, after, limit)
	if err != nil {
		return Page{}, fmt.Errorf("bookings: failed to list appointments: %w", err)
	}
	defer rows.Close()

	page := Page{Items: []Appointment{}}
	for rows.Next() {
		appt, err := scanAppointment(rows)
		if err != nil {
			return Page{}, err
		}
		page.Items = append(page.Items, *appt)
	}
	if err := rows.Err(); err != nil {
		return Page{}, fmt.Errorf("bookings: iterate appointments: %w", err)
	}
	if len(page.Items) == limit {
		page.Cursor = encodeCursor(page.Items[len(page.Items)-1].AppointmentID)
	}
	return page, nil
}

func (s *PGStore) Get(ctx context.Context, patientID, appointmentID string) (*Appointment, error) {
	row := s.db.QueryRow(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE patient_id = $1 AND appointment_id = $2
	`, patientID, appointmentID)
	appt, err := scanAppointment(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return appt, err
}

func (s *PGStore) AttachKiosk(ctx context.Context, patientID, appointmentID string, kiosk map[string]any, now time.Time) (*Appointment, error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("bookings: begin attach: %w", err)
	}

	var currentJSON []byte
	err = tx.QueryRow(ctx, `
		SELECT kiosk FROM appointments
		WHERE patient_id = $1 AND appointment_id = $2
		FOR UPDATE
	`, patientID, appointmentID).Scan(&currentJSON)
	if errors.Is(err, pgx.ErrNoRows) {
		_ = tx.Rollback(ctx)
		return nil, ErrNotFound
	}
	if err != nil {
		_ = tx.Rollback(ctx)
		return nil, fmt.Errorf("bookings: load kiosk data: %w", err)
	}
	var current map[string]any
	if len(currentJSON) > 0 {
		if err := json.Unmarshal(currentJSON, &current); err != nil {
			_ = tx.Rollback(ctx)
			return nil, fmt.Errorf("bookings: decode kiosk data: %w", err)
		}
	}

	merged := MergeKiosk(current, kiosk, now)
	mergedJSON, err := json.Marshal(merged)
	if err != nil {
		_ = tx.Rollback(ctx)
		return nil, fmt.Errorf("bookings: marshal kiosk data: %w", err)
	}
	row := tx.QueryRow(ctx, `
		UPDATE appointments
		SET kiosk = $3, updated_at = $4
		WHERE patient_id = $1 AND appointment_id = $2
		RETURNING `+appointmentColumns,
		patientID, appointmentID, mergedJSON, now.UTC())
	appt, err := scanAppointment(row)
	if err != nil {
		_ = tx.Rollback(ctx)
		return nil, err
	}

	evt := events.KioskDataAttachedV1{
		PatientID:     patientID,
		AppointmentID: appointmentID,
		ResourceKey:   appt.ResourceKey,
		Keys:          sortedKeys(kiosk),
		AttachedAt:    now.UTC(),
	}
	if _, err := events.AppendCanonicalEvent(ctx, tx, events.PatientAggregate(patientID), middleware.GetReqID(ctx), evt); err != nil {
		_ = tx.Rollback(ctx)
		return nil, fmt.Errorf("bookings: append kiosk event: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("bookings: commit attach: %w", err)
	}
	return appt, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanAppointment(row scanner) (*Appointment, error) {
	var (
		appt                     Appointment
		createdAt                time.Time
		updatedAt                *time.Time
		contactJSON, detailsJSON []byte
		kioskJSON                []byte
	)
	if err := row.Scan(
		&appt.PatientID, &appt.AppointmentID, &createdAt, &updatedAt, &appt.RecordType, &appt.Status, &appt.Source,
		&appt.ResourceKey, &appt.DoctorID, &appt.DateKey, &appt.TimeSlot, &contactJSON, &detailsJSON, &kioskJSON, &appt.S3Key,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("bookings: scan appointment: %w", err)
	}
	appt.CreatedAt = createdAt.UTC().Format(time.RFC3339)
	if updatedAt != nil {
		appt.UpdatedAt = updatedAt.UTC().Format(time.RFC3339)
	}
	if len(contactJSON) > 0 && string(contactJSON) != "null" {
		appt.Contact = &Contact{}
		if err := json.Unmarshal(contactJSON, appt.Contact); err != nil {
			return nil, fmt.Errorf("bookings: decode contact: %w", err)
		}
	}
	if len(detailsJSON) > 0 {
		if err := json.Unmarshal(detailsJSON, &appt.Details); err != nil {
			return nil, fmt.Errorf("bookings: decode details: %w", err)
		}
	}
	if len(kioskJSON) > 0 && string(kioskJSON) != "null" {
		if err := json.Unmarshal(kioskJSON, &appt.Kiosk); err != nil {
			return nil, fmt.Errorf("bookings: decode kiosk data: %w", err)
		}
	}
	return &appt, nil
}

func marshalJSON(v any) ([]byte, error) {
	if v == nil {
		return nil, nil
	}
	if c, ok := v.(*Contact); ok && c == nil {
		return nil, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("bookings: marshal json: %w", err)
	}
	return data, nil
}
