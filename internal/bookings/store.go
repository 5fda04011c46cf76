package bookings

import (
	"context"
	"time"

	"github.com/wolfman30/medmitra-kiosk/internal/resource"
	"github.com/wolfman30/medmitra-kiosk/internal/slots"
)

const (
	DefaultListLimit = 100
	MaxListLimit     = 500
)

// Store persists slot locks and appointments.
type Store interface {
	// BookedSlots returns the held slots of a resource on a date, sorted.
	BookedSlots(ctx context.Context, ref resource.Ref, date slots.Date) ([]slots.TimeSlot, error)
	// Reserve writes every appointment and its slot lock or none of them.
	// A lost race returns *ConflictError naming the held slots.
	Reserve(ctx context.Context, res Reservation, appts []*Appointment) error
	ListForPatient(ctx context.Context, patientID string, limit int, cursor string) (Page, error)
	Get(ctx context.Context, patientID, appointmentID string) (*Appointment, error)
	// AttachKiosk merges kiosk data into an existing appointment.
	AttachKiosk(ctx context.Context, patientID, appointmentID string, kiosk map[string]any, now time.Time) (*Appointment, error)
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return DefaultListLimit
	}
	if limit > MaxListLimit {
		return MaxListLimit
	}
	return limit
}
