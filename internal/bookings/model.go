// Package bookings is the authoritative walk-in booking backend: it answers
// availability queries and reserves N consecutive slots for a party in one
// all-or-nothing write.
package bookings

import (
	"encoding/base64"
	"errors"
	"fmt"
	"maps"
	"sort"
	"strings"
	"time"

	"github.com/wolfman30/medmitra-kiosk/internal/resource"
	"github.com/wolfman30/medmitra-kiosk/internal/slots"
)

const (
	StatusBooked  = "BOOKED"
	DefaultSource = "kiosk"
)

var (
	// ErrInvalidRequest wraps every validation failure.
	ErrInvalidRequest = errors.New("bookings: invalid request")
	// ErrNotFound is returned when an appointment does not exist.
	ErrNotFound = errors.New("bookings: appointment not found")
	// ErrDuplicateRequest is returned while an identical request is in flight
	// or was just served.
	ErrDuplicateRequest = errors.New("bookings: duplicate booking request")
)

func invalidf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidRequest, fmt.Sprintf(format, args...))
}

// ConflictError names the requested slots that another booking already holds.
type ConflictError struct {
	Slots []slots.TimeSlot
}

func (e *ConflictError) Error() string {
	if len(e.Slots) == 0 {
		return "bookings: slots no longer available"
	}
	return "bookings: slots no longer available: " + strings.Join(slots.Strings(e.Slots), ", ")
}

// Contact is the patient's contact details as captured at the kiosk.
type Contact struct {
	Name  string `json:"name,omitempty" dynamodbav:"name,omitempty"`
	Phone string `json:"phone,omitempty" dynamodbav:"phone,omitempty"`
	Email string `json:"email,omitempty" dynamodbav:"email,omitempty"`
}

// Details is the visit metadata denormalized onto every appointment.
type Details struct {
	DateISO          string   `json:"dateISO" dynamodbav:"dateISO"`
	TimeSlot         string   `json:"timeSlot,omitempty" dynamodbav:"timeSlot,omitempty"`
	ClinicName       string   `json:"clinicName,omitempty" dynamodbav:"clinicName,omitempty"`
	Specialty        string   `json:"specialty,omitempty" dynamodbav:"specialty,omitempty"`
	DoctorID         string   `json:"doctorId,omitempty" dynamodbav:"doctorId,omitempty"`
	DoctorName       string   `json:"doctorName,omitempty" dynamodbav:"doctorName,omitempty"`
	ConsultationType string   `json:"consultationType,omitempty" dynamodbav:"consultationType,omitempty"`
	AppointmentType  string   `json:"appointmentType,omitempty" dynamodbav:"appointmentType,omitempty"`
	Symptoms         string   `json:"symptoms,omitempty" dynamodbav:"symptoms,omitempty"`
	Fee              string   `json:"fee,omitempty" dynamodbav:"fee,omitempty"`
	Languages        []string `json:"languages,omitempty" dynamodbav:"languages,omitempty"`
}

// BookRequest is the single request shape for booking one or more
// consecutive slots. A lone Details.TimeSlot with no TimeSlots means N=1.
type BookRequest struct {
	PatientID    string   `json:"patientId"`
	Contact      *Contact `json:"contact,omitempty"`
	Details      Details  `json:"appointment_details"`
	ResourceType string   `json:"resourceType,omitempty"`
	ResourceID   string   `json:"resourceId,omitempty"`
	TimeSlots    []string `json:"timeSlots,omitempty"`
	Source       string   `json:"source,omitempty"`
}

// Reservation is a parsed BookRequest.
type Reservation struct {
	PatientID string
	Resource  resource.Ref
	Date      slots.Date
	Slots     []slots.TimeSlot
	Contact   *Contact
	Details   Details
	Source    string
}

// Parse checks the request shape: identity, resource, date and slot syntax.
// Grid and clock checks happen in the service.
func (r BookRequest) Parse() (Reservation, error) {
	patientID := strings.TrimSpace(r.PatientID)
	if len(patientID) < 6 {
		return Reservation{}, invalidf("patientId must be at least 6 characters")
	}

	typ := r.ResourceType
	if strings.TrimSpace(typ) == "" {
		typ = string(resource.TypeDoctor)
	}
	id := r.ResourceID
	if strings.TrimSpace(id) == "" {
		id = r.Details.DoctorID
	}
	ref, err := resource.NewRef(typ, id)
	if err != nil {
		return Reservation{}, invalidf("resource: %v", err)
	}

	dateRaw := strings.TrimSpace(r.Details.DateISO)
	if strings.Contains(dateRaw, "T") {
		return Reservation{}, invalidf("dateISO must be 'YYYY-MM-DD'")
	}
	date, err := slots.ParseDate(dateRaw)
	if err != nil {
		return Reservation{}, invalidf("dateISO: %v", err)
	}

	raw := r.TimeSlots
	if len(raw) == 0 && strings.TrimSpace(r.Details.TimeSlot) != "" {
		raw = []string{r.Details.TimeSlot}
	}
	if len(raw) == 0 {
		return Reservation{}, invalidf("timeSlots must be a non-empty list")
	}
	parsed, err := slots.ParseAll(raw)
	if err != nil {
		return Reservation{}, invalidf("timeSlots: %v", err)
	}

	source := strings.TrimSpace(r.Source)
	if source == "" {
		source = DefaultSource
	}
	details := r.Details
	details.DateISO = date.String()
	details.TimeSlot = ""
	if ref.Type == resource.TypeDoctor && details.DoctorID == "" {
		details.DoctorID = ref.ID
	}

	return Reservation{
		PatientID: patientID,
		Resource:  ref,
		Date:      date,
		Slots:     parsed,
		Contact:   r.Contact,
		Details:   details,
		Source:    source,
	}, nil
}

// Appointment is the persisted record for one reserved slot.
type Appointment struct {
	PatientID     string         `json:"patientId" dynamodbav:"patientId"`
	AppointmentID string         `json:"appointmentId" dynamodbav:"appointmentId"`
	CreatedAt     string         `json:"createdAt" dynamodbav:"createdAt"`
	UpdatedAt     string         `json:"updatedAt,omitempty" dynamodbav:"updatedAt,omitempty"`
	RecordType    string         `json:"recordType" dynamodbav:"recordType"`
	Status        string         `json:"status" dynamodbav:"status"`
	Source        string         `json:"source" dynamodbav:"source"`
	ResourceKey   string         `json:"resourceKey" dynamodbav:"resourceKey"`
	DoctorID      string         `json:"doctorId,omitempty" dynamodbav:"doctorId,omitempty"`
	DateKey       string         `json:"dateKey" dynamodbav:"dateKey"`
	TimeSlot      string         `json:"timeSlot" dynamodbav:"timeSlot"`
	Contact       *Contact       `json:"contact,omitempty" dynamodbav:"contact,omitempty"`
	Details       Details        `json:"appointment_details" dynamodbav:"appointment_details"`
	Kiosk         map[string]any `json:"kiosk,omitempty" dynamodbav:"kiosk,omitempty"`
	S3Key         string         `json:"s3Key,omitempty" dynamodbav:"s3Key,omitempty"`
}

// SlotKey is the sort key of a slot lock, e.g. "2025-03-04#11:15".
func SlotKey(date slots.Date, ts slots.TimeSlot) string {
	return date.String() + "#" + ts.String()
}

// slotFromKey extracts the time part of a slot key.
func slotFromKey(key string) (slots.TimeSlot, error) {
	_, raw, ok := strings.Cut(key, "#")
	if !ok {
		return slots.TimeSlot{}, fmt.Errorf("bookings: malformed slot key %q", key)
	}
	return slots.Parse(raw)
}

// Appointments expands a reservation into one appointment per slot, all
// sharing createdAt.
func (r Reservation) Appointments(createdAt time.Time, newID func() string) []*Appointment {
	stamp := createdAt.UTC().Format(time.RFC3339)
	out := make([]*Appointment, 0, len(r.Slots))
	for _, ts := range r.Slots {
		details := r.Details
		details.TimeSlot = ts.String()
		appt := &Appointment{
			PatientID:     r.PatientID,
			AppointmentID: newID(),
			CreatedAt:     stamp,
			RecordType:    string(r.Resource.Type),
			Status:        StatusBooked,
			Source:        r.Source,
			ResourceKey:   r.Resource.Key(),
			DateKey:       SlotKey(r.Date, ts),
			TimeSlot:      ts.String(),
			Contact:       r.Contact,
			Details:       details,
		}
		if r.Resource.Type == resource.TypeDoctor {
			appt.DoctorID = r.Resource.ID
		}
		out = append(out, appt)
	}
	return out
}

// BookedSlot is one entry of a booking response.
type BookedSlot struct {
	PatientID     string         `json:"patientId"`
	AppointmentID string         `json:"appointmentId"`
	CreatedAt     string         `json:"createdAt"`
	TimeSlot      slots.TimeSlot `json:"timeSlot"`
	S3Key         string         `json:"s3Key,omitempty"`
}

// BookResult is the response to a successful booking. The top-level ids
// repeat the first appointment so single-slot callers need not index.
type BookResult struct {
	PatientID     string       `json:"patientId"`
	AppointmentID string       `json:"appointmentId"`
	CreatedAt     string       `json:"createdAt"`
	RecordType    string       `json:"recordType"`
	ResourceKey   string       `json:"resourceKey"`
	Date          slots.Date   `json:"date"`
	Appointments  []BookedSlot `json:"appointments"`
}

func newBookResult(res Reservation, appts []*Appointment) *BookResult {
	out := &BookResult{
		PatientID:   res.PatientID,
		RecordType:  string(res.Resource.Type),
		ResourceKey: res.Resource.Key(),
		Date:        res.Date,
	}
	for i, a := range appts {
		out.Appointments = append(out.Appointments, BookedSlot{
			PatientID:     a.PatientID,
			AppointmentID: a.AppointmentID,
			CreatedAt:     a.CreatedAt,
			TimeSlot:      res.Slots[i],
			S3Key:         a.S3Key,
		})
	}
	if len(appts) > 0 {
		out.AppointmentID = appts[0].AppointmentID
		out.CreatedAt = appts[0].CreatedAt
	}
	return out
}

// Availability is the booked subset of a resource's day.
type Availability struct {
	ResourceKey string           `json:"resourceKey"`
	Date        slots.Date       `json:"date"`
	Booked      []slots.TimeSlot `json:"booked"`
}

// Page is one page of a patient's appointments, newest first.
type Page struct {
	Items  []Appointment `json:"items"`
	Cursor string        `json:"cursor,omitempty"`
}

// encodeCursor and decodeCursor keep the last appointment id opaque to callers.
func encodeCursor(appointmentID string) string {
	if appointmentID == "" {
		return ""
	}
	return base64.RawURLEncoding.EncodeToString([]byte(appointmentID))
}

func decodeCursor(cursor string) (string, error) {
	if cursor == "" {
		return "", nil
	}
	raw, err := base64.RawURLEncoding.DecodeString(cursor)
	if err != nil || len(raw) == 0 {
		return "", invalidf("malformed cursor")
	}
	return string(raw), nil
}

// MergeKiosk shallow-merges in over existing. It stamps updatedAt, keeps the
// first createdAt and defaults source to "kiosk".
func MergeKiosk(existing, in map[string]any, now time.Time) map[string]any {
	stamp := now.UTC().Format(time.RFC3339)
	incoming := maps.Clone(in)
	if incoming == nil {
		incoming = map[string]any{}
	}
	if _, ok := incoming["source"]; !ok {
		incoming["source"] = DefaultSource
	}
	incoming["updatedAt"] = stamp
	if _, ok := existing["createdAt"]; !ok {
		if _, ok := incoming["createdAt"]; !ok {
			incoming["createdAt"] = stamp
		}
	}

	out := make(map[string]any, len(existing)+len(incoming))
	maps.Copy(out, existing)
	maps.Copy(out, incoming)
	return out
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
