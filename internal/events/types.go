package events

import "time"

// BookedSlotV1 is one appointment inside an AppointmentsBookedV1 event.
type BookedSlotV1 struct {
	AppointmentID string `json:"appointment_id"`
	TimeSlot      string `json:"time_slot"`
}

// AppointmentsBookedV1 is emitted once per successful booking request,
// carrying every slot reserved for the party.
type AppointmentsBookedV1 struct {
	PatientID   string         `json:"patient_id"`
	ResourceKey string         `json:"resource_key"`
	Date        string         `json:"date"`
	Source      string         `json:"source"`
	PartySize   int            `json:"party_size"`
	Slots       []BookedSlotV1 `json:"slots"`
	BookedAt    time.Time      `json:"booked_at"`
}

func (AppointmentsBookedV1) EventType() string { return "appointments.booked.v1" }

func (e AppointmentsBookedV1) Subject() (string, string) { return e.PatientID, e.ResourceKey }

// KioskDataAttachedV1 is emitted when kiosk details are merged into an appointment.
type KioskDataAttachedV1 struct {
	PatientID     string    `json:"patient_id"`
	AppointmentID string    `json:"appointment_id"`
	ResourceKey   string    `json:"resource_key,omitempty"`
	Keys          []string  `json:"keys"`
	AttachedAt    time.Time `json:"attached_at"`
}

func (KioskDataAttachedV1) EventType() string { return "appointments.kiosk_attached.v1" }

func (e KioskDataAttachedV1) Subject() (string, string) { return e.PatientID, e.ResourceKey }
