package events

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
)

type stubExec struct {
	args []any
}

type badEvent struct{}

func (badEvent) EventType() string { return "" }

func (s *stubExec) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	s.args = args
	return pgconn.CommandTag{}, nil
}

func TestNewEnvelope(t *testing.T) {
	fixedNow := time.Unix(0, 123456000).UTC()
	prevNow := nowFunc
	nowFunc = func() time.Time { return fixedNow }
	defer func() { nowFunc = prevNow }()

	id := uuid.MustParse("9a20d7d1-bf6a-4d33-bd55-5d25a816f1a8")
	env, err := NewEnvelope(PatientAggregate(" pat-123 "), "req-1", AppointmentsBookedV1{
		PatientID:   "pat-123",
		ResourceKey: "doctor#1",
		Date:        "2025-03-04",
		Source:      "kiosk",
		PartySize:   2,
		Slots: []BookedSlotV1{
			{AppointmentID: "a1", TimeSlot: "11:00"},
			{AppointmentID: "a2", TimeSlot: "11:15"},
		},
		BookedAt: fixedNow,
	}, WithEventID(id))
	if err != nil {
		t.Fatalf("NewEnvelope failed: %v", err)
	}
	if env.EventID != id {
		t.Fatalf("expected event id override, got %s", env.EventID)
	}
	if env.TimestampMicros != fixedNow.UnixMicro() {
		t.Fatalf("unexpected timestamp: %d", env.TimestampMicros)
	}
	if env.EventType != "appointments.booked.v1" {
		t.Fatalf("unexpected type: %s", env.EventType)
	}
	if env.Aggregate != "patient:pat-123" {
		t.Fatalf("unexpected aggregate: %s", env.Aggregate)
	}
	if env.PatientID != "pat-123" || env.ResourceKey != "doctor#1" {
		t.Fatalf("expected routing lifted from payload, got %q %q", env.PatientID, env.ResourceKey)
	}
	if env.RequestID != "req-1" {
		t.Fatalf("unexpected request id: %s", env.RequestID)
	}

	var decoded AppointmentsBookedV1
	if err := env.Decode(&decoded); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if decoded.PartySize != 2 || len(decoded.Slots) != 2 || decoded.Slots[1].TimeSlot != "11:15" {
		t.Fatalf("unexpected decoded payload: %#v", decoded)
	}
	if err := env.Decode(&KioskDataAttachedV1{}); err == nil {
		t.Fatal("expected type mismatch error")
	}
}

func TestAppendCanonicalEvent(t *testing.T) {
	exec := &stubExec{}
	env, err := AppendCanonicalEvent(context.Background(), exec, PatientAggregate("pat-123"), "", KioskDataAttachedV1{
		PatientID:     "pat-123",
		AppointmentID: "appt-1",
		Keys:          []string{"reason"},
		AttachedAt:    time.Unix(100, 0).UTC(),
	}, WithResourceKey("lab#blood"))
	if err != nil {
		t.Fatalf("append canonical failed: %v", err)
	}
	if env.EventID == uuid.Nil {
		t.Fatal("expected generated event id")
	}
	if len(exec.args) != 4 {
		t.Fatalf("expected exec args, got %#v", exec.args)
	}
	if exec.args[0] != env.EventID {
		t.Fatalf("id mismatch")
	}
	payloadBytes, ok := exec.args[3].([]byte)
	if !ok {
		t.Fatalf("payload arg type %T", exec.args[3])
	}
	var stored Envelope
	if err := json.Unmarshal(payloadBytes, &stored); err != nil {
		t.Fatalf("decode envelope: %v", err)
	}
	if stored.EventType != env.EventType || stored.Aggregate != env.Aggregate {
		t.Fatalf("stored envelope mismatch: %#v", stored)
	}
	if stored.ResourceKey != "lab#blood" || stored.PatientID != "pat-123" {
		t.Fatalf("expected routing on stored envelope, got %#v", stored)
	}
}

func TestEnvelopeValidation(t *testing.T) {
	if _, err := NewEnvelope("", "", AppointmentsBookedV1{}); err == nil {
		t.Fatal("expected aggregate error")
	}
	if _, err := NewEnvelope(PatientAggregate("  "), "", AppointmentsBookedV1{}); err == nil {
		t.Fatal("expected error for patient aggregate without id")
	}
	if _, err := NewEnvelope("agg", "", nil); err == nil {
		t.Fatal("expected nil event error")
	}
	if _, err := NewEnvelope("agg", "", badEvent{}); err == nil {
		t.Fatal("expected event type error")
	}
}

func TestWithTimestampOption(t *testing.T) {
	target := time.Unix(50, 123000).UTC()
	env, err := NewEnvelope("agg", "", KioskDataAttachedV1{AppointmentID: "x"}, WithTimestamp(target))
	if err != nil {
		t.Fatalf("NewEnvelope: %v", err)
	}
	if env.TimestampMicros != target.UnixMicro() {
		t.Fatalf("expected timestamp override, got %d", env.TimestampMicros)
	}
}

func TestAppendCanonicalEventRequiresExec(t *testing.T) {
	if _, err := AppendCanonicalEvent(context.Background(), nil, "agg", "", KioskDataAttachedV1{}); err == nil {
		t.Fatal("expected exec error")
	}
}
