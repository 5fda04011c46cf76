// Package events carries booking domain events from the booking API to
// downstream consumers (queue display, token printing, reminders) through
// SQS, either directly or via a Postgres transactional outbox.
package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
)

// CanonicalEvent is a versioned booking event.
type CanonicalEvent interface {
	EventType() string
}

// subject is implemented by events that name the patient and the resource
// they concern. NewEnvelope copies both onto the envelope.
type subject interface {
	Subject() (patientID, resourceKey string)
}

// Envelope is the wire form of a booking event, both on the queue and in the
// outbox table. PatientID and ResourceKey are lifted out of the payload so
// the queue display can route by doctor or lab without decoding it.
type Envelope struct {
	EventID         uuid.UUID       `json:"event_id"`
	EventType       string          `json:"event_type"`
	Aggregate       string          `json:"aggregate"`
	PatientID       string          `json:"patient_id,omitempty"`
	ResourceKey     string          `json:"resource_key,omitempty"`
	TimestampMicros int64           `json:"timestamp"`
	RequestID       string          `json:"request_id,omitempty"`
	Payload         json.RawMessage `json:"payload"`
}

// PatientAggregate is the aggregate every booking event is filed under.
// Appointments are keyed by patient, so one patient's events stay ordered
// in the outbox.
func PatientAggregate(patientID string) string {
	return patientAggregatePrefix + strings.TrimSpace(patientID)
}

const patientAggregatePrefix = "patient:"

type EnvelopeOption func(*Envelope)

func WithEventID(id uuid.UUID) EnvelopeOption {
	return func(e *Envelope) {
		if id != uuid.Nil {
			e.EventID = id
		}
	}
}

// WithTimestamp overrides the booking time stored in microseconds.
func WithTimestamp(ts time.Time) EnvelopeOption {
	return func(e *Envelope) {
		if ts.IsZero() {
			return
		}
		e.TimestampMicros = ts.UTC().UnixMicro()
	}
}

// WithResourceKey sets the routing resource for events that do not carry
// one, e.g. a kiosk attachment whose appointment was loaded separately.
func WithResourceKey(key string) EnvelopeOption {
	return func(e *Envelope) {
		if key = strings.TrimSpace(key); key != "" {
			e.ResourceKey = key
		}
	}
}

var (
	errMissingAggregate = errors.New("events: aggregate is required")
	errNilEvent         = errors.New("events: booking event required")
	nowFunc             = time.Now
)

// NewEnvelope wraps evt for transport. aggregate is normally
// PatientAggregate(patientID); requestID is the API request that caused it.
func NewEnvelope(aggregate, requestID string, evt CanonicalEvent, opts ...EnvelopeOption) (Envelope, error) {
	aggregate = strings.TrimSpace(aggregate)
	if aggregate == "" || aggregate == patientAggregatePrefix {
		return Envelope{}, errMissingAggregate
	}
	if evt == nil {
		return Envelope{}, errNilEvent
	}
	eventType := strings.TrimSpace(evt.EventType())
	if eventType == "" {
		return Envelope{}, fmt.Errorf("events: event type missing")
	}
	payload, err := json.Marshal(evt)
	if err != nil {
		return Envelope{}, fmt.Errorf("events: marshal %s payload: %w", eventType, err)
	}
	env := Envelope{
		EventID:         uuid.New(),
		EventType:       eventType,
		Aggregate:       aggregate,
		TimestampMicros: nowFunc().UTC().UnixMicro(),
		RequestID:       strings.TrimSpace(requestID),
		Payload:         payload,
	}
	if s, ok := evt.(subject); ok {
		env.PatientID, env.ResourceKey = s.Subject()
	}
	for _, opt := range opts {
		if opt != nil {
			opt(&env)
		}
	}
	return env, nil
}

// Decode unmarshals the envelope payload into dst after checking the type.
func (e Envelope) Decode(dst CanonicalEvent) error {
	if dst == nil {
		return errNilEvent
	}
	if e.EventType != dst.EventType() {
		return fmt.Errorf("events: envelope holds %s, not %s", e.EventType, dst.EventType())
	}
	if err := json.Unmarshal(e.Payload, dst); err != nil {
		return fmt.Errorf("events: decode %s: %w", e.EventType, err)
	}
	return nil
}

type execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// AppendCanonicalEvent writes the event's envelope to the outbox using exec,
// which is normally the transaction that reserved or updated the
// appointments.
func AppendCanonicalEvent(ctx context.Context, exec execer, aggregate, requestID string, evt CanonicalEvent, opts ...EnvelopeOption) (Envelope, error) {
	if exec == nil {
		return Envelope{}, fmt.Errorf("events: exec required")
	}
	env, err := NewEnvelope(aggregate, requestID, evt, opts...)
	if err != nil {
		return Envelope{}, err
	}
	data, err := json.Marshal(env)
	if err != nil {
		return Envelope{}, fmt.Errorf("events: marshal envelope: %w", err)
	}
	query := `
		INSERT INTO outbox (id, aggregate, event_type, payload)
		VALUES ($1, $2, $3, $4)
	`
	if _, err := exec.Exec(ctx, query, env.EventID, env.Aggregate, env.EventType, data); err != nil {
		return Envelope{}, fmt.Errorf("events: append canonical event: %w", err)
	}
	return env, nil
}
