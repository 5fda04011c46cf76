package bookings

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/wolfman30/medmitra-kiosk/internal/events"
	"github.com/wolfman30/medmitra-kiosk/internal/observability/metrics"
	"github.com/wolfman30/medmitra-kiosk/internal/resource"
	"github.com/wolfman30/medmitra-kiosk/internal/slots"
	"github.com/wolfman30/medmitra-kiosk/pkg/logging"
)

const (
	// DefaultMaxSlots caps the party size of one booking.
	DefaultMaxSlots = 12
	// MaxTransactSlots is the most slots one DynamoDB transaction can
	// reserve: 100 items at two writes per slot.
	MaxTransactSlots = 50
)

// Service validates booking requests against the resource grid and the
// clinic clock, then hands them to the Store.
type Service struct {
	store     Store
	catalog   resource.Catalog
	publisher events.Publisher
	archive   *Archive
	deduper   *Deduper
	metrics   *metrics.BookingMetrics
	logger    *logging.Logger
	tracer    trace.Tracer
	loc       *time.Location
	maxSlots  int
	now       func() time.Time
	newID     func() string
}

// Option customizes a Service.
type Option func(*Service)

// WithPublisher emits booking events after a successful write. Stores that
// write their own outbox should leave this unset.
func WithPublisher(p events.Publisher) Option {
	return func(s *Service) {
		if p != nil {
			s.publisher = p
		}
	}
}

func WithArchive(a *Archive) Option { return func(s *Service) { s.archive = a } }

func WithDeduper(d *Deduper) Option { return func(s *Service) { s.deduper = d } }

func WithMetrics(m *metrics.BookingMetrics) Option { return func(s *Service) { s.metrics = m } }

// WithTracer overrides the global tracer provider's bookings tracer.
func WithTracer(t trace.Tracer) Option {
	return func(s *Service) {
		if t != nil {
			s.tracer = t
		}
	}
}

// WithLocation sets the clinic time zone used to decide what "today" is.
func WithLocation(loc *time.Location) Option {
	return func(s *Service) {
		if loc != nil {
			s.loc = loc
		}
	}
}

// WithMaxSlots sets the party size limit, clamped to MaxTransactSlots.
func WithMaxSlots(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.maxSlots = min(n, MaxTransactSlots)
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

func WithIDGenerator(gen func() string) Option {
	return func(s *Service) {
		if gen != nil {
			s.newID = gen
		}
	}
}

// NewService wires the booking service.
func NewService(store Store, catalog resource.Catalog, logger *logging.Logger, opts ...Option) *Service {
	if store == nil {
		panic("bookings: store cannot be nil")
	}
	if catalog == nil {
		panic("bookings: catalog cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	s := &Service{
		store:     store,
		catalog:   catalog,
		publisher: events.NopPublisher{},
		logger:    logger,
		tracer:    otel.Tracer("medmitra.internal.bookings"),
		loc:       time.UTC,
		maxSlots:  DefaultMaxSlots,
		now:       time.Now,
		newID:     newAppointmentID,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// newAppointmentID returns a UUIDv7 so ids sort by creation time.
func newAppointmentID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

// Availability returns the booked slots of a resource on date.
func (s *Service) Availability(ctx context.Context, ref resource.Ref, date slots.Date) (*Availability, error) {
	ctx, span := s.tracer.Start(ctx, "bookings.availability", trace.WithSpanKind(trace.SpanKindInternal))
	defer span.End()
	span.SetAttributes(
		attribute.String("medmitra.resource_key", ref.Key()),
		attribute.String("medmitra.date", date.String()),
	)
	started := s.now()
	defer func() { s.metrics.ObserveLatency("availability", s.now().Sub(started).Seconds()) }()

	res, err := s.catalog.Get(ctx, ref)
	if err != nil {
		span.RecordError(err)
		s.metrics.ObserveAvailability(string(ref.Type), false)
		return nil, err
	}
	grid, err := res.Grid()
	if err != nil {
		span.RecordError(err)
		s.metrics.ObserveAvailability(string(ref.Type), false)
		return nil, fmt.Errorf("bookings: resource %s grid: %w", ref, err)
	}

	booked, err := s.store.BookedSlots(ctx, ref, date)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "query booked slots")
		s.metrics.ObserveAvailability(string(ref.Type), false)
		return nil, err
	}
	onGrid := make([]slots.TimeSlot, 0, len(booked))
	for _, ts := range booked {
		if grid.Contains(ts) {
			onGrid = append(onGrid, ts)
		}
	}
	s.metrics.ObserveAvailability(string(ref.Type), true)
	return &Availability{ResourceKey: ref.Key(), Date: date, Booked: onGrid}, nil
}

// Book reserves every requested slot for the party or none of them.
func (s *Service) Book(ctx context.Context, req BookRequest) (*BookResult, error) {
	ctx, span := s.tracer.Start(ctx, "bookings.book", trace.WithSpanKind(trace.SpanKindInternal))
	defer span.End()
	started := s.now()
	defer func() { s.metrics.ObserveLatency("book", s.now().Sub(started).Seconds()) }()

	res, err := s.validate(ctx, req)
	if err != nil {
		span.RecordError(err)
		s.metrics.ObserveBooking(req.ResourceType, metrics.OutcomeInvalid, 0)
		return nil, err
	}
	typ := string(res.Resource.Type)
	span.SetAttributes(
		attribute.String("medmitra.resource_key", res.Resource.Key()),
		attribute.String("medmitra.date", res.Date.String()),
		attribute.Int("medmitra.party_size", len(res.Slots)),
	)

	release, err := s.deduper.Acquire(ctx, res)
	switch {
	case errors.Is(err, ErrDuplicateRequest):
		s.metrics.ObserveBooking(typ, metrics.OutcomeDuplicate, 0)
		return nil, err
	case err != nil:
		s.logger.Warn("booking dedupe unavailable", "error", err, "patient_id", res.PatientID)
		release = func() {}
	}

	appts := res.Appointments(s.now(), s.newID)
	if err := s.store.Reserve(ctx, res, appts); err != nil {
		release()
		var conflict *ConflictError
		if errors.As(err, &conflict) {
			s.logger.Info("booking lost race",
				"patient_id", res.PatientID,
				"resource_key", res.Resource.Key(),
				"date", res.Date.String(),
				"conflicts", strings.Join(slots.Strings(conflict.Slots), ","),
			)
			s.metrics.ObserveBooking(typ, metrics.OutcomeConflict, len(res.Slots))
			s.metrics.ObserveConflicts(typ, len(conflict.Slots))
			span.SetAttributes(attribute.Int("medmitra.conflicts", len(conflict.Slots)))
			return nil, conflict
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, "reserve")
		s.metrics.ObserveBooking(typ, metrics.OutcomeError, len(res.Slots))
		return nil, err
	}

	s.archive.Put(ctx, appts)
	if err := s.publisher.Publish(ctx, events.PatientAggregate(res.PatientID), middleware.GetReqID(ctx), newBookedEvent(res, appts)); err != nil {
		s.logger.Warn("failed to publish booking event", "error", err, "patient_id", res.PatientID)
	}
	s.metrics.ObserveBooking(typ, metrics.OutcomeBooked, len(res.Slots))
	s.logger.Info("booked consecutive slots",
		"patient_id", res.PatientID,
		"resource_key", res.Resource.Key(),
		"date", res.Date.String(),
		"slots", strings.Join(slots.Strings(res.Slots), ","),
	)
	return newBookResult(res, appts), nil
}

func (s *Service) validate(ctx context.Context, req BookRequest) (Reservation, error) {
	res, err := req.Parse()
	if err != nil {
		return Reservation{}, err
	}
	if len(res.Slots) > s.maxSlots {
		return Reservation{}, invalidf("at most %d slots per booking", s.maxSlots)
	}

	r, err := s.catalog.Get(ctx, res.Resource)
	if err != nil {
		if errors.Is(err, resource.ErrNotFound) {
			return Reservation{}, invalidf("unknown resource %s", res.Resource)
		}
		return Reservation{}, err
	}
	grid, err := r.Grid()
	if err != nil {
		return Reservation{}, fmt.Errorf("bookings: resource %s grid: %w", res.Resource, err)
	}
	for _, ts := range res.Slots {
		if !grid.Contains(ts) {
			return Reservation{}, invalidf("slot %s is outside %s", ts, grid)
		}
	}
	if !slots.IsRun(res.Slots, grid.Step()) {
		return Reservation{}, invalidf("timeSlots must be consecutive %s steps", grid.Step())
	}

	now := s.now().In(s.loc)
	if open := slots.FilterPast(res.Date, now, res.Slots); len(open) != len(res.Slots) {
		return Reservation{}, invalidf("slots have already started")
	}
	return res, nil
}

// List returns a page of a patient's appointments, newest first.
func (s *Service) List(ctx context.Context, patientID string, limit int, cursor string) (Page, error) {
	patientID = strings.TrimSpace(patientID)
	if patientID == "" {
		return Page{}, invalidf("patientId is required")
	}
	if limit < 0 || limit > MaxListLimit {
		return Page{}, invalidf("limit must be between 1 and %d", MaxListLimit)
	}
	return s.store.ListForPatient(ctx, patientID, limit, cursor)
}

// AttachRequest carries kiosk data for an existing appointment.
type AttachRequest struct {
	PatientID     string         `json:"patientId"`
	AppointmentID string         `json:"appointmentId"`
	Kiosk         map[string]any `json:"kiosk"`
}

// Attach merges kiosk data into an appointment.
func (s *Service) Attach(ctx context.Context, req AttachRequest) (*Appointment, error) {
	ctx, span := s.tracer.Start(ctx, "bookings.attach")
	defer span.End()

	patientID := strings.TrimSpace(req.PatientID)
	appointmentID := strings.TrimSpace(req.AppointmentID)
	if patientID == "" || appointmentID == "" {
		return nil, invalidf("patientId and appointmentId are required")
	}
	if req.Kiosk == nil {
		return nil, invalidf("kiosk must be an object")
	}
	span.SetAttributes(attribute.String("medmitra.appointment_id", appointmentID))

	now := s.now()
	appt, err := s.store.AttachKiosk(ctx, patientID, appointmentID, req.Kiosk, now)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			span.RecordError(err)
		}
		return nil, err
	}
	evt := events.KioskDataAttachedV1{
		PatientID:     patientID,
		AppointmentID: appointmentID,
		ResourceKey:   appt.ResourceKey,
		Keys:          sortedKeys(req.Kiosk),
		AttachedAt:    now.UTC(),
	}
	if err := s.publisher.Publish(ctx, events.PatientAggregate(patientID), middleware.GetReqID(ctx), evt); err != nil {
		s.logger.Warn("failed to publish kiosk event", "error", err, "appointment_id", appointmentID)
	}
	return appt, nil
}

func newBookedEvent(res Reservation, appts []*Appointment) events.AppointmentsBookedV1 {
	evt := events.AppointmentsBookedV1{
		PatientID:   res.PatientID,
		ResourceKey: res.Resource.Key(),
		Date:        res.Date.String(),
		Source:      res.Source,
		PartySize:   len(appts),
	}
	for _, a := range appts {
		evt.Slots = append(evt.Slots, events.BookedSlotV1{AppointmentID: a.AppointmentID, TimeSlot: a.TimeSlot})
	}
	if len(appts) > 0 {
		if t, err := time.Parse(time.RFC3339, appts[0].CreatedAt); err == nil {
			evt.BookedAt = t
		}
	}
	return evt
}
