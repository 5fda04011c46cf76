package kiosk

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/wolfman30/medmitra-kiosk/internal/bookings"
	"github.com/wolfman30/medmitra-kiosk/internal/resource"
	"github.com/wolfman30/medmitra-kiosk/internal/slots"
	"github.com/wolfman30/medmitra-kiosk/pkg/logging"
)

// State is where a booking flow sits in its submit lifecycle.
type State int

const (
	StateIdle State = iota
	StateSubmitting
	StateConfirmed
	StateConflict
	StateError
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateSubmitting:
		return "submitting"
	case StateConfirmed:
		return "confirmed"
	case StateConflict:
		return "conflict"
	case StateError:
		return "error"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

var (
	ErrSubmitInFlight          = errors.New("kiosk: a booking is already being submitted")
	ErrAlreadyConfirmed        = errors.New("kiosk: booking already confirmed; reset to book again")
	ErrNoResource              = errors.New("kiosk: no resource and date selected")
	ErrNoSelection             = errors.New("kiosk: no start slot selected")
	ErrSlotUnavailable         = errors.New("kiosk: slot is not available")
	ErrInsufficientSlots       = errors.New("kiosk: not enough consecutive free slots for the party")
	ErrAvailabilityUnconfirmed = errors.New("kiosk: availability could not be confirmed")
	ErrInvalidGroupSize        = errors.New("kiosk: group size out of range")
)

// View is a consistent copy of the flow for rendering.
type View struct {
	State     State
	Resource  resource.Resource
	Date      slots.Date
	GroupSize int
	// MaxGroupSize is the largest party one booking may hold.
	MaxGroupSize int

	Start    slots.TimeSlot
	HasStart bool
	Required []slots.TimeSlot
	// Missing lists required slots that are not free right now.
	Missing []slots.TimeSlot

	All       []slots.TimeSlot
	Booked    []slots.TimeSlot
	Available []slots.TimeSlot

	AvailabilityConfirmed bool
	FetchErr              error
	CanSubmit             bool

	Conflicts []slots.TimeSlot
	Result    *bookings.BookResult
	Err       error
}

// Flow drives one patient's walk-in booking: pick a resource-day, pick a
// start slot for the party, submit, and react to the backend's verdict.
type Flow struct {
	booker   Booker
	watcher  *Watcher
	details  bookings.Details
	contact  *bookings.Contact
	source   string
	now      func() time.Time
	loc      *time.Location
	logger   *logging.Logger
	maxGroup int

	mu        sync.Mutex
	sess      Session
	state     State
	start     slots.TimeSlot
	hasStart  bool
	snap      Snapshot
	conflicts []slots.TimeSlot
	result    *bookings.BookResult
	lastErr   error

	listeners []func(View)
	views     mailbox[View]
}

type flowConfig struct {
	watcherOpts []WatcherOption
	maxGroup    int
	details     bookings.Details
	contact     *bookings.Contact
	source      string
	now         func() time.Time
	loc         *time.Location
	logger      *logging.Logger
}

// FlowOption customizes a Flow.
type FlowOption func(*flowConfig)

// WithWatcherOptions forwards options to the flow's availability watcher.
func WithWatcherOptions(opts ...WatcherOption) FlowOption {
	return func(c *flowConfig) { c.watcherOpts = append(c.watcherOpts, opts...) }
}

// WithMaxGroupSize caps the party size. It should match the booking API's
// MAX_BATCH_SLOTS; the default is bookings.DefaultMaxSlots.
func WithMaxGroupSize(n int) FlowOption {
	return func(c *flowConfig) {
		if n > 0 {
			c.maxGroup = n
		}
	}
}

// WithVisitDetails sets the visit metadata copied onto every booking.
// Resource and date fields are filled in by the flow.
func WithVisitDetails(d bookings.Details) FlowOption {
	return func(c *flowConfig) { c.details = d }
}

func WithContact(contact bookings.Contact) FlowOption {
	return func(c *flowConfig) { c.contact = &contact }
}

func WithSource(source string) FlowOption {
	return func(c *flowConfig) { c.source = source }
}

func WithClock(now func() time.Time) FlowOption {
	return func(c *flowConfig) {
		if now != nil {
			c.now = now
		}
	}
}

// WithLocation sets the clinic time zone used to hide past slots.
func WithLocation(loc *time.Location) FlowOption {
	return func(c *flowConfig) {
		if loc != nil {
			c.loc = loc
		}
	}
}

func WithLogger(l *logging.Logger) FlowOption {
	return func(c *flowConfig) {
		if l != nil {
			c.logger = l
		}
	}
}

// NewFlow starts a flow for sess. It fails with ErrMissingIdentity when the
// session has no usable patient id. Call Close when the flow is abandoned.
func NewFlow(sess Session, src AvailabilitySource, booker Booker, opts ...FlowOption) (*Flow, error) {
	if src == nil {
		panic("kiosk: availability source cannot be nil")
	}
	if booker == nil {
		panic("kiosk: booker cannot be nil")
	}
	sess, err := sess.Validate()
	if err != nil {
		return nil, err
	}

	cfg := flowConfig{
		maxGroup: bookings.DefaultMaxSlots,
		now:      time.Now,
		loc:      time.Local,
		logger:   logging.Default(),
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if sess.GroupSize > cfg.maxGroup {
		return nil, fmt.Errorf("%w: %d exceeds %d", ErrInvalidGroupSize, sess.GroupSize, cfg.maxGroup)
	}

	f := &Flow{
		booker:   booker,
		details:  cfg.details,
		contact:  cfg.contact,
		source:   cfg.source,
		now:      cfg.now,
		loc:      cfg.loc,
		logger:   cfg.logger,
		maxGroup: cfg.maxGroup,
		sess:     sess,
	}
	if f.contact == nil && sess.Phone != "" {
		f.contact = &bookings.Contact{Phone: sess.Phone}
	}
	wopts := append([]WatcherOption{
		WithWatcherClock(cfg.now),
		WithWatcherLogger(cfg.logger),
	}, cfg.watcherOpts...)
	wopts = append(wopts, OnUpdate(f.onSnapshot))
	f.watcher = NewWatcher(src, wopts...)
	return f, nil
}

// Select switches to a resource-day. Any start slot and conflict from the
// previous selection are dropped. The returned channel closes once the
// first availability fetch for the new selection has been applied.
func (f *Flow) Select(res resource.Resource, date slots.Date) (<-chan struct{}, error) {
	f.mu.Lock()
	if err := f.editableLocked(); err != nil {
		f.mu.Unlock()
		return nil, err
	}
	f.clearSelectionLocked()
	f.conflicts = nil
	f.lastErr = nil
	f.state = StateIdle
	f.mu.Unlock()

	return f.watcher.Select(res, date)
}

// SetGroupSize changes the party size, which must be between 1 and the
// flow's maximum. The start slot is kept; whether it still fits is
// reflected by CanSubmit.
func (f *Flow) SetGroupSize(n int) error {
	if n < 1 || n > f.maxGroup {
		return fmt.Errorf("%w: %d not in 1..%d", ErrInvalidGroupSize, n, f.maxGroup)
	}
	f.mu.Lock()
	if err := f.editableLocked(); err != nil {
		f.mu.Unlock()
		return err
	}
	f.sess.GroupSize = n
	f.returnToIdleLocked()
	f.publishLocked()
	f.mu.Unlock()
	f.notify()
	return nil
}

// Pick chooses the party's start slot. The slot itself must be free now.
func (f *Flow) Pick(start slots.TimeSlot) error {
	f.mu.Lock()
	if err := f.editableLocked(); err != nil {
		f.mu.Unlock()
		return err
	}
	if !f.snap.Selected() {
		f.mu.Unlock()
		return ErrNoResource
	}
	if !slots.NewSet(f.availableLocked()...).Has(start) {
		f.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrSlotUnavailable, start)
	}
	f.start = start
	f.hasStart = true
	f.returnToIdleLocked()
	f.publishLocked()
	f.mu.Unlock()
	f.notify()
	return nil
}

// Required returns the N consecutive slots the party needs from the chosen
// start, or nil when nothing is picked.
func (f *Flow) Required() []slots.TimeSlot {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.requiredLocked()
}

// CanSubmit reports whether Submit would send a request right now.
func (f *Flow) CanSubmit() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.submittableLocked() == nil
}

// Submit books the required slots. Local validation failures return an
// error without leaving the current state. A lost race moves the flow to
// StateConflict, clears the selection and refetches availability.
func (f *Flow) Submit(ctx context.Context) (*bookings.BookResult, error) {
	f.mu.Lock()
	if err := f.submittableLocked(); err != nil {
		f.mu.Unlock()
		return nil, err
	}
	req := f.requestLocked()
	f.state = StateSubmitting
	f.conflicts = nil
	f.lastErr = nil
	f.publishLocked()
	f.mu.Unlock()
	f.notify()

	result, err := f.booker.Book(ctx, req)

	f.mu.Lock()
	var refetch bool
	switch conflict, isConflict := IsConflict(err); {
	case err == nil:
		f.state = StateConfirmed
		f.result = result
		f.logger.Info("walk-in booking confirmed", "patient_id", f.sess.PatientID, "resource_key", f.snap.Schedule.ResourceKey, "slots", len(req.TimeSlots))
	case isConflict:
		f.state = StateConflict
		f.conflicts = conflict.Slots
		f.lastErr = err
		f.clearSelectionLocked()
		refetch = true
		f.logger.Warn("walk-in booking lost a slot race", "patient_id", f.sess.PatientID, "resource_key", f.snap.Schedule.ResourceKey, "conflicts", slots.Strings(conflict.Slots))
	default:
		f.state = StateError
		f.lastErr = err
		f.logger.Error("walk-in booking failed", "patient_id", f.sess.PatientID, "resource_key", f.snap.Schedule.ResourceKey, "error", err)
	}
	f.publishLocked()
	f.mu.Unlock()
	f.notify()

	if refetch {
		f.watcher.Refresh()
	}
	if err != nil {
		return nil, err
	}
	return result, nil
}

// State returns the submit state.
func (f *Flow) State() State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

// Reset returns to idle with no start slot, keeping the resource-day, and
// refetches availability. It is the only way out of StateConfirmed.
func (f *Flow) Reset() error {
	f.mu.Lock()
	if f.state == StateSubmitting {
		f.mu.Unlock()
		return ErrSubmitInFlight
	}
	f.state = StateIdle
	f.clearSelectionLocked()
	f.conflicts = nil
	f.result = nil
	f.lastErr = nil
	f.publishLocked()
	f.mu.Unlock()
	f.notify()

	f.watcher.Refresh()
	return nil
}

// Refresh refetches availability, e.g. when the kiosk screen regains focus.
func (f *Flow) Refresh() <-chan struct{} {
	return f.watcher.Refresh()
}

// Close stops polling. The flow must not be used afterwards.
func (f *Flow) Close() {
	f.watcher.Close()
}

// View returns a consistent copy of the flow.
func (f *Flow) View() View {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.viewLocked()
}

// Subscribe registers fn to receive a View after every change. Calls are
// serialized and arrive in the order the changes were made. fn may call
// back into the flow, except Close; it must not block for long.
func (f *Flow) Subscribe(fn func(View)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listeners = append(f.listeners, fn)
}

func (f *Flow) onSnapshot(snap Snapshot) {
	f.mu.Lock()
	switched := snap.Schedule.ResourceKey != f.snap.Schedule.ResourceKey || snap.Schedule.Date != f.snap.Schedule.Date
	f.snap = snap
	if f.hasStart && f.state != StateSubmitting && f.state != StateConfirmed {
		switch {
		case switched:
			// A start picked against the previous resource-day does not carry over.
			f.clearSelectionLocked()
		case !slots.NewSet(f.availableLocked()...).Has(f.start):
			f.logger.Info("selected start slot no longer available", "patient_id", f.sess.PatientID, "resource_key", snap.Schedule.ResourceKey, "slot", f.start.String())
			f.clearSelectionLocked()
		}
	}
	f.publishLocked()
	f.mu.Unlock()
	f.notify()
}

// publishLocked queues the current view for listeners. Queuing under f.mu
// keeps views in the order the changes were made.
func (f *Flow) publishLocked() {
	f.views.post(f.viewLocked())
}

// notify delivers queued views. It must be called without f.mu held.
func (f *Flow) notify() {
	f.views.drain(func(v View) {
		f.mu.Lock()
		listeners := f.listeners
		f.mu.Unlock()
		for _, fn := range listeners {
			fn(v)
		}
	})
}

func (f *Flow) editableLocked() error {
	switch f.state {
	case StateSubmitting:
		return ErrSubmitInFlight
	case StateConfirmed:
		return ErrAlreadyConfirmed
	}
	return nil
}

// returnToIdleLocked moves conflict and error back to idle once the user
// edits the selection.
func (f *Flow) returnToIdleLocked() {
	if f.state == StateConflict || f.state == StateError {
		f.state = StateIdle
		f.lastErr = nil
		f.conflicts = nil
	}
}

func (f *Flow) clearSelectionLocked() {
	f.start = slots.TimeSlot{}
	f.hasStart = false
}

func (f *Flow) availableLocked() []slots.TimeSlot {
	if !f.snap.Selected() {
		return nil
	}
	return f.snap.Schedule.Available(f.now().In(f.loc))
}

func (f *Flow) requiredLocked() []slots.TimeSlot {
	if !f.hasStart || !f.snap.Selected() {
		return nil
	}
	return slots.Consecutive(f.start, f.sess.GroupSize, f.snap.Schedule.Grid.Step())
}

func (f *Flow) submittableLocked() error {
	switch {
	case f.state == StateSubmitting:
		return ErrSubmitInFlight
	case f.state == StateConfirmed:
		return ErrAlreadyConfirmed
	case !f.snap.Selected():
		return ErrNoResource
	case !f.hasStart:
		return ErrNoSelection
	case f.sess.GroupSize > f.maxGroup:
		return ErrInvalidGroupSize
	case !f.snap.Confirmed:
		return ErrAvailabilityUnconfirmed
	}
	step := f.snap.Schedule.Grid.Step()
	available := slots.NewSet(f.availableLocked()...)
	if missing := slots.Missing(available, f.start, f.sess.GroupSize, step); len(missing) > 0 {
		return fmt.Errorf("%w: missing %v", ErrInsufficientSlots, slots.Strings(missing))
	}
	return nil
}

func (f *Flow) requestLocked() bookings.BookRequest {
	res := f.snap.Resource
	details := f.details
	details.DateISO = f.snap.Schedule.Date.String()
	details.TimeSlot = ""
	if res.Type == resource.TypeDoctor {
		details.DoctorID = res.ID
		if details.DoctorName == "" {
			details.DoctorName = res.Name
		}
	}
	if details.ClinicName == "" {
		details.ClinicName = res.ClinicName
	}
	if details.Specialty == "" {
		details.Specialty = res.Specialty
	}
	if details.Fee == "" {
		details.Fee = res.Fee
	}
	if len(details.Languages) == 0 {
		details.Languages = res.Languages
	}
	return bookings.BookRequest{
		PatientID:    f.sess.PatientID,
		Contact:      f.contact,
		Details:      details,
		ResourceType: string(res.Type),
		ResourceID:   res.ID,
		TimeSlots:    slots.Strings(f.requiredLocked()),
		Source:       f.source,
	}
}

func (f *Flow) viewLocked() View {
	v := View{
		State:                 f.state,
		Resource:              f.snap.Resource,
		Date:                  f.snap.Schedule.Date,
		GroupSize:             f.sess.GroupSize,
		MaxGroupSize:          f.maxGroup,
		Start:                 f.start,
		HasStart:              f.hasStart,
		Required:              f.requiredLocked(),
		All:                   f.snap.Schedule.All,
		Booked:                f.snap.Schedule.Booked,
		Available:             f.availableLocked(),
		AvailabilityConfirmed: f.snap.Confirmed,
		FetchErr:              f.snap.Err,
		Conflicts:             f.conflicts,
		Result:                f.result,
		Err:                   f.lastErr,
	}
	if v.HasStart && f.snap.Selected() {
		v.Missing = slots.Missing(slots.NewSet(v.Available...), f.start, f.sess.GroupSize, f.snap.Schedule.Grid.Step())
	}
	v.CanSubmit = f.submittableLocked() == nil
	return v
}
