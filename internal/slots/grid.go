package slots

import (
	"errors"
	"fmt"
	"time"
)

// DefaultStep is the walk-in slot length.
const DefaultStep = 15 * time.Minute

var (
	// ErrInvalidWindow is returned when open is not strictly before close.
	ErrInvalidWindow = errors.New("slots: open must be before close")
	// ErrMisaligned is returned when a boundary or slot is off the grid step.
	ErrMisaligned = errors.New("slots: time not aligned to grid step")
	// ErrInvalidStep is returned for steps that are not a positive whole
	// number of minutes.
	ErrInvalidStep = errors.New("slots: invalid grid step")
)

// Grid is the bookable window of a resource for one day: every slot in
// [Open, Close) spaced by Step.
type Grid struct {
	open  TimeSlot
	close TimeSlot
	step  time.Duration
}

// NewGrid validates the window and step. Both boundaries must be aligned to
// the step measured from midnight.
func NewGrid(open, close TimeSlot, step time.Duration) (Grid, error) {
	if step <= 0 || step%time.Minute != 0 || step >= 24*time.Hour {
		return Grid{}, fmt.Errorf("%w: %s", ErrInvalidStep, step)
	}
	if !open.Valid() || !close.Valid() {
		return Grid{}, fmt.Errorf("%w: %s-%s", ErrInvalidWindow, open, close)
	}
	if !open.Before(close) {
		return Grid{}, fmt.Errorf("%w: %s-%s", ErrInvalidWindow, open, close)
	}
	g := Grid{open: open, close: close, step: step}
	if !g.aligned(open) || !g.aligned(close) {
		return Grid{}, fmt.Errorf("%w: %s-%s step %s", ErrMisaligned, open, close, step)
	}
	return g, nil
}

// ParseGrid is NewGrid over HH:MM strings.
func ParseGrid(open, close string, step time.Duration) (Grid, error) {
	o, err := Parse(open)
	if err != nil {
		return Grid{}, err
	}
	c, err := Parse(close)
	if err != nil {
		return Grid{}, err
	}
	return NewGrid(o, c, step)
}

// DefaultGrid is the kiosk walk-in window, 08:00-20:00 in 15 minute steps.
func DefaultGrid() Grid {
	g, err := NewGrid(At(8, 0), At(20, 0), DefaultStep)
	if err != nil {
		panic(err)
	}
	return g
}

func (g Grid) Open() TimeSlot      { return g.open }
func (g Grid) Close() TimeSlot     { return g.close }
func (g Grid) Step() time.Duration { return g.step }
func (g Grid) IsZero() bool        { return g.step == 0 }
func (g Grid) stepMinutes() int    { return int(g.step / time.Minute) }

func (g Grid) aligned(t TimeSlot) bool {
	return t.MinuteOfDay()%g.stepMinutes() == 0
}

// Len is the number of slots in the grid.
func (g Grid) Len() int {
	if g.IsZero() {
		return 0
	}
	return (g.close.MinuteOfDay() - g.open.MinuteOfDay()) / g.stepMinutes()
}

// Slots returns every slot in [Open, Close), strictly increasing.
func (g Grid) Slots() []TimeSlot {
	out := make([]TimeSlot, 0, g.Len())
	for t := g.open; t.Before(g.close); t = t.Add(g.step) {
		out = append(out, t)
	}
	return out
}

// Contains reports whether t is one of the grid's slots.
func (g Grid) Contains(t TimeSlot) bool {
	if g.IsZero() {
		return false
	}
	return !t.Before(g.open) && t.Before(g.close) && g.aligned(t)
}

func (g Grid) String() string {
	return fmt.Sprintf("%s-%s/%s", g.open, g.close, g.step)
}
