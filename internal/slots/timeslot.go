// Package slots implements the day grid of bookable time slots: slot and
// date values, grid generation, past-slot filtering and the consecutive
// availability check used for group bookings.
package slots

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

const minutesPerDay = 24 * 60

// ErrInvalidSlot is returned when a slot string is not a valid HH:MM time.
var ErrInvalidSlot = errors.New("slots: invalid time slot")

// TimeSlot is a wall-clock time of day with minute precision.
// The zero value is 00:00.
type TimeSlot struct {
	minutes int
}

// At builds a slot from an hour and minute. It panics when the values are
// out of range; use Parse for untrusted input.
func At(hour, minute int) TimeSlot {
	if hour < 0 || hour > 23 || minute < 0 || minute > 59 {
		panic(fmt.Sprintf("slots: invalid time %d:%d", hour, minute))
	}
	return TimeSlot{minutes: hour*60 + minute}
}

// Parse reads a slot in HH:MM form.
func Parse(s string) (TimeSlot, error) {
	s = strings.TrimSpace(s)
	hh, mm, ok := strings.Cut(s, ":")
	if !ok || len(hh) != 2 || len(mm) != 2 {
		return TimeSlot{}, fmt.Errorf("%w: %q", ErrInvalidSlot, s)
	}
	h, err := strconv.Atoi(hh)
	if err != nil || h < 0 || h > 23 {
		return TimeSlot{}, fmt.Errorf("%w: %q", ErrInvalidSlot, s)
	}
	m, err := strconv.Atoi(mm)
	if err != nil || m < 0 || m > 59 {
		return TimeSlot{}, fmt.Errorf("%w: %q", ErrInvalidSlot, s)
	}
	return TimeSlot{minutes: h*60 + m}, nil
}

// MustParse is Parse for literals known to be valid.
func MustParse(s string) TimeSlot {
	ts, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return ts
}

// ParseAll parses every entry of in, failing on the first invalid one.
func ParseAll(in []string) ([]TimeSlot, error) {
	out := make([]TimeSlot, 0, len(in))
	for _, raw := range in {
		ts, err := Parse(raw)
		if err != nil {
			return nil, err
		}
		out = append(out, ts)
	}
	return out, nil
}

// SlotOf returns the slot for the wall-clock time of t, truncated to the minute.
func SlotOf(t time.Time) TimeSlot {
	return TimeSlot{minutes: t.Hour()*60 + t.Minute()}
}

func (t TimeSlot) Hour() int   { return t.minutes / 60 }
func (t TimeSlot) Minute() int { return t.minutes % 60 }

// MinuteOfDay returns minutes since midnight.
func (t TimeSlot) MinuteOfDay() int { return t.minutes }

// Add returns the slot d later. The result may fall past midnight, in which
// case Valid reports false and the slot never matches a grid entry.
func (t TimeSlot) Add(d time.Duration) TimeSlot {
	return TimeSlot{minutes: t.minutes + int(d/time.Minute)}
}

// Valid reports whether the slot lies within a single day.
func (t TimeSlot) Valid() bool {
	return t.minutes >= 0 && t.minutes < minutesPerDay
}

func (t TimeSlot) Before(o TimeSlot) bool { return t.minutes < o.minutes }
func (t TimeSlot) After(o TimeSlot) bool  { return t.minutes > o.minutes }

// Sub returns the duration between o and t.
func (t TimeSlot) Sub(o TimeSlot) time.Duration {
	return time.Duration(t.minutes-o.minutes) * time.Minute
}

// Compare returns -1, 0 or +1, for use with slices.SortFunc.
func (t TimeSlot) Compare(o TimeSlot) int {
	switch {
	case t.minutes < o.minutes:
		return -1
	case t.minutes > o.minutes:
		return 1
	}
	return 0
}

// On returns the instant of this slot on date d in loc.
func (t TimeSlot) On(d Date, loc *time.Location) time.Time {
	return time.Date(d.year, d.month, d.day, t.Hour(), t.Minute(), 0, 0, loc)
}

func (t TimeSlot) String() string {
	return fmt.Sprintf("%02d:%02d", t.Hour(), t.Minute())
}

func (t TimeSlot) MarshalText() ([]byte, error) {
	if !t.Valid() {
		return nil, fmt.Errorf("%w: %d minutes", ErrInvalidSlot, t.minutes)
	}
	return []byte(t.String()), nil
}

func (t *TimeSlot) UnmarshalText(b []byte) error {
	ts, err := Parse(string(b))
	if err != nil {
		return err
	}
	*t = ts
	return nil
}

// Strings renders slots in HH:MM form.
func Strings(in []TimeSlot) []string {
	out := make([]string, len(in))
	for i, ts := range in {
		out[i] = ts.String()
	}
	return out
}
