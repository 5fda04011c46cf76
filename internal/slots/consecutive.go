package slots

import (
	"slices"
	"time"
)

// Set is an unordered collection of slots.
type Set map[TimeSlot]struct{}

func NewSet(in ...TimeSlot) Set {
	s := make(Set, len(in))
	for _, ts := range in {
		s[ts] = struct{}{}
	}
	return s
}

func (s Set) Has(ts TimeSlot) bool {
	_, ok := s[ts]
	return ok
}

// Sorted returns the members in increasing order.
func (s Set) Sorted() []TimeSlot {
	out := make([]TimeSlot, 0, len(s))
	for ts := range s {
		out = append(out, ts)
	}
	slices.SortFunc(out, TimeSlot.Compare)
	return out
}

// Consecutive lists n slots starting at start, each step apart.
// It returns nil for n < 1.
func Consecutive(start TimeSlot, n int, step time.Duration) []TimeSlot {
	if n < 1 {
		return nil
	}
	out := make([]TimeSlot, n)
	for i := range out {
		out[i] = start.Add(time.Duration(i) * step)
	}
	return out
}

// IsConsecutiveAvailable reports whether all n slots from start onward are
// in available. Slots that run past the closing boundary are never in the
// available set, so such requests fail without special casing.
func IsConsecutiveAvailable(available Set, start TimeSlot, n int, step time.Duration) bool {
	if n < 1 {
		return false
	}
	for _, ts := range Consecutive(start, n, step) {
		if !available.Has(ts) {
			return false
		}
	}
	return true
}

// Missing returns the slots of the n-run from start that are not available.
func Missing(available Set, start TimeSlot, n int, step time.Duration) []TimeSlot {
	var out []TimeSlot
	for _, ts := range Consecutive(start, n, step) {
		if !available.Has(ts) {
			out = append(out, ts)
		}
	}
	return out
}

// IsRun reports whether in is non-empty and strictly consecutive by step.
func IsRun(in []TimeSlot, step time.Duration) bool {
	if len(in) == 0 {
		return false
	}
	for i := 1; i < len(in); i++ {
		if in[i].Sub(in[i-1]) != step {
			return false
		}
	}
	return true
}
