package slots

import "time"

// FilterPast drops slots that have already started. When date is today in
// now's location, a slot survives only if its minute of day is strictly
// after now's (so at 09:15:30 the 09:15 slot is gone). Future dates are
// returned untouched and past dates yield nothing.
func FilterPast(date Date, now time.Time, in []TimeSlot) []TimeSlot {
	today := DateOf(now)
	switch {
	case date.After(today):
		return append([]TimeSlot(nil), in...)
	case date.Before(today):
		return []TimeSlot{}
	}
	cur := SlotOf(now)
	out := make([]TimeSlot, 0, len(in))
	for _, ts := range in {
		if ts.After(cur) {
			out = append(out, ts)
		}
	}
	return out
}

// Without returns in minus every slot in remove, preserving order.
func Without(in []TimeSlot, remove []TimeSlot) []TimeSlot {
	drop := NewSet(remove...)
	out := make([]TimeSlot, 0, len(in))
	for _, ts := range in {
		if !drop.Has(ts) {
			out = append(out, ts)
		}
	}
	return out
}
