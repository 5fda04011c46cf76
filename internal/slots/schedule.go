package slots

import "time"

// DaySchedule is one resource's grid for a date together with the booked
// subset reported by the booking backend. Booked is always replaced
// wholesale on refresh and only ever holds grid slots.
type DaySchedule struct {
	ResourceKey string
	Date        Date
	Grid        Grid
	All         []TimeSlot
	Booked      []TimeSlot
	FetchedAt   time.Time
}

// NewDaySchedule builds a schedule from the grid and a booked list. Booked
// entries that are not on the grid are dropped and duplicates collapsed.
func NewDaySchedule(resourceKey string, date Date, grid Grid, booked []TimeSlot, fetchedAt time.Time) DaySchedule {
	onGrid := make(Set, len(booked))
	for _, ts := range booked {
		if grid.Contains(ts) {
			onGrid[ts] = struct{}{}
		}
	}
	return DaySchedule{
		ResourceKey: resourceKey,
		Date:        date,
		Grid:        grid,
		All:         grid.Slots(),
		Booked:      onGrid.Sorted(),
		FetchedAt:   fetchedAt,
	}
}

// IsBooked reports whether ts was booked at fetch time.
func (d DaySchedule) IsBooked(ts TimeSlot) bool {
	for _, b := range d.Booked {
		if b == ts {
			return true
		}
	}
	return false
}

// Available returns the slots a patient may still pick at now: on the
// grid, not booked, and not already started.
func (d DaySchedule) Available(now time.Time) []TimeSlot {
	return Without(FilterPast(d.Date, now, d.All), d.Booked)
}
