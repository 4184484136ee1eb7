package appointment

import (
	"sort"
	"time"
)

// OperatingHours bounds bookable time within a day.
type OperatingHours struct {
	OpenHour  int // first bookable hour, inclusive
	CloseHour int // appointments must end by this hour
}

// Bounds returns the open/close instants for the given calendar day, in the
// day's location.
func (h OperatingHours) Bounds(day time.Time) (time.Time, time.Time) {
	y, m, d := day.Date()
	open := time.Date(y, m, d, h.OpenHour, 0, 0, 0, day.Location())
	close := time.Date(y, m, d, h.CloseHour, 0, 0, 0, day.Location())
	return open, close
}

// Contains reports whether the interval falls entirely inside operating
// hours on its own day.
func (h OperatingHours) Contains(iv Interval) bool {
	open, close := h.Bounds(iv.Start)
	return !iv.Start.Before(open) && !iv.End.After(close)
}

// FreeIntervals subtracts the booked intervals from the operating window of
// the given day and returns the remaining gaps, merged and ordered. Booked
// intervals may overlap each other or spill past the window; both are
// tolerated.
func FreeIntervals(hours OperatingHours, day time.Time, booked []Interval) []Interval {
	open, close := hours.Bounds(day)
	if !open.Before(close) {
		return nil
	}

	spans := make([]Interval, 0, len(booked))
	for _, b := range booked {
		if !b.Start.Before(b.End) {
			continue
		}
		if !b.End.After(open) || !b.Start.Before(close) {
			continue
		}
		spans = append(spans, b)
	}
	sort.Slice(spans, func(i, j int) bool { return spans[i].Start.Before(spans[j].Start) })

	var free []Interval
	cursor := open
	for _, b := range spans {
		if b.Start.After(cursor) {
			free = append(free, Interval{Start: cursor, End: minTime(b.Start, close)})
		}
		if b.End.After(cursor) {
			cursor = b.End
		}
	}
	if cursor.Before(close) {
		free = append(free, Interval{Start: cursor, End: close})
	}

	return free
}

// SplitIntoSlots chops free intervals into fixed-duration bookable slots,
// dropping remainders too short to hold one.
func SplitIntoSlots(free []Interval, slotMins int) []Interval {
	if slotMins <= 0 {
		return nil
	}
	d := time.Duration(slotMins) * time.Minute

	var slots []Interval
	for _, iv := range free {
		for start := iv.Start; !start.Add(d).After(iv.End); start = start.Add(d) {
			slots = append(slots, Interval{Start: start, End: start.Add(d)})
		}
	}
	return slots
}

func minTime(a, b time.Time) time.Time {
	if a.Before(b) {
		return a
	}
	return b
}
