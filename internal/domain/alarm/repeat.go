package alarm

import (
	"strings"
	"time"
)

// RepeatKind tells how an alarm recurs after it fires.
type RepeatKind string

const (
	// RepeatNone marks a single-shot alarm.
	RepeatNone RepeatKind = "none"
	// RepeatDaily marks an alarm that fires every day.
	RepeatDaily RepeatKind = "daily"
	// RepeatWeekdays marks an alarm that fires on the days in its WeekdayMask.
	RepeatWeekdays RepeatKind = "weekdays"
)

// WeekdayMask is a bit set of time.Weekday values (bit 0 = Sunday).
type WeekdayMask uint8

// MaskOf builds a mask from the provided weekdays.
func MaskOf(days ...time.Weekday) WeekdayMask {
	var m WeekdayMask
	for _, d := range days {
		m |= 1 << uint(d)
	}

	return m
}

// Contains reports whether the weekday is in the mask.
func (m WeekdayMask) Contains(d time.Weekday) bool {
	return m&(1<<uint(d)) != 0
}

// Empty reports whether no weekday is set.
func (m WeekdayMask) Empty() bool {
	return m == 0
}

// String returns a comma-separated list of short weekday names.
func (m WeekdayMask) String() string {
	if m.Empty() {
		return "none"
	}

	names := make([]string, 0, 7)

	for d := time.Sunday; d <= time.Saturday; d++ {
		if m.Contains(d) {
			names = append(names, d.String()[:3])
		}
	}

	return strings.Join(names, ",")
}

// Repeat is the recurrence rule of an alarm config.
type Repeat struct {
	// Kind selects between single-shot, daily and weekday-mask recurrence.
	Kind RepeatKind `json:"kind"`
	// Days is the weekday mask, meaningful only when Kind is RepeatWeekdays.
	Days WeekdayMask `json:"days,omitempty"`
}

// Recurring reports whether the alarm re-arms after it is stopped.
// A weekday rule with an empty mask degenerates to single-shot.
func (r Repeat) Recurring() bool {
	switch r.Kind {
	case RepeatDaily:
		return true
	case RepeatWeekdays:
		return !r.Days.Empty()
	default:
		return false
	}
}
