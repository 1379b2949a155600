package alarm

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// TimeOfDay is a wall-clock time within a day, without a date or zone.
type TimeOfDay struct {
	// Hour is the hour of the day in the 24-hour clock (0-23).
	Hour int
	// Minute is the minute within the hour (0-59).
	Minute int
}

// errInvalidTimeOfDay is returned when a time-of-day string cannot be parsed.
var errInvalidTimeOfDay = errors.New("invalid time of day")

// ParseTimeOfDay parses an "HH:MM" string in the 24-hour clock.
func ParseTimeOfDay(s string) (TimeOfDay, error) {
	hourPart, minutePart, found := strings.Cut(strings.TrimSpace(s), ":")
	if !found {
		return TimeOfDay{}, fmt.Errorf("%w: %q", errInvalidTimeOfDay, s)
	}

	hour, err := strconv.Atoi(hourPart)
	if err != nil {
		return TimeOfDay{}, fmt.Errorf("%w: %q", errInvalidTimeOfDay, s)
	}

	minute, err := strconv.Atoi(minutePart)
	if err != nil {
		return TimeOfDay{}, fmt.Errorf("%w: %q", errInvalidTimeOfDay, s)
	}

	tod := TimeOfDay{Hour: hour, Minute: minute}
	if !tod.Valid() {
		return TimeOfDay{}, fmt.Errorf("%w: %q", errInvalidTimeOfDay, s)
	}

	return tod, nil
}

// Valid reports whether the hour and minute are within the 24-hour clock.
func (t TimeOfDay) Valid() bool {
	return t.Hour >= 0 && t.Hour <= 23 && t.Minute >= 0 && t.Minute <= 59
}

// String returns the zero-padded "HH:MM" representation.
func (t TimeOfDay) String() string {
	return fmt.Sprintf("%02d:%02d", t.Hour, t.Minute)
}

// On returns the wall-clock instant of this time-of-day on the date of day,
// in day's location.
func (t TimeOfDay) On(day time.Time) time.Time {
	return time.Date(day.Year(), day.Month(), day.Day(), t.Hour, t.Minute, 0, 0, day.Location())
}

// MarshalText implements encoding.TextMarshaler so the type round-trips
// through both YAML configuration and JSON persistence as "HH:MM".
func (t TimeOfDay) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (t *TimeOfDay) UnmarshalText(text []byte) error {
	parsed, err := ParseTimeOfDay(string(text))
	if err != nil {
		return err
	}

	*t = parsed

	return nil
}
