// Package alarm contains core domain types for the alarm engine.
//
// It defines Config (a user-chosen alarm with its ringing window and repeat
// rule), Instance (one concrete firing of a config, with its lifecycle
// state), TimeOfDay and WeekdayMask helpers, with Clone helpers to avoid
// leaking internal references.
package alarm
