package scheduler

import (
	"time"

	domain "github.com/oshokin/alarm-engine/internal/domain/alarm"
)

// weekSearchLimit bounds the weekday-mask search; any non-empty mask matches
// within seven days.
const weekSearchLimit = 7

// NextFireTime computes the next trigger instant for the config, strictly
// after now.
//
// The candidate is today at the configured start time-of-day; if that is not
// in the future it advances by one day. A weekday-mask rule then advances to
// the next matching weekday. An empty mask degenerates to single-shot and
// the first candidate stands.
func NextFireTime(cfg *domain.Config, now time.Time) time.Time {
	candidate := cfg.Start.On(now)
	if !candidate.After(now) {
		candidate = candidate.AddDate(0, 0, 1)
	}

	if cfg.Repeat.Kind != domain.RepeatWeekdays || cfg.Repeat.Days.Empty() {
		return candidate
	}

	for i := 0; i < weekSearchLimit && !cfg.Repeat.Days.Contains(candidate.Weekday()); i++ {
		candidate = candidate.AddDate(0, 0, 1)
	}

	return candidate
}

// Window computes the trigger and expiry instants for the config relative
// to now. The expiry is the configured end time-of-day on the trigger's day;
// when that lands at or before the trigger the window is overnight (such as
// 23:30 -> 00:30) and the expiry moves to the following day.
func Window(cfg *domain.Config, now time.Time) (trigger, expiry time.Time) {
	trigger = NextFireTime(cfg, now)

	expiry = cfg.End.On(trigger)
	if !expiry.After(trigger) {
		expiry = expiry.AddDate(0, 0, 1)
	}

	return trigger, expiry
}
