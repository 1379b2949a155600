package alarm

import "errors"

var (
	// ErrMissingID is returned when a config has no identifier.
	ErrMissingID = errors.New("alarm config requires an id")
	// ErrInvalidWindow is returned when start or end time-of-day is malformed.
	ErrInvalidWindow = errors.New("alarm config has an invalid time window")
)

// Config is a user-chosen alarm definition.
//
// Start and End are times of day, not absolute instants: for recurring
// alarms the concrete trigger and expiry are always re-derived relative to
// "now" when the config is armed. End is the time of day past which a
// ringing instance must self-silence; an End at or before Start describes
// an overnight window (23:30 -> 00:30) and resolves to the following day.
type Config struct {
	// ID is the opaque identifier chosen by the caller.
	ID string `json:"id"`
	// Start is the time of day the alarm fires.
	Start TimeOfDay `json:"start"`
	// End is the time of day a ringing instance is force-stopped.
	End TimeOfDay `json:"end"`
	// Repeat is the recurrence rule.
	Repeat Repeat `json:"repeat"`
	// Enabled gates arming; disabled configs are never scheduled.
	Enabled bool `json:"enabled"`
	// SoundProfile names the sound resource the delivery layers play.
	SoundProfile string `json:"sound_profile,omitempty"`
	// Haptics enables the vibration-capable layers for this alarm.
	Haptics bool `json:"haptics"`
}

// Validate checks the config for required fields.
func (c *Config) Validate() error {
	if c.ID == "" {
		return ErrMissingID
	}

	if !c.Start.Valid() || !c.End.Valid() {
		return ErrInvalidWindow
	}

	return nil
}

// Clone returns a copy of the config to avoid leaking internal references.
func (c *Config) Clone() *Config {
	if c == nil {
		return nil
	}

	cloned := *c

	return &cloned
}
