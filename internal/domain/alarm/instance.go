package alarm

import "time"

// State is the lifecycle stage of an alarm instance.
type State string

const (
	// StateIdle means no instance is armed for the config.
	StateIdle State = "idle"
	// StateArmed means the trigger is registered but has not fired yet.
	StateArmed State = "armed"
	// StateRinging means the trigger fired and the delivery cascade is active.
	StateRinging State = "ringing"
	// StateSnoozed means the user deferred a ringing instance.
	StateSnoozed State = "snoozed"
	// StateStopped is terminal for the instance.
	StateStopped State = "stopped"
)

// Instance is one concrete firing of a Config.
//
// An instance is created when a config is armed and becomes logically dead
// on the transition to StateStopped; a recurring config then gets a fresh
// instance for its next occurrence.
type Instance struct {
	// ID uniquely identifies this firing.
	ID string `json:"id"`
	// AlarmID is the owning config's identifier.
	AlarmID string `json:"alarm_id"`
	// ScheduledTime is the wall-clock instant the instance is meant to fire.
	ScheduledTime time.Time `json:"scheduled_time"`
	// ExpiryTime is the instant past which a ringing instance is force-stopped.
	ExpiryTime time.Time `json:"expiry_time"`
	// ActualFireTime is set on the transition to StateRinging.
	ActualFireTime *time.Time `json:"actual_fire_time,omitempty"`
	// State is the current lifecycle stage.
	State State `json:"state"`
	// SnoozeCount is how many times the user deferred this instance.
	SnoozeCount int `json:"snooze_count"`
	// Recurring records whether the owning config re-arms after stop,
	// so the instance can be recovered without the config record.
	Recurring bool `json:"recurring"`
}

// Clone returns a copy of the instance to avoid leaking internal references.
func (i *Instance) Clone() *Instance {
	if i == nil {
		return nil
	}

	cloned := *i
	if i.ActualFireTime != nil {
		fired := *i.ActualFireTime
		cloned.ActualFireTime = &fired
	}

	return &cloned
}
