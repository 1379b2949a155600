package scheduler

import (
	"context"
	"sync"
	"time"
)

// HostTrigger is the host-level "wake me at this exact instant even if
// suspended" facility. It is the primary firing path; registration may be
// rejected (capability not granted), in which case the scheduler degrades
// to its monitoring loop with a warning.
type HostTrigger interface {
	// Schedule registers an exact wake; fire is invoked asynchronously when
	// the instant arrives. Re-scheduling the same instance id replaces the
	// previous registration.
	Schedule(ctx context.Context, instanceID string, at time.Time, fire func()) error
	// Cancel drops the registration for the instance id, if any.
	Cancel(ctx context.Context, instanceID string)
}

// TimerTrigger is the default HostTrigger backed by in-process timers.
// It is used when no platform wake facility is wired in; it cannot survive
// process death, which is exactly what the monitoring loop and persisted
// instance records compensate for.
type TimerTrigger struct {
	// mu protects timers.
	mu sync.Mutex
	// timers maps instance id to its pending timer.
	timers map[string]*time.Timer
}

// NewTimerTrigger returns an empty in-process trigger.
func NewTimerTrigger() *TimerTrigger {
	return &TimerTrigger{
		timers: make(map[string]*time.Timer),
	}
}

// Schedule arms a timer for the instance, replacing any previous one.
// Instants in the past fire immediately.
func (t *TimerTrigger) Schedule(_ context.Context, instanceID string, at time.Time, fire func()) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if old, ok := t.timers[instanceID]; ok {
		old.Stop()
	}

	t.timers[instanceID] = time.AfterFunc(time.Until(at), func() {
		t.mu.Lock()
		delete(t.timers, instanceID)
		t.mu.Unlock()

		fire()
	})

	return nil
}

// Cancel stops and forgets the timer for the instance, if any.
func (t *TimerTrigger) Cancel(_ context.Context, instanceID string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if timer, ok := t.timers[instanceID]; ok {
		timer.Stop()
		delete(t.timers, instanceID)
	}
}
