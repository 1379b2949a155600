package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	domain "github.com/oshokin/alarm-engine/internal/domain/alarm"
)

// baseNow is a fixed reference instant: Friday, 2024-03-15 07:00 UTC.
var baseNow = time.Date(2024, time.March, 15, 7, 0, 0, 0, time.UTC)

// testConfig returns an enabled 06:30-07:30 config with the given repeat rule.
func testConfig(repeat domain.Repeat) *domain.Config {
	return &domain.Config{
		ID:      "wake-up",
		Start:   domain.TimeOfDay{Hour: 6, Minute: 30},
		End:     domain.TimeOfDay{Hour: 7, Minute: 30},
		Repeat:  repeat,
		Enabled: true,
	}
}

// recordingSink collects scheduler events for assertions.
type recordingSink struct {
	// mu protects the event slices.
	mu sync.Mutex
	// fired lists TriggerFired events as "instanceID/source".
	fired []string
	// expired lists InstanceExpired instance ids.
	expired []string
}

// TriggerFired records the firing.
func (s *recordingSink) TriggerFired(_ context.Context, instanceID string, source FireSource) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.fired = append(s.fired, instanceID+"/"+string(source))
}

// InstanceExpired records the expiry.
func (s *recordingSink) InstanceExpired(_ context.Context, instanceID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.expired = append(s.expired, instanceID)
}

// snapshot returns copies of the recorded events.
func (s *recordingSink) snapshot() (fired, expired []string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return append([]string(nil), s.fired...), append([]string(nil), s.expired...)
}

// rejectingTrigger is a HostTrigger whose registrations always fail.
type rejectingTrigger struct{}

func (rejectingTrigger) Schedule(context.Context, string, time.Time, func()) error {
	return errors.New("exact wake capability not granted")
}

func (rejectingTrigger) Cancel(context.Context, string) {}

// TestNextFireTime covers the candidate/advance rules.
func TestNextFireTime(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name     string
		repeat   domain.Repeat
		now      time.Time
		expected time.Time
	}{
		{
			name:     "single shot before start fires today",
			repeat:   domain.Repeat{Kind: domain.RepeatNone},
			now:      baseNow.Add(-time.Hour), // 06:00
			expected: time.Date(2024, time.March, 15, 6, 30, 0, 0, time.UTC),
		},
		{
			name:     "single shot after start fires tomorrow",
			repeat:   domain.Repeat{Kind: domain.RepeatNone},
			now:      baseNow, // 07:00
			expected: time.Date(2024, time.March, 16, 6, 30, 0, 0, time.UTC),
		},
		{
			name:     "exactly at start advances to tomorrow",
			repeat:   domain.Repeat{Kind: domain.RepeatNone},
			now:      time.Date(2024, time.March, 15, 6, 30, 0, 0, time.UTC),
			expected: time.Date(2024, time.March, 16, 6, 30, 0, 0, time.UTC),
		},
		{
			name:     "mask containing today with start still ahead fires today",
			repeat:   domain.Repeat{Kind: domain.RepeatWeekdays, Days: domain.MaskOf(time.Friday)},
			now:      baseNow.Add(-time.Hour),
			expected: time.Date(2024, time.March, 15, 6, 30, 0, 0, time.UTC),
		},
		{
			name:     "mask skips to next matching weekday",
			repeat:   domain.Repeat{Kind: domain.RepeatWeekdays, Days: domain.MaskOf(time.Monday)},
			now:      baseNow,
			expected: time.Date(2024, time.March, 18, 6, 30, 0, 0, time.UTC),
		},
		{
			name:     "mask containing only today after start waits a full week",
			repeat:   domain.Repeat{Kind: domain.RepeatWeekdays, Days: domain.MaskOf(time.Friday)},
			now:      baseNow,
			expected: time.Date(2024, time.March, 22, 6, 30, 0, 0, time.UTC),
		},
		{
			name:     "empty mask degenerates to single shot",
			repeat:   domain.Repeat{Kind: domain.RepeatWeekdays},
			now:      baseNow,
			expected: time.Date(2024, time.March, 16, 6, 30, 0, 0, time.UTC),
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			got := NextFireTime(testConfig(tc.repeat), tc.now)
			require.Equal(t, tc.expected, got)
			require.True(t, got.After(tc.now), "fire time must be strictly in the future")
		})
	}
}

// TestWindow checks expiry derivation, including the daily scenario from the
// product requirements and the overnight wraparound.
func TestWindow(t *testing.T) {
	t.Parallel()

	// Daily 06:30-07:30 armed at 07:00 -> tomorrow 06:30 / tomorrow 07:30.
	trigger, expiry := Window(testConfig(domain.Repeat{Kind: domain.RepeatDaily}), baseNow)
	require.Equal(t, time.Date(2024, time.March, 16, 6, 30, 0, 0, time.UTC), trigger)
	require.Equal(t, time.Date(2024, time.March, 16, 7, 30, 0, 0, time.UTC), expiry)

	// Overnight window 23:30 -> 00:30 expires on the following day.
	night := testConfig(domain.Repeat{Kind: domain.RepeatNone})
	night.Start = domain.TimeOfDay{Hour: 23, Minute: 30}
	night.End = domain.TimeOfDay{Hour: 0, Minute: 30}

	trigger, expiry = Window(night, baseNow)
	require.Equal(t, time.Date(2024, time.March, 15, 23, 30, 0, 0, time.UTC), trigger)
	require.Equal(t, time.Date(2024, time.March, 16, 0, 30, 0, 0, time.UTC), expiry)
	require.True(t, expiry.After(trigger))
}

// TestArmIsIdempotentPerAlarm verifies disarm-then-arm semantics for
// repeated Arm calls on the same config.
func TestArmIsIdempotentPerAlarm(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	sink := new(recordingSink)
	s := New(sink, Options{Now: func() time.Time { return baseNow }})

	first, err := s.Arm(ctx, testConfig(domain.Repeat{Kind: domain.RepeatDaily}))
	require.NoError(t, err)

	second, err := s.Arm(ctx, testConfig(domain.Repeat{Kind: domain.RepeatDaily}))
	require.NoError(t, err)
	require.NotEqual(t, first.ID, second.ID)

	s.mu.Lock()
	_, firstTracked := s.armed[first.ID]
	_, secondTracked := s.armed[second.ID]
	s.mu.Unlock()

	require.False(t, firstTracked, "previous instance must be dropped")
	require.True(t, secondTracked)
}

// TestArmRejectsDisabledAndInvalid checks Arm input validation.
func TestArmRejectsDisabledAndInvalid(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := New(new(recordingSink), Options{Now: func() time.Time { return baseNow }})

	disabled := testConfig(domain.Repeat{Kind: domain.RepeatNone})
	disabled.Enabled = false

	_, err := s.Arm(ctx, disabled)
	require.ErrorIs(t, err, ErrDisabled)

	_, err = s.Arm(ctx, &domain.Config{Start: domain.TimeOfDay{Hour: 6}, End: domain.TimeOfDay{Hour: 7}, Enabled: true})
	require.ErrorIs(t, err, domain.ErrMissingID)
}

// TestMonitorLoopFiresAndExpires drives the loop with a shifting fake clock
// and checks both firing and expiry enforcement on the secondary path.
func TestMonitorLoopFiresAndExpires(t *testing.T) {
	t.Parallel()

	sink := new(recordingSink)

	var (
		mu  sync.Mutex
		now = baseNow
	)

	s := New(sink, Options{
		Tick: time.Millisecond,
		Now: func() time.Time {
			mu.Lock()
			defer mu.Unlock()

			return now
		},
		// Reject host registrations so only the monitoring loop can fire.
		Host: rejectingTrigger{},
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	instance, err := s.Arm(ctx, testConfig(domain.Repeat{Kind: domain.RepeatDaily}))
	require.NoError(t, err)

	go s.Run(ctx)

	// Advance past the trigger time.
	mu.Lock()
	now = instance.ScheduledTime.Add(time.Second)
	mu.Unlock()

	require.Eventually(t, func() bool {
		fired, _ := sink.snapshot()
		return len(fired) == 1 && fired[0] == instance.ID+"/monitor"
	}, time.Second, time.Millisecond, "monitoring loop must fire the due instance exactly once")

	// Advance past expiry.
	mu.Lock()
	now = instance.ExpiryTime.Add(time.Second)
	mu.Unlock()

	require.Eventually(t, func() bool {
		_, expired := sink.snapshot()
		return len(expired) == 1 && expired[0] == instance.ID
	}, time.Second, time.Millisecond, "monitoring loop must enforce expiry exactly once")

	// The loop reports each event at most once even as ticks continue.
	time.Sleep(10 * time.Millisecond)

	fired, expired := sink.snapshot()
	require.Len(t, fired, 1)
	require.Len(t, expired, 1)
}

// TestHostPathFiresThroughTimerTrigger exercises the primary path end to end
// with the in-process timer implementation.
func TestHostPathFiresThroughTimerTrigger(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	sink := new(recordingSink)
	s := New(sink, Options{Now: time.Now})

	instance := &domain.Instance{
		ID:            "i-host",
		AlarmID:       "wake-up",
		ScheduledTime: time.Now().Add(10 * time.Millisecond),
		ExpiryTime:    time.Now().Add(time.Hour),
		State:         domain.StateArmed,
	}
	require.NoError(t, s.ArmInstance(ctx, instance))

	require.Eventually(t, func() bool {
		fired, _ := sink.snapshot()
		return len(fired) == 1 && fired[0] == "i-host/host"
	}, time.Second, time.Millisecond)
}

// TestDisarmSilencesHostTimer ensures a disarmed instance never reaches the
// sink, even if the host timer was already in flight.
func TestDisarmSilencesHostTimer(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	sink := new(recordingSink)
	s := New(sink, Options{Now: time.Now})

	instance := &domain.Instance{
		ID:            "i-gone",
		AlarmID:       "wake-up",
		ScheduledTime: time.Now().Add(20 * time.Millisecond),
		ExpiryTime:    time.Now().Add(time.Hour),
		State:         domain.StateArmed,
	}
	require.NoError(t, s.ArmInstance(ctx, instance))
	s.Disarm(ctx, instance.ID)

	time.Sleep(50 * time.Millisecond)

	fired, _ := sink.snapshot()
	require.Empty(t, fired)
}
