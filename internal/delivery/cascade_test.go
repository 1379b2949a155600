package delivery

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	domain "github.com/oshokin/alarm-engine/internal/domain/alarm"
	"github.com/oshokin/alarm-engine/internal/platform/audio"
	"github.com/oshokin/alarm-engine/internal/platform/notify"
	"github.com/oshokin/alarm-engine/internal/registry"
)

// fakeLayer is a scriptable Layer for cascade tests.
type fakeLayer struct {
	// name identifies the layer in reports.
	name string
	// startErr is returned from Start when set.
	startErr error
	// panics makes Start panic instead of returning.
	panics bool
	// started counts Start invocations.
	started atomic.Int32
}

func (l *fakeLayer) Name() string { return l.name }

func (l *fakeLayer) Preload(context.Context, *domain.Config) error { return nil }

func (l *fakeLayer) Start(context.Context, *domain.Config, *domain.Instance) error {
	l.started.Add(1)

	if l.panics {
		panic("layer exploded")
	}

	return l.startErr
}

// testInstance returns a ringing instance for cascade tests.
func testInstance() *domain.Instance {
	return &domain.Instance{
		ID:            "i-1",
		AlarmID:       "wake-up",
		ScheduledTime: time.Now(),
		ExpiryTime:    time.Now().Add(time.Hour),
		State:         domain.StateRinging,
	}
}

// TestActivateAllLayersStart checks the happy path: every layer starts, no
// emergency launch.
func TestActivateAllLayersStart(t *testing.T) {
	t.Parallel()

	emergency := &fakeLayer{name: "emergency"}
	cascade := NewCascade(emergency,
		&fakeLayer{name: "wake_audio"},
		&fakeLayer{name: "playback"},
		&fakeLayer{name: "pulse"},
	)

	report := cascade.Activate(context.Background(), &domain.Config{ID: "wake-up"}, testInstance())

	require.True(t, report.Success)
	require.False(t, report.EmergencyUsed)
	require.Len(t, report.Results, 3)
	require.ElementsMatch(t, []string{"wake_audio", "playback", "pulse"}, report.Started())
	require.Zero(t, emergency.started.Load())
}

// TestActivatePartialFailureStillSucceeds covers the scenario where the
// first two layers fail and the third carries the alarm: the report is an
// overall success with the failures marked non-fatal.
func TestActivatePartialFailureStillSucceeds(t *testing.T) {
	t.Parallel()

	cascade := NewCascade(&fakeLayer{name: "emergency"},
		&fakeLayer{name: "wake_audio", startErr: errors.New("wake rejected")},
		&fakeLayer{name: "playback", panics: true},
		&fakeLayer{name: "pulse"},
	)

	report := cascade.Activate(context.Background(), &domain.Config{ID: "wake-up"}, testInstance())

	require.True(t, report.Success)
	require.False(t, report.EmergencyUsed)
	require.Equal(t, []string{"pulse"}, report.Started())

	var failed int

	for _, result := range report.Results {
		if result.Err != nil {
			failed++
		}
	}

	require.Equal(t, 2, failed)
}

// TestActivateTotalFailureLaunchesEmergency ensures the emergency layer runs
// only when every primary layer failed, and rescues the activation.
func TestActivateTotalFailureLaunchesEmergency(t *testing.T) {
	t.Parallel()

	emergency := &fakeLayer{name: "emergency"}
	cascade := NewCascade(emergency,
		&fakeLayer{name: "wake_audio", startErr: errors.New("no wake")},
		&fakeLayer{name: "playback", startErr: errors.New("no audio")},
		&fakeLayer{name: "pulse", startErr: errors.New("no daemon")},
	)

	report := cascade.Activate(context.Background(), &domain.Config{ID: "wake-up"}, testInstance())

	require.True(t, report.Success)
	require.True(t, report.EmergencyUsed)
	require.Equal(t, int32(1), emergency.started.Load())
	require.Equal(t, []string{"emergency"}, report.Started())
}

// TestActivateEverythingFails covers total cascade failure including the
// emergency layer.
func TestActivateEverythingFails(t *testing.T) {
	t.Parallel()

	cascade := NewCascade(&fakeLayer{name: "emergency", startErr: errors.New("bus gone")},
		&fakeLayer{name: "playback", startErr: errors.New("no audio")},
	)

	report := cascade.Activate(context.Background(), &domain.Config{ID: "wake-up"}, testInstance())

	require.False(t, report.Success)
	require.True(t, report.EmergencyUsed)
	require.Empty(t, report.Started())
}

// fakePlayback records stop calls.
type fakePlayback struct {
	stopped atomic.Int32
}

func (p *fakePlayback) Stop() error {
	p.stopped.Add(1)

	return nil
}

// fakePlayer hands out fakePlaybacks.
type fakePlayer struct {
	// playErr fails Play when set.
	playErr error
	// last is the most recent playback handed out.
	last *fakePlayback
	// mu protects last.
	mu sync.Mutex
}

func (p *fakePlayer) Preload(context.Context, string) error { return nil }

func (p *fakePlayer) Play(context.Context, string) (audio.Playback, error) {
	if p.playErr != nil {
		return nil, p.playErr
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	p.last = &fakePlayback{}

	return p.last, nil
}

// fakeNotifier counts alerts.
type fakeNotifier struct {
	// alertErr fails Alert when set.
	alertErr error
	// alerts counts successful Alert calls.
	alerts atomic.Int32
}

func (n *fakeNotifier) Alert(context.Context, notify.Notification) error {
	if n.alertErr != nil {
		return n.alertErr
	}

	n.alerts.Add(1)

	return nil
}

// TestPlaybackLayerRegistersBeforePlaying ensures the handle is in the
// registry before playback starts and that a sweep stops the sound.
func TestPlaybackLayerRegistersBeforePlaying(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	reg := registry.New()
	player := &fakePlayer{}
	layer := NewPlaybackLayer(player, reg)

	require.NoError(t, layer.Start(ctx, &domain.Config{ID: "wake-up"}, testInstance()))
	require.Equal(t, 1, reg.ActiveCount())

	require.Equal(t, 1, reg.StopAll(ctx))
	require.Equal(t, int32(1), player.last.stopped.Load())
}

// TestPlaybackLayerRefusedDuringSweep ensures a layer starting during a stop
// sweep reports failure and leaves nothing running.
func TestPlaybackLayerRefusedDuringSweep(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	reg := registry.New()
	reg.StopAll(ctx)

	player := &fakePlayer{}
	layer := NewPlaybackLayer(player, reg)

	err := layer.Start(ctx, &domain.Config{ID: "wake-up"}, testInstance())
	require.ErrorIs(t, err, registry.ErrStopping)
	require.Equal(t, 0, reg.ActiveCount())
	require.Nil(t, player.last, "playback must not start once the sweep began")
}

// TestPulseLayerPulsesUntilCanceled checks periodic alerts and both
// termination paths: context cancellation and sweep release.
func TestPulseLayerPulsesUntilCanceled(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	reg := registry.New()
	notifier := &fakeNotifier{}
	layer := NewPulseLayer(notifier, reg, 5*time.Millisecond)

	require.NoError(t, layer.Start(ctx, &domain.Config{ID: "wake-up"}, testInstance()))
	require.Equal(t, int32(1), notifier.alerts.Load(), "first pulse is synchronous")

	require.Eventually(t, func() bool {
		return notifier.alerts.Load() >= 3
	}, time.Second, time.Millisecond)

	// A sweep stops the pulses.
	reg.StopAll(ctx)

	time.Sleep(20 * time.Millisecond)
	after := notifier.alerts.Load()
	time.Sleep(20 * time.Millisecond)
	require.Equal(t, after, notifier.alerts.Load(), "pulses must stop after the sweep")
}

// TestPulseLayerFirstAlertFailure ensures a dead notifier fails the layer
// cleanly with nothing registered.
func TestPulseLayerFirstAlertFailure(t *testing.T) {
	t.Parallel()

	reg := registry.New()
	layer := NewPulseLayer(&fakeNotifier{alertErr: errors.New("no daemon")}, reg, time.Millisecond)

	err := layer.Start(context.Background(), &domain.Config{ID: "wake-up"}, testInstance())
	require.Error(t, err)
	require.Equal(t, 0, reg.ActiveCount())
}

// TestEmergencyLayerBoundedBursts verifies the bounded burst run and its
// termination by sweep.
func TestEmergencyLayerBoundedBursts(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	reg := registry.New()
	notifier := &fakeNotifier{}
	layer := NewEmergencyLayer(audio.NoopHaptics{}, notifier, reg, 3, time.Millisecond)

	cfg := &domain.Config{ID: "wake-up", Haptics: true}
	require.NoError(t, layer.Start(ctx, cfg, testInstance()))

	require.Eventually(t, func() bool {
		return notifier.alerts.Load() == 3
	}, time.Second, time.Millisecond, "burst run is bounded at the configured pulse count")

	time.Sleep(10 * time.Millisecond)
	require.Equal(t, int32(3), notifier.alerts.Load())

	// The handle is still registered; the sweep releases it.
	require.Equal(t, 1, reg.ActiveCount())
	require.Equal(t, 1, reg.StopAll(ctx))
}
