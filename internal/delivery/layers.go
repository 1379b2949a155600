package delivery

import (
	"context"
	"errors"
	"fmt"
	"time"

	domain "github.com/oshokin/alarm-engine/internal/domain/alarm"
	"github.com/oshokin/alarm-engine/internal/logger"
	"github.com/oshokin/alarm-engine/internal/platform/audio"
	"github.com/oshokin/alarm-engine/internal/platform/notify"
	"github.com/oshokin/alarm-engine/internal/registry"
)

// Capability names reported by the layers to the capability estimator.
const (
	// CapabilityExactWake is the host's alarm-priority wake facility.
	CapabilityExactWake = "exact_wake"
	// CapabilityAudio is direct audio playback.
	CapabilityAudio = "audio"
	// CapabilityNotifications is the system alerting channel.
	CapabilityNotifications = "notifications"
)

// LayerCapability maps a layer name to the platform capability whose
// success it evidences. The emergency layer evidences nothing: it running
// means the regular channels already failed.
func LayerCapability(name string) (string, bool) {
	switch name {
	case "wake_audio":
		return CapabilityExactWake, true
	case "playback":
		return CapabilityAudio, true
	case "pulse":
		return CapabilityNotifications, true
	default:
		return "", false
	}
}

// DefaultPulseInterval spaces the periodic system alerts.
const DefaultPulseInterval = 3 * time.Second

// Default emergency fallback shape: 10 pulses over 20 seconds.
const (
	DefaultEmergencyPulses  = 10
	DefaultEmergencySpacing = 2 * time.Second
)

// WakeAudioLayer is the primary layer: one host call that wakes the
// display, claims alarm audio priority and starts playback.
type WakeAudioLayer struct {
	// waker is the host wake facility.
	waker audio.Waker
	// reg is the global resource ledger.
	reg *registry.Registry
}

// NewWakeAudioLayer builds the primary wake+audio layer.
func NewWakeAudioLayer(waker audio.Waker, reg *registry.Registry) *WakeAudioLayer {
	return &WakeAudioLayer{waker: waker, reg: reg}
}

// Name identifies the layer.
func (l *WakeAudioLayer) Name() string {
	return "wake_audio"
}

// Capability names the platform capability this layer exercises.
func (l *WakeAudioLayer) Capability() string {
	return CapabilityExactWake
}

// Preload is a no-op; the waker owns no per-alarm resources ahead of time.
func (l *WakeAudioLayer) Preload(context.Context, *domain.Config) error {
	return nil
}

// Start performs the wake+play call and registers the resulting playback.
func (l *WakeAudioLayer) Start(ctx context.Context, cfg *domain.Config, instance *domain.Instance) error {
	handle := newPlaybackHandle("wake_audio/" + instance.ID)
	if err := l.reg.Register(ctx, handle); err != nil {
		return fmt.Errorf("register wake audio handle: %w", err)
	}

	playback, err := l.waker.WakeAndPlay(ctx, cfg.SoundProfile)
	if err != nil {
		l.reg.Unregister(handle.ID())

		return fmt.Errorf("wake and play: %w", err)
	}

	handle.attach(playback)

	return nil
}

// PlaybackLayer plays the pre-loaded sound resource directly, looping at
// maximum volume, independent of the host wake facility.
type PlaybackLayer struct {
	// player produces the looping sound.
	player audio.Player
	// reg is the global resource ledger.
	reg *registry.Registry
}

// NewPlaybackLayer builds the direct-playback layer.
func NewPlaybackLayer(player audio.Player, reg *registry.Registry) *PlaybackLayer {
	return &PlaybackLayer{player: player, reg: reg}
}

// Name identifies the layer.
func (l *PlaybackLayer) Name() string {
	return "playback"
}

// Capability names the platform capability this layer exercises.
func (l *PlaybackLayer) Capability() string {
	return CapabilityAudio
}

// Preload readies the sound resource at arm time.
func (l *PlaybackLayer) Preload(ctx context.Context, cfg *domain.Config) error {
	return l.player.Preload(ctx, cfg.SoundProfile)
}

// Start registers the handle first and only then starts playback, so a stop
// sweep racing the start can never leave an untracked sound running.
func (l *PlaybackLayer) Start(ctx context.Context, cfg *domain.Config, instance *domain.Instance) error {
	handle := newPlaybackHandle("playback/" + instance.ID)
	if err := l.reg.Register(ctx, handle); err != nil {
		return fmt.Errorf("register playback handle: %w", err)
	}

	playback, err := l.player.Play(ctx, cfg.SoundProfile)
	if err != nil {
		l.reg.Unregister(handle.ID())

		return fmt.Errorf("start playback: %w", err)
	}

	if !handle.attach(playback) {
		return errors.New("playback stopped by sweep before it started")
	}

	return nil
}

// PulseLayer emits a high-priority system alert with sound at a fixed
// interval while the instance stays ringing; it backstops hosts that
// throttle the audio layers.
type PulseLayer struct {
	// notifier emits the alerts.
	notifier notify.Notifier
	// reg is the global resource ledger.
	reg *registry.Registry
	// interval spaces the alerts.
	interval time.Duration
}

// NewPulseLayer builds the periodic-pulse layer.
func NewPulseLayer(notifier notify.Notifier, reg *registry.Registry, interval time.Duration) *PulseLayer {
	if interval <= 0 {
		interval = DefaultPulseInterval
	}

	return &PulseLayer{notifier: notifier, reg: reg, interval: interval}
}

// Name identifies the layer.
func (l *PulseLayer) Name() string {
	return "pulse"
}

// Capability names the platform capability this layer exercises.
func (l *PulseLayer) Capability() string {
	return CapabilityNotifications
}

// Preload is a no-op; alerts acquire nothing ahead of time.
func (l *PulseLayer) Preload(context.Context, *domain.Config) error {
	return nil
}

// Start emits the first alert synchronously, then keeps pulsing until the
// ringing context is canceled or the registered handle is released by a
// stop sweep. Both terminations share one cancellation signal; no timer is
// destroyed piecemeal.
func (l *PulseLayer) Start(ctx context.Context, cfg *domain.Config, instance *domain.Instance) error {
	pulseCtx, cancel := context.WithCancel(ctx)

	handle := newCancelHandle("pulse/"+instance.ID, cancel)
	if err := l.reg.Register(ctx, handle); err != nil {
		return fmt.Errorf("register pulse handle: %w", err)
	}

	alert := notify.Notification{
		Summary:   "Alarm " + cfg.ID,
		Body:      fmt.Sprintf("Ringing since %s.", instance.ScheduledTime.Format("15:04")),
		Critical:  true,
		WithSound: true,
	}

	if err := l.notifier.Alert(pulseCtx, alert); err != nil {
		l.reg.Unregister(handle.ID())
		cancel()

		return fmt.Errorf("first pulse: %w", err)
	}

	go l.pulse(pulseCtx, alert)

	return nil
}

// pulse re-emits the alert until the shared signal cancels it.
func (l *PulseLayer) pulse(ctx context.Context, alert notify.Notification) {
	ticker := time.NewTicker(l.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := l.notifier.Alert(ctx, alert); err != nil && ctx.Err() == nil {
				logger.WarnKV(ctx, "Pulse alert failed", "error", err)
			}
		}
	}
}

// EmergencyLayer is the last-resort fallback: a bounded run of vibration
// pulses and low-cost alert bursts, launched only when every other layer
// failed to start.
type EmergencyLayer struct {
	// haptics produces vibration pulses where the host has a motor.
	haptics audio.Haptics
	// notifier emits the alert bursts.
	notifier notify.Notifier
	// reg is the global resource ledger.
	reg *registry.Registry
	// pulses bounds the number of bursts.
	pulses int
	// spacing separates consecutive bursts.
	spacing time.Duration
}

// NewEmergencyLayer builds the emergency fallback layer.
func NewEmergencyLayer(
	haptics audio.Haptics,
	notifier notify.Notifier,
	reg *registry.Registry,
	pulses int,
	spacing time.Duration,
) *EmergencyLayer {
	if pulses <= 0 {
		pulses = DefaultEmergencyPulses
	}

	if spacing <= 0 {
		spacing = DefaultEmergencySpacing
	}

	return &EmergencyLayer{
		haptics:  haptics,
		notifier: notifier,
		reg:      reg,
		pulses:   pulses,
		spacing:  spacing,
	}
}

// Name identifies the layer.
func (l *EmergencyLayer) Name() string {
	return "emergency"
}

// Preload is a no-op.
func (l *EmergencyLayer) Preload(context.Context, *domain.Config) error {
	return nil
}

// Start launches the bounded burst run. It succeeds as long as the run
// could be registered; individual burst failures are logged only, since by
// the time this layer runs there is nothing left to fall back to.
func (l *EmergencyLayer) Start(ctx context.Context, cfg *domain.Config, instance *domain.Instance) error {
	burstCtx, cancel := context.WithCancel(ctx)

	handle := newCancelHandle("emergency/"+instance.ID, cancel)
	if err := l.reg.Register(ctx, handle); err != nil {
		return fmt.Errorf("register emergency handle: %w", err)
	}

	go l.burst(burstCtx, cfg, instance)

	return nil
}

// burst runs the bounded vibration and alert sequence.
func (l *EmergencyLayer) burst(ctx context.Context, cfg *domain.Config, instance *domain.Instance) {
	alert := notify.Notification{
		Summary:   "Alarm " + cfg.ID,
		Body:      "Alarm is ringing. All sound channels failed; please check your audio setup.",
		Critical:  true,
		WithSound: true,
	}

	for i := 0; i < l.pulses; i++ {
		if ctx.Err() != nil {
			return
		}

		if cfg.Haptics {
			if err := l.haptics.Pulse(ctx); err != nil && !errors.Is(err, audio.ErrUnsupported) {
				logger.WarnKV(ctx, "Emergency haptic pulse failed", "error", err)
			}
		}

		if err := l.notifier.Alert(ctx, alert); err != nil && ctx.Err() == nil {
			logger.WarnKV(ctx, "Emergency alert burst failed", "instance_id", instance.ID, "error", err)
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(l.spacing):
		}
	}
}
