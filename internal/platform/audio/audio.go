package audio

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"runtime"
	"sync"

	"github.com/oshokin/alarm-engine/internal/logger"
)

// Playback is a running sound; stopping it is idempotent.
type Playback interface {
	// Stop ends the playback. Stopping an already-stopped playback is a no-op.
	Stop() error
}

// Player produces a looping, maximum-volume alarm sound.
type Player interface {
	// Preload makes the sound resource for the profile ready to start with
	// minimal latency.
	Preload(ctx context.Context, profile string) error
	// Play starts looping playback. The returned Playback keeps looping
	// until stopped.
	Play(ctx context.Context, profile string) (Playback, error)
}

// Waker is the host-level facility that wakes the display, claims the alarm
// audio priority and starts playback in one call.
type Waker interface {
	// WakeAndPlay requests alarm-priority playback with display wake.
	WakeAndPlay(ctx context.Context, profile string) (Playback, error)
}

// Haptics produces a vibration pattern where the host supports one.
type Haptics interface {
	// Pulse emits one vibration pulse. Unsupported hosts return
	// ErrUnsupported.
	Pulse(ctx context.Context) error
}

// ErrUnsupported is returned by platform facilities the host does not provide.
var ErrUnsupported = errors.New("not supported on this host")

// soundFiles maps profile names to the bundled sound resources.
//
//nolint:gochecknoglobals // Static lookup table.
var soundFiles = map[string]string{
	"classic": "/usr/share/sounds/freedesktop/stereo/alarm-clock-elapsed.oga",
	"bell":    "/usr/share/sounds/freedesktop/stereo/complete.oga",
	"":        "/usr/share/sounds/freedesktop/stereo/alarm-clock-elapsed.oga",
}

// ExecPlayer plays sound files through the host's command-line player:
// paplay on Linux, afplay on macOS. Looping is managed in-process: the
// player command is re-run until the playback is stopped.
type ExecPlayer struct{}

// NewExecPlayer returns a player backed by the host's audio commands.
func NewExecPlayer() *ExecPlayer {
	return &ExecPlayer{}
}

// Preload verifies the player command and the sound resource exist, so the
// first loop iteration does not pay the lookup cost at fire time.
func (p *ExecPlayer) Preload(_ context.Context, profile string) error {
	command, _, err := playerCommand(profile)
	if err != nil {
		return err
	}

	if _, err = exec.LookPath(command); err != nil {
		return fmt.Errorf("audio player unavailable: %w", err)
	}

	return nil
}

// Play starts the looping playback.
func (p *ExecPlayer) Play(ctx context.Context, profile string) (Playback, error) {
	command, args, err := playerCommand(profile)
	if err != nil {
		return nil, err
	}

	loopCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	pb := &execPlayback{cancel: cancel}

	go pb.loop(loopCtx, command, args)

	return pb, nil
}

// playerCommand resolves the host player invocation for the profile.
func playerCommand(profile string) (string, []string, error) {
	file, ok := soundFiles[profile]
	if !ok {
		file = soundFiles[""]
	}

	switch runtime.GOOS {
	case "linux":
		// --volume 65536 is PulseAudio's maximum.
		return "paplay", []string{"--volume", "65536", file}, nil
	case "darwin":
		return "afplay", []string{"-v", "1", file}, nil
	default:
		return "", nil, fmt.Errorf("audio playback on %s: %w", runtime.GOOS, ErrUnsupported)
	}
}

// execPlayback re-runs the player command until stopped.
type execPlayback struct {
	// cancel ends the loop.
	cancel context.CancelFunc
	// once guards cancel so Stop is idempotent.
	once sync.Once
}

// loop runs the player command back to back until the context is canceled.
func (p *execPlayback) loop(ctx context.Context, command string, args []string) {
	for ctx.Err() == nil {
		cmd := exec.CommandContext(ctx, command, args...)
		if err := cmd.Run(); err != nil && ctx.Err() == nil {
			logger.WarnKV(ctx, "Audio player run failed, stopping loop", "command", command, "error", err)

			return
		}
	}
}

// Stop ends the looping playback.
func (p *execPlayback) Stop() error {
	p.once.Do(p.cancel)

	return nil
}

// ExecWaker approximates the host wake facility on desktops: it resets the
// display idle timer where a tool for that exists and starts alarm playback
// through an ExecPlayer.
type ExecWaker struct {
	// player performs the audio half of the wake call.
	player *ExecPlayer
}

// NewExecWaker returns a waker backed by host commands.
func NewExecWaker() *ExecWaker {
	return &ExecWaker{player: NewExecPlayer()}
}

// WakeAndPlay wakes the display best-effort and starts playback. A failed
// display wake does not fail the call; a failed playback start does.
func (w *ExecWaker) WakeAndPlay(ctx context.Context, profile string) (Playback, error) {
	if err := wakeDisplay(ctx); err != nil {
		logger.DebugKV(ctx, "Display wake unavailable", "error", err)
	}

	return w.player.Play(ctx, profile)
}

// wakeDisplay pokes the host's screensaver inhibitor.
func wakeDisplay(ctx context.Context) error {
	switch runtime.GOOS {
	case "linux":
		return exec.CommandContext(ctx, "xdg-screensaver", "reset").Start()
	case "darwin":
		return exec.CommandContext(ctx, "caffeinate", "-u", "-t", "1").Start()
	default:
		return fmt.Errorf("display wake on %s: %w", runtime.GOOS, ErrUnsupported)
	}
}

// NoopHaptics is the Haptics implementation for hosts without a vibration
// motor; every pulse reports ErrUnsupported.
type NoopHaptics struct{}

// Pulse reports that vibration is unsupported.
func (NoopHaptics) Pulse(context.Context) error {
	return ErrUnsupported
}
