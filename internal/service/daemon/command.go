package daemon

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap/zapcore"

	"github.com/oshokin/alarm-engine/internal/capability"
	"github.com/oshokin/alarm-engine/internal/config"
	"github.com/oshokin/alarm-engine/internal/delivery"
	domain "github.com/oshokin/alarm-engine/internal/domain/alarm"
	"github.com/oshokin/alarm-engine/internal/logger"
	"github.com/oshokin/alarm-engine/internal/platform/audio"
	"github.com/oshokin/alarm-engine/internal/platform/notify"
	"github.com/oshokin/alarm-engine/internal/registry"
	repo "github.com/oshokin/alarm-engine/internal/repository/state"
	"github.com/oshokin/alarm-engine/internal/scheduler"
	"github.com/oshokin/alarm-engine/internal/service/engine"
	"github.com/oshokin/alarm-engine/internal/watcher"
)

// Options controls the alarmd process.
type Options struct {
	// ConfigPath specifies the path to the settings YAML file.
	ConfigPath string
	// StateDir overrides the state directory from the settings file.
	StateDir string
	// LogLevel overrides the log level from the settings file.
	LogLevel string
}

// Run assembles the engine and blocks until the context is canceled.
// Configuration changes are picked up live; scheduling intent is persisted
// so alarms survive a restart.
func Run(ctx context.Context, opts *Options) error {
	ctx = logger.WithName(ctx, "alarmd")

	settings, err := config.Load(opts.ConfigPath)
	if err != nil {
		return fmt.Errorf("load settings: %w", err)
	}

	applyLogLevel(ctx, settings.LogLevel, opts.LogLevel)

	// Use StateDir from config unless overridden by command line option.
	stateDir := settings.StateDir
	if opts.StateDir != "" {
		stateDir = opts.StateDir
	}

	repository := openRepository(ctx, stateDir)
	defer func() {
		if closeErr := repository.Close(); closeErr != nil {
			logger.WarnKV(ctx, "Failed to close state store", "error", closeErr)
		}
	}()

	reg := registry.New()
	estimator := capability.NewEstimator(ctx, settings.Capability, repository)
	notifier := buildNotifier(ctx)

	cascade := delivery.NewCascade(
		delivery.NewEmergencyLayer(audio.NoopHaptics{}, notifier, reg,
			settings.EmergencyPulses, settings.EmergencySpacing),
		delivery.NewWakeAudioLayer(audio.NewExecWaker(), reg),
		delivery.NewPlaybackLayer(audio.NewExecPlayer(), reg),
		delivery.NewPulseLayer(notifier, reg, settings.PulseInterval),
	)

	eng := engine.New(engine.Options{
		Repository:    repository,
		Registry:      reg,
		Cascade:       cascade,
		Estimator:     estimator,
		Scheduler:     scheduler.Options{Tick: settings.Tick},
		DefaultSnooze: time.Duration(settings.SnoozeMinutes) * time.Minute,
	})

	// Recovery first, then sync: an unchanged declared alarm keeps its
	// recovered instance, so a trigger missed while the process was dead
	// still fires.
	if err = eng.Recover(ctx); err != nil {
		logger.WarnKV(ctx, "State recovery failed, starting from declared alarms only", "error", err)
	}

	declared, err := domainConfigs(settings)
	if err != nil {
		return fmt.Errorf("parse declared alarms: %w", err)
	}

	if err = eng.Sync(ctx, declared); err != nil {
		return fmt.Errorf("schedule declared alarms: %w", err)
	}

	advisor := logAdvisor{ctx: ctx}
	advisor.Review(eng.CapabilityEstimates())

	watchConfig(ctx, opts.ConfigPath, eng)

	logger.InfoKV(ctx, "Alarm engine running",
		"alarms", len(declared), "state_dir", stateDir, "tick", settings.Tick.String())

	eng.Run(ctx)

	logger.Info(ctx, "Alarm engine stopped")

	return nil
}

// applyLogLevel sets the global log level, preferring the CLI override.
func applyLogLevel(ctx context.Context, configured, override string) {
	level := configured
	if override != "" {
		level = override
	}

	if level == "" {
		return
	}

	parsed, err := zapcore.ParseLevel(level)
	if err != nil {
		logger.WarnKV(ctx, "Unknown log level, keeping default", "log_level", level)

		return
	}

	logger.SetLevel(parsed)
}

// openRepository opens the on-disk state store, degrading to an in-memory
// one so a broken state directory never prevents alarms from ringing.
func openRepository(ctx context.Context, stateDir string) repo.Repository {
	repository, err := repo.NewBadgerRepository(stateDir)
	if err == nil {
		return repository
	}

	logger.WarnKV(ctx, "Failed to open state store, scheduling intent will not survive restarts",
		"state_dir", stateDir, "error", err)

	memory, err := repo.NewInMemoryRepository()
	if err != nil {
		logger.FatalKV(ctx, "Failed to open in-memory state store", "error", err)
	}

	return memory
}

// buildNotifier connects to the session bus, degrading to log-line alerts
// on headless hosts.
func buildNotifier(ctx context.Context) notify.Notifier {
	if daemon, ok := notify.DaemonPresent(); ok {
		logger.InfoKV(ctx, "Notification daemon detected", "daemon", daemon)
	} else {
		logger.Warn(ctx, "No notification daemon detected, pulse alerts may not be visible")
	}

	notifier, err := notify.NewDBusNotifier()
	if err != nil {
		logger.WarnKV(ctx, "Session bus unavailable, alerts degrade to log lines", "error", err)

		return notify.LogNotifier{}
	}

	return notifier
}

// watchConfig reloads and re-syncs the declared alarms whenever the settings
// file changes. A watcher setup failure disables live reload only.
func watchConfig(ctx context.Context, path string, eng *engine.Engine) {
	w, err := watcher.New(path, watcher.DefaultDebounce, func(ctx context.Context) {
		reloaded, loadErr := config.Load(path)
		if loadErr != nil {
			logger.ErrorKV(ctx, "Failed to reload settings, keeping current alarms", "error", loadErr)

			return
		}

		declared, parseErr := domainConfigs(reloaded)
		if parseErr != nil {
			logger.ErrorKV(ctx, "Reloaded settings are invalid, keeping current alarms", "error", parseErr)

			return
		}

		if syncErr := eng.Sync(ctx, declared); syncErr != nil {
			logger.ErrorKV(ctx, "Failed to apply reloaded alarms", "error", syncErr)

			return
		}

		logger.InfoKV(ctx, "Alarms re-synced from settings file", "alarms", len(declared))
	})
	if err != nil {
		logger.WarnKV(ctx, "Live configuration reload disabled", "error", err)

		return
	}

	go func() {
		if runErr := w.Run(ctx); runErr != nil && ctx.Err() == nil {
			logger.WarnKV(ctx, "Configuration watcher stopped", "error", runErr)
		}
	}()
}

// domainConfigs converts the declared alarm specs.
func domainConfigs(settings *config.Config) ([]*domain.Config, error) {
	configs := make([]*domain.Config, 0, len(settings.Alarms))

	for i := range settings.Alarms {
		cfg, err := settings.Alarms[i].ToDomain()
		if err != nil {
			return nil, fmt.Errorf("alarm %s: %w", settings.Alarms[i].ID, err)
		}

		configs = append(configs, cfg)
	}

	return configs, nil
}

// logAdvisor reports capability verdicts in the log; estimates are advisory
// and never gate delivery.
type logAdvisor struct {
	ctx context.Context
}

var _ capability.Advisor = logAdvisor{}

// Review logs capabilities that look revoked or never granted.
func (a logAdvisor) Review(estimates map[string]bool) {
	for name, granted := range estimates {
		if granted {
			continue
		}

		logger.WarnKV(a.ctx, "Capability looks unavailable, consider re-running its setup",
			"capability", name)
	}
}
