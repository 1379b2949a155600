package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/multierr"

	"github.com/oshokin/alarm-engine/internal/capability"
	"github.com/oshokin/alarm-engine/internal/delivery"
	domain "github.com/oshokin/alarm-engine/internal/domain/alarm"
	"github.com/oshokin/alarm-engine/internal/logger"
	"github.com/oshokin/alarm-engine/internal/metrics"
	"github.com/oshokin/alarm-engine/internal/registry"
	repo "github.com/oshokin/alarm-engine/internal/repository/state"
	"github.com/oshokin/alarm-engine/internal/scheduler"
)

// Hooks are the lifecycle callbacks driving the UI layer. Each receives a
// clone of the instance; nil hooks are skipped. Hooks run synchronously on
// the engine's transition path and must return quickly.
type Hooks struct {
	// OnArmed fires when an instance is armed, re-armed or snooze-armed.
	OnArmed func(*domain.Instance)
	// OnRinging fires on the transition to ringing.
	OnRinging func(*domain.Instance)
	// OnStopped fires on the transition to stopped, for any reason.
	OnStopped func(*domain.Instance)
	// OnExpired fires when a ringing instance was force-stopped by expiry.
	OnExpired func(*domain.Instance)
}

// Options wires an Engine together.
type Options struct {
	// Repository persists scheduling intent; nil keeps everything in-memory.
	Repository repo.Repository
	// Registry is the global resource ledger.
	Registry *registry.Registry
	// Cascade is the delivery cascade activated on every firing.
	Cascade *delivery.Cascade
	// Estimator collects capability signals; nil disables estimation.
	Estimator *capability.Estimator
	// Hooks are the outbound lifecycle callbacks.
	Hooks Hooks
	// Scheduler tunes the trigger scheduler.
	Scheduler scheduler.Options
	// DefaultSnooze is used when Snooze is called with no interval.
	DefaultSnooze time.Duration
}

// Stop reasons recorded in logs and metrics.
const (
	reasonUser     = "user"
	reasonExpiry   = "expiry"
	reasonSnooze   = "snooze"
	reasonCancel   = "cancel"
	reasonShutdown = "shutdown"
)

// DefaultSnooze is the classic nine-minute snooze interval.
const DefaultSnooze = 9 * time.Minute

var (
	// ErrUnknownAlarm is returned for operations on an alarm the engine
	// does not manage.
	ErrUnknownAlarm = errors.New("unknown alarm")
	// ErrNotRinging is returned when Snooze targets an alarm that is not
	// currently ringing.
	ErrNotRinging = errors.New("alarm is not ringing")
)

// Engine is the alarm lifecycle state machine. It owns the transitions
// IDLE -> ARMED -> RINGING -> SNOOZED/STOPPED, deduplicates the two
// redundant firing paths, drives the delivery cascade and the global stop
// sweep, and re-arms recurring configs.
type Engine struct {
	// mu protects configs, active, byInstance and ringCancel.
	mu sync.Mutex
	// configs maps alarm id to its managed config.
	configs map[string]*domain.Config
	// active maps alarm id to its current live instance.
	active map[string]*domain.Instance
	// byInstance maps instance id back to the owning alarm id.
	byInstance map[string]string
	// ringCancel holds the shared cancellation signal of each ringing
	// instance, keyed by instance id.
	ringCancel map[string]context.CancelFunc

	// sched is the dual-path trigger scheduler; the engine is its sink.
	sched *scheduler.Scheduler
	// reg is the global resource ledger.
	reg *registry.Registry
	// cascade is the delivery cascade.
	cascade *delivery.Cascade
	// est is the capability estimator, may be nil.
	est *capability.Estimator
	// repository persists scheduling intent, may be nil.
	repository repo.Repository
	// hooks are the outbound callbacks.
	hooks Hooks
	// defaultSnooze is the fallback snooze interval.
	defaultSnooze time.Duration
}

// New builds an engine. The caller must run the monitoring loop via Run.
func New(opts Options) *Engine {
	if opts.Registry == nil {
		opts.Registry = registry.New()
	}

	if opts.DefaultSnooze <= 0 {
		opts.DefaultSnooze = DefaultSnooze
	}

	e := &Engine{
		configs:       make(map[string]*domain.Config),
		active:        make(map[string]*domain.Instance),
		byInstance:    make(map[string]string),
		ringCancel:    make(map[string]context.CancelFunc),
		reg:           opts.Registry,
		cascade:       opts.Cascade,
		est:           opts.Estimator,
		repository:    opts.Repository,
		hooks:         opts.Hooks,
		defaultSnooze: opts.DefaultSnooze,
	}

	e.sched = scheduler.New(e, opts.Scheduler)

	return e
}

// Run drives the monitoring loop until the context is canceled, then stops
// every live instance so no resource outlives the engine.
func (e *Engine) Run(ctx context.Context) {
	e.sched.Run(ctx)
	e.Shutdown(context.WithoutCancel(ctx))
}

// Schedule registers the config with the engine and arms its next instance.
// Disabled configs are stored but not armed. Re-scheduling a known id has
// disarm-then-arm semantics.
func (e *Engine) Schedule(ctx context.Context, cfg *domain.Config) error {
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("validate config: %w", err)
	}

	cfg = cfg.Clone()

	e.mu.Lock()
	e.configs[cfg.ID] = cfg
	e.mu.Unlock()

	e.persistConfig(ctx, cfg)

	if !cfg.Enabled {
		logger.InfoKV(ctx, "Alarm stored disabled, not armed", "alarm_id", cfg.ID)
		e.dropInstances(ctx, cfg.ID)

		return nil
	}

	return e.armConfig(ctx, cfg)
}

// Sync reconciles the managed set with the declared configs: new ones are
// scheduled, unchanged ones keep their live instance (so instances recovered
// from persistence survive a startup sync), changed ones are re-armed, and
// configs no longer declared are canceled.
func (e *Engine) Sync(ctx context.Context, configs []*domain.Config) error {
	declared := make(map[string]bool, len(configs))

	var errs error

	for _, cfg := range configs {
		declared[cfg.ID] = true

		if err := e.syncOne(ctx, cfg); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("sync alarm %s: %w", cfg.ID, err))
		}
	}

	e.mu.Lock()

	var gone []string

	for id := range e.configs {
		if !declared[id] {
			gone = append(gone, id)
		}
	}

	e.mu.Unlock()

	for _, id := range gone {
		if err := e.Cancel(ctx, id); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("cancel alarm %s: %w", id, err))
		}
	}

	return errs
}

// syncOne applies one declared config, arming only when the config is new
// or materially changed.
func (e *Engine) syncOne(ctx context.Context, cfg *domain.Config) error {
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("validate config: %w", err)
	}

	cfg = cfg.Clone()

	e.mu.Lock()

	previous := e.configs[cfg.ID]
	e.configs[cfg.ID] = cfg
	unchanged := previous != nil && *previous == *cfg
	hasInstance := e.active[cfg.ID] != nil

	e.mu.Unlock()

	e.persistConfig(ctx, cfg)

	if !cfg.Enabled {
		e.dropInstances(ctx, cfg.ID)

		return nil
	}

	if unchanged && hasInstance {
		return nil
	}

	return e.armConfig(ctx, cfg)
}

// Cancel removes the config entirely: any live instance is silenced and the
// lifecycle returns to idle.
func (e *Engine) Cancel(ctx context.Context, alarmID string) error {
	e.mu.Lock()
	_, known := e.configs[alarmID]
	delete(e.configs, alarmID)
	instance := e.active[alarmID]
	e.mu.Unlock()

	if !known && instance == nil {
		return ErrUnknownAlarm
	}

	if instance != nil {
		e.finish(ctx, instance.ID, reasonCancel, false)
	}

	if e.repository != nil {
		if err := e.repository.DeleteConfig(ctx, alarmID); err != nil {
			logger.WarnKV(ctx, "Failed to delete persisted config", "alarm_id", alarmID, "error", err)
		}
	}

	logger.InfoKV(ctx, "Alarm canceled", "alarm_id", alarmID)

	return nil
}

// Snooze defers a ringing alarm: the delivery layers are silenced and the
// same instance is re-armed at now plus the interval, keeping its window
// length and counting the deferral.
func (e *Engine) Snooze(ctx context.Context, alarmID string, minutes int) error {
	interval := e.defaultSnooze
	if minutes > 0 {
		interval = time.Duration(minutes) * time.Minute
	}

	e.mu.Lock()

	instance := e.active[alarmID]
	if instance == nil || instance.State != domain.StateRinging {
		e.mu.Unlock()

		return fmt.Errorf("snooze %s: %w", alarmID, ErrNotRinging)
	}

	window := instance.ExpiryTime.Sub(instance.ScheduledTime)
	now := time.Now()

	instance.State = domain.StateSnoozed
	instance.SnoozeCount++
	instance.ScheduledTime = now.Add(interval)
	instance.ExpiryTime = instance.ScheduledTime.Add(window)
	instance.ActualFireTime = nil

	e.cancelRingLocked(instance.ID)
	e.mu.Unlock()

	released := e.reg.StopAll(ctx)
	metrics.HandlesReleased.Add(float64(released))
	metrics.Stops.WithLabelValues(reasonSnooze).Inc()

	// The snoozed instance goes straight back to armed.
	e.mu.Lock()
	instance.State = domain.StateArmed
	snapshot := instance.Clone()
	e.mu.Unlock()

	if err := e.sched.ArmInstance(ctx, snapshot); err != nil {
		return fmt.Errorf("re-arm snoozed instance: %w", err)
	}

	e.persistInstance(ctx, snapshot)
	metrics.AlarmsArmed.Inc()

	logger.InfoKV(ctx, "Alarm snoozed",
		"alarm_id", alarmID,
		"snooze_count", snapshot.SnoozeCount,
		"next_fire", snapshot.ScheduledTime.Format(time.RFC3339))

	if e.hooks.OnArmed != nil {
		e.hooks.OnArmed(snapshot)
	}

	return nil
}

// Stop silences a ringing or snoozed alarm. Stopping an alarm that is not
// live is a no-op, so repeated stops neither error nor double-release.
func (e *Engine) Stop(ctx context.Context, alarmID string) error {
	e.mu.Lock()

	instance := e.active[alarmID]
	if instance == nil ||
		(instance.State != domain.StateRinging && instance.State != domain.StateSnoozed) {
		e.mu.Unlock()

		return nil
	}

	instanceID := instance.ID

	e.mu.Unlock()

	e.finish(ctx, instanceID, reasonUser, false)

	return nil
}

// Shutdown force-stops every live instance, leaving nothing audible.
func (e *Engine) Shutdown(ctx context.Context) {
	e.mu.Lock()

	var live []string

	for _, instance := range e.active {
		if instance.State == domain.StateRinging || instance.State == domain.StateSnoozed {
			live = append(live, instance.ID)
		}
	}

	e.mu.Unlock()

	for _, id := range live {
		e.finish(ctx, id, reasonShutdown, false)
	}

	// Sweep once more for resources whose layers never reported.
	released := e.reg.StopAll(ctx)
	metrics.HandlesReleased.Add(float64(released))
}

// ActiveInstance returns a clone of the alarm's live instance, or nil.
func (e *Engine) ActiveInstance(alarmID string) *domain.Instance {
	e.mu.Lock()
	defer e.mu.Unlock()

	return e.active[alarmID].Clone()
}

// CapabilityEstimates returns the advisory grant-state verdicts for the
// setup-advisor UI.
func (e *Engine) CapabilityEstimates() map[string]bool {
	if e.est == nil {
		return nil
	}

	return e.est.Estimates()
}

// SetupCompleted records that the user finished a capability's setup flow.
func (e *Engine) SetupCompleted(ctx context.Context, name string) {
	if e.est != nil {
		e.est.RecordSetupCompleted(ctx, name)
	}
}

// TriggerFired is the scheduler sink: both the host path and the monitoring
// loop funnel here. The instance-id plus current-state guard makes the
// expected double fire a no-op.
func (e *Engine) TriggerFired(ctx context.Context, instanceID string, source scheduler.FireSource) {
	e.mu.Lock()

	alarmID, ok := e.byInstance[instanceID]
	if !ok {
		e.mu.Unlock()

		return
	}

	instance := e.active[alarmID]
	if instance == nil || instance.ID != instanceID || instance.State != domain.StateArmed {
		e.mu.Unlock()

		return
	}

	now := time.Now()
	instance.State = domain.StateRinging
	instance.ActualFireTime = &now

	ringCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	e.ringCancel[instanceID] = cancel

	cfg := e.configs[alarmID].Clone()
	snapshot := instance.Clone()

	e.mu.Unlock()

	e.reg.Reopen()
	e.persistInstance(ctx, snapshot)
	metrics.TriggersFired.WithLabelValues(string(source)).Inc()

	logger.InfoKV(ctx, "Alarm ringing",
		"alarm_id", alarmID, "instance_id", instanceID, "source", string(source))

	if e.hooks.OnRinging != nil {
		e.hooks.OnRinging(snapshot)
	}

	if cfg == nil || e.cascade == nil {
		return
	}

	// The cascade runs off the transition path so neither scheduler path
	// ever blocks on slow layers.
	go e.deliver(ringCtx, cfg, snapshot)
}

// InstanceExpired is the scheduler sink for expiry enforcement: the
// instance is force-stopped regardless of user action.
func (e *Engine) InstanceExpired(ctx context.Context, instanceID string) {
	e.mu.Lock()

	alarmID, ok := e.byInstance[instanceID]
	instance := e.active[alarmID]
	live := ok && instance != nil && instance.ID == instanceID &&
		instance.State != domain.StateStopped && instance.State != domain.StateIdle

	e.mu.Unlock()

	if !live {
		return
	}

	logger.WarnKV(ctx, "Alarm expired without user action, force-stopping",
		"alarm_id", alarmID, "instance_id", instanceID)

	e.finish(ctx, instanceID, reasonExpiry, true)
}

// Recover re-arms persisted configs and instances after a process restart.
// Instances whose trigger already passed fire on the next monitor tick;
// instances past expiry are stopped and recurring configs re-armed.
func (e *Engine) Recover(ctx context.Context) error {
	if e.repository == nil {
		return nil
	}

	configs, err := e.repository.LoadConfigs(ctx)
	if err != nil {
		return fmt.Errorf("load persisted configs: %w", err)
	}

	instances, err := e.repository.LoadInstances(ctx)
	if err != nil {
		return fmt.Errorf("load persisted instances: %w", err)
	}

	e.mu.Lock()
	for _, cfg := range configs {
		e.configs[cfg.ID] = cfg
	}
	e.mu.Unlock()

	recovered := make(map[string]bool, len(instances))

	for _, instance := range instances {
		if instance.State == domain.StateStopped || instance.State == domain.StateIdle {
			e.deleteInstanceRecord(ctx, instance.ID)

			continue
		}

		// A persisted ringing instance resumes as armed with its original
		// trigger in the past, so it rings again on the next tick.
		instance.State = domain.StateArmed
		instance.ActualFireTime = nil

		e.mu.Lock()
		e.active[instance.AlarmID] = instance
		e.byInstance[instance.ID] = instance.AlarmID
		e.mu.Unlock()

		if err := e.sched.ArmInstance(ctx, instance.Clone()); err != nil {
			logger.WarnKV(ctx, "Failed to re-arm recovered instance",
				"instance_id", instance.ID, "error", err)

			continue
		}

		recovered[instance.AlarmID] = true

		logger.InfoKV(ctx, "Recovered armed instance",
			"alarm_id", instance.AlarmID,
			"instance_id", instance.ID,
			"scheduled_time", instance.ScheduledTime.Format(time.RFC3339))
	}

	// Enabled configs without a surviving instance get a fresh one.
	e.mu.Lock()
	pending := make([]*domain.Config, 0, len(e.configs))

	for id, cfg := range e.configs {
		if cfg.Enabled && !recovered[id] {
			pending = append(pending, cfg.Clone())
		}
	}
	e.mu.Unlock()

	for _, cfg := range pending {
		if err := e.armConfig(ctx, cfg); err != nil {
			logger.WarnKV(ctx, "Failed to arm recovered config", "alarm_id", cfg.ID, "error", err)
		}
	}

	return nil
}

// armConfig arms a fresh instance for the config and runs the arm-time
// bookkeeping: preload, persistence, metrics and callbacks.
func (e *Engine) armConfig(ctx context.Context, cfg *domain.Config) error {
	instance, err := e.sched.Arm(ctx, cfg)
	if err != nil {
		return fmt.Errorf("arm alarm %s: %w", cfg.ID, err)
	}

	e.mu.Lock()

	previous := e.active[cfg.ID]
	if previous != nil {
		delete(e.byInstance, previous.ID)
		e.cancelRingLocked(previous.ID)
	}

	e.active[cfg.ID] = instance
	e.byInstance[instance.ID] = cfg.ID

	e.mu.Unlock()

	if previous != nil {
		e.deleteInstanceRecord(ctx, previous.ID)
	}

	if e.cascade != nil {
		// Layers pre-load at arm time to minimize fire-to-audible latency.
		e.cascade.Preload(ctx, cfg)
	}

	e.persistInstance(ctx, instance.Clone())
	metrics.AlarmsArmed.Inc()

	if e.hooks.OnArmed != nil {
		e.hooks.OnArmed(instance.Clone())
	}

	return nil
}

// deliver activates the cascade and feeds capability signals from the
// layers that started.
func (e *Engine) deliver(ringCtx context.Context, cfg *domain.Config, instance *domain.Instance) {
	report := e.cascade.Activate(ringCtx, cfg, instance)

	if !report.Success {
		// Still ringing as far as the lifecycle is concerned; expiry will
		// eventually close the instance even with no audible signal.
		logger.ErrorKV(ringCtx, "Every delivery layer failed to start",
			"alarm_id", cfg.ID, "instance_id", instance.ID)

		return
	}

	if e.est == nil {
		return
	}

	for _, name := range report.Started() {
		if capabilityName, ok := delivery.LayerCapability(name); ok {
			e.est.RecordSuccess(ringCtx, capabilityName)
		}
	}
}

// finish moves the instance to stopped, runs the global sweep, emits the
// callbacks and re-arms the owning config when it is recurring and enabled.
func (e *Engine) finish(ctx context.Context, instanceID, reason string, expired bool) {
	e.mu.Lock()

	alarmID, ok := e.byInstance[instanceID]
	if !ok {
		e.mu.Unlock()

		return
	}

	instance := e.active[alarmID]
	if instance == nil || instance.ID != instanceID || instance.State == domain.StateStopped {
		e.mu.Unlock()

		return
	}

	instance.State = domain.StateStopped

	e.cancelRingLocked(instanceID)
	delete(e.byInstance, instanceID)
	delete(e.active, alarmID)

	cfg := e.configs[alarmID].Clone()
	snapshot := instance.Clone()

	e.mu.Unlock()

	e.sched.Disarm(ctx, instanceID)

	released := e.reg.StopAll(ctx)
	metrics.HandlesReleased.Add(float64(released))
	metrics.Stops.WithLabelValues(reason).Inc()

	e.deleteInstanceRecord(ctx, instanceID)

	logger.InfoKV(ctx, "Alarm stopped",
		"alarm_id", alarmID,
		"instance_id", instanceID,
		"reason", reason,
		"handles_released", released)

	if expired && e.hooks.OnExpired != nil {
		e.hooks.OnExpired(snapshot)
	}

	if e.hooks.OnStopped != nil {
		e.hooks.OnStopped(snapshot)
	}

	if reason == reasonCancel || reason == reasonShutdown {
		return
	}

	if cfg == nil || !cfg.Enabled || !cfg.Repeat.Recurring() {
		return
	}

	if err := e.armConfig(ctx, cfg); err != nil {
		logger.ErrorKV(ctx, "Failed to re-arm recurring alarm", "alarm_id", alarmID, "error", err)
	}
}

// dropInstances silences and removes any live instance of the alarm.
func (e *Engine) dropInstances(ctx context.Context, alarmID string) {
	e.mu.Lock()
	instance := e.active[alarmID]
	e.mu.Unlock()

	if instance != nil {
		e.finish(ctx, instance.ID, reasonCancel, false)
	}
}

// cancelRingLocked cancels the shared ringing signal, if any. Caller holds mu.
func (e *Engine) cancelRingLocked(instanceID string) {
	if cancel, ok := e.ringCancel[instanceID]; ok {
		cancel()
		delete(e.ringCancel, instanceID)
	}
}

// persistConfig writes the config record, degrading to in-memory on failure.
func (e *Engine) persistConfig(ctx context.Context, cfg *domain.Config) {
	if e.repository == nil {
		return
	}

	if err := e.repository.SaveConfig(ctx, cfg); err != nil {
		logger.WarnKV(ctx, "Failed to persist config; recovery after restart will not include it",
			"alarm_id", cfg.ID, "error", err)
	}
}

// persistInstance writes the instance record, degrading to in-memory on failure.
func (e *Engine) persistInstance(ctx context.Context, instance *domain.Instance) {
	if e.repository == nil {
		return
	}

	if err := e.repository.SaveInstance(ctx, instance); err != nil {
		logger.WarnKV(ctx, "Failed to persist instance; recovery after restart will not include it",
			"instance_id", instance.ID, "error", err)
	}
}

// deleteInstanceRecord removes the persisted instance record.
func (e *Engine) deleteInstanceRecord(ctx context.Context, instanceID string) {
	if e.repository == nil {
		return
	}

	if err := e.repository.DeleteInstance(ctx, instanceID); err != nil {
		logger.WarnKV(ctx, "Failed to delete persisted instance", "instance_id", instanceID, "error", err)
	}
}
