package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	domain "github.com/oshokin/alarm-engine/internal/domain/alarm"
	"github.com/oshokin/alarm-engine/internal/logger"
)

// FireSource identifies which of the two redundant paths fired a trigger.
type FireSource string

const (
	// SourceHost marks the host-level exact-trigger path.
	SourceHost FireSource = "host"
	// SourceMonitor marks the software monitoring loop.
	SourceMonitor FireSource = "monitor"
)

// DefaultTick is the monitoring loop granularity.
const DefaultTick = time.Second

// Sink consumes scheduler events. Both firing paths funnel into the same
// sink; the consumer deduplicates with an instance-id plus current-state
// guard, so a double fire has at most one effect.
//
// Sink methods must not block: the monitoring loop calls them inline and
// ticks once per second.
type Sink interface {
	// TriggerFired reports that the instance's trigger time arrived.
	TriggerFired(ctx context.Context, instanceID string, source FireSource)
	// InstanceExpired reports that the instance's expiry time passed.
	InstanceExpired(ctx context.Context, instanceID string)
}

// ErrDisabled is returned when arming a disabled config.
var ErrDisabled = errors.New("alarm config is disabled")

// entry is one armed instance tracked by the monitoring loop.
type entry struct {
	// alarmID is the owning config id.
	alarmID string
	// scheduledTime is the trigger instant.
	scheduledTime time.Time
	// expiryTime is the force-stop instant.
	expiryTime time.Time
	// fired marks that this scheduler already fired the instance; the entry
	// stays tracked for expiry enforcement until disarmed.
	fired bool
	// expired marks that expiry was already reported.
	expired bool
}

// Options tunes a Scheduler.
type Options struct {
	// Host overrides the host-level trigger facility.
	// Defaults to the in-process TimerTrigger.
	Host HostTrigger
	// Tick overrides the monitoring loop granularity. Defaults to DefaultTick.
	Tick time.Duration
	// Now overrides the wall clock, for tests.
	Now func() time.Time
}

// Scheduler computes fire times and registers each armed instance with two
// independent paths: the host-level exact trigger (primary) and a software
// monitoring loop (redundant secondary, which also enforces expiry).
type Scheduler struct {
	// mu protects armed.
	mu sync.Mutex
	// armed maps instance id to its tracked entry.
	armed map[string]*entry
	// sink receives fire and expiry events.
	sink Sink
	// host is the primary trigger path.
	host HostTrigger
	// tick is the monitoring loop granularity.
	tick time.Duration
	// now is the wall clock, injectable for tests.
	now func() time.Time
}

// New creates a scheduler delivering events to the sink.
func New(sink Sink, opts Options) *Scheduler {
	if opts.Host == nil {
		opts.Host = NewTimerTrigger()
	}

	if opts.Tick <= 0 {
		opts.Tick = DefaultTick
	}

	if opts.Now == nil {
		opts.Now = time.Now
	}

	return &Scheduler{
		armed: make(map[string]*entry),
		sink:  sink,
		host:  opts.Host,
		tick:  opts.Tick,
		now:   opts.Now,
	}
}

// Arm computes the next window for the config and registers a fresh
// instance on both paths. Re-arming a config whose instance is already
// armed has disarm-then-arm semantics: the old instance is dropped first.
func (s *Scheduler) Arm(ctx context.Context, cfg *domain.Config) (*domain.Instance, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	if !cfg.Enabled {
		return nil, ErrDisabled
	}

	trigger, expiry := Window(cfg, s.now())

	instance := &domain.Instance{
		ID:            uuid.NewString(),
		AlarmID:       cfg.ID,
		ScheduledTime: trigger,
		ExpiryTime:    expiry,
		State:         domain.StateArmed,
		Recurring:     cfg.Repeat.Recurring(),
	}

	if err := s.ArmInstance(ctx, instance); err != nil {
		return nil, err
	}

	return instance, nil
}

// ArmInstance registers an existing instance on both paths, replacing any
// armed instance of the same alarm. Used for recovery after restart and for
// snooze re-arms, where the instant is fixed rather than recomputed.
//
// A host-path registration failure is a non-fatal scheduling degradation:
// the monitoring loop still covers the instance, so the error is logged and
// swallowed.
func (s *Scheduler) ArmInstance(ctx context.Context, instance *domain.Instance) error {
	s.disarmAlarm(ctx, instance.AlarmID)

	s.mu.Lock()
	s.armed[instance.ID] = &entry{
		alarmID:       instance.AlarmID,
		scheduledTime: instance.ScheduledTime,
		expiryTime:    instance.ExpiryTime,
	}
	s.mu.Unlock()

	instanceID := instance.ID

	err := s.host.Schedule(ctx, instanceID, instance.ScheduledTime, func() {
		s.fire(context.WithoutCancel(ctx), instanceID, SourceHost)
	})
	if err != nil {
		logger.WarnKV(ctx, "Host trigger registration rejected, falling back to monitoring loop only",
			"instance_id", instanceID, "alarm_id", instance.AlarmID, "error", err)
	}

	logger.InfoKV(ctx, "Instance armed",
		"instance_id", instanceID,
		"alarm_id", instance.AlarmID,
		"scheduled_time", instance.ScheduledTime.Format(time.RFC3339),
		"expiry_time", instance.ExpiryTime.Format(time.RFC3339))

	return nil
}

// Disarm drops the instance from both paths. Unknown ids are no-ops.
func (s *Scheduler) Disarm(ctx context.Context, instanceID string) {
	s.mu.Lock()
	_, known := s.armed[instanceID]
	delete(s.armed, instanceID)
	s.mu.Unlock()

	if known {
		s.host.Cancel(ctx, instanceID)
	}
}

// disarmAlarm drops every tracked instance belonging to the alarm.
func (s *Scheduler) disarmAlarm(ctx context.Context, alarmID string) {
	s.mu.Lock()

	var dropped []string

	for id, e := range s.armed {
		if e.alarmID == alarmID {
			dropped = append(dropped, id)
			delete(s.armed, id)
		}
	}

	s.mu.Unlock()

	for _, id := range dropped {
		s.host.Cancel(ctx, id)
	}
}

// Run drives the monitoring loop until the context is canceled. The loop
// compares the clock against every tracked instance once per tick, firing
// due triggers and enforcing expiry; it never blocks on the work it starts.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.tick)
	defer ticker.Stop()

	logger.InfoKV(ctx, "Monitoring loop started", "tick", s.tick.String())

	for {
		select {
		case <-ctx.Done():
			logger.Info(ctx, "Monitoring loop stopped")
			return
		case <-ticker.C:
			s.sweep(ctx)
		}
	}
}

// sweep fires due instances and reports expired ones.
func (s *Scheduler) sweep(ctx context.Context) {
	now := s.now()

	s.mu.Lock()

	var due, expired []string

	for id, e := range s.armed {
		if !e.fired && !now.Before(e.scheduledTime) {
			e.fired = true
			due = append(due, id)
		}

		if !e.expired && !now.Before(e.expiryTime) {
			e.expired = true
			expired = append(expired, id)
		}
	}

	s.mu.Unlock()

	for _, id := range due {
		s.sink.TriggerFired(ctx, id, SourceMonitor)
	}

	for _, id := range expired {
		s.sink.InstanceExpired(ctx, id)
	}
}

// fire forwards a host-path firing to the sink, keeping the entry tracked
// for expiry enforcement.
func (s *Scheduler) fire(ctx context.Context, instanceID string, source FireSource) {
	s.mu.Lock()

	e, ok := s.armed[instanceID]
	if ok {
		e.fired = true
	}

	s.mu.Unlock()

	if !ok {
		// Disarmed while the host timer was in flight.
		return
	}

	s.sink.TriggerFired(ctx, instanceID, source)
}
