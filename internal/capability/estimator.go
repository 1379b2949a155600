package capability

import (
	"context"
	"sync"
	"time"

	"github.com/oshokin/alarm-engine/internal/logger"
)

// Stats holds the behavioral signals recorded for one capability.
type Stats struct {
	// SuccessfulDeliveries counts deliveries that went through this capability.
	SuccessfulDeliveries int `json:"successful_deliveries"`
	// SetupCompletedAt is when the user finished the setup flow, zero if never.
	SetupCompletedAt time.Time `json:"setup_completed_at,omitzero"`
	// FirstRunAt is when the capability was first observed by the engine.
	FirstRunAt time.Time `json:"first_run_at,omitzero"`
}

// Policy holds the tunable thresholds of the estimation heuristic.
// The numbers are policy, not contract: the only guaranteed property is
// that confidence grows monotonically with observed successes and age.
type Policy struct {
	// SetupRecencyWindow is how long a completed setup stays convincing.
	SetupRecencyWindow time.Duration `yaml:"setup_recency_window"`
	// SetupMinSuccesses is the success count required alongside a recent setup.
	SetupMinSuccesses int `yaml:"setup_min_successes"`
	// StrongSuccesses grants regardless of setup state.
	StrongSuccesses int `yaml:"strong_successes"`
	// MaturityAge is how old the first run must be for the mature rule.
	MaturityAge time.Duration `yaml:"maturity_age"`
	// MatureMinSuccesses is the success count required by the mature rule.
	MatureMinSuccesses int `yaml:"mature_min_successes"`
}

// DefaultPolicy returns the thresholds used when none are configured.
func DefaultPolicy() Policy {
	return Policy{
		SetupRecencyWindow: 30 * 24 * time.Hour,
		SetupMinSuccesses:  2,
		StrongSuccesses:    5,
		MaturityAge:        72 * time.Hour,
		MatureMinSuccesses: 2,
	}
}

// Store persists capability stats between process restarts.
type Store interface {
	SaveCapability(ctx context.Context, name string, stats Stats) error
	LoadCapabilities(ctx context.Context) (map[string]Stats, error)
	DeleteCapabilities(ctx context.Context) error
}

// Estimator infers a boolean grant-state for platform capabilities the
// engine cannot query directly, from recorded behavioral signals.
//
// The estimate is a heuristic, not a security boundary: it is advisory data
// for setup UI and must never gate delivery attempts. It fails closed so a
// fresh install biases toward prompting setup.
type Estimator struct {
	// mu protects stats.
	mu sync.Mutex
	// stats maps capability name to its recorded signals.
	stats map[string]Stats
	// policy holds the estimation thresholds.
	policy Policy
	// store persists stats; nil means in-memory only.
	store Store
	// now is injectable for tests.
	now func() time.Time
}

// NewEstimator creates an estimator with the given policy, loading any
// previously persisted stats. A failed load degrades to an empty in-memory
// state with a logged warning.
func NewEstimator(ctx context.Context, policy Policy, store Store) *Estimator {
	e := &Estimator{
		stats:  make(map[string]Stats),
		policy: policy,
		store:  store,
		now:    time.Now,
	}

	if store == nil {
		return e
	}

	loaded, err := store.LoadCapabilities(ctx)
	if err != nil {
		logger.WarnKV(ctx, "Failed to load capability stats, starting empty", "error", err)

		return e
	}

	for name, stats := range loaded {
		e.stats[name] = stats
	}

	return e
}

// RecordSuccess notes one successful delivery through the capability.
func (e *Estimator) RecordSuccess(ctx context.Context, name string) {
	e.mu.Lock()

	stats := e.touchLocked(name)
	stats.SuccessfulDeliveries++
	e.stats[name] = stats

	e.mu.Unlock()

	e.persist(ctx, name, stats)
}

// RecordSetupCompleted notes that the user finished the setup flow for the
// capability.
func (e *Estimator) RecordSetupCompleted(ctx context.Context, name string) {
	e.mu.Lock()

	stats := e.touchLocked(name)
	stats.SetupCompletedAt = e.now()
	e.stats[name] = stats

	e.mu.Unlock()

	e.persist(ctx, name, stats)
}

// Estimate collapses the recorded signals for the capability to a binary
// verdict. Unknown capabilities are not granted.
func (e *Estimator) Estimate(name string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	return e.estimateLocked(name)
}

// Estimates returns the verdict for every known capability.
func (e *Estimator) Estimates() map[string]bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	result := make(map[string]bool, len(e.stats))
	for name := range e.stats {
		result[name] = e.estimateLocked(name)
	}

	return result
}

// Reset clears all recorded signals, supporting "start fresh" diagnostics.
func (e *Estimator) Reset(ctx context.Context) {
	e.mu.Lock()
	e.stats = make(map[string]Stats)
	e.mu.Unlock()

	if e.store == nil {
		return
	}

	if err := e.store.DeleteCapabilities(ctx); err != nil {
		logger.WarnKV(ctx, "Failed to clear persisted capability stats", "error", err)
	}
}

// estimateLocked applies the heuristic ladder. Caller holds mu.
func (e *Estimator) estimateLocked(name string) bool {
	stats, ok := e.stats[name]
	if !ok {
		return false
	}

	now := e.now()

	// Recent setup completion plus a little behavioral confirmation.
	if !stats.SetupCompletedAt.IsZero() &&
		now.Sub(stats.SetupCompletedAt) <= e.policy.SetupRecencyWindow &&
		stats.SuccessfulDeliveries >= e.policy.SetupMinSuccesses {
		return true
	}

	// Strong behavioral evidence regardless of setup state.
	if stats.SuccessfulDeliveries >= e.policy.StrongSuccesses {
		return true
	}

	// Mature install with repeated confirmation.
	if !stats.FirstRunAt.IsZero() &&
		now.Sub(stats.FirstRunAt) >= e.policy.MaturityAge &&
		stats.SuccessfulDeliveries >= e.policy.MatureMinSuccesses {
		return true
	}

	return false
}

// touchLocked returns the stats for name, stamping FirstRunAt on first
// observation. Caller holds mu.
func (e *Estimator) touchLocked(name string) Stats {
	stats, ok := e.stats[name]
	if !ok {
		stats = Stats{FirstRunAt: e.now()}
	}

	return stats
}

// persist writes the stats through the store, degrading to in-memory with a
// warning on failure.
func (e *Estimator) persist(ctx context.Context, name string, stats Stats) {
	if e.store == nil {
		return
	}

	if err := e.store.SaveCapability(ctx, name, stats); err != nil {
		logger.WarnKV(ctx, "Failed to persist capability stats, keeping in-memory only",
			"capability", name, "error", err)
	}
}
