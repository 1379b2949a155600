package registry

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/multierr"

	"github.com/oshokin/alarm-engine/internal/logger"
)

// Handle is any acquired playback, audio or wake resource.
// The layer that created a handle owns it, but registering the handle lets
// the global stop sweep release it even from code that did not create it.
type Handle interface {
	// ID uniquely identifies the handle within the registry.
	ID() string
	// Release frees the underlying resource. It must be idempotent:
	// releasing an already-released handle returns ErrAlreadyReleased
	// or nil, never a hard failure.
	Release(ctx context.Context) error
}

var (
	// ErrAlreadyReleased marks a release attempt on a handle that was
	// already released. Callers treat it as success.
	ErrAlreadyReleased = errors.New("handle already released")
	// ErrStopping is returned by Register while a stop sweep is in effect;
	// the handle has already been released by the registry.
	ErrStopping = errors.New("registry is stopping")
)

// Registry is the process-wide ledger of active resource handles.
//
// It is the only truly global mutable structure in the engine; all access
// goes through Register, Unregister and StopAll. The stopping flag closes
// the race where a late-starting delivery layer registers a handle after a
// stop sweep began: such handles are released immediately inside Register
// instead of surviving the sweep and staying audible.
type Registry struct {
	// mu protects handles and stopping.
	mu sync.Mutex
	// handles is the set of currently registered handles, keyed by ID.
	handles map[string]Handle
	// stopping is set for the duration between a StopAll sweep and the
	// next Reopen call.
	stopping bool
}

// New returns an empty registry accepting registrations.
func New() *Registry {
	return &Registry{
		handles: make(map[string]Handle),
	}
}

// Register adds the handle to the ledger.
// If a stop sweep is in effect the handle is released on the spot and
// ErrStopping is returned, so the caller knows its resource is gone.
func (r *Registry) Register(ctx context.Context, h Handle) error {
	r.mu.Lock()

	if r.stopping {
		r.mu.Unlock()

		logger.WarnKV(ctx, "Handle registered during stop sweep, releasing immediately", "handle_id", h.ID())

		if err := h.Release(ctx); err != nil && !errors.Is(err, ErrAlreadyReleased) {
			return multierr.Append(ErrStopping, err)
		}

		return ErrStopping
	}

	r.handles[h.ID()] = h
	r.mu.Unlock()

	return nil
}

// Unregister removes the handle with the given id without releasing it.
// Unknown ids are ignored, which makes the owning layer's own stop path and
// the global sweep safe to run in either order.
func (r *Registry) Unregister(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.handles, id)
}

// ActiveCount returns the number of currently registered handles.
func (r *Registry) ActiveCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	return len(r.handles)
}

// StopAll releases every registered handle and clears the ledger.
// It returns the number of handles released. Individual release failures
// are logged and never abort the sweep; already-released handles count as
// successfully released. The registry stays in the stopping state until
// Reopen is called, so concurrent late registrations self-release.
func (r *Registry) StopAll(ctx context.Context) int {
	r.mu.Lock()

	r.stopping = true

	snapshot := make([]Handle, 0, len(r.handles))
	for _, h := range r.handles {
		snapshot = append(snapshot, h)
	}

	r.handles = make(map[string]Handle)
	r.mu.Unlock()

	var (
		released int
		sweepErr error
	)

	for _, h := range snapshot {
		err := h.Release(ctx)
		if err != nil && !errors.Is(err, ErrAlreadyReleased) {
			sweepErr = multierr.Append(sweepErr, err)

			continue
		}

		released++
	}

	if sweepErr != nil {
		logger.WarnKV(ctx, "Some handles failed to release during stop sweep",
			"released", released, "total", len(snapshot), "error", sweepErr)
	}

	return released
}

// Reopen clears the stopping flag so new handles can be registered.
// The lifecycle calls it when a fresh instance transitions to ringing.
func (r *Registry) Reopen() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.stopping = false
}
