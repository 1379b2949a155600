package registry

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"
)

// fakeHandle counts releases and reports ErrAlreadyReleased on repeats.
type fakeHandle struct {
	// id is the registry key.
	id string
	// releases counts how many times Release was invoked.
	releases atomic.Int32
	// failRelease forces the first Release to fail.
	failRelease bool
}

// ID returns the registry key of the handle.
func (h *fakeHandle) ID() string {
	return h.id
}

// Release frees the fake resource, failing once if configured and
// reporting ErrAlreadyReleased on every call after the first.
func (h *fakeHandle) Release(context.Context) error {
	n := h.releases.Add(1)
	if n > 1 {
		return ErrAlreadyReleased
	}

	if h.failRelease {
		return fmt.Errorf("release %s: device busy", h.id)
	}

	return nil
}

// TestStopAllReleasesEverything verifies the sweep with zero, one and many handles.
func TestStopAllReleasesEverything(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	r := New()
	require.Equal(t, 0, r.StopAll(ctx))
	require.Equal(t, 0, r.ActiveCount())

	r = New()
	handles := make([]*fakeHandle, 0, 5)

	for i := range 5 {
		h := &fakeHandle{id: fmt.Sprintf("h-%d", i)}
		handles = append(handles, h)
		require.NoError(t, r.Register(ctx, h))
	}

	require.Equal(t, 5, r.ActiveCount())
	require.Equal(t, 5, r.StopAll(ctx))
	require.Equal(t, 0, r.ActiveCount())

	for _, h := range handles {
		require.Equal(t, int32(1), h.releases.Load())
	}
}

// TestStopAllToleratesReleaseFailures ensures a failing handle never aborts the sweep.
func TestStopAllToleratesReleaseFailures(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	r := New()

	bad := &fakeHandle{id: "bad", failRelease: true}
	good := &fakeHandle{id: "good"}

	require.NoError(t, r.Register(ctx, bad))
	require.NoError(t, r.Register(ctx, good))

	// Only the healthy handle counts as released, but the ledger is empty.
	require.Equal(t, 1, r.StopAll(ctx))
	require.Equal(t, 0, r.ActiveCount())
	require.Equal(t, int32(1), good.releases.Load())
}

// TestRegisterDuringStopSelfReleases checks the stopping-flag race guard:
// a handle registered after the sweep began must not survive it.
func TestRegisterDuringStopSelfReleases(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	r := New()

	r.StopAll(ctx)

	late := &fakeHandle{id: "late"}
	err := r.Register(ctx, late)

	require.ErrorIs(t, err, ErrStopping)
	require.Equal(t, int32(1), late.releases.Load())
	require.Equal(t, 0, r.ActiveCount())

	// After Reopen, registration works again.
	r.Reopen()

	fresh := &fakeHandle{id: "fresh"}
	require.NoError(t, r.Register(ctx, fresh))
	require.Equal(t, 1, r.ActiveCount())
}

// TestStopAllConcurrentWithRegisters hammers the registry with concurrent
// registrations racing a sweep; every handle must end up released exactly
// once and the ledger must end empty.
func TestStopAllConcurrentWithRegisters(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	r := New()

	const workers = 32

	handles := make([]*fakeHandle, workers)

	var (
		start sync.WaitGroup
		done  sync.WaitGroup
	)

	start.Add(1)

	for i := range workers {
		handles[i] = &fakeHandle{id: fmt.Sprintf("h-%d", i)}

		done.Add(1)

		go func(h *fakeHandle) {
			defer done.Done()
			start.Wait()

			// Either registered before the sweep (released by it) or
			// rejected with ErrStopping (released by Register itself).
			_ = r.Register(ctx, h)
		}(handles[i])
	}

	start.Done()
	r.StopAll(ctx)
	done.Wait()

	require.Equal(t, 0, r.ActiveCount())

	for _, h := range handles {
		require.GreaterOrEqual(t, h.releases.Load(), int32(1), "handle %s leaked", h.id)
	}
}

// TestDoubleStopAllIsIdempotent ensures repeated sweeps neither error nor
// double-release handles.
func TestDoubleStopAllIsIdempotent(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	r := New()

	h := &fakeHandle{id: "only"}
	require.NoError(t, r.Register(ctx, h))

	require.Equal(t, 1, r.StopAll(ctx))
	require.Equal(t, 0, r.StopAll(ctx))
	require.Equal(t, int32(1), h.releases.Load())
}
