package delivery

import (
	"context"
	"sync"

	"github.com/oshokin/alarm-engine/internal/platform/audio"
	"github.com/oshokin/alarm-engine/internal/registry"
)

// playbackHandle is a registry handle around a playback that may not exist
// yet. Registering the handle before starting playback closes the race
// where a global stop sweep runs between resource creation and
// registration: a handle released before its playback attaches stops the
// playback the moment it arrives.
type playbackHandle struct {
	// id is the registry key.
	id string
	// mu protects released and playback.
	mu sync.Mutex
	// released marks that Release already ran.
	released bool
	// playback is the attached sound, nil until the layer started it.
	playback audio.Playback
}

// newPlaybackHandle returns an empty handle with the given registry key.
func newPlaybackHandle(id string) *playbackHandle {
	return &playbackHandle{id: id}
}

// ID returns the registry key.
func (h *playbackHandle) ID() string {
	return h.id
}

// Release stops the attached playback, if any. Repeated releases report
// ErrAlreadyReleased, which sweeps treat as success.
func (h *playbackHandle) Release(context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.released {
		return registry.ErrAlreadyReleased
	}

	h.released = true

	if h.playback == nil {
		return nil
	}

	return h.playback.Stop()
}

// attach binds the started playback to the handle. If the handle was
// released while the playback was starting, the playback is stopped
// immediately and attach reports false.
func (h *playbackHandle) attach(pb audio.Playback) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.released {
		_ = pb.Stop()

		return false
	}

	h.playback = pb

	return true
}

// cancelHandle is a registry handle that cancels a context on release; it
// ties goroutine-driven layers (pulse, emergency) to the global stop sweep.
type cancelHandle struct {
	// id is the registry key.
	id string
	// cancel ends the owning layer's work.
	cancel context.CancelFunc
	// once guards cancel.
	once sync.Once
	// released marks that Release already ran.
	released bool
	// mu protects released.
	mu sync.Mutex
}

// newCancelHandle wraps the cancel function in a handle.
func newCancelHandle(id string, cancel context.CancelFunc) *cancelHandle {
	return &cancelHandle{id: id, cancel: cancel}
}

// ID returns the registry key.
func (h *cancelHandle) ID() string {
	return h.id
}

// Release cancels the layer's context. Repeated releases report
// ErrAlreadyReleased.
func (h *cancelHandle) Release(context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.released {
		return registry.ErrAlreadyReleased
	}

	h.released = true
	h.once.Do(h.cancel)

	return nil
}
