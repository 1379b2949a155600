// Package delivery implements the cascade of independent wake-signal
// layers: host wake+audio, direct looping playback, periodic system-alert
// pulses, and a bounded vibration/burst emergency fallback. Layers launch
// concurrently with per-layer failure isolation; an activation succeeds if
// at least one layer started.
package delivery
