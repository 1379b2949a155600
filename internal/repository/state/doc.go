// Package state persists the engine's scheduling intent in an embedded
// BadgerDB key-value store: alarm configs, currently-armed instances and
// capability stats, one JSON record each. The engine can re-arm everything
// from these records alone after a process restart.
package state
