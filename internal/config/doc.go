// Package config loads, validates and persists the daemon's YAML settings:
// engine tuning (tick, snooze, pulse shape, capability thresholds) and the
// declared alarms.
package config
