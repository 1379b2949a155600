// Package scheduler computes alarm fire times and registers each armed
// instance with two redundant paths: a host-level exact trigger and a
// once-per-second software monitoring loop that also enforces expiry.
// Both paths funnel into one Sink whose consumer deduplicates firings.
package scheduler
