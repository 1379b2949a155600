// Package engine implements the alarm lifecycle state machine.
//
// The engine owns the transitions between idle, armed, ringing, snoozed and
// stopped. It consumes trigger events from both scheduler paths through a
// deduplicating guard, activates the delivery cascade on ringing, drives the
// global stop sweep, and re-arms recurring configs after every stop.
package engine
