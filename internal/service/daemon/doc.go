// Package daemon assembles and runs the alarmd process: configuration,
// persistence, platform integrations, the delivery cascade and the
// lifecycle engine, with live re-sync of declared alarms.
package daemon
