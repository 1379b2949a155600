// Package capability estimates the grant-state of platform capabilities the
// host does not expose a query API for, from behavioral signals: successful
// delivery counters, setup completion marks and install age.
//
// Estimates are advisory for onboarding UI only; the delivery cascade
// attempts every layer regardless of what this package reports.
package capability
