package capability

// Advisor consumes grant-state estimates and decides whether to surface a
// setup flow to the user. Estimates are advisory: an Advisor may prompt,
// but delivery never gates on its verdicts.
type Advisor interface {
	// Review receives the current estimates, keyed by capability name.
	// A false value means the capability is assumed revoked or never granted.
	Review(estimates map[string]bool)
}
