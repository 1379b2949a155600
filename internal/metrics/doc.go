// Package metrics declares the engine's Prometheus collectors.
//
// The engine has no network surface, so collectors are registered on the
// default registry and left for the embedding process to expose or scrape
// as it sees fit.
package metrics
