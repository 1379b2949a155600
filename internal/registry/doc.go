// Package registry tracks every acquired playback and wake resource in one
// process-wide ledger so a single StopAll sweep can guarantee silence, even
// for resources created by delivery layers that are still starting up.
package registry
