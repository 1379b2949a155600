// Package watcher provides debounced change notifications for the daemon's
// configuration file, built on fsnotify.
package watcher
