// Package notify emits system alerts through the freedesktop notification
// interface over D-Bus, and can probe the process table for a running
// notification daemon as a diagnostic signal.
package notify
