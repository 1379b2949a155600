// Package audio abstracts the host's sound and wake facilities behind small
// interfaces (Player, Waker, Haptics) so delivery layers stay testable.
// The default implementations shell out to the host's built-in tools, in the
// spirit of "use what the OS already ships".
package audio
