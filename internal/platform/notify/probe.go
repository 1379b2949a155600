package notify

import (
	"strings"

	ps "github.com/mitchellh/go-ps"
)

// knownDaemons lists process names of common notification daemons.
// The shell processes are included because GNOME and KDE serve the
// notification interface from inside the shell itself.
//
//nolint:gochecknoglobals // Static lookup table.
var knownDaemons = []string{
	"dunst",
	"mako",
	"xfce4-notifyd",
	"notification-daemon",
	"gnome-shell",
	"plasmashell",
}

// DaemonPresent scans the process table for a known notification daemon.
// It returns the matched process name, or false when none is running.
// This is a diagnostic signal for the setup advisor; the pulse layer always
// attempts delivery regardless of what the probe reports.
func DaemonPresent() (string, bool) {
	processes, err := ps.Processes()
	if err != nil {
		return "", false
	}

	for _, p := range processes {
		name := strings.ToLower(p.Executable())
		for _, daemon := range knownDaemons {
			if name == daemon {
				return daemon, true
			}
		}
	}

	return "", false
}
