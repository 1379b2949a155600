package notify

import (
	"context"
	"fmt"

	"github.com/godbus/dbus/v5"

	"github.com/oshokin/alarm-engine/internal/logger"
)

// Notification is one system alert.
type Notification struct {
	// Summary is the one-line title.
	Summary string
	// Body is the longer message text.
	Body string
	// Critical requests the highest urgency so the alert bypasses
	// do-not-disturb filtering where the daemon honors urgency.
	Critical bool
	// WithSound asks the notification daemon to play its alarm sound.
	WithSound bool
}

// Notifier emits system alerts.
type Notifier interface {
	// Alert shows the notification. Failures are returned, never fatal:
	// callers treat alerting as one redundant delivery layer among several.
	Alert(ctx context.Context, n Notification) error
}

// Desktop notification protocol constants (org.freedesktop.Notifications).
const (
	notifyService   = "org.freedesktop.Notifications"
	notifyPath      = "/org/freedesktop/Notifications"
	notifyMethod    = "org.freedesktop.Notifications.Notify"
	urgencyCritical = byte(2)
	// appName identifies the engine to the notification daemon.
	appName = "alarm-engine"
	// neverExpire keeps the alert on screen until dismissed.
	neverExpire = int32(0)
)

// DBusNotifier emits desktop notifications over the D-Bus session bus.
type DBusNotifier struct {
	// conn is the session bus connection, established lazily.
	conn *dbus.Conn
}

// NewDBusNotifier connects to the session bus.
func NewDBusNotifier() (*DBusNotifier, error) {
	conn, err := dbus.ConnectSessionBus()
	if err != nil {
		return nil, fmt.Errorf("connect session bus: %w", err)
	}

	return &DBusNotifier{conn: conn}, nil
}

// Alert shows the notification through the freedesktop notification daemon.
func (d *DBusNotifier) Alert(ctx context.Context, n Notification) error {
	hints := map[string]dbus.Variant{
		"resident": dbus.MakeVariant(true),
	}

	if n.Critical {
		hints["urgency"] = dbus.MakeVariant(urgencyCritical)
	}

	if n.WithSound {
		hints["sound-name"] = dbus.MakeVariant("alarm-clock-elapsed")
	} else {
		hints["suppress-sound"] = dbus.MakeVariant(true)
	}

	obj := d.conn.Object(notifyService, notifyPath)

	var id uint32

	call := obj.CallWithContext(ctx, notifyMethod, 0,
		appName,
		uint32(0), // never replace earlier alerts; each pulse stands alone
		"",        // icon
		n.Summary,
		n.Body,
		[]string{}, // actions
		hints,
		neverExpire,
	)
	if err := call.Store(&id); err != nil {
		return fmt.Errorf("notify call: %w", err)
	}

	return nil
}

// Close releases the bus connection.
func (d *DBusNotifier) Close() error {
	return d.conn.Close()
}

// LogNotifier writes alerts to the log. It stands in for the desktop
// notifier on hosts without a session bus, keeping the pulse layer alive as
// a visible (if silent) delivery channel.
type LogNotifier struct{}

// Alert logs the notification.
func (LogNotifier) Alert(ctx context.Context, n Notification) error {
	logger.WarnKV(ctx, "ALERT: "+n.Summary, "body", n.Body, "critical", n.Critical)

	return nil
}
