// Package notify sends desktop notifications through the freedesktop
// notification service, falling back to the notify-send tool.
package notify

import (
	"fmt"
	"log/slog"
	"os/exec"

	"github.com/godbus/dbus/v5"
)

const (
	appName = "zbridge"

	busName    = "org.freedesktop.Notifications"
	objectPath = "/org/freedesktop/Notifications"
	method     = busName + ".Notify"

	urgencyCritical = byte(2)
)

// Notifier delivers a single desktop notification
type Notifier interface {
	Notify(title, body string) error
}

// Func adapts a function to Notifier
type Func func(title, body string) error

func (f Func) Notify(title, body string) error { return f(title, body) }

// Desktop notifies over the D-Bus session bus
type Desktop struct {
	Fallback string // Command used when the session bus is unavailable
}

// Notify sends a critical notification
func (d Desktop) Notify(title, body string) error {
	err := notifyDBus(title, body)
	if err == nil {
		return nil
	}
	slog.Debug("D-Bus notification failed, trying fallback", "error", err)

	if d.Fallback == "" {
		return err
	}
	out, ferr := exec.Command(d.Fallback, "-u", "critical", "-a", appName, title, body).CombinedOutput()
	if ferr != nil {
		return fmt.Errorf("%s failed: %w (%s)", d.Fallback, ferr, out)
	}
	return nil
}

func notifyDBus(title, body string) error {
	// The session bus connection is shared and must not be closed
	conn, err := dbus.SessionBus()
	if err != nil {
		return fmt.Errorf("session bus unavailable: %w", err)
	}

	hints := map[string]dbus.Variant{
		"urgency": dbus.MakeVariant(urgencyCritical),
	}
	call := conn.Object(busName, objectPath).Call(method, 0,
		appName,    // app_name
		uint32(0),  // replaces_id
		"",         // app_icon
		title,      // summary
		body,       // body
		[]string{}, // actions
		hints,
		int32(-1), // expire_timeout, server default
	)
	return call.Err
}
