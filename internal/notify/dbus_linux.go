//go:build linux

package notify

import (
	"context"
	"fmt"
	"sync"

	"github.com/godbus/dbus/v5"
)

// Freedesktop notification service constants.
const (
	NotificationsService   = "org.freedesktop.Notifications"
	NotificationsPath      = "/org/freedesktop/Notifications"
	NotificationsInterface = "org.freedesktop.Notifications"
)

type busObject interface {
	CallWithContext(ctx context.Context, method string, flags dbus.Flags, args ...interface{}) *dbus.Call
}

// DBusNotifier shows notifications through org.freedesktop.Notifications
// on the session bus.
type DBusNotifier struct {
	appName string
	conn    *dbus.Conn
	obj     busObject

	mu     sync.Mutex
	closed bool
}

func newDesktop(appName string) (Notifier, error) {
	return NewDBusNotifier(appName)
}

// NewDBusNotifier opens its own session bus connection, separate from the
// process-wide one returned by dbus.SessionBus, so Close only ends ours.
func NewDBusNotifier(appName string) (*DBusNotifier, error) {
	conn, err := dbus.ConnectSessionBus()
	if err != nil {
		return nil, fmt.Errorf("connect session bus: %w", err)
	}
	var owned bool
	if err := conn.BusObject().Call("org.freedesktop.DBus.NameHasOwner", 0, NotificationsService).Store(&owned); err != nil {
		conn.Close()
		return nil, fmt.Errorf("query %s: %w", NotificationsService, err)
	}
	if !owned {
		conn.Close()
		return nil, fmt.Errorf("%w: %s has no owner", ErrUnsupported, NotificationsService)
	}
	return &DBusNotifier{
		appName: appName,
		conn:    conn,
		obj:     conn.Object(NotificationsService, NotificationsPath),
	}, nil
}

// Notify implements Notifier.
func (d *DBusNotifier) Notify(ctx context.Context, n Notification) error {
	d.mu.Lock()
	closed := d.closed
	d.mu.Unlock()
	if closed {
		return fmt.Errorf("notify: notifier closed")
	}

	hints := map[string]dbus.Variant{
		"urgency": dbus.MakeVariant(byte(n.Urgency)),
	}
	call := d.obj.CallWithContext(ctx, NotificationsInterface+".Notify", 0,
		d.appName, uint32(0), "", n.Title, n.Body, []string{}, hints, int32(-1))
	var id uint32
	if err := call.Store(&id); err != nil {
		return fmt.Errorf("send notification: %w", err)
	}
	return nil
}

// Close implements Notifier.
func (d *DBusNotifier) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil
	}
	d.closed = true
	if d.conn != nil {
		return d.conn.Close()
	}
	return nil
}
