// Package notify shows desktop notifications for entitlement events.
package notify

import (
	"context"
	"fmt"
	"strings"

	"github.com/godbus/dbus/v5"

	"github.com/yllada/vpn-licensing/common"
	"github.com/yllada/vpn-licensing/entitlement"
)

const (
	notifyDest  = "org.freedesktop.Notifications"
	notifyPath  = dbus.ObjectPath("/org/freedesktop/Notifications")
	notifyIface = "org.freedesktop.Notifications"

	// expireDefault lets the notification server pick the timeout.
	expireDefault int32 = -1
)

// NotificationType represents the type of notification
type NotificationType int

const (
	NotificationInfo NotificationType = iota
	NotificationSuccess
	NotificationWarning
	NotificationError
)

// Notification represents a system notification
type Notification struct {
	Title   string
	Message string
	Type    NotificationType
	Icon    string
}

func (n Notification) icon() string {
	if n.Icon != "" {
		return n.Icon
	}
	switch n.Type {
	case NotificationWarning:
		return "dialog-warning"
	case NotificationError:
		return "dialog-error"
	default:
		return "network-vpn"
	}
}

// urgency follows the freedesktop hint values: 0 low, 1 normal, 2 critical.
func (n Notification) urgency() byte {
	switch n.Type {
	case NotificationError:
		return 2
	case NotificationSuccess:
		return 0
	default:
		return 1
	}
}

type caller interface {
	CallWithContext(ctx context.Context, method string, flags dbus.Flags, args ...interface{}) *dbus.Call
}

// Notifier sends notifications over the session bus.
type Notifier struct {
	conn *dbus.Conn
	obj  caller
}

var _ common.Notifier = (*Notifier)(nil)

// New connects to the session bus.
func New() (*Notifier, error) {
	conn, err := dbus.ConnectSessionBus()
	if err != nil {
		return nil, fmt.Errorf("failed to connect to session bus: %w", err)
	}
	return &Notifier{conn: conn, obj: conn.Object(notifyDest, notifyPath)}, nil
}

// Close closes the bus connection.
func (n *Notifier) Close() error {
	if n.conn == nil {
		return nil
	}
	return n.conn.Close()
}

// Show displays n.
func (n *Notifier) Show(ctx context.Context, notif Notification) error {
	hints := map[string]dbus.Variant{"urgency": dbus.MakeVariant(notif.urgency())}
	call := n.obj.CallWithContext(ctx, notifyIface+".Notify", 0,
		common.AppName, uint32(0), notif.icon(), notif.Title, notif.Message,
		[]string{}, hints, expireDefault)
	if call.Err != nil {
		return fmt.Errorf("failed to show notification: %w", call.Err)
	}
	return nil
}

// Notify implements common.Notifier.
func (n *Notifier) Notify(title, message string) error {
	return n.Show(context.Background(), Notification{Title: title, Message: message})
}

// NotifyWithIcon implements common.Notifier.
func (n *Notifier) NotifyWithIcon(title, message, icon string) error {
	return n.Show(context.Background(), Notification{Title: title, Message: message, Icon: icon})
}

// Observer returns an engine observer that reports revocations through n.
func Observer(n common.Notifier) func(entitlement.Event) {
	return func(ev entitlement.Event) {
		notif, ok := RevocationNotification(ev)
		if !ok {
			return
		}
		if err := n.NotifyWithIcon(notif.Title, notif.Message, notif.icon()); err != nil {
			common.LogWarn("Notify: %v", err)
		}
	}
}

// RevocationNotification builds the notification for a review that revoked
// something. It reports false for every other event.
func RevocationNotification(ev entitlement.Event) (Notification, bool) {
	if ev.Kind != entitlement.EventPurchasesReviewed || !ev.RevocationOccurred {
		return Notification{}, false
	}

	var removed, untrusted []string
	for _, r := range ev.Revocations {
		switch r.Kind {
		case entitlement.RevokedProvider:
			removed = append(removed, r.ProfileName)
		case entitlement.RevokedTrust:
			untrusted = append(untrusted, r.ProfileName)
		}
	}

	var lines []string
	if len(removed) > 0 {
		lines = append(lines, "Removed: "+strings.Join(removed, ", "))
	}
	if len(untrusted) > 0 {
		lines = append(lines, "Trusted networks cleared: "+strings.Join(untrusted, ", "))
	}
	notif := Notification{
		Title: "Purchase refunded",
		Type:  NotificationWarning,
		Icon:  "network-vpn-disconnected",
	}
	if len(ev.Disconnected) > 0 {
		lines = append(lines, "Disconnected: "+strings.Join(ev.Disconnected, ", "))
	} else {
		notif.Icon = "network-vpn"
	}
	if ev.Err != nil {
		lines = append(lines, "Some changes could not be applied. See the log for details.")
		notif.Type = NotificationError
		notif.Icon = ""
	}
	notif.Message = strings.Join(lines, "\n")
	return notif, true
}
