package vpn

import (
	"context"
	"fmt"

	"github.com/godbus/dbus/v5"
)

const (
	nmDest        = "org.freedesktop.NetworkManager"
	nmPath        = dbus.ObjectPath("/org/freedesktop/NetworkManager")
	nmIface       = "org.freedesktop.NetworkManager"
	nmActiveIface = "org.freedesktop.NetworkManager.Connection.Active"
)

// NetworkManager active connection states.
const (
	nmStateActivating   uint32 = 1
	nmStateActivated    uint32 = 2
	nmStateDeactivating uint32 = 3
)

// busObject is the part of dbus.BusObject the driver uses.
type busObject interface {
	GetProperty(p string) (dbus.Variant, error)
	CallWithContext(ctx context.Context, method string, flags dbus.Flags, args ...interface{}) *dbus.Call
}

// NetworkManagerDriver manages VPN and WireGuard connections through
// NetworkManager on the system bus.
type NetworkManagerDriver struct {
	conn   *dbus.Conn
	object func(path dbus.ObjectPath) busObject
}

// NewNetworkManagerDriver connects to the system bus.
func NewNetworkManagerDriver() (*NetworkManagerDriver, error) {
	conn, err := dbus.ConnectSystemBus()
	if err != nil {
		return nil, fmt.Errorf("failed to connect to system bus: %w", err)
	}
	return &NetworkManagerDriver{
		conn: conn,
		object: func(path dbus.ObjectPath) busObject {
			return conn.Object(nmDest, path)
		},
	}, nil
}

// Close releases the bus connection.
func (d *NetworkManagerDriver) Close() error {
	if d.conn == nil {
		return nil
	}
	return d.conn.Close()
}

// ActiveTunnels implements Driver.
func (d *NetworkManagerDriver) ActiveTunnels(ctx context.Context) ([]Tunnel, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	v, err := d.object(nmPath).GetProperty(nmIface + ".ActiveConnections")
	if err != nil {
		return nil, fmt.Errorf("failed to list active connections: %w", err)
	}
	paths, ok := v.Value().([]dbus.ObjectPath)
	if !ok {
		return nil, fmt.Errorf("unexpected ActiveConnections type %s", v.Signature())
	}

	var tunnels []Tunnel
	for _, p := range paths {
		obj := d.object(p)
		connType := stringProperty(obj, "Type")
		isVPN, _ := property(obj, "Vpn").(bool)
		if !isVPN && connType != "wireguard" {
			continue
		}
		state, _ := property(obj, "State").(uint32)
		tunnels = append(tunnels, Tunnel{
			Name:   stringProperty(obj, "Id"),
			UUID:   stringProperty(obj, "Uuid"),
			Type:   connType,
			Status: statusFromNM(state),
			path:   string(p),
		})
	}
	return tunnels, nil
}

// Deactivate implements Driver.
func (d *NetworkManagerDriver) Deactivate(ctx context.Context, t Tunnel) error {
	call := d.object(nmPath).CallWithContext(ctx, nmIface+".DeactivateConnection", 0, dbus.ObjectPath(t.path))
	if call.Err != nil {
		return fmt.Errorf("failed to deactivate %s: %w", t.Name, call.Err)
	}
	return nil
}

func property(obj busObject, name string) interface{} {
	v, err := obj.GetProperty(nmActiveIface + "." + name)
	if err != nil {
		return nil
	}
	return v.Value()
}

func stringProperty(obj busObject, name string) string {
	s, _ := property(obj, name).(string)
	return s
}

func statusFromNM(state uint32) ConnectionStatus {
	switch state {
	case nmStateActivating:
		return StatusConnecting
	case nmStateActivated:
		return StatusConnected
	case nmStateDeactivating:
		return StatusDisconnecting
	default:
		return StatusDisconnected
	}
}
