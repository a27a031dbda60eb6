// Package vpn provides VPN connection management functionality.
// This file contains the Manager type which controls the tunnels installed
// through the system's tunneling backend.
package vpn

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/yllada/vpn-licensing/common"
)

// Common errors - re-exported from common package for convenience.
var (
	ErrNotConnected = common.ErrNotConnected
)

// ConnectionStatus represents the current state of a VPN connection.
type ConnectionStatus int

const (
	// StatusDisconnected indicates no active connection.
	StatusDisconnected ConnectionStatus = iota
	// StatusConnecting indicates a connection is being established.
	StatusConnecting
	// StatusConnected indicates an active, established connection.
	StatusConnected
	// StatusDisconnecting indicates the connection is being terminated.
	StatusDisconnecting
	// StatusError indicates the connection failed or encountered an error.
	StatusError
)

// String returns a human-readable representation of the connection status.
func (s ConnectionStatus) String() string {
	switch s {
	case StatusDisconnected:
		return "Disconnected"
	case StatusConnecting:
		return "Connecting..."
	case StatusConnected:
		return "Connected"
	case StatusDisconnecting:
		return "Disconnecting..."
	case StatusError:
		return "Error"
	default:
		return "Unknown"
	}
}

// Tunnel is a tunnel installed in the backend.
type Tunnel struct {
	// Name is the connection name shown to the user.
	Name string
	// UUID identifies the backend connection profile.
	UUID string
	// Type is the backend connection type, e.g. "vpn" or "wireguard".
	Type   string
	Status ConnectionStatus

	// path is the backend handle used to deactivate the tunnel.
	path string
}

// Driver is the tunneling backend.
type Driver interface {
	ActiveTunnels(ctx context.Context) ([]Tunnel, error)
	Deactivate(ctx context.Context, t Tunnel) error
}

// Manager controls installed tunnels through a Driver.
type Manager struct {
	driver Driver
	mu     sync.Mutex
}

// NewManager creates a tunnel manager on top of driver.
func NewManager(driver Driver) *Manager {
	return &Manager{driver: driver}
}

// ActiveTunnels lists the tunnels that are up or coming up.
func (m *Manager) ActiveTunnels(ctx context.Context) ([]Tunnel, error) {
	return m.driver.ActiveTunnels(ctx)
}

// Status returns the state of the most advanced active tunnel.
func (m *Manager) Status(ctx context.Context) (ConnectionStatus, error) {
	tunnels, err := m.driver.ActiveTunnels(ctx)
	if err != nil {
		return StatusError, err
	}
	status := StatusDisconnected
	for _, t := range tunnels {
		switch {
		case t.Status == StatusConnected:
			return StatusConnected, nil
		case t.Status == StatusConnecting:
			status = StatusConnecting
		case t.Status == StatusDisconnecting && status == StatusDisconnected:
			status = StatusDisconnecting
		}
	}
	return status, nil
}

// Disconnect brings down the tunnel called name.
func (m *Manager) Disconnect(ctx context.Context, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	tunnels, err := m.driver.ActiveTunnels(ctx)
	if err != nil {
		return err
	}
	for _, t := range tunnels {
		if t.Name == name {
			common.LogInfo("VPN: disconnecting %s", t.Name)
			return m.driver.Deactivate(ctx, t)
		}
	}
	return fmt.Errorf("%w: %s", ErrNotConnected, name)
}

// UninstallActiveTunnel brings down the active tunnels bound to profiles,
// matched by tunnel name against profile names and by UUID against profile
// IDs. Tunnels of other applications are left alone. It returns the names of
// the tunnels it brought down. Having none is not an error.
func (m *Manager) UninstallActiveTunnel(ctx context.Context, profiles []string) ([]string, error) {
	if len(profiles) == 0 {
		return nil, nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	tunnels, err := m.driver.ActiveTunnels(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list tunnels: %w", err)
	}

	bound := make(map[string]bool, len(profiles))
	for _, p := range profiles {
		bound[p] = true
	}

	var down []string
	var errs []error
	for _, t := range tunnels {
		if !bound[t.Name] && (t.UUID == "" || !bound[t.UUID]) {
			continue
		}
		common.LogInfo("VPN: uninstalling tunnel %s", t.Name)
		if err := m.driver.Deactivate(ctx, t); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", t.Name, err))
			continue
		}
		down = append(down, t.Name)
	}
	return down, errors.Join(errs...)
}
