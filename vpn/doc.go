// Package vpn provides VPN profile storage and tunnel control for VPN Manager.
//
// This package implements:
//
//   - Profile management: Creating, updating, and deleting VPN profiles,
//     including provider profiles and their trusted networks
//   - Tunnel control: Listing and tearing down the tunnels installed in
//     the system's tunneling backend
//
// # Architecture
//
// The package is organized around three main types:
//
//   - ProfileManager: Handles persistence and management of VPN profiles
//   - Manager: Controls installed tunnels through a Driver
//   - NetworkManagerDriver: A Driver talking to NetworkManager over D-Bus
//
// # Thread Safety
//
// Manager is safe for concurrent use. ProfileManager embeds a mutex that
// callers hold around each read-modify-save sequence; its methods do not
// lock on their own.
package vpn
