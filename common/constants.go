// Package common provides shared constants, types, and utilities
// used across the VPN Manager licensing components.
package common

import "time"

// Application metadata.
const (
	// AppID is the unique identifier for the application.
	AppID = "com.vpnmanager.app"
	// AppName is the display name of the application.
	AppName = "VPN Manager"
	// ConfigDirName is the name of the configuration directory.
	ConfigDirName = "vpn-manager"
	// KeyringService is the service name used in the system keyring.
	KeyringService = "vpn-manager"
)

// File names used by the application.
const (
	ProfilesFileName = "profiles.yaml"
	ConfigFileName   = "config.yaml"
	CatalogFileName  = "catalog.yaml"
	ReceiptFileName  = "receipt.jws"
	ReceiptKeysName  = "receipt-keys.json"
	ReceiptCacheName = ".receipt"
	LedgerFileName   = "entitlements.db"
	LogFileName      = "vpn-manager.log"
)

// Default timeouts and intervals.
const (
	// StorefrontTimeout bounds a single storefront request.
	StorefrontTimeout = 30 * time.Second
	// DefaultReviewSchedule is the cron spec for periodic purchase reviews.
	DefaultReviewSchedule = "@every 6h"
	// ShutdownTimeout is how long the daemon waits for background work on exit.
	ShutdownTimeout = 5 * time.Second
)
