// Package common provides shared constants, errors, interfaces and the
// application logger used throughout the licensing components.
//
//   - Constants: file names, keyring service, schedules and timeouts
//   - Errors: sentinel errors for consistent error handling across packages
//   - Interfaces: notification and logging abstractions
//   - Logger: leveled logging backed by logrus with rotated file output
//   - Utils: config/data directory helpers and atomic file writes
//
// # Usage
//
//	common.LogInfo("Entitlements: reloaded receipt (%d features)", n)
//
//	if errors.Is(err, common.ErrProfileNotFound) {
//	    // Handle missing profile
//	}
package common
