package entitlement

import (
	"errors"

	"github.com/yllada/vpn-licensing/catalog"
)

// Errors returned by the Verify methods. They are wrapped with the product
// or provider that failed.
var (
	ErrIneligible      = errors.New("not eligible")
	ErrBetaLocked      = errors.New("locked in beta builds")
	ErrUnknownProvider = catalog.ErrUnknownProvider
)
