package entitlement

import (
	"fmt"
	"strings"

	"github.com/yllada/vpn-licensing/catalog"
	"github.com/yllada/vpn-licensing/receipt"
)

// BetaMode decides whether the client runs as a beta build.
type BetaMode string

const (
	// BetaAuto treats sandbox receipts as beta builds.
	BetaAuto BetaMode = "auto"
	BetaOn   BetaMode = "on"
	BetaOff  BetaMode = "off"
)

// ParseBetaMode accepts auto, on or off. Empty means auto.
func ParseBetaMode(s string) (BetaMode, error) {
	switch m := BetaMode(strings.ToLower(strings.TrimSpace(s))); m {
	case "":
		return BetaAuto, nil
	case BetaAuto, BetaOn, BetaOff:
		return m, nil
	default:
		return "", fmt.Errorf("unknown beta mode %q", s)
	}
}

// FullVersionGrant gives Product to installations originally bought at or
// before Build.
type FullVersionGrant struct {
	Build   int
	Product catalog.ProductID
}

// Configuration is the fixed policy an Engine is built with.
type Configuration struct {
	Platform             catalog.Platform
	Beta                 BetaMode
	LocksBetaFeatures    bool
	IsBetaFullVersion    bool
	LastFullVersionBuild FullVersionGrant
}

// Validate checks the configuration against c.
func (cfg Configuration) Validate(c *catalog.Catalog) error {
	if _, err := catalog.ParsePlatform(string(cfg.Platform)); err != nil {
		return err
	}
	if _, err := ParseBetaMode(string(cfg.Beta)); err != nil {
		return err
	}
	if p := cfg.LastFullVersionBuild.Product; p != "" && !c.Contains(p) {
		return fmt.Errorf("%w: grandfathered product %s", catalog.ErrUnknownProduct, p)
	}
	return nil
}

func (cfg Configuration) isBeta(s *Snapshot) bool {
	switch cfg.Beta {
	case BetaOn:
		return true
	case BetaOff:
		return false
	default:
		return s.Environment() == receipt.Sandbox
	}
}
