package entitlement

import (
	"context"
	"errors"
	"fmt"

	"github.com/yllada/vpn-licensing/catalog"
	"github.com/yllada/vpn-licensing/common"
	"github.com/yllada/vpn-licensing/vpn"
)

// ReviewPurchases reloads the receipt and revokes what newly cancelled
// purchases no longer pay for: trusted-network grants when the full version
// or the trusted networks feature was refunded, and provider profiles whose
// provider was refunded. When anything was revoked the profiles are saved,
// the tunnels bound to the changed profiles are uninstalled and the
// revocations are recorded.
//
// The comparison is against the state the previous review ended with, so a
// refund picked up by an intermediate reload is still acted upon. Running it
// again without a receipt change revokes nothing. When a profile could not be
// removed the baseline is kept and the next review tries again.
func (e *Engine) ReviewPurchases(ctx context.Context) (ReviewResult, error) {
	e.mu.Lock()
	res, after, err := e.reviewLocked(ctx)
	e.mu.Unlock()

	if after == nil {
		return res, err
	}
	e.metrics.PurchasesReviewed(res.RevocationOccurred())
	e.emit(Event{
		Kind:               EventPurchasesReviewed,
		Snapshot:           after,
		RevocationOccurred: res.RevocationOccurred(),
		Revocations:        res.Revocations,
		Disconnected:       res.Disconnected,
		Err:                err,
	})
	return res, err
}

// reviewLocked returns a nil snapshot when the review could not run.
func (e *Engine) reviewLocked(ctx context.Context) (ReviewResult, *Snapshot, error) {
	res := ReviewResult{ReviewedAt: e.now()}

	before := e.baseline
	if before == nil {
		before = e.store.Current()
	}
	if _, err := e.reloadLocked(ctx); err != nil {
		return res, nil, err
	}
	after := e.store.Current()

	platform := e.cfg.Platform
	fullBefore := e.isFullVersion(before)
	fullAfter := e.isFullVersion(after)

	fullProducts := e.catalog.FullVersionProducts(platform)
	res.FullVersionCancelled = fullBefore && !fullAfter && after.anyCancelled(fullProducts)
	if platform != catalog.PlatformMacOS {
		res.TrustedNetworksCancelled = e.ownsFeature(before, catalog.TrustedNetworks) &&
			!e.ownsFeature(after, catalog.TrustedNetworks) &&
			after.IsCancelled(catalog.TrustedNetworks)
	}

	e.profiles.Lock()
	revs, removeErr := e.revokeLocked(before, after, res, fullAfter)
	res.Revocations = revs
	var errs []error
	if removeErr != nil {
		errs = append(errs, removeErr)
	}
	if res.RevocationOccurred() {
		if err := e.profiles.Save(); err != nil {
			errs = append(errs, fmt.Errorf("failed to save profiles: %w", err))
		}
	}
	e.profiles.Unlock()

	if res.RevocationOccurred() {
		common.LogInfo("Entitlements: review revoked %d grant(s)", len(res.Revocations))
		for _, r := range res.Revocations {
			e.metrics.Revoked(r.Kind)
		}
		down, err := e.tunnels.UninstallActiveTunnel(ctx, boundProfiles(res.Revocations))
		res.Disconnected = down
		if err != nil {
			errs = append(errs, fmt.Errorf("failed to uninstall tunnel: %w", err))
		}
		if e.history != nil {
			if err := e.history.RecordRevocations(ctx, res.ReviewedAt, res.Revocations); err != nil {
				errs = append(errs, fmt.Errorf("failed to record revocations: %w", err))
			}
		}
	} else {
		common.LogDebug("Entitlements: review found nothing to revoke")
	}

	if removeErr != nil {
		common.LogWarn("Entitlements: keeping the review baseline to retry: %v", removeErr)
	} else {
		e.baseline = after
		e.persist(ctx, SnapshotReviewed, after)
	}

	return res, after, errors.Join(errs...)
}

// revokeLocked mutates the profile repository. The caller holds its lock.
// It returns the revocations applied and the removals that failed.
func (e *Engine) revokeLocked(before, after *Snapshot, res ReviewResult, fullAfter bool) ([]Revocation, error) {
	var revs []Revocation
	var errs []error

	if res.FullVersionCancelled || res.TrustedNetworksCancelled {
		cause := catalog.TrustedNetworks
		if res.FullVersionCancelled {
			cause = e.cancelledFullVersion(after)
		}
		clearCellular := e.cfg.Platform != catalog.PlatformMacOS
		for _, key := range e.profiles.Keys() {
			p, ok := e.profiles.Profile(key)
			if !ok {
				continue
			}
			if p.TrustedNetworks.Revoke(clearCellular) {
				common.LogDebug("Entitlements: cleared trusted networks of %s", p.Name)
				revs = append(revs, revocation(key, p, RevokedTrust, cause))
			}
		}
	}

	for _, key := range e.profiles.Keys() {
		p, ok := e.profiles.Profile(key)
		if !ok || !p.IsProvider() {
			continue
		}
		provider, ok := e.catalog.Provider(p.ProviderName)
		if !ok || provider.Free {
			continue
		}
		newlyCancelled := after.IsCancelled(provider.Product) && !before.IsCancelled(provider.Product)
		if !res.FullVersionCancelled && (fullAfter || !newlyCancelled) {
			continue
		}
		if err := e.profiles.RemoveProfile(key); err != nil {
			errs = append(errs, fmt.Errorf("failed to remove provider profile %s: %w", p.Name, err))
			continue
		}
		common.LogDebug("Entitlements: removed refunded provider %s", provider.Name)
		revs = append(revs, revocation(key, p, RevokedProvider, provider.Product))
	}

	return revs, errors.Join(errs...)
}

// boundProfiles lists the IDs and names of the revoked profiles, the keys a
// tunnel can be bound by.
func boundProfiles(revs []Revocation) []string {
	seen := make(map[string]bool, 2*len(revs))
	var out []string
	for _, r := range revs {
		for _, key := range []string{r.ProfileID, r.ProfileName} {
			if key != "" && !seen[key] {
				seen[key] = true
				out = append(out, key)
			}
		}
	}
	return out
}

func (e *Engine) cancelledFullVersion(s *Snapshot) catalog.ProductID {
	for _, id := range e.catalog.FullVersionProducts(e.cfg.Platform) {
		if s.IsCancelled(id) {
			return id
		}
	}
	return catalog.FullVersion
}

func revocation(key string, p *vpn.Profile, kind RevocationKind, product catalog.ProductID) Revocation {
	return Revocation{
		ProfileID:   key,
		ProfileName: p.Name,
		Kind:        kind,
		Product:     product,
	}
}
