package entitlement

import (
	"context"
	"sync"
	"time"

	"github.com/yllada/vpn-licensing/catalog"
	"github.com/yllada/vpn-licensing/vpn"
)

// ProfileRepository is the store of VPN profiles the review pass revokes
// from. Profile returns the stored profile itself, so changes made to it are
// written by the next Save. Callers hold the lock for the whole
// read-modify-save sequence.
type ProfileRepository interface {
	sync.Locker
	Keys() []string
	Profile(key string) (*vpn.Profile, bool)
	RemoveProfile(key string) error
	Save() error
}

// TunnelManager tears down installed tunnels. UninstallActiveTunnel brings
// down the active tunnels bound to the given profile names or IDs and returns
// the names of the tunnels it brought down.
type TunnelManager interface {
	UninstallActiveTunnel(ctx context.Context, profiles []string) ([]string, error)
}

// SnapshotKind names a persisted snapshot.
type SnapshotKind string

const (
	// SnapshotCurrent is the state after the latest reload.
	SnapshotCurrent SnapshotKind = "current"
	// SnapshotReviewed is the state the latest review ended with.
	SnapshotReviewed SnapshotKind = "reviewed"
)

// History persists snapshots and the revocation log across restarts.
// LoadSnapshot returns nil and no error when nothing was saved.
type History interface {
	SaveSnapshot(ctx context.Context, kind SnapshotKind, snap *Snapshot) error
	LoadSnapshot(ctx context.Context, kind SnapshotKind) (*Snapshot, error)
	RecordRevocations(ctx context.Context, reviewedAt time.Time, revs []Revocation) error
}

// Metrics receives engine counters.
type Metrics interface {
	ReceiptReloaded(ok bool)
	PurchasesReviewed(revoked bool)
	Revoked(kind RevocationKind)
}

type nopMetrics struct{}

func (nopMetrics) ReceiptReloaded(bool)   {}
func (nopMetrics) PurchasesReviewed(bool) {}
func (nopMetrics) Revoked(RevocationKind) {}

// RevocationKind tells what a review took away.
type RevocationKind string

const (
	// RevokedTrust means trusted-network grants were cleared.
	RevokedTrust RevocationKind = "trust"
	// RevokedProvider means a provider profile was removed.
	RevokedProvider RevocationKind = "provider"
)

// Revocation records one change made to a profile by a review.
type Revocation struct {
	ProfileID   string
	ProfileName string
	Kind        RevocationKind
	Product     catalog.ProductID
}

// ReviewResult summarizes a review pass.
type ReviewResult struct {
	ReviewedAt               time.Time
	FullVersionCancelled     bool
	TrustedNetworksCancelled bool
	Revocations              []Revocation
	// Disconnected names the tunnels brought down because of Revocations.
	Disconnected []string
}

// RevocationOccurred reports whether the review changed any profile.
func (r ReviewResult) RevocationOccurred() bool {
	return len(r.Revocations) > 0
}

// EventKind distinguishes engine events.
type EventKind int

const (
	// EventReceiptReloaded follows every successful ReloadReceipt.
	EventReceiptReloaded EventKind = iota
	// EventPurchasesReviewed follows every completed review.
	EventPurchasesReviewed
)

func (k EventKind) String() string {
	switch k {
	case EventReceiptReloaded:
		return "receipt-reloaded"
	case EventPurchasesReviewed:
		return "purchases-reviewed"
	default:
		return "unknown"
	}
}

// Event is delivered to observers.
type Event struct {
	Kind     EventKind
	Snapshot *Snapshot
	// The remaining fields are set for EventPurchasesReviewed. Err holds the
	// side effects of the review that failed.
	RevocationOccurred bool
	Revocations        []Revocation
	Disconnected       []string
	Err                error
}
