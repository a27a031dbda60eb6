package entitlement

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/yllada/vpn-licensing/catalog"
	"github.com/yllada/vpn-licensing/common"
	"github.com/yllada/vpn-licensing/receipt"
)

// Deps are the collaborators of an Engine. History and Metrics are
// optional.
type Deps struct {
	Catalog  *catalog.Catalog
	Store    *Store
	Source   receipt.Source
	Profiles ProfileRepository
	Tunnels  TunnelManager
	History  History
	Metrics  Metrics
}

// Engine answers eligibility queries and runs the review pass.
type Engine struct {
	// mu serializes ReloadReceipt and ReviewPurchases.
	mu       sync.Mutex
	cfg      Configuration
	catalog  *catalog.Catalog
	store    *Store
	source   receipt.Source
	profiles ProfileRepository
	tunnels  TunnelManager
	history  History
	metrics  Metrics
	now      func() time.Time

	// baseline is the snapshot the previous review ended with.
	baseline *Snapshot

	obsMu     sync.RWMutex
	observers map[int]func(Event)
	nextObs   int
}

// NewEngine validates cfg and wires the engine.
func NewEngine(cfg Configuration, deps Deps) (*Engine, error) {
	if deps.Catalog == nil || deps.Store == nil || deps.Source == nil {
		return nil, errors.New("entitlement: catalog, store and receipt source are required")
	}
	if deps.Profiles == nil || deps.Tunnels == nil {
		return nil, errors.New("entitlement: profile repository and tunnel manager are required")
	}
	if cfg.Beta == "" {
		cfg.Beta = BetaAuto
	}
	if err := cfg.Validate(deps.Catalog); err != nil {
		return nil, common.WrapError(err, "invalid entitlement configuration")
	}

	metrics := deps.Metrics
	if metrics == nil {
		metrics = nopMetrics{}
	}

	return &Engine{
		cfg:       cfg,
		catalog:   deps.Catalog,
		store:     deps.Store,
		source:    deps.Source,
		profiles:  deps.Profiles,
		tunnels:   deps.Tunnels,
		history:   deps.History,
		metrics:   metrics,
		now:       time.Now,
		observers: make(map[int]func(Event)),
	}, nil
}

// Configuration returns the policy the engine was built with.
func (e *Engine) Configuration() Configuration {
	return e.cfg
}

// Catalog returns the product catalog.
func (e *Engine) Catalog() *catalog.Catalog {
	return e.catalog
}

// Subscribe registers fn for every event. The returned function removes it.
// Observers run on the goroutine that triggered the event, after the engine
// lock has been released.
func (e *Engine) Subscribe(fn func(Event)) (unsubscribe func()) {
	e.obsMu.Lock()
	id := e.nextObs
	e.nextObs++
	e.observers[id] = fn
	e.obsMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			e.obsMu.Lock()
			delete(e.observers, id)
			e.obsMu.Unlock()
		})
	}
}

func (e *Engine) emit(ev Event) {
	e.obsMu.RLock()
	fns := make([]func(Event), 0, len(e.observers))
	for _, fn := range e.observers {
		fns = append(fns, fn)
	}
	e.obsMu.RUnlock()

	for _, fn := range fns {
		fn(ev)
	}
}

// LoadState restores the review baseline from the persisted snapshots, so
// refunds that arrived while the client was not running are still seen by
// the next review. Persisted snapshots never grant entitlements: those
// always come from a verified receipt.
func (e *Engine) LoadState(ctx context.Context) error {
	if e.history == nil {
		return nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	current, err := e.history.LoadSnapshot(ctx, SnapshotCurrent)
	if err != nil {
		return fmt.Errorf("failed to load current entitlements: %w", err)
	}
	reviewed, err := e.history.LoadSnapshot(ctx, SnapshotReviewed)
	if err != nil {
		return fmt.Errorf("failed to load reviewed entitlements: %w", err)
	}

	if reviewed == nil && current != nil {
		// Never reviewed: pin what an earlier run saw before another
		// reload overwrites it.
		reviewed = current
		e.persist(ctx, SnapshotReviewed, current)
	}
	if reviewed != nil {
		e.baseline = reviewed
	}
	return nil
}

// Snapshot returns the current entitlement snapshot.
func (e *Engine) Snapshot() *Snapshot {
	return e.store.Current()
}

// IsBeta reports whether the client runs as a beta build.
func (e *Engine) IsBeta() bool {
	return e.cfg.isBeta(e.store.Current())
}

// IsFullVersion reports whether the full version is unlocked.
func (e *Engine) IsFullVersion() bool {
	return e.isFullVersion(e.store.Current())
}

func (e *Engine) isFullVersion(s *Snapshot) bool {
	if e.cfg.isBeta(s) && e.cfg.IsBetaFullVersion {
		return true
	}
	return s.anyPurchased(e.catalog.FullVersionProducts(e.cfg.Platform))
}

// IsEligible reports whether feature may be used.
func (e *Engine) IsEligible(feature catalog.ProductID) bool {
	return e.VerifyEligible(feature) == nil
}

// VerifyEligible returns nil when feature may be used, or an error wrapping
// ErrBetaLocked or ErrIneligible.
func (e *Engine) VerifyEligible(feature catalog.ProductID) error {
	return e.verifyFeature(e.store.Current(), feature)
}

func (e *Engine) verifyFeature(s *Snapshot, feature catalog.ProductID) error {
	if ok, err := e.betaPolicy(s, string(feature)); ok || err != nil {
		return err
	}
	if !e.ownsFeature(s, feature) {
		return fmt.Errorf("%w: %s", ErrIneligible, feature)
	}
	return nil
}

// betaPolicy applies the beta rules first. ok means access is granted
// without looking at purchases.
func (e *Engine) betaPolicy(s *Snapshot, subject string) (ok bool, err error) {
	if !e.cfg.isBeta(s) {
		return false, nil
	}
	if e.cfg.IsBetaFullVersion {
		return true, nil
	}
	if e.cfg.LocksBetaFeatures {
		return false, fmt.Errorf("%w: %s", ErrBetaLocked, subject)
	}
	return false, nil
}

func (e *Engine) ownsFeature(s *Snapshot, feature catalog.ProductID) bool {
	if e.isFullVersion(s) {
		return true
	}
	return e.cfg.Platform.FeaturesUnlockIndividually() && s.HasPurchased(feature)
}

// IsEligibleForProvider reports whether the named provider may be set up.
func (e *Engine) IsEligibleForProvider(name string) bool {
	return e.VerifyEligibleForProvider(name) == nil
}

// VerifyEligibleForProvider returns nil when the named provider may be set
// up. Free providers pass regardless of purchases.
func (e *Engine) VerifyEligibleForProvider(name string) error {
	s := e.store.Current()
	if ok, err := e.betaPolicy(s, name); ok || err != nil {
		return err
	}
	p, ok := e.catalog.Provider(name)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownProvider, name)
	}
	if p.Free {
		return nil
	}
	if !e.ownsFeature(s, p.Product) {
		return fmt.Errorf("%w: %s", ErrIneligible, name)
	}
	return nil
}

// IsEligibleForFeedback reports whether the user may send feedback: beta
// testers and paying users.
func (e *Engine) IsEligibleForFeedback() bool {
	s := e.store.Current()
	return e.cfg.isBeta(s) || len(s.purchased) > 0
}

// HasPurchased reports whether id is owned.
func (e *Engine) HasPurchased(id catalog.ProductID) bool {
	return e.store.Current().HasPurchased(id)
}

// IsCancelledPurchase reports whether a purchase of id was cancelled.
func (e *Engine) IsCancelledPurchase(id catalog.ProductID) bool {
	return e.store.Current().IsCancelled(id)
}

// PurchaseDate returns when id was originally bought.
func (e *Engine) PurchaseDate(id catalog.ProductID) (time.Time, bool) {
	return e.store.Current().PurchaseDate(id)
}

// PurchasedFeatures returns every owned product.
func (e *Engine) PurchasedFeatures() []catalog.ProductID {
	return e.store.Current().Purchased()
}

// ReloadReceipt rebuilds entitlements from the receipt source and notifies
// observers. A missing or unparseable receipt is logged and leaves the
// current entitlements untouched.
func (e *Engine) ReloadReceipt(ctx context.Context) error {
	e.mu.Lock()
	snap, err := e.reloadLocked(ctx)
	e.mu.Unlock()
	if err != nil {
		return err
	}
	if snap != nil {
		e.emit(Event{Kind: EventReceiptReloaded, Snapshot: snap})
	}
	return nil
}

// reloadLocked returns the new snapshot, or nil when the current one was
// kept. Only failures to read the source are returned as errors.
func (e *Engine) reloadLocked(ctx context.Context) (*Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	raw, err := e.source.CurrentReceipt()
	if errors.Is(err, receipt.ErrNoReceipt) {
		common.LogWarn("Entitlements: no store receipt found")
		return nil, nil
	}
	if err != nil {
		e.metrics.ReceiptReloaded(false)
		return nil, fmt.Errorf("failed to read receipt: %w", err)
	}

	snap, err := e.store.Reload(raw)
	if err != nil {
		e.metrics.ReceiptReloaded(false)
		common.LogError("Entitlements: could not parse store receipt: %v", err)
		return nil, nil
	}
	e.metrics.ReceiptReloaded(true)
	e.persist(ctx, SnapshotCurrent, snap)
	if e.baseline == nil {
		// The first verified entitlements of this install are what the
		// first review compares against.
		e.baseline = snap
		e.persist(ctx, SnapshotReviewed, snap)
	}
	return snap, nil
}

func (e *Engine) persist(ctx context.Context, kind SnapshotKind, snap *Snapshot) {
	if e.history == nil {
		return
	}
	if err := e.history.SaveSnapshot(ctx, kind, snap); err != nil {
		common.LogWarn("Entitlements: failed to persist %s snapshot: %v", kind, err)
	}
}
