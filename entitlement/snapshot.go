package entitlement

import (
	"encoding/json"
	"sort"
	"time"

	"github.com/yllada/vpn-licensing/catalog"
	"github.com/yllada/vpn-licensing/receipt"
)

// Snapshot is the entitlement state derived from one receipt. It is never
// modified after it has been published by a Store.
type Snapshot struct {
	purchased   map[catalog.ProductID]struct{}
	dates       map[catalog.ProductID]time.Time
	cancelled   map[catalog.ProductID]struct{}
	build       *int
	environment receipt.Environment
	reloadedAt  time.Time
}

// EmptySnapshot returns a snapshot with no purchases.
func EmptySnapshot() *Snapshot {
	return &Snapshot{
		purchased:   make(map[catalog.ProductID]struct{}),
		dates:       make(map[catalog.ProductID]time.Time),
		cancelled:   make(map[catalog.ProductID]struct{}),
		environment: receipt.Production,
	}
}

// HasPurchased reports whether id is currently owned.
func (s *Snapshot) HasPurchased(id catalog.ProductID) bool {
	_, ok := s.purchased[id]
	return ok
}

// IsCancelled reports whether a purchase of id was refunded or cancelled.
func (s *Snapshot) IsCancelled(id catalog.ProductID) bool {
	_, ok := s.cancelled[id]
	return ok
}

// PurchaseDate returns the original purchase date of id.
func (s *Snapshot) PurchaseDate(id catalog.ProductID) (time.Time, bool) {
	d, ok := s.dates[id]
	return d, ok
}

// Purchased returns the owned products in lexical order.
func (s *Snapshot) Purchased() []catalog.ProductID {
	return sortedIDs(s.purchased)
}

// Cancelled returns the cancelled products in lexical order.
func (s *Snapshot) Cancelled() []catalog.ProductID {
	return sortedIDs(s.cancelled)
}

// PurchasedBuild returns the build the application was originally bought
// at, when the receipt carried a numeric one.
func (s *Snapshot) PurchasedBuild() (int, bool) {
	if s.build == nil {
		return 0, false
	}
	return *s.build, true
}

// Environment returns the storefront environment of the source receipt.
func (s *Snapshot) Environment() receipt.Environment {
	return s.environment
}

// ReloadedAt returns when the snapshot was built.
func (s *Snapshot) ReloadedAt() time.Time {
	return s.reloadedAt
}

func (s *Snapshot) anyCancelled(ids []catalog.ProductID) bool {
	for _, id := range ids {
		if s.IsCancelled(id) {
			return true
		}
	}
	return false
}

func (s *Snapshot) anyPurchased(ids []catalog.ProductID) bool {
	for _, id := range ids {
		if s.HasPurchased(id) {
			return true
		}
	}
	return false
}

func sortedIDs(set map[catalog.ProductID]struct{}) []catalog.ProductID {
	ids := make([]catalog.ProductID, 0, len(set))
	for id := range set {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

type snapshotJSON struct {
	Purchased     []catalog.ProductID             `json:"purchased"`
	PurchaseDates map[catalog.ProductID]time.Time `json:"purchase_dates,omitempty"`
	Cancelled     []catalog.ProductID             `json:"cancelled"`
	Build         *int                            `json:"purchased_build,omitempty"`
	Environment   receipt.Environment             `json:"environment"`
	ReloadedAt    time.Time                       `json:"reloaded_at"`
}

// MarshalJSON implements json.Marshaler.
func (s *Snapshot) MarshalJSON() ([]byte, error) {
	return json.Marshal(snapshotJSON{
		Purchased:     s.Purchased(),
		PurchaseDates: s.dates,
		Cancelled:     s.Cancelled(),
		Build:         s.build,
		Environment:   s.environment,
		ReloadedAt:    s.reloadedAt,
	})
}

// UnmarshalJSON implements json.Unmarshaler.
func (s *Snapshot) UnmarshalJSON(data []byte) error {
	var v snapshotJSON
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	*s = *EmptySnapshot()
	for _, id := range v.Purchased {
		s.purchased[id] = struct{}{}
	}
	for id, d := range v.PurchaseDates {
		s.dates[id] = d
	}
	for _, id := range v.Cancelled {
		s.cancelled[id] = struct{}{}
	}
	s.build = v.Build
	if v.Environment != "" {
		s.environment = v.Environment
	}
	s.reloadedAt = v.ReloadedAt
	return nil
}
