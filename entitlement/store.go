package entitlement

import (
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/yllada/vpn-licensing/catalog"
	"github.com/yllada/vpn-licensing/common"
	"github.com/yllada/vpn-licensing/receipt"
)

// Parser decodes a raw receipt.
type Parser interface {
	Parse(raw []byte) (*receipt.Receipt, error)
}

// Store owns the current Snapshot. Reloads are serialized and publish a new
// snapshot with a single pointer swap, so readers never see partial state.
type Store struct {
	mu      sync.Mutex
	parser  Parser
	catalog *catalog.Catalog
	grant   FullVersionGrant
	current atomic.Pointer[Snapshot]
	now     func() time.Time
}

// NewStore creates a store holding an empty snapshot.
func NewStore(parser Parser, c *catalog.Catalog, grant FullVersionGrant) *Store {
	s := &Store{
		parser:  parser,
		catalog: c,
		grant:   grant,
		now:     time.Now,
	}
	s.current.Store(EmptySnapshot())
	return s
}

// Current returns the published snapshot.
func (s *Store) Current() *Snapshot {
	return s.current.Load()
}


// Reload rebuilds the snapshot from raw. On a parse error the current
// snapshot stays in place and the error is returned.
func (s *Store) Reload(raw []byte) (*Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, err := s.parser.Parse(raw)
	if err != nil {
		return nil, err
	}

	snap := EmptySnapshot()
	snap.environment = r.Environment
	snap.reloadedAt = s.now()

	if r.OriginalAppVersion != nil {
		if build, err := strconv.Atoi(strings.TrimSpace(*r.OriginalAppVersion)); err == nil {
			snap.build = &build
			common.LogDebug("Entitlements: original purchased build %d", build)

			if s.grant.Product != "" && build <= s.grant.Build {
				snap.purchased[s.grant.Product] = struct{}{}
			}
			for _, id := range s.catalog.ProductsAtBuild(build) {
				snap.purchased[id] = struct{}{}
			}
		}
	}

	for _, item := range r.LineItems {
		if !s.catalog.Contains(item.ProductID) {
			continue
		}
		if item.Cancelled() {
			common.LogDebug("Entitlements: %s cancelled on %s", item.ProductID, item.CancellationDate.Format(time.RFC3339))
			snap.cancelled[item.ProductID] = struct{}{}
			continue
		}
		snap.purchased[item.ProductID] = struct{}{}
		if !item.OriginalPurchaseDate.IsZero() {
			snap.dates[item.ProductID] = item.OriginalPurchaseDate
		}
	}

	// A cancellation anywhere in the receipt wins over every purchase line
	// and grandfathered grant for the same product.
	for id := range snap.cancelled {
		delete(snap.purchased, id)
		delete(snap.dates, id)
	}

	common.LogInfo("Entitlements: purchased features %v", snap.Purchased())
	s.current.Store(snap)
	return snap, nil
}
