package purchase

import (
	"context"
	"fmt"
	"sync"

	"github.com/yllada/vpn-licensing/catalog"
	"github.com/yllada/vpn-licensing/common"
)

// Reloader rebuilds entitlements from the current receipt.
type Reloader interface {
	ReloadReceipt(ctx context.Context) error
}

// Controller runs purchase and restore flows.
type Controller struct {
	gateway  Gateway
	catalog  *catalog.Catalog
	reloader Reloader

	mu       sync.RWMutex
	products []Product
}

// NewController creates a Controller.
func NewController(gateway Gateway, cat *catalog.Catalog, reloader Reloader) *Controller {
	return &Controller{gateway: gateway, catalog: cat, reloader: reloader}
}

// ListProducts fetches every catalog product from the storefront and caches
// the result for Product and the feature filters. Products the catalog does
// not know are dropped.
func (c *Controller) ListProducts(ctx context.Context) ([]Product, error) {
	ids := c.catalog.All()
	if len(ids) == 0 {
		return nil, nil
	}
	listed, err := c.gateway.ListProducts(ctx, ids)
	if err != nil {
		return nil, &GatewayError{Op: "list products", Err: err}
	}

	products := make([]Product, 0, len(listed))
	for _, p := range listed {
		if !c.catalog.Contains(p.ID) {
			common.LogDebug("Storefront: ignoring unknown product %s", p.ID)
			continue
		}
		products = append(products, p)
	}
	common.LogDebug("Storefront: %d products listed", len(products))

	c.mu.Lock()
	c.products = products
	c.mu.Unlock()
	return append([]Product(nil), products...), nil
}

// Product returns the cached storefront product with the given ID.
func (c *Controller) Product(id catalog.ProductID) (Product, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, p := range c.products {
		if p.ID == id {
			return p, true
		}
	}
	return Product{}, false
}

// FeatureProducts returns the cached feature products whose IDs are in including.
func (c *Controller) FeatureProducts(including []catalog.ProductID) []Product {
	set := idSet(including)
	return c.filterFeatures(func(id catalog.ProductID) bool {
		_, ok := set[id]
		return ok
	})
}

// FeatureProductsExcluding returns the cached feature products whose IDs are
// not in excluding.
func (c *Controller) FeatureProductsExcluding(excluding []catalog.ProductID) []Product {
	set := idSet(excluding)
	return c.filterFeatures(func(id catalog.ProductID) bool {
		_, ok := set[id]
		return !ok
	})
}

func (c *Controller) filterFeatures(keep func(catalog.ProductID) bool) []Product {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var out []Product
	for _, p := range c.products {
		entry, ok := c.catalog.Lookup(p.ID)
		if !ok || !entry.IsFeature() || !keep(p.ID) {
			continue
		}
		out = append(out, p)
	}
	return out
}

func idSet(ids []catalog.ProductID) map[catalog.ProductID]struct{} {
	set := make(map[catalog.ProductID]struct{}, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	return set
}

// Purchase buys id and reloads the receipt when the storefront reports success.
func (c *Controller) Purchase(ctx context.Context, id catalog.ProductID) (Result, error) {
	if !c.catalog.Contains(id) {
		return ResultFailed, fmt.Errorf("%w: %s", catalog.ErrUnknownProduct, id)
	}

	result, err := c.gateway.Purchase(ctx, id)
	if err != nil {
		return result, &GatewayError{Op: "purchase", Err: err}
	}
	common.LogInfo("Storefront: purchase of %s finished: %s", id, result)
	if result != ResultSuccess {
		return result, nil
	}
	if err := c.reloader.ReloadReceipt(ctx); err != nil {
		return result, fmt.Errorf("reload after purchase: %w", err)
	}
	return result, nil
}

// Restore asks the storefront to restore past purchases and reloads the
// receipt once it succeeds.
func (c *Controller) Restore(ctx context.Context) error {
	if err := c.gateway.Restore(ctx); err != nil {
		return &GatewayError{Op: "restore", Err: err}
	}
	common.LogInfo("Storefront: purchases restored")
	if err := c.reloader.ReloadReceipt(ctx); err != nil {
		return fmt.Errorf("reload after restore: %w", err)
	}
	return nil
}

// Run reloads the receipt once per transaction update until ctx is done or
// the gateway closes its stream. Updates are handled one at a time.
func (c *Controller) Run(ctx context.Context) error {
	updates := c.gateway.Transactions()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-updates:
			if !ok {
				return nil
			}
			common.LogDebug("Storefront: transaction %s %s for %s", ev.TransactionID, ev.State, ev.ProductID)
			if err := c.reloader.ReloadReceipt(ctx); err != nil {
				common.LogError("Storefront: reload after transaction %s failed: %v", ev.TransactionID, err)
			}
		}
	}
}
