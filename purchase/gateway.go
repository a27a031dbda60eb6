// Package purchase drives buy and restore flows against a storefront and
// keeps entitlements in step with the delivered receipts.
package purchase

import (
	"context"
	"fmt"

	"github.com/yllada/vpn-licensing/catalog"
)

// Product is a purchasable item as listed by the storefront.
type Product struct {
	ID          catalog.ProductID `json:"id"`
	Title       string            `json:"title"`
	Description string            `json:"description"`
	Price       string            `json:"price"`
}

// Result is the outcome of a purchase attempt.
type Result int

const (
	ResultSuccess Result = iota
	ResultCancelled
	ResultFailed
)

func (r Result) String() string {
	switch r {
	case ResultSuccess:
		return "success"
	case ResultCancelled:
		return "cancelled"
	case ResultFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// TransactionState describes an update delivered by the storefront.
type TransactionState int

const (
	TransactionPurchased TransactionState = iota
	TransactionRestored
	TransactionRefunded
)

func (s TransactionState) String() string {
	switch s {
	case TransactionPurchased:
		return "purchased"
	case TransactionRestored:
		return "restored"
	case TransactionRefunded:
		return "refunded"
	default:
		return "unknown"
	}
}

// TransactionEvent is one storefront transaction update.
type TransactionEvent struct {
	ProductID     catalog.ProductID
	TransactionID string
	State         TransactionState
}

// Gateway is the external storefront.
type Gateway interface {
	ListProducts(ctx context.Context, ids []catalog.ProductID) ([]Product, error)
	Purchase(ctx context.Context, id catalog.ProductID) (Result, error)
	Restore(ctx context.Context) error
	// Transactions delivers updates that arrive outside a Purchase or
	// Restore call. It is closed when the gateway shuts down.
	Transactions() <-chan TransactionEvent
}

// GatewayError wraps a storefront failure.
type GatewayError struct {
	Op  string
	Err error
}

func (e *GatewayError) Error() string {
	return fmt.Sprintf("storefront %s: %v", e.Op, e.Err)
}

func (e *GatewayError) Unwrap() error {
	return e.Err
}
