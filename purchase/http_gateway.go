package purchase

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/yllada/vpn-licensing/catalog"
	"github.com/yllada/vpn-licensing/common"
)

const transactionBuffer = 16

// ReceiptSink stores receipts delivered by the storefront.
type ReceiptSink interface {
	Save(raw []byte) error
}

// HTTPGateway is a Gateway for a JSON storefront service.
type HTTPGateway struct {
	baseURL    string
	httpClient *http.Client
	sink       ReceiptSink

	updates   chan TransactionEvent
	closeOnce sync.Once
}

var _ Gateway = (*HTTPGateway)(nil)

// NewHTTPGateway creates a storefront client. Receipts returned by the
// service are written to sink.
func NewHTTPGateway(baseURL string, sink ReceiptSink, timeout time.Duration) *HTTPGateway {
	if timeout <= 0 {
		timeout = common.StorefrontTimeout
	}
	return &HTTPGateway{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
		sink:       sink,
		updates:    make(chan TransactionEvent, transactionBuffer),
	}
}

type errorResponse struct {
	Error string `json:"error"`
}

type productsResponse struct {
	Products []Product `json:"products"`
}

type purchaseRequest struct {
	ProductID catalog.ProductID `json:"product_id"`
}

type purchaseResponse struct {
	Status        string `json:"status"`
	TransactionID string `json:"transaction_id"`
	Receipt       string `json:"receipt"`
}

type transactionJSON struct {
	ProductID     catalog.ProductID `json:"product_id"`
	TransactionID string            `json:"transaction_id"`
	State         string            `json:"state"`
}

type receiptResponse struct {
	Receipt      string            `json:"receipt"`
	Transactions []transactionJSON `json:"transactions"`
}

// ListProducts implements Gateway.
func (g *HTTPGateway) ListProducts(ctx context.Context, ids []catalog.ProductID) ([]Product, error) {
	q := url.Values{}
	for _, id := range ids {
		q.Add("ids", string(id))
	}
	var resp productsResponse
	if err := g.do(ctx, http.MethodGet, "/v1/products?"+q.Encode(), nil, &resp); err != nil {
		return nil, err
	}
	return resp.Products, nil
}

// Purchase implements Gateway.
func (g *HTTPGateway) Purchase(ctx context.Context, id catalog.ProductID) (Result, error) {
	var resp purchaseResponse
	if err := g.do(ctx, http.MethodPost, "/v1/purchases", purchaseRequest{ProductID: id}, &resp); err != nil {
		return ResultFailed, err
	}

	switch resp.Status {
	case "success":
	case "cancelled":
		return ResultCancelled, nil
	case "failed":
		return ResultFailed, nil
	default:
		return ResultFailed, fmt.Errorf("unexpected purchase status %q", resp.Status)
	}

	if err := g.store(resp.Receipt); err != nil {
		return ResultFailed, err
	}
	g.publish(TransactionEvent{ProductID: id, TransactionID: resp.TransactionID, State: TransactionPurchased})
	return ResultSuccess, nil
}

// Restore implements Gateway.
func (g *HTTPGateway) Restore(ctx context.Context) error {
	return g.fetchReceipt(ctx, http.MethodPost, "/v1/restore", TransactionRestored)
}

// Sync pulls the latest receipt and any transaction updates, such as
// refunds issued through the storefront, and publishes them.
func (g *HTTPGateway) Sync(ctx context.Context) error {
	return g.fetchReceipt(ctx, http.MethodGet, "/v1/transactions", TransactionPurchased)
}

func (g *HTTPGateway) fetchReceipt(ctx context.Context, method, path string, fallback TransactionState) error {
	var resp receiptResponse
	if err := g.do(ctx, method, path, nil, &resp); err != nil {
		return err
	}
	if err := g.store(resp.Receipt); err != nil {
		return err
	}
	for _, t := range resp.Transactions {
		g.publish(TransactionEvent{
			ProductID:     t.ProductID,
			TransactionID: t.TransactionID,
			State:         parseState(t.State, fallback),
		})
	}
	return nil
}

func parseState(s string, fallback TransactionState) TransactionState {
	switch s {
	case "purchased":
		return TransactionPurchased
	case "restored":
		return TransactionRestored
	case "refunded":
		return TransactionRefunded
	default:
		return fallback
	}
}

// Transactions implements Gateway.
func (g *HTTPGateway) Transactions() <-chan TransactionEvent {
	return g.updates
}

// Close ends the transaction stream.
func (g *HTTPGateway) Close() {
	g.closeOnce.Do(func() { close(g.updates) })
}

func (g *HTTPGateway) store(receipt string) error {
	if receipt == "" || g.sink == nil {
		return nil
	}
	if err := g.sink.Save([]byte(receipt)); err != nil {
		return fmt.Errorf("save receipt: %w", err)
	}
	return nil
}

// publish drops the update when nobody is draining the stream; the caller
// of Purchase or Restore reloads on its own.
func (g *HTTPGateway) publish(ev TransactionEvent) {
	select {
	case g.updates <- ev:
	default:
		common.LogWarn("Storefront: dropping transaction %s, stream is full", ev.TransactionID)
	}
}

func (g *HTTPGateway) do(ctx context.Context, method, path string, in, out interface{}) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, g.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		var e errorResponse
		if json.NewDecoder(resp.Body).Decode(&e) == nil && e.Error != "" {
			return fmt.Errorf("storefront returned status %d: %s", resp.StatusCode, e.Error)
		}
		return fmt.Errorf("storefront returned status %d", resp.StatusCode)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
