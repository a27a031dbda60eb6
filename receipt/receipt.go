// Package receipt decodes the signed purchase receipt delivered by the
// storefront.
//
// A receipt is a JWS compact token. Its payload lists every in-app purchase
// line item together with the build number the application was originally
// bought at. Parsing only verifies and decodes: eligibility rules live in
// the entitlement package.
package receipt

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/lestrrat-go/jwx/v2/jwk"

	"github.com/yllada/vpn-licensing/catalog"
)

// ErrMalformed is returned when a receipt cannot be verified or decoded.
var ErrMalformed = errors.New("malformed receipt")

// Environment is the storefront environment a receipt was issued in.
type Environment string

const (
	Production Environment = "Production"
	Sandbox    Environment = "Sandbox"
)

// PurchaseRecord is one in-app purchase line item.
type PurchaseRecord struct {
	ProductID            catalog.ProductID
	TransactionID        string
	OriginalPurchaseDate time.Time
	CancellationDate     *time.Time
}

// Cancelled reports whether the purchase was refunded or cancelled.
func (r PurchaseRecord) Cancelled() bool {
	return r.CancellationDate != nil
}

// Receipt is a verified and decoded receipt.
type Receipt struct {
	BundleID           string
	Environment        Environment
	OriginalAppVersion *string
	IssuedAt           time.Time
	LineItems          []PurchaseRecord
}

type lineItem struct {
	ProductID            string     `json:"product_id"`
	TransactionID        string     `json:"transaction_id,omitempty"`
	OriginalPurchaseDate *time.Time `json:"original_purchase_date,omitempty"`
	CancellationDate     *time.Time `json:"cancellation_date,omitempty"`
}

type claims struct {
	BundleID           string      `json:"bundle_id"`
	Environment        Environment `json:"environment,omitempty"`
	OriginalAppVersion *string     `json:"original_application_version,omitempty"`
	InApp              []lineItem  `json:"in_app"`
	jwt.RegisteredClaims
}

var validMethods = []string{
	jwt.SigningMethodRS256.Alg(),
	jwt.SigningMethodES256.Alg(),
	jwt.SigningMethodEdDSA.Alg(),
}

// Parser verifies receipts against a key set.
type Parser struct {
	keys     jwk.Set
	bundleID string
}

// Option configures a Parser.
type Option func(*Parser)

// WithBundleID rejects receipts issued for another application.
func WithBundleID(id string) Option {
	return func(p *Parser) {
		p.bundleID = id
	}
}

// NewParser returns a parser verifying signatures with keys.
func NewParser(keys jwk.Set, opts ...Option) *Parser {
	p := &Parser{keys: keys}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Parse verifies raw and decodes its purchase records. Every failure wraps
// ErrMalformed.
func (p *Parser) Parse(raw []byte) (*Receipt, error) {
	token := string(bytes.TrimSpace(raw))
	if token == "" {
		return nil, fmt.Errorf("%w: empty receipt", ErrMalformed)
	}

	var c claims
	if _, err := jwt.ParseWithClaims(token, &c, p.keyFor, jwt.WithValidMethods(validMethods)); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	if p.bundleID != "" && c.BundleID != p.bundleID {
		return nil, fmt.Errorf("%w: issued for %q", ErrMalformed, c.BundleID)
	}

	env := c.Environment
	switch env {
	case "":
		env = Production
	case Production, Sandbox:
	default:
		return nil, fmt.Errorf("%w: unknown environment %q", ErrMalformed, env)
	}

	r := &Receipt{
		BundleID:           c.BundleID,
		Environment:        env,
		OriginalAppVersion: c.OriginalAppVersion,
		LineItems:          make([]PurchaseRecord, 0, len(c.InApp)),
	}
	if c.IssuedAt != nil {
		r.IssuedAt = c.IssuedAt.Time
	}

	for i, item := range c.InApp {
		if item.ProductID == "" {
			return nil, fmt.Errorf("%w: line item %d has no product", ErrMalformed, i)
		}
		rec := PurchaseRecord{
			ProductID:        catalog.ProductID(item.ProductID),
			TransactionID:    item.TransactionID,
			CancellationDate: item.CancellationDate,
		}
		if item.OriginalPurchaseDate != nil {
			rec.OriginalPurchaseDate = *item.OriginalPurchaseDate
		}
		r.LineItems = append(r.LineItems, rec)
	}

	return r, nil
}

// keyFor resolves the verification key by the token's kid header. A token
// without kid is accepted only when the set holds exactly one key.
func (p *Parser) keyFor(token *jwt.Token) (interface{}, error) {
	if p.keys == nil || p.keys.Len() == 0 {
		return nil, errors.New("no verification keys")
	}

	var key jwk.Key
	if kid, _ := token.Header["kid"].(string); kid != "" {
		k, ok := p.keys.LookupKeyID(kid)
		if !ok {
			return nil, fmt.Errorf("unknown key id %q", kid)
		}
		key = k
	} else {
		if p.keys.Len() != 1 {
			return nil, errors.New("token has no key id")
		}
		key, _ = p.keys.Key(0)
	}

	pub, err := key.PublicKey()
	if err != nil {
		return nil, fmt.Errorf("invalid verification key: %w", err)
	}
	var raw interface{}
	if err := pub.Raw(&raw); err != nil {
		return nil, fmt.Errorf("invalid verification key: %w", err)
	}
	return raw, nil
}

// LoadKeySet reads a JWK or JWKS document from path.
func LoadKeySet(path string) (jwk.Set, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read receipt keys: %w", err)
	}
	set, err := jwk.Parse(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse receipt keys: %w", err)
	}
	return set, nil
}
