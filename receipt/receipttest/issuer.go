// Package receipttest signs receipts with a throwaway key so tests can
// exercise the real verification path.
//
//	issuer := receipttest.NewIssuer()
//	parser := receipt.NewParser(issuer.KeySet())
//	raw := issuer.Sign(receipttest.Receipt{
//		OriginalAppVersion: receipttest.Version("100"),
//		Lines: []receipttest.Line{receipttest.Purchased("features.trusted_networks", time.Now())},
//	})
package receipttest

import (
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/lestrrat-go/jwx/v2/jwk"
)

// DefaultBundleID is used when a Receipt leaves BundleID empty.
const DefaultBundleID = "com.example.vpn-manager"

// Issuer signs receipts with an RSA key.
type Issuer struct {
	key  *rsa.PrivateKey
	kid  string
	keys jwk.Set
}

// Line is one in-app purchase line item.
type Line struct {
	ProductID     string
	TransactionID string
	PurchasedAt   time.Time
	CancelledAt   *time.Time
}

// Receipt describes the payload to sign.
type Receipt struct {
	BundleID           string
	Environment        string
	OriginalAppVersion *string
	Lines              []Line
}

// NewIssuer creates an issuer with a fresh key identified as "test-key-1".
func NewIssuer() *Issuer {
	return NewIssuerWithKeyID("test-key-1")
}

// NewIssuerWithKeyID creates an issuer whose key carries kid.
func NewIssuerWithKeyID(kid string) *Issuer {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		panic("failed to generate RSA key: " + err.Error())
	}

	pub, err := jwk.FromRaw(&key.PublicKey)
	if err != nil {
		panic("failed to build JWK: " + err.Error())
	}
	if err := pub.Set(jwk.KeyIDKey, kid); err != nil {
		panic("failed to set key id: " + err.Error())
	}
	set := jwk.NewSet()
	if err := set.AddKey(pub); err != nil {
		panic("failed to add key: " + err.Error())
	}

	return &Issuer{key: key, kid: kid, keys: set}
}

// KeySet returns the public keys verifying this issuer's receipts.
func (i *Issuer) KeySet() jwk.Set {
	return i.keys
}

// KeySetJSON returns the key set as a JWKS document.
func (i *Issuer) KeySetJSON() []byte {
	data, err := json.Marshal(i.keys)
	if err != nil {
		panic("failed to marshal key set: " + err.Error())
	}
	return data
}

// Sign returns r as a compact JWS carrying the issuer's kid.
func (i *Issuer) Sign(r Receipt) []byte {
	return i.sign(r, true)
}

// SignWithoutKeyID signs r without a kid header.
func (i *Issuer) SignWithoutKeyID(r Receipt) []byte {
	return i.sign(r, false)
}

func (i *Issuer) sign(r Receipt, withKID bool) []byte {
	bundleID := r.BundleID
	if bundleID == "" {
		bundleID = DefaultBundleID
	}

	items := make([]map[string]any, 0, len(r.Lines))
	for _, l := range r.Lines {
		item := map[string]any{
			"product_id":             l.ProductID,
			"original_purchase_date": l.PurchasedAt.UTC().Format(time.RFC3339),
		}
		if l.TransactionID != "" {
			item["transaction_id"] = l.TransactionID
		}
		if l.CancelledAt != nil {
			item["cancellation_date"] = l.CancelledAt.UTC().Format(time.RFC3339)
		}
		items = append(items, item)
	}

	claims := jwt.MapClaims{
		"iss":       "receipttest",
		"iat":       time.Now().Unix(),
		"bundle_id": bundleID,
		"in_app":    items,
	}
	if r.Environment != "" {
		claims["environment"] = r.Environment
	}
	if r.OriginalAppVersion != nil {
		claims["original_application_version"] = *r.OriginalAppVersion
	}

	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	if withKID {
		token.Header["kid"] = i.kid
	}
	signed, err := token.SignedString(i.key)
	if err != nil {
		panic("failed to sign receipt: " + err.Error())
	}
	return []byte(signed)
}

// Purchased builds an active line item.
func Purchased(productID string, at time.Time) Line {
	return Line{ProductID: productID, PurchasedAt: at}
}

// Cancelled builds a refunded line item.
func Cancelled(productID string, purchased, cancelled time.Time) Line {
	return Line{ProductID: productID, PurchasedAt: purchased, CancelledAt: &cancelled}
}

// Version returns a pointer to v for Receipt.OriginalAppVersion.
func Version(v string) *string {
	return &v
}
