// Package catalog describes the products the storefront sells and how they
// relate to features, platforms and VPN providers.
//
// The catalog is static for the lifetime of the process. It is loaded once
// from YAML (an embedded default ships with the binary) and then only read.
package catalog

import (
	_ "embed"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// ProductID names a purchasable unit.
type ProductID string

// Well-known product identifiers.
const (
	FullVersion      ProductID = "features.full_version"
	FullVersionIOS   ProductID = "features.full_version_ios"
	FullVersionMacOS ProductID = "features.full_version_macos"
	TrustedNetworks  ProductID = "features.trusted_networks"
	SiriShortcuts    ProductID = "features.siri_shortcuts"
	UnlimitedHosts   ProductID = "features.unlimited_hosts"
	NetworkSettings  ProductID = "features.network_settings"
)

const providerIDPrefix = "providers."

// Kind partitions products.
type Kind string

const (
	// KindFeature unlocks a single capability.
	KindFeature Kind = "feature"
	// KindBundle is a platform-specific full-version SKU.
	KindBundle Kind = "bundle"
	// KindProvider unlocks a VPN provider's network.
	KindProvider Kind = "provider"
)

// Platform selects which full-version bundle applies.
type Platform string

const (
	PlatformIOS   Platform = "ios"
	PlatformMacOS Platform = "macos"
)

// ParsePlatform accepts "ios" or "macos" in any case.
func ParsePlatform(s string) (Platform, error) {
	switch p := Platform(strings.ToLower(strings.TrimSpace(s))); p {
	case PlatformIOS, PlatformMacOS:
		return p, nil
	default:
		return "", fmt.Errorf("%w: unknown platform %q", ErrInvalidCatalog, s)
	}
}

// FeaturesUnlockIndividually reports whether a single feature purchase is
// enough on this platform. Elsewhere only the full version unlocks features.
func (p Platform) FeaturesUnlockIndividually() bool {
	return p == PlatformIOS
}

// Entry is the catalog metadata of one product.
type Entry struct {
	ID       ProductID `yaml:"id"`
	Kind     Kind      `yaml:"kind"`
	Platform Platform  `yaml:"platform,omitempty"`
	Provider string    `yaml:"provider,omitempty"`
}

// IsFeature reports whether the product unlocks application features.
func (e Entry) IsFeature() bool {
	return e.Kind == KindFeature || e.Kind == KindBundle
}

// Provider is a VPN provider known to the catalog.
type Provider struct {
	Name    string    `yaml:"name"`
	Product ProductID `yaml:"product,omitempty"`
	// Free providers need no purchase.
	Free bool `yaml:"free,omitempty"`
}

// BuildProducts grants Products to every installation whose original
// build number is at most UpTo.
type BuildProducts struct {
	UpTo     int         `yaml:"up_to"`
	Products []ProductID `yaml:"products"`
}

// Common errors returned by catalog operations.
var (
	ErrInvalidCatalog  = errors.New("invalid product catalog")
	ErrUnknownProduct  = errors.New("unknown product")
	ErrUnknownProvider = errors.New("unknown provider")
)

type document struct {
	Products  []Entry         `yaml:"products"`
	Providers []Provider      `yaml:"providers"`
	Builds    []BuildProducts `yaml:"builds"`
}

// Catalog is an immutable, validated product catalog.
type Catalog struct {
	entries   map[ProductID]Entry
	order     []ProductID
	providers map[string]Provider
	names     []string
	builds    []BuildProducts
}

//go:embed default_catalog.yaml
var defaultCatalog []byte

// Default returns the catalog bundled with the application.
func Default() *Catalog {
	c, err := Parse(defaultCatalog)
	if err != nil {
		panic(fmt.Sprintf("catalog: embedded catalog is invalid: %v", err))
	}
	return c
}

// Load reads a catalog file. An empty path yields the default catalog.
func Load(path string) (*Catalog, error) {
	if path == "" {
		return Default(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read catalog: %w", err)
	}
	return Parse(data)
}

// Parse decodes and validates a YAML catalog.
func Parse(data []byte) (*Catalog, error) {
	dec := yaml.NewDecoder(strings.NewReader(string(data)))
	dec.KnownFields(true)

	var doc document
	if err := dec.Decode(&doc); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCatalog, err)
	}
	return New(doc.Products, doc.Providers, doc.Builds)
}

// New validates the given definitions and builds a catalog.
func New(products []Entry, providers []Provider, builds []BuildProducts) (*Catalog, error) {
	c := &Catalog{
		entries:   make(map[ProductID]Entry, len(products)),
		providers: make(map[string]Provider, len(providers)),
	}

	bundles := make(map[Platform]ProductID)
	for _, e := range products {
		if e.ID == "" {
			return nil, fmt.Errorf("%w: product without id", ErrInvalidCatalog)
		}
		if _, dup := c.entries[e.ID]; dup {
			return nil, fmt.Errorf("%w: duplicate product %s", ErrInvalidCatalog, e.ID)
		}
		switch e.Kind {
		case KindFeature:
		case KindBundle:
			if e.Platform == "" {
				return nil, fmt.Errorf("%w: bundle %s has no platform", ErrInvalidCatalog, e.ID)
			}
			if other, dup := bundles[e.Platform]; dup {
				return nil, fmt.Errorf("%w: platform %s has bundles %s and %s", ErrInvalidCatalog, e.Platform, other, e.ID)
			}
			bundles[e.Platform] = e.ID
		case KindProvider:
			if e.Provider == "" {
				return nil, fmt.Errorf("%w: provider product %s names no provider", ErrInvalidCatalog, e.ID)
			}
		default:
			return nil, fmt.Errorf("%w: product %s has unknown kind %q", ErrInvalidCatalog, e.ID, e.Kind)
		}
		c.entries[e.ID] = e
		c.order = append(c.order, e.ID)
	}

	for _, p := range providers {
		if p.Name == "" {
			return nil, fmt.Errorf("%w: provider without name", ErrInvalidCatalog)
		}
		if _, dup := c.providers[p.Name]; dup {
			return nil, fmt.Errorf("%w: duplicate provider %s", ErrInvalidCatalog, p.Name)
		}
		if !p.Free {
			e, ok := c.entries[p.Product]
			if !ok || e.Kind != KindProvider {
				return nil, fmt.Errorf("%w: provider %s references no provider product", ErrInvalidCatalog, p.Name)
			}
		}
		c.providers[p.Name] = p
		c.names = append(c.names, p.Name)
	}
	sort.Strings(c.names)

	for _, b := range builds {
		for _, id := range b.Products {
			if _, ok := c.entries[id]; !ok {
				return nil, fmt.Errorf("%w: build %d grants unknown product %s", ErrInvalidCatalog, b.UpTo, id)
			}
		}
	}
	c.builds = append(c.builds, builds...)

	return c, nil
}

// Lookup returns the entry for id.
func (c *Catalog) Lookup(id ProductID) (Entry, bool) {
	e, ok := c.entries[id]
	return e, ok
}

// Contains reports whether id is a known product.
func (c *Catalog) Contains(id ProductID) bool {
	_, ok := c.entries[id]
	return ok
}

// All returns every product ID in declaration order.
func (c *Catalog) All() []ProductID {
	return append([]ProductID(nil), c.order...)
}

// Features returns the IDs of feature and bundle products.
func (c *Catalog) Features() []ProductID {
	var ids []ProductID
	for _, id := range c.order {
		if c.entries[id].IsFeature() {
			ids = append(ids, id)
		}
	}
	return ids
}

// Provider returns the provider named name.
func (c *Catalog) Provider(name string) (Provider, bool) {
	p, ok := c.providers[name]
	return p, ok
}

// Providers returns all providers sorted by name.
func (c *Catalog) Providers() []Provider {
	out := make([]Provider, 0, len(c.names))
	for _, n := range c.names {
		out = append(out, c.providers[n])
	}
	return out
}

// PlatformBundle returns the full-version bundle for platform, if any.
func (c *Catalog) PlatformBundle(platform Platform) (ProductID, bool) {
	for _, id := range c.order {
		if e := c.entries[id]; e.Kind == KindBundle && e.Platform == platform {
			return id, true
		}
	}
	return "", false
}

// FullVersionProducts returns the products that grant the full version on
// platform: the generic full version plus the platform bundle.
func (c *Catalog) FullVersionProducts(platform Platform) []ProductID {
	ids := []ProductID{FullVersion}
	if b, ok := c.PlatformBundle(platform); ok {
		ids = append(ids, b)
	}
	return ids
}

// ProductsAtBuild returns the products bundled with an installation whose
// original build number is build.
func (c *Catalog) ProductsAtBuild(build int) []ProductID {
	seen := make(map[ProductID]bool)
	var ids []ProductID
	for _, b := range c.builds {
		if build > b.UpTo {
			continue
		}
		for _, id := range b.Products {
			if !seen[id] {
				seen[id] = true
				ids = append(ids, id)
			}
		}
	}
	return ids
}

// ProviderProductID returns the conventional product ID for a provider name.
func ProviderProductID(name string) ProductID {
	return ProductID(providerIDPrefix + strings.ToLower(name))
}
