package cli

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	gokeyring "github.com/zalando/go-keyring"

	"github.com/yllada/vpn-licensing/app"
	"github.com/yllada/vpn-licensing/catalog"
	"github.com/yllada/vpn-licensing/common"
	"github.com/yllada/vpn-licensing/config"
	"github.com/yllada/vpn-licensing/entitlement"
	"github.com/yllada/vpn-licensing/purchase"
	"github.com/yllada/vpn-licensing/receipt/receipttest"
	"github.com/yllada/vpn-licensing/vpn"
)

type noTunnels struct{}

func (noTunnels) ActiveTunnels(context.Context) ([]vpn.Tunnel, error) { return nil, nil }
func (noTunnels) Deactivate(context.Context, vpn.Tunnel) error        { return nil }

// storefront sells every product and delivers receipts through write.
type storefront struct {
	write   func(lines ...receipttest.Line)
	updates chan purchase.TransactionEvent
}

func (s *storefront) ListProducts(_ context.Context, ids []catalog.ProductID) ([]purchase.Product, error) {
	out := make([]purchase.Product, 0, len(ids))
	for _, id := range ids {
		out = append(out, purchase.Product{ID: id, Title: string(id), Price: "$1.99"})
	}
	return out, nil
}

func (s *storefront) Purchase(_ context.Context, id catalog.ProductID) (purchase.Result, error) {
	if id == catalog.SiriShortcuts {
		return purchase.ResultFailed, errors.New("declined")
	}
	s.write(receipttest.Purchased(string(id), time.Now()))
	return purchase.ResultSuccess, nil
}

func (s *storefront) Restore(context.Context) error                    { return nil }
func (s *storefront) Transactions() <-chan purchase.TransactionEvent { return s.updates }

type harness struct {
	cli   *CLI
	app   *app.App
	out   *bytes.Buffer
	home  string
	write func(lines ...receipttest.Line)
}

func newHarness(t *testing.T, withStore bool, lines ...receipttest.Line) *harness {
	t.Helper()
	gokeyring.MockInit()
	home := t.TempDir()
	t.Setenv("HOME", home)

	configDir, err := common.GetConfigDir()
	if err != nil {
		t.Fatal(err)
	}
	dataDir, err := common.GetDataDir()
	if err != nil {
		t.Fatal(err)
	}
	issuer := receipttest.NewIssuer()
	if err := os.WriteFile(filepath.Join(configDir, common.ReceiptKeysName), issuer.KeySetJSON(), 0600); err != nil {
		t.Fatal(err)
	}
	write := func(lines ...receipttest.Line) {
		raw := issuer.Sign(receipttest.Receipt{OriginalAppVersion: receipttest.Version("3000"), Lines: lines})
		if err := os.WriteFile(filepath.Join(dataDir, common.ReceiptFileName), raw, 0600); err != nil {
			t.Fatal(err)
		}
	}
	write(lines...)

	cfgPath := filepath.Join(configDir, common.ConfigFileName)
	if err := os.WriteFile(cfgPath, []byte("entitlements:\n  platform: ios\n  last_full_version_build:\n    build: 0\n"), 0600); err != nil {
		t.Fatal(err)
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		t.Fatal(err)
	}

	opts := app.Options{Driver: noTunnels{}}
	if withStore {
		opts.Gateway = &storefront{write: write, updates: make(chan purchase.TransactionEvent)}
	}
	a, err := app.New(context.Background(), cfg, opts)
	if err != nil {
		t.Fatalf("app.New() error = %v", err)
	}
	t.Cleanup(func() { a.Close() })

	out := &bytes.Buffer{}
	return &harness{cli: NewWithWriter(a, out), app: a, out: out, home: home, write: write}
}

func (h *harness) ovpn(t *testing.T, name string) string {
	t.Helper()
	path := filepath.Join(h.home, name+".ovpn")
	if err := os.WriteFile(path, []byte("client\nremote vpn.example.com 1194\n"), 0600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestStatus(t *testing.T) {
	h := newHarness(t, false, receipttest.Purchased(string(catalog.TrustedNetworks), time.Now()))

	if err := h.cli.Status(context.Background()); err != nil {
		t.Fatalf("Status() error = %v", err)
	}
	out := h.out.String()
	for _, want := range []string{"Full version:", "features.trusted_networks", "owned", "oeck", "Yes (free)", "Tunnel: Disconnected"} {
		if !strings.Contains(out, want) {
			t.Errorf("Status() output missing %q:\n%s", want, out)
		}
	}
}

func TestVerify(t *testing.T) {
	h := newHarness(t, false, receipttest.Purchased(string(catalog.TrustedNetworks), time.Now()))

	if err := h.cli.Verify(string(catalog.TrustedNetworks)); err != nil {
		t.Errorf("Verify(owned) error = %v", err)
	}
	if err := h.cli.Verify(string(catalog.SiriShortcuts)); !errors.Is(err, entitlement.ErrIneligible) {
		t.Errorf("Verify(not owned) error = %v, want ErrIneligible", err)
	}
	if err := h.cli.VerifyProvider("oeck"); err != nil {
		t.Errorf("VerifyProvider(free) error = %v", err)
	}
	if err := h.cli.VerifyProvider("nope"); !errors.Is(err, entitlement.ErrUnknownProvider) {
		t.Errorf("VerifyProvider(unknown) error = %v, want ErrUnknownProvider", err)
	}
}

func TestAddProviderAndTrust(t *testing.T) {
	h := newHarness(t, false, receipttest.Purchased(string(catalog.ProviderProductID("mullvad")), time.Now()))

	if err := h.cli.AddProvider("nordvpn", h.ovpn(t, "nordvpn")); !errors.Is(err, entitlement.ErrIneligible) {
		t.Errorf("AddProvider(not owned) error = %v, want ErrIneligible", err)
	}
	if err := h.cli.AddProvider("mullvad", h.ovpn(t, "mullvad")); err != nil {
		t.Fatalf("AddProvider() error = %v", err)
	}
	if err := h.cli.Trust("mullvad", []string{"home"}, true); !errors.Is(err, entitlement.ErrIneligible) {
		t.Errorf("Trust() without the feature error = %v, want ErrIneligible", err)
	}

	h.write(
		receipttest.Purchased(string(catalog.ProviderProductID("mullvad")), time.Now()),
		receipttest.Purchased(string(catalog.TrustedNetworks), time.Now()),
	)
	if err := h.app.Engine.ReloadReceipt(context.Background()); err != nil {
		t.Fatal(err)
	}
	if err := h.cli.Trust("mullvad", []string{"home"}, true); err != nil {
		t.Fatalf("Trust() error = %v", err)
	}
	p, err := h.app.Profiles.GetByName("mullvad")
	if err != nil {
		t.Fatal(err)
	}
	if !p.TrustedNetworks.IncludesCellular || len(p.TrustedNetworks.WiFi) != 1 {
		t.Errorf("TrustedNetworks = %+v", p.TrustedNetworks)
	}
	if err := h.cli.Trust("missing", nil, false); err == nil {
		t.Error("Trust(missing profile) should fail")
	}
}

func TestReviewAndHistory(t *testing.T) {
	bought := time.Now().Add(-24 * time.Hour)
	h := newHarness(t, false, receipttest.Purchased(string(catalog.ProviderProductID("mullvad")), bought))
	ctx := context.Background()

	if err := h.cli.AddProvider("mullvad", h.ovpn(t, "mullvad")); err != nil {
		t.Fatal(err)
	}
	if err := h.cli.History(ctx, 10); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(h.out.String(), "No revocations recorded.") {
		t.Errorf("History() output = %q", h.out.String())
	}

	h.write(receipttest.Cancelled(string(catalog.ProviderProductID("mullvad")), bought, time.Now()))
	h.out.Reset()
	if err := h.cli.Review(ctx); err != nil {
		t.Fatalf("Review() error = %v", err)
	}
	if !strings.Contains(h.out.String(), "removed") {
		t.Errorf("Review() output = %q", h.out.String())
	}

	h.out.Reset()
	if err := h.cli.History(ctx, 10); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(h.out.String(), "mullvad") {
		t.Errorf("History() output = %q", h.out.String())
	}

	h.out.Reset()
	if err := h.cli.Review(ctx); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(h.out.String(), "No refunded purchases") {
		t.Errorf("second Review() output = %q", h.out.String())
	}
}

func TestPurchaseFlow(t *testing.T) {
	h := newHarness(t, true)
	ctx := context.Background()

	if err := h.cli.Products(ctx); err != nil {
		t.Fatalf("Products() error = %v", err)
	}
	if !strings.Contains(h.out.String(), "$1.99") {
		t.Errorf("Products() output = %q", h.out.String())
	}

	if err := h.cli.Purchase(ctx, string(catalog.TrustedNetworks)); err != nil {
		t.Fatalf("Purchase() error = %v", err)
	}
	if !h.app.Engine.IsEligible(catalog.TrustedNetworks) {
		t.Error("Purchase() should reload entitlements")
	}

	var gwErr *purchase.GatewayError
	if err := h.cli.Purchase(ctx, string(catalog.SiriShortcuts)); !errors.As(err, &gwErr) {
		t.Errorf("Purchase(declined) error = %v, want GatewayError", err)
	}
	if err := h.cli.Restore(ctx); err != nil {
		t.Errorf("Restore() error = %v", err)
	}
}

func TestNoStorefront(t *testing.T) {
	h := newHarness(t, false)
	if err := h.cli.Products(context.Background()); !errors.Is(err, app.ErrNoStorefront) {
		t.Errorf("Products() error = %v, want ErrNoStorefront", err)
	}
	if err := h.cli.Restore(context.Background()); !errors.Is(err, app.ErrNoStorefront) {
		t.Errorf("Restore() error = %v, want ErrNoStorefront", err)
	}
}

func TestFormatDuration(t *testing.T) {
	tests := []struct {
		d    time.Duration
		want string
	}{
		{45 * time.Second, "45s"},
		{3*time.Minute + 5*time.Second, "3m 5s"},
		{2*time.Hour + 1*time.Minute, "2h 1m 0s"},
	}
	for _, tt := range tests {
		if got := formatDuration(tt.d); got != tt.want {
			t.Errorf("formatDuration(%v) = %q, want %q", tt.d, got, tt.want)
		}
	}
}

func TestRemoveProfileAndDisconnect(t *testing.T) {
	h := newHarness(t, false)

	if err := h.cli.AddProvider("oeck", h.ovpn(t, "oeck")); err != nil {
		t.Fatal(err)
	}
	if err := h.cli.RemoveProfile("oeck"); err != nil {
		t.Fatalf("RemoveProfile() error = %v", err)
	}
	if got := len(h.app.Profiles.List()); got != 0 {
		t.Errorf("profiles after RemoveProfile() = %d, want 0", got)
	}
	if err := h.cli.RemoveProfile("oeck"); err == nil {
		t.Error("RemoveProfile(missing) should fail")
	}
	if err := h.cli.Disconnect(context.Background(), "oeck"); !errors.Is(err, vpn.ErrNotConnected) {
		t.Errorf("Disconnect(idle) error = %v, want ErrNotConnected", err)
	}
}
