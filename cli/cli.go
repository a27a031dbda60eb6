// Package cli provides command-line access to VPN Manager entitlements.
// It lets users inspect purchases, buy and restore products, and manage
// the profiles that depend on them from the terminal.
package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/charmbracelet/lipgloss"
	"golang.org/x/term"

	"github.com/yllada/vpn-licensing/app"
	"github.com/yllada/vpn-licensing/catalog"
	"github.com/yllada/vpn-licensing/entitlement"
	"github.com/yllada/vpn-licensing/purchase"
	"github.com/yllada/vpn-licensing/vpn"
)

var (
	headingStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	okStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	warnStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))
)

// CLI represents the command-line interface.
type CLI struct {
	app    *app.App
	out    io.Writer
	styled bool
}

// New creates a CLI writing to stdout. Output is styled when stdout is a
// terminal.
func New(a *app.App) *CLI {
	return &CLI{
		app:    a,
		out:    os.Stdout,
		styled: term.IsTerminal(int(os.Stdout.Fd())),
	}
}

// NewWithWriter creates a CLI writing plain text to w.
func NewWithWriter(a *app.App, w io.Writer) *CLI {
	return &CLI{app: a, out: w}
}

func (c *CLI) heading(s string) {
	if c.styled {
		s = headingStyle.Render(s)
	}
	fmt.Fprintln(c.out, s)
}

func (c *CLI) ok(format string, args ...interface{}) {
	s := "✓ " + fmt.Sprintf(format, args...)
	if c.styled {
		s = okStyle.Render(s)
	}
	fmt.Fprintln(c.out, s)
}

func (c *CLI) warn(format string, args ...interface{}) {
	s := "! " + fmt.Sprintf(format, args...)
	if c.styled {
		s = warnStyle.Render(s)
	}
	fmt.Fprintln(c.out, s)
}

func (c *CLI) table() *tabwriter.Writer {
	return tabwriter.NewWriter(c.out, 0, 0, 2, ' ', 0)
}

// Status shows the entitlement state, provider eligibility and tunnel status.
func (c *CLI) Status(ctx context.Context) error {
	engine := c.app.Engine
	snap := engine.Snapshot()
	cfg := engine.Configuration()

	c.heading("Entitlements")
	w := c.table()
	fmt.Fprintf(w, "Platform:\t%s\n", cfg.Platform)
	fmt.Fprintf(w, "Beta:\t%s\n", yesNo(engine.IsBeta()))
	fmt.Fprintf(w, "Full version:\t%s\n", yesNo(engine.IsFullVersion()))
	if build, ok := snap.PurchasedBuild(); ok {
		fmt.Fprintf(w, "Original build:\t%d\n", build)
	}
	fmt.Fprintf(w, "Receipt:\t%s\n", receiptAge(snap.ReloadedAt()))
	w.Flush()

	fmt.Fprintln(c.out)
	c.heading("Products")
	w = c.table()
	fmt.Fprintln(w, "PRODUCT\tSTATE\tPURCHASED")
	fmt.Fprintln(w, "-------\t-----\t---------")
	for _, id := range c.app.Catalog.All() {
		state := "-"
		switch {
		case engine.HasPurchased(id):
			state = "owned"
		case engine.IsCancelledPurchase(id):
			state = "refunded"
		case engine.IsEligible(id):
			state = "included"
		}
		date := "-"
		if d, ok := engine.PurchaseDate(id); ok {
			date = d.Local().Format("2006-01-02")
		}
		fmt.Fprintf(w, "%s\t%s\t%s\n", id, state, date)
	}
	w.Flush()

	fmt.Fprintln(c.out)
	c.heading("Providers")
	w = c.table()
	fmt.Fprintln(w, "PROVIDER\tELIGIBLE")
	fmt.Fprintln(w, "--------\t--------")
	for _, p := range c.app.Catalog.Providers() {
		eligible := yesNo(engine.IsEligibleForProvider(p.Name))
		if p.Free {
			eligible += " (free)"
		}
		fmt.Fprintf(w, "%s\t%s\n", p.Name, eligible)
	}
	w.Flush()

	fmt.Fprintln(c.out)
	status, err := c.app.Tunnels.Status(ctx)
	if err != nil {
		c.warn("Tunnel status unavailable: %v", err)
		return nil
	}
	fmt.Fprintf(c.out, "Tunnel: %s\n", status)
	return nil
}

// Products lists the storefront's products.
func (c *CLI) Products(ctx context.Context) error {
	ctrl, err := c.app.Controller()
	if err != nil {
		return err
	}
	products, err := ctrl.ListProducts(ctx)
	if err != nil {
		return err
	}
	if len(products) == 0 {
		fmt.Fprintln(c.out, "No products available.")
		return nil
	}

	w := c.table()
	fmt.Fprintln(w, "ID\tTITLE\tPRICE\tOWNED")
	fmt.Fprintln(w, "--\t-----\t-----\t-----")
	for _, p := range products {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", p.ID, p.Title, p.Price, yesNo(c.app.Engine.HasPurchased(p.ID)))
	}
	return w.Flush()
}

// Purchase buys a product.
func (c *CLI) Purchase(ctx context.Context, id string) error {
	ctrl, err := c.app.Controller()
	if err != nil {
		return err
	}
	fmt.Fprintf(c.out, "Purchasing %s...\n", id)
	result, err := ctrl.Purchase(ctx, catalog.ProductID(id))
	if err != nil {
		return fmt.Errorf("purchase failed: %w", err)
	}
	switch result {
	case purchase.ResultSuccess:
		c.ok("Purchased %s", id)
	case purchase.ResultCancelled:
		c.warn("Purchase of %s cancelled", id)
	default:
		return fmt.Errorf("purchase of %s %s", id, result)
	}
	return nil
}

// Restore restores earlier purchases.
func (c *CLI) Restore(ctx context.Context) error {
	ctrl, err := c.app.Controller()
	if err != nil {
		return err
	}
	fmt.Fprintln(c.out, "Restoring purchases...")
	if err := ctrl.Restore(ctx); err != nil {
		return fmt.Errorf("restore failed: %w", err)
	}
	c.ok("Restored %d product(s)", len(c.app.Engine.PurchasedFeatures()))
	return nil
}

// Review runs a purchase review and reports what was revoked.
func (c *CLI) Review(ctx context.Context) error {
	res, err := c.app.Engine.ReviewPurchases(ctx)
	if !res.RevocationOccurred() {
		if err == nil {
			c.ok("No refunded purchases")
		}
		return err
	}

	c.heading("Revoked")
	w := c.table()
	fmt.Fprintln(w, "PROFILE\tCHANGE\tPRODUCT")
	fmt.Fprintln(w, "-------\t------\t-------")
	for _, r := range res.Revocations {
		fmt.Fprintf(w, "%s\t%s\t%s\n", r.ProfileName, describe(r.Kind), r.Product)
	}
	w.Flush()
	if len(res.Disconnected) > 0 {
		fmt.Fprintf(c.out, "Disconnected: %s\n", strings.Join(res.Disconnected, ", "))
	}
	return err
}

// Verify checks eligibility for a feature.
func (c *CLI) Verify(id string) error {
	if err := c.app.Engine.VerifyEligible(catalog.ProductID(id)); err != nil {
		return err
	}
	c.ok("Eligible for %s", id)
	return nil
}

// VerifyProvider checks eligibility for a provider.
func (c *CLI) VerifyProvider(name string) error {
	if err := c.app.Engine.VerifyEligibleForProvider(name); err != nil {
		return err
	}
	c.ok("Eligible for provider %s", name)
	return nil
}

// History lists recorded revocations, newest first.
func (c *CLI) History(ctx context.Context, limit int) error {
	recs, err := c.app.Ledger.Revocations(ctx, limit)
	if err != nil {
		return err
	}
	if len(recs) == 0 {
		fmt.Fprintln(c.out, "No revocations recorded.")
		return nil
	}

	w := c.table()
	fmt.Fprintln(w, "WHEN\tPROFILE\tCHANGE\tPRODUCT")
	fmt.Fprintln(w, "----\t-------\t------\t-------")
	for _, r := range recs {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n",
			r.ReviewedAt.Local().Format("2006-01-02 15:04"), r.ProfileName, describe(r.Kind), r.Product)
	}
	return w.Flush()
}

// AddProvider creates a provider profile from an OpenVPN config.
func (c *CLI) AddProvider(name, configPath string) error {
	if err := c.app.Engine.VerifyEligibleForProvider(name); err != nil {
		return err
	}

	profile := &vpn.Profile{
		Name:         name,
		ConfigPath:   configPath,
		ProviderName: name,
	}
	pm := c.app.Profiles
	pm.Lock()
	err := pm.Add(profile)
	pm.Unlock()
	if err != nil {
		return fmt.Errorf("failed to add profile: %w", err)
	}
	c.ok("Added provider profile %s", name)
	return nil
}

// Trust sets the trusted networks of a profile.
func (c *CLI) Trust(nameOrID string, wifi []string, cellular bool) error {
	if err := c.app.Engine.VerifyEligible(catalog.TrustedNetworks); err != nil {
		return err
	}
	if cellular && c.app.Engine.Configuration().Platform == catalog.PlatformMacOS {
		return errors.New("cellular networks cannot be trusted on macOS")
	}

	pm := c.app.Profiles
	pm.Lock()
	defer pm.Unlock()

	profile := c.findProfile(nameOrID)
	if profile == nil {
		return fmt.Errorf("profile not found: %s", nameOrID)
	}
	updated := *profile
	updated.TrustedNetworks = vpn.TrustedNetworks{IncludesCellular: cellular, WiFi: wifi}
	if err := pm.Update(&updated); err != nil {
		return fmt.Errorf("failed to update profile: %w", err)
	}
	c.ok("Updated trusted networks of %s", profile.Name)
	return nil
}

// RemoveProfile deletes a profile and its copied configuration file.
func (c *CLI) RemoveProfile(nameOrID string) error {
	pm := c.app.Profiles
	pm.Lock()
	defer pm.Unlock()

	profile := c.findProfile(nameOrID)
	if profile == nil {
		return fmt.Errorf("profile not found: %s", nameOrID)
	}
	if err := pm.Remove(profile.ID); err != nil {
		return fmt.Errorf("failed to remove profile: %w", err)
	}
	c.ok("Removed profile %s", profile.Name)
	return nil
}

// Disconnect deactivates the named tunnel.
func (c *CLI) Disconnect(ctx context.Context, name string) error {
	if err := c.app.Tunnels.Disconnect(ctx, name); err != nil {
		return err
	}
	c.ok("Disconnected %s", name)
	return nil
}

// findProfile finds a profile by name or ID (case-insensitive).
func (c *CLI) findProfile(nameOrID string) *vpn.Profile {
	nameOrID = strings.ToLower(strings.TrimSpace(nameOrID))

	for _, profile := range c.app.Profiles.List() {
		if strings.ToLower(profile.Name) == nameOrID ||
			strings.ToLower(profile.ID) == nameOrID ||
			strings.HasPrefix(strings.ToLower(profile.ID), nameOrID) {
			return profile
		}
	}
	return nil
}

func describe(kind entitlement.RevocationKind) string {
	switch kind {
	case entitlement.RevokedProvider:
		return "removed"
	case entitlement.RevokedTrust:
		return "trust cleared"
	default:
		return string(kind)
	}
}

func yesNo(b bool) string {
	if b {
		return "Yes"
	}
	return "No"
}

func receiptAge(t time.Time) string {
	if t.IsZero() {
		return "not loaded"
	}
	return "loaded " + formatDuration(time.Since(t)) + " ago"
}

// formatDuration formats a duration in a human-readable format.
func formatDuration(d time.Duration) string {
	hours := int(d.Hours())
	minutes := int(d.Minutes()) % 60
	seconds := int(d.Seconds()) % 60

	if hours > 0 {
		return fmt.Sprintf("%dh %dm %ds", hours, minutes, seconds)
	}
	if minutes > 0 {
		return fmt.Sprintf("%dm %ds", minutes, seconds)
	}
	return fmt.Sprintf("%ds", seconds)
}

// PrintHelp prints CLI usage help.
func PrintHelp() {
	fmt.Println(`VPN Manager - Licensing

Usage:
  vpn-manager [OPTIONS]

Options:
  --version              Show version and exit
  --verbose              Enable verbose logging
  --config PATH          Use an alternate configuration file
  --status               Show entitlements and tunnel status
  --products             List storefront products
  --purchase ID          Purchase a product
  --restore              Restore earlier purchases
  --review               Review purchases and revoke refunded grants
  --verify ID            Check eligibility for a feature
  --verify-provider NAME Check eligibility for a provider
  --history              Show recorded revocations
  --add-provider NAME    Add a provider profile (requires --ovpn)
  --ovpn PATH            OpenVPN config for --add-provider
  --trust PROFILE        Set trusted networks (with --wifi, --cellular)
  --wifi SSIDS           Comma-separated trusted Wi-Fi networks
  --cellular             Trust cellular networks
  --remove-profile NAME  Remove a profile
  --disconnect NAME      Disconnect an active tunnel
  --daemon               Keep entitlements current in the background
  --help                 Show this help message

Examples:
  vpn-manager --status
  vpn-manager --purchase features.trusted_networks
  vpn-manager --add-provider mullvad --ovpn ~/Downloads/mullvad.ovpn
  vpn-manager --trust "Work VPN" --wifi "HQ,HQ-Guest"
  vpn-manager --daemon`)
}
