// Package app wires the licensing components together and runs the
// background daemon.
package app

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"

	"github.com/yllada/vpn-licensing/catalog"
	"github.com/yllada/vpn-licensing/common"
	"github.com/yllada/vpn-licensing/config"
	"github.com/yllada/vpn-licensing/entitlement"
	"github.com/yllada/vpn-licensing/keyring"
	"github.com/yllada/vpn-licensing/ledger"
	"github.com/yllada/vpn-licensing/metrics"
	"github.com/yllada/vpn-licensing/purchase"
	"github.com/yllada/vpn-licensing/receipt"
	"github.com/yllada/vpn-licensing/vpn"
)

// ErrNoStorefront is returned by purchase operations when no storefront URL
// is configured.
var ErrNoStorefront = errors.New("no storefront configured")

// Options replace collaborators that talk to the system. Zero values use
// NetworkManager and the configured HTTP storefront.
type Options struct {
	Driver  vpn.Driver
	Gateway purchase.Gateway
}

// App holds every component of the licensing subsystem.
type App struct {
	Config    *config.Config
	Catalog   *catalog.Catalog
	Engine    *entitlement.Engine
	Profiles  *vpn.ProfileManager
	Tunnels   *vpn.Manager
	Ledger    *ledger.Ledger
	Receipts  *keyring.ReceiptStore
	Metrics   *metrics.Recorder
	Purchases *purchase.Controller

	gateway purchase.Gateway
	closers []func() error
}

// New builds the application from cfg, restores persisted entitlements and
// loads the current receipt.
func New(ctx context.Context, cfg *config.Config, opts Options) (*App, error) {
	a := &App{Config: cfg}
	if err := a.init(ctx, opts); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) init(ctx context.Context, opts Options) error {
	cfg := a.Config
	configDir, err := common.GetConfigDir()
	if err != nil {
		return err
	}
	dataDir, err := common.GetDataDir()
	if err != nil {
		return err
	}

	catalogPath := cfg.CatalogPath
	if catalogPath == "" {
		if p := filepath.Join(configDir, common.CatalogFileName); common.FileExists(p) {
			catalogPath = p
		}
	}
	if a.Catalog, err = catalog.Load(catalogPath); err != nil {
		return err
	}

	keys, err := receipt.LoadKeySet(orDefault(cfg.Receipt.KeysPath, filepath.Join(configDir, common.ReceiptKeysName)))
	if err != nil {
		return fmt.Errorf("failed to load receipt keys: %w", err)
	}
	var parserOpts []receipt.Option
	if cfg.Receipt.BundleID != "" {
		parserOpts = append(parserOpts, receipt.WithBundleID(cfg.Receipt.BundleID))
	}
	parser := receipt.NewParser(keys, parserOpts...)

	a.Receipts = keyring.NewReceiptStore(filepath.Join(dataDir, common.ReceiptCacheName))
	source := receipt.FirstSource{
		a.Receipts,
		receipt.FileSource{Path: orDefault(cfg.Receipt.Path, filepath.Join(dataDir, common.ReceiptFileName))},
	}

	if a.Ledger, err = ledger.Open(ctx, orDefault(cfg.LedgerPath, filepath.Join(dataDir, common.LedgerFileName))); err != nil {
		return err
	}
	a.closers = append(a.closers, a.Ledger.Close)

	if a.Profiles, err = vpn.NewProfileManager(cfg.ProfilesPath); err != nil {
		return fmt.Errorf("failed to load profiles: %w", err)
	}

	driver := opts.Driver
	if driver == nil {
		nm, err := vpn.NewNetworkManagerDriver()
		if err != nil {
			common.LogWarn("Tunnels: NetworkManager unavailable: %v", err)
			driver = unavailableDriver{err: err}
		} else {
			driver = nm
			a.closers = append(a.closers, nm.Close)
		}
	}
	a.Tunnels = vpn.NewManager(driver)

	a.Metrics = metrics.New()

	engineCfg := cfg.EngineConfiguration()
	a.Engine, err = entitlement.NewEngine(engineCfg, entitlement.Deps{
		Catalog:  a.Catalog,
		Store:    entitlement.NewStore(parser, a.Catalog, engineCfg.LastFullVersionBuild),
		Source:   source,
		Profiles: a.Profiles,
		Tunnels:  a.Tunnels,
		History:  a.Ledger,
		Metrics:  a.Metrics,
	})
	if err != nil {
		return err
	}

	a.gateway = opts.Gateway
	if a.gateway == nil && cfg.Storefront.URL != "" {
		gw := purchase.NewHTTPGateway(cfg.Storefront.URL, a.Receipts, cfg.Storefront.Timeout)
		a.gateway = gw
		a.closers = append(a.closers, func() error { gw.Close(); return nil })
	}
	if a.gateway != nil {
		a.Purchases = purchase.NewController(a.gateway, a.Catalog, a.Engine)
	}

	if err := a.Engine.LoadState(ctx); err != nil {
		common.LogWarn("Entitlements: %v", err)
	}
	return a.Engine.ReloadReceipt(ctx)
}

// Controller returns the purchase controller, or ErrNoStorefront.
func (a *App) Controller() (*purchase.Controller, error) {
	if a.Purchases == nil {
		return nil, ErrNoStorefront
	}
	return a.Purchases, nil
}

// Close releases databases and bus connections.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

// unavailableDriver stands in when no tunneling backend can be reached. No
// backend means no tunnel is up, so there is nothing to list.
type unavailableDriver struct {
	err error
}

func (d unavailableDriver) ActiveTunnels(context.Context) ([]vpn.Tunnel, error) {
	return nil, nil
}

func (d unavailableDriver) Deactivate(context.Context, vpn.Tunnel) error {
	return d.err
}
