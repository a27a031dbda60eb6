// Package config provides configuration management for VPN Manager licensing.
// It handles loading, saving, and validating entitlement settings.
package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"

	"github.com/yllada/vpn-licensing/catalog"
	"github.com/yllada/vpn-licensing/common"
	"github.com/yllada/vpn-licensing/entitlement"
)

// Config represents the application configuration.
// All settings are persisted to a YAML file in the user's config directory.
// Empty paths resolve to files under the config and data directories.
type Config struct {
	Entitlements Entitlements `yaml:"entitlements"`
	Receipt      Receipt      `yaml:"receipt"`
	Storefront   Storefront   `yaml:"storefront"`

	CatalogPath  string `yaml:"catalog_path" env:"VPNM_CATALOG_PATH"`
	ProfilesPath string `yaml:"profiles_path" env:"VPNM_PROFILES_PATH"`
	LedgerPath   string `yaml:"ledger_path" env:"VPNM_LEDGER_PATH"`

	// ReviewSchedule is a cron spec for periodic purchase reviews.
	ReviewSchedule string `yaml:"review_schedule" env:"VPNM_REVIEW_SCHEDULE"`
	// ShowNotifications enables desktop notifications for revocations.
	ShowNotifications bool `yaml:"show_notifications" env:"VPNM_NOTIFICATIONS"`
	// MetricsAddr is the listen address for /metrics. Empty disables it.
	MetricsAddr string `yaml:"metrics_addr" env:"VPNM_METRICS_ADDR"`
	// LogLevel is one of debug, info, warn, error.
	LogLevel string `yaml:"log_level" env:"VPNM_LOG_LEVEL"`

	path string
}

// Entitlements holds the engine policy.
type Entitlements struct {
	Platform             string    `yaml:"platform" env:"VPNM_PLATFORM"`
	Beta                 string    `yaml:"beta" env:"VPNM_BETA"`
	LocksBetaFeatures    bool      `yaml:"locks_beta_features" env:"VPNM_LOCKS_BETA_FEATURES"`
	IsBetaFullVersion    bool      `yaml:"is_beta_full_version" env:"VPNM_BETA_FULL_VERSION"`
	LastFullVersionBuild BuildSpec `yaml:"last_full_version_build"`
}

// BuildSpec grants Product to installations bought at or before Build.
// A zero Build disables grandfathering.
type BuildSpec struct {
	Build   int    `yaml:"build" env:"VPNM_LAST_FULL_VERSION_BUILD"`
	Product string `yaml:"product" env:"VPNM_LAST_FULL_VERSION_PRODUCT"`
}

// Receipt locates the signed receipt and its verification keys.
type Receipt struct {
	Path     string `yaml:"path" env:"VPNM_RECEIPT_PATH"`
	KeysPath string `yaml:"keys_path" env:"VPNM_RECEIPT_KEYS_PATH"`
	BundleID string `yaml:"bundle_id" env:"VPNM_BUNDLE_ID"`
}

// Storefront configures the purchase service. An empty URL disables
// purchases and restores.
type Storefront struct {
	URL     string        `yaml:"url" env:"VPNM_STOREFRONT_URL"`
	Timeout time.Duration `yaml:"timeout" env:"VPNM_STOREFRONT_TIMEOUT"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Entitlements: Entitlements{
			Platform: string(catalog.PlatformIOS),
			Beta:     string(entitlement.BetaAuto),
			LastFullVersionBuild: BuildSpec{
				Build:   2016,
				Product: string(catalog.FullVersion),
			},
		},
		Storefront: Storefront{
			Timeout: common.StorefrontTimeout,
		},
		ReviewSchedule:    common.DefaultReviewSchedule,
		ShowNotifications: true,
		LogLevel:          "info",
	}
}

// Load loads the configuration from path, or from the default location when
// path is empty. A missing file is created with default values. Environment
// variables override file values.
func Load(path string) (*Config, error) {
	if path == "" {
		var err error
		if path, err = getConfigPath(); err != nil {
			return nil, err
		}
	}

	config := DefaultConfig()
	config.path = path

	if _, err := os.Stat(path); os.IsNotExist(err) {
		if err := config.Save(); err != nil {
			return nil, err
		}
	} else {
		file, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("error opening configuration: %w", err)
		}
		defer file.Close()

		decoder := yaml.NewDecoder(file)
		decoder.KnownFields(true) // Strict validation: reject unknown fields
		if err := decoder.Decode(config); err != nil && !errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("%w: %v", common.ErrConfigLoad, err)
		}
	}

	if err := cleanenv.ReadEnv(config); err != nil {
		return nil, fmt.Errorf("%w: environment: %v", common.ErrConfigLoad, err)
	}

	if err := config.validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", common.ErrInvalidConfig, err)
	}
	return config, nil
}

// validate rejects settings the engine cannot run with and falls back to
// defaults for the rest.
func (c *Config) validate() error {
	if _, err := catalog.ParsePlatform(c.Entitlements.Platform); err != nil {
		return err
	}
	if _, err := entitlement.ParseBetaMode(c.Entitlements.Beta); err != nil {
		return err
	}
	if c.Entitlements.LastFullVersionBuild.Build < 0 {
		return fmt.Errorf("negative grandfathering build %d", c.Entitlements.LastFullVersionBuild.Build)
	}

	if _, err := cron.ParseStandard(c.ReviewSchedule); err != nil {
		common.LogWarn("Config: invalid review schedule %q, using %q", c.ReviewSchedule, common.DefaultReviewSchedule)
		c.ReviewSchedule = common.DefaultReviewSchedule
	}
	if c.Storefront.Timeout <= 0 {
		c.Storefront.Timeout = common.StorefrontTimeout
	}
	switch c.LogLevel {
	case "debug", "info", "warn", "warning", "error":
	default:
		c.LogLevel = "info"
	}
	return nil
}

// EngineConfiguration returns the entitlement engine policy.
func (c *Config) EngineConfiguration() entitlement.Configuration {
	e := c.Entitlements
	platform, _ := catalog.ParsePlatform(e.Platform)
	beta, _ := entitlement.ParseBetaMode(e.Beta)
	cfg := entitlement.Configuration{
		Platform:          platform,
		Beta:              beta,
		LocksBetaFeatures: e.LocksBetaFeatures,
		IsBetaFullVersion: e.IsBetaFullVersion,
	}
	if b := e.LastFullVersionBuild; b.Build > 0 {
		product := catalog.ProductID(b.Product)
		if product == "" {
			product = catalog.FullVersion
		}
		cfg.LastFullVersionBuild = entitlement.FullVersionGrant{Build: b.Build, Product: product}
	}
	return cfg
}

// Path returns the file the configuration was loaded from.
func (c *Config) Path() string {
	return c.path
}

// Save saves the configuration to the file it was loaded from.
func (c *Config) Save() error {
	configPath := c.path
	if configPath == "" {
		var err error
		if configPath, err = getConfigPath(); err != nil {
			return err
		}
		c.path = configPath
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("error serializing configuration: %w", err)
	}

	if err := common.WriteFileAtomic(configPath, data, 0600); err != nil {
		return fmt.Errorf("%w: %v", common.ErrConfigSave, err)
	}
	return nil
}

func getConfigPath() (string, error) {
	dir, err := common.GetConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, common.ConfigFileName), nil
}
