package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/yllada/vpn-licensing/catalog"
	"github.com/yllada/vpn-licensing/common"
	"github.com/yllada/vpn-licensing/entitlement"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoad_CreatesDefault(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sub", "config.yaml")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if !common.FileExists(path) {
		t.Error("Load() should write the default configuration")
	}
	if cfg.Path() != path {
		t.Errorf("Path() = %v, want %v", cfg.Path(), path)
	}
	if cfg.ReviewSchedule != common.DefaultReviewSchedule {
		t.Errorf("ReviewSchedule = %v", cfg.ReviewSchedule)
	}

	again, err := Load(path)
	if err != nil {
		t.Fatalf("Load() of saved default error = %v", err)
	}
	if again.Entitlements != cfg.Entitlements {
		t.Errorf("reloaded entitlements = %+v, want %+v", again.Entitlements, cfg.Entitlements)
	}
}

func TestLoad_File(t *testing.T) {
	path := writeConfig(t, `
entitlements:
  platform: macos
  beta: "on"
  locks_beta_features: true
  last_full_version_build:
    build: 1500
storefront:
  url: https://store.example.com
  timeout: 5s
metrics_addr: 127.0.0.1:9310
log_level: debug
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Storefront.Timeout != 5*time.Second {
		t.Errorf("Storefront.Timeout = %v", cfg.Storefront.Timeout)
	}
	if !cfg.ShowNotifications {
		t.Error("unset fields should keep their defaults")
	}

	got := cfg.EngineConfiguration()
	want := entitlement.Configuration{
		Platform:             catalog.PlatformMacOS,
		Beta:                 entitlement.BetaOn,
		LocksBetaFeatures:    true,
		LastFullVersionBuild: entitlement.FullVersionGrant{Build: 1500, Product: catalog.FullVersion},
	}
	if got != want {
		t.Errorf("EngineConfiguration() = %+v, want %+v", got, want)
	}
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr error
	}{
		{"unknown field", "theme: dark\n", common.ErrConfigLoad},
		{"bad platform", "entitlements:\n  platform: android\n", common.ErrInvalidConfig},
		{"bad beta mode", "entitlements:\n  platform: ios\n  beta: maybe\n", common.ErrInvalidConfig},
		{"negative build", "entitlements:\n  platform: ios\n  last_full_version_build:\n    build: -1\n", common.ErrInvalidConfig},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.content))
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Load() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestLoad_Fallbacks(t *testing.T) {
	cfg, err := Load(writeConfig(t, "review_schedule: every now and then\nlog_level: loud\nstorefront:\n  timeout: -1s\n"))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.ReviewSchedule != common.DefaultReviewSchedule {
		t.Errorf("ReviewSchedule = %q, want fallback", cfg.ReviewSchedule)
	}
	if cfg.LogLevel != "info" {
		t.Errorf("LogLevel = %q, want info", cfg.LogLevel)
	}
	if cfg.Storefront.Timeout != common.StorefrontTimeout {
		t.Errorf("Storefront.Timeout = %v", cfg.Storefront.Timeout)
	}
}

func TestLoad_EmptyFile(t *testing.T) {
	cfg, err := Load(writeConfig(t, ""))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Entitlements.Platform != string(catalog.PlatformIOS) {
		t.Errorf("Platform = %v, want default", cfg.Entitlements.Platform)
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("VPNM_PLATFORM", "macos")
	t.Setenv("VPNM_STOREFRONT_URL", "http://localhost:8080")
	t.Setenv("VPNM_STOREFRONT_TIMEOUT", "2s")
	t.Setenv("VPNM_LAST_FULL_VERSION_BUILD", "0")
	t.Setenv("VPNM_NOTIFICATIONS", "false")

	cfg, err := Load(writeConfig(t, "entitlements:\n  platform: ios\n"))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Entitlements.Platform != "macos" {
		t.Errorf("Platform = %v, want env value", cfg.Entitlements.Platform)
	}
	if cfg.Storefront.URL != "http://localhost:8080" || cfg.Storefront.Timeout != 2*time.Second {
		t.Errorf("Storefront = %+v", cfg.Storefront)
	}
	if cfg.ShowNotifications {
		t.Error("ShowNotifications should be disabled by the environment")
	}
	if grant := cfg.EngineConfiguration().LastFullVersionBuild; grant != (entitlement.FullVersionGrant{}) {
		t.Errorf("LastFullVersionBuild = %+v, want none", grant)
	}
}

func TestSave(t *testing.T) {
	path := writeConfig(t, "")
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	cfg.MetricsAddr = ":9310"
	if err := cfg.Save(); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	reloaded, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if reloaded.MetricsAddr != ":9310" {
		t.Errorf("MetricsAddr = %q after Save", reloaded.MetricsAddr)
	}
}
