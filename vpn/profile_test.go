package vpn

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func writeOVPN(t *testing.T, dir, name string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte("client\nremote vpn.example.com 1194\n"), 0600); err != nil {
		t.Fatal(err)
	}
	return path
}

func newTestManager(t *testing.T) (*ProfileManager, string) {
	t.Helper()
	dir := t.TempDir()
	pm, err := NewProfileManager(filepath.Join(dir, "profiles.yaml"))
	if err != nil {
		t.Fatalf("NewProfileManager() error = %v", err)
	}
	return pm, dir
}

func TestTrustedNetworks_Revoke(t *testing.T) {
	tests := []struct {
		name          string
		trust         TrustedNetworks
		clearCellular bool
		wantChanged   bool
		wantCellular  bool
	}{
		{"nothing trusted", TrustedNetworks{}, true, false, false},
		{"cellular cleared", TrustedNetworks{IncludesCellular: true}, true, true, false},
		{"cellular kept", TrustedNetworks{IncludesCellular: true}, false, false, true},
		{"wifi cleared", TrustedNetworks{WiFi: []string{"home"}}, false, true, false},
		{"both cleared", TrustedNetworks{IncludesCellular: true, WiFi: []string{"home"}}, true, true, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			trust := tt.trust
			if got := trust.Revoke(tt.clearCellular); got != tt.wantChanged {
				t.Errorf("Revoke() = %v, want %v", got, tt.wantChanged)
			}
			if trust.IncludesCellular != tt.wantCellular {
				t.Errorf("IncludesCellular = %v, want %v", trust.IncludesCellular, tt.wantCellular)
			}
			if len(trust.WiFi) != 0 {
				t.Errorf("WiFi = %v, want empty", trust.WiFi)
			}
		})
	}
}

func TestProfileManager_AddAndReload(t *testing.T) {
	pm, dir := newTestManager(t)

	profile := &Profile{
		Name:            "office",
		ConfigPath:      writeOVPN(t, dir, "office.ovpn"),
		TrustedNetworks: TrustedNetworks{WiFi: []string{"HQ"}},
	}
	if err := pm.Add(profile); err != nil {
		t.Fatalf("Add() error = %v", err)
	}
	if profile.ID == "" {
		t.Error("Add() should assign an ID")
	}
	if filepath.Dir(profile.ConfigPath) != filepath.Join(dir, "configs") {
		t.Errorf("ConfigPath = %v, want copy under configs/", profile.ConfigPath)
	}

	provider := &Profile{Name: "mullvad", ConfigPath: writeOVPN(t, dir, "mullvad.conf"), ProviderName: "mullvad"}
	if err := pm.Add(provider); err != nil {
		t.Fatalf("Add() error = %v", err)
	}

	reloaded, err := NewProfileManager(filepath.Join(dir, "profiles.yaml"))
	if err != nil {
		t.Fatal(err)
	}
	if got := reloaded.Keys(); len(got) != 2 || got[0] != profile.ID || got[1] != provider.ID {
		t.Fatalf("Keys() = %v", got)
	}
	p, ok := reloaded.Profile(provider.ID)
	if !ok || !p.IsProvider() {
		t.Errorf("Profile(%s) = %+v, want provider profile", provider.ID, p)
	}
	p, _ = reloaded.Profile(profile.ID)
	if !p.TrustedNetworks.Grants() {
		t.Error("trusted networks should survive a reload")
	}
}

func TestProfileManager_AddInvalid(t *testing.T) {
	pm, dir := newTestManager(t)

	if err := pm.Add(&Profile{Name: "x"}); err == nil {
		t.Error("Add() without config path should fail")
	}

	bad := filepath.Join(dir, "notes.txt")
	if err := os.WriteFile(bad, []byte("remote"), 0600); err != nil {
		t.Fatal(err)
	}
	if err := pm.Add(&Profile{Name: "x", ConfigPath: bad}); !errors.Is(err, ErrInvalidConfig) {
		t.Errorf("Add(.txt) error = %v, want ErrInvalidConfig", err)
	}

	empty := filepath.Join(dir, "empty.ovpn")
	if err := os.WriteFile(empty, []byte("# nothing"), 0600); err != nil {
		t.Fatal(err)
	}
	if err := pm.Add(&Profile{Name: "x", ConfigPath: empty}); !errors.Is(err, ErrInvalidConfig) {
		t.Errorf("Add(no directives) error = %v, want ErrInvalidConfig", err)
	}

	if err := pm.Add(&Profile{Name: "dup", ConfigPath: writeOVPN(t, dir, "a.ovpn")}); err != nil {
		t.Fatal(err)
	}
	if err := pm.Add(&Profile{Name: "dup", ConfigPath: writeOVPN(t, dir, "b.ovpn")}); !errors.Is(err, ErrDuplicateName) {
		t.Errorf("Add(duplicate) error = %v, want ErrDuplicateName", err)
	}
}

func TestProfileManager_RemoveProfile(t *testing.T) {
	pm, dir := newTestManager(t)
	profile := &Profile{Name: "office", ConfigPath: writeOVPN(t, dir, "office.ovpn")}
	if err := pm.Add(profile); err != nil {
		t.Fatal(err)
	}

	if err := pm.RemoveProfile(profile.ID); err != nil {
		t.Fatalf("RemoveProfile() error = %v", err)
	}
	if _, err := os.Stat(profile.ConfigPath); !os.IsNotExist(err) {
		t.Error("RemoveProfile() should delete the copied config")
	}

	// Not saved yet: a fresh manager still sees the profile.
	onDisk, err := NewProfileManager(filepath.Join(dir, "profiles.yaml"))
	if err != nil {
		t.Fatal(err)
	}
	if len(onDisk.List()) != 1 {
		t.Errorf("profiles on disk = %d, want 1 before Save", len(onDisk.List()))
	}

	if err := pm.Save(); err != nil {
		t.Fatal(err)
	}
	onDisk, _ = NewProfileManager(filepath.Join(dir, "profiles.yaml"))
	if len(onDisk.List()) != 0 {
		t.Errorf("profiles on disk = %d, want 0 after Save", len(onDisk.List()))
	}

	if err := pm.Remove(profile.ID); !errors.Is(err, ErrProfileNotFound) {
		t.Errorf("Remove(missing) error = %v, want ErrProfileNotFound", err)
	}
}

func TestProfileManager_Update(t *testing.T) {
	pm, dir := newTestManager(t)
	profile := &Profile{Name: "office", ConfigPath: writeOVPN(t, dir, "office.ovpn")}
	if err := pm.Add(profile); err != nil {
		t.Fatal(err)
	}

	updated := *profile
	updated.TrustedNetworks.IncludesCellular = true
	if err := pm.Update(&updated); err != nil {
		t.Fatalf("Update() error = %v", err)
	}
	got, err := pm.GetByName("office")
	if err != nil {
		t.Fatal(err)
	}
	if !got.TrustedNetworks.IncludesCellular {
		t.Error("Update() should replace the stored profile")
	}

	if err := pm.Update(&Profile{ID: "missing"}); !errors.Is(err, ErrProfileNotFound) {
		t.Errorf("Update(missing) error = %v, want ErrProfileNotFound", err)
	}
}

func TestProfileManager_LockSeesOtherWriters(t *testing.T) {
	pm, dir := newTestManager(t)
	office := &Profile{Name: "office", ConfigPath: writeOVPN(t, dir, "office.ovpn")}
	pm.Lock()
	if err := pm.Add(office); err != nil {
		t.Fatal(err)
	}
	pm.Unlock()

	// A second process opens the same profiles file.
	other, err := NewProfileManager(filepath.Join(dir, "profiles.yaml"))
	if err != nil {
		t.Fatal(err)
	}
	other.Lock()
	stored, _ := other.Profile(office.ID)
	updated := *stored
	updated.TrustedNetworks = TrustedNetworks{WiFi: []string{"HQ"}}
	if err := other.Update(&updated); err != nil {
		t.Fatal(err)
	}
	if err := other.Add(&Profile{Name: "home", ConfigPath: writeOVPN(t, dir, "home.ovpn")}); err != nil {
		t.Fatal(err)
	}
	other.Unlock()

	pm.Lock()
	defer pm.Unlock()
	if got := len(pm.Keys()); got != 2 {
		t.Fatalf("Keys() after Lock() = %d profiles, want 2", got)
	}
	p, _ := pm.Profile(office.ID)
	if !p.TrustedNetworks.Grants() {
		t.Error("Lock() should reload trusted networks written by another process")
	}
}
