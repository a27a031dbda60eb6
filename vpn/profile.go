// Package vpn provides VPN connection management functionality.
// This file contains the Profile and ProfileManager types for managing
// VPN connection profiles.
package vpn

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/yllada/vpn-licensing/common"
)

// Common errors - re-exported from common package for convenience.
var (
	ErrProfileNotFound = common.ErrProfileNotFound
	ErrInvalidConfig   = common.ErrInvalidConfig
	ErrDuplicateName   = common.ErrDuplicateName
)

// TrustedNetworks lists the networks on which the tunnel is not brought up
// automatically. Trusting networks is a paid feature.
type TrustedNetworks struct {
	// IncludesCellular trusts any cellular connection.
	IncludesCellular bool `json:"includes_cellular,omitempty" yaml:"includes_cellular,omitempty"`
	// WiFi is the allow-list of trusted Wi-Fi SSIDs.
	WiFi []string `json:"wifi,omitempty" yaml:"wifi,omitempty"`
}

// Grants reports whether any network is trusted.
func (t TrustedNetworks) Grants() bool {
	return t.IncludesCellular || len(t.WiFi) > 0
}

// Revoke clears the Wi-Fi allow-list and, if clearCellular is set, the
// cellular grant. It reports whether anything was cleared.
func (t *TrustedNetworks) Revoke(clearCellular bool) bool {
	changed := false
	if clearCellular && t.IncludesCellular {
		t.IncludesCellular = false
		changed = true
	}
	if len(t.WiFi) > 0 {
		t.WiFi = nil
		changed = true
	}
	return changed
}

// Profile represents a VPN connection profile.
// It contains all the necessary information to establish a VPN connection,
// including the path to the OpenVPN configuration file and user credentials.
type Profile struct {
	// ID is a unique identifier for the profile (UUID format).
	ID string `json:"id" yaml:"id"`
	// Name is a human-readable name for the profile.
	Name string `json:"name" yaml:"name"`
	// ConfigPath is the path to the OpenVPN configuration file.
	ConfigPath string `json:"config_path" yaml:"config_path"`
	// Username is the optional username for authentication.
	Username string `json:"username,omitempty" yaml:"username,omitempty"`
	// AutoConnect indicates whether to connect automatically on startup.
	AutoConnect bool `json:"auto_connect" yaml:"auto_connect"`
	// ProviderName is set for profiles created from a provider's network.
	ProviderName string `json:"provider,omitempty" yaml:"provider,omitempty"`
	// TrustedNetworks lists the networks the tunnel is not used on.
	TrustedNetworks TrustedNetworks `json:"trusted_networks" yaml:"trusted_networks,omitempty"`
	// Created is the timestamp when the profile was created.
	Created time.Time `json:"created" yaml:"created"`
	// LastUsed is the timestamp when the profile was last used.
	LastUsed time.Time `json:"last_used,omitempty" yaml:"last_used,omitempty"`
}

// IsProvider reports whether the profile belongs to a VPN provider.
func (p *Profile) IsProvider() bool {
	return p.ProviderName != ""
}

// ProfileManager manages VPN profiles.
// It handles loading, saving, and manipulating profiles stored on disk.
//
// Methods do not lock on their own. Callers hold Lock for each
// read-modify-save sequence. Lock is shared with other processes using the
// same profiles file and reloads the profiles from disk.
type ProfileManager struct {
	mu         sync.Mutex
	fileLock   *common.FileLock
	profiles   []*Profile
	configDir  string
	configFile string
}

// NewProfileManager creates a ProfileManager backed by configFile and loads
// existing profiles. An empty configFile selects the default location.
func NewProfileManager(configFile string) (*ProfileManager, error) {
	if configFile == "" {
		configDir, err := common.GetConfigDir()
		if err != nil {
			return nil, err
		}
		configFile = filepath.Join(configDir, common.ProfilesFileName)
	}

	configDir := filepath.Dir(configFile)
	if err := os.MkdirAll(configDir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create config directory: %w", err)
	}

	pm := &ProfileManager{
		profiles:   make([]*Profile, 0),
		fileLock:   common.NewFileLock(configFile + ".lock"),
		configDir:  configDir,
		configFile: configFile,
	}

	if err := pm.Load(); err != nil {
		return nil, fmt.Errorf("failed to load profiles: %w", err)
	}

	return pm, nil
}

// Lock takes the profiles lock, waiting for other goroutines and processes
// that hold it, and reloads the profiles so the caller works on what is
// stored. Failures are logged and leave the cached profiles in place.
func (pm *ProfileManager) Lock() {
	pm.mu.Lock()
	if err := pm.fileLock.Lock(); err != nil {
		common.LogWarn("Profiles: %v", err)
	}
	if err := pm.Load(); err != nil {
		common.LogWarn("Profiles: keeping cached profiles: %v", err)
	}
}

// Unlock releases the profiles lock.
func (pm *ProfileManager) Unlock() {
	if err := pm.fileLock.Unlock(); err != nil {
		common.LogWarn("Profiles: %v", err)
	}
	pm.mu.Unlock()
}

// Load loads profiles from the configuration file.
// A missing file means no profiles.
func (pm *ProfileManager) Load() error {
	data, err := os.ReadFile(pm.configFile)
	if err != nil {
		if os.IsNotExist(err) {
			pm.profiles = make([]*Profile, 0)
			return nil
		}
		return fmt.Errorf("failed to read profiles file: %w", err)
	}

	var profiles []*Profile
	if err := yaml.Unmarshal(data, &profiles); err != nil {
		return fmt.Errorf("failed to parse profiles file: %w", err)
	}
	pm.profiles = profiles

	return nil
}

// Save persists profiles to the configuration file.
func (pm *ProfileManager) Save() error {
	data, err := yaml.Marshal(&pm.profiles)
	if err != nil {
		return fmt.Errorf("failed to serialize profiles: %w", err)
	}

	if err := common.WriteFileAtomic(pm.configFile, data, 0600); err != nil {
		return fmt.Errorf("failed to write profiles file: %w", err)
	}

	return nil
}

// Add adds a new profile to the manager.
// It validates the configuration file, generates a unique ID,
// and copies the config file to the application's directory.
func (pm *ProfileManager) Add(profile *Profile) error {
	if err := profile.Validate(); err != nil {
		return err
	}
	if _, err := pm.GetByName(profile.Name); err == nil {
		return fmt.Errorf("%w: %s", ErrDuplicateName, profile.Name)
	}

	if err := validateConfigFile(profile.ConfigPath); err != nil {
		return fmt.Errorf("invalid config file: %w", err)
	}

	if profile.ID == "" {
		profile.ID = uuid.NewString()
	}
	profile.Created = time.Now()

	configsDir := filepath.Join(pm.configDir, "configs")
	if err := os.MkdirAll(configsDir, 0700); err != nil {
		return fmt.Errorf("failed to create configs directory: %w", err)
	}

	destPath := filepath.Join(configsDir, profile.ID+".ovpn")
	if err := copyFile(profile.ConfigPath, destPath); err != nil {
		return fmt.Errorf("failed to copy config file: %w", err)
	}

	profile.ConfigPath = destPath
	pm.profiles = append(pm.profiles, profile)

	return pm.Save()
}

// RemoveProfile drops a profile and its configuration file without saving.
func (pm *ProfileManager) RemoveProfile(id string) error {
	for i, profile := range pm.profiles {
		if profile.ID == id {
			if err := os.Remove(profile.ConfigPath); err != nil && !os.IsNotExist(err) {
				common.LogWarn("Profiles: failed to remove config file %s: %v", profile.ConfigPath, err)
			}
			pm.profiles = append(pm.profiles[:i], pm.profiles[i+1:]...)
			return nil
		}
	}
	return ErrProfileNotFound
}

// Remove removes a profile by ID and saves.
func (pm *ProfileManager) Remove(id string) error {
	if err := pm.RemoveProfile(id); err != nil {
		return err
	}
	return pm.Save()
}

// Get retrieves a profile by ID.
func (pm *ProfileManager) Get(id string) (*Profile, error) {
	for _, profile := range pm.profiles {
		if profile.ID == id {
			return profile, nil
		}
	}
	return nil, ErrProfileNotFound
}

// Profile returns the stored profile with the given ID.
func (pm *ProfileManager) Profile(id string) (*Profile, bool) {
	p, err := pm.Get(id)
	return p, err == nil
}

// GetByName retrieves a profile by name.
func (pm *ProfileManager) GetByName(name string) (*Profile, error) {
	for _, profile := range pm.profiles {
		if profile.Name == name {
			return profile, nil
		}
	}
	return nil, ErrProfileNotFound
}

// List returns all profiles.
func (pm *ProfileManager) List() []*Profile {
	return append([]*Profile(nil), pm.profiles...)
}

// Keys returns the IDs of all profiles in storage order.
func (pm *ProfileManager) Keys() []string {
	keys := make([]string, 0, len(pm.profiles))
	for _, p := range pm.profiles {
		keys = append(keys, p.ID)
	}
	return keys
}

// Update updates an existing profile.
func (pm *ProfileManager) Update(profile *Profile) error {
	for i, p := range pm.profiles {
		if p.ID == profile.ID {
			pm.profiles[i] = profile
			return pm.Save()
		}
	}
	return ErrProfileNotFound
}

// validateConfigFile checks if the given file is a valid OpenVPN configuration.
func validateConfigFile(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("file not found: %w", err)
	}

	if info.IsDir() {
		return ErrInvalidConfig
	}

	ext := strings.ToLower(filepath.Ext(path))
	if ext != ".ovpn" && ext != ".conf" {
		return fmt.Errorf("%w: expected .ovpn or .conf extension", ErrInvalidConfig)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read file: %w", err)
	}

	content := string(data)
	// Check for common OpenVPN directives
	for _, directive := range []string{"remote", "client"} {
		if strings.Contains(content, directive) {
			return nil
		}
	}
	return fmt.Errorf("%w: missing required OpenVPN directives", ErrInvalidConfig)
}

// copyFile copies a file from src to dst with secure permissions.
func copyFile(src, dst string) error {
	data, err := os.ReadFile(src)
	if err != nil {
		return fmt.Errorf("failed to read source file: %w", err)
	}
	if err := os.WriteFile(dst, data, 0600); err != nil {
		return fmt.Errorf("failed to write destination file: %w", err)
	}
	return nil
}

// Validate checks if the profile has all required fields.
func (p *Profile) Validate() error {
	if p.Name == "" {
		return errors.New("profile name is required")
	}
	if p.ConfigPath == "" {
		return errors.New("config path is required")
	}
	return nil
}
