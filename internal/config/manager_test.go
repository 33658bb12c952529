package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/ntpeters/pyvidia/internal/snapshot"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	config := DefaultConfig()

	assert.Equal(t, DefaultLegacyURL, config.Pages.LegacyURL)
	assert.Equal(t, DefaultUnixDriverURL, config.Pages.UnixDriverURL)
	assert.Equal(t, DefaultChipSupportURL, config.Pages.ChipSupportURL)
	assert.Equal(t, DefaultDownloadBaseURL, config.Pages.DownloadBaseURL)
	assert.Equal(t, "lspci", config.Detector.Backend)
	assert.True(t, config.Lookup.PreferLongLived)
	assert.Equal(t, 30, config.HTTP.Timeout)
	assert.False(t, config.Snapshots.Enabled)
	assert.Equal(t, snapshot.StoreTypeMemory, config.Snapshots.Store.Type)
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
		errMsg  string
	}{
		{
			name:   "Valid config",
			mutate: func(c *Config) {},
		},
		{
			name:    "Empty legacy URL",
			mutate:  func(c *Config) { c.Pages.LegacyURL = "" },
			wantErr: true,
			errMsg:  "legacy page URL",
		},
		{
			name:    "Empty unix driver URL",
			mutate:  func(c *Config) { c.Pages.UnixDriverURL = "" },
			wantErr: true,
			errMsg:  "unix driver page URL",
		},
		{
			name:    "Empty chip support template",
			mutate:  func(c *Config) { c.Pages.ChipSupportURL = "" },
			wantErr: true,
			errMsg:  "chip support URL",
		},
		{
			name:    "Zero HTTP timeout",
			mutate:  func(c *Config) { c.HTTP.Timeout = 0 },
			wantErr: true,
			errMsg:  "http timeout",
		},
		{
			name:    "Invalid detector backend",
			mutate:  func(c *Config) { c.Detector.Backend = "cuda" },
			wantErr: true,
			errMsg:  "invalid detector backend",
		},
		{
			name:   "Auto detector backend",
			mutate: func(c *Config) { c.Detector.Backend = "auto" },
		},
		{
			name:    "Invalid server port",
			mutate:  func(c *Config) { c.Server.Port = -1 },
			wantErr: true,
			errMsg:  "invalid server port",
		},
		{
			name: "SQLite snapshots without path",
			mutate: func(c *Config) {
				c.Snapshots.Enabled = true
				c.Snapshots.Store.Type = snapshot.StoreTypeSQLite
				c.Snapshots.Store.SQLite = nil
			},
			wantErr: true,
			errMsg:  "database path",
		},
		{
			name: "Invalid snapshot store type",
			mutate: func(c *Config) {
				c.Snapshots.Enabled = true
				c.Snapshots.Store.Type = snapshot.StoreType("redis")
			},
			wantErr: true,
			errMsg:  "invalid snapshot store type",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := DefaultConfig()
			tt.mutate(config)

			err := config.Validate()
			if tt.wantErr {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.errMsg)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestManagerLoadCreatesDefault(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "pyvidia.yaml")

	mgr := NewManagerWithPath(configPath)

	// Config file does not exist yet
	_, err := os.Stat(configPath)
	require.True(t, os.IsNotExist(err))

	config, err := mgr.Load()
	require.NoError(t, err)
	require.NotNil(t, config)

	// Default file was written
	_, err = os.Stat(configPath)
	assert.NoError(t, err)
	assert.Equal(t, DefaultLegacyURL, config.Pages.LegacyURL)
}

func TestManagerLoadExisting(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "pyvidia.yaml")

	content := `
pages:
  legacy_url: "http://example.com/legacy.html"
http:
  timeout: 5
detector:
  backend: auto
lookup:
  prefer_long_lived: false
`
	require.NoError(t, os.WriteFile(configPath, []byte(content), 0644))

	mgr := NewManagerWithPath(configPath)
	config, err := mgr.Load()
	require.NoError(t, err)

	assert.Equal(t, "http://example.com/legacy.html", config.Pages.LegacyURL)
	assert.Equal(t, 5, config.HTTP.Timeout)
	assert.Equal(t, "auto", config.Detector.Backend)
	assert.False(t, config.Lookup.PreferLongLived)

	// Fields absent from the file keep their defaults
	assert.Equal(t, DefaultUnixDriverURL, config.Pages.UnixDriverURL)
	assert.Equal(t, DefaultChipSupportURL, config.Pages.ChipSupportURL)
}

func TestManagerLoadInvalid(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "pyvidia.yaml")

	content := `
detector:
  backend: quantum
`
	require.NoError(t, os.WriteFile(configPath, []byte(content), 0644))

	mgr := NewManagerWithPath(configPath)
	_, err := mgr.Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid config")
}

func TestManagerSaveAndReload(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "pyvidia.yaml")

	mgr := NewManagerWithPath(configPath)

	config := DefaultConfig()
	config.HTTP.Timeout = 42
	config.Lookup.PreferLongLived = false

	err := mgr.Save(config)
	require.NoError(t, err)

	// No temp file left behind
	_, err = os.Stat(configPath + ".tmp")
	assert.True(t, os.IsNotExist(err))

	mgr2 := NewManagerWithPath(configPath)
	reloaded, err := mgr2.Load()
	require.NoError(t, err)
	assert.Equal(t, 42, reloaded.HTTP.Timeout)
	assert.False(t, reloaded.Lookup.PreferLongLived)
}

func TestManagerSaveRejectsInvalid(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "pyvidia.yaml")

	mgr := NewManagerWithPath(configPath)

	config := DefaultConfig()
	config.HTTP.Timeout = 0

	err := mgr.Save(config)
	require.Error(t, err)

	// Nothing was written
	_, err = os.Stat(configPath)
	assert.True(t, os.IsNotExist(err))
}

func TestManagerGetReturnsCopy(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "pyvidia.yaml")

	mgr := NewManagerWithPath(configPath)
	_, err := mgr.Load()
	require.NoError(t, err)

	c1 := mgr.Get()
	c1.HTTP.Timeout = 999

	c2 := mgr.Get()
	assert.NotEqual(t, 999, c2.HTTP.Timeout)
}

func TestManagerGetWithoutLoad(t *testing.T) {
	mgr := NewManagerWithPath(filepath.Join(t.TempDir(), "pyvidia.yaml"))

	config := mgr.Get()
	require.NotNil(t, config)
	assert.Equal(t, DefaultLegacyURL, config.Pages.LegacyURL)
}
