// Package config provides configuration management for pyvidia.
// It handles loading, saving, and validating configuration from YAML files.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/ntpeters/pyvidia/internal/snapshot"
)

const (
	// DefaultConfigDir is the default configuration directory
	DefaultConfigDir = "config"
	// DefaultConfigFile is the default configuration file name
	DefaultConfigFile = "pyvidia.yaml"
)

// Default NVIDIA page locations. The chip support template takes a driver
// version; NVIDIA only publishes the x86_64 README regardless of host arch.
const (
	DefaultLegacyURL       = "http://www.nvidia.com/object/IO_32667.html"
	DefaultUnixDriverURL   = "http://www.nvidia.com/object/unix.html"
	DefaultChipSupportURL  = "http://us.download.nvidia.com/XFree86/Linux-x86_64/%s/README/supportedchips.html"
	DefaultDownloadBaseURL = "http://www.nvidia.com"
)

// Config represents the complete application configuration
type Config struct {
	Pages     PagesConfig     `yaml:"pages" json:"pages"`
	HTTP      HTTPConfig      `yaml:"http" json:"http"`
	Detector  DetectorConfig  `yaml:"detector" json:"detector"`
	Lookup    LookupConfig    `yaml:"lookup" json:"lookup"`
	Log       LogConfig       `yaml:"log" json:"log"`
	Server    ServerConfig    `yaml:"server" json:"server"`
	Snapshots SnapshotsConfig `yaml:"snapshots" json:"snapshots"`
}

// PagesConfig contains the NVIDIA page locations the scraper reads
type PagesConfig struct {
	LegacyURL       string `yaml:"legacy_url" json:"legacyUrl"`              // legacy GPU device table
	UnixDriverURL   string `yaml:"unix_driver_url" json:"unixDriverUrl"`     // unix driver version feed
	ChipSupportURL  string `yaml:"chip_support_url" json:"chipSupportUrl"`   // supported chips template, %s = version
	DownloadBaseURL string `yaml:"download_base_url" json:"downloadBaseUrl"` // base for site-relative links
}

// HTTPConfig contains page fetcher configuration
type HTTPConfig struct {
	Timeout   int    `yaml:"timeout" json:"timeout"` // seconds
	UserAgent string `yaml:"user_agent" json:"userAgent"`
}

// DetectorConfig contains GPU detection configuration
type DetectorConfig struct {
	Backend string `yaml:"backend" json:"backend"` // lspci, nvml, auto
	Timeout int    `yaml:"timeout" json:"timeout"` // seconds, bounds the subprocess
}

// LookupConfig contains series lookup configuration
type LookupConfig struct {
	PreferLongLived bool `yaml:"prefer_long_lived" json:"preferLongLived"`
}

// LogConfig contains logging configuration
type LogConfig struct {
	Level     string `yaml:"level" json:"level"`         // debug, info, warn, error
	Format    string `yaml:"format" json:"format"`       // json, text
	Output    string `yaml:"output" json:"output"`       // stdout, stderr, file, both
	Directory string `yaml:"directory" json:"directory"` // log directory
}

// ServerConfig contains HTTP server configuration for serve mode
type ServerConfig struct {
	Host           string   `yaml:"host" json:"host"`
	Port           int      `yaml:"port" json:"port"`
	ReadTimeout    int      `yaml:"read_timeout" json:"readTimeout"`   // seconds
	WriteTimeout   int      `yaml:"write_timeout" json:"writeTimeout"` // seconds
	CORSEnabled    bool     `yaml:"cors_enabled" json:"corsEnabled"`
	AllowedOrigins []string `yaml:"allowed_origins" json:"allowedOrigins"`
}

// SnapshotsConfig contains catalog snapshot configuration
type SnapshotsConfig struct {
	Enabled bool                 `yaml:"enabled" json:"enabled"`
	Store   snapshot.StoreConfig `yaml:"store" json:"store"`
}

// DefaultConfig returns a default configuration
func DefaultConfig() *Config {
	cwd, _ := os.Getwd()
	logDir := filepath.Join(cwd, "logs")

	return &Config{
		Pages: PagesConfig{
			LegacyURL:       DefaultLegacyURL,
			UnixDriverURL:   DefaultUnixDriverURL,
			ChipSupportURL:  DefaultChipSupportURL,
			DownloadBaseURL: DefaultDownloadBaseURL,
		},
		HTTP: HTTPConfig{
			Timeout:   30,
			UserAgent: "pyvidia/1.0",
		},
		Detector: DetectorConfig{
			Backend: "lspci",
			Timeout: 10,
		},
		Lookup: LookupConfig{
			PreferLongLived: true,
		},
		Log: LogConfig{
			Level:     "info",
			Format:    "text",
			Output:    "stderr",
			Directory: logDir,
		},
		Server: ServerConfig{
			Host:           "0.0.0.0",
			Port:           9178,
			ReadTimeout:    60,
			WriteTimeout:   60,
			CORSEnabled:    true,
			AllowedOrigins: []string{"*"},
		},
		Snapshots: SnapshotsConfig{
			Enabled: false,
			Store: snapshot.StoreConfig{
				Type: snapshot.StoreTypeMemory,
				SQLite: &snapshot.SQLiteConfig{
					Path:      filepath.Join(cwd, "data", "pyvidia.db"),
					EnableWAL: true,
					Pragmas: map[string]string{
						"cache_size":  "-16000", // 16MB cache
						"synchronous": "NORMAL",
					},
				},
			},
		},
	}
}

// Validate validates the configuration
func (c *Config) Validate() error {
	// Validate page locations
	if c.Pages.LegacyURL == "" {
		return fmt.Errorf("legacy page URL cannot be empty")
	}
	if c.Pages.UnixDriverURL == "" {
		return fmt.Errorf("unix driver page URL cannot be empty")
	}
	if c.Pages.ChipSupportURL == "" {
		return fmt.Errorf("chip support URL template cannot be empty")
	}

	// Validate HTTP settings
	if c.HTTP.Timeout < 1 {
		return fmt.Errorf("http timeout must be at least 1 second")
	}

	// Validate detector settings
	validBackends := map[string]bool{"lspci": true, "nvml": true, "auto": true, "": true}
	if !validBackends[c.Detector.Backend] {
		return fmt.Errorf("invalid detector backend: %s (must be lspci, nvml, or auto)", c.Detector.Backend)
	}
	if c.Detector.Timeout < 1 {
		return fmt.Errorf("detector timeout must be at least 1 second")
	}

	// Validate server settings
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}

	// Validate snapshot settings
	if c.Snapshots.Enabled {
		switch c.Snapshots.Store.Type {
		case snapshot.StoreTypeMemory:
		case snapshot.StoreTypeSQLite:
			if c.Snapshots.Store.SQLite == nil || c.Snapshots.Store.SQLite.Path == "" {
				return fmt.Errorf("sqlite snapshot store requires a database path")
			}
		default:
			return fmt.Errorf("invalid snapshot store type: %s", c.Snapshots.Store.Type)
		}
	}

	return nil
}

// GetConfigDir returns the configuration directory path
func GetConfigDir() string {
	// Allow override via environment variable
	if dir := os.Getenv("PYVIDIA_CONFIG_DIR"); dir != "" {
		return dir
	}
	return DefaultConfigDir
}

// EnsureConfigDir ensures the configuration directory exists
func EnsureConfigDir() error {
	configDir := GetConfigDir()
	if _, err := os.Stat(configDir); os.IsNotExist(err) {
		if err := os.MkdirAll(configDir, 0755); err != nil {
			return fmt.Errorf("failed to create config directory: %w", err)
		}
	}
	return nil
}

// Manager manages configuration loading and saving
type Manager struct {
	config     *Config
	configPath string
	mu         sync.RWMutex
}

// NewManager creates a new configuration manager using the default path
func NewManager() *Manager {
	return &Manager{
		configPath: filepath.Join(GetConfigDir(), DefaultConfigFile),
	}
}

// NewManagerWithPath creates a new configuration manager with a custom config path
func NewManagerWithPath(configPath string) *Manager {
	return &Manager{
		configPath: configPath,
	}
}

// GetConfigPath returns the configuration file path
func (m *Manager) GetConfigPath() string {
	return m.configPath
}
