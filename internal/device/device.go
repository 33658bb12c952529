// Package device provides NVIDIA device detection abstractions.
// It implements the Provider Pattern to support multiple detection backends
// (lspci, NVML) with clean separation of concerns and easy extensibility.
package device

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Device identifies an installed NVIDIA GPU.
type Device struct {
	// Name is the display name from the PCI enumeration, e.g.
	// "NVIDIA Corporation G96 [GeForce 9500 GT]".
	Name string `json:"name"`
	// PCIID is the 4-hex-digit PCI device ID in upper case, e.g. "0640".
	PCIID string `json:"pciId"`
}

// Provider defines the interface for device detection backends.
type Provider interface {
	// Name returns the provider's name (e.g. "lspci", "nvml")
	Name() string

	// IsAvailable checks if the provider can detect devices on this system.
	// This should be a lightweight check (e.g., command existence).
	IsAvailable() bool

	// Detect looks for an NVIDIA device on the system.
	// It returns (nil, nil) when the system simply has no NVIDIA device.
	Detect(ctx context.Context) (*Device, error)
}

// Logger interface for device package logging.
// This avoids direct dependency on internal/logger.
type Logger interface {
	Debugf(format string, args ...interface{})
	Infof(format string, args ...interface{})
	Errorf(format string, args ...interface{})
}

// noopLogger is a no-op implementation of Logger.
type noopLogger struct{}

func (n noopLogger) Debugf(format string, args ...interface{}) {}
func (n noopLogger) Infof(format string, args ...interface{})  {}
func (n noopLogger) Errorf(format string, args ...interface{}) {}

// QueryError indicates the detection backend itself was unavailable or failed,
// as opposed to the system simply having no NVIDIA device.
type QueryError struct {
	Backend string
	Err     error
}

func (e *QueryError) Error() string {
	return fmt.Sprintf("device query via %s failed: %v", e.Backend, e.Err)
}

func (e *QueryError) Unwrap() error {
	return e.Err
}

// ParseError indicates enumeration output did not match the expected shape.
// Callers treat it as "no device detected".
type ParseError struct {
	Missing string
	Line    string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("no %s in device line %q", e.Missing, e.Line)
}

// Config contains configuration for the device detector.
type Config struct {
	// Backend selects the detection backend: "lspci", "nvml" or "auto"
	Backend string
	// Timeout for detection operations
	Timeout time.Duration
	// Logger for logging (optional)
	Logger Logger
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Backend: "lspci",
		Timeout: 10 * time.Second,
	}
}

// Detector manages detection providers and coordinates device discovery.
// It acts as a facade over all detection backends.
type Detector struct {
	providers []Provider
	timeout   time.Duration
	logger    Logger
}

// NewDetector creates a new device detector for the configured backend.
func NewDetector(cfg *Config) *Detector {
	if cfg == nil {
		cfg = DefaultConfig()
	}

	logger := cfg.Logger
	if logger == nil {
		logger = noopLogger{}
	}

	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 10 * time.Second
	}

	return &Detector{
		providers: registerProviders(cfg.Backend, logger),
		timeout:   timeout,
		logger:    logger,
	}
}

// Detect looks for an installed NVIDIA device using the configured backends.
// It returns the first device found, (nil, nil) when no backend reports a
// device, and a QueryError only when every available backend failed outright.
func (d *Detector) Detect(ctx context.Context) (*Device, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	var lastErr error
	queried := false

	for _, provider := range d.providers {
		if !provider.IsAvailable() {
			d.logger.Debugf("Device provider %s is not available", provider.Name())
			continue
		}

		dev, err := provider.Detect(ctx)
		if err != nil {
			var parseErr *ParseError
			if errors.As(err, &parseErr) {
				// Unexpected line shape means we cannot identify the
				// device, not that the query itself failed.
				d.logger.Debugf("Provider %s: %v", provider.Name(), err)
				queried = true
				continue
			}
			d.logger.Errorf("Provider %s failed: %v", provider.Name(), err)
			lastErr = err
			continue
		}

		queried = true
		if dev != nil {
			d.logger.Infof("Detected NVIDIA device %s [%s] via %s", dev.Name, dev.PCIID, provider.Name())
			return dev, nil
		}
	}

	if !queried && lastErr != nil {
		return nil, lastErr
	}
	return nil, nil
}

// GetAvailableProviders returns a list of available provider names.
func (d *Detector) GetAvailableProviders() []string {
	var names []string
	for _, provider := range d.providers {
		if provider.IsAvailable() {
			names = append(names, provider.Name())
		}
	}
	return names
}

// registerProviders returns the providers for the requested backend.
// This is the central registry for detection backends.
func registerProviders(backend string, logger Logger) []Provider {
	switch backend {
	case "nvml":
		return []Provider{NewNvmlProvider(logger)}
	case "auto":
		return []Provider{
			NewLspciProvider(logger),
			NewNvmlProvider(logger),
		}
	default:
		return []Provider{NewLspciProvider(logger)}
	}
}
