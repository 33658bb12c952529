// Package snapshot provides persistence for built driver catalogs with
// multiple backend support
package snapshot

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// StoreType represents the type of snapshot backend
type StoreType string

const (
	StoreTypeMemory StoreType = "memory" // In-memory store (ephemeral)
	StoreTypeSQLite StoreType = "sqlite" // SQLite file-based store
)

// StoreConfig represents snapshot store configuration
type StoreConfig struct {
	Type   StoreType     `yaml:"type" json:"type"`
	SQLite *SQLiteConfig `yaml:"sqlite" json:"sqlite,omitempty"`
}

// SQLiteConfig contains SQLite-specific configuration
type SQLiteConfig struct {
	Path      string            `yaml:"path" json:"path"`                 // Database file path
	Pragmas   map[string]string `yaml:"pragmas" json:"pragmas,omitempty"` // SQLite pragmas
	EnableWAL bool              `yaml:"enable_wal" json:"enableWAL"`      // Enable WAL mode
}

// DeviceRecord is a single supported device within a series record
type DeviceRecord struct {
	Name  string `json:"name" db:"name"`
	PCIID string `json:"pciId" db:"pci_id"`
}

// SeriesRecord captures one driver series of a built catalog
type SeriesRecord struct {
	Series        string         `json:"series" db:"series"`
	LatestVersion string         `json:"latestVersion" db:"latest_version"`
	DownloadURL   string         `json:"downloadUrl" db:"download_url"`
	Devices       []DeviceRecord `json:"devices"`
}

// Snapshot is a persisted record of a fully built driver catalog
type Snapshot struct {
	ID        string         `json:"id" db:"id"`
	CreatedAt time.Time      `json:"createdAt" db:"created_at"`
	Source    string         `json:"source" db:"source"` // query, serve, refresh
	Series    []SeriesRecord `json:"series"`
}

// Info is a summary of a stored snapshot without its series payload
type Info struct {
	ID          string    `json:"id"`
	CreatedAt   time.Time `json:"createdAt"`
	Source      string    `json:"source"`
	SeriesCount int       `json:"seriesCount"`
	DeviceCount int       `json:"deviceCount"`
}

// DeviceCount returns the total number of devices across all series
func (s *Snapshot) DeviceCount() int {
	n := 0
	for _, rec := range s.Series {
		n += len(rec.Devices)
	}
	return n
}

// Store defines the snapshot persistence interface
type Store interface {
	// Save persists a snapshot, assigning an ID and timestamp when absent
	Save(ctx context.Context, snap *Snapshot) error
	// Get retrieves a snapshot by ID, including its series and devices
	Get(ctx context.Context, id string) (*Snapshot, error)
	// Latest retrieves the most recently created snapshot
	Latest(ctx context.Context) (*Snapshot, error)
	// List returns snapshot summaries ordered newest first
	List(ctx context.Context, limit, offset int) ([]*Info, error)
	// Delete removes a snapshot and its series rows
	Delete(ctx context.Context, id string) error
	// Cleanup
	Close() error
}

// Manager manages the snapshot backend
type Manager struct {
	store  Store
	config *StoreConfig
}

// NewManager creates a new snapshot manager
func NewManager(config *StoreConfig) (*Manager, error) {
	mgr := &Manager{
		config: config,
	}

	var store Store
	var err error

	switch config.Type {
	case StoreTypeMemory:
		store, err = NewMemoryStore()
	case StoreTypeSQLite:
		if config.SQLite == nil {
			return nil, ErrMissingSQLiteConfig
		}
		store, err = NewSQLiteStore(config.SQLite)
	default:
		return nil, ErrInvalidStoreType
	}

	if err != nil {
		return nil, err
	}

	mgr.store = store
	return mgr, nil
}

// GetStore returns the underlying store
func (m *Manager) GetStore() Store {
	return m.store
}

// Close closes the snapshot manager
func (m *Manager) Close() error {
	if m.store != nil {
		return m.store.Close()
	}
	return nil
}

// Errors
var (
	ErrInvalidStoreType    = &StoreError{Code: "INVALID_TYPE", Message: "Invalid snapshot store type"}
	ErrMissingSQLiteConfig = &StoreError{Code: "MISSING_CONFIG", Message: "Missing SQLite configuration"}
	ErrSnapshotNotFound    = &StoreError{Code: "NOT_FOUND", Message: "Snapshot not found"}
)

// StoreError represents a snapshot store error
type StoreError struct {
	Code    string
	Message string
	Err     error
}

func (e *StoreError) Error() string {
	if e.Err != nil {
		return e.Code + ": " + e.Message + ": " + e.Err.Error()
	}
	return e.Code + ": " + e.Message
}

func (e *StoreError) Unwrap() error {
	return e.Err
}

// generateID generates a unique snapshot ID
func generateID() string {
	return "snap-" + uuid.New().String()
}

func timeNow() time.Time {
	return time.Now().UTC()
}
