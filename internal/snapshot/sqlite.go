// Package snapshot provides SQLite snapshot store implementation
package snapshot

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite" // Use modernc.org/sqlite for pure Go SQLite (CGO-free)
)

// SQLiteStore implements Store interface with SQLite backend
type SQLiteStore struct {
	db   *sql.DB
	path string
	mu   sync.RWMutex
}

// NewSQLiteStore creates a new SQLite store
func NewSQLiteStore(config *SQLiteConfig) (*SQLiteStore, error) {
	if config == nil {
		return nil, ErrMissingSQLiteConfig
	}

	// Ensure directory exists
	dir := filepath.Dir(config.Path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}

	// Open database connection
	db, err := sql.Open("sqlite", config.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Test connection
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	store := &SQLiteStore{
		db:   db,
		path: config.Path,
	}

	// Initialize schema
	if err := store.initSchema(config); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return store, nil
}

// initSchema creates the database schema
func (s *SQLiteStore) initSchema(config *SQLiteConfig) error {
	schema := `
	CREATE TABLE IF NOT EXISTS snapshots (
		id TEXT PRIMARY KEY,
		created_at INTEGER NOT NULL,
		source TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS snapshot_series (
		snapshot_id TEXT NOT NULL,
		series TEXT NOT NULL,
		latest_version TEXT,
		download_url TEXT,
		PRIMARY KEY (snapshot_id, series),
		FOREIGN KEY (snapshot_id) REFERENCES snapshots(id) ON DELETE CASCADE
	);

	CREATE TABLE IF NOT EXISTS snapshot_devices (
		snapshot_id TEXT NOT NULL,
		series TEXT NOT NULL,
		position INTEGER NOT NULL,
		name TEXT NOT NULL,
		pci_id TEXT NOT NULL,
		PRIMARY KEY (snapshot_id, series, position),
		FOREIGN KEY (snapshot_id) REFERENCES snapshots(id) ON DELETE CASCADE
	);

	CREATE INDEX IF NOT EXISTS idx_snapshots_created ON snapshots(created_at);
	CREATE INDEX IF NOT EXISTS idx_snapshot_devices_pci ON snapshot_devices(pci_id);
	`

	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to create tables: %w", err)
	}

	// Apply pragmas
	pragmas := []string{
		"PRAGMA foreign_keys = ON",
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA temp_store = memory",
	}

	// Apply custom pragmas from config
	if config.Pragmas != nil {
		for key, value := range config.Pragmas {
			pragmas = append(pragmas, fmt.Sprintf("PRAGMA %s = %s", key, value))
		}
	}

	for _, pragma := range pragmas {
		if _, err := s.db.Exec(pragma); err != nil {
			return fmt.Errorf("failed to set pragma %s: %w", pragma, err)
		}
	}

	return nil
}

// Save persists a snapshot with its series and device rows
func (s *SQLiteStore) Save(ctx context.Context, snap *Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if snap.ID == "" {
		snap.ID = generateID()
	}

	if snap.CreatedAt.IsZero() {
		snap.CreatedAt = timeNow()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		"INSERT INTO snapshots (id, created_at, source) VALUES (?, ?, ?)",
		snap.ID, snap.CreatedAt.Unix(), snap.Source,
	)
	if err != nil {
		return fmt.Errorf("failed to insert snapshot: %w", err)
	}

	for _, rec := range snap.Series {
		_, err = tx.ExecContext(ctx,
			"INSERT INTO snapshot_series (snapshot_id, series, latest_version, download_url) VALUES (?, ?, ?, ?)",
			snap.ID, rec.Series, rec.LatestVersion, rec.DownloadURL,
		)
		if err != nil {
			return fmt.Errorf("failed to insert series %s: %w", rec.Series, err)
		}

		for i, dev := range rec.Devices {
			_, err = tx.ExecContext(ctx,
				"INSERT INTO snapshot_devices (snapshot_id, series, position, name, pci_id) VALUES (?, ?, ?, ?, ?)",
				snap.ID, rec.Series, i, dev.Name, dev.PCIID,
			)
			if err != nil {
				return fmt.Errorf("failed to insert device: %w", err)
			}
		}
	}

	return tx.Commit()
}

// Get retrieves a snapshot by ID
func (s *SQLiteStore) Get(ctx context.Context, id string) (*Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var createdUnix int64
	snap := &Snapshot{}

	err := s.db.QueryRowContext(ctx,
		"SELECT id, created_at, source FROM snapshots WHERE id = ?", id,
	).Scan(&snap.ID, &createdUnix, &snap.Source)

	if err == sql.ErrNoRows {
		return nil, ErrSnapshotNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get snapshot: %w", err)
	}

	snap.CreatedAt = time.Unix(createdUnix, 0).UTC()

	if err := s.loadSeries(ctx, snap); err != nil {
		return nil, err
	}

	return snap, nil
}

// Latest retrieves the most recently created snapshot
func (s *SQLiteStore) Latest(ctx context.Context) (*Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var createdUnix int64
	snap := &Snapshot{}

	err := s.db.QueryRowContext(ctx,
		"SELECT id, created_at, source FROM snapshots ORDER BY created_at DESC, id DESC LIMIT 1",
	).Scan(&snap.ID, &createdUnix, &snap.Source)

	if err == sql.ErrNoRows {
		return nil, ErrSnapshotNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get latest snapshot: %w", err)
	}

	snap.CreatedAt = time.Unix(createdUnix, 0).UTC()

	if err := s.loadSeries(ctx, snap); err != nil {
		return nil, err
	}

	return snap, nil
}

// loadSeries fills in the series and device rows for a snapshot header
func (s *SQLiteStore) loadSeries(ctx context.Context, snap *Snapshot) error {
	rows, err := s.db.QueryContext(ctx,
		"SELECT series, latest_version, download_url FROM snapshot_series WHERE snapshot_id = ? ORDER BY series ASC",
		snap.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to load series: %w", err)
	}
	defer rows.Close()

	snap.Series = []SeriesRecord{}
	for rows.Next() {
		var rec SeriesRecord
		var latest, url sql.NullString
		if err := rows.Scan(&rec.Series, &latest, &url); err != nil {
			return fmt.Errorf("failed to scan series: %w", err)
		}
		rec.LatestVersion = latest.String
		rec.DownloadURL = url.String
		snap.Series = append(snap.Series, rec)
	}
	if err := rows.Err(); err != nil {
		return err
	}

	for i := range snap.Series {
		devRows, err := s.db.QueryContext(ctx,
			"SELECT name, pci_id FROM snapshot_devices WHERE snapshot_id = ? AND series = ? ORDER BY position ASC",
			snap.ID, snap.Series[i].Series,
		)
		if err != nil {
			return fmt.Errorf("failed to load devices: %w", err)
		}

		devices := []DeviceRecord{}
		for devRows.Next() {
			var dev DeviceRecord
			if err := devRows.Scan(&dev.Name, &dev.PCIID); err != nil {
				devRows.Close()
				return fmt.Errorf("failed to scan device: %w", err)
			}
			devices = append(devices, dev)
		}
		devRows.Close()
		if err := devRows.Err(); err != nil {
			return err
		}

		snap.Series[i].Devices = devices
	}

	return nil
}

// List returns snapshot summaries ordered newest first
func (s *SQLiteStore) List(ctx context.Context, limit, offset int) ([]*Info, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 {
		limit = -1 // SQLite treats negative LIMIT as unlimited
	}

	query := `
	SELECT s.id, s.created_at, s.source,
		(SELECT COUNT(*) FROM snapshot_series ss WHERE ss.snapshot_id = s.id),
		(SELECT COUNT(*) FROM snapshot_devices sd WHERE sd.snapshot_id = s.id)
	FROM snapshots s
	ORDER BY s.created_at DESC, s.id DESC
	LIMIT ? OFFSET ?
	`

	rows, err := s.db.QueryContext(ctx, query, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list snapshots: %w", err)
	}
	defer rows.Close()

	infos := []*Info{}
	for rows.Next() {
		var info Info
		var createdUnix int64
		if err := rows.Scan(&info.ID, &createdUnix, &info.Source, &info.SeriesCount, &info.DeviceCount); err != nil {
			return nil, fmt.Errorf("failed to scan snapshot: %w", err)
		}
		info.CreatedAt = time.Unix(createdUnix, 0).UTC()
		infos = append(infos, &info)
	}

	return infos, rows.Err()
}

// Delete removes a snapshot and its series rows
func (s *SQLiteStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	result, err := s.db.ExecContext(ctx, "DELETE FROM snapshots WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("failed to delete snapshot: %w", err)
	}

	rows, _ := result.RowsAffected()
	if rows == 0 {
		return ErrSnapshotNotFound
	}

	return nil
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.db.Close()
}

// Stats returns statistics about the database
func (s *SQLiteStore) Stats() (map[string]interface{}, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := make(map[string]interface{})

	var snapCount, deviceCount int64
	s.db.QueryRow("SELECT COUNT(*) FROM snapshots").Scan(&snapCount)
	s.db.QueryRow("SELECT COUNT(*) FROM snapshot_devices").Scan(&deviceCount)

	stats["snapshots"] = snapCount
	stats["devices"] = deviceCount
	stats["type"] = "sqlite"
	stats["path"] = s.path

	// Get database size
	if info, err := os.Stat(s.path); err == nil {
		stats["size_bytes"] = info.Size()
	}

	return stats, nil
}
