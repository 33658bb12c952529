// Package snapshot provides in-memory snapshot store implementation
package snapshot

import (
	"context"
	"sort"
	"sync"
)

// MemoryStore implements Store interface with in-memory storage
type MemoryStore struct {
	mu        sync.RWMutex
	snapshots map[string]*Snapshot
}

// NewMemoryStore creates a new in-memory store
func NewMemoryStore() (*MemoryStore, error) {
	return &MemoryStore{
		snapshots: make(map[string]*Snapshot),
	}, nil
}

// Save persists a snapshot
func (s *MemoryStore) Save(ctx context.Context, snap *Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if snap.ID == "" {
		snap.ID = generateID()
	}

	if snap.CreatedAt.IsZero() {
		snap.CreatedAt = timeNow()
	}

	s.snapshots[snap.ID] = copySnapshot(snap)

	return nil
}

// Get retrieves a snapshot by ID
func (s *MemoryStore) Get(ctx context.Context, id string) (*Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap, exists := s.snapshots[id]
	if !exists {
		return nil, ErrSnapshotNotFound
	}

	// Return a copy to avoid race conditions
	return copySnapshot(snap), nil
}

// Latest retrieves the most recently created snapshot
func (s *MemoryStore) Latest(ctx context.Context) (*Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var latest *Snapshot
	for _, snap := range s.snapshots {
		if latest == nil || snap.CreatedAt.After(latest.CreatedAt) {
			latest = snap
		}
	}

	if latest == nil {
		return nil, ErrSnapshotNotFound
	}

	return copySnapshot(latest), nil
}

// List returns snapshot summaries ordered newest first
func (s *MemoryStore) List(ctx context.Context, limit, offset int) ([]*Info, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	infos := make([]*Info, 0, len(s.snapshots))
	for _, snap := range s.snapshots {
		infos = append(infos, &Info{
			ID:          snap.ID,
			CreatedAt:   snap.CreatedAt,
			Source:      snap.Source,
			SeriesCount: len(snap.Series),
			DeviceCount: snap.DeviceCount(),
		})
	}

	sort.Slice(infos, func(i, j int) bool {
		return infos[i].CreatedAt.After(infos[j].CreatedAt)
	})

	if offset >= len(infos) {
		return []*Info{}, nil
	}

	end := offset + limit
	if limit <= 0 || end > len(infos) {
		end = len(infos)
	}

	return infos[offset:end], nil
}

// Delete removes a snapshot
func (s *MemoryStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.snapshots[id]; !exists {
		return ErrSnapshotNotFound
	}

	delete(s.snapshots, id)
	return nil
}

// Close is a no-op for the memory store
func (s *MemoryStore) Close() error {
	return nil
}

// Stats returns statistics about the store
func (s *MemoryStore) Stats() map[string]interface{} {
	s.mu.RLock()
	defer s.mu.RUnlock()

	totalDevices := 0
	for _, snap := range s.snapshots {
		totalDevices += snap.DeviceCount()
	}

	return map[string]interface{}{
		"snapshots": len(s.snapshots),
		"devices":   totalDevices,
		"type":      "memory",
	}
}

// copySnapshot deep-copies a snapshot so callers never share slices
func copySnapshot(snap *Snapshot) *Snapshot {
	cp := *snap
	cp.Series = make([]SeriesRecord, len(snap.Series))
	for i, rec := range snap.Series {
		recCopy := rec
		recCopy.Devices = make([]DeviceRecord, len(rec.Devices))
		copy(recCopy.Devices, rec.Devices)
		cp.Series[i] = recCopy
	}
	return &cp
}
