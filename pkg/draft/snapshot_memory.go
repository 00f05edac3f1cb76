package draft

import (
	"context"
	"sync"
)

// MemorySnapshotStore keeps snapshots in process memory. Useful for tests
// and short-lived tools; snapshots do not survive a restart.
type MemorySnapshotStore struct {
	mu    sync.RWMutex
	snaps map[string]*Snapshot
}

func NewMemorySnapshotStore() *MemorySnapshotStore {
	return &MemorySnapshotStore{snaps: make(map[string]*Snapshot)}
}

func (s *MemorySnapshotStore) Put(_ context.Context, snap *Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snaps[snap.DocumentID] = snap
	return nil
}

func (s *MemorySnapshotStore) Get(_ context.Context, documentID string) (*Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snaps[documentID], nil
}

func (s *MemorySnapshotStore) Delete(_ context.Context, documentID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.snaps, documentID)
	return nil
}
