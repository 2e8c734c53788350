package memory

import (
	"context"
	"sync"

	"reward-distributor/internal/storage"
)

// SyncProgressStore is an in-memory implementation of storage.SyncProgressStore.
type SyncProgressStore struct {
	mu       sync.RWMutex
	progress map[string]uint64
}

// NewSyncProgressStore creates a new in-memory sync progress store.
func NewSyncProgressStore() *SyncProgressStore {
	return &SyncProgressStore{
		progress: make(map[string]uint64),
	}
}

// Compile-time interface check.
var _ storage.SyncProgressStore = (*SyncProgressStore)(nil)

// GetLastSynced returns the progress of source.
func (s *SyncProgressStore) GetLastSynced(_ context.Context, source string) (*storage.SyncProgress, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	block, ok := s.progress[source]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return &storage.SyncProgress{Source: source, Block: block}, nil
}

// SetLastSynced saves the progress of a source.
func (s *SyncProgressStore) SetLastSynced(_ context.Context, progress *storage.SyncProgress) error {
	if progress == nil || progress.Source == "" {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.progress[progress.Source] = progress.Block
	return nil
}
