package memory

import (
	"context"
	"sort"
	"sync"

	"reward-distributor/internal/domain"
	"reward-distributor/internal/storage"
)

type archiveKey struct {
	RunID  string
	Stream string
}

// StreamArchiveStore is an in-memory implementation of storage.StreamArchiveStore.
type StreamArchiveStore struct {
	mu   sync.RWMutex
	data map[archiveKey]*domain.StreamArchive
}

// NewStreamArchiveStore creates a new in-memory archive store.
func NewStreamArchiveStore() *StreamArchiveStore {
	return &StreamArchiveStore{
		data: make(map[archiveKey]*domain.StreamArchive),
	}
}

// Compile-time interface check.
var _ storage.StreamArchiveStore = (*StreamArchiveStore)(nil)

// Save stores an archive. Returns ErrDuplicateKey if (run_id, stream) exists.
func (s *StreamArchiveStore) Save(_ context.Context, a *domain.StreamArchive) error {
	if a == nil || a.RunID == "" || a.Stream == "" {
		return storage.ErrInvalidInput
	}
	key := archiveKey{a.RunID, a.Stream}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.data[key]; exists {
		return storage.ErrDuplicateKey
	}
	s.data[key] = cloneArchive(a)
	return nil
}

// Load retrieves an archive. Returns ErrNotFound if not exists.
func (s *StreamArchiveStore) Load(_ context.Context, runID, stream string) (*domain.StreamArchive, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	a, ok := s.data[archiveKey{runID, stream}]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return cloneArchive(a), nil
}

// ListStreams returns the stream labels archived for a run.
func (s *StreamArchiveStore) ListStreams(_ context.Context, runID string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var streams []string
	for k := range s.data {
		if k.RunID == runID {
			streams = append(streams, k.Stream)
		}
	}
	sort.Strings(streams)
	return streams, nil
}

func cloneArchive(a *domain.StreamArchive) *domain.StreamArchive {
	c := *a
	c.CTypes = append([]string(nil), a.CTypes...)
	c.Rates = a.Rates.Clone()
	c.Accounts = make([]*domain.Account, len(a.Accounts))
	for i, acc := range a.Accounts {
		c.Accounts[i] = acc.Clone()
	}
	c.Events = make([]*domain.RewardEvent, len(a.Events))
	for i, e := range a.Events {
		ev := *e
		c.Events[i] = &ev
	}
	return &c
}
