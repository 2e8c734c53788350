package memory

import (
	"context"
	"sort"
	"sync"

	"reward-distributor/internal/domain"
	"reward-distributor/internal/storage"
)

type checkpointKey struct {
	RunID    string
	Stream   string
	Sequence int
}

// CheckpointStore is an in-memory implementation of storage.CheckpointStore.
type CheckpointStore struct {
	mu   sync.RWMutex
	data []*domain.AccrualCheckpoint
	keys map[checkpointKey]bool
}

// NewCheckpointStore creates a new in-memory checkpoint store.
func NewCheckpointStore() *CheckpointStore {
	return &CheckpointStore{
		data: make([]*domain.AccrualCheckpoint, 0),
		keys: make(map[checkpointKey]bool),
	}
}

// Compile-time interface check.
var _ storage.CheckpointStore = (*CheckpointStore)(nil)

// InsertBulk adds checkpoints. Fails entire batch on any duplicate.
func (s *CheckpointStore) InsertBulk(_ context.Context, checkpoints []*domain.AccrualCheckpoint) error {
	if len(checkpoints) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	batchKeys := make(map[checkpointKey]bool)
	for _, c := range checkpoints {
		if c == nil {
			return storage.ErrInvalidInput
		}
		key := checkpointKey{c.RunID, c.Stream, c.Sequence}
		if s.keys[key] || batchKeys[key] {
			return storage.ErrDuplicateKey
		}
		batchKeys[key] = true
	}

	for _, c := range checkpoints {
		copy := *c
		s.data = append(s.data, &copy)
		s.keys[checkpointKey{c.RunID, c.Stream, c.Sequence}] = true
	}
	return nil
}

// GetByRun retrieves checkpoints of a run ordered by stream, sequence ASC.
func (s *CheckpointStore) GetByRun(_ context.Context, runID string) ([]*domain.AccrualCheckpoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.AccrualCheckpoint
	for _, c := range s.data {
		if c.RunID == runID {
			copy := *c
			result = append(result, &copy)
		}
	}

	sort.Slice(result, func(i, j int) bool {
		if result[i].Stream != result[j].Stream {
			return result[i].Stream < result[j].Stream
		}
		return result[i].Sequence < result[j].Sequence
	})
	return result, nil
}
