package memory

import (
	"context"
	"sync"

	"reward-distributor/internal/domain"
	"reward-distributor/internal/storage"
)

// RunStore is an in-memory implementation of storage.RunStore.
type RunStore struct {
	mu   sync.RWMutex
	data map[string]*domain.CampaignRun
}

// NewRunStore creates a new in-memory run store.
func NewRunStore() *RunStore {
	return &RunStore{
		data: make(map[string]*domain.CampaignRun),
	}
}

// Compile-time interface check.
var _ storage.RunStore = (*RunStore)(nil)

// Insert records a finished run. Returns ErrDuplicateKey if run_id exists.
func (s *RunStore) Insert(_ context.Context, r *domain.CampaignRun) error {
	if r == nil || r.RunID == "" {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.data[r.RunID]; exists {
		return storage.ErrDuplicateKey
	}

	copy := *r
	s.data[r.RunID] = &copy
	return nil
}

// GetByID retrieves a run by its ID. Returns ErrNotFound if not exists.
func (s *RunStore) GetByID(_ context.Context, runID string) (*domain.CampaignRun, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.data[runID]
	if !ok {
		return nil, storage.ErrNotFound
	}
	copy := *r
	return &copy, nil
}

// GetLatest retrieves the most recently finished successful run.
func (s *RunStore) GetLatest(_ context.Context) (*domain.CampaignRun, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var latest *domain.CampaignRun
	for _, r := range s.data {
		if r.Status != domain.RunStatusSucceeded {
			continue
		}
		if latest == nil || r.FinishedAt > latest.FinishedAt ||
			(r.FinishedAt == latest.FinishedAt && r.RunID > latest.RunID) {
			latest = r
		}
	}
	if latest == nil {
		return nil, storage.ErrNotFound
	}
	copy := *latest
	return &copy, nil
}
