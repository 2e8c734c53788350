package memory

import (
	"context"
	"sync"

	"reward-distributor/internal/domain"
	"reward-distributor/internal/results"
	"reward-distributor/internal/storage"
)

// PayoutStore is an in-memory implementation of storage.PayoutStore.
type PayoutStore struct {
	mu   sync.RWMutex
	data map[string]domain.PayoutTable // run_id -> table
}

// NewPayoutStore creates a new in-memory payout store.
func NewPayoutStore() *PayoutStore {
	return &PayoutStore{
		data: make(map[string]domain.PayoutTable),
	}
}

// Compile-time interface check.
var _ storage.PayoutStore = (*PayoutStore)(nil)

// InsertTable stores the payout table of a run atomically.
func (s *PayoutStore) InsertTable(_ context.Context, runID string, table domain.PayoutTable) error {
	if runID == "" || table == nil {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.data[runID]; exists {
		return storage.ErrDuplicateKey
	}

	// Reject duplicate (token, address) rows within the batch
	for _, payouts := range table {
		seen := make(map[string]struct{}, len(payouts))
		for _, p := range payouts {
			if _, dup := seen[p.Address]; dup {
				return storage.ErrDuplicateKey
			}
			seen[p.Address] = struct{}{}
		}
	}

	s.data[runID] = copyTable(table)
	return nil
}

// GetByRun retrieves the payout table of a run.
func (s *PayoutStore) GetByRun(_ context.Context, runID string) (domain.PayoutTable, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	table, ok := s.data[runID]
	if !ok {
		return nil, storage.ErrNotFound
	}
	out := copyTable(table)
	for token := range out {
		results.Sort(out[token])
	}
	return out, nil
}

func copyTable(table domain.PayoutTable) domain.PayoutTable {
	out := make(domain.PayoutTable, len(table))
	for token, payouts := range table {
		out[token] = append([]domain.Payout(nil), payouts...)
	}
	return out
}
