package memory

import (
	"context"
	"sort"
	"sync"

	"reward-distributor/internal/domain"
	"reward-distributor/internal/storage"
)

type bridgeTransferKey struct {
	TxHash   string
	LogIndex int64
}

// BridgeTransferStore is an in-memory implementation of storage.BridgeTransferStore.
type BridgeTransferStore struct {
	mu   sync.RWMutex
	data []*domain.BridgeTransfer
	keys map[bridgeTransferKey]bool
}

// NewBridgeTransferStore creates a new in-memory bridge transfer store.
func NewBridgeTransferStore() *BridgeTransferStore {
	return &BridgeTransferStore{
		data: make([]*domain.BridgeTransfer, 0),
		keys: make(map[bridgeTransferKey]bool),
	}
}

// Compile-time interface check.
var _ storage.BridgeTransferStore = (*BridgeTransferStore)(nil)

// InsertBulk adds transfers atomically. Fails entire batch on any duplicate.
func (s *BridgeTransferStore) InsertBulk(_ context.Context, transfers []*domain.BridgeTransfer) error {
	if len(transfers) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	batchKeys := make(map[bridgeTransferKey]bool)
	for _, t := range transfers {
		if t == nil || t.Amount.IsNegative() {
			return storage.ErrInvalidInput
		}
		key := bridgeTransferKey{t.TxHash, t.LogIndex}
		if s.keys[key] || batchKeys[key] {
			return storage.ErrDuplicateKey
		}
		batchKeys[key] = true
	}

	for _, t := range transfers {
		copy := *t
		s.data = append(s.data, &copy)
		s.keys[bridgeTransferKey{t.TxHash, t.LogIndex}] = true
	}
	return nil
}

// GetUpToBlock retrieves transfers with block <= maxBlock.
func (s *BridgeTransferStore) GetUpToBlock(_ context.Context, maxBlock uint64) ([]*domain.BridgeTransfer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.BridgeTransfer
	for _, t := range s.data {
		if t.Block <= maxBlock {
			copy := *t
			result = append(result, &copy)
		}
	}

	sort.Slice(result, func(i, j int) bool {
		if result[i].Block != result[j].Block {
			return result[i].Block < result[j].Block
		}
		if result[i].TxHash != result[j].TxHash {
			return result[i].TxHash < result[j].TxHash
		}
		return result[i].LogIndex < result[j].LogIndex
	})
	return result, nil
}
