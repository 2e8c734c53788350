package postgres

import (
	"context"
	"fmt"

	"reward-distributor/internal/storage"
)

// SyncProgressStore implements storage.SyncProgressStore using PostgreSQL.
type SyncProgressStore struct {
	pool *Pool
}

// NewSyncProgressStore creates a new SyncProgressStore.
func NewSyncProgressStore(pool *Pool) *SyncProgressStore {
	return &SyncProgressStore{pool: pool}
}

// Compile-time interface check.
var _ storage.SyncProgressStore = (*SyncProgressStore)(nil)

// GetLastSynced returns the progress of source.
// Returns ErrNotFound if no progress has been saved yet.
func (s *SyncProgressStore) GetLastSynced(ctx context.Context, source string) (*storage.SyncProgress, error) {
	var block int64
	err := s.pool.QueryRow(ctx, `SELECT block FROM sync_progress WHERE source = $1`, source).Scan(&block)
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get sync progress: %w", err)
	}
	return &storage.SyncProgress{Source: source, Block: uint64(block)}, nil
}

// SetLastSynced saves the progress of a source (upsert).
func (s *SyncProgressStore) SetLastSynced(ctx context.Context, progress *storage.SyncProgress) error {
	if progress == nil || progress.Source == "" {
		return storage.ErrInvalidInput
	}

	query := `
		INSERT INTO sync_progress (source, block, updated_at)
		VALUES ($1, $2, now())
		ON CONFLICT (source) DO UPDATE SET block = EXCLUDED.block, updated_at = now()
	`
	if _, err := s.pool.Exec(ctx, query, progress.Source, int64(progress.Block)); err != nil {
		return fmt.Errorf("set sync progress: %w", err)
	}
	return nil
}
