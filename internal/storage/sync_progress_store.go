package storage

import "context"

// SyncProgress is the last block an ingester has fully processed.
type SyncProgress struct {
	Source string // ingester name, e.g. "standard-bridge"
	Block  uint64
}

// SyncProgressStore persists ingestion progress so restarts resume without
// reprocessing or duplicating records.
type SyncProgressStore interface {
	// GetLastSynced returns the progress of source.
	// Returns ErrNotFound if no progress has been saved yet.
	GetLastSynced(ctx context.Context, source string) (*SyncProgress, error)

	// SetLastSynced saves the progress of a source.
	SetLastSynced(ctx context.Context, progress *SyncProgress) error
}
