package storage

import (
	"context"

	"reward-distributor/internal/domain"
)

// RunStore provides access to campaign_runs storage.
type RunStore interface {
	// Insert records a finished run. Returns ErrDuplicateKey if run_id exists.
	Insert(ctx context.Context, r *domain.CampaignRun) error

	// GetByID retrieves a run by its ID. Returns ErrNotFound if not exists.
	GetByID(ctx context.Context, runID string) (*domain.CampaignRun, error)

	// GetLatest retrieves the most recently finished successful run.
	// Returns ErrNotFound if no run succeeded yet.
	GetLatest(ctx context.Context) (*domain.CampaignRun, error)
}

// PayoutStore provides access to payouts storage.
type PayoutStore interface {
	// InsertTable stores the payout table of a run atomically.
	// Returns ErrDuplicateKey if the run already has payouts.
	InsertTable(ctx context.Context, runID string, table domain.PayoutTable) error

	// GetByRun retrieves the payout table of a run, each token sorted by
	// earned DESC then address ASC. Returns ErrNotFound if the run has none.
	GetByRun(ctx context.Context, runID string) (domain.PayoutTable, error)
}

// CheckpointStore provides access to accrual_checkpoints storage.
type CheckpointStore interface {
	// InsertBulk adds checkpoints. Fails entire batch on duplicate
	// (run_id, stream, sequence).
	InsertBulk(ctx context.Context, checkpoints []*domain.AccrualCheckpoint) error

	// GetByRun retrieves checkpoints of a run ordered by stream, sequence ASC.
	GetByRun(ctx context.Context, runID string) ([]*domain.AccrualCheckpoint, error)
}

// BridgeTransferStore provides access to bridge_transfers storage.
type BridgeTransferStore interface {
	// InsertBulk adds transfers atomically. Fails entire batch on duplicate
	// (tx_hash, log_index).
	InsertBulk(ctx context.Context, transfers []*domain.BridgeTransfer) error

	// GetUpToBlock retrieves transfers with block <= maxBlock ordered by
	// block, tx_hash, log_index ASC.
	GetUpToBlock(ctx context.Context, maxBlock uint64) ([]*domain.BridgeTransfer, error)
}

// StreamArchiveStore persists the inputs of program runs so they can be
// replayed offline.
type StreamArchiveStore interface {
	// Save stores an archive atomically. Returns ErrDuplicateKey if
	// (run_id, stream) exists.
	Save(ctx context.Context, a *domain.StreamArchive) error

	// Load retrieves an archive. Returns ErrNotFound if not exists.
	Load(ctx context.Context, runID, stream string) (*domain.StreamArchive, error)

	// ListStreams returns the stream labels archived for a run, sorted ASC.
	ListStreams(ctx context.Context, runID string) ([]string, error)
}
