package bridge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"reward-distributor/internal/domain"
	"reward-distributor/internal/storage"
)

// Source names the scanner in sync progress records.
const Source = "standard-bridge"

// TransferScanner returns bridge transfers in a block range.
type TransferScanner interface {
	Scan(ctx context.Context, from, to uint64) ([]*domain.BridgeTransfer, error)
}

// Ingester copies bridge transfers into a store, resuming from saved progress.
type Ingester struct {
	scanner    TransferScanner
	transfers  storage.BridgeTransferStore
	progress   storage.SyncProgressStore
	startBlock uint64
	chunkSize  uint64
	batchSize  int
	logger     *slog.Logger
}

// IngestOptions contains configuration for creating an Ingester.
type IngestOptions struct {
	Scanner    TransferScanner
	Transfers  storage.BridgeTransferStore
	Progress   storage.SyncProgressStore
	StartBlock uint64 // first block when no progress is saved
	ChunkSize  uint64 // blocks per scan
	BatchSize  int    // transfers per insert
	Logger     *slog.Logger
}

// NewIngester creates an Ingester.
func NewIngester(opts IngestOptions) *Ingester {
	chunkSize := opts.ChunkSize
	if chunkSize == 0 {
		chunkSize = 5000
	}
	batchSize := opts.BatchSize
	if batchSize == 0 {
		batchSize = 1000
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Ingester{
		scanner:    opts.Scanner,
		transfers:  opts.Transfers,
		progress:   opts.Progress,
		startBlock: opts.StartBlock,
		chunkSize:  chunkSize,
		batchSize:  batchSize,
		logger:     logger,
	}
}

// IngestResult contains statistics from an ingestion.
type IngestResult struct {
	FromBlock         uint64
	ToBlock           uint64
	TransfersIngested int
	DuplicatesSkipped int
	Duration          time.Duration
}

// IngestUntil scans from the block after saved progress up to head. Progress
// is saved after every chunk, so an interrupted run resumes where it stopped.
func (i *Ingester) IngestUntil(ctx context.Context, head uint64) (*IngestResult, error) {
	start := time.Now()

	from, err := i.nextBlock(ctx)
	if err != nil {
		return nil, err
	}
	result := &IngestResult{FromBlock: from, ToBlock: head}
	if from > head {
		i.logger.Info("bridge transfers up to date", "block", head)
		return result, nil
	}

	i.logger.Info("ingesting bridge transfers", "from", from, "to", head)
	for lo := from; lo <= head; lo += i.chunkSize {
		hi := lo + i.chunkSize - 1
		if hi > head {
			hi = head
		}

		transfers, err := i.scanner.Scan(ctx, lo, hi)
		if err != nil {
			return result, fmt.Errorf("scan blocks %d-%d: %w", lo, hi, err)
		}
		stored, dupes, err := i.store(ctx, transfers)
		result.TransfersIngested += stored
		result.DuplicatesSkipped += dupes
		if err != nil {
			return result, fmt.Errorf("store blocks %d-%d: %w", lo, hi, err)
		}

		if err := i.progress.SetLastSynced(ctx, &storage.SyncProgress{Source: Source, Block: hi}); err != nil {
			return result, fmt.Errorf("save progress: %w", err)
		}
		i.logger.Debug("ingested bridge chunk", "from", lo, "to", hi, "transfers", len(transfers))
	}

	result.Duration = time.Since(start)
	i.logger.Info("bridge ingestion complete",
		"transfers", result.TransfersIngested,
		"duplicates", result.DuplicatesSkipped,
		"duration", result.Duration,
	)
	return result, nil
}

func (i *Ingester) nextBlock(ctx context.Context) (uint64, error) {
	p, err := i.progress.GetLastSynced(ctx, Source)
	if errors.Is(err, storage.ErrNotFound) {
		return i.startBlock, nil
	}
	if err != nil {
		return 0, fmt.Errorf("load progress: %w", err)
	}
	return p.Block + 1, nil
}

// store inserts transfers in batches. A batch rejected for a duplicate is
// retried one transfer at a time to skip only the duplicates.
func (i *Ingester) store(ctx context.Context, transfers []*domain.BridgeTransfer) (stored, dupes int, err error) {
	for lo := 0; lo < len(transfers); lo += i.batchSize {
		hi := lo + i.batchSize
		if hi > len(transfers) {
			hi = len(transfers)
		}
		batch := transfers[lo:hi]

		err := i.transfers.InsertBulk(ctx, batch)
		if err == nil {
			stored += len(batch)
			continue
		}
		if !errors.Is(err, storage.ErrDuplicateKey) {
			return stored, dupes, err
		}
		for _, t := range batch {
			err := i.transfers.InsertBulk(ctx, []*domain.BridgeTransfer{t})
			switch {
			case err == nil:
				stored++
			case errors.Is(err, storage.ErrDuplicateKey):
				dupes++
			default:
				return stored, dupes, err
			}
		}
	}
	return stored, dupes, nil
}
