package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"reward-distributor/internal/domain"
	"reward-distributor/internal/storage"
)

// BridgeTransferStore implements storage.BridgeTransferStore using PostgreSQL.
type BridgeTransferStore struct {
	pool *Pool
}

// NewBridgeTransferStore creates a new BridgeTransferStore.
func NewBridgeTransferStore(pool *Pool) *BridgeTransferStore {
	return &BridgeTransferStore{pool: pool}
}

// Compile-time interface check.
var _ storage.BridgeTransferStore = (*BridgeTransferStore)(nil)

// InsertBulk adds transfers atomically. Fails entire batch on any duplicate.
func (s *BridgeTransferStore) InsertBulk(ctx context.Context, transfers []*domain.BridgeTransfer) (err error) {
	if len(transfers) == 0 {
		return nil
	}
	for _, t := range transfers {
		if t == nil || t.Amount.IsNegative() {
			return storage.ErrInvalidInput
		}
	}
	defer func(start time.Time) { observe("insert_bridge_transfers", start, err) }(time.Now())

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	query := `
		INSERT INTO bridge_transfers (tx_hash, log_index, address, c_type, block, amount)
		VALUES ($1, $2, $3, $4, $5, $6)
	`

	for _, t := range transfers {
		_, err := tx.Exec(ctx, query,
			t.TxHash,
			t.LogIndex,
			t.Address,
			t.CType,
			int64(t.Block),
			t.Amount.String(),
		)
		if err != nil {
			if isDuplicateKeyError(err) {
				return storage.ErrDuplicateKey
			}
			return fmt.Errorf("insert bridge transfer in bulk: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// GetUpToBlock retrieves transfers with block <= maxBlock.
func (s *BridgeTransferStore) GetUpToBlock(ctx context.Context, maxBlock uint64) (_ []*domain.BridgeTransfer, err error) {
	defer func(start time.Time) { observe("get_bridge_transfers", start, err) }(time.Now())

	query := `
		SELECT tx_hash, log_index, address, c_type, block, amount::text
		FROM bridge_transfers
		WHERE block <= $1
		ORDER BY block ASC, tx_hash ASC, log_index ASC
	`

	rows, err := s.pool.Query(ctx, query, int64(maxBlock))
	if err != nil {
		return nil, fmt.Errorf("get bridge transfers up to block: %w", err)
	}
	defer rows.Close()

	return scanBridgeTransfers(rows)
}

func scanBridgeTransfers(rows pgx.Rows) ([]*domain.BridgeTransfer, error) {
	var transfers []*domain.BridgeTransfer

	for rows.Next() {
		var (
			t      domain.BridgeTransfer
			block  int64
			amount string
		)
		if err := rows.Scan(&t.TxHash, &t.LogIndex, &t.Address, &t.CType, &block, &amount); err != nil {
			return nil, fmt.Errorf("scan bridge transfer row: %w", err)
		}
		var err error
		if t.Amount, err = parseNumeric("amount", amount); err != nil {
			return nil, err
		}
		t.Block = uint64(block)
		transfers = append(transfers, &t)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate bridge transfer rows: %w", err)
	}
	return transfers, nil
}
