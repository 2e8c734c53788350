package clickhouse

import (
	"context"
	"fmt"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"github.com/shopspring/decimal"

	"reward-distributor/internal/domain"
	"reward-distributor/internal/observability"
	"reward-distributor/internal/storage"
)

// CheckpointStore implements storage.CheckpointStore using ClickHouse.
// Decimals are stored as strings to keep the full 36-digit accumulator.
type CheckpointStore struct {
	conn *Conn
}

// NewCheckpointStore creates a new CheckpointStore.
func NewCheckpointStore(conn *Conn) *CheckpointStore {
	return &CheckpointStore{conn: conn}
}

// Compile-time interface check.
var _ storage.CheckpointStore = (*CheckpointStore)(nil)

// InsertBulk adds checkpoints. Fails entire batch on duplicate
// (run_id, stream, sequence).
func (s *CheckpointStore) InsertBulk(ctx context.Context, checkpoints []*domain.AccrualCheckpoint) (err error) {
	if len(checkpoints) == 0 {
		return nil
	}
	defer func(start time.Time) {
		observability.RecordDBQuery("clickhouse", "insert_checkpoints", time.Since(start).Seconds(), err)
	}(time.Now())

	// ReplacingMergeTree does not reject duplicates, so check both the batch
	// and the table first.
	type key struct {
		runID, stream string
		sequence      int
	}
	seen := make(map[key]struct{}, len(checkpoints))
	runs := make(map[string]struct{})
	for _, c := range checkpoints {
		if c == nil || c.Sequence < 0 {
			return storage.ErrInvalidInput
		}
		k := key{c.RunID, c.Stream, c.Sequence}
		if _, dup := seen[k]; dup {
			return storage.ErrDuplicateKey
		}
		seen[k] = struct{}{}
		runs[c.RunID] = struct{}{}
	}
	for runID := range runs {
		existing, err := s.GetByRun(ctx, runID)
		if err != nil {
			return fmt.Errorf("check exists: %w", err)
		}
		for _, c := range existing {
			if _, dup := seen[key{c.RunID, c.Stream, c.Sequence}]; dup {
				return storage.ErrDuplicateKey
			}
		}
	}

	batch, err := s.conn.PrepareBatch(ctx, `
		INSERT INTO accrual_checkpoints (
			run_id, stream, sequence, timestamp,
			reward_per_weight, total_staking_weight, total_earned, accounts
		)
	`)
	if err != nil {
		return fmt.Errorf("prepare batch: %w", err)
	}

	for _, c := range checkpoints {
		err = batch.Append(
			c.RunID, c.Stream, uint32(c.Sequence), c.Timestamp,
			c.RewardPerWeight.String(), c.TotalStakingWeight.String(), c.TotalEarned.String(),
			uint32(c.Accounts),
		)
		if err != nil {
			return fmt.Errorf("append to batch: %w", err)
		}
	}

	if err := batch.Send(); err != nil {
		return fmt.Errorf("send batch: %w", err)
	}
	return nil
}

// GetByRun retrieves checkpoints of a run ordered by stream, sequence ASC.
func (s *CheckpointStore) GetByRun(ctx context.Context, runID string) ([]*domain.AccrualCheckpoint, error) {
	query := `
		SELECT run_id, stream, sequence, timestamp,
			reward_per_weight, total_staking_weight, total_earned, accounts
		FROM accrual_checkpoints FINAL
		WHERE run_id = ?
		ORDER BY stream ASC, sequence ASC
	`

	rows, err := s.conn.Query(ctx, query, runID)
	if err != nil {
		return nil, fmt.Errorf("query checkpoints by run: %w", err)
	}
	defer rows.Close()

	return scanCheckpoints(rows)
}

func scanCheckpoints(rows driver.Rows) ([]*domain.AccrualCheckpoint, error) {
	var checkpoints []*domain.AccrualCheckpoint

	for rows.Next() {
		var (
			c                   domain.AccrualCheckpoint
			sequence, accounts  uint32
			rpw, weight, earned string
		)
		err := rows.Scan(&c.RunID, &c.Stream, &sequence, &c.Timestamp, &rpw, &weight, &earned, &accounts)
		if err != nil {
			return nil, fmt.Errorf("scan checkpoint row: %w", err)
		}

		for _, f := range []struct {
			dst *decimal.Decimal
			src string
		}{{&c.RewardPerWeight, rpw}, {&c.TotalStakingWeight, weight}, {&c.TotalEarned, earned}} {
			if *f.dst, err = decimal.NewFromString(f.src); err != nil {
				return nil, fmt.Errorf("parse checkpoint decimal %q: %w", f.src, err)
			}
		}
		c.Sequence = int(sequence)
		c.Accounts = int(accounts)
		checkpoints = append(checkpoints, &c)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate checkpoint rows: %w", err)
	}
	return checkpoints, nil
}
