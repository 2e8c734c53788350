package postgres

import (
	"context"
	"fmt"
	"time"

	"reward-distributor/internal/domain"
	"reward-distributor/internal/storage"
)

// RunStore implements storage.RunStore using PostgreSQL.
type RunStore struct {
	pool *Pool
}

// NewRunStore creates a new RunStore.
func NewRunStore(pool *Pool) *RunStore {
	return &RunStore{pool: pool}
}

// Compile-time interface check.
var _ storage.RunStore = (*RunStore)(nil)

const runColumns = `run_id, start_block, end_block, started_at, finished_at, status, error, programs, recipients`

// Insert records a finished run. Returns ErrDuplicateKey if run_id exists.
func (s *RunStore) Insert(ctx context.Context, r *domain.CampaignRun) (err error) {
	if r == nil || r.RunID == "" {
		return storage.ErrInvalidInput
	}
	defer func(start time.Time) { observe("insert_run", start, err) }(time.Now())

	query := `INSERT INTO campaign_runs (` + runColumns + `) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

	_, err = s.pool.Exec(ctx, query,
		r.RunID,
		int64(r.StartBlock),
		int64(r.EndBlock),
		r.StartedAt,
		r.FinishedAt,
		string(r.Status),
		r.Error,
		r.Programs,
		r.Recipients,
	)
	if err != nil {
		if isDuplicateKeyError(err) {
			return storage.ErrDuplicateKey
		}
		return fmt.Errorf("insert campaign run: %w", err)
	}
	return nil
}

// GetByID retrieves a run by its ID. Returns ErrNotFound if not exists.
func (s *RunStore) GetByID(ctx context.Context, runID string) (*domain.CampaignRun, error) {
	query := `SELECT ` + runColumns + ` FROM campaign_runs WHERE run_id = $1`
	return s.getOne(ctx, "get_run", query, runID)
}

// GetLatest retrieves the most recently finished successful run.
func (s *RunStore) GetLatest(ctx context.Context) (*domain.CampaignRun, error) {
	query := `
		SELECT ` + runColumns + `
		FROM campaign_runs
		WHERE status = $1
		ORDER BY finished_at DESC, run_id DESC
		LIMIT 1
	`
	return s.getOne(ctx, "get_latest_run", query, string(domain.RunStatusSucceeded))
}

func (s *RunStore) getOne(ctx context.Context, op, query string, args ...any) (_ *domain.CampaignRun, err error) {
	defer func(start time.Time) { observe(op, start, err) }(time.Now())

	var (
		r                    domain.CampaignRun
		startBlock, endBlock int64
		status               string
	)
	err = s.pool.QueryRow(ctx, query, args...).Scan(
		&r.RunID,
		&startBlock,
		&endBlock,
		&r.StartedAt,
		&r.FinishedAt,
		&status,
		&r.Error,
		&r.Programs,
		&r.Recipients,
	)
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	r.StartBlock = uint64(startBlock)
	r.EndBlock = uint64(endBlock)
	r.Status = domain.RunStatus(status)
	return &r, nil
}
