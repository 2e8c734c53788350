package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"reward-distributor/internal/domain"
	"reward-distributor/internal/storage"
)

// PayoutStore implements storage.PayoutStore using PostgreSQL.
type PayoutStore struct {
	pool *Pool
}

// NewPayoutStore creates a new PayoutStore.
func NewPayoutStore(pool *Pool) *PayoutStore {
	return &PayoutStore{pool: pool}
}

// Compile-time interface check.
var _ storage.PayoutStore = (*PayoutStore)(nil)

// InsertTable stores the payout table of a run atomically.
// Returns ErrDuplicateKey if the run already has payouts.
func (s *PayoutStore) InsertTable(ctx context.Context, runID string, table domain.PayoutTable) (err error) {
	if runID == "" || table == nil {
		return storage.ErrInvalidInput
	}
	defer func(start time.Time) { observe("insert_payouts", start, err) }(time.Now())

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	var existing int
	if err := tx.QueryRow(ctx, `SELECT count(*) FROM payouts WHERE run_id = $1`, runID).Scan(&existing); err != nil {
		return fmt.Errorf("count existing payouts: %w", err)
	}
	if existing > 0 {
		return storage.ErrDuplicateKey
	}

	batch := &pgx.Batch{}
	for _, token := range table.Tokens() {
		for _, p := range table[token] {
			batch.Queue(
				`INSERT INTO payouts (run_id, token, address, earned) VALUES ($1, $2, $3, $4)`,
				runID, token, p.Address, p.Earned.String(),
			)
		}
	}

	br := tx.SendBatch(ctx, batch)
	for i := 0; i < batch.Len(); i++ {
		if _, err := br.Exec(); err != nil {
			br.Close()
			if isDuplicateKeyError(err) {
				return storage.ErrDuplicateKey
			}
			return fmt.Errorf("insert payout: %w", err)
		}
	}
	if err := br.Close(); err != nil {
		return fmt.Errorf("close batch: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// GetByRun retrieves the payout table of a run.
func (s *PayoutStore) GetByRun(ctx context.Context, runID string) (_ domain.PayoutTable, err error) {
	defer func(start time.Time) { observe("get_payouts", start, err) }(time.Now())

	query := `
		SELECT token, address, earned::text
		FROM payouts
		WHERE run_id = $1
		ORDER BY token ASC, earned DESC, address ASC
	`

	rows, err := s.pool.Query(ctx, query, runID)
	if err != nil {
		return nil, fmt.Errorf("get payouts by run: %w", err)
	}
	defer rows.Close()

	table := make(domain.PayoutTable)
	for rows.Next() {
		var token, address, earned string
		if err := rows.Scan(&token, &address, &earned); err != nil {
			return nil, fmt.Errorf("scan payout row: %w", err)
		}
		amount, err := parseNumeric("earned", earned)
		if err != nil {
			return nil, err
		}
		table[token] = append(table[token], domain.Payout{Address: address, Earned: amount})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate payout rows: %w", err)
	}

	if len(table) == 0 {
		return nil, storage.ErrNotFound
	}
	return table, nil
}
