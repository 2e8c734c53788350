package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"reward-distributor/internal/domain"
	"reward-distributor/internal/storage"
)

// StreamArchiveStore implements storage.StreamArchiveStore using PostgreSQL.
// An archive spans run_streams, account_snapshots, lp_position_snapshots and
// reward_events.
type StreamArchiveStore struct {
	pool *Pool
}

// NewStreamArchiveStore creates a new StreamArchiveStore.
func NewStreamArchiveStore(pool *Pool) *StreamArchiveStore {
	return &StreamArchiveStore{pool: pool}
}

// Compile-time interface check.
var _ storage.StreamArchiveStore = (*StreamArchiveStore)(nil)

// Save stores an archive atomically.
func (s *StreamArchiveStore) Save(ctx context.Context, a *domain.StreamArchive) (err error) {
	if a == nil || a.RunID == "" || a.Stream == "" {
		return storage.ErrInvalidInput
	}
	defer func(start time.Time) { observe("save_stream_archive", start, err) }(time.Now())

	rates := make(map[string]string, len(a.Rates))
	for k, v := range a.Rates {
		rates[k] = v.String()
	}
	ratesJSON, err := json.Marshal(rates)
	if err != nil {
		return fmt.Errorf("marshal rates: %w", err)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `
		INSERT INTO run_streams (
			run_id, stream, program, token, c_types, start_block, end_block,
			start_timestamp, end_timestamp, reward_amount, with_bridge, rates, sqrt_price
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`,
		a.RunID, a.Stream, string(a.Program), a.Token, a.CTypes,
		int64(a.StartBlock), int64(a.EndBlock), a.StartTimestamp, a.EndTimestamp,
		a.RewardAmount.String(), a.WithBridge, string(ratesJSON), a.SqrtPrice.String(),
	)
	if err != nil {
		if isDuplicateKeyError(err) {
			return storage.ErrDuplicateKey
		}
		return fmt.Errorf("insert run stream: %w", err)
	}

	batch := &pgx.Batch{}
	for _, acc := range a.Accounts {
		batch.Queue(`
			INSERT INTO account_snapshots (
				run_id, stream, address, debt, collateral, staking_weight,
				total_bridged_tokens, used_bridged_tokens
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		`,
			a.RunID, a.Stream, acc.Address, acc.Debt.String(), acc.Collateral.String(),
			acc.StakingWeight.String(), acc.TotalBridgedTokens.String(), acc.UsedBridgedTokens.String(),
		)
		for _, p := range acc.LpPositions {
			batch.Queue(`
				INSERT INTO lp_position_snapshots (
					run_id, stream, owner, token_id, lower_tick, upper_tick, liquidity
				) VALUES ($1, $2, $3, $4, $5, $6, $7)
			`,
				a.RunID, a.Stream, acc.Address, int64(p.TokenID), p.LowerTick, p.UpperTick, p.Liquidity.String(),
			)
		}
	}
	for i, e := range a.Events {
		var tokenID, lower, upper *int64
		var liquidity *string
		if e.Position != nil {
			id := int64(e.Position.TokenID)
			tokenID, lower, upper = &id, &e.Position.LowerTick, &e.Position.UpperTick
			liquidity = nullableNumeric(&e.Position.Liquidity)
		}
		batch.Queue(`
			INSERT INTO reward_events (
				run_id, stream, seq, event_type, timestamp, block, log_index, address, c_type,
				value, complementary_value, token_id, lower_tick, upper_tick, liquidity, event_id
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
		`,
			a.RunID, a.Stream, i, string(e.Type), e.Timestamp, int64(e.CreatedAtBlock), e.LogIndex,
			e.Address, e.CType, nullableNumeric(e.Value), nullableNumeric(e.ComplementaryValue),
			tokenID, lower, upper, liquidity, e.ID,
		)
	}

	br := tx.SendBatch(ctx, batch)
	for i := 0; i < batch.Len(); i++ {
		if _, err := br.Exec(); err != nil {
			br.Close()
			if isDuplicateKeyError(err) {
				return storage.ErrDuplicateKey
			}
			return fmt.Errorf("insert archive rows: %w", err)
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

// Load retrieves an archive. Returns ErrNotFound if not exists.
func (s *StreamArchiveStore) Load(ctx context.Context, runID, stream string) (_ *domain.StreamArchive, err error) {
	defer func(start time.Time) { observe("load_stream_archive", start, err) }(time.Now())

	a := &domain.StreamArchive{RunID: runID, Stream: stream}
	var (
		program               string
		startBlock, endBlock  int64
		rewardAmount, sqrtStr string
		ratesJSON             []byte
	)
	err = s.pool.QueryRow(ctx, `
		SELECT program, token, c_types, start_block, end_block, start_timestamp, end_timestamp,
			reward_amount::text, with_bridge, rates, sqrt_price::text
		FROM run_streams
		WHERE run_id = $1 AND stream = $2
	`, runID, stream).Scan(
		&program, &a.Token, &a.CTypes, &startBlock, &endBlock, &a.StartTimestamp, &a.EndTimestamp,
		&rewardAmount, &a.WithBridge, &ratesJSON, &sqrtStr,
	)
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get run stream: %w", err)
	}
	a.Program = domain.Program(program)
	a.StartBlock, a.EndBlock = uint64(startBlock), uint64(endBlock)
	if a.RewardAmount, err = parseNumeric("reward_amount", rewardAmount); err != nil {
		return nil, err
	}
	if a.SqrtPrice, err = parseNumeric("sqrt_price", sqrtStr); err != nil {
		return nil, err
	}

	var rates map[string]string
	if err := json.Unmarshal(ratesJSON, &rates); err != nil {
		return nil, fmt.Errorf("unmarshal rates: %w", err)
	}
	a.Rates = make(domain.Rates, len(rates))
	for k, v := range rates {
		if a.Rates[k], err = parseNumeric("rates."+k, v); err != nil {
			return nil, err
		}
	}

	if a.Accounts, err = s.loadAccounts(ctx, runID, stream); err != nil {
		return nil, err
	}
	if a.Events, err = s.loadEvents(ctx, runID, stream); err != nil {
		return nil, err
	}
	return a, nil
}

// ListStreams returns the stream labels archived for a run.
func (s *StreamArchiveStore) ListStreams(ctx context.Context, runID string) ([]string, error) {
	rows, err := s.pool.Query(ctx, `SELECT stream FROM run_streams WHERE run_id = $1 ORDER BY stream ASC`, runID)
	if err != nil {
		return nil, fmt.Errorf("list run streams: %w", err)
	}
	defer rows.Close()

	var streams []string
	for rows.Next() {
		var stream string
		if err := rows.Scan(&stream); err != nil {
			return nil, fmt.Errorf("scan stream: %w", err)
		}
		streams = append(streams, stream)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate stream rows: %w", err)
	}
	return streams, nil
}

func (s *StreamArchiveStore) loadAccounts(ctx context.Context, runID, stream string) ([]*domain.Account, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT address, debt::text, collateral::text, staking_weight::text,
			total_bridged_tokens::text, used_bridged_tokens::text
		FROM account_snapshots
		WHERE run_id = $1 AND stream = $2
		ORDER BY address ASC
	`, runID, stream)
	if err != nil {
		return nil, fmt.Errorf("get account snapshots: %w", err)
	}
	defer rows.Close()

	var accounts []*domain.Account
	byAddress := make(map[string]*domain.Account)
	for rows.Next() {
		var address string
		var cols [5]string
		if err := rows.Scan(&address, &cols[0], &cols[1], &cols[2], &cols[3], &cols[4]); err != nil {
			return nil, fmt.Errorf("scan account snapshot row: %w", err)
		}
		acc := domain.NewAccount(address)
		targets := []*decimal.Decimal{
			&acc.Debt, &acc.Collateral, &acc.StakingWeight, &acc.TotalBridgedTokens, &acc.UsedBridgedTokens,
		}
		for i, dst := range targets {
			if *dst, err = parseNumeric("account_snapshots", cols[i]); err != nil {
				return nil, err
			}
		}
		accounts = append(accounts, acc)
		byAddress[address] = acc
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate account snapshot rows: %w", err)
	}
	rows.Close()

	posRows, err := s.pool.Query(ctx, `
		SELECT owner, token_id, lower_tick, upper_tick, liquidity::text
		FROM lp_position_snapshots
		WHERE run_id = $1 AND stream = $2
		ORDER BY owner ASC, token_id ASC
	`, runID, stream)
	if err != nil {
		return nil, fmt.Errorf("get lp position snapshots: %w", err)
	}
	defer posRows.Close()

	for posRows.Next() {
		var (
			owner     string
			tokenID   int64
			p         domain.LpPosition
			liquidity string
		)
		if err := posRows.Scan(&owner, &tokenID, &p.LowerTick, &p.UpperTick, &liquidity); err != nil {
			return nil, fmt.Errorf("scan lp position row: %w", err)
		}
		if p.Liquidity, err = parseNumeric("liquidity", liquidity); err != nil {
			return nil, err
		}
		p.TokenID = uint64(tokenID)
		acc, ok := byAddress[owner]
		if !ok {
			return nil, fmt.Errorf("lp position %d owned by unknown account %s", tokenID, owner)
		}
		acc.LpPositions = append(acc.LpPositions, p)
	}
	if err := posRows.Err(); err != nil {
		return nil, fmt.Errorf("iterate lp position rows: %w", err)
	}
	return accounts, nil
}

func (s *StreamArchiveStore) loadEvents(ctx context.Context, runID, stream string) ([]*domain.RewardEvent, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT event_type, timestamp, block, log_index, address, c_type,
			value::text, complementary_value::text, token_id, lower_tick, upper_tick, liquidity::text, event_id
		FROM reward_events
		WHERE run_id = $1 AND stream = $2
		ORDER BY seq ASC
	`, runID, stream)
	if err != nil {
		return nil, fmt.Errorf("get reward events: %w", err)
	}
	defer rows.Close()

	var events []*domain.RewardEvent
	for rows.Next() {
		var (
			e                     domain.RewardEvent
			eventType             string
			block                 int64
			value, compl, liq     *string
			tokenID, lower, upper *int64
		)
		err := rows.Scan(&eventType, &e.Timestamp, &block, &e.LogIndex, &e.Address, &e.CType,
			&value, &compl, &tokenID, &lower, &upper, &liq, &e.ID)
		if err != nil {
			return nil, fmt.Errorf("scan reward event row: %w", err)
		}
		e.Type = domain.EventType(eventType)
		e.CreatedAtBlock = uint64(block)
		if e.Value, err = parseNullableNumeric("value", value); err != nil {
			return nil, err
		}
		if e.ComplementaryValue, err = parseNullableNumeric("complementary_value", compl); err != nil {
			return nil, err
		}
		if tokenID != nil && lower != nil && upper != nil && liq != nil {
			l, err := parseNumeric("liquidity", *liq)
			if err != nil {
				return nil, err
			}
			e.Position = &domain.LpPosition{
				TokenID:   uint64(*tokenID),
				LowerTick: *lower,
				UpperTick: *upper,
				Liquidity: l,
			}
		}
		events = append(events, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate reward event rows: %w", err)
	}
	return events, nil
}
