package verification

import (
	"context"
	"errors"

	"reward-distributor/internal/domain"
	"reward-distributor/internal/storage"
)

// ErrRunNotFound is returned when a run has no stored payouts.
var ErrRunNotFound = errors.New("run not found")

// TableReplayer recomputes the payout table of a run.
type TableReplayer interface {
	RunAll(ctx context.Context, runID string) (domain.PayoutTable, error)
}

// ReplayVerifier implements Verifier by replaying archived streams.
type ReplayVerifier struct {
	payouts  storage.PayoutStore
	replayer TableReplayer
}

// ReplayVerifierOptions contains configuration for creating a ReplayVerifier.
type ReplayVerifierOptions struct {
	Payouts  storage.PayoutStore
	Replayer TableReplayer
}

// NewReplayVerifier creates a new ReplayVerifier.
func NewReplayVerifier(opts ReplayVerifierOptions) *ReplayVerifier {
	return &ReplayVerifier{
		payouts:  opts.Payouts,
		replayer: opts.Replayer,
	}
}

var _ Verifier = (*ReplayVerifier)(nil)

// VerifyRun verifies a single run.
func (v *ReplayVerifier) VerifyRun(ctx context.Context, runID string) (*VerificationReport, error) {
	stored, err := v.payouts.GetByRun(ctx, runID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, ErrRunNotFound
		}
		return nil, err
	}

	replayed, err := v.replayer.RunAll(ctx, runID)
	if err != nil {
		return nil, err
	}

	divergences := ComparePayoutTables(stored, replayed)
	n := 0
	for _, payouts := range stored {
		n += len(payouts)
	}
	return &VerificationReport{
		RunID:         runID,
		Match:         len(divergences) == 0,
		PayoutsStored: n,
		Divergences:   divergences,
	}, nil
}
