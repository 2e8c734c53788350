package events

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"reward-distributor/internal/domain"
)

// SafeModification is a raw debt/collateral change of one safe handler.
// Liquidations (confiscations) use the same shape.
type SafeModification struct {
	ID              string // "<tx>-<logIndex>"
	Handler         string
	CType           string
	DeltaDebt       decimal.Decimal
	DeltaCollateral decimal.Decimal
	Timestamp       int64
	Block           uint64
}

// SafeTransfer moves debt and collateral between two safe handlers.
type SafeTransfer struct {
	ID              string
	SrcHandler      string
	DstHandler      string
	CType           string
	DeltaDebt       decimal.Decimal
	DeltaCollateral decimal.Decimal
	Timestamp       int64
	Block           uint64
}

// DecomposeTransfer splits a transfer into a credit leg on the destination
// and a debit leg on the source.
func DecomposeTransfer(t SafeTransfer) [2]SafeModification {
	return [2]SafeModification{
		{
			ID:              t.ID,
			Handler:         t.DstHandler,
			CType:           t.CType,
			DeltaDebt:       t.DeltaDebt,
			DeltaCollateral: t.DeltaCollateral,
			Timestamp:       t.Timestamp,
			Block:           t.Block,
		},
		{
			ID:              t.ID,
			Handler:         t.SrcHandler,
			CType:           t.CType,
			DeltaDebt:       t.DeltaDebt.Neg(),
			DeltaCollateral: t.DeltaCollateral.Neg(),
			Timestamp:       t.Timestamp,
			Block:           t.Block,
		},
	}
}

// DebtEvents converts safe modifications to DELTA_DEBT events, resolving
// handlers through owners. Modifications of unmapped handlers are skipped.
func DebtEvents(mods []SafeModification, owners map[string]string) ([]*domain.RewardEvent, error) {
	out := make([]*domain.RewardEvent, 0, len(mods))
	for _, m := range mods {
		owner, ok := owners[m.Handler]
		if !ok {
			continue
		}
		logIndex, err := LogIndexFromID(m.ID)
		if err != nil {
			return nil, err
		}
		debt := m.DeltaDebt
		collateral := m.DeltaCollateral
		out = append(out, &domain.RewardEvent{
			Type:               domain.EventDeltaDebt,
			Timestamp:          m.Timestamp,
			CreatedAtBlock:     m.Block,
			LogIndex:           &logIndex,
			Address:            owner,
			CType:              m.CType,
			Value:              &debt,
			ComplementaryValue: &collateral,
			ID:                 m.ID,
		})
	}
	return out, nil
}

// LogIndexFromID extracts the log index from a "<tx>-<logIndex>" identifier.
func LogIndexFromID(id string) (int64, error) {
	parts := strings.Split(id, "-")
	if len(parts) < 2 {
		return 0, fmt.Errorf("%w: %q", ErrInvalidLogIndex, id)
	}
	n, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidLogIndex, id)
	}
	return n, nil
}
