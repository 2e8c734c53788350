package domain

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// EventType discriminates reward events.
type EventType string

// Event type constants.
const (
	EventDeltaDebt             EventType = "DELTA_DEBT"
	EventPoolPositionUpdate    EventType = "POOL_POSITION_UPDATE"
	EventPoolSwap              EventType = "POOL_SWAP"
	EventUpdateAccumulatedRate EventType = "UPDATE_ACCUMULATED_RATE"
)

// IsValid reports whether the type is one the engine knows how to replay.
func (t EventType) IsValid() bool {
	switch t {
	case EventDeltaDebt, EventPoolPositionUpdate, EventPoolSwap, EventUpdateAccumulatedRate:
		return true
	}
	return false
}

// RequiresAddress reports whether events of this type target one address.
// Other types are global and must not carry an address.
func (t EventType) RequiresAddress() bool {
	return t == EventDeltaDebt || t == EventPoolPositionUpdate
}

// RequiresCType reports whether events of this type are bound to a collateral type.
func (t EventType) RequiresCType() bool {
	return t == EventDeltaDebt || t == EventUpdateAccumulatedRate
}

// PositionLogIndex is the log index assigned to position snapshots, which
// carry none. It orders them after same-timestamp debt and swap events.
const PositionLogIndex int64 = 1_000_000

// RewardEvent is a state-changing event replayed by the accrual engine.
// Only one of Value or Position is set, depending on Type.
type RewardEvent struct {
	Type           EventType
	Timestamp      int64  // Unix seconds
	CreatedAtBlock uint64 // block the event was emitted in
	LogIndex       *int64 // nil when the source did not provide one

	Address  string // DELTA_DEBT and POOL_POSITION_UPDATE only
	CType    string // collateral type, debt-related events only
	Value    *decimal.Decimal
	Position *LpPosition

	// ComplementaryValue is the collateral delta accompanying a debt delta.
	ComplementaryValue *decimal.Decimal

	// ID is the source identifier, kept for diagnostics and persistence.
	ID string
}

// HasValue reports whether the payload matching the event type is defined.
func (e *RewardEvent) HasValue() bool {
	if e.Type == EventPoolPositionUpdate {
		return e.Position != nil
	}
	return e.Value != nil
}

// LogIndexOrZero returns the log index, or 0 when undefined.
func (e *RewardEvent) LogIndexOrZero() int64 {
	if e.LogIndex == nil {
		return 0
	}
	return *e.LogIndex
}

// String renders the event for error messages.
func (e *RewardEvent) String() string {
	if e == nil {
		return "<nil event>"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "{type=%s timestamp=%d block=%d", e.Type, e.Timestamp, e.CreatedAtBlock)
	if e.LogIndex != nil {
		fmt.Fprintf(&b, " logIndex=%d", *e.LogIndex)
	} else {
		b.WriteString(" logIndex=<undefined>")
	}
	if e.Address != "" {
		fmt.Fprintf(&b, " address=%s", e.Address)
	}
	if e.CType != "" {
		fmt.Fprintf(&b, " cType=%s", e.CType)
	}
	if e.Value != nil {
		fmt.Fprintf(&b, " value=%s", e.Value.String())
	}
	if e.Position != nil {
		fmt.Fprintf(&b, " position={tokenId=%d ticks=[%d,%d] liquidity=%s}",
			e.Position.TokenID, e.Position.LowerTick, e.Position.UpperTick, e.Position.Liquidity.String())
	}
	if e.ComplementaryValue != nil {
		fmt.Fprintf(&b, " complementary=%s", e.ComplementaryValue.String())
	}
	if e.ID != "" {
		fmt.Fprintf(&b, " id=%s", e.ID)
	}
	b.WriteString("}")
	return b.String()
}

// Int64Ptr returns a pointer to v. Used to build log indexes.
func Int64Ptr(v int64) *int64 {
	return &v
}

// DecimalPtr returns a pointer to v.
func DecimalPtr(v decimal.Decimal) *decimal.Decimal {
	return &v
}
