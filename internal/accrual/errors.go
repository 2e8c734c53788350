package accrual

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"reward-distributor/internal/domain"
)

var (
	// ErrUnknownEventType is returned for events the engine cannot replay.
	ErrUnknownEventType = errors.New("unknown event type")

	// ErrTickImmutable is returned when a position update changes the ticks of a known position.
	ErrTickImmutable = errors.New("tick value can't be updated")

	// ErrUnknownCollateralType is returned when a debt event references a collateral type without a rate.
	ErrUnknownCollateralType = errors.New("unknown collateral type")

	// ErrEventOutOfOrder is returned when an event is older than the replay clock.
	ErrEventOutOfOrder = errors.New("event older than replay timestamp")

	// ErrImpossibleFinalTimestamp is returned when the replay ran past the campaign end.
	ErrImpossibleFinalTimestamp = errors.New("impossible final timestamp")

	// ErrInvariantViolation is returned when an account fails a sanity check.
	ErrInvariantViolation = errors.New("invariant violation")

	// ErrInvalidConfig is returned by NewEngine for unusable run parameters.
	ErrInvalidConfig = errors.New("invalid engine config")
)

// InvariantViolation carries the offending account and event.
type InvariantViolation struct {
	Account *domain.Account // copy taken at detection time
	Event   *domain.RewardEvent
	Field   string
	Value   decimal.Decimal
}

func (v *InvariantViolation) Error() string {
	address := ""
	if v.Account != nil {
		address = v.Account.Address
	}
	return fmt.Sprintf("%s: account %s has %s = %s at event %s",
		ErrInvariantViolation, address, v.Field, v.Value.String(), v.Event)
}

func (v *InvariantViolation) Unwrap() error {
	return ErrInvariantViolation
}

// eventError wraps err with the event being replayed.
func eventError(err error, e *domain.RewardEvent) error {
	return fmt.Errorf("%w: %s", err, e)
}
