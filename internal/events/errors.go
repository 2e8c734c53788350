package events

import (
	"errors"
	"fmt"

	"reward-distributor/internal/domain"
)

var (
	// ErrInconsistentEvent is returned when an event fails validation.
	ErrInconsistentEvent = errors.New("inconsistent event")

	// ErrInvalidOrdering is returned when events are not in (timestamp, logIndex) order.
	ErrInvalidOrdering = errors.New("events are not in deterministic order")

	// ErrInvalidLogIndex is returned when a source id carries no numeric log index.
	ErrInvalidLogIndex = errors.New("invalid log index")
)

// InconsistentEventError names the offending event and the failed rule.
type InconsistentEventError struct {
	Event  *domain.RewardEvent
	Reason string
}

func (e *InconsistentEventError) Error() string {
	return fmt.Sprintf("%s: %s: %s", ErrInconsistentEvent, e.Reason, e.Event)
}

func (e *InconsistentEventError) Unwrap() error {
	return ErrInconsistentEvent
}
