package events

import (
	"fmt"

	"reward-distributor/internal/domain"
)

// Validate checks every event of a merged stream. It returns the first
// violation as an *InconsistentEventError, or ErrInvalidOrdering when the
// stream is not sorted.
func Validate(events []*domain.RewardEvent) error {
	for i, e := range events {
		if err := ValidateEvent(e); err != nil {
			return err
		}
		if i > 0 && compareEvents(events[i-1], e) > 0 {
			return fmt.Errorf("%w: %s before %s", ErrInvalidOrdering, events[i-1], e)
		}
	}
	return nil
}

// ValidateEvent checks a single event.
func ValidateEvent(e *domain.RewardEvent) error {
	if e == nil {
		return &InconsistentEventError{Reason: "nil event"}
	}
	if e.LogIndex == nil {
		return &InconsistentEventError{Event: e, Reason: "missing log index"}
	}
	if e.Timestamp <= 0 {
		return &InconsistentEventError{Event: e, Reason: "missing timestamp"}
	}
	if !e.Type.IsValid() {
		return &InconsistentEventError{Event: e, Reason: "unknown type"}
	}
	if !e.HasValue() {
		return &InconsistentEventError{Event: e, Reason: "missing value"}
	}
	if e.Type.RequiresAddress() {
		if e.Address == "" {
			return &InconsistentEventError{Event: e, Reason: "missing address"}
		}
	} else if e.Address != "" {
		return &InconsistentEventError{Event: e, Reason: "unexpected address"}
	}
	if e.Type.RequiresCType() && e.CType == "" {
		return &InconsistentEventError{Event: e, Reason: "missing collateral type"}
	}
	return nil
}
