package events

import (
	"strings"

	"reward-distributor/internal/domain"
)

// Exclusion reports addresses that are permanently ineligible.
type Exclusion interface {
	Contains(address string) bool
}

// FilterExcluded drops events addressed to excluded accounts.
// Global events carry no address and are always kept.
func FilterExcluded(events []*domain.RewardEvent, exclusion Exclusion) []*domain.RewardEvent {
	if exclusion == nil {
		return events
	}
	out := events[:0:0]
	for _, e := range events {
		if e.Address != "" && exclusion.Contains(strings.ToLower(e.Address)) {
			continue
		}
		out = append(out, e)
	}
	return out
}
