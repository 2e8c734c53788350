package events

import (
	"sort"

	"reward-distributor/internal/domain"
)

// SortEvents orders events by (timestamp ASC, logIndex ASC).
// The sort is stable: events sharing both keys keep their input order.
func SortEvents(events []*domain.RewardEvent) {
	sort.SliceStable(events, func(i, j int) bool {
		return compareEvents(events[i], events[j]) < 0
	})
}

// Merge concatenates sub-streams and sorts the result.
func Merge(subStreams ...[]*domain.RewardEvent) []*domain.RewardEvent {
	n := 0
	for _, s := range subStreams {
		n += len(s)
	}
	merged := make([]*domain.RewardEvent, 0, n)
	for _, s := range subStreams {
		merged = append(merged, s...)
	}
	SortEvents(merged)
	return merged
}

// compareEvents returns:
//   - negative if a < b
//   - zero if a == b
//   - positive if a > b
//
// Order: (timestamp ASC, logIndex ASC). An undefined log index sorts as 0;
// Validate rejects it afterwards.
func compareEvents(a, b *domain.RewardEvent) int {
	if a.Timestamp != b.Timestamp {
		if a.Timestamp < b.Timestamp {
			return -1
		}
		return 1
	}
	ai, bi := a.LogIndexOrZero(), b.LogIndexOrZero()
	if ai != bi {
		if ai < bi {
			return -1
		}
		return 1
	}
	return 0
}
