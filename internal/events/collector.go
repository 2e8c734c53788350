package events

import (
	"context"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"reward-distributor/internal/domain"
)

// Fetcher loads one raw sub-stream.
type Fetcher func(ctx context.Context) ([]*domain.RewardEvent, error)

// Source is a named sub-stream fetcher.
type Source struct {
	Name  string
	Fetch Fetcher
}

// Collector fetches the sub-streams of a run concurrently and merges them once
// every fetch has completed. Any fetch error aborts the collection.
type Collector struct {
	sources   []Source
	exclusion Exclusion
	logger    *slog.Logger
}

// NewCollector creates a collector. exclusion may be nil.
func NewCollector(exclusion Exclusion, logger *slog.Logger, sources ...Source) *Collector {
	if logger == nil {
		logger = slog.Default()
	}
	return &Collector{
		sources:   sources,
		exclusion: exclusion,
		logger:    logger,
	}
}

// Collect fetches, merges, filters and validates the full stream.
func (c *Collector) Collect(ctx context.Context) ([]*domain.RewardEvent, error) {
	streams := make([][]*domain.RewardEvent, len(c.sources))

	g, gctx := errgroup.WithContext(ctx)
	for i, src := range c.sources {
		g.Go(func() error {
			evts, err := src.Fetch(gctx)
			if err != nil {
				return fmt.Errorf("fetch %s events: %w", src.Name, err)
			}
			streams[i] = evts
			c.logger.Info("fetched events", "source", src.Name, "count", len(evts))
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	merged := Merge(streams...)
	filtered := FilterExcluded(merged, c.exclusion)
	if err := Validate(filtered); err != nil {
		return nil, err
	}

	c.logger.Info("merged event stream",
		"events", len(filtered),
		"excluded", len(merged)-len(filtered),
	)
	return filtered, nil
}
