package database

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// FanOut runs fn for every item with at most limit calls in flight and waits
// for all of them. It returns the first error; a failed sub-request fails the
// whole call. limit <= 0 means unbounded.
func FanOut[T any](ctx context.Context, limit int, items []T, fn func(ctx context.Context, item T) error) error {
	g, gctx := errgroup.WithContext(ctx)
	if limit > 0 {
		g.SetLimit(limit)
	}
	for _, item := range items {
		item := item
		g.Go(func() error {
			return fn(gctx, item)
		})
	}
	return g.Wait()
}
