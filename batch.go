// Copyright (C) 2025, Lux Industries, Inc.
// See the file LICENSE for licensing terms.

package fhevm

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// runBatch applies fn to every item concurrently with at most limit calls in
// flight (unbounded if limit < 1). Results keep input order. The first
// failure cancels the remaining calls and is returned with a nil slice, so
// no partially populated result escapes.
func runBatch[In, Out any](
	ctx context.Context,
	limit int,
	items []In,
	fn func(context.Context, In) (Out, error),
) ([]Out, error) {
	results := make([]Out, len(items))
	g, gctx := errgroup.WithContext(ctx)
	if limit > 0 {
		g.SetLimit(limit)
	}
	for i, item := range items {
		g.Go(func() error {
			out, err := fn(gctx, item)
			if err != nil {
				return err
			}
			results[i] = out
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}
