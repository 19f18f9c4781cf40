// Package infra provides the bounded-concurrency fan-out primitive C8 and
// C7 use to process documents and page chunks in parallel.
package infra

import (
	"context"
	"sync"
)

// ParallelProcess processes items in parallel with bounded concurrency,
// preserving input order in the returned results/errors slices. A
// cancelled ctx stops any item that hasn't yet acquired a worker slot,
// recording ctx.Err() for it; items already running are not interrupted
// beyond whatever their processor does with ctx itself.
func ParallelProcess[T, R any](ctx context.Context, items []T, workers int, processor func(context.Context, T) (R, error)) ([]R, []error) {
	if workers <= 0 {
		workers = 1
	}
	if len(items) == 0 {
		return nil, nil
	}

	results := make([]R, len(items))
	errors := make([]error, len(items))

	sem := make(chan struct{}, workers)
	var wg sync.WaitGroup

	for i, item := range items {
		wg.Add(1)
		go func(idx int, data T) {
			defer wg.Done()

			select {
			case sem <- struct{}{}:
				defer func() { <-sem }()
			case <-ctx.Done():
				errors[idx] = ctx.Err()
				return
			}

			result, err := processor(ctx, data)
			results[idx] = result
			errors[idx] = err
		}(i, item)
	}

	wg.Wait()
	return results, errors
}
