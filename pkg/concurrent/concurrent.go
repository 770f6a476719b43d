package concurrent

import (
	"context"
	"sync"

	"golang.org/x/sync/errgroup"
)

// ForEach runs action for every element with at most limit goroutines in
// flight (unbounded when limit <= 0). The context passed to action is
// cancelled on the first error, which is returned.
func ForEach[T any](ctx context.Context, in []T, limit int, action func(context.Context, int, T) error) error {
	g, gctx := errgroup.WithContext(ctx)
	if limit > 0 {
		g.SetLimit(limit)
	}
	for i, value := range in {
		g.Go(func() error {
			return action(gctx, i, value)
		})
	}
	return g.Wait()
}

// Map applies mapFn to every element concurrently, preserving input order.
func Map[T any, R any](ctx context.Context, in []T, limit int, mapFn func(context.Context, T) (R, error)) ([]R, error) {
	out := make([]R, len(in))
	err := ForEach(ctx, in, limit, func(ctx context.Context, i int, value T) error {
		r, err := mapFn(ctx, value)
		if err != nil {
			return err
		}
		out[i] = r
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// ParallelMust runs action for every element and waits for all of them.
func ParallelMust[T any](in []T, action func(T)) {
	wg := sync.WaitGroup{}
	for _, value := range in {
		wg.Add(1)
		go func(value T) {
			defer wg.Done()
			action(value)
		}(value)
	}
	wg.Wait()
}
