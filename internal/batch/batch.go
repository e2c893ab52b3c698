// Package batch runs a function over items in fixed-width waves.
package batch

import (
	"context"
	"sync"
	"time"
)

type Result[R any] struct {
	Value R
	Err   error
}

// Map calls fn for every item, at most width at a time. Each wave is joined
// before the next one starts, with pause in between. Results keep the input
// order. An item error stays in its slot and does not stop the rest.
// Items not started before ctx is done get ctx.Err().
func Map[T, R any](ctx context.Context, items []T, width int, pause time.Duration, fn func(ctx context.Context, item T) (R, error)) []Result[R] {
	if width <= 0 {
		width = 1
	}
	out := make([]Result[R], len(items))

	for start := 0; start < len(items); start += width {
		if err := ctx.Err(); err != nil {
			for i := start; i < len(items); i++ {
				out[i].Err = err
			}
			return out
		}

		end := min(start+width, len(items))
		var wg sync.WaitGroup
		for i := start; i < end; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				v, err := fn(ctx, items[i])
				out[i] = Result[R]{Value: v, Err: err}
			}(i)
		}
		wg.Wait()

		if end < len(items) && pause > 0 {
			t := time.NewTimer(pause)
			select {
			case <-ctx.Done():
				t.Stop()
			case <-t.C:
			}
		}
	}
	return out
}

// Each is Map for functions that only report an error.
func Each[T any](ctx context.Context, items []T, width int, pause time.Duration, fn func(ctx context.Context, item T) error) []error {
	res := Map(ctx, items, width, pause, func(ctx context.Context, item T) (struct{}, error) {
		return struct{}{}, fn(ctx, item)
	})
	errs := make([]error, len(res))
	for i, r := range res {
		errs[i] = r.Err
	}
	return errs
}

// Chunk splits items into slices of at most size.
func Chunk[T any](items []T, size int) [][]T {
	if size <= 0 {
		size = 1
	}
	var out [][]T
	for start := 0; start < len(items); start += size {
		out = append(out, items[start:min(start+size, len(items))])
	}
	return out
}
