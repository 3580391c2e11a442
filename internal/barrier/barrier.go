// Package barrier implements the counted-completion join used by the
// synchronizers: a fixed set of concurrent resolutions whose continuation
// runs only once every member has reported or the deadline has passed.
package barrier

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// Result is the outcome of one member. OK is false when the member failed,
// produced no data, or had not reported when the barrier closed.
type Result[T any] struct {
	Value T
	OK    bool
}

// Options bounds a join.
type Options struct {
	// Timeout closes the barrier with whatever has resolved. Zero waits for every member.
	Timeout time.Duration
	// Limit caps concurrently running members. Zero means unbounded.
	Limit int
}

// Task resolves member i. It should return promptly once ctx is done.
type Task[T any] func(ctx context.Context, i int) (T, bool)

// Join runs task for members 0..n-1 concurrently and blocks until all of
// them report or the timeout fires. Results are indexed by member, so the
// caller's ordering is independent of completion order. Members that report
// after the barrier closed are discarded. timedOut reports whether the
// barrier closed early.
func Join[T any](ctx context.Context, n int, opts Options, task Task[T]) (results []Result[T], timedOut bool) {
	results = make([]Result[T], n)
	if n == 0 {
		return results, false
	}

	var cancel context.CancelFunc
	if opts.Timeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
	} else {
		ctx, cancel = context.WithCancel(ctx)
	}
	defer cancel()

	var (
		mu     sync.Mutex
		sealed bool
		g      errgroup.Group
	)
	if opts.Limit > 0 {
		g.SetLimit(opts.Limit)
	}

	done := make(chan struct{})
	go func() {
		for i := range n {
			g.Go(func() error {
				v, ok := task(ctx, i)
				mu.Lock()
				if !sealed {
					results[i] = Result[T]{Value: v, OK: ok}
				}
				mu.Unlock()
				return nil
			})
		}
		_ = g.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		select {
		case <-done:
		default:
			timedOut = true
		}
	}

	mu.Lock()
	sealed = true
	out := make([]Result[T], n)
	copy(out, results)
	mu.Unlock()
	return out, timedOut
}

// Values returns the values of the successful results, in member order.
func Values[T any](results []Result[T]) []T {
	out := make([]T, 0, len(results))
	for _, r := range results {
		if r.OK {
			out = append(out, r.Value)
		}
	}
	return out
}
