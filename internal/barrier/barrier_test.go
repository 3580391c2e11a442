package barrier

import (
	"context"
	"sync/atomic"
	"testing"
	"time"
)

// TestJoinOutOfOrderCompletions verifies results are indexed by member and the
// continuation only runs after the slowest member reports.
func TestJoinOutOfOrderCompletions(t *testing.T) {
	const n = 8
	var finished atomic.Int32

	results, timedOut := Join(context.Background(), n, Options{}, func(_ context.Context, i int) (int, bool) {
		// Earlier members finish last.
		time.Sleep(time.Duration(n-i) * 5 * time.Millisecond)
		finished.Add(1)
		return i * 10, true
	})

	if timedOut {
		t.Fatal("unexpected timeout")
	}
	if got := finished.Load(); got != n {
		t.Fatalf("continuation ran after %d/%d members", got, n)
	}
	for i, r := range results {
		if !r.OK || r.Value != i*10 {
			t.Errorf("results[%d] = %+v, want {%d true}", i, r, i*10)
		}
	}
}

func TestJoinFailedMembersDoNotBlock(t *testing.T) {
	results, _ := Join(context.Background(), 4, Options{}, func(_ context.Context, i int) (string, bool) {
		if i%2 == 1 {
			return "", false
		}
		return "ok", true
	})
	if got := Values(results); len(got) != 2 {
		t.Errorf("values = %v, want 2 successes", got)
	}
}

func TestJoinTimeoutProceedsWithResolved(t *testing.T) {
	start := time.Now()
	results, timedOut := Join(context.Background(), 3, Options{Timeout: 50 * time.Millisecond}, func(ctx context.Context, i int) (int, bool) {
		if i == 1 {
			// Never responds on its own.
			<-ctx.Done()
			time.Sleep(20 * time.Millisecond)
			return 99, true
		}
		return i, true
	})

	if !timedOut {
		t.Error("expected timedOut")
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("join took %v, want bounded by timeout", elapsed)
	}
	if results[1].OK {
		t.Errorf("late member should be discarded, got %+v", results[1])
	}
	if !results[0].OK || !results[2].OK {
		t.Errorf("resolved members lost: %+v", results)
	}
}

func TestJoinLimit(t *testing.T) {
	var running, peak atomic.Int32
	_, _ = Join(context.Background(), 10, Options{Limit: 2}, func(_ context.Context, _ int) (struct{}, bool) {
		cur := running.Add(1)
		for {
			p := peak.Load()
			if cur <= p || peak.CompareAndSwap(p, cur) {
				break
			}
		}
		time.Sleep(5 * time.Millisecond)
		running.Add(-1)
		return struct{}{}, true
	})
	if p := peak.Load(); p > 2 {
		t.Errorf("peak concurrency = %d, want <= 2", p)
	}
}

func TestJoinEmpty(t *testing.T) {
	results, timedOut := Join(context.Background(), 0, Options{}, func(context.Context, int) (int, bool) {
		t.Fatal("task should not run")
		return 0, false
	})
	if len(results) != 0 || timedOut {
		t.Errorf("got %v, %v", results, timedOut)
	}
}

func TestJoinParentCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	results, _ := Join(ctx, 2, Options{}, func(ctx context.Context, _ int) (int, bool) {
		<-ctx.Done()
		return 0, false
	})
	if len(Values(results)) != 0 {
		t.Errorf("expected no values after cancel, got %+v", results)
	}
}
