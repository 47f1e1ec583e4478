package request_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/syncwell/pulse"
	"github.com/syncwell/pulse/ratelimit"
	"github.com/syncwell/pulse/request"
)

// openStore admits everything.
type openStore struct{}

func (openStore) Consume(context.Context, string, int, time.Duration, time.Time) (ratelimit.Window, bool, error) {
	return ratelimit.Window{}, true, nil
}

func (openStore) Peek(context.Context, string, time.Duration, time.Time) (ratelimit.Window, error) {
	return ratelimit.Window{}, nil
}

// throttleStore rejects the first reject calls, advertising a fixed
// retry-after via the window's oldest entry, then admits everything.
type throttleStore struct {
	mu     sync.Mutex
	reject int
	window time.Duration
	after  time.Duration
}

func (s *throttleStore) Consume(_ context.Context, _ string, _ int, _ time.Duration, now time.Time) (ratelimit.Window, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.reject > 0 {
		s.reject--
		// oldest + window - now = after
		return ratelimit.Window{Count: 1, Oldest: now.Add(s.after - s.window)}, false, nil
	}
	return ratelimit.Window{}, true, nil
}

func (s *throttleStore) Peek(context.Context, string, time.Duration, time.Time) (ratelimit.Window, error) {
	return ratelimit.Window{}, nil
}

func openLimiter() *ratelimit.Limiter {
	return ratelimit.NewLimiter(openStore{})
}

func TestDo_ReturnsTaskResult(t *testing.T) {
	q := request.NewQueue(openLimiter(), 2)
	defer q.Close()

	got, err := q.Do(context.Background(), func(context.Context) (any, error) {
		return "synced", nil
	}, "provider-a", 0)
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	if got != "synced" {
		t.Errorf("result = %v, want %q", got, "synced")
	}
}

func TestDo_PropagatesTaskError(t *testing.T) {
	q := request.NewQueue(openLimiter(), 2)
	defer q.Close()

	boom := errors.New("upstream 500")
	_, err := q.Do(context.Background(), func(context.Context) (any, error) {
		return nil, boom
	}, "provider-a", 0)
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v, want task error", err)
	}
}

func TestEnqueue_PriorityThenFIFO(t *testing.T) {
	q := request.NewQueue(openLimiter(), 1)
	defer q.Close()

	// Occupy the single slot so later enqueues pile up in the queue.
	release := make(chan struct{})
	blocker := q.Enqueue(func(context.Context) (any, error) {
		<-release
		return nil, nil
	}, "provider-a", 0)

	var mu sync.Mutex
	var order []string
	mk := func(name string) request.Task {
		return func(context.Context) (any, error) {
			mu.Lock()
			order = append(order, name)
			mu.Unlock()
			return nil, nil
		}
	}

	// Queued while the slot is busy: low first, then two highs, then low.
	results := []<-chan request.Result{
		q.Enqueue(mk("low-1"), "provider-a", 1),
		q.Enqueue(mk("high-1"), "provider-a", 5),
		q.Enqueue(mk("high-2"), "provider-a", 5),
		q.Enqueue(mk("low-2"), "provider-a", 1),
	}

	close(release)
	<-blocker
	for _, r := range results {
		<-r
	}

	want := []string{"high-1", "high-2", "low-1", "low-2"}
	mu.Lock()
	defer mu.Unlock()
	if len(order) != len(want) {
		t.Fatalf("order = %v, want %v", order, want)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("order = %v, want %v", order, want)
		}
	}
}

func TestQueue_ConcurrencyCeiling(t *testing.T) {
	const ceiling = 3
	q := request.NewQueue(openLimiter(), ceiling)
	defer q.Close()

	var inflight, peak atomic.Int32
	release := make(chan struct{})
	var results []<-chan request.Result
	for i := 0; i < 10; i++ {
		results = append(results, q.Enqueue(func(context.Context) (any, error) {
			n := inflight.Add(1)
			for {
				p := peak.Load()
				if n <= p || peak.CompareAndSwap(p, n) {
					break
				}
			}
			<-release
			inflight.Add(-1)
			return nil, nil
		}, "provider-a", 0))
	}

	// Give the drain a moment to dispatch as much as it will.
	time.Sleep(50 * time.Millisecond)
	close(release)
	for _, r := range results {
		<-r
	}

	if got := peak.Load(); got > ceiling {
		t.Errorf("peak in-flight = %d, want <= %d", got, ceiling)
	}
}

func TestClear_RejectsQueuedButNotStarted(t *testing.T) {
	q := request.NewQueue(openLimiter(), 1)
	defer q.Close()

	release := make(chan struct{})
	started := make(chan struct{})
	blocker := q.Enqueue(func(context.Context) (any, error) {
		close(started)
		<-release
		return "done", nil
	}, "provider-a", 0)
	<-started

	queued := q.Enqueue(func(context.Context) (any, error) {
		t.Error("cleared task ran")
		return nil, nil
	}, "provider-a", 0)

	if n := q.Clear(); n != 1 {
		t.Fatalf("Clear rejected %d, want 1", n)
	}

	res := <-queued
	if !errors.Is(res.Err, pulse.ErrQueueCleared) {
		t.Fatalf("queued err = %v, want ErrQueueCleared", res.Err)
	}

	// The in-flight task is untouched.
	close(release)
	res = <-blocker
	if res.Err != nil || res.Value != "done" {
		t.Fatalf("in-flight result = %+v, want done/nil", res)
	}
}

func TestQueue_ThrottledHeadSuspendsThenDispatches(t *testing.T) {
	store := &throttleStore{reject: 1, window: time.Second, after: 60 * time.Millisecond}
	q := request.NewQueue(ratelimit.NewLimiter(store), 2)
	defer q.Close()

	start := time.Now()
	_, err := q.Do(context.Background(), func(context.Context) (any, error) {
		return nil, nil
	}, "provider-a", 0)
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	if elapsed := time.Since(start); elapsed < 50*time.Millisecond {
		t.Errorf("dispatched after %v, want the ~60ms throttle wait honored", elapsed)
	}
}

func TestQueue_ThrottleWaitIsNotAnError(t *testing.T) {
	store := &throttleStore{reject: 2, window: time.Second, after: 10 * time.Millisecond}
	q := request.NewQueue(ratelimit.NewLimiter(store), 1)
	defer q.Close()

	got, err := q.Do(context.Background(), func(context.Context) (any, error) {
		return 42, nil
	}, "provider-a", 0)
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	if got != 42 {
		t.Errorf("result = %v, want 42", got)
	}
}

func TestEnqueue_AfterCloseRejected(t *testing.T) {
	q := request.NewQueue(openLimiter(), 1)
	q.Close()

	res := <-q.Enqueue(func(context.Context) (any, error) {
		return nil, nil
	}, "provider-a", 0)
	if !errors.Is(res.Err, pulse.ErrQueueClosed) {
		t.Fatalf("err = %v, want ErrQueueClosed", res.Err)
	}
}
