package request

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/syncwell/pulse"
	"github.com/syncwell/pulse/id"
	"github.com/syncwell/pulse/ratelimit"
)

// Task is one live upstream call. The context is cancelled when the queue
// shuts down.
type Task func(ctx context.Context) (any, error)

// Result carries a finished task's outcome back to the caller.
type Result struct {
	Value any
	Err   error
}

// queuedRequest never escapes the queue; callers hold only the done channel.
type queuedRequest struct {
	id         id.RequestID
	identifier string
	priority   int
	seq        uint64
	enqueuedAt time.Time
	task       Task
	done       chan Result
}

// Budget is the sliding-window allowance applied to one upstream
// identifier.
type Budget struct {
	Limit  int
	Window time.Duration
}

// Queue dispatches prioritized live calls under a concurrency ceiling,
// checking the sliding-window limiter before each dispatch. It is safe for
// concurrent use.
type Queue struct {
	limiter     *ratelimit.Limiter
	concurrency int
	budget      Budget
	budgets     map[string]Budget
	logger      *slog.Logger

	mu      sync.Mutex
	pending []*queuedRequest
	active  int
	seq     uint64
	closed  bool

	wake chan struct{}
	quit chan struct{}
	wg   sync.WaitGroup
}

// QueueOption configures a Queue.
type QueueOption func(*Queue)

// WithBudget sets the default per-identifier rate budget.
func WithBudget(b Budget) QueueOption {
	return func(q *Queue) { q.budget = b }
}

// WithIdentifierBudget overrides the rate budget for one upstream
// identifier.
func WithIdentifierBudget(identifier string, b Budget) QueueOption {
	return func(q *Queue) { q.budgets[identifier] = b }
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) QueueOption {
	return func(q *Queue) { q.logger = l }
}

// NewQueue creates a Queue and starts its drain goroutine. concurrency is
// the maximum number of simultaneously in-flight tasks; values below 1 are
// treated as 1.
func NewQueue(limiter *ratelimit.Limiter, concurrency int, opts ...QueueOption) *Queue {
	if concurrency < 1 {
		concurrency = 1
	}
	q := &Queue{
		limiter:     limiter,
		concurrency: concurrency,
		budget:      Budget{Limit: 10, Window: time.Second},
		budgets:     make(map[string]Budget),
		logger:      slog.Default(),
		wake:        make(chan struct{}, 1),
		quit:        make(chan struct{}),
	}
	for _, opt := range opts {
		opt(q)
	}
	q.wg.Add(1)
	go q.drain()
	return q
}

// Enqueue queues a task for the given upstream identifier and returns a
// channel that receives exactly one Result. Higher priority dispatches
// first; equal priorities dispatch in enqueue order.
func (q *Queue) Enqueue(task Task, identifier string, priority int) <-chan Result {
	done := make(chan Result, 1)

	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		done <- Result{Err: pulse.ErrQueueClosed}
		return done
	}
	q.seq++
	req := &queuedRequest{
		id:         id.NewRequestID(),
		identifier: identifier,
		priority:   priority,
		seq:        q.seq,
		enqueuedAt: time.Now(),
		task:       task,
		done:       done,
	}
	q.insert(req)
	q.mu.Unlock()

	q.signal()
	return done
}

// Do enqueues the task and blocks until it finishes or ctx is cancelled.
// Rate-limit waits show up as latency, not as errors.
func (q *Queue) Do(ctx context.Context, task Task, identifier string, priority int) (any, error) {
	select {
	case res := <-q.Enqueue(task, identifier, priority):
		return res.Value, res.Err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Clear rejects every queued-but-not-started request with
// pulse.ErrQueueCleared and empties the queue. In-flight tasks are not
// affected.
func (q *Queue) Clear() int {
	q.mu.Lock()
	cleared := q.pending
	q.pending = nil
	q.mu.Unlock()

	for _, req := range cleared {
		req.done <- Result{Err: pulse.ErrQueueCleared}
	}
	if len(cleared) > 0 {
		q.logger.Info("request queue cleared", slog.Int("rejected", len(cleared)))
	}
	return len(cleared)
}

// Len returns the number of queued (not yet dispatched) requests.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// Active returns the number of in-flight tasks.
func (q *Queue) Active() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.active
}

// Close stops the drain goroutine, clears queued requests, and waits for
// in-flight tasks to finish.
func (q *Queue) Close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	q.mu.Unlock()

	close(q.quit)
	q.Clear()
	q.wg.Wait()
}

// insert places the request by descending priority, after existing requests
// of the same priority. Callers hold q.mu.
func (q *Queue) insert(req *queuedRequest) {
	i := sort.Search(len(q.pending), func(i int) bool {
		return q.pending[i].priority < req.priority
	})
	q.pending = append(q.pending, nil)
	copy(q.pending[i+1:], q.pending[i:])
	q.pending[i] = req
}

// signal nudges the drain loop without blocking.
func (q *Queue) signal() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

func (q *Queue) budgetFor(identifier string) Budget {
	if b, ok := q.budgets[identifier]; ok {
		return b
	}
	return q.budget
}

// drain is the single controlling goroutine: it dispatches the head request
// whenever a concurrency slot is free and the head's rate budget admits it.
// A throttled head suspends the whole drain for the advertised retry-after.
func (q *Queue) drain() {
	defer q.wg.Done()
	ctx := context.Background()

	for {
		req, wait := q.next(ctx)

		if req != nil {
			q.dispatch(ctx, req)
			continue
		}

		if wait > 0 {
			timer := time.NewTimer(wait)
			select {
			case <-timer.C:
			case <-q.wake:
				timer.Stop()
			case <-q.quit:
				timer.Stop()
				return
			}
			continue
		}

		select {
		case <-q.wake:
		case <-q.quit:
			return
		}
	}
}

// next pops the head request if a slot is free and its budget admits it.
// A throttled head returns (nil, retryAfter); an empty queue or a full
// concurrency ceiling returns (nil, 0).
//
// When Clear races an admission, the consumed window slot is not returned
// (the window store has no un-consume), so the identifier runs one
// admission short until the window rolls over.
func (q *Queue) next(ctx context.Context) (*queuedRequest, time.Duration) {
	q.mu.Lock()
	if len(q.pending) == 0 || q.active >= q.concurrency {
		q.mu.Unlock()
		return nil, 0
	}
	head := q.pending[0]
	q.mu.Unlock()

	b := q.budgetFor(head.identifier)
	d := q.limiter.CheckAndConsume(ctx, head.identifier, b.Limit, b.Window)
	if !d.Allowed {
		q.logger.Debug("head of line throttled, suspending drain",
			slog.String("identifier", head.identifier),
			slog.Duration("retry_after", d.RetryAfter),
		)
		wait := d.RetryAfter
		if wait <= 0 {
			wait = time.Millisecond
		}
		return nil, wait
	}

	q.mu.Lock()
	// Clear may have emptied the queue while the limiter was consulted.
	if len(q.pending) == 0 || q.pending[0] != head {
		q.mu.Unlock()
		return nil, 0
	}
	q.pending = q.pending[1:]
	q.active++
	q.mu.Unlock()
	return head, 0
}

// dispatch runs the task on its own goroutine and retriggers the drain when
// it finishes.
func (q *Queue) dispatch(ctx context.Context, req *queuedRequest) {
	q.wg.Add(1)
	go func() {
		defer q.wg.Done()
		value, err := req.task(ctx)

		q.mu.Lock()
		q.active--
		q.mu.Unlock()

		req.done <- Result{Value: value, Err: err}
		q.signal()
	}()
}
