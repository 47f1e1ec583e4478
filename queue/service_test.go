package queue_test

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/syncwell/pulse"
	"github.com/syncwell/pulse/id"
	"github.com/syncwell/pulse/job"
	"github.com/syncwell/pulse/queue"
	"github.com/syncwell/pulse/store/memory"
)

// stubStore implements job.Store with overridable function fields so each
// test wires only the calls it cares about.
type stubStore struct {
	enqueueFunc      func(ctx context.Context, j *job.Job) error
	findByDedupFunc  func(ctx context.Context, queue, dedupKey string) (*job.Job, error)
	getFunc          func(ctx context.Context, jobID id.JobID) (*job.Job, error)
	deleteBeforeFunc func(ctx context.Context, queue string, state job.State, cutoff time.Time) (int64, error)
	purgeFunc        func(ctx context.Context, state job.State, keep int) (int64, error)
	countFunc        func(ctx context.Context, opts job.CountOpts) (int64, error)
	setPausedFunc    func(ctx context.Context, queue string, paused bool) error
	pausedFunc       func(ctx context.Context, queue string) (bool, error)
}

func (s *stubStore) EnqueueJob(ctx context.Context, j *job.Job) error {
	if s.enqueueFunc != nil {
		return s.enqueueFunc(ctx, j)
	}
	return nil
}

func (s *stubStore) ClaimJobs(context.Context, []string, int) ([]*job.Job, error) {
	return nil, nil
}

func (s *stubStore) GetJob(ctx context.Context, jobID id.JobID) (*job.Job, error) {
	if s.getFunc != nil {
		return s.getFunc(ctx, jobID)
	}
	return nil, pulse.ErrJobNotFound
}

func (s *stubStore) FindByDedupKey(ctx context.Context, queue, dedupKey string) (*job.Job, error) {
	if s.findByDedupFunc != nil {
		return s.findByDedupFunc(ctx, queue, dedupKey)
	}
	return nil, pulse.ErrJobNotFound
}

func (s *stubStore) UpdateJob(context.Context, *job.Job) error { return nil }

func (s *stubStore) DeleteJob(context.Context, id.JobID) error { return nil }

func (s *stubStore) ListJobsByState(context.Context, job.State, job.ListOpts) ([]*job.Job, error) {
	return nil, nil
}

func (s *stubStore) CountJobs(ctx context.Context, opts job.CountOpts) (int64, error) {
	if s.countFunc != nil {
		return s.countFunc(ctx, opts)
	}
	return 0, nil
}

func (s *stubStore) HeartbeatJob(context.Context, id.JobID, id.WorkerID, int) error { return nil }

func (s *stubStore) ReapStaleJobs(context.Context, time.Duration) ([]*job.Job, error) {
	return nil, nil
}

func (s *stubStore) DeleteJobsBefore(ctx context.Context, queue string, state job.State, cutoff time.Time) (int64, error) {
	if s.deleteBeforeFunc != nil {
		return s.deleteBeforeFunc(ctx, queue, state, cutoff)
	}
	return 0, nil
}

func (s *stubStore) PurgeTerminal(ctx context.Context, state job.State, keep int) (int64, error) {
	if s.purgeFunc != nil {
		return s.purgeFunc(ctx, state, keep)
	}
	return 0, nil
}

func (s *stubStore) SetQueuePaused(ctx context.Context, queue string, paused bool) error {
	if s.setPausedFunc != nil {
		return s.setPausedFunc(ctx, queue, paused)
	}
	return nil
}

func (s *stubStore) QueuePaused(ctx context.Context, queue string) (bool, error) {
	if s.pausedFunc != nil {
		return s.pausedFunc(ctx, queue)
	}
	return false, nil
}

type syncPayload struct {
	Account string `json:"account"`
}

func testRegistry() *job.Registry {
	r := job.NewRegistry()
	job.RegisterDefinition(r, job.NewDefinition("sync-account",
		func(ctx context.Context, p syncPayload, report job.Progress) (any, error) {
			return nil, nil
		},
		job.WithQueue("sync"),
		job.WithMaxAttempts(5),
	))
	return r
}

func newService(t *testing.T, store job.Store, opts ...queue.ServiceOption) *queue.Service {
	t.Helper()
	return queue.NewService(store, testRegistry(), nil, slog.Default(), opts...)
}

func TestAdd_PersistsWaitingJob(t *testing.T) {
	var enqueued *job.Job
	store := &stubStore{
		enqueueFunc: func(_ context.Context, j *job.Job) error {
			enqueued = j
			return nil
		},
	}
	svc := newService(t, store)

	j, err := svc.Add(context.Background(), "sync-account", []byte(`{"account":"a1"}`))
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	if enqueued == nil {
		t.Fatal("EnqueueJob not called")
	}
	if j.State != job.StateWaiting {
		t.Errorf("State = %q, want %q", j.State, job.StateWaiting)
	}
	if j.Queue != "sync" {
		t.Errorf("Queue = %q, want registry default %q", j.Queue, "sync")
	}
	if j.MaxAttempts != 5 {
		t.Errorf("MaxAttempts = %d, want registry default 5", j.MaxAttempts)
	}
}

func TestAdd_PerCallOptionsOverrideDefaults(t *testing.T) {
	store := &stubStore{}
	svc := newService(t, store)

	j, err := svc.Add(context.Background(), "sync-account", nil,
		job.WithQueue("bulk"),
		job.WithPriority(9),
		job.WithSource("provider-a"),
	)
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	if j.Queue != "bulk" {
		t.Errorf("Queue = %q, want %q", j.Queue, "bulk")
	}
	if j.Priority != 9 {
		t.Errorf("Priority = %d, want 9", j.Priority)
	}
	if j.Source != "provider-a" {
		t.Errorf("Source = %q, want %q", j.Source, "provider-a")
	}
}

func TestAdd_UnknownNameRejected(t *testing.T) {
	svc := newService(t, &stubStore{})

	_, err := svc.Add(context.Background(), "no-such-job", nil)
	if !errors.Is(err, pulse.ErrUnknownJobName) {
		t.Fatalf("err = %v, want ErrUnknownJobName", err)
	}
}

func TestAdd_InvalidPayloadRejected(t *testing.T) {
	svc := newService(t, &stubStore{})

	_, err := svc.Add(context.Background(), "sync-account", []byte(`{"bogus":true}`))
	if !errors.Is(err, pulse.ErrInvalidPayload) {
		t.Fatalf("err = %v, want ErrInvalidPayload", err)
	}
}

func TestAdd_DedupReturnsExistingJob(t *testing.T) {
	existing := &job.Job{
		ID:       id.NewJobID(),
		Name:     "sync-account",
		Queue:    "sync",
		State:    job.StateWaiting,
		DedupKey: "acct-a1",
	}
	enqueues := 0
	store := &stubStore{
		findByDedupFunc: func(_ context.Context, q, key string) (*job.Job, error) {
			if q == "sync" && key == "acct-a1" {
				return existing, nil
			}
			return nil, pulse.ErrJobNotFound
		},
		enqueueFunc: func(context.Context, *job.Job) error {
			enqueues++
			return nil
		},
	}
	svc := newService(t, store)

	got, err := svc.Add(context.Background(), "sync-account", nil, job.WithDedupKey("acct-a1"))
	if !errors.Is(err, pulse.ErrDuplicateJob) {
		t.Fatalf("err = %v, want ErrDuplicateJob", err)
	}
	if got != existing {
		t.Error("Add did not return the existing job")
	}
	if enqueues != 0 {
		t.Errorf("EnqueueJob called %d times, want 0", enqueues)
	}
}

func TestAdd_DedupKeyFreeAfterTerminal(t *testing.T) {
	// Store finds nothing for the key (the prior holder is terminal), so a
	// new job is created.
	store := &stubStore{
		findByDedupFunc: func(context.Context, string, string) (*job.Job, error) {
			return nil, pulse.ErrJobNotFound
		},
	}
	svc := newService(t, store)

	j, err := svc.Add(context.Background(), "sync-account", nil, job.WithDedupKey("acct-a1"))
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	if j.DedupKey != "acct-a1" {
		t.Errorf("DedupKey = %q, want %q", j.DedupKey, "acct-a1")
	}
}

func TestAdd_DedupRaceSurfacesWinner(t *testing.T) {
	// The pre-enqueue lookup finds nothing, but the store rejects the insert:
	// another Add won the key in between. The winner is fetched and returned.
	winner := &job.Job{
		ID:       id.NewJobID(),
		Name:     "sync-account",
		Queue:    "sync",
		State:    job.StateWaiting,
		DedupKey: "acct-a1",
	}
	lookups := 0
	store := &stubStore{
		findByDedupFunc: func(context.Context, string, string) (*job.Job, error) {
			lookups++
			if lookups == 1 {
				return nil, pulse.ErrJobNotFound
			}
			return winner, nil
		},
		enqueueFunc: func(context.Context, *job.Job) error {
			return pulse.ErrDuplicateJob
		},
	}
	svc := newService(t, store)

	got, err := svc.Add(context.Background(), "sync-account", nil, job.WithDedupKey("acct-a1"))
	if !errors.Is(err, pulse.ErrDuplicateJob) {
		t.Fatalf("err = %v, want ErrDuplicateJob", err)
	}
	if got != winner {
		t.Error("Add did not surface the job that won the race")
	}
}

func TestAdd_ConcurrentDedupSingleWinner(t *testing.T) {
	store := memory.New()
	svc := newService(t, store)
	ctx := context.Background()

	const callers = 8
	start := make(chan struct{})
	errs := make(chan error, callers)

	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			_, err := svc.Add(ctx, "sync-account", []byte(`{"account":"a1"}`),
				job.WithDedupKey("acct-a1"))
			errs <- err
		}()
	}
	close(start)
	wg.Wait()
	close(errs)

	var won, rejected int
	for err := range errs {
		switch {
		case err == nil:
			won++
		case errors.Is(err, pulse.ErrDuplicateJob):
			rejected++
		default:
			t.Fatalf("unexpected Add error: %v", err)
		}
	}
	if won != 1 || rejected != callers-1 {
		t.Fatalf("want 1 winner and %d rejections, got %d and %d", callers-1, won, rejected)
	}

	n, err := store.CountJobs(ctx, job.CountOpts{Queue: "sync"})
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Fatalf("want exactly 1 persisted job, got %d", n)
	}
}

func TestAdd_DefaultMaxAttemptsApplied(t *testing.T) {
	// A definition that does not set its own attempt budget.
	registry := job.NewRegistry()
	job.RegisterDefinition(registry, job.NewDefinition("import-feed",
		func(ctx context.Context, p syncPayload, report job.Progress) (any, error) {
			return nil, nil
		},
	))

	tests := []struct {
		name string
		opts []queue.ServiceOption
		want int
	}{
		{"built-in default", nil, 3},
		{"configured default", []queue.ServiceOption{queue.WithDefaultMaxAttempts(7)}, 7},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := queue.NewService(&stubStore{}, registry, nil, slog.Default(), tt.opts...)
			j, err := svc.Add(context.Background(), "import-feed", []byte(`{"account":"a1"}`))
			if err != nil {
				t.Fatalf("Add: %v", err)
			}
			if j.MaxAttempts != tt.want {
				t.Errorf("MaxAttempts = %d, want %d", j.MaxAttempts, tt.want)
			}
		})
	}

	// A definition's own budget still wins over the service default.
	svc := newService(t, &stubStore{}, queue.WithDefaultMaxAttempts(7))
	j, err := svc.Add(context.Background(), "sync-account", []byte(`{"account":"a1"}`))
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	if j.MaxAttempts != 5 {
		t.Errorf("MaxAttempts = %d, want registry default 5", j.MaxAttempts)
	}
}

func TestAdd_DelaySetsDelayedStateAndRunAt(t *testing.T) {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	svc := newService(t, &stubStore{}, queue.WithNow(func() time.Time { return base }))

	j, err := svc.Add(context.Background(), "sync-account", nil, job.WithDelay(10*time.Minute))
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	if j.State != job.StateDelayed {
		t.Errorf("State = %q, want %q", j.State, job.StateDelayed)
	}
	if want := base.Add(10 * time.Minute); !j.RunAt.Equal(want) {
		t.Errorf("RunAt = %v, want %v", j.RunAt, want)
	}
}

func TestAdd_EnqueueFailureSurfaces(t *testing.T) {
	boom := errors.New("store down")
	store := &stubStore{
		enqueueFunc: func(context.Context, *job.Job) error { return boom },
	}
	svc := newService(t, store)

	_, err := svc.Add(context.Background(), "sync-account", nil)
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v, want the store error", err)
	}
}

func TestClean_RejectsNonTerminalStates(t *testing.T) {
	svc := newService(t, &stubStore{})

	for _, state := range []job.State{job.StateWaiting, job.StateDelayed, job.StateActive} {
		_, err := svc.Clean(context.Background(), "sync", state, time.Hour)
		if !errors.Is(err, pulse.ErrInvalidState) {
			t.Errorf("Clean(%q) err = %v, want ErrInvalidState", state, err)
		}
	}
}

func TestClean_ComputesCutoffFromNow(t *testing.T) {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	var gotCutoff time.Time
	store := &stubStore{
		deleteBeforeFunc: func(_ context.Context, _ string, _ job.State, cutoff time.Time) (int64, error) {
			gotCutoff = cutoff
			return 3, nil
		},
	}
	svc := newService(t, store, queue.WithNow(func() time.Time { return base }))

	n, err := svc.Clean(context.Background(), "sync", job.StateCompleted, time.Hour)
	if err != nil {
		t.Fatalf("Clean: %v", err)
	}
	if n != 3 {
		t.Errorf("removed = %d, want 3", n)
	}
	if want := base.Add(-time.Hour); !gotCutoff.Equal(want) {
		t.Errorf("cutoff = %v, want %v", gotCutoff, want)
	}
}

func TestClean_SecondRunRemovesNothing(t *testing.T) {
	calls := 0
	store := &stubStore{
		deleteBeforeFunc: func(context.Context, string, job.State, time.Time) (int64, error) {
			calls++
			if calls == 1 {
				return 5, nil
			}
			return 0, nil
		},
	}
	svc := newService(t, store)

	if n, _ := svc.Clean(context.Background(), "sync", job.StateFailed, time.Hour); n != 5 {
		t.Fatalf("first clean removed %d, want 5", n)
	}
	if n, _ := svc.Clean(context.Background(), "sync", job.StateFailed, time.Hour); n != 0 {
		t.Fatalf("second clean removed %d, want 0", n)
	}
}

func TestPauseResume(t *testing.T) {
	paused := map[string]bool{}
	store := &stubStore{
		setPausedFunc: func(_ context.Context, q string, p bool) error {
			paused[q] = p
			return nil
		},
		pausedFunc: func(_ context.Context, q string) (bool, error) {
			return paused[q], nil
		},
	}
	svc := newService(t, store)
	ctx := context.Background()

	if err := svc.Pause(ctx, "sync"); err != nil {
		t.Fatalf("Pause: %v", err)
	}
	if got, _ := svc.Paused(ctx, "sync"); !got {
		t.Error("queue not paused after Pause")
	}

	if err := svc.Resume(ctx, "sync"); err != nil {
		t.Fatalf("Resume: %v", err)
	}
	if got, _ := svc.Paused(ctx, "sync"); got {
		t.Error("queue still paused after Resume")
	}
}

func TestQueueStats(t *testing.T) {
	counts := map[job.State]int64{
		job.StateWaiting:   4,
		job.StateDelayed:   2,
		job.StateActive:    1,
		job.StateCompleted: 10,
		job.StateFailed:    3,
	}
	store := &stubStore{
		countFunc: func(_ context.Context, opts job.CountOpts) (int64, error) {
			return counts[opts.State], nil
		},
		pausedFunc: func(context.Context, string) (bool, error) { return true, nil },
	}
	svc := newService(t, store)

	st, err := svc.QueueStats(context.Background(), "sync")
	if err != nil {
		t.Fatalf("QueueStats: %v", err)
	}
	want := queue.Stats{Queue: "sync", Waiting: 4, Delayed: 2, Active: 1, Completed: 10, Failed: 3, Paused: true}
	if st != want {
		t.Errorf("stats = %+v, want %+v", st, want)
	}
}

func TestAdd_RetentionPurgeRuns(t *testing.T) {
	purged := map[job.State]int{}
	store := &stubStore{
		purgeFunc: func(_ context.Context, state job.State, keep int) (int64, error) {
			purged[state] = keep
			return 1, nil
		},
	}
	svc := newService(t, store, queue.WithRetention(50))

	if _, err := svc.Add(context.Background(), "sync-account", nil); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if purged[job.StateCompleted] != 50 || purged[job.StateFailed] != 50 {
		t.Errorf("purge keep = %v, want 50 for completed and failed", purged)
	}
}
