package worker_test

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/syncwell/pulse"
	"github.com/syncwell/pulse/dlq"
	"github.com/syncwell/pulse/id"
	"github.com/syncwell/pulse/job"
	"github.com/syncwell/pulse/retry"
	"github.com/syncwell/pulse/store/memory"
	"github.com/syncwell/pulse/worker"
)

type syncPayload struct {
	Account string `json:"account"`
}

func registryWith(t *testing.T, name string, handler func(ctx context.Context, p syncPayload, report job.Progress) (any, error)) *job.Registry {
	t.Helper()
	r := job.NewRegistry()
	job.RegisterDefinition(r, job.NewDefinition(name, handler))
	return r
}

func claimedJob(t *testing.T, s *memory.Store, name string, maxAttempts int) *job.Job {
	t.Helper()
	j := &job.Job{
		Entity:      pulse.NewEntity(),
		ID:          id.NewJobID(),
		Name:        name,
		Queue:       "default",
		Payload:     []byte(`{"account":"a1"}`),
		State:       job.StateWaiting,
		MaxAttempts: maxAttempts,
		RunAt:       time.Now().UTC().Add(-time.Second),
	}
	if err := s.EnqueueJob(context.Background(), j); err != nil {
		t.Fatal(err)
	}
	claimed, err := s.ClaimJobs(context.Background(), []string{"default"}, 1)
	if err != nil || len(claimed) != 1 {
		t.Fatalf("claim: %v (%d jobs)", err, len(claimed))
	}
	return claimed[0]
}

// constantPolicy keeps retry delays short and deterministic in tests.
func constantPolicy(d time.Duration) *retry.Policy {
	return retry.NewPolicy(retry.WithBackoff(retry.NewConstant(d)))
}

func TestExecute_SuccessStoresResult(t *testing.T) {
	s := memory.New()
	r := registryWith(t, "sync-account", func(_ context.Context, p syncPayload, report job.Progress) (any, error) {
		report(50)
		return map[string]string{"synced": p.Account}, nil
	})
	exec := worker.NewExecutor(s, r, constantPolicy(time.Millisecond), nil, slog.Default())

	j := claimedJob(t, s, "sync-account", 3)
	exec.Execute(context.Background(), j, id.NewWorkerID())

	got, err := s.GetJob(context.Background(), j.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.State != job.StateCompleted {
		t.Fatalf("state = %q, want completed", got.State)
	}
	if got.Attempts != 1 {
		t.Errorf("attempts = %d, want 1", got.Attempts)
	}
	if got.Progress != 100 {
		t.Errorf("progress = %d, want 100", got.Progress)
	}
	if string(got.Result) != `{"synced":"a1"}` {
		t.Errorf("result = %s, want synced payload", got.Result)
	}
	if got.CompletedAt == nil {
		t.Error("CompletedAt not set")
	}
}

func TestExecute_RetryableErrorGoesDelayed(t *testing.T) {
	s := memory.New()
	boom := pulse.Transient(errors.New("upstream 503"))
	r := registryWith(t, "sync-account", func(context.Context, syncPayload, job.Progress) (any, error) {
		return nil, boom
	})
	exec := worker.NewExecutor(s, r, constantPolicy(time.Minute), nil, slog.Default())

	j := claimedJob(t, s, "sync-account", 3)
	before := time.Now().UTC()
	exec.Execute(context.Background(), j, id.NewWorkerID())

	got, err := s.GetJob(context.Background(), j.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.State != job.StateDelayed {
		t.Fatalf("state = %q, want delayed", got.State)
	}
	if got.Attempts != 1 {
		t.Errorf("attempts = %d, want 1", got.Attempts)
	}
	if got.RunAt.Before(before.Add(50 * time.Second)) {
		t.Errorf("RunAt = %v, want about a minute out", got.RunAt)
	}
	if got.LastError == "" {
		t.Error("LastError not recorded")
	}
}

func TestExecute_ExhaustsAttemptsThenFails(t *testing.T) {
	s := memory.New()
	calls := 0
	r := registryWith(t, "sync-account", func(context.Context, syncPayload, job.Progress) (any, error) {
		calls++
		return nil, pulse.Transient(errors.New("always down"))
	})
	exec := worker.NewExecutor(s, r, constantPolicy(0), nil, slog.Default())
	ctx := context.Background()
	workerID := id.NewWorkerID()

	j := claimedJob(t, s, "sync-account", 3)
	exec.Execute(ctx, j, workerID)

	// Drive the remaining attempts: re-claim after each zero-delay retry.
	for i := 0; i < 2; i++ {
		claimed, err := s.ClaimJobs(ctx, []string{"default"}, 1)
		if err != nil || len(claimed) != 1 {
			t.Fatalf("reclaim %d: %v (%d jobs)", i, err, len(claimed))
		}
		exec.Execute(ctx, claimed[0], workerID)
	}

	got, err := s.GetJob(ctx, j.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.State != job.StateFailed {
		t.Fatalf("state = %q, want failed", got.State)
	}
	if got.Attempts != 3 {
		t.Errorf("attempts = %d, want exactly maxAttempts", got.Attempts)
	}
	if calls != 3 {
		t.Errorf("handler calls = %d, want 3", calls)
	}

	// Nothing left to claim.
	if claimed, _ := s.ClaimJobs(ctx, []string{"default"}, 1); len(claimed) != 0 {
		t.Errorf("failed job still claimable")
	}
}

func TestExecute_PermanentErrorFailsAfterOneAttempt(t *testing.T) {
	s := memory.New()
	r := registryWith(t, "sync-account", func(context.Context, syncPayload, job.Progress) (any, error) {
		return nil, pulse.Permanent(errors.New("invalid credentials"))
	})
	exec := worker.NewExecutor(s, r, constantPolicy(0), nil, slog.Default())

	j := claimedJob(t, s, "sync-account", 5)
	exec.Execute(context.Background(), j, id.NewWorkerID())

	got, err := s.GetJob(context.Background(), j.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.State != job.StateFailed {
		t.Fatalf("state = %q, want failed after one attempt", got.State)
	}
	if got.Attempts != 1 {
		t.Errorf("attempts = %d, want 1", got.Attempts)
	}
}

func TestExecute_UnregisteredHandlerFailsPermanently(t *testing.T) {
	s := memory.New()
	exec := worker.NewExecutor(s, job.NewRegistry(), constantPolicy(0), nil, slog.Default())

	j := claimedJob(t, s, "nobody-home", 3)
	exec.Execute(context.Background(), j, id.NewWorkerID())

	got, err := s.GetJob(context.Background(), j.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.State != job.StateFailed {
		t.Fatalf("state = %q, want failed", got.State)
	}
	if got.Attempts != 1 {
		t.Errorf("attempts = %d, want 1", got.Attempts)
	}
}

func TestExecute_TerminalFailureLandsInDLQ(t *testing.T) {
	s := memory.New()
	r := registryWith(t, "sync-account", func(context.Context, syncPayload, job.Progress) (any, error) {
		return nil, pulse.Permanent(errors.New("bad request"))
	})
	dlqSvc := dlq.NewService(s, s)
	exec := worker.NewExecutor(s, r, constantPolicy(0), nil, slog.Default(), worker.WithDLQ(dlqSvc))
	ctx := context.Background()

	j := claimedJob(t, s, "sync-account", 1)
	exec.Execute(ctx, j, id.NewWorkerID())

	count, err := s.CountDLQ(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if count != 1 {
		t.Fatalf("dlq count = %d, want 1", count)
	}

	entries, err := s.ListDLQ(ctx, dlq.ListOpts{})
	if err != nil {
		t.Fatal(err)
	}
	if entries[0].JobID.String() != j.ID.String() {
		t.Error("dlq entry references wrong job")
	}
	if entries[0].Error == "" {
		t.Error("dlq entry missing the terminal error")
	}
}

func TestDLQReplayCreatesFreshJob(t *testing.T) {
	s := memory.New()
	r := registryWith(t, "sync-account", func(context.Context, syncPayload, job.Progress) (any, error) {
		return nil, pulse.Permanent(errors.New("still broken"))
	})
	dlqSvc := dlq.NewService(s, s)
	exec := worker.NewExecutor(s, r, constantPolicy(0), nil, slog.Default(), worker.WithDLQ(dlqSvc))
	ctx := context.Background()

	j := claimedJob(t, s, "sync-account", 1)
	exec.Execute(ctx, j, id.NewWorkerID())

	entries, err := s.ListDLQ(ctx, dlq.ListOpts{})
	if err != nil || len(entries) != 1 {
		t.Fatalf("dlq entries: %v (%d)", err, len(entries))
	}

	replayed, err := dlqSvc.Replay(ctx, entries[0].ID)
	if err != nil {
		t.Fatalf("Replay: %v", err)
	}
	if replayed.ID.String() == j.ID.String() {
		t.Error("replayed job reused the old ID")
	}
	if replayed.State != job.StateWaiting || replayed.Attempts != 0 {
		t.Errorf("replayed job state=%q attempts=%d, want waiting/0", replayed.State, replayed.Attempts)
	}
}
