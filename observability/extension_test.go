package observability_test

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/embedded"

	"github.com/syncwell/pulse/hook"
	"github.com/syncwell/pulse/id"
	"github.com/syncwell/pulse/job"
	"github.com/syncwell/pulse/observability"
)

// countingCounter is an Int64Counter test double that records the running
// total.
type countingCounter struct {
	embedded.Int64Counter
	n atomic.Int64
}

func (c *countingCounter) Add(_ context.Context, incr int64, _ ...metric.AddOption) {
	c.n.Add(incr)
}

// counters wires a MetricsExtension entirely with countingCounter doubles.
type counters struct {
	enqueued, started, completed, failed  countingCounter
	retried, stalled, dlq, fired, skipped countingCounter
}

func newTestExtension() (*observability.MetricsExtension, *counters) {
	c := &counters{}
	e := &observability.MetricsExtension{
		JobsEnqueued:     &c.enqueued,
		JobsStarted:      &c.started,
		JobsCompleted:    &c.completed,
		JobsFailed:       &c.failed,
		JobsRetried:      &c.retried,
		JobsStalled:      &c.stalled,
		JobsDLQ:          &c.dlq,
		TemplatesFired:   &c.fired,
		TemplatesSkipped: &c.skipped,
	}
	return e, c
}

func newTestJob() *job.Job {
	return &job.Job{
		ID:    id.NewJobID(),
		Name:  "sync-account",
		Queue: "default",
	}
}

func TestMetricsExtension_Name(t *testing.T) {
	e := observability.NewMetricsExtension()
	if e.Name() != "observability-metrics" {
		t.Errorf("expected name %q, got %q", "observability-metrics", e.Name())
	}
}

func TestMetricsExtension_NoopWithoutProvider(t *testing.T) {
	// With no global MeterProvider configured the instruments are noop;
	// every hook must still run without error.
	e := observability.NewMetricsExtension()
	ctx := context.Background()
	j := newTestJob()

	if err := e.OnJobEnqueued(ctx, j); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := e.OnJobCompleted(ctx, j, 50*time.Millisecond); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestMetricsExtension_JobHooks(t *testing.T) {
	e, c := newTestExtension()
	ctx := context.Background()
	j := newTestJob()

	if err := e.OnJobEnqueued(ctx, j); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := e.OnJobStarted(ctx, j); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := e.OnJobCompleted(ctx, j, 100*time.Millisecond); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := e.OnJobFailed(ctx, j, errors.New("boom")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := e.OnJobRetrying(ctx, j, 1, time.Now().Add(time.Minute)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := e.OnJobStalled(ctx, j); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := e.OnJobDLQ(ctx, j, errors.New("terminal")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	checks := []struct {
		name string
		got  int64
	}{
		{"JobsEnqueued", c.enqueued.n.Load()},
		{"JobsStarted", c.started.n.Load()},
		{"JobsCompleted", c.completed.n.Load()},
		{"JobsFailed", c.failed.n.Load()},
		{"JobsRetried", c.retried.n.Load()},
		{"JobsStalled", c.stalled.n.Load()},
		{"JobsDLQ", c.dlq.n.Load()},
	}
	for _, check := range checks {
		if check.got != 1 {
			t.Errorf("%s: want 1, got %d", check.name, check.got)
		}
	}
}

func TestMetricsExtension_TemplateHooks(t *testing.T) {
	e, c := newTestExtension()
	ctx := context.Background()

	if err := e.OnTemplateFired(ctx, "nightly-sync", id.NewJobID()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := e.OnTemplateSkipped(ctx, "nightly-sync", time.Now()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if c.fired.n.Load() != 1 {
		t.Errorf("TemplatesFired: want 1, got %d", c.fired.n.Load())
	}
	if c.skipped.n.Load() != 1 {
		t.Errorf("TemplatesSkipped: want 1, got %d", c.skipped.n.Load())
	}
}

func TestMetricsExtension_ViaRegistry(t *testing.T) {
	e, c := newTestExtension()

	reg := hook.NewRegistry(slog.Default())
	reg.Register(e)

	ctx := context.Background()
	j := newTestJob()

	reg.EmitJobEnqueued(ctx, j)
	reg.EmitJobStarted(ctx, j)
	reg.EmitJobCompleted(ctx, j, 50*time.Millisecond)
	reg.EmitJobFailed(ctx, j, errors.New("fail"))
	reg.EmitJobRetrying(ctx, j, 1, time.Now())
	reg.EmitJobStalled(ctx, j)
	reg.EmitJobDLQ(ctx, j, errors.New("dead"))
	reg.EmitTemplateFired(ctx, "hourly-refresh", id.NewJobID())
	reg.EmitTemplateSkipped(ctx, "hourly-refresh", time.Now())

	checks := []struct {
		name string
		got  int64
	}{
		{"JobsEnqueued", c.enqueued.n.Load()},
		{"JobsStarted", c.started.n.Load()},
		{"JobsCompleted", c.completed.n.Load()},
		{"JobsFailed", c.failed.n.Load()},
		{"JobsRetried", c.retried.n.Load()},
		{"JobsStalled", c.stalled.n.Load()},
		{"JobsDLQ", c.dlq.n.Load()},
		{"TemplatesFired", c.fired.n.Load()},
		{"TemplatesSkipped", c.skipped.n.Load()},
	}
	for _, check := range checks {
		if check.got != 1 {
			t.Errorf("%s: want 1, got %d", check.name, check.got)
		}
	}
}
