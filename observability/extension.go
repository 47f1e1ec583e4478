package observability

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/syncwell/pulse/hook"
	"github.com/syncwell/pulse/id"
	"github.com/syncwell/pulse/job"
)

// meterName is the instrumentation scope name for the lifecycle counters.
const meterName = "github.com/syncwell/pulse/observability"

// Compile-time interface checks.
var (
	_ hook.Extension       = (*MetricsExtension)(nil)
	_ hook.JobEnqueued     = (*MetricsExtension)(nil)
	_ hook.JobStarted      = (*MetricsExtension)(nil)
	_ hook.JobCompleted    = (*MetricsExtension)(nil)
	_ hook.JobFailed       = (*MetricsExtension)(nil)
	_ hook.JobRetrying     = (*MetricsExtension)(nil)
	_ hook.JobStalled      = (*MetricsExtension)(nil)
	_ hook.JobDLQ          = (*MetricsExtension)(nil)
	_ hook.TemplateFired   = (*MetricsExtension)(nil)
	_ hook.TemplateSkipped = (*MetricsExtension)(nil)
)

// MetricsExtension records system-wide lifecycle counters through the OTel
// metric API. Register it as a pulse extension to automatically track
// enqueue rates, completion counts, failure rates, retries, stalls, DLQ
// entries, and schedule template firings. With no MeterProvider configured
// the instruments are noop and the extension costs nothing.
type MetricsExtension struct {
	JobsEnqueued     metric.Int64Counter
	JobsStarted      metric.Int64Counter
	JobsCompleted    metric.Int64Counter
	JobsFailed       metric.Int64Counter
	JobsRetried      metric.Int64Counter
	JobsStalled      metric.Int64Counter
	JobsDLQ          metric.Int64Counter
	TemplatesFired   metric.Int64Counter
	TemplatesSkipped metric.Int64Counter
}

// NewMetricsExtension creates a MetricsExtension using the global OTel
// MeterProvider.
func NewMetricsExtension() *MetricsExtension {
	return NewMetricsExtensionWithMeter(otel.Meter(meterName))
}

// NewMetricsExtensionWithMeter creates a MetricsExtension with the provided
// meter. Use this variant to inject a specific MeterProvider in tests.
func NewMetricsExtensionWithMeter(meter metric.Meter) *MetricsExtension {
	// On error the OTel API returns noop instruments, so the extension
	// degrades gracefully.
	counter := func(name, desc string) metric.Int64Counter {
		c, _ := meter.Int64Counter(name, metric.WithDescription(desc)) //nolint:errcheck // noop fallback guaranteed by OTel API contract
		return c
	}
	return &MetricsExtension{
		JobsEnqueued:     counter("pulse.jobs.enqueued", "Jobs accepted into the durable queue"),
		JobsStarted:      counter("pulse.jobs.started", "Job attempts started by workers"),
		JobsCompleted:    counter("pulse.jobs.completed", "Jobs finished successfully"),
		JobsFailed:       counter("pulse.jobs.failed", "Jobs failed terminally"),
		JobsRetried:      counter("pulse.jobs.retried", "Job attempts scheduled for retry"),
		JobsStalled:      counter("pulse.jobs.stalled", "Active jobs reaped after a missed heartbeat"),
		JobsDLQ:          counter("pulse.jobs.dlq", "Jobs moved to the dead letter queue"),
		TemplatesFired:   counter("pulse.templates.fired", "Schedule template firings"),
		TemplatesSkipped: counter("pulse.templates.skipped", "Firings dropped inside a maintenance window"),
	}
}

// Name implements hook.Extension.
func (m *MetricsExtension) Name() string { return "observability-metrics" }

func jobAttrs(j *job.Job) metric.AddOption {
	return metric.WithAttributes(
		attribute.String("job_name", j.Name),
		attribute.String("queue", j.Queue),
	)
}

// ── Job lifecycle hooks ─────────────────────────────

// OnJobEnqueued implements hook.JobEnqueued.
func (m *MetricsExtension) OnJobEnqueued(ctx context.Context, j *job.Job) error {
	m.JobsEnqueued.Add(ctx, 1, jobAttrs(j))
	return nil
}

// OnJobStarted implements hook.JobStarted.
func (m *MetricsExtension) OnJobStarted(ctx context.Context, j *job.Job) error {
	m.JobsStarted.Add(ctx, 1, jobAttrs(j))
	return nil
}

// OnJobCompleted implements hook.JobCompleted.
func (m *MetricsExtension) OnJobCompleted(ctx context.Context, j *job.Job, _ time.Duration) error {
	m.JobsCompleted.Add(ctx, 1, jobAttrs(j))
	return nil
}

// OnJobFailed implements hook.JobFailed.
func (m *MetricsExtension) OnJobFailed(ctx context.Context, j *job.Job, _ error) error {
	m.JobsFailed.Add(ctx, 1, jobAttrs(j))
	return nil
}

// OnJobRetrying implements hook.JobRetrying.
func (m *MetricsExtension) OnJobRetrying(ctx context.Context, j *job.Job, _ int, _ time.Time) error {
	m.JobsRetried.Add(ctx, 1, jobAttrs(j))
	return nil
}

// OnJobStalled implements hook.JobStalled.
func (m *MetricsExtension) OnJobStalled(ctx context.Context, j *job.Job) error {
	m.JobsStalled.Add(ctx, 1, jobAttrs(j))
	return nil
}

// OnJobDLQ implements hook.JobDLQ.
func (m *MetricsExtension) OnJobDLQ(ctx context.Context, j *job.Job, _ error) error {
	m.JobsDLQ.Add(ctx, 1, jobAttrs(j))
	return nil
}

// ── Scheduler lifecycle hooks ───────────────────────

// OnTemplateFired implements hook.TemplateFired.
func (m *MetricsExtension) OnTemplateFired(ctx context.Context, templateName string, _ id.JobID) error {
	m.TemplatesFired.Add(ctx, 1, metric.WithAttributes(attribute.String("template", templateName)))
	return nil
}

// OnTemplateSkipped implements hook.TemplateSkipped.
func (m *MetricsExtension) OnTemplateSkipped(ctx context.Context, templateName string, _ time.Time) error {
	m.TemplatesSkipped.Add(ctx, 1, metric.WithAttributes(attribute.String("template", templateName)))
	return nil
}
