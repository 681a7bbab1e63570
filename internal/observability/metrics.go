package observability

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics holds the pipeline metric instruments.
type Metrics struct {
	jobsStarted   metric.Int64Counter
	jobsFinished  metric.Int64Counter
	stageDuration metric.Float64Histogram
	stageErrors   metric.Int64Counter
	degradedRuns  metric.Int64Counter
	reviewCount   metric.Int64Histogram
}

func NewMetrics(mp metric.MeterProvider) *Metrics {
	meter := mp.Meter(InstrumentationName)
	m := &Metrics{}

	// Instrument creation only fails on invalid names; fall back to a bare
	// instrument so recording never hits a nil.
	var err error

	m.jobsStarted, err = meter.Int64Counter(
		"productlens.jobs.started",
		metric.WithDescription("Orchestrator runs started"),
		metric.WithUnit("{job}"),
	)
	if err != nil {
		m.jobsStarted, _ = meter.Int64Counter("productlens.jobs.started")
	}

	m.jobsFinished, err = meter.Int64Counter(
		"productlens.jobs.finished",
		metric.WithDescription("Orchestrator runs that ended, by terminal status"),
		metric.WithUnit("{job}"),
	)
	if err != nil {
		m.jobsFinished, _ = meter.Int64Counter("productlens.jobs.finished")
	}

	m.stageDuration, err = meter.Float64Histogram(
		"productlens.stage.duration",
		metric.WithDescription("Duration of remote stage calls in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		m.stageDuration, _ = meter.Float64Histogram("productlens.stage.duration")
	}

	m.stageErrors, err = meter.Int64Counter(
		"productlens.stage.errors",
		metric.WithDescription("Failed remote stage calls"),
		metric.WithUnit("{error}"),
	)
	if err != nil {
		m.stageErrors, _ = meter.Int64Counter("productlens.stage.errors")
	}

	m.degradedRuns, err = meter.Int64Counter(
		"productlens.jobs.degraded",
		metric.WithDescription("Runs that substituted raw reviews for classified ones"),
		metric.WithUnit("{job}"),
	)
	if err != nil {
		m.degradedRuns, _ = meter.Int64Counter("productlens.jobs.degraded")
	}

	m.reviewCount, err = meter.Int64Histogram(
		"productlens.stage.reviews",
		metric.WithDescription("Reviews returned per stage"),
		metric.WithUnit("{review}"),
	)
	if err != nil {
		m.reviewCount, _ = meter.Int64Histogram("productlens.stage.reviews")
	}

	return m
}

func (m *Metrics) RecordJobStarted(ctx context.Context) {
	m.jobsStarted.Add(ctx, 1)
}

func (m *Metrics) RecordJobFinished(ctx context.Context, status string) {
	m.jobsFinished.Add(ctx, 1, metric.WithAttributes(StatusAttr(status)))
}

// RecordStage records one stage call. err may be nil.
func (m *Metrics) RecordStage(ctx context.Context, stage string, duration time.Duration, err error) {
	attrs := metric.WithAttributes(StageAttr(stage), attribute.Bool("error", err != nil))
	m.stageDuration.Record(ctx, float64(duration.Milliseconds()), attrs)
	if err != nil {
		m.stageErrors.Add(ctx, 1, metric.WithAttributes(StageAttr(stage)))
	}
}

func (m *Metrics) RecordReviews(ctx context.Context, stage string, n int) {
	m.reviewCount.Record(ctx, int64(n), metric.WithAttributes(StageAttr(stage)))
}

func (m *Metrics) RecordDegraded(ctx context.Context) {
	m.degradedRuns.Add(ctx, 1)
}
