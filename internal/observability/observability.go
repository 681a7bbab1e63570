// Package observability provides OpenTelemetry tracing and metrics for the
// job pipeline. With no providers configured it falls back to no-op
// implementations.
package observability

import (
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
)

// InstrumentationName identifies this module's tracer and meter.
const InstrumentationName = "github.com/kiranshivaraju/productlens"

// Attribute keys shared by spans and metrics.
const (
	AttrJobID       = "productlens.job.id"
	AttrProductName = "productlens.job.product_name"
	AttrJobStatus   = "productlens.job.status"
	AttrStage       = "productlens.stage"
	AttrReviewCount = "productlens.reviews.count"
	AttrDegraded    = "productlens.degraded"
)

func JobIDAttr(id string) attribute.KeyValue {
	return attribute.String(AttrJobID, id)
}

func StageAttr(name string) attribute.KeyValue {
	return attribute.String(AttrStage, name)
}

func StatusAttr(status string) attribute.KeyValue {
	return attribute.String(AttrJobStatus, status)
}

func ReviewCountAttr(n int) attribute.KeyValue {
	return attribute.Int(AttrReviewCount, n)
}

// Provider bundles the tracer and metrics handed to the orchestrator.
type Provider struct {
	Tracer  *Tracer
	Metrics *Metrics
}

// New builds a Provider. Nil providers are replaced with no-ops.
func New(tp trace.TracerProvider, mp metric.MeterProvider) *Provider {
	if tp == nil {
		tp = tracenoop.NewTracerProvider()
	}
	if mp == nil {
		mp = metricnoop.NewMeterProvider()
	}
	return &Provider{
		Tracer:  NewTracer(tp),
		Metrics: NewMetrics(mp),
	}
}

// Noop returns a Provider that records nothing.
func Noop() *Provider {
	return New(nil, nil)
}
