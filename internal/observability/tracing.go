package observability

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Tracer wraps an OpenTelemetry tracer with pipeline-specific span helpers.
type Tracer struct {
	tracer trace.Tracer
}

func NewTracer(tp trace.TracerProvider) *Tracer {
	return &Tracer{tracer: tp.Tracer(InstrumentationName)}
}

// StartJob starts the root span for one orchestrator run.
func (t *Tracer) StartJob(ctx context.Context, jobID, productName string) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, "productlens.job", trace.WithAttributes(
		JobIDAttr(jobID),
		attribute.String(AttrProductName, productName),
	))
}

// StartStage starts a child span around one remote stage call.
func (t *Tracer) StartStage(ctx context.Context, jobID, stage string) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, "productlens.stage."+stage, trace.WithAttributes(
		JobIDAttr(jobID),
		StageAttr(stage),
	), trace.WithSpanKind(trace.SpanKindClient))
}

// RecordError marks span as failed.
func RecordError(span trace.Span, err error) {
	if err == nil {
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}
