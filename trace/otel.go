package trace

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	oteltrace "go.opentelemetry.io/otel/trace"
)

// Tracer opens one OTel span per stage transition so any OTel-backed
// observability stack sees the same stage timeline the DebugSink
// receives, following the resilience package's pattern of wrapping a
// bare operation with a telemetry emission layer rather than inlining
// OTel calls at every call site.
type Tracer struct {
	tracer oteltrace.Tracer
}

// NewTracer builds a Tracer backed by an in-process SDK provider. A
// real deployment would instead configure an OTLP exporter on the
// provider before passing it here; that wiring belongs to the
// (out of scope) process bootstrap, not this package.
func NewTracer(provider *sdktrace.TracerProvider) *Tracer {
	if provider == nil {
		provider = sdktrace.NewTracerProvider()
	}
	otel.SetTracerProvider(provider)
	return &Tracer{tracer: provider.Tracer("pipeline-scheduler")}
}

// StageSpan starts a span for one stage of an ExecutionContext and
// returns the func to end it; callers defer the returned func at the
// point they call ExecutionContext.Advance/Complete.
func (t *Tracer) StageSpan(ctx context.Context, ec *ExecutionContext, stage Stage) (context.Context, func()) {
	spanCtx, span := t.tracer.Start(ctx, string(stage), oteltrace.WithAttributes(
		attribute.String("execution_id", ec.ExecutionID),
		attribute.String("request_id", ec.RequestID),
		attribute.String("pipeline_id", ec.ModuleInfo.PipelineID),
	))
	return spanCtx, func() { span.End() }
}
