package middleware

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// tracerName is the instrumentation scope name for conduct tracing.
const tracerName = "github.com/conducthq/conduct"

// Tracing returns middleware that wraps step invocations in an
// OpenTelemetry span. If no TracerProvider is configured globally, the
// default noop tracer is used and this middleware becomes a pass-through
// with zero overhead.
//
// Span attributes include: conduct.execution.id, conduct.workflow.id,
// conduct.step.id, conduct.plugin.id, conduct.operation, conduct.attempt.
// On error, the span status is set to codes.Error with the error message.
func Tracing() Middleware {
	tracer := otel.Tracer(tracerName)
	return TracingWithTracer(tracer)
}

// TracingWithTracer returns tracing middleware using the provided tracer.
// This variant allows injecting a specific TracerProvider for testing or
// when multiple providers are in use.
func TracingWithTracer(tracer trace.Tracer) Middleware {
	return func(ctx context.Context, inv *Invocation, next Handler) error {
		ctx, span := tracer.Start(ctx, "conduct.step.invoke",
			trace.WithAttributes(
				attribute.String("conduct.execution.id", inv.ExecutionID.String()),
				attribute.String("conduct.workflow.id", inv.WorkflowID),
				attribute.String("conduct.step.id", inv.StepID),
				attribute.String("conduct.plugin.id", inv.PluginID),
				attribute.String("conduct.operation", inv.Operation),
				attribute.Int("conduct.attempt", inv.Attempt),
			),
			trace.WithSpanKind(trace.SpanKindInternal),
		)
		defer span.End()

		err := next(ctx)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		} else {
			span.SetStatus(codes.Ok, "")
		}

		return err
	}
}
