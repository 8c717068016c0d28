package middleware

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/workbenchio/conveyor/job"
)

// tracerName is the instrumentation scope name for conveyor tracing.
const tracerName = "github.com/workbenchio/conveyor"

// Tracing returns middleware that wraps each execution attempt in an
// OpenTelemetry span. If no TracerProvider is configured globally, the
// default noop tracer is used and this middleware becomes a
// pass-through with zero overhead.
//
// Span attributes include: conveyor.job.id, conveyor.job.type,
// conveyor.tenant_id, conveyor.retry_count, conveyor.trace_id. Failure
// outcomes set the span status to codes.Error with the error message.
func Tracing() Middleware {
	tracer := otel.Tracer(tracerName)
	return TracingWithTracer(tracer)
}

// TracingWithTracer returns tracing middleware using the provided tracer.
// This variant allows injecting a specific TracerProvider for testing or
// when multiple providers are in use.
func TracingWithTracer(tracer trace.Tracer) Middleware {
	return func(ctx context.Context, j *job.Job, next Handler) job.Outcome {
		ctx, span := tracer.Start(ctx, "conveyor.job.execute",
			trace.WithAttributes(
				attribute.String("conveyor.job.id", j.ID.String()),
				attribute.String("conveyor.job.type", string(j.Type)),
				attribute.String("conveyor.tenant_id", j.TenantID),
				attribute.Int("conveyor.retry_count", j.RetryCount),
				attribute.String("conveyor.trace_id", j.TraceID),
			),
			trace.WithSpanKind(trace.SpanKindInternal),
		)
		defer span.End()

		out := next(ctx)
		switch out.Kind {
		case job.OutcomeTransient, job.OutcomePermanent:
			span.SetStatus(codes.Error, out.ErrorMessage)
			span.SetAttributes(attribute.String("conveyor.error_code", out.ErrorCode))
		default:
			span.SetStatus(codes.Ok, "")
		}

		return out
	}
}
