package otel

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "clawdeck"

// StartDispatchSpan starts a span for one streamed task dispatch.
func StartDispatchSpan(ctx context.Context, instanceID, taskID string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "dispatch",
		trace.WithAttributes(
			attribute.String("instance.id", instanceID),
			attribute.String("task.id", taskID),
		),
	)
}

// StartProbeSpan starts a span for one health probe.
func StartProbeSpan(ctx context.Context, instanceID string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "health.probe",
		trace.WithAttributes(
			attribute.String("instance.id", instanceID),
		),
	)
}
