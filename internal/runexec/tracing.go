// Tracing instrumentation for the run executor.
package runexec

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/Djtony707/TITAN/internal/store"
)

func tracer() trace.Tracer {
	return otel.Tracer("titan/runexec")
}

// startGoalSpan starts a span covering one goal execution.
func startGoalSpan(ctx context.Context, goal *store.Goal) (context.Context, trace.Span) {
	ctx, span := tracer().Start(ctx, "goal.run")
	span.SetAttributes(
		attribute.String("goal.id", goal.ID),
		attribute.String("goal.origin", goal.Origin),
	)
	return ctx, span
}

// startStepSpan starts a span covering one step invocation.
func startStepSpan(ctx context.Context, step *store.Step) (context.Context, trace.Span) {
	ctx, span := tracer().Start(ctx, "step."+step.Tool)
	span.SetAttributes(
		attribute.String("step.id", step.ID),
		attribute.Int("step.ordinal", step.Ordinal),
		attribute.String("step.class", step.Class),
	)
	return ctx, span
}

func endSpanError(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
	}
}
