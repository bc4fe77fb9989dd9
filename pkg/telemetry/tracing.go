package telemetry

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "legatorcp/controlplane"

// Tracer returns the package-level tracer.
func Tracer() trace.Tracer {
	return otel.Tracer(tracerName)
}

// InitTraceProvider initialises the OTel trace provider with an OTLP gRPC
// exporter. If endpoint is empty, tracing is disabled (a noop provider is
// left in place). Returns a shutdown function that must be called on
// application exit.
func InitTraceProvider(ctx context.Context, endpoint string, version string) (func(context.Context) error, error) {
	if endpoint == "" {
		return func(context.Context) error { return nil }, nil
	}

	exporter, err := otlptracegrpc.New(ctx,
		otlptracegrpc.WithEndpoint(endpoint),
		otlptracegrpc.WithInsecure(), // TLS configurable via env (OTEL_EXPORTER_OTLP_INSECURE)
	)
	if err != nil {
		return nil, fmt.Errorf("create OTLP exporter: %w", err)
	}

	res, err := resource.New(ctx,
		resource.WithHost(),
		resource.WithAttributes(
			semconv.ServiceNameKey.String("legatorcp"),
			semconv.ServiceVersionKey.String(version),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("create resource: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
	)

	otel.SetTracerProvider(tp)

	return tp.Shutdown, nil
}

// --- Span helpers ---

// StartRunSpan creates the parent span for a run, from claim through terminal status.
func StartRunSpan(ctx context.Context, workspaceID, runID string) (context.Context, trace.Span) {
	return Tracer().Start(ctx, "run.execute",
		trace.WithAttributes(
			attribute.String("legatorcp.workspace_id", workspaceID),
			attribute.String("legatorcp.run_id", runID),
		),
		trace.WithSpanKind(trace.SpanKindInternal),
	)
}

// EndRunSpan enriches the run span with its terminal status.
func EndRunSpan(span trace.Span, status string) {
	span.SetAttributes(attribute.String("legatorcp.run_status", status))
	span.End()
}

// StartStepSpan creates a child span for a single step within a run.
func StartStepSpan(ctx context.Context, runID, stepName string) (context.Context, trace.Span) {
	return Tracer().Start(ctx, "run.step",
		trace.WithAttributes(
			attribute.String("legatorcp.run_id", runID),
			attribute.String("legatorcp.step", stepName),
		),
	)
}

// StartToolCallSpan creates a child span for a tool execution.
func StartToolCallSpan(ctx context.Context, tool, roomID string) (context.Context, trace.Span) {
	return Tracer().Start(ctx, "agent.tool_call",
		trace.WithAttributes(
			attribute.String("legatorcp.tool", tool),
			attribute.String("legatorcp.room_id", roomID),
		),
		trace.WithSpanKind(trace.SpanKindClient),
	)
}

// EndToolCallSpan enriches the tool span with its terminal status.
func EndToolCallSpan(span trace.Span, status string) {
	span.SetAttributes(attribute.String("legatorcp.tool_call_status", status))
	span.End()
}

// StartPolicyEvalSpan creates a child span for a policy gate evaluation.
func StartPolicyEvalSpan(ctx context.Context, category, actionType string) (context.Context, trace.Span) {
	return Tracer().Start(ctx, "policy.evaluate",
		trace.WithAttributes(
			attribute.String("legatorcp.policy_category", category),
			attribute.String("legatorcp.action_type", actionType),
		),
	)
}

// EndPolicyEvalSpan enriches the policy span with its decision.
func EndPolicyEvalSpan(span trace.Span, decision string) {
	span.SetAttributes(attribute.String("legatorcp.policy_decision", decision))
	span.End()
}

// StartEgressSpan creates a child span for an egress broker request.
func StartEgressSpan(ctx context.Context, zone, urlOrDomain string) (context.Context, trace.Span) {
	return Tracer().Start(ctx, "egress.request",
		trace.WithAttributes(
			attribute.String("legatorcp.zone", zone),
			attribute.String("legatorcp.egress_target", urlOrDomain),
		),
		trace.WithSpanKind(trace.SpanKindClient),
	)
}

// EndEgressSpan enriches the egress span with its decision.
func EndEgressSpan(span trace.Span, decision string, blocked bool) {
	span.SetAttributes(
		attribute.String("legatorcp.egress_decision", decision),
		attribute.Bool("legatorcp.egress_blocked", blocked),
	)
	span.End()
}
