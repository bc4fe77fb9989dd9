package telemetry

import (
	"context"
	"testing"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

// setupTestTracer installs an in-memory span exporter for test assertions.
func setupTestTracer(t *testing.T) *tracetest.InMemoryExporter {
	t.Helper()
	exporter := tracetest.NewInMemoryExporter()
	tp := trace.NewTracerProvider(
		trace.WithSyncer(exporter),
	)
	otel.SetTracerProvider(tp)
	t.Cleanup(func() {
		_ = tp.Shutdown(context.Background())
	})
	return exporter
}

func TestInitTraceProviderNoopWhenEmpty(t *testing.T) {
	shutdown, err := InitTraceProvider(context.Background(), "", "test")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown error: %v", err)
	}
}

func TestStartRunSpan(t *testing.T) {
	exporter := setupTestTracer(t)

	ctx := context.Background()
	_, span := StartRunSpan(ctx, "ws-test", "run-1")
	EndRunSpan(span, "succeeded")

	spans := exporter.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("got %d spans, want 1", len(spans))
	}
	if spans[0].Name != "run.execute" {
		t.Errorf("span name = %q, want %q", spans[0].Name, "run.execute")
	}

	foundWorkspace, foundStatus := false, false
	for _, a := range spans[0].Attributes {
		if string(a.Key) == "legatorcp.workspace_id" && a.Value.AsString() == "ws-test" {
			foundWorkspace = true
		}
		if string(a.Key) == "legatorcp.run_status" && a.Value.AsString() == "succeeded" {
			foundStatus = true
		}
	}
	if !foundWorkspace {
		t.Error("missing legatorcp.workspace_id attribute")
	}
	if !foundStatus {
		t.Error("missing legatorcp.run_status attribute")
	}
}

func TestStartToolCallSpan(t *testing.T) {
	exporter := setupTestTracer(t)

	ctx := context.Background()
	_, span := StartToolCallSpan(ctx, "kubectl.get", "room-1")
	EndToolCallSpan(span, "succeeded")

	spans := exporter.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("got %d spans, want 1", len(spans))
	}
	if spans[0].Name != "agent.tool_call" {
		t.Errorf("span name = %q, want %q", spans[0].Name, "agent.tool_call")
	}
}

func TestPolicyEvalSpanBlocked(t *testing.T) {
	exporter := setupTestTracer(t)

	ctx := context.Background()
	_, span := StartPolicyEvalSpan(ctx, "egress", "http.get")
	EndPolicyEvalSpan(span, "denied")

	spans := exporter.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("got %d spans, want 1", len(spans))
	}

	found := false
	for _, a := range spans[0].Attributes {
		if string(a.Key) == "legatorcp.policy_decision" && a.Value.AsString() == "denied" {
			found = true
		}
	}
	if !found {
		t.Error("missing legatorcp.policy_decision attribute")
	}
}

func TestEgressSpanBlocked(t *testing.T) {
	exporter := setupTestTracer(t)

	ctx := context.Background()
	_, span := StartEgressSpan(ctx, "restricted", "example.com")
	EndEgressSpan(span, "blocked", true)

	spans := exporter.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("got %d spans, want 1", len(spans))
	}

	foundBlocked := false
	for _, a := range spans[0].Attributes {
		if string(a.Key) == "legatorcp.egress_blocked" && a.Value.AsBool() {
			foundBlocked = true
		}
	}
	if !foundBlocked {
		t.Error("missing legatorcp.egress_blocked attribute")
	}
}

func TestNestedSpans(t *testing.T) {
	exporter := setupTestTracer(t)

	ctx := context.Background()
	ctx, runSpan := StartRunSpan(ctx, "ws-test", "run-1")
	_, stepSpan := StartStepSpan(ctx, "run-1", "gather-evidence")
	stepSpan.End()
	runSpan.End()

	spans := exporter.GetSpans()
	if len(spans) != 2 {
		t.Fatalf("got %d spans, want 2", len(spans))
	}

	stepStub := spans[0] // step ends first
	runStub := spans[1]

	if stepStub.Parent.TraceID() != runStub.SpanContext.TraceID() {
		t.Error("step span should share trace ID with run span")
	}
	if !stepStub.Parent.SpanID().IsValid() {
		t.Error("step span should have a valid parent span ID")
	}
}
