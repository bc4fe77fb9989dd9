package telemetry

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func getCounterValue(cv *prometheus.CounterVec, labels ...string) float64 {
	m := &dto.Metric{}
	if err := cv.WithLabelValues(labels...).Write(m); err != nil {
		return 0
	}
	return m.GetCounter().GetValue()
}

func getHistogramCount(hv *prometheus.HistogramVec, labels ...string) uint64 {
	m := &dto.Metric{}
	observer := hv.WithLabelValues(labels...)
	if c, ok := observer.(prometheus.Metric); ok {
		if err := c.Write(m); err != nil {
			return 0
		}
		return m.GetHistogram().GetSampleCount()
	}
	return 0
}

func TestRecordRunTerminal(t *testing.T) {
	RecordRunTerminal("ws-test", "succeeded", 42*time.Second)

	val := getCounterValue(RunsTotal, "ws-test", "succeeded")
	if val < 1 {
		t.Errorf("RunsTotal = %f, want >= 1", val)
	}

	count := getHistogramCount(RunDurationSeconds, "ws-test")
	if count < 1 {
		t.Errorf("RunDurationSeconds sample count = %d, want >= 1", count)
	}
}

func TestRecordPolicyDecision(t *testing.T) {
	RecordPolicyDecision("ws-test", "tool_call", "denied")
	RecordPolicyDecision("ws-test", "tool_call", "denied")

	val := getCounterValue(PolicyDecisionsTotal, "ws-test", "tool_call", "denied")
	if val < 2 {
		t.Errorf("PolicyDecisionsTotal = %f, want >= 2", val)
	}
}

func TestRecordToolCall(t *testing.T) {
	RecordToolCall("ws-test", "kubectl.get", "succeeded")

	val := getCounterValue(ToolCallsTotal, "ws-test", "kubectl.get", "succeeded")
	if val < 1 {
		t.Errorf("ToolCallsTotal = %f, want >= 1", val)
	}
}

func TestRecordEgressDecision(t *testing.T) {
	RecordEgressDecision("ws-test", "restricted", "blocked")

	val := getCounterValue(EgressRequestsTotal, "ws-test", "restricted", "blocked")
	if val < 1 {
		t.Errorf("EgressRequestsTotal = %f, want >= 1", val)
	}
}

func TestRecordApprovalDecision(t *testing.T) {
	RecordApprovalDecision("ws-test", "egress", "approved", 30*time.Second)

	val := getCounterValue(ApprovalsTotal, "ws-test", "egress", "approved")
	if val < 1 {
		t.Errorf("ApprovalsTotal = %f, want >= 1", val)
	}

	count := getHistogramCount(ApprovalWaitSeconds, "ws-test", "egress")
	if count < 1 {
		t.Errorf("ApprovalWaitSeconds sample count = %d, want >= 1", count)
	}
}

func TestRecordIncidentLifecycle(t *testing.T) {
	RecordIncidentOpened("ws-test", "sev2")
	RecordIncidentClosed("ws-test")

	opened := getCounterValue(IncidentsOpenTotal, "ws-test", "sev2")
	if opened < 1 {
		t.Errorf("IncidentsOpenTotal = %f, want >= 1", opened)
	}
	closed := getCounterValue(IncidentsClosedTotal, "ws-test")
	if closed < 1 {
		t.Errorf("IncidentsClosedTotal = %f, want >= 1", closed)
	}
}

func TestRecordRedaction(t *testing.T) {
	RecordRedaction("email")
	RecordRedaction("email")
	RecordRedaction("email")

	val := getCounterValue(RedactionsTotal, "email")
	if val < 3 {
		t.Errorf("RedactionsTotal = %f, want >= 3", val)
	}
}

func TestLabelIsolationAcrossWorkspaces(t *testing.T) {
	RecordRunTerminal("ws-a", "succeeded", 10*time.Second)
	RecordRunTerminal("ws-b", "failed", 5*time.Second)

	aSucceeded := getCounterValue(RunsTotal, "ws-a", "succeeded")
	bFailed := getCounterValue(RunsTotal, "ws-b", "failed")
	aFailed := getCounterValue(RunsTotal, "ws-a", "failed")

	if aSucceeded < 1 {
		t.Error("ws-a succeeded should be >= 1")
	}
	if bFailed < 1 {
		t.Error("ws-b failed should be >= 1")
	}
	if aFailed != 0 {
		t.Errorf("ws-a failed = %f, want 0", aFailed)
	}
}
