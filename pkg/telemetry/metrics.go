// Package telemetry defines Prometheus metrics and OpenTelemetry tracing for
// the agent control plane.
//
// Metric naming follows Prometheus conventions:
//   - legatorcp_ prefix for all custom metrics
//   - _total suffix for counters
//   - _seconds suffix for duration histograms
package telemetry

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	// RunsTotal counts run lifecycle transitions by workspace and terminal status.
	RunsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "legatorcp_runs_total",
			Help: "Total number of runs by workspace and terminal status.",
		},
		[]string{"workspace", "status"},
	)

	// RunDurationSeconds is a histogram of run duration by workspace.
	RunDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "legatorcp_run_duration_seconds",
			Help:    "Duration of runs in seconds, from claim to terminal status.",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1200, 2400, 3600},
		},
		[]string{"workspace"},
	)

	// ActiveRuns is the number of currently leased runs.
	ActiveRuns = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "legatorcp_active_runs",
			Help: "Number of runs currently leased by a worker.",
		},
	)

	// LeaseExpiriesTotal counts runs whose lease expired without a heartbeat.
	LeaseExpiriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "legatorcp_lease_expiries_total",
			Help: "Total runs requeued after their lease expired without a heartbeat.",
		},
		[]string{"workspace"},
	)

	// PolicyDecisionsTotal counts gate evaluations by category and decision.
	PolicyDecisionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "legatorcp_policy_decisions_total",
			Help: "Total policy gate evaluations by category and decision.",
		},
		[]string{"workspace", "category", "decision"},
	)

	// ToolCallsTotal counts tool invocations by tool name and terminal status.
	ToolCallsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "legatorcp_tool_calls_total",
			Help: "Total tool calls by tool name and terminal status.",
		},
		[]string{"workspace", "tool", "status"},
	)

	// EgressRequestsTotal counts egress broker decisions by zone and decision.
	EgressRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "legatorcp_egress_requests_total",
			Help: "Total egress requests by zone and decision.",
		},
		[]string{"workspace", "zone", "decision"},
	)

	// ApprovalsTotal counts approval requests by scope and terminal decision.
	ApprovalsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "legatorcp_approvals_total",
			Help: "Total approval requests by scope and terminal decision.",
		},
		[]string{"workspace", "scope", "decision"},
	)

	// ApprovalWaitSeconds is a histogram of time from request to decision.
	ApprovalWaitSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "legatorcp_approval_wait_seconds",
			Help:    "Seconds between an approval request and its terminal decision.",
			Buckets: []float64{1, 5, 15, 30, 60, 300, 900, 3600, 14400},
		},
		[]string{"workspace", "scope"},
	)

	// IncidentsOpenTotal counts incidents opened by severity.
	IncidentsOpenTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "legatorcp_incidents_opened_total",
			Help: "Total incidents opened by severity.",
		},
		[]string{"workspace", "severity"},
	)

	// IncidentsClosedTotal counts incidents closed, all of which satisfied
	// the RCA-and-learning precondition by the time they reach this counter.
	IncidentsClosedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "legatorcp_incidents_closed_total",
			Help: "Total incidents closed after RCA and learning preconditions were met.",
		},
		[]string{"workspace"},
	)

	// RedactionsTotal counts DLP redactions applied to event payloads.
	RedactionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "legatorcp_redactions_total",
			Help: "Total DLP redactions applied by rule id.",
		},
		[]string{"rule"},
	)

	// EventAppendLatencySeconds is a histogram of event log append latency.
	EventAppendLatencySeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "legatorcp_event_append_latency_seconds",
			Help:    "Latency of event log appends, including hash-chain computation.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"stream_type"},
	)
)

func init() {
	prometheus.MustRegister(
		RunsTotal,
		RunDurationSeconds,
		ActiveRuns,
		LeaseExpiriesTotal,
		PolicyDecisionsTotal,
		ToolCallsTotal,
		EgressRequestsTotal,
		ApprovalsTotal,
		ApprovalWaitSeconds,
		IncidentsOpenTotal,
		IncidentsClosedTotal,
		RedactionsTotal,
		EventAppendLatencySeconds,
	)
}

// RecordRunTerminal records metrics for a run reaching a terminal status.
func RecordRunTerminal(workspace, status string, duration time.Duration) {
	RunsTotal.WithLabelValues(workspace, status).Inc()
	RunDurationSeconds.WithLabelValues(workspace).Observe(duration.Seconds())
}

// RecordLeaseExpiry records a single lease expiry/requeue.
func RecordLeaseExpiry(workspace string) {
	LeaseExpiriesTotal.WithLabelValues(workspace).Inc()
}

// RecordPolicyDecision records a single gate evaluation outcome.
func RecordPolicyDecision(workspace, category, decision string) {
	PolicyDecisionsTotal.WithLabelValues(workspace, category, decision).Inc()
}

// RecordToolCall records a tool call reaching a terminal status.
func RecordToolCall(workspace, tool, status string) {
	ToolCallsTotal.WithLabelValues(workspace, tool, status).Inc()
}

// RecordEgressDecision records a single egress broker decision.
func RecordEgressDecision(workspace, zone, decision string) {
	EgressRequestsTotal.WithLabelValues(workspace, zone, decision).Inc()
}

// RecordApprovalDecision records an approval reaching a terminal decision.
func RecordApprovalDecision(workspace, scope, decision string, wait time.Duration) {
	ApprovalsTotal.WithLabelValues(workspace, scope, decision).Inc()
	ApprovalWaitSeconds.WithLabelValues(workspace, scope).Observe(wait.Seconds())
}

// RecordIncidentOpened records a single incident open.
func RecordIncidentOpened(workspace, severity string) {
	IncidentsOpenTotal.WithLabelValues(workspace, severity).Inc()
}

// RecordIncidentClosed records a single incident close.
func RecordIncidentClosed(workspace string) {
	IncidentsClosedTotal.WithLabelValues(workspace).Inc()
}

// RecordRedaction records a single DLP redaction by rule id.
func RecordRedaction(rule string) {
	RedactionsTotal.WithLabelValues(rule).Inc()
}

// RecordEventAppend records the latency of a single event log append.
func RecordEventAppend(streamType string, latency time.Duration) {
	EventAppendLatencySeconds.WithLabelValues(streamType).Observe(latency.Seconds())
}
