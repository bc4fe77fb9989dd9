// Package eventlog implements the append-only event store: stream sequence
// allocation, DLP redaction at write time, and SHA-256 hash chaining. It is
// the single write path every other component goes through — no table in
// this service is ever mutated outside of an event append followed by a
// projection upsert.
package eventlog

import (
	"time"

	"github.com/google/uuid"
)

// Actor types for Event.ActorType.
const (
	ActorTypeService = "service"
	ActorTypeUser    = "user"
	ActorTypeAgent   = "agent"
)

// Zone tiers for Event.Zone.
const (
	ZoneSandbox    = "sandbox"
	ZoneSupervised = "supervised"
	ZoneHighStakes = "high_stakes"
)

// Redaction levels for Event.RedactionLevel.
const (
	RedactionNone    = "none"
	RedactionPartial = "partial"
)

// Event-type constants shared across the projection engine and policy gate.
// Every event family the projector dispatches on is named here so both
// sides stay in sync.
const (
	EventRoomCreated     = "room.created"
	EventThreadCreated   = "thread.created"
	EventMessagePosted   = "message.posted"

	EventRunCreated   = "run.created"
	EventRunStarted   = "run.started"
	EventRunSucceeded = "run.succeeded"
	EventRunFailed    = "run.failed"

	EventStepCreated   = "step.created"
	EventStepCompleted = "step.completed"

	EventToolInvoked   = "tool.invoked"
	EventToolSucceeded = "tool.succeeded"
	EventToolFailed    = "tool.failed"

	EventArtifactCreated = "artifact.created"

	EventApprovalRequested = "approval.requested"
	EventApprovalDecided   = "approval.decided"

	EventIncidentOpened       = "incident.opened"
	EventIncidentRCAAttached  = "incident.rca_attached"
	EventIncidentLearningAdded = "incident.learning_added"
	EventIncidentClosed       = "incident.closed"

	EventCapabilityGranted    = "agent.capability.granted"
	EventCapabilityRevoked    = "agent.capability.revoked"
	EventDelegationAttempted  = "agent.delegation.attempted"

	EventAgentRegistered   = "agent.registered"
	EventAgentQuarantined  = "agent.quarantined"
	EventAgentUnquarantined = "agent.unquarantined"

	EventSkillPackageInstalled  = "skill.package.installed"
	EventSkillPackageVerified   = "skill.package.verified"
	EventSkillPackageQuarantined = "skill.package.quarantined"

	EventSkillAssessmentStarted = "skill.assessment.started"
	EventSkillAssessmentPassed  = "skill.assessment.passed"
	EventSkillAssessmentFailed  = "skill.assessment.failed"

	EventTrustIncreased = "trust.increased"
	EventTrustDecreased = "trust.decreased"

	EventConstraintLearned = "constraint.learned"
	EventMistakeRepeated   = "mistake.repeated"

	EventSecretLeakedDetected = "secret.leaked.detected"
	EventRedacted             = "event.redacted"

	EventPolicyDenied            = "policy.denied"
	EventPolicyRequiresApproval  = "policy.requires_approval"
	EventQuotaExceeded           = "quota.exceeded"
	EventDataAccessJustified     = "data.access.justified"
	EventDataAccessPurposeMismatch = "data.access.purpose_hint_mismatch"

	EventEgressRequested = "egress.requested"
	EventEgressAllowed   = "egress.allowed"
	EventEgressBlocked   = "egress.blocked"

	EventEvidenceManifestCreated = "evidence.manifest.created"

	EventDailyAgentSnapshot  = "daily.agent.snapshot"
	EventSurvivalRollup      = "survival.rollup"
	EventLifecycleTransition = "lifecycle.transition"

	EventAgentAutonomyApproved = "agent.autonomy.approved"
)

// Envelope carries every event field the caller supplies. The writer fills
// in recorded_at, stream_seq, prev_event_hash and event_hash.
type Envelope struct {
	EventType     string
	EventVersion  int
	OccurredAt    time.Time
	WorkspaceID   string
	MissionID     string
	RoomID        string
	ThreadID      string
	RunID         string
	StepID        string
	ActorType     string
	ActorID       string
	ActorPrincipalID *uuid.UUID
	Zone          string
	StreamType    string
	StreamID      string
	Data          map[string]interface{}
	PolicyContext map[string]interface{}
	ModelContext  map[string]interface{}
	Display       map[string]interface{}
	CorrelationID string
	CausationID   *uuid.UUID
	IdempotencyKey string
}

// Record is the persisted row as read back from evt_events.
type Record struct {
	EventID          uuid.UUID
	EventType        string
	EventVersion     int
	OccurredAt       time.Time
	RecordedAt       time.Time
	WorkspaceID      string
	MissionID        string
	RoomID           string
	ThreadID         string
	RunID            string
	StepID           string
	ActorType        string
	ActorID          string
	ActorPrincipalID *uuid.UUID
	Zone             string
	StreamType       string
	StreamID         string
	StreamSeq        int64
	RedactionLevel   string
	ContainsSecrets  bool
	Data             map[string]interface{}
	PolicyContext    map[string]interface{}
	ModelContext     map[string]interface{}
	Display          map[string]interface{}
	CorrelationID    string
	CausationID      *uuid.UUID
	IdempotencyKey   string
	PrevEventHash    string
	EventHash        string
}
