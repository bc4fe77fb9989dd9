// Package policy implements the Policy Gate (C5): four entrypoints sharing
// one decision shape and one ordered evaluation pipeline.
package policy

import (
	"github.com/google/uuid"
)

// Decision values.
const (
	Allow           = "allow"
	Deny            = "deny"
	RequireApproval = "require_approval"
)

// Categories the four entrypoints map onto internally.
const (
	CategoryAction     = "action"
	CategoryToolCall   = "tool_call"
	CategoryDataAccess = "data_access"
	CategoryEgress     = "egress"
)

// Request is the shared input shape across all four entrypoints.
type Request struct {
	WorkspaceID      string
	ActorType        string
	ActorID          string
	ActorPrincipalID *uuid.UUID
	Category         string

	ActionType        string // authorize_action / authorize_egress
	ToolName          string // authorize_tool_call
	ResourceLabel     string // authorize_data_access
	DataAccessMode    string // "read" | "write"
	PurposeTag        string

	Zone               string
	RoomID             string
	CapabilityTokenID  *uuid.UUID
	EgressDomain       string

	EventIDForIdempotency string
}

// Decision is the unified result shape returned by every entrypoint.
type Decision struct {
	Decision   string                 `json:"decision"`
	ReasonCode string                 `json:"reason_code"`
	Blocked    bool                   `json:"blocked"`
	ApprovalID string                 `json:"approval_id,omitempty"`
	Context    map[string]interface{} `json:"context,omitempty"`
}

func allow(reasonCode string) Decision {
	return Decision{Decision: Allow, ReasonCode: reasonCode, Blocked: false}
}

func deny(reasonCode string) Decision {
	return Decision{Decision: Deny, ReasonCode: reasonCode, Blocked: true}
}

func requireApproval(reasonCode string) Decision {
	return Decision{Decision: RequireApproval, ReasonCode: reasonCode, Blocked: false}
}

// applyEnforcementMode mirrors blocked onto the decision's true execution
// meaning: in shadow mode, negative decisions are recorded but the gate's
// consumer boundary never sees blocked=true.
func applyEnforcementMode(d Decision, enforce bool) Decision {
	if !enforce && d.Decision == Deny {
		d.Blocked = false
	}
	return d
}
