package growth

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/marcus-qen/legatorcp/pkg/eventlog"
)

// Autonomy levels (§6 POST /agents/:id/autonomy/approve).
const (
	AutonomySupervised = "supervised"
	AutonomyAutonomous = "autonomous"
)

// Agent is the proj_agents row exposed to API callers.
type Agent struct {
	AgentID       string
	WorkspaceID   string
	PrincipalID   uuid.UUID
	DisplayName   string
	Quarantined   bool
	AutonomyLevel string
}

// RegisterAgent creates the agent's projection row bound to an existing
// principal and emits agent.registered. principalID must already resolve
// (via pkg/principal) to a principal of type "agent".
func (r *Recorder) RegisterAgent(ctx context.Context, workspaceID string, principalID uuid.UUID, displayName string) (string, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return "", fmt.Errorf("begin agent registration: %w", err)
	}
	defer tx.Rollback(ctx)

	agentID := uuid.New().String()
	if _, err := tx.Exec(ctx, `
		INSERT INTO proj_agents (agent_id, workspace_id, principal_id, display_name)
		VALUES ($1, $2, $3, $4)`,
		agentID, workspaceID, principalID, displayName); err != nil {
		return "", fmt.Errorf("insert agent projection: %w", err)
	}

	if _, err := r.writer.AppendTx(ctx, tx, eventlog.Envelope{
		EventType:        eventlog.EventAgentRegistered,
		WorkspaceID:      workspaceID,
		ActorType:        eventlog.ActorTypeService,
		ActorID:          "growth",
		ActorPrincipalID: &principalID,
		StreamType:       "workspace",
		StreamID:         workspaceID,
		Data: map[string]interface{}{
			"agent_id":     agentID,
			"principal_id": principalID.String(),
			"display_name": displayName,
		},
	}); err != nil {
		return "", err
	}

	return agentID, tx.Commit(ctx)
}

// GetAgent fetches a single agent's projection row.
func (r *Recorder) GetAgent(ctx context.Context, agentID string) (*Agent, error) {
	a := &Agent{AgentID: agentID}
	var displayName *string
	err := r.pool.QueryRow(ctx, `
		SELECT workspace_id, principal_id, display_name, quarantined_at IS NOT NULL, autonomy_level
		FROM proj_agents WHERE agent_id = $1`, agentID).
		Scan(&a.WorkspaceID, &a.PrincipalID, &displayName, &a.Quarantined, &a.AutonomyLevel)
	if err != nil {
		return nil, fmt.Errorf("lookup agent: %w", err)
	}
	if displayName != nil {
		a.DisplayName = *displayName
	}
	return a, nil
}

// ListAgents lists every agent registered in a workspace.
func (r *Recorder) ListAgents(ctx context.Context, workspaceID string) ([]*Agent, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT agent_id, workspace_id, principal_id, display_name, quarantined_at IS NOT NULL, autonomy_level
		FROM proj_agents WHERE workspace_id = $1 ORDER BY created_at`, workspaceID)
	if err != nil {
		return nil, fmt.Errorf("list agents: %w", err)
	}
	defer rows.Close()

	var out []*Agent
	for rows.Next() {
		a := &Agent{}
		var displayName *string
		if err := rows.Scan(&a.AgentID, &a.WorkspaceID, &a.PrincipalID, &displayName, &a.Quarantined, &a.AutonomyLevel); err != nil {
			return nil, fmt.Errorf("scan agent row: %w", err)
		}
		if displayName != nil {
			a.DisplayName = *displayName
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// ApprovalRecommendation is the computed, read-only recommendation surfaced
// at GET /agents/:id/approval-recommendation and POST
// /agents/:id/autonomy/recommend. It never mutates state; only
// ApproveAutonomy does.
type ApprovalRecommendation struct {
	Recommendation string  `json:"recommendation"` // promote / hold / monitor
	TrustScore     float64 `json:"trust_score"`
	LifecycleState string  `json:"lifecycle_state"`
	Reason         string  `json:"reason"`
}

// thresholds for the promote/hold/monitor heuristic — not persisted,
// evaluated fresh against the latest trust score and lifecycle state.
const (
	promoteTrustFloor = 75.0
	holdTrustCeiling  = 40.0
)

// Recommend computes an approval recommendation from the agent's current
// trust score and lifecycle state, without altering either.
func (r *Recorder) Recommend(ctx context.Context, agentID string) (ApprovalRecommendation, error) {
	var score float64
	err := r.pool.QueryRow(ctx, `SELECT score FROM growth_trust_scores WHERE agent_id = $1`, agentID).Scan(&score)
	if err != nil {
		score = 0
	}

	state := LifecycleActive
	if err := r.pool.QueryRow(ctx, `SELECT state FROM growth_lifecycle_state WHERE agent_id = $1`, agentID).Scan(&state); err != nil {
		state = LifecycleActive
	}

	switch {
	case state != LifecycleActive:
		return ApprovalRecommendation{Recommendation: "hold", TrustScore: score, LifecycleState: state,
			Reason: fmt.Sprintf("agent is in %s, not eligible for autonomy promotion", state)}, nil
	case score <= holdTrustCeiling:
		return ApprovalRecommendation{Recommendation: "hold", TrustScore: score, LifecycleState: state,
			Reason: "trust score at or below hold ceiling"}, nil
	case score >= promoteTrustFloor:
		return ApprovalRecommendation{Recommendation: "promote", TrustScore: score, LifecycleState: state,
			Reason: "trust score at or above promote floor while active"}, nil
	default:
		return ApprovalRecommendation{Recommendation: "monitor", TrustScore: score, LifecycleState: state,
			Reason: "trust score between hold and promote thresholds"}, nil
	}
}

// ApproveAutonomy is the operator-driven action that raises an agent's
// autonomy level, emitting agent.autonomy.approved. It does not itself
// enforce the Recommend heuristic — that is advisory, surfaced to the
// operator deciding whether to call this.
func (r *Recorder) ApproveAutonomy(ctx context.Context, workspaceID, agentID, approvedBy string) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin autonomy approval: %w", err)
	}
	defer tx.Rollback(ctx)

	var principalID uuid.UUID
	if _, err := tx.Exec(ctx, `
		UPDATE proj_agents
		SET autonomy_level = $2, autonomy_approved_at = now(), autonomy_approved_by = $3, updated_at = now()
		WHERE agent_id = $1`,
		agentID, AutonomyAutonomous, approvedBy); err != nil {
		return fmt.Errorf("approve autonomy: %w", err)
	}
	if err := tx.QueryRow(ctx, `SELECT principal_id FROM proj_agents WHERE agent_id = $1`, agentID).Scan(&principalID); err != nil {
		return fmt.Errorf("lookup agent principal: %w", err)
	}

	if _, err := r.writer.AppendTx(ctx, tx, eventlog.Envelope{
		EventType:        eventlog.EventAgentAutonomyApproved,
		WorkspaceID:      workspaceID,
		ActorType:        eventlog.ActorTypeUser,
		ActorID:          approvedBy,
		ActorPrincipalID: &principalID,
		StreamType:       "workspace",
		StreamID:         workspaceID,
		Data: map[string]interface{}{
			"agent_id":    agentID,
			"approved_by": approvedBy,
		},
	}); err != nil {
		return err
	}

	return tx.Commit(ctx)
}
