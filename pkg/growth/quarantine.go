package growth

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/marcus-qen/legatorcp/pkg/eventlog"
)

func eventlogEnvelopeForUnquarantine(workspaceID, agentID, actorType, actorID string) eventlog.Envelope {
	return eventlog.Envelope{
		EventType:   eventlog.EventAgentUnquarantined,
		WorkspaceID: workspaceID,
		ActorType:   actorType,
		ActorID:     actorID,
		StreamType:  "workspace",
		StreamID:    workspaceID,
		Data:        map[string]interface{}{"agent_id": agentID},
	}
}

// IsQuarantined reports whether the agent projected from principalID is
// currently quarantined. Principals with no agent projection are never
// quarantined.
func IsQuarantined(ctx context.Context, pool *pgxpool.Pool, principalID uuid.UUID) (bool, error) {
	var quarantined bool
	row := pool.QueryRow(ctx, `
		SELECT quarantined_at IS NOT NULL FROM proj_agents WHERE principal_id = $1`, principalID)
	err := row.Scan(&quarantined)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("check agent quarantine status: %w", err)
	}
	return quarantined, nil
}

// Quarantine is the operator-driven manual counterpart to the automatic
// quarantine maybeQuarantine applies on repeated blocked violations — same
// "only if currently active" guard, reason is caller-supplied rather than
// "repeated_blocked_violations".
func (r *Recorder) Quarantine(ctx context.Context, workspaceID, agentID, reason, actorType, actorID string) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin manual quarantine: %w", err)
	}
	defer tx.Rollback(ctx)

	var principalID uuid.UUID
	tag, err := tx.Exec(ctx, `
		UPDATE proj_agents SET quarantined_at = now(), updated_at = now()
		WHERE agent_id = $1 AND workspace_id = $2 AND quarantined_at IS NULL`, agentID, workspaceID)
	if err != nil {
		return fmt.Errorf("quarantine agent: %w", err)
	}
	if tag.RowsAffected() != 1 {
		return tx.Commit(ctx)
	}
	if err := tx.QueryRow(ctx, `SELECT principal_id FROM proj_agents WHERE agent_id = $1`, agentID).Scan(&principalID); err != nil {
		return fmt.Errorf("lookup agent principal: %w", err)
	}

	if _, err := r.writer.AppendTx(ctx, tx, eventlog.Envelope{
		EventType:        eventlog.EventAgentQuarantined,
		WorkspaceID:      workspaceID,
		ActorType:        actorType,
		ActorID:          actorID,
		ActorPrincipalID: &principalID,
		StreamType:       "workspace",
		StreamID:         workspaceID,
		Data: map[string]interface{}{
			"agent_id":     agentID,
			"principal_id": principalID.String(),
			"reason":       reason,
		},
	}); err != nil {
		return err
	}

	return tx.Commit(ctx)
}

// Unquarantine clears quarantined_at, emitting agent.unquarantined.
func (r *Recorder) Unquarantine(ctx context.Context, workspaceID, agentID, actorType, actorID string) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin unquarantine: %w", err)
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, `
		UPDATE proj_agents SET quarantined_at = NULL, updated_at = now()
		WHERE agent_id = $1 AND workspace_id = $2 AND quarantined_at IS NOT NULL`, agentID, workspaceID)
	if err != nil {
		return fmt.Errorf("clear quarantine: %w", err)
	}
	if tag.RowsAffected() != 1 {
		return tx.Commit(ctx)
	}

	if _, err := r.writer.AppendTx(ctx, tx, eventlogEnvelopeForUnquarantine(workspaceID, agentID, actorType, actorID)); err != nil {
		return err
	}

	return tx.Commit(ctx)
}
