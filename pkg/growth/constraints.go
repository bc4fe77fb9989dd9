// Package growth implements the Growth & Learning Layer (C9): trust
// scoring, the skill ledger and supply-chain verification, constraint and
// mistake tracking with auto-quarantine, daily snapshots, the survival
// ledger, and the ACTIVE/PROBATION/SUNSET lifecycle state machine.
package growth

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/marcus-qen/legatorcp/pkg/eventlog"
)

// QuarantineThresholdDefault is the default repeat_count that triggers
// auto-quarantine; overridable via Recorder.BlockedThreshold.
const QuarantineThresholdDefault = 3

// Recorder implements record_failure_from_policy: it produces/updates
// constraint and mistake rows from a denied policy decision and applies
// the auto-quarantine rule.
type Recorder struct {
	pool             *pgxpool.Pool
	writer           *eventlog.Writer
	BlockedThreshold int
}

// NewRecorder builds a Recorder.
func NewRecorder(pool *pgxpool.Pool, writer *eventlog.Writer) *Recorder {
	return &Recorder{pool: pool, writer: writer, BlockedThreshold: QuarantineThresholdDefault}
}

// FailureInput describes one denied/require_approval policy decision.
type FailureInput struct {
	WorkspaceID string
	PrincipalID uuid.UUID
	IsAgent     bool
	Category    string // action / tool_call / data_access / egress
	ReasonCode  string
	Blocked     bool
}

// patternHash derives a stable dedupe key for (category, reason_code) pairs;
// matches the teacher's convention of hashing the normalized cause rather
// than any raw (potentially secret-laden) request payload.
func patternHash(category, reasonCode string) string {
	h := sha256.Sum256([]byte(category + "|" + reasonCode))
	return hex.EncodeToString(h[:])
}

// RecordFailureFromPolicy upserts sec_constraints and sec_mistake_counters,
// then — when the repeat threshold is crossed for a blocked agent decision
// — atomically quarantines the agent and emits agent.quarantined.
func (r *Recorder) RecordFailureFromPolicy(ctx context.Context, in FailureInput) error {
	if in.ReasonCode == "agent_quarantined" || in.ReasonCode == "external_write_kill_switch" {
		// System-state reasons never feed the learning signal (§4.5).
		return nil
	}

	hash := patternHash(in.Category, in.ReasonCode)

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin record-failure transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `
		INSERT INTO sec_constraints (workspace_id, principal_id, category, pattern_hash, reason_code, occurrences, last_seen_at)
		VALUES ($1, $2, $3, $4, $5, 1, now())
		ON CONFLICT (principal_id, category, pattern_hash) DO UPDATE
		SET occurrences = sec_constraints.occurrences + 1, last_seen_at = now()`,
		in.WorkspaceID, in.PrincipalID, in.Category, hash, in.ReasonCode); err != nil {
		return fmt.Errorf("upsert constraint: %w", err)
	}

	var repeatCount int
	row := tx.QueryRow(ctx, `
		INSERT INTO sec_mistake_counters (workspace_id, principal_id, category, pattern_hash, repeat_count, updated_at)
		VALUES ($1, $2, $3, $4, 1, now())
		ON CONFLICT (principal_id, category, pattern_hash) DO UPDATE
		SET repeat_count = sec_mistake_counters.repeat_count + 1, updated_at = now()
		RETURNING repeat_count`,
		in.WorkspaceID, in.PrincipalID, in.Category, hash)
	if err := row.Scan(&repeatCount); err != nil {
		return fmt.Errorf("upsert mistake counter: %w", err)
	}

	if _, err := r.writer.AppendTx(ctx, tx, eventlog.Envelope{
		EventType:        eventlog.EventConstraintLearned,
		WorkspaceID:      in.WorkspaceID,
		ActorType:        eventlog.ActorTypeService,
		ActorID:          "growth",
		ActorPrincipalID: &in.PrincipalID,
		StreamType:       "workspace",
		StreamID:         in.WorkspaceID,
		Data: map[string]interface{}{
			"principal_id": in.PrincipalID.String(),
			"category":     in.Category,
			"reason_code":  in.ReasonCode,
		},
	}); err != nil {
		return err
	}

	if repeatCount > 1 {
		if _, err := r.writer.AppendTx(ctx, tx, eventlog.Envelope{
			EventType:        eventlog.EventMistakeRepeated,
			WorkspaceID:      in.WorkspaceID,
			ActorType:        eventlog.ActorTypeService,
			ActorID:          "growth",
			ActorPrincipalID: &in.PrincipalID,
			StreamType:       "workspace",
			StreamID:         in.WorkspaceID,
			Data: map[string]interface{}{
				"principal_id": in.PrincipalID.String(),
				"category":     in.Category,
				"reason_code":  in.ReasonCode,
				"repeat_count": repeatCount,
			},
		}); err != nil {
			return err
		}
	}

	threshold := r.BlockedThreshold
	if threshold == 0 {
		threshold = QuarantineThresholdDefault
	}

	if in.Blocked && in.IsAgent && repeatCount >= threshold {
		if err := r.maybeQuarantine(ctx, tx, in.WorkspaceID, in.PrincipalID); err != nil {
			return err
		}
	}

	return tx.Commit(ctx)
}

// maybeQuarantine performs the "set quarantined_at only if NULL" UPDATE and
// emits agent.quarantined exactly when the UPDATE affects one row.
func (r *Recorder) maybeQuarantine(ctx context.Context, tx pgx.Tx, workspaceID string, principalID uuid.UUID) error {
	var agentID string
	row := tx.QueryRow(ctx, `SELECT agent_id FROM proj_agents WHERE principal_id = $1`, principalID)
	if err := row.Scan(&agentID); err != nil {
		if err == pgx.ErrNoRows {
			// Principal has no agent projection yet (e.g. registered out of
			// band); nothing to quarantine.
			return nil
		}
		return fmt.Errorf("lookup agent for quarantine: %w", err)
	}

	tag, err := tx.Exec(ctx, `
		UPDATE proj_agents SET quarantined_at = now(), updated_at = now()
		WHERE agent_id = $1 AND quarantined_at IS NULL`, agentID)
	if err != nil {
		return fmt.Errorf("quarantine agent: %w", err)
	}
	if tag.RowsAffected() != 1 {
		return nil
	}

	_, err = r.writer.AppendTx(ctx, tx, eventlog.Envelope{
		EventType:        eventlog.EventAgentQuarantined,
		WorkspaceID:      workspaceID,
		ActorType:        eventlog.ActorTypeService,
		ActorID:          "growth",
		ActorPrincipalID: &principalID,
		StreamType:       "workspace",
		StreamID:         workspaceID,
		Data: map[string]interface{}{
			"agent_id":     agentID,
			"principal_id": principalID.String(),
			"reason":       "repeated_blocked_violations",
		},
	})
	return err
}
