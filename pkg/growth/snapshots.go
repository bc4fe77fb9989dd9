package growth

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/marcus-qen/legatorcp/pkg/eventlog"
)

// ComputeDailySnapshot aggregates pass/fail/blocked/autonomy counts for
// agentID over the explicit UTC range [snapshotDate, snapshotDate+1d) —
// never session-timezone arithmetic — and upserts growth_daily_snapshots
// idempotently per (agent, snapshot_date). Emits daily.agent.snapshot only
// when the computed row differs from what was already stored.
func (r *Recorder) ComputeDailySnapshot(ctx context.Context, workspaceID, agentID string, snapshotDate time.Time) error {
	snapshotDate = time.Date(snapshotDate.Year(), snapshotDate.Month(), snapshotDate.Day(), 0, 0, 0, 0, time.UTC)
	rangeStart := snapshotDate
	rangeEnd := snapshotDate.AddDate(0, 0, 1)

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin daily snapshot: %w", err)
	}
	defer tx.Rollback(ctx)

	var principalID string
	if err := tx.QueryRow(ctx, `SELECT principal_id FROM proj_agents WHERE agent_id = $1`, agentID).Scan(&principalID); err != nil {
		return fmt.Errorf("lookup agent principal: %w", err)
	}

	var passCount, failCount int
	if err := tx.QueryRow(ctx, `
		SELECT
			COUNT(*) FILTER (WHERE status = 'passed'),
			COUNT(*) FILTER (WHERE status = 'failed')
		FROM growth_skill_assessments
		WHERE agent_id = $1 AND created_at >= $2 AND created_at < $3`,
		agentID, rangeStart, rangeEnd).Scan(&passCount, &failCount); err != nil {
		return fmt.Errorf("count assessments in range: %w", err)
	}

	var blockedCount int
	if err := tx.QueryRow(ctx, `
		SELECT COUNT(*) FROM sec_mistake_counters
		WHERE principal_id = $1 AND updated_at >= $2 AND updated_at < $3`,
		principalID, rangeStart, rangeEnd).Scan(&blockedCount); err != nil {
		return fmt.Errorf("count blocked in range: %w", err)
	}

	var autonomyCount int
	if err := tx.QueryRow(ctx, `
		SELECT COUNT(*) FROM proj_runs pr
		JOIN proj_agents pa ON pa.workspace_id = pr.workspace_id
		WHERE pa.agent_id = $1 AND pr.status = 'succeeded' AND pr.updated_at >= $2 AND pr.updated_at < $3`,
		agentID, rangeStart, rangeEnd).Scan(&autonomyCount); err != nil {
		return fmt.Errorf("count autonomy runs in range: %w", err)
	}

	var existingPass, existingFail, existingBlocked, existingAutonomy int
	err = tx.QueryRow(ctx, `
		SELECT pass_count, fail_count, blocked_count, autonomy_count
		FROM growth_daily_snapshots WHERE agent_id = $1 AND snapshot_date = $2`,
		agentID, snapshotDate).Scan(&existingPass, &existingFail, &existingBlocked, &existingAutonomy)
	unchanged := err == nil && existingPass == passCount && existingFail == failCount &&
		existingBlocked == blockedCount && existingAutonomy == autonomyCount
	if err != nil && err != pgx.ErrNoRows {
		return fmt.Errorf("lookup existing snapshot: %w", err)
	}

	if _, err := tx.Exec(ctx, `
		INSERT INTO growth_daily_snapshots (agent_id, snapshot_date, pass_count, fail_count, blocked_count, autonomy_count, computed_at)
		VALUES ($1, $2, $3, $4, $5, $6, now())
		ON CONFLICT (agent_id, snapshot_date) DO UPDATE
		SET pass_count = $3, fail_count = $4, blocked_count = $5, autonomy_count = $6, computed_at = now()`,
		agentID, snapshotDate, passCount, failCount, blockedCount, autonomyCount); err != nil {
		return fmt.Errorf("upsert daily snapshot: %w", err)
	}

	if !unchanged {
		if _, err := r.writer.AppendTx(ctx, tx, eventlog.Envelope{
			EventType:   eventlog.EventDailyAgentSnapshot,
			WorkspaceID: workspaceID,
			ActorType:   eventlog.ActorTypeService,
			ActorID:     "growth",
			StreamType:  "workspace",
			StreamID:    workspaceID,
			Data: map[string]interface{}{
				"agent_id":       agentID,
				"snapshot_date":  snapshotDate.Format("2006-01-02"),
				"pass_count":     passCount,
				"fail_count":     failCount,
				"blocked_count":  blockedCount,
				"autonomy_count": autonomyCount,
			},
			IdempotencyKey: fmt.Sprintf("daily-snapshot:%s:%s", agentID, snapshotDate.Format("2006-01-02")),
		}); err != nil {
			return err
		}
	}

	return tx.Commit(ctx)
}
