package growth

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/marcus-qen/legatorcp/pkg/eventlog"
)

// Cost/value weights for the survival ledger. Cost approximates resource
// consumption (runs attempted); value approximates delivered outcomes
// (runs succeeded, skills passed). Both are counts, not currency — the
// ledger tracks relative trend, not billing.
const (
	costPerRunAttempt    = 1.0
	valuePerRunSucceeded = 1.0
	valuePerSkillPassed  = 0.5
)

// RollupSurvivalLedger computes cost/value for targetType/targetID over
// [ledgerDate, ledgerDate+1d), upserts growth_survival_ledger idempotently,
// and emits survival.rollup only when the row changed.
func (r *Recorder) RollupSurvivalLedger(ctx context.Context, workspaceID, targetType, targetID string, ledgerDate time.Time) error {
	ledgerDate = time.Date(ledgerDate.Year(), ledgerDate.Month(), ledgerDate.Day(), 0, 0, 0, 0, time.UTC)
	rangeStart := ledgerDate
	rangeEnd := ledgerDate.AddDate(0, 0, 1)

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin survival rollup: %w", err)
	}
	defer tx.Rollback(ctx)

	var attempted, succeeded int
	var runFilter string
	var runArgs []interface{}
	switch targetType {
	case "workspace":
		runFilter = "workspace_id = $1 AND created_at >= $2 AND created_at < $3"
		runArgs = []interface{}{targetID, rangeStart, rangeEnd}
	case "agent":
		runFilter = `workspace_id = (SELECT workspace_id FROM proj_agents WHERE agent_id = $1)
			AND created_at >= $2 AND created_at < $3`
		runArgs = []interface{}{targetID, rangeStart, rangeEnd}
	default:
		return fmt.Errorf("rollup survival ledger: unknown target_type %q", targetType)
	}

	if err := tx.QueryRow(ctx, fmt.Sprintf(`
		SELECT COUNT(*), COUNT(*) FILTER (WHERE status = 'succeeded')
		FROM proj_runs WHERE %s`, runFilter), runArgs...).Scan(&attempted, &succeeded); err != nil {
		return fmt.Errorf("count runs for survival rollup: %w", err)
	}

	var skillsPassed int
	switch targetType {
	case "agent":
		if err := tx.QueryRow(ctx, `
			SELECT COUNT(*) FROM growth_skill_assessments
			WHERE agent_id = $1 AND status = 'passed' AND created_at >= $2 AND created_at < $3`,
			targetID, rangeStart, rangeEnd).Scan(&skillsPassed); err != nil {
			return fmt.Errorf("count skills passed: %w", err)
		}
	case "workspace":
		if err := tx.QueryRow(ctx, `
			SELECT COUNT(*) FROM growth_skill_assessments gsa
			JOIN proj_agents pa ON pa.agent_id = gsa.agent_id
			WHERE pa.workspace_id = $1 AND gsa.status = 'passed' AND gsa.created_at >= $2 AND gsa.created_at < $3`,
			targetID, rangeStart, rangeEnd).Scan(&skillsPassed); err != nil {
			return fmt.Errorf("count skills passed: %w", err)
		}
	}

	cost := float64(attempted) * costPerRunAttempt
	value := float64(succeeded)*valuePerRunSucceeded + float64(skillsPassed)*valuePerSkillPassed

	var existingCost, existingValue float64
	err = tx.QueryRow(ctx, `
		SELECT cost, value FROM growth_survival_ledger
		WHERE target_type = $1 AND target_id = $2 AND ledger_date = $3`,
		targetType, targetID, ledgerDate).Scan(&existingCost, &existingValue)
	unchanged := err == nil && existingCost == cost && existingValue == value
	if err != nil && err != pgx.ErrNoRows {
		return fmt.Errorf("lookup existing survival ledger row: %w", err)
	}

	if _, err := tx.Exec(ctx, `
		INSERT INTO growth_survival_ledger (target_type, target_id, ledger_date, cost, value, computed_at)
		VALUES ($1, $2, $3, $4, $5, now())
		ON CONFLICT (target_type, target_id, ledger_date) DO UPDATE
		SET cost = $4, value = $5, computed_at = now()`,
		targetType, targetID, ledgerDate, cost, value); err != nil {
		return fmt.Errorf("upsert survival ledger: %w", err)
	}

	if !unchanged {
		if _, err := r.writer.AppendTx(ctx, tx, eventlog.Envelope{
			EventType:   eventlog.EventSurvivalRollup,
			WorkspaceID: workspaceID,
			ActorType:   eventlog.ActorTypeService,
			ActorID:     "growth",
			StreamType:  "workspace",
			StreamID:    workspaceID,
			Data: map[string]interface{}{
				"target_type":  targetType,
				"target_id":    targetID,
				"ledger_date":  ledgerDate.Format("2006-01-02"),
				"cost":         cost,
				"value":        value,
				"runs_total":   attempted,
				"runs_success": succeeded,
			},
			IdempotencyKey: fmt.Sprintf("survival-rollup:%s:%s:%s", targetType, targetID, ledgerDate.Format("2006-01-02")),
		}); err != nil {
			return err
		}
	}

	return tx.Commit(ctx)
}
