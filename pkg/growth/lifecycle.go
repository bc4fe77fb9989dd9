package growth

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/marcus-qen/legatorcp/pkg/eventlog"
)

// Lifecycle states (§4.9: ACTIVE → PROBATION → SUNSET).
const (
	LifecycleActive    = "ACTIVE"
	LifecycleProbation = "PROBATION"
	LifecycleSunset    = "SUNSET"
)

// LifecycleThresholds parameterizes the hysteresis counters driving
// transitions; defaults come from pkg/config.
type LifecycleThresholds struct {
	ProbationEntryStreak int // consecutive net-negative days from ACTIVE before entering PROBATION
	ProbationExitStreak  int // consecutive net-non-negative days from PROBATION before returning to ACTIVE
	SunsetStreak         int // consecutive net-negative days while in PROBATION before SUNSET
}

// AdvanceLifecycle consumes today's survival ledger row for agentID and
// applies one deterministic state transition step. It is idempotent when
// called more than once for the same ledgerDate only in the sense that the
// underlying ledger row is stable; callers should invoke it once per agent
// per day, after RollupSurvivalLedger.
func (r *Recorder) AdvanceLifecycle(ctx context.Context, workspaceID, agentID string, ledgerDate time.Time, thresholds LifecycleThresholds) (string, error) {
	ledgerDate = time.Date(ledgerDate.Year(), ledgerDate.Month(), ledgerDate.Day(), 0, 0, 0, 0, time.UTC)

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return "", fmt.Errorf("begin lifecycle advance: %w", err)
	}
	defer tx.Rollback(ctx)

	var cost, value float64
	err = tx.QueryRow(ctx, `
		SELECT cost, value FROM growth_survival_ledger
		WHERE target_type = 'agent' AND target_id = $1 AND ledger_date = $2`,
		agentID, ledgerDate).Scan(&cost, &value)
	if err == pgx.ErrNoRows {
		// Nothing rolled up yet for this day; no transition to evaluate.
		return "", tx.Commit(ctx)
	}
	if err != nil {
		return "", fmt.Errorf("lookup survival ledger row: %w", err)
	}
	netPositive := value >= cost

	var state string
	var probationStreak, recoveryStreak int
	err = tx.QueryRow(ctx, `
		SELECT state, probation_streak, recovery_streak FROM growth_lifecycle_state WHERE agent_id = $1`,
		agentID).Scan(&state, &probationStreak, &recoveryStreak)
	if err == pgx.ErrNoRows {
		state, probationStreak, recoveryStreak = LifecycleActive, 0, 0
	} else if err != nil {
		return "", fmt.Errorf("lookup lifecycle state: %w", err)
	}

	prevState := state
	state, probationStreak, recoveryStreak = nextLifecycleState(state, probationStreak, recoveryStreak, netPositive, thresholds)

	if _, err := tx.Exec(ctx, `
		INSERT INTO growth_lifecycle_state (agent_id, state, probation_streak, recovery_streak, updated_at)
		VALUES ($1, $2, $3, $4, now())
		ON CONFLICT (agent_id) DO UPDATE
		SET state = $2, probation_streak = $3, recovery_streak = $4, updated_at = now()`,
		agentID, state, probationStreak, recoveryStreak); err != nil {
		return "", fmt.Errorf("upsert lifecycle state: %w", err)
	}

	if state != prevState {
		if _, err := r.writer.AppendTx(ctx, tx, eventlog.Envelope{
			EventType:   eventlog.EventLifecycleTransition,
			WorkspaceID: workspaceID,
			ActorType:   eventlog.ActorTypeService,
			ActorID:     "growth",
			StreamType:  "workspace",
			StreamID:    workspaceID,
			Data: map[string]interface{}{
				"agent_id":   agentID,
				"from_state": prevState,
				"to_state":   state,
				"ledger_date": ledgerDate.Format("2006-01-02"),
			},
			IdempotencyKey: fmt.Sprintf("lifecycle-transition:%s:%s:%s", agentID, ledgerDate.Format("2006-01-02"), state),
		}); err != nil {
			return "", err
		}
	}

	return state, tx.Commit(ctx)
}

// nextLifecycleState is the pure hysteresis transition rule: one day's
// net cost/value outcome in, one (state, probation_streak, recovery_streak)
// tuple out. Kept free of I/O so the state machine itself is unit-testable.
func nextLifecycleState(state string, probationStreak, recoveryStreak int, netPositive bool, thresholds LifecycleThresholds) (string, int, int) {
	switch state {
	case LifecycleActive:
		if netPositive {
			return LifecycleActive, 0, recoveryStreak
		}
		probationStreak++
		if probationStreak >= thresholds.ProbationEntryStreak {
			return LifecycleProbation, probationStreak, 0
		}
		return LifecycleActive, probationStreak, recoveryStreak
	case LifecycleProbation:
		if netPositive {
			recoveryStreak++
			if recoveryStreak >= thresholds.ProbationExitStreak {
				return LifecycleActive, 0, 0
			}
			return LifecycleProbation, 0, recoveryStreak
		}
		probationStreak++
		if probationStreak >= thresholds.SunsetStreak {
			return LifecycleSunset, probationStreak, 0
		}
		return LifecycleProbation, probationStreak, 0
	default:
		// LifecycleSunset is terminal: reversed only by explicit operator
		// action, which this automation does not perform.
		return state, probationStreak, recoveryStreak
	}
}
