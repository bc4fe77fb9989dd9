package growth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"

	"github.com/jackc/pgx/v5"

	"github.com/marcus-qen/legatorcp/pkg/eventlog"
)

// TrustWeightsVersion is the fixed, versioned signal mix. Bumping the
// weights requires bumping the version so persisted rows stay
// recomputable against the mix that actually produced them (§9 open
// question: weights are implementation-defined constants, version-tagged).
const TrustWeightsVersion = "v1"

// trust score weights — fixed constants for TrustWeightsVersion "v1".
const (
	weightPassRate        = 40.0
	weightRecentViolations = -25.0
	weightRepeatedMistakes = -20.0
	weightAutonomyRate     = 15.0
	baseScore              = 50.0
	// trustEpsilon is the minimum delta that triggers a trust.increased /
	// trust.decreased event; sub-epsilon drift is persisted but silent.
	trustEpsilon = 0.5
)

// TrustComponents is the persisted signal breakdown for a trust score.
type TrustComponents struct {
	PassRate         float64 `json:"pass_rate"`
	RecentViolations int     `json:"recent_violations"`
	RepeatedMistakes int     `json:"repeated_mistakes"`
	AutonomyRate     float64 `json:"autonomy_rate"`
}

// computeScore applies the fixed v1 weight mix, clamped to [0, 100].
func computeScore(c TrustComponents) float64 {
	score := baseScore +
		weightPassRate*c.PassRate +
		weightRecentViolations*normalizeCount(c.RecentViolations) +
		weightRepeatedMistakes*normalizeCount(c.RepeatedMistakes) +
		weightAutonomyRate*c.AutonomyRate

	return math.Max(0, math.Min(100, score))
}

func normalizeCount(n int) float64 {
	// Compresses unbounded counts into (0,1) so a handful of violations
	// don't dominate the score as strongly as a total absence of them.
	return 1 - 1/(1+float64(n))
}

// Recalculate computes and persists the agent's trust score from the
// current assessment/constraint/mistake history, emitting
// trust.increased/decreased when the delta exceeds trustEpsilon.
func (r *Recorder) Recalculate(ctx context.Context, workspaceID, agentID string) (float64, TrustComponents, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return 0, TrustComponents{}, fmt.Errorf("begin trust recalc: %w", err)
	}
	defer tx.Rollback(ctx)

	var principalID string
	if err := tx.QueryRow(ctx, `SELECT principal_id FROM proj_agents WHERE agent_id = $1`, agentID).Scan(&principalID); err != nil {
		return 0, TrustComponents{}, fmt.Errorf("lookup agent principal: %w", err)
	}

	components, err := r.computeComponents(ctx, tx, principalID, agentID)
	if err != nil {
		return 0, TrustComponents{}, err
	}

	newScore := computeScore(components)

	var oldScore float64
	err = tx.QueryRow(ctx, `SELECT score FROM growth_trust_scores WHERE agent_id = $1`, agentID).Scan(&oldScore)
	hadPrevious := err == nil
	if err != nil && err != pgx.ErrNoRows {
		return 0, TrustComponents{}, fmt.Errorf("lookup previous trust score: %w", err)
	}

	componentsJSON, _ := json.Marshal(components)
	if _, err := tx.Exec(ctx, `
		INSERT INTO growth_trust_scores (agent_id, score, weights_version, components, updated_at)
		VALUES ($1, $2, $3, $4, now())
		ON CONFLICT (agent_id) DO UPDATE
		SET score = $2, weights_version = $3, components = $4, updated_at = now()`,
		agentID, newScore, TrustWeightsVersion, componentsJSON); err != nil {
		return 0, TrustComponents{}, fmt.Errorf("upsert trust score: %w", err)
	}

	if hadPrevious && math.Abs(newScore-oldScore) >= trustEpsilon {
		eventType := eventlog.EventTrustIncreased
		if newScore < oldScore {
			eventType = eventlog.EventTrustDecreased
		}
		if _, err := r.writer.AppendTx(ctx, tx, eventlog.Envelope{
			EventType:   eventType,
			WorkspaceID: workspaceID,
			ActorType:   eventlog.ActorTypeService,
			ActorID:     "growth",
			StreamType:  "workspace",
			StreamID:    workspaceID,
			Data: map[string]interface{}{
				"agent_id":  agentID,
				"old_score": oldScore,
				"new_score": newScore,
			},
		}); err != nil {
			return 0, TrustComponents{}, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, TrustComponents{}, fmt.Errorf("commit trust recalc: %w", err)
	}
	return newScore, components, nil
}

// TrustRecord is the persisted growth_trust_scores row surfaced at
// GET /agents/:id/trust.
type TrustRecord struct {
	AgentID        string          `json:"agent_id"`
	Score          float64         `json:"score"`
	WeightsVersion string          `json:"weights_version"`
	Components     TrustComponents `json:"components"`
}

// GetTrust reads the agent's last-computed trust score without
// recalculating it. Agents with no score yet read as the base score under
// TrustWeightsVersion, matching what Recalculate would compute from zero
// signal.
func (r *Recorder) GetTrust(ctx context.Context, agentID string) (TrustRecord, error) {
	rec := TrustRecord{AgentID: agentID, Score: baseScore, WeightsVersion: TrustWeightsVersion}
	var componentsJSON []byte
	err := r.pool.QueryRow(ctx, `
		SELECT score, weights_version, components FROM growth_trust_scores WHERE agent_id = $1`, agentID).
		Scan(&rec.Score, &rec.WeightsVersion, &componentsJSON)
	if errors.Is(err, pgx.ErrNoRows) {
		return rec, nil
	}
	if err != nil {
		return TrustRecord{}, fmt.Errorf("lookup trust score: %w", err)
	}
	if len(componentsJSON) > 0 {
		if err := json.Unmarshal(componentsJSON, &rec.Components); err != nil {
			return TrustRecord{}, fmt.Errorf("decode trust components: %w", err)
		}
	}
	return rec, nil
}

func (r *Recorder) computeComponents(ctx context.Context, tx pgx.Tx, principalID, agentID string) (TrustComponents, error) {
	var passed, failed int
	if err := tx.QueryRow(ctx, `
		SELECT
			COUNT(*) FILTER (WHERE status = 'passed'),
			COUNT(*) FILTER (WHERE status = 'failed')
		FROM growth_skill_assessments WHERE agent_id = $1`, agentID).Scan(&passed, &failed); err != nil {
		return TrustComponents{}, fmt.Errorf("count assessments: %w", err)
	}

	passRate := 0.0
	if total := passed + failed; total > 0 {
		passRate = float64(passed) / float64(total)
	}

	var recentViolations int
	if err := tx.QueryRow(ctx, `
		SELECT COALESCE(SUM(occurrences), 0) FROM sec_constraints
		WHERE principal_id = $1 AND last_seen_at > now() - interval '24 hours'`, principalID).Scan(&recentViolations); err != nil {
		return TrustComponents{}, fmt.Errorf("count recent violations: %w", err)
	}

	var repeatedMistakes int
	if err := tx.QueryRow(ctx, `
		SELECT COUNT(*) FROM sec_mistake_counters WHERE principal_id = $1 AND repeat_count > 1`, principalID).Scan(&repeatedMistakes); err != nil {
		return TrustComponents{}, fmt.Errorf("count repeated mistakes: %w", err)
	}

	var autonomyRuns, totalRuns int
	if err := tx.QueryRow(ctx, `
		SELECT COUNT(*) FILTER (WHERE status = 'succeeded'), COUNT(*)
		FROM proj_runs pr JOIN proj_agents pa ON pa.agent_id = $2
		WHERE pr.workspace_id = pa.workspace_id`, agentID, agentID).Scan(&autonomyRuns, &totalRuns); err != nil {
		return TrustComponents{}, fmt.Errorf("count autonomy runs: %w", err)
	}
	autonomyRate := 0.0
	if totalRuns > 0 {
		autonomyRate = float64(autonomyRuns) / float64(totalRuns)
	}

	return TrustComponents{
		PassRate:         passRate,
		RecentViolations: recentViolations,
		RepeatedMistakes: repeatedMistakes,
		AutonomyRate:     autonomyRate,
	}, nil
}
