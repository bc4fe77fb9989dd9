package growth

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// Skill import states, distinct from the assessment outcomes in skills.go:
// an import tracks a skill's position in the onboarding pipeline, not any
// one assessment attempt's result.
const (
	ImportStatusPendingReview = "pending_review"
	ImportStatusAssessed      = "assessed"
	ImportStatusCertified     = "certified"
)

// SkillImport is one growth_skill_imports row.
type SkillImport struct {
	AgentID   string
	PackageID string
	SkillID   string
	Status    string
}

// ImportSkills stages a batch of skills from an (optional) skill package
// for review, inserting one growth_skill_imports row per skill id.
// Re-importing the same (agent, skill, package) triple is a no-op.
func (r *Recorder) ImportSkills(ctx context.Context, agentID string, packageID *string, skillIDs []string) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin skill import: %w", err)
	}
	defer tx.Rollback(ctx)

	for _, skillID := range skillIDs {
		if _, err := tx.Exec(ctx, `
			INSERT INTO growth_skill_imports (agent_id, package_id, skill_id, status)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (agent_id, skill_id, package_id) DO NOTHING`,
			agentID, packageID, skillID, ImportStatusPendingReview); err != nil {
			return fmt.Errorf("insert skill import for %q: %w", skillID, err)
		}
	}

	return tx.Commit(ctx)
}

// ReviewPending lists an agent's imported skills still awaiting assessment.
func (r *Recorder) ReviewPending(ctx context.Context, agentID string) ([]SkillImport, error) {
	return r.listImports(ctx, agentID, ImportStatusPendingReview)
}

func (r *Recorder) listImports(ctx context.Context, agentID, status string) ([]SkillImport, error) {
	var rows pgx.Rows
	var err error
	if status == "" {
		rows, err = r.pool.Query(ctx, `
			SELECT agent_id, COALESCE(package_id, ''), skill_id, status
			FROM growth_skill_imports WHERE agent_id = $1 ORDER BY created_at`, agentID)
	} else {
		rows, err = r.pool.Query(ctx, `
			SELECT agent_id, COALESCE(package_id, ''), skill_id, status
			FROM growth_skill_imports WHERE agent_id = $1 AND status = $2 ORDER BY created_at`, agentID, status)
	}
	if err != nil {
		return nil, fmt.Errorf("list skill imports: %w", err)
	}
	defer rows.Close()

	var out []SkillImport
	for rows.Next() {
		var si SkillImport
		if err := rows.Scan(&si.AgentID, &si.PackageID, &si.SkillID, &si.Status); err != nil {
			return nil, fmt.Errorf("scan skill import: %w", err)
		}
		out = append(out, si)
	}
	return out, rows.Err()
}

// AssessImported records an assessment outcome for one imported skill (via
// AssessSkill) and advances its import row to "assessed" once the outcome
// is terminal (passed or failed).
func (r *Recorder) AssessImported(ctx context.Context, workspaceID, agentID, skillID, outcome string) error {
	if err := r.AssessSkill(ctx, workspaceID, agentID, skillID, outcome); err != nil {
		return err
	}
	if outcome == AssessmentStarted {
		return nil
	}
	_, err := r.pool.Exec(ctx, `
		UPDATE growth_skill_imports SET status = $3, updated_at = now()
		WHERE agent_id = $1 AND skill_id = $2 AND status = $4`,
		agentID, skillID, ImportStatusAssessed, ImportStatusPendingReview)
	if err != nil {
		return fmt.Errorf("advance skill import to assessed: %w", err)
	}
	return nil
}

// CertifyImported marks an assessed, passed skill as certified — the
// terminal onboarding state. Skills that never passed assessment cannot be
// certified.
func (r *Recorder) CertifyImported(ctx context.Context, agentID, skillID string) error {
	var latestOutcome string
	err := r.pool.QueryRow(ctx, `
		SELECT status FROM growth_skill_assessments
		WHERE agent_id = $1 AND skill_id = $2
		ORDER BY created_at DESC LIMIT 1`, agentID, skillID).Scan(&latestOutcome)
	if err != nil {
		return fmt.Errorf("lookup latest assessment for certify: %w", err)
	}
	if latestOutcome != AssessmentPassed {
		return fmt.Errorf("certify skill %q for agent %q: latest assessment is %q, not %q", skillID, agentID, latestOutcome, AssessmentPassed)
	}

	tag, err := r.pool.Exec(ctx, `
		UPDATE growth_skill_imports SET status = $3, updated_at = now()
		WHERE agent_id = $1 AND skill_id = $2 AND status = $4`,
		agentID, skillID, ImportStatusCertified, ImportStatusAssessed)
	if err != nil {
		return fmt.Errorf("certify skill import: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("certify skill %q for agent %q: no assessed import row found", skillID, agentID)
	}
	return nil
}

// ImportCertifyResult is the per-skill outcome of a combined
// import-then-assess-then-certify call.
type ImportCertifyResult struct {
	SkillID   string `json:"skill_id"`
	Certified bool   `json:"certified"`
	Error     string `json:"error,omitempty"`
}

// ImportCertify is the fast-track onboarding path for skills the caller
// asserts have already passed assessment out of band (e.g. a
// pre-reviewed, signature-verified skill package): it imports, records a
// passed assessment, and certifies each skill id in one call, continuing
// past any single skill's failure to report per-skill results.
func (r *Recorder) ImportCertify(ctx context.Context, workspaceID, agentID string, packageID *string, skillIDs []string) ([]ImportCertifyResult, error) {
	if err := r.ImportSkills(ctx, agentID, packageID, skillIDs); err != nil {
		return nil, err
	}

	results := make([]ImportCertifyResult, 0, len(skillIDs))
	for _, skillID := range skillIDs {
		if err := r.AssessImported(ctx, workspaceID, agentID, skillID, AssessmentPassed); err != nil {
			results = append(results, ImportCertifyResult{SkillID: skillID, Error: err.Error()})
			continue
		}
		if err := r.CertifyImported(ctx, agentID, skillID); err != nil {
			results = append(results, ImportCertifyResult{SkillID: skillID, Error: err.Error()})
			continue
		}
		results = append(results, ImportCertifyResult{SkillID: skillID, Certified: true})
	}
	return results, nil
}

// OnboardingStatus summarizes one agent's skill onboarding pipeline.
type OnboardingStatus struct {
	AgentID       string `json:"agent_id"`
	Total         int    `json:"total"`
	PendingReview int    `json:"pending_review"`
	Assessed      int    `json:"assessed"`
	Certified     int    `json:"certified"`
}

// Onboarding computes a single agent's onboarding status.
func (r *Recorder) Onboarding(ctx context.Context, agentID string) (OnboardingStatus, error) {
	st := OnboardingStatus{AgentID: agentID}
	err := r.pool.QueryRow(ctx, `
		SELECT
			COUNT(*),
			COUNT(*) FILTER (WHERE status = $2),
			COUNT(*) FILTER (WHERE status = $3),
			COUNT(*) FILTER (WHERE status = $4)
		FROM growth_skill_imports WHERE agent_id = $1`,
		agentID, ImportStatusPendingReview, ImportStatusAssessed, ImportStatusCertified).
		Scan(&st.Total, &st.PendingReview, &st.Assessed, &st.Certified)
	if err != nil {
		return OnboardingStatus{}, fmt.Errorf("compute onboarding status: %w", err)
	}
	return st, nil
}

// OnboardingStatuses computes onboarding status for every agent in a
// workspace that has at least one skill import row.
func (r *Recorder) OnboardingStatuses(ctx context.Context, workspaceID string) ([]OnboardingStatus, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT
			gsi.agent_id,
			COUNT(*),
			COUNT(*) FILTER (WHERE gsi.status = $2),
			COUNT(*) FILTER (WHERE gsi.status = $3),
			COUNT(*) FILTER (WHERE gsi.status = $4)
		FROM growth_skill_imports gsi
		JOIN proj_agents pa ON pa.agent_id = gsi.agent_id
		WHERE pa.workspace_id = $1
		GROUP BY gsi.agent_id`,
		workspaceID, ImportStatusPendingReview, ImportStatusAssessed, ImportStatusCertified)
	if err != nil {
		return nil, fmt.Errorf("compute onboarding statuses: %w", err)
	}
	defer rows.Close()

	var out []OnboardingStatus
	for rows.Next() {
		var st OnboardingStatus
		if err := rows.Scan(&st.AgentID, &st.Total, &st.PendingReview, &st.Assessed, &st.Certified); err != nil {
			return nil, fmt.Errorf("scan onboarding status: %w", err)
		}
		out = append(out, st)
	}
	return out, rows.Err()
}
