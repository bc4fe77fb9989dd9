package growth

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/marcus-qen/legatorcp/pkg/apperrors"
	"github.com/marcus-qen/legatorcp/pkg/eventlog"
)

// Skill package lifecycle states (supply-chain verification).
const (
	PackageStatusPending     = "pending"
	PackageStatusVerified    = "verified"
	PackageStatusQuarantined = "quarantined"
)

// Assessment outcomes.
const (
	AssessmentStarted = "started"
	AssessmentPassed  = "passed"
	AssessmentFailed  = "failed"
)

// Manifest is the minimal required shape of an installed skill package.
type Manifest struct {
	Name      string `json:"name"`
	Version   string `json:"version"`
	Signature string `json:"signature,omitempty"`
	Hash      string `json:"hash"`
}

func (m Manifest) validate() error {
	if m.Name == "" || m.Version == "" || m.Hash == "" {
		return apperrors.New(apperrors.CodeManifestMissingRequiredFields, "skill package manifest missing name/version/hash")
	}
	return nil
}

// InstallPackage records an incoming skill package as pending, to be
// verified next.
func (r *Recorder) InstallPackage(ctx context.Context, workspaceID, agentID string, manifest Manifest) (string, error) {
	if err := manifest.validate(); err != nil {
		return "", err
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return "", fmt.Errorf("begin package install: %w", err)
	}
	defer tx.Rollback(ctx)

	packageID := uuid.New().String()
	manifestJSON, _ := json.Marshal(manifest)

	if _, err := tx.Exec(ctx, `
		INSERT INTO growth_skill_packages (package_id, agent_id, manifest, manifest_hash, signature, status)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		packageID, agentID, manifestJSON, manifest.Hash, manifest.Signature, PackageStatusPending); err != nil {
		return "", fmt.Errorf("insert skill package: %w", err)
	}

	if _, err := r.writer.AppendTx(ctx, tx, eventlog.Envelope{
		EventType:   eventlog.EventSkillPackageInstalled,
		WorkspaceID: workspaceID,
		ActorType:   eventlog.ActorTypeService,
		ActorID:     "growth",
		StreamType:  "workspace",
		StreamID:    workspaceID,
		Data: map[string]interface{}{
			"package_id": packageID,
			"agent_id":   agentID,
			"name":       manifest.Name,
			"version":    manifest.Version,
		},
	}); err != nil {
		return "", err
	}

	return packageID, tx.Commit(ctx)
}

// VerifyPackage checks the signature/hash and transitions the package to
// verified, or auto-quarantines it on failure.
func (r *Recorder) VerifyPackage(ctx context.Context, workspaceID, packageID string, rawContent []byte) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin package verify: %w", err)
	}
	defer tx.Rollback(ctx)

	var agentID, signature, manifestHash string
	if err := tx.QueryRow(ctx, `
		SELECT agent_id, COALESCE(signature,''), manifest_hash FROM growth_skill_packages WHERE package_id = $1`,
		packageID).Scan(&agentID, &signature, &manifestHash); err != nil {
		return fmt.Errorf("lookup package: %w", err)
	}

	if signature == "" {
		return r.quarantinePackage(ctx, tx, workspaceID, packageID, agentID, "verify_signature_required")
	}

	computed := sha256.Sum256(rawContent)
	if hex.EncodeToString(computed[:]) != manifestHash {
		return r.quarantinePackage(ctx, tx, workspaceID, packageID, agentID, "verify_hash_mismatch")
	}

	if _, err := tx.Exec(ctx, `
		UPDATE growth_skill_packages SET status = $2, updated_at = now() WHERE package_id = $1`,
		packageID, PackageStatusVerified); err != nil {
		return fmt.Errorf("mark package verified: %w", err)
	}

	if _, err := r.writer.AppendTx(ctx, tx, eventlog.Envelope{
		EventType:   eventlog.EventSkillPackageVerified,
		WorkspaceID: workspaceID,
		ActorType:   eventlog.ActorTypeService,
		ActorID:     "growth",
		StreamType:  "workspace",
		StreamID:    workspaceID,
		Data:        map[string]interface{}{"package_id": packageID, "agent_id": agentID},
	}); err != nil {
		return err
	}

	return tx.Commit(ctx)
}

func (r *Recorder) quarantinePackage(ctx context.Context, tx pgx.Tx, workspaceID, packageID, agentID, reason string) error {
	if _, err := tx.Exec(ctx, `
		UPDATE growth_skill_packages SET status = $2, denied_reason = $3, updated_at = now() WHERE package_id = $1`,
		packageID, PackageStatusQuarantined, reason); err != nil {
		return fmt.Errorf("quarantine package: %w", err)
	}

	if _, err := r.writer.AppendTx(ctx, tx, eventlog.Envelope{
		EventType:   eventlog.EventSkillPackageQuarantined,
		WorkspaceID: workspaceID,
		ActorType:   eventlog.ActorTypeService,
		ActorID:     "growth",
		StreamType:  "workspace",
		StreamID:    workspaceID,
		Data: map[string]interface{}{
			"package_id": packageID,
			"agent_id":   agentID,
			"reason":     reason,
		},
	}); err != nil {
		return err
	}

	return tx.Commit(ctx)
}

// QuarantinePackage is the explicit operator-driven quarantine endpoint
// (as opposed to the automatic one VerifyPackage triggers on failure).
func (r *Recorder) QuarantinePackage(ctx context.Context, workspaceID, packageID, reason string) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin manual quarantine: %w", err)
	}
	defer tx.Rollback(ctx)

	var agentID string
	if err := tx.QueryRow(ctx, `SELECT agent_id FROM growth_skill_packages WHERE package_id = $1`, packageID).Scan(&agentID); err != nil {
		return fmt.Errorf("lookup package: %w", err)
	}
	return r.quarantinePackage(ctx, tx, workspaceID, packageID, agentID, reason)
}

// SkillPackage is one growth_skill_packages row exposed to API callers.
type SkillPackage struct {
	PackageID    string `json:"package_id"`
	AgentID      string `json:"agent_id"`
	Status       string `json:"status"`
	ManifestHash string `json:"manifest_hash"`
	DeniedReason string `json:"denied_reason,omitempty"`
}

// ListPackages lists every skill package installed for agents in a
// workspace, newest first.
func (r *Recorder) ListPackages(ctx context.Context, workspaceID string) ([]SkillPackage, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT sp.package_id, sp.agent_id, sp.status, sp.manifest_hash, COALESCE(sp.denied_reason, '')
		FROM growth_skill_packages sp
		JOIN proj_agents pa ON pa.agent_id = sp.agent_id
		WHERE pa.workspace_id = $1
		ORDER BY sp.created_at DESC`, workspaceID)
	if err != nil {
		return nil, fmt.Errorf("list skill packages: %w", err)
	}
	defer rows.Close()

	var out []SkillPackage
	for rows.Next() {
		var p SkillPackage
		if err := rows.Scan(&p.PackageID, &p.AgentID, &p.Status, &p.ManifestHash, &p.DeniedReason); err != nil {
			return nil, fmt.Errorf("scan skill package: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// AssessSkill records a pass/fail/started assessment outcome for an agent
// against a catalog skill, upserting the agent_skills status.
func (r *Recorder) AssessSkill(ctx context.Context, workspaceID, agentID, skillID, outcome string) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin skill assessment: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `
		INSERT INTO growth_skill_assessments (agent_id, skill_id, status) VALUES ($1, $2, $3)`,
		agentID, skillID, outcome); err != nil {
		return fmt.Errorf("insert assessment: %w", err)
	}

	if outcome == AssessmentPassed {
		if _, err := tx.Exec(ctx, `
			INSERT INTO growth_agent_skills (agent_id, skill_id, status, updated_at)
			VALUES ($1, $2, 'acquired', now())
			ON CONFLICT (agent_id, skill_id) DO UPDATE SET status = 'acquired', updated_at = now()`,
			agentID, skillID); err != nil {
			return fmt.Errorf("upsert agent skill: %w", err)
		}
	}

	eventType := eventlog.EventSkillAssessmentStarted
	switch outcome {
	case AssessmentPassed:
		eventType = eventlog.EventSkillAssessmentPassed
	case AssessmentFailed:
		eventType = eventlog.EventSkillAssessmentFailed
	}

	if _, err := r.writer.AppendTx(ctx, tx, eventlog.Envelope{
		EventType:   eventType,
		WorkspaceID: workspaceID,
		ActorType:   eventlog.ActorTypeService,
		ActorID:     "growth",
		StreamType:  "workspace",
		StreamID:    workspaceID,
		Data:        map[string]interface{}{"agent_id": agentID, "skill_id": skillID},
	}); err != nil {
		return err
	}

	return tx.Commit(ctx)
}
