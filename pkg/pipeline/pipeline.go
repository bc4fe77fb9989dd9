// Package pipeline implements the Pipeline Projection (C12): a read-only,
// deterministic six-stage snapshot of where every run and approval
// currently sits, built fresh from proj_runs/proj_approvals/proj_incidents
// on every call rather than maintained as its own projection table.
package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// SchemaVersion is the pipeline_projection response's schema tag.
const SchemaVersion = "pipeline_projection.v0.1"

// Stage names, always present in a Projection in this fixed order.
const (
	StageInbox            = "1_inbox"
	StagePendingApproval  = "2_pending_approval"
	StageExecuteWorkspace = "3_execute_workspace"
	StageReviewEvidence   = "4_review_evidence"
	StagePromoted         = "5_promoted"
	StageDemoted          = "6_demoted"
)

// stageOrder fixes the iteration order used wherever stages are listed.
var stageOrder = []string{
	StageInbox, StagePendingApproval, StageExecuteWorkspace,
	StageReviewEvidence, StagePromoted, StageDemoted,
}

// reviewWorthyErrorCodes are the failed-run error codes that promote a
// failure into 4_review_evidence instead of 6_demoted even without a
// linked open incident.
var reviewWorthyErrorCodes = []string{
	"policy_denied", "approval_required", "permission_denied", "external_write_kill_switch",
}

// Item is one row surfaced in a stage. Lease/heartbeat/claim fields are
// deliberately not part of this shape — the pipeline projection is a
// read-only status summary, not a lease-management surface.
type Item struct {
	EntityType  string
	EntityID    string
	Status      string
	UpdatedAt   time.Time
	LastEventID string
}

// StageStat reports how many items a stage holds and whether the response
// was truncated to the caller's limit.
type StageStat struct {
	Count     int
	Truncated bool
}

// Meta carries the response's identifying metadata.
type Meta struct {
	SchemaVersion    string
	GeneratedAt      time.Time
	WatermarkEventID string
}

// Projection is the full pipeline snapshot.
type Projection struct {
	Stages     map[string][]Item
	StageStats map[string]StageStat
	Meta       Meta
}

// Fetch builds a Projection for one workspace. limit bounds each stage
// independently; a stage with more than limit matching rows is truncated
// and its StageStat.Truncated is set, but the response is always 200 —
// there is no pagination.
func Fetch(ctx context.Context, pool *pgxpool.Pool, workspaceID string, limit int) (*Projection, error) {
	if limit <= 0 {
		limit = 50
	}

	proj := &Projection{
		Stages:     make(map[string][]Item, len(stageOrder)),
		StageStats: make(map[string]StageStat, len(stageOrder)),
	}
	for _, stage := range stageOrder {
		proj.Stages[stage] = nil
		proj.StageStats[stage] = StageStat{}
	}

	pending, err := fetchApprovals(ctx, pool, workspaceID, limit)
	if err != nil {
		return nil, fmt.Errorf("fetch pending approvals: %w", err)
	}
	setStage(proj, StagePendingApproval, pending, limit)

	executing, err := fetchRunsByStatus(ctx, pool, workspaceID, []string{"queued", "running"}, limit)
	if err != nil {
		return nil, fmt.Errorf("fetch executing runs: %w", err)
	}
	setStage(proj, StageExecuteWorkspace, executing, limit)

	succeeded, err := fetchRunsByStatus(ctx, pool, workspaceID, []string{"succeeded"}, limit)
	if err != nil {
		return nil, fmt.Errorf("fetch succeeded runs: %w", err)
	}
	reviewWorthyFailed, err := fetchReviewWorthyFailedRuns(ctx, pool, workspaceID, limit)
	if err != nil {
		return nil, fmt.Errorf("fetch review-worthy failed runs: %w", err)
	}
	reviewEvidence := mergeSorted(succeeded, reviewWorthyFailed, limit)
	setStage(proj, StageReviewEvidence, reviewEvidence, limit)

	demoted, err := fetchDemotedFailedRuns(ctx, pool, workspaceID, limit)
	if err != nil {
		return nil, fmt.Errorf("fetch demoted failed runs: %w", err)
	}
	setStage(proj, StageDemoted, demoted, limit)

	proj.Meta = Meta{
		SchemaVersion:    SchemaVersion,
		GeneratedAt:      time.Now().UTC(),
		WatermarkEventID: watermark(proj),
	}
	return proj, nil
}

// setStage truncates rows to limit and records whether it did.
func setStage(proj *Projection, stage string, rows []Item, limit int) {
	truncated := len(rows) > limit
	if truncated {
		rows = rows[:limit]
	}
	proj.Stages[stage] = rows
	proj.StageStats[stage] = StageStat{Count: len(rows), Truncated: truncated}
}

// mergeSorted merges two already-sorted (updated_at DESC, entity_id ASC)
// slices into one such slice, fetching limit+1 worth from each side so the
// merged result still has enough rows to detect truncation accurately.
func mergeSorted(a, b []Item, limit int) []Item {
	merged := make([]Item, 0, len(a)+len(b))
	i, j := 0, 0
	for i < len(a) && j < len(b) {
		if lessItem(a[i], b[j]) {
			merged = append(merged, a[i])
			i++
		} else {
			merged = append(merged, b[j])
			j++
		}
	}
	merged = append(merged, a[i:]...)
	merged = append(merged, b[j:]...)
	return merged
}

func lessItem(x, y Item) bool {
	if !x.UpdatedAt.Equal(y.UpdatedAt) {
		return x.UpdatedAt.After(y.UpdatedAt)
	}
	return x.EntityID < y.EntityID
}

func watermark(proj *Projection) string {
	var latest Item
	found := false
	for _, stage := range stageOrder {
		for _, item := range proj.Stages[stage] {
			if item.LastEventID == "" {
				continue
			}
			if !found || lessItem(item, latest) {
				latest = item
				found = true
			}
		}
	}
	if !found {
		return ""
	}
	return latest.LastEventID
}

func fetchApprovals(ctx context.Context, pool *pgxpool.Pool, workspaceID string, limit int) ([]Item, error) {
	rows, err := pool.Query(ctx, `
		SELECT approval_id, status, updated_at, COALESCE(last_event_id::text, '')
		FROM proj_approvals
		WHERE workspace_id = $1 AND status IN ('pending', 'held')
		ORDER BY updated_at DESC, approval_id ASC
		LIMIT $2`, workspaceID, limit+1)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []Item
	for rows.Next() {
		var it Item
		it.EntityType = "approval"
		if err := rows.Scan(&it.EntityID, &it.Status, &it.UpdatedAt, &it.LastEventID); err != nil {
			return nil, err
		}
		items = append(items, it)
	}
	return items, rows.Err()
}

func fetchRunsByStatus(ctx context.Context, pool *pgxpool.Pool, workspaceID string, statuses []string, limit int) ([]Item, error) {
	rows, err := pool.Query(ctx, `
		SELECT run_id, status, updated_at, COALESCE(last_event_id::text, '')
		FROM proj_runs
		WHERE workspace_id = $1 AND status = ANY($2)
		ORDER BY updated_at DESC, run_id ASC
		LIMIT $3`, workspaceID, statuses, limit+1)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []Item
	for rows.Next() {
		var it Item
		it.EntityType = "run"
		if err := rows.Scan(&it.EntityID, &it.Status, &it.UpdatedAt, &it.LastEventID); err != nil {
			return nil, err
		}
		items = append(items, it)
	}
	return items, rows.Err()
}

func fetchReviewWorthyFailedRuns(ctx context.Context, pool *pgxpool.Pool, workspaceID string, limit int) ([]Item, error) {
	rows, err := pool.Query(ctx, `
		SELECT r.run_id, r.status, r.updated_at, COALESCE(r.last_event_id::text, '')
		FROM proj_runs r
		WHERE r.workspace_id = $1 AND r.status = 'failed'
		  AND (
		    EXISTS (
		      SELECT 1 FROM proj_incidents i
		      WHERE i.status = 'open' AND (i.run_id = r.run_id OR i.correlation_id = r.correlation_id)
		    )
		    OR r.error ->> 'code' = ANY($2)
		  )
		ORDER BY r.updated_at DESC, r.run_id ASC
		LIMIT $3`, workspaceID, reviewWorthyErrorCodes, limit+1)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []Item
	for rows.Next() {
		var it Item
		it.EntityType = "run"
		if err := rows.Scan(&it.EntityID, &it.Status, &it.UpdatedAt, &it.LastEventID); err != nil {
			return nil, err
		}
		items = append(items, it)
	}
	return items, rows.Err()
}

func fetchDemotedFailedRuns(ctx context.Context, pool *pgxpool.Pool, workspaceID string, limit int) ([]Item, error) {
	rows, err := pool.Query(ctx, `
		SELECT r.run_id, r.status, r.updated_at, COALESCE(r.last_event_id::text, '')
		FROM proj_runs r
		WHERE r.workspace_id = $1 AND r.status = 'failed'
		  AND NOT EXISTS (
		    SELECT 1 FROM proj_incidents i
		    WHERE i.status = 'open' AND (i.run_id = r.run_id OR i.correlation_id = r.correlation_id)
		  )
		  AND COALESCE(r.error ->> 'code', '') != ALL($2)
		ORDER BY r.updated_at DESC, r.run_id ASC
		LIMIT $3`, workspaceID, reviewWorthyErrorCodes, limit+1)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []Item
	for rows.Next() {
		var it Item
		it.EntityType = "run"
		if err := rows.Scan(&it.EntityID, &it.Status, &it.UpdatedAt, &it.LastEventID); err != nil {
			return nil, err
		}
		items = append(items, it)
	}
	return items, rows.Err()
}
