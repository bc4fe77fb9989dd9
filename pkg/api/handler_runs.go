package api

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"sort"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/marcus-qen/legatorcp/pkg/apperrors"
	"github.com/marcus-qen/legatorcp/pkg/eventlog"
	"github.com/marcus-qen/legatorcp/pkg/runlifecycle"
)

func (s *Server) createRunHandler(c *gin.Context) {
	var req createRunRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	workspaceID := c.Query("workspace_id")
	actorType, actorID := extractActor(c)
	run, err := s.runs.Create(c.Request.Context(), runlifecycle.CreateInput{
		RunID: req.RunID, WorkspaceID: workspaceID, RoomID: req.RoomID,
		CorrelationID: req.CorrelationID, ExperimentID: req.ExperimentID, Input: req.Input,
		ActorType: actorType, ActorID: actorID,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, runResponse(run))
}

func (s *Server) claimRunHandler(c *gin.Context) {
	var req claimRunRequest
	_ = c.ShouldBindJSON(&req)
	workspaceID := c.Query("workspace_id")
	_, actorID := extractActor(c)

	result, err := s.runs.Claim(c.Request.Context(), workspaceID, req.RoomID, actorID)
	if err != nil {
		if err == runlifecycle.ErrNoRunAvailable {
			c.JSON(http.StatusNoContent, nil)
			return
		}
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"run":              runResponse(result.Run),
		"claim_token":      result.ClaimToken,
		"lease_expires_at": result.LeaseExpiresAt,
	})
}

func (s *Server) startRunHandler(c *gin.Context) {
	// Start conflict: claiming already transitions a run to running under
	// the same per-workspace advisory lock start would use, so an explicit
	// start after claim is a no-op confirming the current state.
	run, err := s.runs.Get(c.Request.Context(), c.Query("workspace_id"), c.Param("runId"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, runResponse(run))
}

func (s *Server) completeRunHandler(c *gin.Context) {
	var req completeRunRequest
	_ = c.ShouldBindJSON(&req)
	if err := s.runs.Complete(c.Request.Context(), c.Query("workspace_id"), c.Param("runId"), true, nil); err != nil {
		writeError(c, err)
		return
	}
	run, err := s.runs.Get(c.Request.Context(), c.Query("workspace_id"), c.Param("runId"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, runResponse(run))
}

func (s *Server) failRunHandler(c *gin.Context) {
	var req failRunRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := s.runs.Complete(c.Request.Context(), c.Query("workspace_id"), c.Param("runId"), false, req.Error); err != nil {
		writeError(c, err)
		return
	}
	run, err := s.runs.Get(c.Request.Context(), c.Query("workspace_id"), c.Param("runId"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, runResponse(run))
}

func (s *Server) createStepHandler(c *gin.Context) {
	var req createStepRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	actorType, actorID := extractActor(c)
	step, err := s.runs.CreateStep(c.Request.Context(), c.Query("workspace_id"), c.Param("runId"), req.StepID, req.Name, actorType, actorID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"step_id": step.StepID, "run_id": step.RunID, "name": step.Name, "status": step.Status})
}

func (s *Server) heartbeatRunHandler(c *gin.Context) {
	var req heartbeatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	expiresAt, err := s.runs.Heartbeat(c.Request.Context(), c.Query("workspace_id"), c.Param("runId"), req.ClaimToken)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"lease_expires_at": expiresAt})
}

func (s *Server) releaseRunHandler(c *gin.Context) {
	var req releaseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := s.runs.Release(c.Request.Context(), c.Query("workspace_id"), c.Param("runId"), req.ClaimToken); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": runlifecycle.StatusQueued})
}

func (s *Server) listRunsHandler(c *gin.Context) {
	workspaceID := c.Query("workspace_id")
	status := c.Query("status")
	limit := 100
	if l := c.Query("limit"); l != "" {
		if n, err := strconv.Atoi(l); err == nil && n > 0 {
			limit = n
		}
	}

	var rows interface {
		Next() bool
		Scan(dest ...interface{}) error
		Close()
		Err() error
	}
	var err error
	if status != "" {
		rows, err = s.pool.Query(c.Request.Context(), `
			SELECT run_id, workspace_id, COALESCE(room_id,''), correlation_id, status, created_at, updated_at
			FROM proj_runs WHERE workspace_id = $1 AND status = $2 ORDER BY created_at DESC LIMIT $3`, workspaceID, status, limit)
	} else {
		rows, err = s.pool.Query(c.Request.Context(), `
			SELECT run_id, workspace_id, COALESCE(room_id,''), correlation_id, status, created_at, updated_at
			FROM proj_runs WHERE workspace_id = $1 ORDER BY created_at DESC LIMIT $2`, workspaceID, limit)
	}
	if err != nil {
		writeError(c, err)
		return
	}
	defer rows.Close()

	var out []gin.H
	for rows.Next() {
		var runID, wsID, roomID, correlationID, st string
		var createdAt, updatedAt interface{}
		if err := rows.Scan(&runID, &wsID, &roomID, &correlationID, &st, &createdAt, &updatedAt); err != nil {
			writeError(c, err)
			return
		}
		out = append(out, gin.H{
			"run_id": runID, "workspace_id": wsID, "room_id": roomID, "correlation_id": correlationID,
			"status": st, "created_at": createdAt, "updated_at": updatedAt,
		})
	}
	c.JSON(http.StatusOK, gin.H{"runs": out})
}

func (s *Server) getRunHandler(c *gin.Context) {
	run, err := s.runs.Get(c.Request.Context(), c.Query("workspace_id"), c.Param("runId"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, runResponse(run))
}

// runResponse strips lease/claim fields the pipeline projection forbids
// from appearing, but run detail reads are allowed to show them — this is
// the one place those fields are legitimately surfaced.
func runResponse(r *runlifecycle.Run) gin.H {
	return gin.H{
		"run_id": r.RunID, "workspace_id": r.WorkspaceID, "room_id": r.RoomID,
		"correlation_id": r.CorrelationID, "status": r.Status, "input": r.Input,
		"claimed_by_actor_id": r.ClaimedByActorID, "lease_expires_at": r.LeaseExpiresAt,
		"lease_heartbeat_at": r.LeaseHeartbeatAt,
	}
}

// evidenceManifest is the deterministic per-run bundle of event/artifact
// pointers and hashes the spec's design notes describe.
type evidenceManifest struct {
	RunID     string   `json:"run_id"`
	StepIDs   []string `json:"step_ids"`
	EventIDs  []string `json:"event_ids"`
	Artifacts []string `json:"artifact_uris"`
}

func (s *Server) getEvidenceHandler(c *gin.Context) {
	workspaceID, runID := c.Query("workspace_id"), c.Param("runId")
	var manifestJSON []byte
	var manifestHash, finalizedAt string
	err := s.pool.QueryRow(c.Request.Context(), `
		SELECT manifest, manifest_hash, finalized_at::text FROM proj_evidence_manifests
		WHERE workspace_id = $1 AND run_id = $2`, workspaceID, runID).Scan(&manifestJSON, &manifestHash, &finalizedAt)
	if err != nil {
		writeError(c, apperrors.New(apperrors.CodeEvidenceNotFinalized, "no finalized evidence manifest for this run"))
		return
	}
	var manifest evidenceManifest
	_ = json.Unmarshal(manifestJSON, &manifest)
	c.JSON(http.StatusOK, gin.H{"manifest": manifest, "manifest_hash": manifestHash, "finalized_at": finalizedAt})
}

func (s *Server) finalizeEvidenceHandler(c *gin.Context) {
	ctx := c.Request.Context()
	workspaceID, runID := c.Query("workspace_id"), c.Param("runId")

	stepRows, err := s.pool.Query(ctx, `SELECT step_id FROM proj_steps WHERE run_id = $1 ORDER BY step_id ASC`, runID)
	if err != nil {
		writeError(c, err)
		return
	}
	var stepIDs []string
	for stepRows.Next() {
		var id string
		if err := stepRows.Scan(&id); err != nil {
			stepRows.Close()
			writeError(c, err)
			return
		}
		stepIDs = append(stepIDs, id)
	}
	stepRows.Close()

	eventRows, err := s.pool.Query(ctx, `SELECT event_id::text FROM evt_events WHERE run_id = $1 ORDER BY stream_seq ASC`, runID)
	if err != nil {
		writeError(c, err)
		return
	}
	var eventIDs []string
	var lastEventID string
	for eventRows.Next() {
		var id string
		if err := eventRows.Scan(&id); err != nil {
			eventRows.Close()
			writeError(c, err)
			return
		}
		eventIDs = append(eventIDs, id)
		lastEventID = id
	}
	eventRows.Close()

	artifactRows, err := s.pool.Query(ctx, `
		SELECT a.uri FROM proj_artifacts a JOIN proj_steps st ON st.step_id = a.step_id
		WHERE st.run_id = $1 ORDER BY a.artifact_id ASC`, runID)
	if err != nil {
		writeError(c, err)
		return
	}
	var artifactURIs []string
	for artifactRows.Next() {
		var uri string
		if err := artifactRows.Scan(&uri); err != nil {
			artifactRows.Close()
			writeError(c, err)
			return
		}
		artifactURIs = append(artifactURIs, uri)
	}
	artifactRows.Close()

	sort.Strings(stepIDs)
	sort.Strings(eventIDs)
	sort.Strings(artifactURIs)

	manifest := evidenceManifest{RunID: runID, StepIDs: stepIDs, EventIDs: eventIDs, Artifacts: artifactURIs}
	manifestJSON, err := json.Marshal(manifest)
	if err != nil {
		writeError(c, err)
		return
	}
	sum := sha256.Sum256(manifestJSON)
	manifestHash := hex.EncodeToString(sum[:])

	var nullableLastEventID interface{}
	if lastEventID != "" {
		nullableLastEventID = lastEventID
	}
	if _, err := s.pool.Exec(ctx, `
		INSERT INTO proj_evidence_manifests (run_id, workspace_id, manifest, manifest_hash, last_event_id)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (run_id) DO UPDATE SET
			manifest = EXCLUDED.manifest, manifest_hash = EXCLUDED.manifest_hash,
			finalized_at = now(), last_event_id = EXCLUDED.last_event_id`,
		runID, workspaceID, manifestJSON, manifestHash, nullableLastEventID); err != nil {
		writeError(c, err)
		return
	}

	_, err = s.writer.Append(ctx, eventlog.Envelope{
		EventType:      eventlog.EventEvidenceManifestCreated,
		WorkspaceID:    workspaceID,
		RunID:          runID,
		ActorType:      eventlog.ActorTypeService,
		ActorID:        "api",
		StreamType:     "workspace",
		StreamID:       workspaceID,
		Data:           map[string]interface{}{"run_id": runID, "manifest_hash": manifestHash},
		IdempotencyKey: "evidence-finalize:" + runID,
	})
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"manifest": manifest, "manifest_hash": manifestHash})
}
