package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/marcus-qen/legatorcp/pkg/eventlog"
)

func (s *Server) createArtifactHandler(c *gin.Context) {
	stepID := c.Param("stepId")
	workspaceID, runID, err := s.stepContext(c, stepID)
	if err != nil {
		writeError(c, err)
		return
	}
	var req createArtifactRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	actorType, actorID := extractActor(c)
	_, err = s.writer.Append(c.Request.Context(), eventlog.Envelope{
		EventType:   eventlog.EventArtifactCreated,
		WorkspaceID: workspaceID,
		RunID:       runID,
		StepID:      stepID,
		ActorType:   actorType,
		ActorID:     actorID,
		StreamType:  "workspace",
		StreamID:    workspaceID,
		Data: map[string]interface{}{
			"artifact_id": req.ArtifactID, "step_id": stepID, "kind": req.Kind,
			"uri": req.URI, "metadata": req.Metadata,
		},
		IdempotencyKey: "artifact-create:" + req.ArtifactID,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"artifact_id": req.ArtifactID, "status": "created"})
}

func (s *Server) listArtifactsHandler(c *gin.Context) {
	runID := c.Query("run_id")
	stepID := c.Query("step_id")

	var rows interface {
		Next() bool
		Scan(...interface{}) error
		Close()
		Err() error
	}
	var err error
	switch {
	case stepID != "":
		rows, err = s.pool.Query(c.Request.Context(), `
			SELECT a.artifact_id, a.step_id, st.run_id, a.kind, a.uri, a.created_at
			FROM proj_artifacts a JOIN proj_steps st ON st.step_id = a.step_id
			WHERE a.step_id = $1 ORDER BY a.created_at ASC LIMIT 200`, stepID)
	case runID != "":
		rows, err = s.pool.Query(c.Request.Context(), `
			SELECT a.artifact_id, a.step_id, st.run_id, a.kind, a.uri, a.created_at
			FROM proj_artifacts a JOIN proj_steps st ON st.step_id = a.step_id
			WHERE st.run_id = $1 ORDER BY a.created_at ASC LIMIT 200`, runID)
	default:
		rows, err = s.pool.Query(c.Request.Context(), `
			SELECT a.artifact_id, a.step_id, st.run_id, a.kind, a.uri, a.created_at
			FROM proj_artifacts a JOIN proj_steps st ON st.step_id = a.step_id
			ORDER BY a.created_at DESC LIMIT 200`)
	}
	if err != nil {
		writeError(c, err)
		return
	}
	defer rows.Close()

	var out []gin.H
	for rows.Next() {
		var artifactID, stID, rID, kind, uri string
		var createdAt interface{}
		if err := rows.Scan(&artifactID, &stID, &rID, &kind, &uri, &createdAt); err != nil {
			writeError(c, err)
			return
		}
		out = append(out, gin.H{
			"artifact_id": artifactID, "step_id": stID, "run_id": rID, "kind": kind,
			"uri": uri, "created_at": createdAt,
		})
	}
	c.JSON(http.StatusOK, gin.H{"artifacts": out})
}

func (s *Server) getArtifactHandler(c *gin.Context) {
	artifactID := c.Param("artifactId")
	var stepID, runID, kind, uri string
	var metadataJSON []byte
	err := s.pool.QueryRow(c.Request.Context(), `
		SELECT a.step_id, st.run_id, a.kind, a.uri, a.metadata
		FROM proj_artifacts a JOIN proj_steps st ON st.step_id = a.step_id
		WHERE a.artifact_id = $1`,
		artifactID).Scan(&stepID, &runID, &kind, &uri, &metadataJSON)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"artifact_id": artifactID, "step_id": stepID, "run_id": runID, "kind": kind,
		"uri": uri, "metadata": rawJSON(metadataJSON),
	})
}
