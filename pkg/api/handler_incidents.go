package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5"

	"github.com/marcus-qen/legatorcp/pkg/apperrors"
	"github.com/marcus-qen/legatorcp/pkg/eventlog"
)

// openIncidentHandler serves POST /v1/incidents. A repeat call carrying the
// same idempotency_key against an already-open incident of the same ID is
// reported back as a dedup rather than raising append_only_violation, since
// incidents are frequently opened by more than one detector concurrently.
func (s *Server) openIncidentHandler(c *gin.Context) {
	var req openIncidentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	var existingStatus string
	err := s.pool.QueryRow(c.Request.Context(),
		`SELECT status FROM proj_incidents WHERE incident_id = $1`, req.IncidentID).Scan(&existingStatus)
	if err == nil {
		c.JSON(http.StatusOK, gin.H{"incident_id": req.IncidentID, "status": existingStatus, "deduped": true})
		return
	}
	if err != pgx.ErrNoRows {
		writeError(c, err)
		return
	}

	actorType, actorID := extractActor(c)
	idempotencyKey := req.IdempotencyKey
	if idempotencyKey == "" {
		idempotencyKey = "incident-open:" + req.IncidentID
	}
	_, err = s.writer.Append(c.Request.Context(), eventlog.Envelope{
		EventType:     eventlog.EventIncidentOpened,
		WorkspaceID:   req.WorkspaceID,
		RunID:         req.RunID,
		ActorType:     actorType,
		ActorID:       actorID,
		StreamType:    "workspace",
		StreamID:      req.WorkspaceID,
		CorrelationID: req.CorrelationID,
		Data: map[string]interface{}{
			"incident_id": req.IncidentID, "run_id": req.RunID, "summary": req.Summary,
		},
		IdempotencyKey: idempotencyKey,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"incident_id": req.IncidentID, "status": "open", "deduped": false})
}

func (s *Server) attachRCAHandler(c *gin.Context) {
	incidentID := c.Param("incidentId")
	var req attachRCARequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	actorType, actorID := extractActor(c)
	_, err := s.writer.Append(c.Request.Context(), eventlog.Envelope{
		EventType:   eventlog.EventIncidentRCAAttached,
		WorkspaceID: req.WorkspaceID,
		ActorType:   actorType,
		ActorID:     actorID,
		StreamType:  "workspace",
		StreamID:    req.WorkspaceID,
		Data:        map[string]interface{}{"incident_id": incidentID, "rca": req.RCA},
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"incident_id": incidentID, "rca": req.RCA})
}

func (s *Server) addLearningHandler(c *gin.Context) {
	incidentID := c.Param("incidentId")
	var req addLearningRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	actorType, actorID := extractActor(c)
	_, err := s.writer.Append(c.Request.Context(), eventlog.Envelope{
		EventType:   eventlog.EventIncidentLearningAdded,
		WorkspaceID: req.WorkspaceID,
		ActorType:   actorType,
		ActorID:     actorID,
		StreamType:  "workspace",
		StreamID:    req.WorkspaceID,
		Data:        map[string]interface{}{"incident_id": incidentID, "note": req.Note},
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"incident_id": incidentID, "note": req.Note})
}

// closeIncidentHandler enforces that an incident carries both an RCA and at
// least one learning note before it can close, reading proj_incidents and
// proj_incident_learnings directly since incidents have no dedicated
// service layer to hold this precondition.
func (s *Server) closeIncidentHandler(c *gin.Context) {
	incidentID := c.Param("incidentId")
	var req closeIncidentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	var rca *string
	if err := s.pool.QueryRow(c.Request.Context(),
		`SELECT rca FROM proj_incidents WHERE incident_id = $1 AND workspace_id = $2`,
		incidentID, req.WorkspaceID).Scan(&rca); err != nil {
		writeError(c, err)
		return
	}
	if rca == nil || *rca == "" {
		writeError(c, apperrors.New(apperrors.CodeIncidentCloseBlockedMissingRCA, "incident has no RCA attached"))
		return
	}

	var learningCount int
	if err := s.pool.QueryRow(c.Request.Context(),
		`SELECT count(*) FROM proj_incident_learnings WHERE incident_id = $1`, incidentID).Scan(&learningCount); err != nil {
		writeError(c, err)
		return
	}
	if learningCount == 0 {
		writeError(c, apperrors.New(apperrors.CodeIncidentCloseBlockedMissingLearning, "incident has no learning note added"))
		return
	}

	actorType, actorID := extractActor(c)
	_, err := s.writer.Append(c.Request.Context(), eventlog.Envelope{
		EventType:   eventlog.EventIncidentClosed,
		WorkspaceID: req.WorkspaceID,
		ActorType:   actorType,
		ActorID:     actorID,
		StreamType:  "workspace",
		StreamID:    req.WorkspaceID,
		Data:        map[string]interface{}{"incident_id": incidentID},
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"incident_id": incidentID, "status": "closed"})
}

func (s *Server) listIncidentsHandler(c *gin.Context) {
	workspaceID := c.Query("workspace_id")
	status := c.Query("status")

	var rows pgx.Rows
	var err error
	if status != "" {
		rows, err = s.pool.Query(c.Request.Context(), `
			SELECT incident_id, workspace_id, status, COALESCE(run_id,''), COALESCE(rca,''), COALESCE(summary,''), created_at, updated_at, closed_at
			FROM proj_incidents WHERE workspace_id = $1 AND status = $2
			ORDER BY created_at DESC LIMIT 200`, workspaceID, status)
	} else {
		rows, err = s.pool.Query(c.Request.Context(), `
			SELECT incident_id, workspace_id, status, COALESCE(run_id,''), COALESCE(rca,''), COALESCE(summary,''), created_at, updated_at, closed_at
			FROM proj_incidents WHERE workspace_id = $1
			ORDER BY created_at DESC LIMIT 200`, workspaceID)
	}
	if err != nil {
		writeError(c, err)
		return
	}
	defer rows.Close()

	var out []gin.H
	for rows.Next() {
		var incidentID, wsID, status, runID, rca, summary string
		var createdAt, updatedAt, closedAt interface{}
		if err := rows.Scan(&incidentID, &wsID, &status, &runID, &rca, &summary, &createdAt, &updatedAt, &closedAt); err != nil {
			writeError(c, err)
			return
		}
		out = append(out, gin.H{
			"incident_id": incidentID, "workspace_id": wsID, "status": status, "run_id": runID,
			"rca": rca, "summary": summary, "created_at": createdAt, "updated_at": updatedAt, "closed_at": closedAt,
		})
	}
	c.JSON(http.StatusOK, gin.H{"incidents": out})
}

func (s *Server) getIncidentHandler(c *gin.Context) {
	incidentID := c.Param("incidentId")
	var workspaceID, status, runID, rca, summary string
	var createdAt, updatedAt, closedAt interface{}
	err := s.pool.QueryRow(c.Request.Context(), `
		SELECT workspace_id, status, COALESCE(run_id,''), COALESCE(rca,''), COALESCE(summary,''), created_at, updated_at, closed_at
		FROM proj_incidents WHERE incident_id = $1`, incidentID).
		Scan(&workspaceID, &status, &runID, &rca, &summary, &createdAt, &updatedAt, &closedAt)
	if err != nil {
		writeError(c, err)
		return
	}

	learningRows, err := s.pool.Query(c.Request.Context(),
		`SELECT note FROM proj_incident_learnings WHERE incident_id = $1 ORDER BY created_at ASC`, incidentID)
	if err != nil {
		writeError(c, err)
		return
	}
	defer learningRows.Close()
	var learnings []string
	for learningRows.Next() {
		var note string
		if err := learningRows.Scan(&note); err != nil {
			writeError(c, err)
			return
		}
		learnings = append(learnings, note)
	}

	c.JSON(http.StatusOK, gin.H{
		"incident_id": incidentID, "workspace_id": workspaceID, "status": status, "run_id": runID,
		"rca": rca, "summary": summary, "learnings": learnings,
		"created_at": createdAt, "updated_at": updatedAt, "closed_at": closedAt,
	})
}
