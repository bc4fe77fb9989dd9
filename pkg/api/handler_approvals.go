package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/marcus-qen/legatorcp/pkg/approval"
)

func (s *Server) requestApprovalHandler(c *gin.Context) {
	var req requestApprovalRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	workspaceID := c.Query("workspace_id")
	actorType, actorID := extractActor(c)
	a, err := s.approvals.Request(c.Request.Context(), approval.RequestInput{
		ApprovalID:  req.ApprovalID,
		WorkspaceID: workspaceID,
		Scope: approval.Scope{
			ScopeType: req.Scope.ScopeType,
			RoomID:    req.Scope.RoomID,
			Action:    req.Action,
		},
		TTLSeconds:     req.TTLSeconds,
		RequestPayload: req.RequestPayload,
		ActorType:      actorType,
		ActorID:        actorID,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, approvalResponse(a))
}

func (s *Server) decideApprovalHandler(c *gin.Context) {
	workspaceID := c.Query("workspace_id")
	approvalID := c.Param("approvalId")
	var req decideApprovalRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	actorType, actorID := extractActor(c)
	a, err := s.approvals.Decide(c.Request.Context(), workspaceID, approval.DecideInput{
		ApprovalID: approvalID,
		Decision:   req.Decision,
		Reason:     req.Reason,
		ActorType:  actorType,
		ActorID:    actorID,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, approvalResponse(a))
}

func (s *Server) getApprovalHandler(c *gin.Context) {
	workspaceID := c.Query("workspace_id")
	a, err := s.approvals.Get(c.Request.Context(), workspaceID, c.Param("approvalId"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, approvalResponse(a))
}

func (s *Server) listApprovalsHandler(c *gin.Context) {
	workspaceID := c.Query("workspace_id")
	status := c.Query("status")

	var rows interface {
		Next() bool
		Scan(...interface{}) error
		Close()
		Err() error
	}
	var err error
	if status != "" {
		rows, err = s.pool.Query(c.Request.Context(), `
			SELECT approval_id, workspace_id, status, scope, ttl_seconds, request_payload, decision_payload,
			       correlation_id, COALESCE(request_event_id::text,''), decided_at, created_at, updated_at
			FROM proj_approvals WHERE workspace_id = $1 AND status = $2
			ORDER BY created_at DESC LIMIT 200`, workspaceID, status)
	} else {
		rows, err = s.pool.Query(c.Request.Context(), `
			SELECT approval_id, workspace_id, status, scope, ttl_seconds, request_payload, decision_payload,
			       correlation_id, COALESCE(request_event_id::text,''), decided_at, created_at, updated_at
			FROM proj_approvals WHERE workspace_id = $1
			ORDER BY created_at DESC LIMIT 200`, workspaceID)
	}
	if err != nil {
		writeError(c, err)
		return
	}
	defer rows.Close()

	var out []gin.H
	for rows.Next() {
		var approvalID, wsID, status, correlationID, requestEventID string
		var scopeJSON, reqJSON, decJSON []byte
		var ttlSeconds int
		var decidedAt, createdAt, updatedAt interface{}
		if err := rows.Scan(&approvalID, &wsID, &status, &scopeJSON, &ttlSeconds, &reqJSON, &decJSON,
			&correlationID, &requestEventID, &decidedAt, &createdAt, &updatedAt); err != nil {
			writeError(c, err)
			return
		}
		out = append(out, gin.H{
			"approval_id":      approvalID,
			"workspace_id":     wsID,
			"status":           status,
			"scope":            rawJSON(scopeJSON),
			"ttl_seconds":      ttlSeconds,
			"request_payload":  rawJSON(reqJSON),
			"decision_payload": rawJSON(decJSON),
			"decided_at":       decidedAt,
			"created_at":       createdAt,
			"updated_at":       updatedAt,
		})
	}
	c.JSON(http.StatusOK, gin.H{"approvals": out})
}

func approvalResponse(a *approval.Approval) gin.H {
	return gin.H{
		"approval_id":      a.ApprovalID,
		"workspace_id":     a.WorkspaceID,
		"status":           a.Status,
		"scope":            a.Scope,
		"ttl_seconds":      a.TTLSeconds,
		"request_payload":  a.RequestPayload,
		"decision_payload": a.DecisionPayload,
		"decided_at":       a.DecidedAt,
		"created_at":       a.CreatedAt,
		"updated_at":       a.UpdatedAt,
	}
}
