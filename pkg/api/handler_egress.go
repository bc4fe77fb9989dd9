package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/marcus-qen/legatorcp/pkg/egress"
)

func (s *Server) requestEgressHandler(c *gin.Context) {
	var req requestEgressRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	actorType, actorID := extractActor(c)
	ereq := egress.Request{
		WorkspaceID:   req.WorkspaceID,
		ActorType:     actorType,
		ActorID:       actorID,
		Zone:          req.Zone,
		Method:        req.Method,
		URLOrDomain:   req.URLOrDomain,
		RoomID:        req.RoomID,
		Justification: req.Justification,
	}
	if req.ActorPrincipalID != "" {
		if parsed, err := uuid.Parse(req.ActorPrincipalID); err == nil {
			ereq.ActorPrincipalID = &parsed
		}
	}
	if req.CapabilityTokenID != "" {
		if parsed, err := uuid.Parse(req.CapabilityTokenID); err == nil {
			ereq.CapabilityTokenID = &parsed
		}
	}

	result, err := s.egressB.RequestEgress(c.Request.Context(), ereq)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"decision":    result.Decision,
		"reason_code": result.ReasonCode,
		"blocked":     result.Blocked,
		"approval_id": result.ApprovalID,
		"domain":      result.Domain,
	})
}

func (s *Server) listEgressRequestsHandler(c *gin.Context) {
	workspaceID := c.Query("workspace_id")
	rows, err := s.pool.Query(c.Request.Context(), `
		SELECT id, workspace_id, domain, method, decision, created_at
		FROM sec_egress_requests WHERE workspace_id = $1 ORDER BY created_at DESC LIMIT 200`, workspaceID)
	if err != nil {
		writeError(c, err)
		return
	}
	defer rows.Close()

	var out []gin.H
	for rows.Next() {
		var requestID int64
		var wsID, domain, method, decision string
		var createdAt interface{}
		if err := rows.Scan(&requestID, &wsID, &domain, &method, &decision, &createdAt); err != nil {
			writeError(c, err)
			return
		}
		out = append(out, gin.H{
			"request_id": requestID, "workspace_id": wsID, "domain": domain,
			"method": method, "decision": decision, "created_at": createdAt,
		})
	}
	c.JSON(http.StatusOK, gin.H{"egress_requests": out})
}
