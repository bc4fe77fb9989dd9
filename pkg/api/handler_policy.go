package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/marcus-qen/legatorcp/pkg/policy"
)

// evaluatePolicyHandler serves POST /v1/policy/evaluate. Category is
// inferred from which discriminant fields are populated, mirroring the
// four authorize_* entrypoints the Gate's single pipeline serves.
func (s *Server) evaluatePolicyHandler(c *gin.Context) {
	var req evaluatePolicyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	category := "action"
	switch {
	case req.ToolName != "":
		category = "tool_call"
	case req.ResourceLabel != "":
		category = "data_access"
	case req.Scope.EgressDomain != "":
		category = "egress"
	}

	actorType, actorID := extractActor(c)
	preq := policy.Request{
		WorkspaceID:    req.WorkspaceID,
		ActorType:      actorType,
		ActorID:        actorID,
		Category:       category,
		ActionType:     req.Action,
		ToolName:       req.ToolName,
		ResourceLabel:  req.ResourceLabel,
		DataAccessMode: req.DataAccessMode,
		PurposeTag:     req.PurposeTag,
		Zone:           req.Zone,
		RoomID:         req.Scope.RoomID,
		EgressDomain:   req.Scope.EgressDomain,
	}
	if req.ActorPrincipalID != "" {
		if parsed, err := uuid.Parse(req.ActorPrincipalID); err == nil {
			preq.ActorPrincipalID = &parsed
		}
	}
	if req.CapabilityTokenID != "" {
		if parsed, err := uuid.Parse(req.CapabilityTokenID); err == nil {
			preq.CapabilityTokenID = &parsed
		}
	}

	decision := s.gate.Evaluate(c.Request.Context(), preq)
	c.JSON(http.StatusOK, decision)
}
