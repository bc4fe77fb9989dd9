package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

func (s *Server) ensureLegacyPrincipalHandler(c *gin.Context) {
	var req ensureLegacyPrincipalRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	p, err := s.principals.EnsurePrincipalForLegacyActor(c.Request.Context(), req.WorkspaceID, req.ActorType, req.ActorID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"principal_id":      p.PrincipalID,
		"workspace_id":      p.WorkspaceID,
		"principal_type":    p.PrincipalType,
		"legacy_actor_type": p.LegacyActorType,
		"legacy_actor_id":   p.LegacyActorID,
	})
}
