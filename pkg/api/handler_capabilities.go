package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/marcus-qen/legatorcp/pkg/capability"
)

func (s *Server) grantCapabilityHandler(c *gin.Context) {
	var req grantCapabilityRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	issuedTo, err := uuid.Parse(req.IssuedToPrincipalID)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid issued_to_principal_id"})
		return
	}
	grantedBy, err := uuid.Parse(req.GrantedByPrincipalID)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid granted_by_principal_id"})
		return
	}
	var parentTokenID *uuid.UUID
	if req.ParentTokenID != "" {
		if parsed, err := uuid.Parse(req.ParentTokenID); err == nil {
			parentTokenID = &parsed
		}
	}
	actorType, actorID := extractActor(c)
	token, err := s.caps.Grant(c.Request.Context(), capability.GrantRequest{
		WorkspaceID:          req.WorkspaceID,
		IssuedToPrincipalID:  issuedTo,
		GrantedByPrincipalID: grantedBy,
		ParentTokenID:        parentTokenID,
		Scopes: capability.Scopes{
			Rooms:         req.Scopes.Rooms,
			Tools:         req.Scopes.Tools,
			EgressDomains: req.Scopes.EgressDomains,
			ActionTypes:   req.Scopes.ActionTypes,
			DataAccess: capability.DataAccessScope{
				Read:  req.Scopes.DataAccess.Read,
				Write: req.Scopes.DataAccess.Write,
			},
		},
		ValidUntil: time.Now().UTC().Add(time.Duration(req.ValidSeconds) * time.Second),
		ActorType:  actorType,
		ActorID:    actorID,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, tokenResponse(token))
}

func (s *Server) revokeCapabilityHandler(c *gin.Context) {
	var req revokeCapabilityRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	tokenID, err := uuid.Parse(req.TokenID)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid token_id"})
		return
	}
	actorType, actorID := extractActor(c)
	if err := s.caps.Revoke(c.Request.Context(), tokenID, actorType, actorID, req.CorrelationID); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"token_id": req.TokenID, "status": "revoked"})
}

func (s *Server) getCapabilityHandler(c *gin.Context) {
	tokenID, err := uuid.Parse(c.Param("tokenId"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid token id"})
		return
	}
	token, err := s.caps.Get(c.Request.Context(), tokenID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, tokenResponse(token))
}

func (s *Server) listDelegationsHandler(c *gin.Context) {
	tokenID, err := uuid.Parse(c.Query("token_id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid token_id"})
		return
	}
	rows, err := s.pool.Query(c.Request.Context(), `
		SELECT child_token_id, parent_token_id, created_at
		FROM delegation_edges WHERE parent_token_id = $1 ORDER BY created_at ASC LIMIT 200`, tokenID)
	if err != nil {
		writeError(c, err)
		return
	}
	defer rows.Close()

	var out []gin.H
	for rows.Next() {
		var childID, parentID uuid.UUID
		var createdAt interface{}
		if err := rows.Scan(&childID, &parentID, &createdAt); err != nil {
			writeError(c, err)
			return
		}
		out = append(out, gin.H{"child_token_id": childID, "parent_token_id": parentID, "created_at": createdAt})
	}
	c.JSON(http.StatusOK, gin.H{"delegations": out})
}

func tokenResponse(t *capability.Token) gin.H {
	return gin.H{
		"token_id":                t.TokenID,
		"workspace_id":            t.WorkspaceID,
		"issued_to_principal_id":  t.IssuedToPrincipalID,
		"granted_by_principal_id": t.GrantedByPrincipalID,
		"parent_token_id":         t.ParentTokenID,
		"scopes":                  t.Scopes,
		"valid_until":             t.ValidUntil,
		"revoked_at":              t.RevokedAt,
	}
}
