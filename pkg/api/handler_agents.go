package api

import (
	"encoding/base64"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/marcus-qen/legatorcp/pkg/growth"
)

func (s *Server) registerAgentHandler(c *gin.Context) {
	var req registerAgentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	principalID, err := uuid.Parse(req.PrincipalID)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid principal_id"})
		return
	}
	agentID, err := s.growthRec.RegisterAgent(c.Request.Context(), req.WorkspaceID, principalID, req.DisplayName)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"agent_id": agentID})
}

func (s *Server) listAgentsHandler(c *gin.Context) {
	agents, err := s.growthRec.ListAgents(c.Request.Context(), c.Query("workspace_id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"agents": agents})
}

func (s *Server) getAgentHandler(c *gin.Context) {
	agent, err := s.growthRec.GetAgent(c.Request.Context(), c.Param("agentId"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, agent)
}

func (s *Server) quarantineAgentHandler(c *gin.Context) {
	var req quarantineAgentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	actorType, actorID := extractActor(c)
	if err := s.growthRec.Quarantine(c.Request.Context(), req.WorkspaceID, c.Param("agentId"), req.Reason, actorType, actorID); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"agent_id": c.Param("agentId"), "quarantined": true})
}

func (s *Server) unquarantineAgentHandler(c *gin.Context) {
	var req unquarantineAgentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	actorType, actorID := extractActor(c)
	if err := s.growthRec.Unquarantine(c.Request.Context(), req.WorkspaceID, c.Param("agentId"), actorType, actorID); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"agent_id": c.Param("agentId"), "quarantined": false})
}

func (s *Server) importSkillsHandler(c *gin.Context) {
	var req importSkillsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	var packageID *string
	if req.PackageID != "" {
		packageID = &req.PackageID
	}
	if err := s.growthRec.ImportSkills(c.Request.Context(), c.Param("agentId"), packageID, req.SkillIDs); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"agent_id": c.Param("agentId"), "imported": req.SkillIDs})
}

func (s *Server) reviewPendingSkillsHandler(c *gin.Context) {
	pending, err := s.growthRec.ReviewPending(c.Request.Context(), c.Param("agentId"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"pending": pending})
}

func (s *Server) assessImportedSkillHandler(c *gin.Context) {
	var req assessImportedRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := s.growthRec.AssessImported(c.Request.Context(), req.WorkspaceID, c.Param("agentId"), req.SkillID, req.Outcome); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"agent_id": c.Param("agentId"), "skill_id": req.SkillID, "outcome": req.Outcome})
}

func (s *Server) certifyImportedSkillHandler(c *gin.Context) {
	var req certifyImportedRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := s.growthRec.CertifyImported(c.Request.Context(), c.Param("agentId"), req.SkillID); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"agent_id": c.Param("agentId"), "skill_id": req.SkillID, "certified": true})
}

func (s *Server) importCertifySkillsHandler(c *gin.Context) {
	var req importCertifyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	var packageID *string
	if req.PackageID != "" {
		packageID = &req.PackageID
	}
	results, err := s.growthRec.ImportCertify(c.Request.Context(), req.WorkspaceID, c.Param("agentId"), packageID, req.SkillIDs)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"agent_id": c.Param("agentId"), "results": results})
}

func (s *Server) onboardingStatusHandler(c *gin.Context) {
	status, err := s.growthRec.Onboarding(c.Request.Context(), c.Param("agentId"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, status)
}

func (s *Server) onboardingStatusesHandler(c *gin.Context) {
	statuses, err := s.growthRec.OnboardingStatuses(c.Request.Context(), c.Query("workspace_id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"statuses": statuses})
}

func (s *Server) getTrustHandler(c *gin.Context) {
	trust, err := s.growthRec.GetTrust(c.Request.Context(), c.Param("agentId"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, trust)
}

func (s *Server) recalculateTrustHandler(c *gin.Context) {
	var req recalculateTrustRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	score, components, err := s.growthRec.Recalculate(c.Request.Context(), req.WorkspaceID, c.Param("agentId"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"agent_id":   c.Param("agentId"),
		"score":      score,
		"components": components,
	})
}

func (s *Server) approvalRecommendationHandler(c *gin.Context) {
	rec, err := s.growthRec.Recommend(c.Request.Context(), c.Param("agentId"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, rec)
}

func (s *Server) recommendAutonomyHandler(c *gin.Context) {
	rec, err := s.growthRec.Recommend(c.Request.Context(), c.Param("agentId"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, rec)
}

func (s *Server) approveAutonomyHandler(c *gin.Context) {
	var req approveAutonomyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	agent, err := s.growthRec.GetAgent(c.Request.Context(), c.Param("agentId"))
	if err != nil {
		writeError(c, err)
		return
	}
	if err := s.growthRec.ApproveAutonomy(c.Request.Context(), agent.WorkspaceID, c.Param("agentId"), req.ApprovedBy); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"agent_id": c.Param("agentId"), "autonomy_level": growth.AutonomyAutonomous})
}

func (s *Server) listSkillPackagesHandler(c *gin.Context) {
	packages, err := s.growthRec.ListPackages(c.Request.Context(), c.Query("workspace_id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"packages": packages})
}

func (s *Server) installSkillPackageHandler(c *gin.Context) {
	var req installSkillPackageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	packageID, err := s.growthRec.InstallPackage(c.Request.Context(), req.WorkspaceID, req.AgentID, growth.Manifest{
		Name:      req.Manifest.Name,
		Version:   req.Manifest.Version,
		Signature: req.Manifest.Signature,
		Hash:      req.Manifest.Hash,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"package_id": packageID, "status": growth.PackageStatusPending})
}

func (s *Server) verifySkillPackageHandler(c *gin.Context) {
	var req verifySkillPackageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	rawContent, err := base64.StdEncoding.DecodeString(req.RawContentB64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "raw_content_base64 is not valid base64"})
		return
	}
	packageID := c.Param("packageId")
	if err := s.growthRec.VerifyPackage(c.Request.Context(), req.WorkspaceID, packageID, rawContent); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"package_id": packageID, "status": growth.PackageStatusVerified})
}

func (s *Server) quarantineSkillPackageHandler(c *gin.Context) {
	var req quarantineSkillPackageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	packageID := c.Param("packageId")
	if err := s.growthRec.QuarantinePackage(c.Request.Context(), req.WorkspaceID, packageID, req.Reason); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"package_id": packageID, "status": growth.PackageStatusQuarantined})
}
