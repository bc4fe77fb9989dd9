package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/marcus-qen/legatorcp/pkg/pipeline"
)

func (s *Server) pipelineProjectionHandler(c *gin.Context) {
	workspaceID := c.Query("workspace_id")
	limit := 100
	if l := c.Query("limit"); l != "" {
		if n, err := strconv.Atoi(l); err == nil && n > 0 {
			limit = n
		}
	}

	proj, err := pipeline.Fetch(c.Request.Context(), s.pool, workspaceID, limit)
	if err != nil {
		writeError(c, err)
		return
	}

	stageStats := make(gin.H, len(proj.StageStats))
	for stage, stat := range proj.StageStats {
		stageStats[stage] = gin.H{"returned": stat.Count, "truncated": stat.Truncated}
	}

	c.JSON(http.StatusOK, gin.H{
		"stages": proj.Stages,
		"meta": gin.H{
			"schema_version":    proj.Meta.SchemaVersion,
			"generated_at":      proj.Meta.GeneratedAt,
			"watermark_event_id": proj.Meta.WatermarkEventID,
			"stage_stats":       stageStats,
		},
	})
}
