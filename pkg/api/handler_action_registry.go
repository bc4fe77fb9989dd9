package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// listActionRegistryHandler serves the action_type rows seeded from
// config/action_registry.yaml at boot. Non-spec but harmless read surface
// for operators inspecting which action types require pre-approval or
// post-review without reading the YAML seed file directly.
func (s *Server) listActionRegistryHandler(c *gin.Context) {
	rows, err := s.pool.Query(c.Request.Context(), `
		SELECT action_type, reversible, zone_required, requires_pre_approval, post_review_required, metadata
		FROM action_registry ORDER BY action_type`)
	if err != nil {
		writeError(c, err)
		return
	}
	defer rows.Close()

	var out []gin.H
	for rows.Next() {
		var actionType string
		var reversible, requiresPreApproval, postReviewRequired bool
		var zoneRequired *string
		var metadata []byte
		if err := rows.Scan(&actionType, &reversible, &zoneRequired, &requiresPreApproval, &postReviewRequired, &metadata); err != nil {
			writeError(c, err)
			return
		}
		entry := gin.H{
			"action_type":           actionType,
			"reversible":            reversible,
			"requires_pre_approval": requiresPreApproval,
			"post_review_required":  postReviewRequired,
			"metadata":              rawJSON(metadata),
		}
		if zoneRequired != nil {
			entry["zone_required"] = *zoneRequired
		}
		out = append(out, entry)
	}
	if err := rows.Err(); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"actions": out})
}
