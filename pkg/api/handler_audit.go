package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/marcus-qen/legatorcp/pkg/audit"
)

func (s *Server) verifyHashChainHandler(c *gin.Context) {
	streamType := c.Query("stream_type")
	streamID := c.Query("stream_id")
	limit := 1000
	if l := c.Query("limit"); l != "" {
		if n, err := strconv.Atoi(l); err == nil {
			limit = n
		}
	}
	result, err := s.auditor.VerifyHashChain(c.Request.Context(), streamType, streamID, limit)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (s *Server) listRedactionsHandler(c *gin.Context) {
	limit := 0
	if l := c.Query("limit"); l != "" {
		if n, err := strconv.Atoi(l); err == nil {
			limit = n
		}
	}
	entries, err := s.auditor.QueryRedactionLog(c.Request.Context(), audit.RedactionLogFilter{
		EventID:    c.Query("event_id"),
		RuleID:     c.Query("rule_id"),
		Action:     c.Query("action"),
		StreamType: c.Query("stream_type"),
		StreamID:   c.Query("stream_id"),
		Limit:      limit,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"redactions": entries})
}
