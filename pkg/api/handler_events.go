package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/marcus-qen/legatorcp/pkg/eventlog"
)

func (s *Server) listEventsHandler(c *gin.Context) {
	filter := eventlog.QueryFilter{
		WorkspaceID:        c.Query("workspace_id"),
		StreamType:         c.Query("stream"),
		RunID:              c.Query("run_id"),
		CorrelationID:      c.Query("correlation_id"),
		SubjectAgentID:     c.Query("subject_agent_id"),
		SubjectPrincipalID: c.Query("subject_principal_id"),
	}
	if types := c.Query("event_type"); types != "" {
		filter.EventTypes = strings.Split(types, ",")
	}
	if l := c.Query("limit"); l != "" {
		if n, err := strconv.Atoi(l); err == nil {
			filter.Limit = n
		}
	}

	records, err := eventlog.Query(c.Request.Context(), s.pool, filter)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"events": records})
}

func (s *Server) getEventHandler(c *gin.Context) {
	workspaceID := c.Query("workspace_id")
	rec, err := eventlog.GetByID(c.Request.Context(), s.pool, workspaceID, c.Param("eventId"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, rec)
}

// streamRoomHandler serves GET /v1/streams/rooms/:roomId?from_seq= as an
// SSE feed: it polls the event store and sleeps briefly when idle, resuming
// from the given stream_seq, and closes cleanly on client disconnect.
func (s *Server) streamRoomHandler(c *gin.Context) {
	roomID := c.Param("roomId")
	fromSeq := int64(0)
	if v := c.Query("from_seq"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			fromSeq = n
		}
	}

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")

	ctx := c.Request.Context()
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			rows, err := s.pool.Query(ctx, `
				SELECT event_id, event_type, stream_seq, data, occurred_at
				FROM evt_events
				WHERE stream_type = 'room' AND stream_id = $1 AND stream_seq > $2
				ORDER BY stream_seq ASC`, roomID, fromSeq)
			if err != nil {
				return
			}
			for rows.Next() {
				var eventID, eventType string
				var streamSeq int64
				var dataJSON []byte
				var occurredAt time.Time
				if err := rows.Scan(&eventID, &eventType, &streamSeq, &dataJSON, &occurredAt); err != nil {
					rows.Close()
					return
				}
				var data map[string]interface{}
				_ = json.Unmarshal(dataJSON, &data)
				payload, _ := json.Marshal(gin.H{
					"event_id": eventID, "event_type": eventType, "stream_seq": streamSeq,
					"occurred_at": occurredAt, "data": data,
				})
				fmt.Fprintf(c.Writer, "data: %s\n\n", payload)
				fromSeq = streamSeq
			}
			rows.Close()
			c.Writer.Flush()
		}
	}
}
