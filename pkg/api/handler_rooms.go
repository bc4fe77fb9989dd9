package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/marcus-qen/legatorcp/pkg/eventlog"
)

func (s *Server) createRoomHandler(c *gin.Context) {
	var req createRoomRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	actorType, actorID := extractActor(c)
	_, err := s.writer.Append(c.Request.Context(), eventlog.Envelope{
		EventType:      eventlog.EventRoomCreated,
		WorkspaceID:    req.WorkspaceID,
		RoomID:         req.RoomID,
		ActorType:      actorType,
		ActorID:        actorID,
		StreamType:     "room",
		StreamID:       req.RoomID,
		Data:           map[string]interface{}{"room_id": req.RoomID, "name": req.Name},
		IdempotencyKey: "room-create:" + req.RoomID,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"room_id": req.RoomID})
}

func (s *Server) listRoomsHandler(c *gin.Context) {
	workspaceID := c.Query("workspace_id")
	rows, err := s.pool.Query(c.Request.Context(), `
		SELECT room_id, workspace_id, name, created_at, updated_at
		FROM proj_rooms WHERE workspace_id = $1 ORDER BY created_at DESC LIMIT 200`, workspaceID)
	if err != nil {
		writeError(c, err)
		return
	}
	defer rows.Close()

	var out []gin.H
	for rows.Next() {
		var roomID, wsID, name string
		var createdAt, updatedAt interface{}
		if err := rows.Scan(&roomID, &wsID, &name, &createdAt, &updatedAt); err != nil {
			writeError(c, err)
			return
		}
		out = append(out, gin.H{"room_id": roomID, "workspace_id": wsID, "name": name, "created_at": createdAt, "updated_at": updatedAt})
	}
	c.JSON(http.StatusOK, gin.H{"rooms": out})
}

func (s *Server) roomWorkspace(c *gin.Context, roomID string) (string, error) {
	var workspaceID string
	err := s.pool.QueryRow(c.Request.Context(), `SELECT workspace_id FROM proj_rooms WHERE room_id = $1`, roomID).Scan(&workspaceID)
	return workspaceID, err
}

func (s *Server) createThreadHandler(c *gin.Context) {
	roomID := c.Param("roomId")
	workspaceID, err := s.roomWorkspace(c, roomID)
	if err != nil {
		writeError(c, err)
		return
	}
	var req createThreadRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	actorType, actorID := extractActor(c)
	_, err = s.writer.Append(c.Request.Context(), eventlog.Envelope{
		EventType:      eventlog.EventThreadCreated,
		WorkspaceID:    workspaceID,
		RoomID:         roomID,
		ThreadID:       req.ThreadID,
		ActorType:      actorType,
		ActorID:        actorID,
		StreamType:     "room",
		StreamID:       roomID,
		Data:           map[string]interface{}{"thread_id": req.ThreadID, "title": req.Title},
		IdempotencyKey: "thread-create:" + req.ThreadID,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"thread_id": req.ThreadID})
}

func (s *Server) listThreadsHandler(c *gin.Context) {
	roomID := c.Param("roomId")
	rows, err := s.pool.Query(c.Request.Context(), `
		SELECT thread_id, room_id, COALESCE(title,''), created_at, updated_at
		FROM proj_threads WHERE room_id = $1 ORDER BY created_at DESC LIMIT 200`, roomID)
	if err != nil {
		writeError(c, err)
		return
	}
	defer rows.Close()

	var out []gin.H
	for rows.Next() {
		var threadID, rID, title string
		var createdAt, updatedAt interface{}
		if err := rows.Scan(&threadID, &rID, &title, &createdAt, &updatedAt); err != nil {
			writeError(c, err)
			return
		}
		out = append(out, gin.H{"thread_id": threadID, "room_id": rID, "title": title, "created_at": createdAt, "updated_at": updatedAt})
	}
	c.JSON(http.StatusOK, gin.H{"threads": out})
}

func (s *Server) threadContext(c *gin.Context, threadID string) (workspaceID, roomID string, err error) {
	err = s.pool.QueryRow(c.Request.Context(), `SELECT workspace_id, room_id FROM proj_threads WHERE thread_id = $1`, threadID).Scan(&workspaceID, &roomID)
	return
}

func (s *Server) postMessageHandler(c *gin.Context) {
	threadID := c.Param("threadId")
	workspaceID, roomID, err := s.threadContext(c, threadID)
	if err != nil {
		writeError(c, err)
		return
	}
	var req postMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	actorType, actorID := extractActor(c)
	_, err = s.writer.Append(c.Request.Context(), eventlog.Envelope{
		EventType:      eventlog.EventMessagePosted,
		WorkspaceID:    workspaceID,
		RoomID:         roomID,
		ThreadID:       threadID,
		ActorType:      actorType,
		ActorID:        actorID,
		StreamType:     "room",
		StreamID:       roomID,
		Data:           map[string]interface{}{"message_id": req.MessageID, "content": req.Content},
		IdempotencyKey: "message-post:" + req.MessageID,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"message_id": req.MessageID})
}

func (s *Server) listMessagesHandler(c *gin.Context) {
	threadID := c.Param("threadId")
	rows, err := s.pool.Query(c.Request.Context(), `
		SELECT message_id, thread_id, actor_type, actor_id, content, contains_secrets, created_at
		FROM proj_messages WHERE thread_id = $1 ORDER BY created_at ASC LIMIT 500`, threadID)
	if err != nil {
		writeError(c, err)
		return
	}
	defer rows.Close()

	var out []gin.H
	for rows.Next() {
		var messageID, tID, actorType, actorID, content string
		var containsSecrets bool
		var createdAt interface{}
		if err := rows.Scan(&messageID, &tID, &actorType, &actorID, &content, &containsSecrets, &createdAt); err != nil {
			writeError(c, err)
			return
		}
		out = append(out, gin.H{
			"message_id": messageID, "thread_id": tID, "actor_type": actorType, "actor_id": actorID,
			"content": content, "contains_secrets": containsSecrets, "created_at": createdAt,
		})
	}
	c.JSON(http.StatusOK, gin.H{"messages": out})
}
