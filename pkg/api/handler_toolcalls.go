package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/marcus-qen/legatorcp/pkg/eventlog"
)

func (s *Server) stepContext(c *gin.Context, stepID string) (workspaceID, runID string, err error) {
	err = s.pool.QueryRow(c.Request.Context(), `SELECT workspace_id, run_id FROM proj_steps WHERE step_id = $1`, stepID).Scan(&workspaceID, &runID)
	return
}

func (s *Server) createToolCallHandler(c *gin.Context) {
	stepID := c.Param("stepId")
	workspaceID, runID, err := s.stepContext(c, stepID)
	if err != nil {
		writeError(c, err)
		return
	}
	var req createToolCallRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	actorType, actorID := extractActor(c)
	_, err = s.writer.Append(c.Request.Context(), eventlog.Envelope{
		EventType:   eventlog.EventToolInvoked,
		WorkspaceID: workspaceID,
		RunID:       runID,
		StepID:      stepID,
		ActorType:   actorType,
		ActorID:     actorID,
		StreamType:  "workspace",
		StreamID:    workspaceID,
		Data: map[string]interface{}{
			"tool_call_id": req.ToolCallID, "step_id": stepID, "tool_name": req.ToolName, "input": req.Input,
		},
		IdempotencyKey: "toolcall-invoke:" + req.ToolCallID,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"tool_call_id": req.ToolCallID, "status": "invoked"})
}

func (s *Server) toolCallContext(c *gin.Context, toolCallID string) (workspaceID, runID, stepID, toolName string, err error) {
	err = s.pool.QueryRow(c.Request.Context(), `
		SELECT tc.workspace_id, st.run_id, tc.step_id, tc.tool_name
		FROM proj_tool_calls tc JOIN proj_steps st ON st.step_id = tc.step_id
		WHERE tc.tool_call_id = $1`, toolCallID).Scan(&workspaceID, &runID, &stepID, &toolName)
	return
}

func (s *Server) succeedToolCallHandler(c *gin.Context) {
	toolCallID := c.Param("toolCallId")
	workspaceID, runID, stepID, toolName, err := s.toolCallContext(c, toolCallID)
	if err != nil {
		writeError(c, err)
		return
	}
	var req succeedToolCallRequest
	_ = c.ShouldBindJSON(&req)
	actorType, actorID := extractActor(c)
	_, err = s.writer.Append(c.Request.Context(), eventlog.Envelope{
		EventType:   eventlog.EventToolSucceeded,
		WorkspaceID: workspaceID,
		RunID:       runID,
		StepID:      stepID,
		ActorType:   actorType,
		ActorID:     actorID,
		StreamType:  "workspace",
		StreamID:    workspaceID,
		Data: map[string]interface{}{
			"tool_call_id": toolCallID, "step_id": stepID, "tool_name": toolName, "output": req.Output,
		},
		IdempotencyKey: "toolcall-succeed:" + toolCallID,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"tool_call_id": toolCallID, "status": "succeeded"})
}

func (s *Server) failToolCallHandler(c *gin.Context) {
	toolCallID := c.Param("toolCallId")
	workspaceID, runID, stepID, toolName, err := s.toolCallContext(c, toolCallID)
	if err != nil {
		writeError(c, err)
		return
	}
	var req failToolCallRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	actorType, actorID := extractActor(c)
	_, err = s.writer.Append(c.Request.Context(), eventlog.Envelope{
		EventType:   eventlog.EventToolFailed,
		WorkspaceID: workspaceID,
		RunID:       runID,
		StepID:      stepID,
		ActorType:   actorType,
		ActorID:     actorID,
		StreamType:  "workspace",
		StreamID:    workspaceID,
		Data: map[string]interface{}{
			"tool_call_id": toolCallID, "step_id": stepID, "tool_name": toolName, "error": req.Error,
		},
		IdempotencyKey: "toolcall-fail:" + toolCallID,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"tool_call_id": toolCallID, "status": "failed"})
}

func (s *Server) listToolCallsHandler(c *gin.Context) {
	stepID := c.Query("step_id")
	rows, err := s.pool.Query(c.Request.Context(), `
		SELECT tool_call_id, step_id, tool_name, status, created_at, updated_at
		FROM proj_tool_calls WHERE step_id = $1 ORDER BY created_at ASC LIMIT 200`, stepID)
	if err != nil {
		writeError(c, err)
		return
	}
	defer rows.Close()

	var out []gin.H
	for rows.Next() {
		var toolCallID, stID, toolName, status string
		var createdAt, updatedAt interface{}
		if err := rows.Scan(&toolCallID, &stID, &toolName, &status, &createdAt, &updatedAt); err != nil {
			writeError(c, err)
			return
		}
		out = append(out, gin.H{
			"tool_call_id": toolCallID, "step_id": stID, "tool_name": toolName, "status": status,
			"created_at": createdAt, "updated_at": updatedAt,
		})
	}
	c.JSON(http.StatusOK, gin.H{"toolcalls": out})
}

func (s *Server) getToolCallHandler(c *gin.Context) {
	toolCallID := c.Param("toolCallId")
	var stepID, toolName, status string
	var inputJSON, outputJSON, errorJSON []byte
	err := s.pool.QueryRow(c.Request.Context(), `
		SELECT step_id, tool_name, status, input, output, error
		FROM proj_tool_calls WHERE tool_call_id = $1`, toolCallID).Scan(&stepID, &toolName, &status, &inputJSON, &outputJSON, &errorJSON)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"tool_call_id": toolCallID, "step_id": stepID, "tool_name": toolName, "status": status,
		"input": rawJSON(inputJSON), "output": rawJSON(outputJSON), "error": rawJSON(errorJSON),
	})
}
