package projection

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/marcus-qen/legatorcp/pkg/eventlog"
)

// Apply dispatches one event by type into the proj_* tables this package
// owns. Event families owned by another component's write path (runs/steps,
// approvals, capability tokens, the growth layer, egress, policy decisions)
// fall through the default case as a no-op: this projector's job is only to
// catch up the families nothing else already keeps current.
func Apply(ctx context.Context, tx pgx.Tx, rec *eventlog.Record) error {
	switch rec.EventType {
	case eventlog.EventRoomCreated:
		return applyRoomCreated(ctx, tx, rec)
	case eventlog.EventThreadCreated:
		return applyThreadCreated(ctx, tx, rec)
	case eventlog.EventMessagePosted:
		return applyMessagePosted(ctx, tx, rec)
	case eventlog.EventToolInvoked:
		return applyToolInvoked(ctx, tx, rec)
	case eventlog.EventToolSucceeded:
		return applyToolOutcome(ctx, tx, rec, "succeeded")
	case eventlog.EventToolFailed:
		return applyToolOutcome(ctx, tx, rec, "failed")
	case eventlog.EventArtifactCreated:
		return applyArtifactCreated(ctx, tx, rec)
	case eventlog.EventIncidentOpened:
		return applyIncidentOpened(ctx, tx, rec)
	case eventlog.EventIncidentRCAAttached:
		return applyIncidentRCAAttached(ctx, tx, rec)
	case eventlog.EventIncidentLearningAdded:
		return applyIncidentLearningAdded(ctx, tx, rec)
	case eventlog.EventIncidentClosed:
		return applyIncidentClosed(ctx, tx, rec)
	default:
		return nil
	}
}

func stringField(data map[string]interface{}, key string) string {
	if data == nil {
		return ""
	}
	v, _ := data[key].(string)
	return v
}

func boolField(data map[string]interface{}, key string) bool {
	if data == nil {
		return false
	}
	v, _ := data[key].(bool)
	return v
}

func jsonField(data map[string]interface{}, key string) ([]byte, error) {
	if data == nil {
		return nil, nil
	}
	v, ok := data[key]
	if !ok || v == nil {
		return nil, nil
	}
	return json.Marshal(v)
}

func applyRoomCreated(ctx context.Context, tx pgx.Tx, rec *eventlog.Record) error {
	roomID := stringField(rec.Data, "room_id")
	if roomID == "" {
		roomID = rec.RoomID
	}
	_, err := tx.Exec(ctx, `
		INSERT INTO proj_rooms (room_id, workspace_id, name, last_event_id)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (room_id) DO UPDATE SET
			name = EXCLUDED.name, updated_at = now(), last_event_id = EXCLUDED.last_event_id`,
		roomID, rec.WorkspaceID, stringField(rec.Data, "name"), rec.EventID)
	if err != nil {
		return fmt.Errorf("upsert proj_rooms: %w", err)
	}
	return nil
}

func applyThreadCreated(ctx context.Context, tx pgx.Tx, rec *eventlog.Record) error {
	threadID := stringField(rec.Data, "thread_id")
	if threadID == "" {
		threadID = rec.ThreadID
	}
	_, err := tx.Exec(ctx, `
		INSERT INTO proj_threads (thread_id, room_id, workspace_id, title, last_event_id)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (thread_id) DO UPDATE SET
			title = EXCLUDED.title, updated_at = now(), last_event_id = EXCLUDED.last_event_id`,
		threadID, rec.RoomID, rec.WorkspaceID, stringField(rec.Data, "title"), rec.EventID)
	if err != nil {
		return fmt.Errorf("upsert proj_threads: %w", err)
	}
	return nil
}

func applyMessagePosted(ctx context.Context, tx pgx.Tx, rec *eventlog.Record) error {
	messageID := stringField(rec.Data, "message_id")
	_, err := tx.Exec(ctx, `
		INSERT INTO proj_messages (message_id, thread_id, workspace_id, actor_type, actor_id, content, contains_secrets, last_event_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (message_id) DO NOTHING`,
		messageID, rec.ThreadID, rec.WorkspaceID, rec.ActorType, rec.ActorID,
		stringField(rec.Data, "content"), boolField(rec.Data, "contains_secrets") || rec.ContainsSecrets, rec.EventID)
	if err != nil {
		return fmt.Errorf("insert proj_messages: %w", err)
	}
	return nil
}

func applyToolInvoked(ctx context.Context, tx pgx.Tx, rec *eventlog.Record) error {
	toolCallID := stringField(rec.Data, "tool_call_id")
	inputJSON, err := jsonField(rec.Data, "input")
	if err != nil {
		return fmt.Errorf("marshal tool input: %w", err)
	}
	_, err = tx.Exec(ctx, `
		INSERT INTO proj_tool_calls (tool_call_id, step_id, workspace_id, tool_name, status, input, last_event_id)
		VALUES ($1, $2, $3, $4, 'invoked', $5, $6)
		ON CONFLICT (tool_call_id) DO UPDATE SET
			updated_at = now(), last_event_id = EXCLUDED.last_event_id`,
		toolCallID, rec.StepID, rec.WorkspaceID, stringField(rec.Data, "tool_name"), inputJSON, rec.EventID)
	if err != nil {
		return fmt.Errorf("upsert proj_tool_calls: %w", err)
	}
	return nil
}

func applyToolOutcome(ctx context.Context, tx pgx.Tx, rec *eventlog.Record, status string) error {
	toolCallID := stringField(rec.Data, "tool_call_id")
	outputJSON, err := jsonField(rec.Data, "output")
	if err != nil {
		return fmt.Errorf("marshal tool output: %w", err)
	}
	errorJSON, err := jsonField(rec.Data, "error")
	if err != nil {
		return fmt.Errorf("marshal tool error: %w", err)
	}
	if _, err := tx.Exec(ctx, `
		UPDATE proj_tool_calls
		SET status = $1, output = COALESCE($2, output), error = COALESCE($3, error), updated_at = now(), last_event_id = $4
		WHERE tool_call_id = $5`,
		status, outputJSON, errorJSON, rec.EventID, toolCallID); err != nil {
		return fmt.Errorf("update proj_tool_calls outcome: %w", err)
	}
	if rec.StepID != "" && status == "succeeded" && outputJSON != nil {
		if _, err := tx.Exec(ctx, `
			UPDATE proj_steps SET output = $1, updated_at = now() WHERE step_id = $2`,
			outputJSON, rec.StepID); err != nil {
			return fmt.Errorf("mirror tool output onto proj_steps: %w", err)
		}
	}
	return nil
}

func applyArtifactCreated(ctx context.Context, tx pgx.Tx, rec *eventlog.Record) error {
	artifactID := stringField(rec.Data, "artifact_id")
	metadataJSON, err := jsonField(rec.Data, "metadata")
	if err != nil {
		return fmt.Errorf("marshal artifact metadata: %w", err)
	}
	if metadataJSON == nil {
		metadataJSON = []byte("{}")
	}
	_, err = tx.Exec(ctx, `
		INSERT INTO proj_artifacts (artifact_id, step_id, workspace_id, kind, uri, metadata, last_event_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (artifact_id) DO NOTHING`,
		artifactID, rec.StepID, rec.WorkspaceID, stringField(rec.Data, "kind"), stringField(rec.Data, "uri"), metadataJSON, rec.EventID)
	if err != nil {
		return fmt.Errorf("insert proj_artifacts: %w", err)
	}
	return nil
}

func applyIncidentOpened(ctx context.Context, tx pgx.Tx, rec *eventlog.Record) error {
	incidentID := stringField(rec.Data, "incident_id")
	_, err := tx.Exec(ctx, `
		INSERT INTO proj_incidents (incident_id, workspace_id, status, run_id, correlation_id, summary, last_event_id)
		VALUES ($1, $2, 'open', $3, $4, $5, $6)
		ON CONFLICT (incident_id) DO NOTHING`,
		incidentID, rec.WorkspaceID, nullableString(rec.RunID), rec.CorrelationID, stringField(rec.Data, "summary"), rec.EventID)
	if err != nil {
		return fmt.Errorf("insert proj_incidents: %w", err)
	}
	return nil
}

func applyIncidentRCAAttached(ctx context.Context, tx pgx.Tx, rec *eventlog.Record) error {
	incidentID := stringField(rec.Data, "incident_id")
	_, err := tx.Exec(ctx, `
		UPDATE proj_incidents SET rca = $1, updated_at = now(), last_event_id = $2 WHERE incident_id = $3`,
		stringField(rec.Data, "rca"), rec.EventID, incidentID)
	if err != nil {
		return fmt.Errorf("update proj_incidents rca: %w", err)
	}
	return nil
}

func applyIncidentLearningAdded(ctx context.Context, tx pgx.Tx, rec *eventlog.Record) error {
	incidentID := stringField(rec.Data, "incident_id")
	_, err := tx.Exec(ctx, `
		INSERT INTO proj_incident_learnings (incident_id, note) VALUES ($1, $2)`,
		incidentID, stringField(rec.Data, "note"))
	if err != nil {
		return fmt.Errorf("insert proj_incident_learnings: %w", err)
	}
	if _, err := tx.Exec(ctx, `
		UPDATE proj_incidents SET updated_at = now(), last_event_id = $1 WHERE incident_id = $2`,
		rec.EventID, incidentID); err != nil {
		return fmt.Errorf("touch proj_incidents on learning add: %w", err)
	}
	return nil
}

func applyIncidentClosed(ctx context.Context, tx pgx.Tx, rec *eventlog.Record) error {
	incidentID := stringField(rec.Data, "incident_id")
	_, err := tx.Exec(ctx, `
		UPDATE proj_incidents SET status = 'closed', closed_at = now(), updated_at = now(), last_event_id = $1 WHERE incident_id = $2`,
		rec.EventID, incidentID)
	if err != nil {
		return fmt.Errorf("close proj_incidents: %w", err)
	}
	return nil
}

func nullableString(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
