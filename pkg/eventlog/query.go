package eventlog

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
)

// QueryFilter narrows GET /events the way the HTTP layer's query-string
// filters are named in the spec: stream, run_id, correlation_id, an
// event_type CSV, and the two subject identifiers.
type QueryFilter struct {
	WorkspaceID      string
	StreamType       string
	StreamID         string
	RunID            string
	CorrelationID    string
	EventTypes       []string
	SubjectAgentID   string
	SubjectPrincipalID string
	Limit            int
}

// Query lists events matching filter, most recent stream_seq first within
// each stream but overall ordered by recorded_at DESC so a cross-stream
// feed stays chronological.
func Query(ctx context.Context, pool *pgxpool.Pool, filter QueryFilter) ([]*Record, error) {
	limit := filter.Limit
	if limit <= 0 || limit > 1000 {
		limit = 100
	}

	var clauses []string
	var args []interface{}
	arg := func(v interface{}) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	clauses = append(clauses, "workspace_id = "+arg(filter.WorkspaceID))
	if filter.StreamType != "" {
		clauses = append(clauses, "stream_type = "+arg(filter.StreamType))
	}
	if filter.StreamID != "" {
		clauses = append(clauses, "stream_id = "+arg(filter.StreamID))
	}
	if filter.RunID != "" {
		clauses = append(clauses, "run_id = "+arg(filter.RunID))
	}
	if filter.CorrelationID != "" {
		clauses = append(clauses, "correlation_id = "+arg(filter.CorrelationID))
	}
	if len(filter.EventTypes) > 0 {
		clauses = append(clauses, "event_type = ANY("+arg(filter.EventTypes)+")")
	}
	if filter.SubjectAgentID != "" {
		clauses = append(clauses, "actor_id = "+arg(filter.SubjectAgentID))
	}
	if filter.SubjectPrincipalID != "" {
		clauses = append(clauses, "actor_principal_id = "+arg(filter.SubjectPrincipalID))
	}

	query := fmt.Sprintf(`
		SELECT event_id, event_type, event_version, occurred_at, recorded_at, workspace_id,
		       COALESCE(mission_id,''), COALESCE(room_id,''), COALESCE(thread_id,''),
		       COALESCE(run_id,''), COALESCE(step_id,''),
		       actor_type, actor_id, actor_principal_id, zone,
		       stream_type, stream_id, stream_seq,
		       redaction_level, contains_secrets,
		       data, policy_context, model_context, display,
		       correlation_id, causation_id, COALESCE(idempotency_key,''),
		       COALESCE(prev_event_hash,''), event_hash
		FROM evt_events
		WHERE %s
		ORDER BY recorded_at DESC
		LIMIT %s`, strings.Join(clauses, " AND "), arg(limit))

	rows, err := pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	var records []*Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan event row: %w", err)
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// GetByID fetches a single event by ID within a workspace.
func GetByID(ctx context.Context, pool *pgxpool.Pool, workspaceID, eventID string) (*Record, error) {
	row := pool.QueryRow(ctx, `
		SELECT event_id, event_type, event_version, occurred_at, recorded_at, workspace_id,
		       COALESCE(mission_id,''), COALESCE(room_id,''), COALESCE(thread_id,''),
		       COALESCE(run_id,''), COALESCE(step_id,''),
		       actor_type, actor_id, actor_principal_id, zone,
		       stream_type, stream_id, stream_seq,
		       redaction_level, contains_secrets,
		       data, policy_context, model_context, display,
		       correlation_id, causation_id, COALESCE(idempotency_key,''),
		       COALESCE(prev_event_hash,''), event_hash
		FROM evt_events
		WHERE workspace_id = $1 AND event_id = $2`, workspaceID, eventID)
	return scanRecord(row)
}
