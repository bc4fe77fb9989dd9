package eventlog

import (
	"encoding/json"

	"github.com/jackc/pgx/v5"
)

const selectByIdempotencyKeySQL = `
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
WHERE stream_type = $1 AND stream_id = $2 AND idempotency_key = $3`

const lockStreamHeadSQL = `
SELECT next_seq FROM evt_stream_heads
WHERE stream_type = $1 AND stream_id = $2
FOR UPDATE`

const insertStreamHeadSQL = `
INSERT INTO evt_stream_heads (stream_type, stream_id, next_seq)
VALUES ($1, $2, 2)
ON CONFLICT (stream_type, stream_id) DO NOTHING`

const bumpStreamHeadSQL = `
UPDATE evt_stream_heads SET next_seq = $3
WHERE stream_type = $1 AND stream_id = $2`

const selectEventHashBySeqSQL = `
SELECT event_hash FROM evt_events
WHERE stream_type = $1 AND stream_id = $2 AND stream_seq = $3`

const insertEventSQL = `
INSERT INTO evt_events (
    event_id, event_type, event_version, occurred_at, workspace_id,
    mission_id, room_id, thread_id, run_id, step_id,
    actor_type, actor_id, actor_principal_id, zone,
    stream_type, stream_id, stream_seq,
    redaction_level, contains_secrets,
    data, policy_context, model_context, display,
    correlation_id, causation_id, idempotency_key, prev_event_hash, event_hash
) VALUES (
    $1, $2, $3, $4, $5,
    $6, $7, $8, $9, $10,
    $11, $12, $13, $14,
    $15, $16, $17,
    $18, $19,
    $20, $21, $22, $23,
    $24, $25, $26, $27, $28
)
RETURNING event_id, event_type, event_version, occurred_at, recorded_at, workspace_id,
       COALESCE(mission_id,''), COALESCE(room_id,''), COALESCE(thread_id,''),
       COALESCE(run_id,''), COALESCE(step_id,''),
       actor_type, actor_id, actor_principal_id, zone,
       stream_type, stream_id, stream_seq,
       redaction_level, contains_secrets,
       data, policy_context, model_context, display,
       correlation_id, causation_id, COALESCE(idempotency_key,''),
       COALESCE(prev_event_hash,''), event_hash`

const insertRedactionLogSQL = `
INSERT INTO redaction_log (event_id, rule_id, action, stream_type, stream_id, detail)
VALUES ($1, $2, $3, $4, $5, $6)`

func scanRecord(row pgx.Row) (*Record, error) {
	var rec Record
	var dataJSON, policyJSON, modelJSON, displayJSON []byte

	err := row.Scan(
		&rec.EventID, &rec.EventType, &rec.EventVersion, &rec.OccurredAt, &rec.RecordedAt, &rec.WorkspaceID,
		&rec.MissionID, &rec.RoomID, &rec.ThreadID, &rec.RunID, &rec.StepID,
		&rec.ActorType, &rec.ActorID, &rec.ActorPrincipalID, &rec.Zone,
		&rec.StreamType, &rec.StreamID, &rec.StreamSeq,
		&rec.RedactionLevel, &rec.ContainsSecrets,
		&dataJSON, &policyJSON, &modelJSON, &displayJSON,
		&rec.CorrelationID, &rec.CausationID, &rec.IdempotencyKey,
		&rec.PrevEventHash, &rec.EventHash,
	)
	if err != nil {
		return nil, err
	}

	if len(dataJSON) > 0 {
		if err := json.Unmarshal(dataJSON, &rec.Data); err != nil {
			return nil, err
		}
	}
	if len(policyJSON) > 0 {
		_ = json.Unmarshal(policyJSON, &rec.PolicyContext)
	}
	if len(modelJSON) > 0 {
		_ = json.Unmarshal(modelJSON, &rec.ModelContext)
	}
	if len(displayJSON) > 0 {
		_ = json.Unmarshal(displayJSON, &rec.Display)
	}
	return &rec, nil
}
