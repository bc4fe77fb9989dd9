package audit

import (
	"encoding/json"

	"github.com/jackc/pgx/v5"

	"github.com/marcus-qen/legatorcp/pkg/eventlog"
)

// scanAuditRow scans one row of VerifyHashChain's query into a Record plus
// the two raw hash columns, which live outside Record since Record models
// the row's logical content, not its chain-linkage metadata.
func scanAuditRow(rows pgx.Rows) (*eventlog.Record, string, string, error) {
	var rec eventlog.Record
	var dataJSON, policyJSON, modelJSON, displayJSON []byte
	var prevEventHash, eventHash string

	err := rows.Scan(
		&rec.EventID, &rec.EventType, &rec.EventVersion, &rec.OccurredAt, &rec.WorkspaceID,
		&rec.MissionID, &rec.RoomID, &rec.ThreadID,
		&rec.RunID, &rec.StepID, &rec.ActorType, &rec.ActorID, &rec.ActorPrincipalID,
		&rec.Zone, &rec.StreamType, &rec.StreamID, &rec.StreamSeq,
		&rec.RedactionLevel, &rec.ContainsSecrets,
		&dataJSON, &policyJSON, &modelJSON, &displayJSON,
		&rec.CorrelationID, &rec.CausationID,
		&prevEventHash, &eventHash,
	)
	if err != nil {
		return nil, "", "", err
	}

	if len(dataJSON) > 0 {
		if err := json.Unmarshal(dataJSON, &rec.Data); err != nil {
			return nil, "", "", err
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

	return &rec, prevEventHash, eventHash, nil
}
