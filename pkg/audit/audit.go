// Package audit implements the Audit & Integrity surface (C10): a
// hash-chain verification walk over one stream, and a filtered query over
// the redaction log.
package audit

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/marcus-qen/legatorcp/pkg/eventlog"
)

// ChainVerification is returned by VerifyHashChain.
type ChainVerification struct {
	Valid          bool
	Checked        int
	LastEventHash  string
	FirstMismatch  *MismatchDetail
}

// MismatchDetail pinpoints where the chain first breaks.
type MismatchDetail struct {
	EventID       string
	StreamSeq     int64
	Expected      string
	Actual        string
	MismatchKind  string // "event_hash" | "prev_event_hash_link"
}

// Verifier runs audit queries against the event log.
type Verifier struct {
	pool *pgxpool.Pool
}

// NewVerifier builds a Verifier.
func NewVerifier(pool *pgxpool.Pool) *Verifier {
	return &Verifier{pool: pool}
}

// VerifyHashChain walks events in stream_seq order, recomputes each
// event_hash from its canonical envelope and the previous row's stored
// hash, and compares both the recomputed hash against the stored one and
// the stored prev_event_hash against the prior row's event_hash. It stops
// at the first mismatch.
func (v *Verifier) VerifyHashChain(ctx context.Context, streamType, streamID string, limit int) (*ChainVerification, error) {
	rows, err := v.pool.Query(ctx, `
		SELECT event_id, event_type, event_version, occurred_at, workspace_id,
		       COALESCE(mission_id,''), COALESCE(room_id,''), COALESCE(thread_id,''),
		       COALESCE(run_id,''), COALESCE(step_id,''), actor_type, actor_id, actor_principal_id,
		       COALESCE(zone,''), stream_type, stream_id, stream_seq,
		       COALESCE(redaction_level,''), contains_secrets,
		       data, policy_context, model_context, display,
		       COALESCE(correlation_id,''), causation_id,
		       prev_event_hash, event_hash
		FROM evt_events
		WHERE stream_type = $1 AND stream_id = $2
		ORDER BY stream_seq ASC
		LIMIT $3`, streamType, streamID, limit)
	if err != nil {
		return nil, fmt.Errorf("query stream events: %w", err)
	}
	defer rows.Close()

	result := &ChainVerification{Valid: true}
	var previousEventHash string

	for rows.Next() {
		rec, storedPrevHash, storedEventHash, err := scanAuditRow(rows)
		if err != nil {
			return nil, err
		}

		if result.Checked > 0 && storedPrevHash != previousEventHash {
			result.Valid = false
			result.FirstMismatch = &MismatchDetail{
				EventID:      rec.EventID.String(),
				StreamSeq:    rec.StreamSeq,
				Expected:     previousEventHash,
				Actual:       storedPrevHash,
				MismatchKind: "prev_event_hash_link",
			}
			break
		}

		recomputed, err := eventlog.RecomputeEventHash(*rec, storedPrevHash)
		if err != nil {
			return nil, fmt.Errorf("recompute event hash: %w", err)
		}
		if recomputed != storedEventHash {
			result.Valid = false
			result.FirstMismatch = &MismatchDetail{
				EventID:      rec.EventID.String(),
				StreamSeq:    rec.StreamSeq,
				Expected:     recomputed,
				Actual:       storedEventHash,
				MismatchKind: "event_hash",
			}
			break
		}

		result.Checked++
		result.LastEventHash = storedEventHash
		previousEventHash = storedEventHash
	}

	return result, nil
}

// RedactionLogFilter narrows a redaction log query; zero values are
// unconstrained.
type RedactionLogFilter struct {
	EventID    string
	RuleID     string
	Action     string
	StreamType string
	StreamID   string
	Limit      int
}

// RedactionLogEntry is one redaction_log row.
type RedactionLogEntry struct {
	ID        int64
	EventID   string
	RuleID    string
	Action    string
	Field     string
	CreatedAt string
}

// QueryRedactionLog filters the redaction log by any combination of event
// id, rule id, action, and stream.
func (v *Verifier) QueryRedactionLog(ctx context.Context, filter RedactionLogFilter) ([]RedactionLogEntry, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}

	rows, err := v.pool.Query(ctx, `
		SELECT id, event_id, rule_id, action, COALESCE(field,''), created_at
		FROM redaction_log
		WHERE ($1 = '' OR event_id::text = $1)
		  AND ($2 = '' OR rule_id = $2)
		  AND ($3 = '' OR action = $3)
		ORDER BY created_at DESC
		LIMIT $4`, filter.EventID, filter.RuleID, filter.Action, limit)
	if err != nil {
		return nil, fmt.Errorf("query redaction log: %w", err)
	}
	defer rows.Close()

	var entries []RedactionLogEntry
	for rows.Next() {
		var e RedactionLogEntry
		if err := rows.Scan(&e.ID, &e.EventID, &e.RuleID, &e.Action, &e.Field, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan redaction log entry: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, nil
}
