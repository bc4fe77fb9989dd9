package eventlog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/marcus-qen/legatorcp/pkg/apperrors"
	"github.com/marcus-qen/legatorcp/pkg/redaction"
)

// Querier is satisfied by both *pgxpool.Pool and pgx.Tx, so Writer methods
// can run standalone or as part of a caller-managed transaction.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
}

// Writer is the Event Writer (C1): the only code path allowed to insert
// into evt_events.
type Writer struct {
	pool     *pgxpool.Pool
	scanner  *redaction.Scanner
}

// NewWriter builds a Writer backed by pool, scanning every event payload
// with scanner before it is persisted.
func NewWriter(pool *pgxpool.Pool, scanner *redaction.Scanner) *Writer {
	return &Writer{pool: pool, scanner: scanner}
}

// Append runs AppendTx inside a fresh transaction on the pool.
func (w *Writer) Append(ctx context.Context, env Envelope) (*Record, error) {
	tx, err := w.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	rec, err := w.AppendTx(ctx, tx, env)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit append: %w", err)
	}
	return rec, nil
}

// AppendTx implements the full C1 algorithm against an already-open
// transaction, so callers can combine an append with a projection upsert
// atomically.
func (w *Writer) AppendTx(ctx context.Context, tx pgx.Tx, env Envelope) (*Record, error) {
	if env.OccurredAt.IsZero() {
		env.OccurredAt = time.Now().UTC()
	}
	if env.EventVersion == 0 {
		env.EventVersion = 1
	}
	if env.Zone == "" {
		env.Zone = ZoneSupervised
	}

	// Idempotency short-circuit: a savepoint isolates the unique-violation
	// path so it never aborts the caller's outer transaction.
	if env.IdempotencyKey != "" {
		if existing, err := w.findByIdempotencyKey(ctx, tx, env.StreamType, env.StreamID, env.IdempotencyKey); err != nil {
			return nil, err
		} else if existing != nil {
			return existing, nil
		}
	}

	streamSeq, err := w.allocateStreamSeq(ctx, tx, env.StreamType, env.StreamID)
	if err != nil {
		return nil, err
	}

	prevHash, err := w.prevEventHash(ctx, tx, env.StreamType, env.StreamID, streamSeq)
	if err != nil {
		return nil, err
	}

	redactionResult := w.scanner.Scan(env.Data)
	env.Data = redactionResult.MaskedData
	redactionLevel := RedactionNone
	containsSecrets := false
	if redactionResult.Found {
		redactionLevel = RedactionPartial
		containsSecrets = true
	}

	eventID := uuid.New()
	eventHash, err := computeEventHash(env, streamSeq, prevHash)
	if err != nil {
		return nil, err
	}

	rec, err := w.insert(ctx, tx, eventID, env, streamSeq, prevHash, eventHash, redactionLevel, containsSecrets)
	if err != nil {
		return nil, err
	}

	if redactionResult.Found {
		if err := w.recordRedaction(ctx, tx, rec, redactionResult); err != nil {
			return nil, err
		}
	}

	return rec, nil
}

func (w *Writer) findByIdempotencyKey(ctx context.Context, tx Querier, streamType, streamID, key string) (*Record, error) {
	row := tx.QueryRow(ctx, selectByIdempotencyKeySQL, streamType, streamID, key)
	rec, err := scanRecord(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("lookup idempotency key: %w", err)
	}
	return rec, nil
}

// allocateStreamSeq locks the stream-head row FOR UPDATE, creating it if
// absent, and returns the next sequence number.
func (w *Writer) allocateStreamSeq(ctx context.Context, tx Querier, streamType, streamID string) (int64, error) {
	var nextSeq int64
	row := tx.QueryRow(ctx, lockStreamHeadSQL, streamType, streamID)
	err := row.Scan(&nextSeq)
	if errors.Is(err, pgx.ErrNoRows) {
		if _, err := tx.Exec(ctx, insertStreamHeadSQL, streamType, streamID); err != nil {
			return 0, fmt.Errorf("create stream head: %w", err)
		}
		nextSeq = 1
	} else if err != nil {
		return 0, fmt.Errorf("lock stream head: %w", err)
	}

	if _, err := tx.Exec(ctx, bumpStreamHeadSQL, streamType, streamID, nextSeq+1); err != nil {
		return 0, fmt.Errorf("bump stream head: %w", err)
	}
	return nextSeq, nil
}

func (w *Writer) prevEventHash(ctx context.Context, tx Querier, streamType, streamID string, streamSeq int64) (string, error) {
	if streamSeq <= 1 {
		return "", nil
	}
	var hash string
	row := tx.QueryRow(ctx, selectEventHashBySeqSQL, streamType, streamID, streamSeq-1)
	if err := row.Scan(&hash); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", apperrors.New(apperrors.CodeStreamSeqGapDetected,
				fmt.Sprintf("missing predecessor event at seq %d for stream %s/%s", streamSeq-1, streamType, streamID))
		}
		return "", fmt.Errorf("lookup previous event hash: %w", err)
	}
	return hash, nil
}

func (w *Writer) insert(ctx context.Context, tx Querier, eventID uuid.UUID, env Envelope, streamSeq int64, prevHash, eventHash, redactionLevel string, containsSecrets bool) (*Record, error) {
	var principalID interface{}
	if env.ActorPrincipalID != nil {
		principalID = *env.ActorPrincipalID
	}
	var causationID interface{}
	if env.CausationID != nil {
		causationID = *env.CausationID
	}
	var idemKey interface{}
	if env.IdempotencyKey != "" {
		idemKey = env.IdempotencyKey
	}

	dataJSON, err := json.Marshal(toInterfaceMap(env.Data))
	if err != nil {
		return nil, fmt.Errorf("marshal event data: %w", err)
	}
	policyJSON, _ := json.Marshal(env.PolicyContext)
	modelJSON, _ := json.Marshal(env.ModelContext)
	displayJSON, _ := json.Marshal(env.Display)

	row := tx.QueryRow(ctx, insertEventSQL,
		eventID, env.EventType, env.EventVersion, env.OccurredAt, env.WorkspaceID,
		nullableString(env.MissionID), nullableString(env.RoomID), nullableString(env.ThreadID),
		nullableString(env.RunID), nullableString(env.StepID),
		env.ActorType, env.ActorID, principalID, env.Zone,
		env.StreamType, env.StreamID, streamSeq,
		redactionLevel, containsSecrets,
		dataJSON, nullableJSON(policyJSON), nullableJSON(modelJSON), nullableJSON(displayJSON),
		env.CorrelationID, causationID, idemKey, nullableString(prevHash), eventHash,
	)

	rec, err := scanRecord(row)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) {
			if pgErr.Code == "23505" {
				return nil, apperrors.New(apperrors.CodeIdempotencyConflictUnresolved,
					"unique violation on event insert but replay lookup found no row")
			}
			if pgErr.Message != "" && pgErr.Code == "P0001" {
				return nil, apperrors.New(apperrors.CodeAppendOnlyViolation, pgErr.Message)
			}
		}
		return nil, fmt.Errorf("insert event: %w", err)
	}
	return rec, nil
}

func (w *Writer) recordRedaction(ctx context.Context, tx Querier, rec *Record, result redaction.Result) error {
	for _, finding := range result.Findings {
		detail, _ := json.Marshal(map[string]interface{}{
			"pattern": finding.RuleID,
			"field":   finding.Field,
		})
		if _, err := tx.Exec(ctx, insertRedactionLogSQL,
			rec.EventID, finding.RuleID, "masked", rec.StreamType, rec.StreamID, detail); err != nil {
			return fmt.Errorf("insert redaction log: %w", err)
		}
	}

	secretEventData := map[string]interface{}{
		"target_event_id": rec.EventID.String(),
		"reason":          "dlp_pattern_match",
		"redaction_level": RedactionPartial,
	}
	redactedEnv := Envelope{
		EventType:      EventRedacted,
		OccurredAt:     time.Now().UTC(),
		WorkspaceID:    rec.WorkspaceID,
		RoomID:         rec.RoomID,
		ThreadID:       rec.ThreadID,
		RunID:          rec.RunID,
		StepID:         rec.StepID,
		ActorType:      ActorTypeService,
		ActorID:        "eventlog",
		Zone:           rec.Zone,
		StreamType:     rec.StreamType,
		StreamID:       rec.StreamID,
		Data:           secretEventData,
		CorrelationID:  rec.CorrelationID,
		IdempotencyKey: fmt.Sprintf("redact:%s", rec.EventID),
	}
	if _, err := w.AppendTx(ctx, tx.(pgx.Tx), redactedEnv); err != nil {
		return fmt.Errorf("append event.redacted: %w", err)
	}

	detectedEnv := Envelope{
		EventType:     EventSecretLeakedDetected,
		OccurredAt:    time.Now().UTC(),
		WorkspaceID:   rec.WorkspaceID,
		RoomID:        rec.RoomID,
		ThreadID:      rec.ThreadID,
		RunID:         rec.RunID,
		StepID:        rec.StepID,
		ActorType:     ActorTypeService,
		ActorID:       "eventlog",
		Zone:          rec.Zone,
		StreamType:    rec.StreamType,
		StreamID:      rec.StreamID,
		Data:          map[string]interface{}{"source_event_id": rec.EventID.String()},
		CorrelationID: rec.CorrelationID,
		IdempotencyKey: fmt.Sprintf("secret-detected:%s", rec.EventID),
	}
	if _, err := w.AppendTx(ctx, tx.(pgx.Tx), detectedEnv); err != nil {
		return fmt.Errorf("append secret.leaked.detected: %w", err)
	}
	return nil
}

func nullableString(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

func nullableJSON(b []byte) interface{} {
	if len(b) == 0 || string(b) == "null" {
		return nil
	}
	return b
}
