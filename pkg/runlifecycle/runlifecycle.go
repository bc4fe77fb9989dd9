// Package runlifecycle implements the Run Lifecycle & Lease Manager (C7):
// create/start/complete/fail event appends with projection updates, and the
// atomic claim/heartbeat/release/reclaim lease protocol external engines use
// to drive a run to completion with at-most-one active executor.
package runlifecycle

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"hash/fnv"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/marcus-qen/legatorcp/pkg/apperrors"
	"github.com/marcus-qen/legatorcp/pkg/eventlog"
)

// Run status values.
const (
	StatusQueued    = "queued"
	StatusRunning   = "running"
	StatusSucceeded = "succeeded"
	StatusFailed    = "failed"
)

// Run is the projected proj_runs row.
type Run struct {
	RunID            string
	WorkspaceID      string
	RoomID           string
	CorrelationID    string
	Status           string
	Input            map[string]interface{}
	ClaimToken       string
	ClaimedByActorID string
	LeaseExpiresAt   *time.Time
	LeaseHeartbeatAt *time.Time
}

// Manager implements the run lifecycle operations.
type Manager struct {
	pool     *pgxpool.Pool
	writer   *eventlog.Writer
	LeaseTTL time.Duration
}

// NewManager builds a Manager.
func NewManager(pool *pgxpool.Pool, writer *eventlog.Writer, leaseTTL time.Duration) *Manager {
	return &Manager{pool: pool, writer: writer, LeaseTTL: leaseTTL}
}

// advisoryLockKey hashes a workspace id into the int64 key pg_advisory_lock
// needs. A well-known namespace (fnv32 of "legator:runs") is mixed in via
// the two-arg form so this lock space never collides with an unrelated
// advisory lock taken elsewhere in the process.
const advisoryLockNamespace = int32(0x4c45_4741) // "LEGA"

func advisoryLockKey(workspaceID string) (int32, int32) {
	h := fnv.New32a()
	_, _ = h.Write([]byte(workspaceID))
	return advisoryLockNamespace, int32(h.Sum32())
}

// CreateInput is the input to Create.
type CreateInput struct {
	RunID         string
	WorkspaceID   string
	RoomID        string
	CorrelationID string
	ExperimentID  string
	Input         map[string]interface{}
	ActorType     string
	ActorID       string
}

// Create appends run.created and projects a queued run row.
func (m *Manager) Create(ctx context.Context, in CreateInput) (*Run, error) {
	tx, err := m.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin run create: %w", err)
	}
	defer tx.Rollback(ctx)

	streamType, streamID := "workspace", in.WorkspaceID
	if in.RoomID != "" {
		streamType, streamID = "room", in.RoomID
	}

	rec, err := m.writer.AppendTx(ctx, tx, eventlog.Envelope{
		EventType:     eventlog.EventRunCreated,
		WorkspaceID:   in.WorkspaceID,
		RoomID:        in.RoomID,
		RunID:         in.RunID,
		ActorType:     in.ActorType,
		ActorID:       in.ActorID,
		StreamType:    streamType,
		StreamID:      streamID,
		Data:          map[string]interface{}{"run_id": in.RunID, "input": in.Input},
		CorrelationID: in.CorrelationID,
		IdempotencyKey: fmt.Sprintf("run-create:%s", in.RunID),
	})
	if err != nil {
		return nil, err
	}

	inputJSON := in.Input
	if inputJSON == nil {
		inputJSON = map[string]interface{}{}
	}
	inputBytes, err := json.Marshal(inputJSON)
	if err != nil {
		return nil, fmt.Errorf("marshal run input: %w", err)
	}
	if _, err := tx.Exec(ctx, `
		INSERT INTO proj_runs (run_id, workspace_id, room_id, correlation_id, experiment_id, status, input, last_event_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (run_id) DO NOTHING`,
		in.RunID, in.WorkspaceID, nullableString(in.RoomID), in.CorrelationID, nullableString(in.ExperimentID), StatusQueued, inputBytes, rec.EventID); err != nil {
		return nil, fmt.Errorf("project run create: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit run create: %w", err)
	}
	return m.Get(ctx, in.WorkspaceID, in.RunID)
}

// ClaimResult is returned by Claim.
type ClaimResult struct {
	Run            *Run
	ClaimToken     string
	LeaseExpiresAt time.Time
}

// ErrNoRunAvailable is returned by Claim when no queued run matches.
var ErrNoRunAvailable = errors.New("no_run")

// Claim atomically selects one queued run (optionally filtered by room),
// issues a fresh claim token, transitions it to running, and appends
// run.started — all under a per-workspace advisory lock so a concurrent
// Start (see StartWithLock) can never race a Claim.
func (m *Manager) Claim(ctx context.Context, workspaceID, roomFilter, claimerActorID string) (*ClaimResult, error) {
	conn, err := m.pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire connection for claim: %w", err)
	}
	defer conn.Release()

	ns, key := advisoryLockKey(workspaceID)
	if _, err := conn.Exec(ctx, `SELECT pg_advisory_lock($1, $2)`, ns, key); err != nil {
		return nil, fmt.Errorf("acquire advisory lock: %w", err)
	}
	defer func() { _, _ = conn.Exec(ctx, `SELECT pg_advisory_unlock($1, $2)`, ns, key) }()

	tx, err := conn.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin claim transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	query := `
		SELECT run_id FROM proj_runs
		WHERE workspace_id = $1 AND status = $2 AND ($3 = '' OR room_id = $3)
		ORDER BY created_at ASC
		FOR UPDATE SKIP LOCKED
		LIMIT 1`
	var runID string
	err = tx.QueryRow(ctx, query, workspaceID, StatusQueued, roomFilter).Scan(&runID)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNoRunAvailable
	}
	if err != nil {
		return nil, fmt.Errorf("select claimable run: %w", err)
	}

	claimToken, err := randomToken()
	if err != nil {
		return nil, err
	}
	leaseExpiresAt := time.Now().UTC().Add(m.LeaseTTL)

	rec, err := m.writer.AppendTx(ctx, tx, eventlog.Envelope{
		EventType:   eventlog.EventRunStarted,
		WorkspaceID: workspaceID,
		RunID:       runID,
		ActorType:   eventlog.ActorTypeService,
		ActorID:     claimerActorID,
		StreamType:  "workspace",
		StreamID:    workspaceID,
		Data: map[string]interface{}{
			"run_id":      runID,
			"claimer_id":  claimerActorID,
			"claim_token": claimToken,
		},
		IdempotencyKey: fmt.Sprintf("run-claim:%s:%s", runID, claimToken),
	})
	if err != nil {
		return nil, err
	}

	if _, err := tx.Exec(ctx, `
		UPDATE proj_runs
		SET status = $2, claimed_by_actor_id = $3, claim_token = $4,
		    lease_expires_at = $5, lease_heartbeat_at = now(), updated_at = now(), last_event_id = $6
		WHERE run_id = $1`,
		runID, StatusRunning, claimerActorID, claimToken, leaseExpiresAt, rec.EventID); err != nil {
		return nil, fmt.Errorf("project run claim: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit claim: %w", err)
	}

	run, err := m.Get(ctx, workspaceID, runID)
	if err != nil {
		return nil, err
	}
	return &ClaimResult{Run: run, ClaimToken: claimToken, LeaseExpiresAt: leaseExpiresAt}, nil
}

// Heartbeat extends the lease for a run whose claim_token matches.
func (m *Manager) Heartbeat(ctx context.Context, workspaceID, runID, claimToken string) (time.Time, error) {
	newExpiry := time.Now().UTC().Add(m.LeaseTTL)
	tag, err := m.pool.Exec(ctx, `
		UPDATE proj_runs
		SET lease_heartbeat_at = now(), lease_expires_at = $4, updated_at = now()
		WHERE run_id = $1 AND workspace_id = $2 AND claim_token = $3 AND status = $5`,
		runID, workspaceID, claimToken, newExpiry, StatusRunning)
	if err != nil {
		return time.Time{}, fmt.Errorf("heartbeat run: %w", err)
	}
	if tag.RowsAffected() != 1 {
		return time.Time{}, apperrors.New(apperrors.CodeLeaseTokenMismatch, "claim token does not match the current lease holder")
	}
	return newExpiry, nil
}

// Release clears lease fields for a still-running, token-matching run,
// returning it to queued so it can be re-claimed.
func (m *Manager) Release(ctx context.Context, workspaceID, runID, claimToken string) error {
	tag, err := m.pool.Exec(ctx, `
		UPDATE proj_runs
		SET status = $5, claimed_by_actor_id = NULL, claim_token = NULL,
		    lease_expires_at = NULL, lease_heartbeat_at = NULL, updated_at = now()
		WHERE run_id = $1 AND workspace_id = $2 AND claim_token = $3 AND status = $4`,
		runID, workspaceID, claimToken, StatusRunning, StatusQueued)
	if err != nil {
		return fmt.Errorf("release run: %w", err)
	}
	if tag.RowsAffected() != 1 {
		return apperrors.New(apperrors.CodeLeaseTokenMismatch, "claim token does not match the current lease holder")
	}
	return nil
}

// Complete transitions a run to succeeded or failed, clearing lease fields,
// appending run.succeeded/run.failed.
func (m *Manager) Complete(ctx context.Context, workspaceID, runID string, succeeded bool, errPayload map[string]interface{}) error {
	tx, err := m.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin run complete: %w", err)
	}
	defer tx.Rollback(ctx)

	status := StatusSucceeded
	eventType := eventlog.EventRunSucceeded
	if !succeeded {
		status = StatusFailed
		eventType = eventlog.EventRunFailed
	}

	rec, err := m.writer.AppendTx(ctx, tx, eventlog.Envelope{
		EventType:   eventType,
		WorkspaceID: workspaceID,
		RunID:       runID,
		ActorType:   eventlog.ActorTypeService,
		ActorID:     "runlifecycle",
		StreamType:  "workspace",
		StreamID:    workspaceID,
		Data:        map[string]interface{}{"run_id": runID, "error": errPayload},
		IdempotencyKey: fmt.Sprintf("run-complete:%s:%s", runID, status),
	})
	if err != nil {
		return err
	}

	var errBytes interface{}
	if errPayload != nil {
		b, err := json.Marshal(errPayload)
		if err != nil {
			return fmt.Errorf("marshal run error payload: %w", err)
		}
		errBytes = b
	}

	if _, err := tx.Exec(ctx, `
		UPDATE proj_runs
		SET status = $2, error = $3, claimed_by_actor_id = NULL, claim_token = NULL,
		    lease_expires_at = NULL, lease_heartbeat_at = NULL, updated_at = now(), last_event_id = $4
		WHERE run_id = $1`,
		runID, status, errBytes, rec.EventID); err != nil {
		return fmt.Errorf("project run completion: %w", err)
	}

	return tx.Commit(ctx)
}

// ReclaimExpired finds runs whose lease has expired while still running and
// makes them claimable again by clearing their lease fields back to queued.
// A stale heartbeat or release from the original claimer will fail
// lease_token_mismatch once the token has been cleared here.
func (m *Manager) ReclaimExpired(ctx context.Context, workspaceID string) (int, error) {
	tag, err := m.pool.Exec(ctx, `
		UPDATE proj_runs
		SET status = $2, claimed_by_actor_id = NULL, claim_token = NULL,
		    lease_expires_at = NULL, lease_heartbeat_at = NULL, updated_at = now()
		WHERE workspace_id = $1 AND status = $3 AND lease_expires_at < now()`,
		workspaceID, StatusQueued, StatusRunning)
	if err != nil {
		return 0, fmt.Errorf("reclaim expired leases: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

// Get loads one run, including its input payload.
func (m *Manager) Get(ctx context.Context, workspaceID, runID string) (*Run, error) {
	row := m.pool.QueryRow(ctx, `
		SELECT run_id, workspace_id, COALESCE(room_id,''), correlation_id, status, input,
		       COALESCE(claim_token,''), COALESCE(claimed_by_actor_id,''), lease_expires_at, lease_heartbeat_at
		FROM proj_runs WHERE workspace_id = $1 AND run_id = $2`, workspaceID, runID)

	var r Run
	var inputJSON []byte
	err := row.Scan(&r.RunID, &r.WorkspaceID, &r.RoomID, &r.CorrelationID, &r.Status, &inputJSON,
		&r.ClaimToken, &r.ClaimedByActorID, &r.LeaseExpiresAt, &r.LeaseHeartbeatAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperrors.New("run_not_found", "run not found")
	}
	if err != nil {
		return nil, fmt.Errorf("get run: %w", err)
	}
	if len(inputJSON) > 0 {
		if err := json.Unmarshal(inputJSON, &r.Input); err != nil {
			return nil, fmt.Errorf("unmarshal run input: %w", err)
		}
	}
	return &r, nil
}

func randomToken() (string, error) {
	buf := make([]byte, 24)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate claim token: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

func nullableString(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

