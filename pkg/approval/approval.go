// Package approval implements the Approval Substrate (C6): request/decide
// commands over proj_approvals, and the scope-containment match the Policy
// Gate uses to resolve require_approval decisions into allow.
package approval

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/marcus-qen/legatorcp/pkg/apperrors"
	"github.com/marcus-qen/legatorcp/pkg/eventlog"
)

// Status values.
const (
	StatusPending  = "pending"
	StatusApproved = "approved"
	StatusDenied   = "denied"
	StatusHeld     = "held"
)

// Scope types.
const (
	ScopeTypeRoom      = "room"
	ScopeTypeWorkspace = "workspace"
)

// Scope describes what an approval covers.
type Scope struct {
	ScopeType string `json:"scope_type"`
	RoomID    string `json:"room_id,omitempty"`
	Action    string `json:"action"`
}

// Approval is the persisted proj_approvals row.
type Approval struct {
	ApprovalID      string
	WorkspaceID     string
	Status          string
	Scope           Scope
	TTLSeconds      int
	RequestPayload  map[string]interface{}
	DecisionPayload map[string]interface{}
	CorrelationID   string
	RequestEventID  string
	DecidedAt       *time.Time
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// IsExpired reports whether an approved approval's TTL has elapsed.
func (a *Approval) IsExpired() bool {
	if a.DecidedAt == nil {
		return false
	}
	return time.Now().UTC().After(a.DecidedAt.Add(time.Duration(a.TTLSeconds) * time.Second))
}

// Service implements request/decide/find operations.
type Service struct {
	pool   *pgxpool.Pool
	writer *eventlog.Writer
}

// NewService builds an approval Service.
func NewService(pool *pgxpool.Pool, writer *eventlog.Writer) *Service {
	return &Service{pool: pool, writer: writer}
}

// RequestInput is the input to Request.
type RequestInput struct {
	ApprovalID     string
	WorkspaceID    string
	Scope          Scope
	TTLSeconds     int
	RequestPayload map[string]interface{}
	ActorType      string
	ActorID        string
}

// Request appends approval.requested and projects a pending row.
func (s *Service) Request(ctx context.Context, in RequestInput) (*Approval, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin approval request: %w", err)
	}
	defer tx.Rollback(ctx)

	correlationID := fmt.Sprintf("approval:%s:%s", in.WorkspaceID, in.ApprovalID)
	streamID := in.WorkspaceID
	if in.Scope.ScopeType == ScopeTypeRoom && in.Scope.RoomID != "" {
		streamID = in.Scope.RoomID
	}
	streamType := "workspace"
	if in.Scope.ScopeType == ScopeTypeRoom {
		streamType = "room"
	}

	scopeJSON, _ := json.Marshal(in.Scope)
	payloadJSON, _ := json.Marshal(in.RequestPayload)

	rec, err := s.writer.AppendTx(ctx, tx, eventlog.Envelope{
		EventType:     eventlog.EventApprovalRequested,
		WorkspaceID:   in.WorkspaceID,
		RoomID:        in.Scope.RoomID,
		ActorType:     in.ActorType,
		ActorID:       in.ActorID,
		StreamType:    streamType,
		StreamID:      streamID,
		Data: map[string]interface{}{
			"approval_id": in.ApprovalID,
			"scope":       in.Scope,
			"ttl_seconds": in.TTLSeconds,
			"request_payload": in.RequestPayload,
		},
		CorrelationID:  correlationID,
		IdempotencyKey: fmt.Sprintf("approval-request:%s", in.ApprovalID),
	})
	if err != nil {
		return nil, err
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO proj_approvals (approval_id, workspace_id, status, scope, ttl_seconds, request_payload, correlation_id, request_event_id, last_event_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (approval_id) DO NOTHING`,
		in.ApprovalID, in.WorkspaceID, StatusPending, scopeJSON, in.TTLSeconds, payloadJSON, correlationID, rec.EventID, rec.EventID)
	if err != nil {
		return nil, fmt.Errorf("project approval request: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit approval request: %w", err)
	}

	return s.Get(ctx, in.WorkspaceID, in.ApprovalID)
}

// DecideInput is the input to Decide.
type DecideInput struct {
	ApprovalID string
	Decision   string // approve | deny | hold
	Reason     string
	ActorType  string
	ActorID    string
}

// Decide appends approval.decided and projects the new status. A second
// decision on an already-decided approval is a no-op (round-trip law from
// the testable-properties section).
func (s *Service) Decide(ctx context.Context, workspaceID string, in DecideInput) (*Approval, error) {
	existing, err := s.Get(ctx, workspaceID, in.ApprovalID)
	if err != nil {
		return nil, err
	}
	if existing.Status != StatusPending {
		return existing, nil
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin approval decide: %w", err)
	}
	defer tx.Rollback(ctx)

	newStatus := map[string]string{"approve": StatusApproved, "deny": StatusDenied, "hold": StatusHeld}[in.Decision]
	if newStatus == "" {
		return nil, fmt.Errorf("unknown decision %q", in.Decision)
	}

	streamType := "workspace"
	streamID := workspaceID
	if existing.Scope.ScopeType == ScopeTypeRoom && existing.Scope.RoomID != "" {
		streamType = "room"
		streamID = existing.Scope.RoomID
	}

	decisionPayload := map[string]interface{}{"decision": in.Decision, "reason": in.Reason}
	payloadJSON, _ := json.Marshal(decisionPayload)

	env := eventlog.Envelope{
		EventType:      eventlog.EventApprovalDecided,
		WorkspaceID:    workspaceID,
		RoomID:         existing.Scope.RoomID,
		ActorType:      in.ActorType,
		ActorID:        in.ActorID,
		StreamType:     streamType,
		StreamID:       streamID,
		Data: map[string]interface{}{
			"approval_id": in.ApprovalID,
			"decision":    in.Decision,
			"reason":      in.Reason,
		},
		CorrelationID:  existing.CorrelationID,
		IdempotencyKey: fmt.Sprintf("approval-decide:%s", in.ApprovalID),
	}
	if existing.RequestEventID != "" {
		if parsed, err := uuid.Parse(existing.RequestEventID); err == nil {
			env.CausationID = &parsed
		}
	}

	rec, err := s.writer.AppendTx(ctx, tx, env)
	if err != nil {
		return nil, err
	}

	_, err = tx.Exec(ctx, `
		UPDATE proj_approvals
		SET status = $2, decision_payload = $3, decided_at = now(), updated_at = now(), last_event_id = $4
		WHERE approval_id = $1`,
		in.ApprovalID, newStatus, payloadJSON, rec.EventID)
	if err != nil {
		return nil, fmt.Errorf("project approval decision: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit approval decide: %w", err)
	}

	return s.Get(ctx, workspaceID, in.ApprovalID)
}

// Get loads one approval.
func (s *Service) Get(ctx context.Context, workspaceID, approvalID string) (*Approval, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT approval_id, workspace_id, status, scope, ttl_seconds, request_payload, decision_payload, correlation_id, COALESCE(request_event_id::text,''), decided_at, created_at, updated_at
		FROM proj_approvals WHERE workspace_id = $1 AND approval_id = $2`, workspaceID, approvalID)

	a, err := scanApproval(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperrors.New("approval_not_found", "approval not found")
	}
	if err != nil {
		return nil, fmt.Errorf("get approval: %w", err)
	}
	return a, nil
}

// FindMatching searches for an approved, non-expired approval covering
// action within workspaceID, optionally constrained to roomID.
func (s *Service) FindMatching(ctx context.Context, workspaceID, action, roomID string) (*Approval, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT approval_id, workspace_id, status, scope, ttl_seconds, request_payload, decision_payload, correlation_id, COALESCE(request_event_id::text,''), decided_at, created_at, updated_at
		FROM proj_approvals
		WHERE workspace_id = $1 AND status = $2
		ORDER BY decided_at DESC`, workspaceID, StatusApproved)
	if err != nil {
		return nil, fmt.Errorf("query approvals: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		a, err := scanApproval(rows)
		if err != nil {
			return nil, err
		}
		if a.Scope.Action != action {
			continue
		}
		if a.IsExpired() {
			continue
		}
		if a.Scope.ScopeType == ScopeTypeWorkspace {
			return a, nil
		}
		if a.Scope.ScopeType == ScopeTypeRoom && roomID != "" && a.Scope.RoomID == roomID {
			return a, nil
		}
	}
	return nil, nil
}

type rowLike interface {
	Scan(dest ...interface{}) error
}

func scanApproval(row rowLike) (*Approval, error) {
	var a Approval
	var scopeJSON, reqJSON, decJSON []byte
	err := row.Scan(&a.ApprovalID, &a.WorkspaceID, &a.Status, &scopeJSON, &a.TTLSeconds, &reqJSON, &decJSON, &a.CorrelationID, &a.RequestEventID, &a.DecidedAt, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return nil, err
	}
	_ = json.Unmarshal(scopeJSON, &a.Scope)
	if len(reqJSON) > 0 {
		_ = json.Unmarshal(reqJSON, &a.RequestPayload)
	}
	if len(decJSON) > 0 {
		_ = json.Unmarshal(decJSON, &a.DecisionPayload)
	}
	return &a, nil
}
