// Package capability implements the Capability Token Service (C4): scoped,
// time-bounded delegation tokens with per-axis set-intersection scopes and
// a bounded delegation depth.
package capability

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

// MaxDelegationDepth bounds the chain length from a root token.
const MaxDelegationDepth = 3

// wildcard is the top of every scope axis lattice.
const wildcard = "*"

// Scopes holds the structured per-axis grant.
type Scopes struct {
	Rooms         []string            `json:"rooms"`
	Tools         []string            `json:"tools"`
	EgressDomains []string            `json:"egress_domains"`
	ActionTypes   []string            `json:"action_types"`
	DataAccess    DataAccessScope     `json:"data_access"`
}

// DataAccessScope is the read/write axis pair nested under Scopes.
type DataAccessScope struct {
	Read  []string `json:"read"`
	Write []string `json:"write"`
}

// Token is the persisted capability token row.
type Token struct {
	TokenID              uuid.UUID
	WorkspaceID          string
	IssuedToPrincipalID  uuid.UUID
	GrantedByPrincipalID uuid.UUID
	ParentTokenID        *uuid.UUID
	Scopes               Scopes
	ValidUntil           time.Time
	RevokedAt            *time.Time
}

// IsValid reports whether the token is currently usable.
func (t *Token) IsValid() bool {
	return t.RevokedAt == nil && time.Now().UTC().Before(t.ValidUntil)
}

// Service implements grant/revoke/validate/list operations over
// capability_tokens and delegation_edges.
type Service struct {
	pool   *pgxpool.Pool
	writer *eventlog.Writer
}

// NewService builds a capability Service.
func NewService(pool *pgxpool.Pool, writer *eventlog.Writer) *Service {
	return &Service{pool: pool, writer: writer}
}

// GrantRequest is the input to Grant.
type GrantRequest struct {
	WorkspaceID          string
	IssuedToPrincipalID  uuid.UUID
	GrantedByPrincipalID uuid.UUID
	ParentTokenID        *uuid.UUID
	Scopes               Scopes
	ValidUntil           time.Time
	ActorType            string
	ActorID              string
	CorrelationID         string
}

// Grant issues a new capability token, validating delegation rules and
// computing effective scopes as a per-axis intersection when a parent is
// present.
func (s *Service) Grant(ctx context.Context, req GrantRequest) (*Token, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin grant transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	effectiveScopes := req.Scopes
	var parent *Token

	if req.ParentTokenID != nil {
		parent, err = s.getTx(ctx, tx, *req.ParentTokenID)
		if err != nil {
			return nil, err
		}

		if parent.IssuedToPrincipalID != req.GrantedByPrincipalID {
			s.emitDelegationAttempted(ctx, tx, req, "grantor_not_parent_owner")
			return nil, apperrors.New("grantor_not_parent_owner", "granted_by_principal_id must equal the parent token's holder")
		}
		if !parent.IsValid() {
			s.emitDelegationAttempted(ctx, tx, req, "parent_token_invalid")
			return nil, apperrors.New(apperrors.CodeCapabilityTokenInvalid, "parent token is revoked or expired")
		}

		depth, err := s.delegationDepthTx(ctx, tx, *req.ParentTokenID)
		if err != nil {
			return nil, err
		}
		if depth+1 > MaxDelegationDepth {
			s.emitDelegationAttempted(ctx, tx, req, "delegation_depth_exceeded")
			return nil, apperrors.New("delegation_depth_exceeded", "delegation chain would exceed the maximum depth")
		}

		effectiveScopes = intersectScopes(parent.Scopes, req.Scopes)
		if req.ValidUntil.After(parent.ValidUntil) {
			req.ValidUntil = parent.ValidUntil
		}
	}

	scopesJSON, err := json.Marshal(effectiveScopes)
	if err != nil {
		return nil, fmt.Errorf("marshal scopes: %w", err)
	}

	var parentArg interface{}
	if req.ParentTokenID != nil {
		parentArg = *req.ParentTokenID
	}

	var tokenID uuid.UUID
	row := tx.QueryRow(ctx, `
		INSERT INTO capability_tokens (workspace_id, issued_to_principal_id, granted_by_principal_id, parent_token_id, scopes, valid_until)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING token_id`,
		req.WorkspaceID, req.IssuedToPrincipalID, req.GrantedByPrincipalID, parentArg, scopesJSON, req.ValidUntil)
	if err := row.Scan(&tokenID); err != nil {
		return nil, fmt.Errorf("insert capability token: %w", err)
	}

	if req.ParentTokenID != nil {
		if _, err := tx.Exec(ctx, `
			INSERT INTO delegation_edges (workspace_id, parent_token_id, child_token_id)
			VALUES ($1, $2, $3)`, req.WorkspaceID, *req.ParentTokenID, tokenID); err != nil {
			return nil, fmt.Errorf("insert delegation edge: %w", err)
		}
	}

	eventData := map[string]interface{}{
		"token_id":                tokenID.String(),
		"issued_to_principal_id":  req.IssuedToPrincipalID.String(),
		"granted_by_principal_id": req.GrantedByPrincipalID.String(),
		"scopes":                  effectiveScopes,
	}
	if _, err := s.writer.AppendTx(ctx, tx, eventlog.Envelope{
		EventType:     eventlog.EventCapabilityGranted,
		WorkspaceID:   req.WorkspaceID,
		ActorType:     req.ActorType,
		ActorID:       req.ActorID,
		ActorPrincipalID: &req.GrantedByPrincipalID,
		StreamType:    "workspace",
		StreamID:      req.WorkspaceID,
		Data:          eventData,
		CorrelationID: req.CorrelationID,
	}); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit grant: %w", err)
	}

	return &Token{
		TokenID:              tokenID,
		WorkspaceID:          req.WorkspaceID,
		IssuedToPrincipalID:  req.IssuedToPrincipalID,
		GrantedByPrincipalID: req.GrantedByPrincipalID,
		ParentTokenID:        req.ParentTokenID,
		Scopes:               effectiveScopes,
		ValidUntil:           req.ValidUntil,
	}, nil
}

func (s *Service) emitDelegationAttempted(ctx context.Context, tx pgx.Tx, req GrantRequest, deniedReason string) {
	_, _ = s.writer.AppendTx(ctx, tx, eventlog.Envelope{
		EventType:   eventlog.EventDelegationAttempted,
		WorkspaceID: req.WorkspaceID,
		ActorType:   req.ActorType,
		ActorID:     req.ActorID,
		ActorPrincipalID: &req.GrantedByPrincipalID,
		StreamType:  "workspace",
		StreamID:    req.WorkspaceID,
		Data: map[string]interface{}{
			"parent_token_id":        parentTokenString(req.ParentTokenID),
			"granted_by_principal_id": req.GrantedByPrincipalID.String(),
			"denied_reason":          deniedReason,
		},
		CorrelationID: req.CorrelationID,
	})
}

func parentTokenString(id *uuid.UUID) string {
	if id == nil {
		return ""
	}
	return id.String()
}

// Revoke marks a token revoked and emits agent.capability.revoked.
func (s *Service) Revoke(ctx context.Context, tokenID uuid.UUID, actorType, actorID, correlationID string) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin revoke transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	tok, err := s.getTx(ctx, tx, tokenID)
	if err != nil {
		return err
	}

	if _, err := tx.Exec(ctx, `UPDATE capability_tokens SET revoked_at = now() WHERE token_id = $1 AND revoked_at IS NULL`, tokenID); err != nil {
		return fmt.Errorf("revoke token: %w", err)
	}

	if _, err := s.writer.AppendTx(ctx, tx, eventlog.Envelope{
		EventType:   eventlog.EventCapabilityRevoked,
		WorkspaceID: tok.WorkspaceID,
		ActorType:   actorType,
		ActorID:     actorID,
		StreamType:  "workspace",
		StreamID:    tok.WorkspaceID,
		Data: map[string]interface{}{
			"token_id":               tokenID.String(),
			"issued_to_principal_id": tok.IssuedToPrincipalID.String(),
		},
		CorrelationID: correlationID,
	}); err != nil {
		return err
	}

	return tx.Commit(ctx)
}

// Get loads a token by id.
func (s *Service) Get(ctx context.Context, tokenID uuid.UUID) (*Token, error) {
	return s.getTx(ctx, s.pool, tokenID)
}

func (s *Service) getTx(ctx context.Context, q interface {
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
}, tokenID uuid.UUID) (*Token, error) {
	row := q.QueryRow(ctx, `
		SELECT token_id, workspace_id, issued_to_principal_id, granted_by_principal_id, parent_token_id, scopes, valid_until, revoked_at
		FROM capability_tokens WHERE token_id = $1`, tokenID)

	var t Token
	var scopesJSON []byte
	err := row.Scan(&t.TokenID, &t.WorkspaceID, &t.IssuedToPrincipalID, &t.GrantedByPrincipalID, &t.ParentTokenID, &scopesJSON, &t.ValidUntil, &t.RevokedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperrors.New(apperrors.CodeCapabilityTokenInvalid, "capability token not found")
	}
	if err != nil {
		return nil, fmt.Errorf("get capability token: %w", err)
	}
	if err := json.Unmarshal(scopesJSON, &t.Scopes); err != nil {
		return nil, fmt.Errorf("unmarshal scopes: %w", err)
	}
	return &t, nil
}

// Validate checks a token is usable by the given principal.
func (s *Service) Validate(ctx context.Context, tokenID, principalID uuid.UUID) (*Token, error) {
	tok, err := s.Get(ctx, tokenID)
	if err != nil {
		return nil, err
	}
	if tok.RevokedAt != nil {
		return nil, apperrors.New(apperrors.CodeCapabilityTokenRevoked, "capability token has been revoked")
	}
	if time.Now().UTC().After(tok.ValidUntil) {
		return nil, apperrors.New(apperrors.CodeCapabilityTokenExpired, "capability token has expired")
	}
	if tok.IssuedToPrincipalID != principalID {
		return nil, apperrors.New(apperrors.CodeCapabilityPrincipalMismatch, "capability token is not issued to this principal")
	}
	return tok, nil
}

func (s *Service) delegationDepthTx(ctx context.Context, tx pgx.Tx, tokenID uuid.UUID) (int, error) {
	depth := 0
	current := tokenID
	for depth < MaxDelegationDepth+1 {
		tok, err := s.getTx(ctx, tx, current)
		if err != nil {
			return 0, err
		}
		if tok.ParentTokenID == nil {
			return depth, nil
		}
		depth++
		current = *tok.ParentTokenID
	}
	return depth, nil
}

// intersectScopes computes the per-axis set intersection of child against
// parent, where "*" is the top element of each axis lattice and intersects
// to the peer's value.
func intersectScopes(parent, child Scopes) Scopes {
	return Scopes{
		Rooms:         intersectAxis(parent.Rooms, child.Rooms),
		Tools:         intersectAxis(parent.Tools, child.Tools),
		EgressDomains: intersectAxis(parent.EgressDomains, child.EgressDomains),
		ActionTypes:   intersectAxis(parent.ActionTypes, child.ActionTypes),
		DataAccess: DataAccessScope{
			Read:  intersectAxis(parent.DataAccess.Read, child.DataAccess.Read),
			Write: intersectAxis(parent.DataAccess.Write, child.DataAccess.Write),
		},
	}
}

func intersectAxis(parent, child []string) []string {
	if containsWildcard(parent) {
		return child
	}
	if containsWildcard(child) {
		return parent
	}
	parentSet := make(map[string]bool, len(parent))
	for _, v := range parent {
		parentSet[v] = true
	}
	var out []string
	for _, v := range child {
		if parentSet[v] {
			out = append(out, v)
		}
	}
	return out
}

func containsWildcard(axis []string) bool {
	for _, v := range axis {
		if v == wildcard {
			return true
		}
	}
	return false
}

// AxisAllows reports whether axis contains value or the wildcard.
func AxisAllows(axis []string, value string) bool {
	for _, v := range axis {
		if v == wildcard || v == value {
			return true
		}
	}
	return false
}
