// Package principal implements the Principal & Identity Resolver (C3): the
// durable identity registry that legacy (actor_type, actor_id) pairs
// resolve into, and the agent-actor binding check the Policy Gate relies on.
package principal

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/marcus-qen/legatorcp/pkg/apperrors"
)

// Type values for Principal.PrincipalType.
const (
	TypeUser    = "user"
	TypeAgent   = "agent"
	TypeService = "service"
)

// Principal is the durable identity row.
type Principal struct {
	PrincipalID      uuid.UUID
	WorkspaceID      string
	PrincipalType    string
	LegacyActorType  string
	LegacyActorID    string
	DisplayName      string
}

// Resolver resolves and validates principals.
type Resolver struct {
	pool *pgxpool.Pool
}

// NewResolver builds a Resolver.
func NewResolver(pool *pgxpool.Pool) *Resolver {
	return &Resolver{pool: pool}
}

// EnsurePrincipalForLegacyActor performs a SELECT-or-INSERT on
// (legacy_actor_type, legacy_actor_id), idempotent and safe under
// concurrent callers via ON CONFLICT DO NOTHING + re-select.
func (r *Resolver) EnsurePrincipalForLegacyActor(ctx context.Context, workspaceID, actorType, actorID string) (*Principal, error) {
	principalType := actorType
	if principalType != TypeUser && principalType != TypeAgent {
		principalType = TypeService
	}

	row := r.pool.QueryRow(ctx, `
		INSERT INTO principals (workspace_id, principal_type, legacy_actor_type, legacy_actor_id)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (workspace_id, legacy_actor_type, legacy_actor_id) DO UPDATE
		SET legacy_actor_type = EXCLUDED.legacy_actor_type
		RETURNING principal_id, workspace_id, principal_type, COALESCE(legacy_actor_type,''), COALESCE(legacy_actor_id,''), COALESCE(display_name,'')`,
		workspaceID, principalType, actorType, actorID)

	var p Principal
	if err := row.Scan(&p.PrincipalID, &p.WorkspaceID, &p.PrincipalType, &p.LegacyActorType, &p.LegacyActorID, &p.DisplayName); err != nil {
		return nil, fmt.Errorf("ensure principal for legacy actor: %w", err)
	}
	return &p, nil
}

// Get loads a principal by id.
func (r *Resolver) Get(ctx context.Context, principalID uuid.UUID) (*Principal, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT principal_id, workspace_id, principal_type, COALESCE(legacy_actor_type,''), COALESCE(legacy_actor_id,''), COALESCE(display_name,'')
		FROM principals WHERE principal_id = $1`, principalID)

	var p Principal
	err := row.Scan(&p.PrincipalID, &p.WorkspaceID, &p.PrincipalType, &p.LegacyActorType, &p.LegacyActorID, &p.DisplayName)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperrors.New(apperrors.CodeAgentPrincipalNotFound, "principal not found")
	}
	if err != nil {
		return nil, fmt.Errorf("get principal: %w", err)
	}
	return &p, nil
}

// ValidateAgentBinding enforces that an agent actor presents a principal
// whose legacy actor id matches the actor id on the request.
func (r *Resolver) ValidateAgentBinding(ctx context.Context, principalID *uuid.UUID, actorType, actorID string) (*Principal, error) {
	if actorType != TypeAgent {
		return nil, nil
	}
	if principalID == nil {
		return nil, apperrors.New(apperrors.CodeAgentPrincipalRequired, "agent actor must present a principal_id")
	}

	p, err := r.Get(ctx, *principalID)
	if err != nil {
		return nil, err
	}

	if p.LegacyActorID != "" && p.LegacyActorID != actorID {
		return nil, apperrors.New(apperrors.CodeAgentActorIDMismatch,
			fmt.Sprintf("principal %s is bound to actor %q, not %q", p.PrincipalID, p.LegacyActorID, actorID))
	}
	return p, nil
}
