// Package egress implements the Egress Broker (C8): domain normalization,
// the authorize_egress policy call, the sec_egress_requests audit row, and
// the egress.requested/allowed/blocked event triple.
package egress

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/marcus-qen/legatorcp/pkg/eventlog"
	"github.com/marcus-qen/legatorcp/pkg/policy"
)

// Broker wraps the Policy Gate's egress entrypoint with domain
// normalization and the durable request ledger.
type Broker struct {
	pool   *pgxpool.Pool
	writer *eventlog.Writer
	gate   *policy.Gate
}

// NewBroker builds a Broker.
func NewBroker(pool *pgxpool.Pool, writer *eventlog.Writer, gate *policy.Gate) *Broker {
	return &Broker{pool: pool, writer: writer, gate: gate}
}

// Request is the input to RequestEgress.
type Request struct {
	WorkspaceID       string
	ActorType         string
	ActorID           string
	ActorPrincipalID  *uuid.UUID
	Zone              string
	Method            string
	URLOrDomain       string
	RoomID            string
	Justification     string
	CapabilityTokenID *uuid.UUID
}

// Result is returned by RequestEgress.
type Result struct {
	Decision   string
	ReasonCode string
	Blocked    bool
	ApprovalID string
	Domain     string
}

// RequestEgress normalizes the target domain, runs it through the policy
// gate's egress category, persists the audit row, and emits the
// egress.requested event plus egress.allowed/egress.blocked.
func (b *Broker) RequestEgress(ctx context.Context, req Request) (*Result, error) {
	domain := NormalizeDomain(req.URLOrDomain)

	streamType, streamID := "workspace", req.WorkspaceID
	if req.RoomID != "" {
		streamType, streamID = "room", req.RoomID
	}

	if _, err := b.writer.Append(ctx, eventlog.Envelope{
		EventType:        eventlog.EventEgressRequested,
		WorkspaceID:      req.WorkspaceID,
		RoomID:           req.RoomID,
		ActorType:        req.ActorType,
		ActorID:          req.ActorID,
		ActorPrincipalID: req.ActorPrincipalID,
		Zone:             req.Zone,
		StreamType:       streamType,
		StreamID:         streamID,
		Data: map[string]interface{}{
			"domain":        domain,
			"method":        req.Method,
			"justification": req.Justification,
		},
	}); err != nil {
		return nil, fmt.Errorf("append egress.requested: %w", err)
	}

	decision := b.gate.Evaluate(ctx, policy.Request{
		WorkspaceID:       req.WorkspaceID,
		ActorType:         req.ActorType,
		ActorID:           req.ActorID,
		ActorPrincipalID:  req.ActorPrincipalID,
		Category:          policy.CategoryEgress,
		ActionType:        "external.write",
		Zone:              req.Zone,
		RoomID:            req.RoomID,
		CapabilityTokenID: req.CapabilityTokenID,
		EgressDomain:      domain,
	})

	var principalArg interface{}
	if req.ActorPrincipalID != nil {
		principalArg = *req.ActorPrincipalID
	}
	approvalArg := interface{}(nil)
	if decision.ApprovalID != "" {
		approvalArg = decision.ApprovalID
	}
	if _, err := b.pool.Exec(ctx, `
		INSERT INTO sec_egress_requests (workspace_id, principal_id, zone, method, domain, url, room_id, decision, blocked, reason_code, approval_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		req.WorkspaceID, principalArg, req.Zone, req.Method, domain, req.URLOrDomain, nullableString(req.RoomID),
		decision.Decision, decision.Blocked, decision.ReasonCode, approvalArg); err != nil {
		return nil, fmt.Errorf("insert egress request row: %w", err)
	}

	eventType := eventlog.EventEgressAllowed
	if decision.Blocked {
		eventType = eventlog.EventEgressBlocked
	}
	if decision.Decision != policy.RequireApproval {
		if _, err := b.writer.Append(ctx, eventlog.Envelope{
			EventType:        eventType,
			WorkspaceID:      req.WorkspaceID,
			RoomID:           req.RoomID,
			ActorType:        req.ActorType,
			ActorID:          req.ActorID,
			ActorPrincipalID: req.ActorPrincipalID,
			Zone:             req.Zone,
			StreamType:       streamType,
			StreamID:         streamID,
			Data: map[string]interface{}{
				"domain":      domain,
				"reason_code": decision.ReasonCode,
			},
		}); err != nil {
			return nil, fmt.Errorf("append egress decision event: %w", err)
		}
	}

	return &Result{
		Decision:   decision.Decision,
		ReasonCode: decision.ReasonCode,
		Blocked:    decision.Blocked,
		ApprovalID: decision.ApprovalID,
		Domain:     domain,
	}, nil
}

// NormalizeDomain lowercases the host and strips port/path/scheme, per the
// broker's step 1. Bare domains (no scheme) are accepted as-is.
func NormalizeDomain(urlOrDomain string) string {
	raw := strings.TrimSpace(urlOrDomain)
	if raw == "" {
		return ""
	}

	candidate := raw
	if !strings.Contains(candidate, "://") {
		candidate = "https://" + candidate
	}

	parsed, err := url.Parse(candidate)
	if err != nil || parsed.Hostname() == "" {
		return strings.ToLower(strings.TrimSuffix(raw, "."))
	}

	return strings.ToLower(strings.TrimSuffix(parsed.Hostname(), "."))
}

func nullableString(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
