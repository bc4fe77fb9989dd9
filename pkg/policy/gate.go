package policy

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/marcus-qen/legatorcp/pkg/apperrors"
	"github.com/marcus-qen/legatorcp/pkg/approval"
	"github.com/marcus-qen/legatorcp/pkg/capability"
	"github.com/marcus-qen/legatorcp/pkg/config"
	"github.com/marcus-qen/legatorcp/pkg/eventlog"
	"github.com/marcus-qen/legatorcp/pkg/growth"
	"github.com/marcus-qen/legatorcp/pkg/principal"
)

// sensitiveDataLabels require a matching purpose tag; "restricted" is
// handled separately since it gates on room_id rather than purpose.
var sensitiveDataLabels = map[string]bool{
	"confidential": true, "sensitive_pii": true,
}

// ActionRule is the resolved action_registry row used during evaluation.
type ActionRule struct {
	ZoneRequired        string
	RequiresPreApproval bool
	PostReviewRequired  bool
}

// Gate implements the 9-step unified evaluation pipeline shared by all four
// policy entrypoints. It composes the other C-components directly by
// concrete import rather than through interfaces, following the teacher's
// own policy package's preference for direct service wiring.
type Gate struct {
	pool       *pgxpool.Pool
	writer     *eventlog.Writer
	principals *principal.Resolver
	capability *capability.Service
	approvals  *approval.Service
	growth     *growth.Recorder
	quota      *QuotaLimiter
	cfg        config.Config
	killSwitch bool
	enforce    bool
}

// NewGate builds a Gate.
func NewGate(pool *pgxpool.Pool, writer *eventlog.Writer, principals *principal.Resolver, caps *capability.Service, approvals *approval.Service, growthRecorder *growth.Recorder, quota *QuotaLimiter, cfg config.Config) *Gate {
	return &Gate{
		pool:       pool,
		writer:     writer,
		principals: principals,
		capability: caps,
		approvals:  approvals,
		growth:     growthRecorder,
		quota:      quota,
		cfg:        cfg,
		killSwitch: cfg.KillSwitch,
		enforce:    cfg.EnforcementMode == config.EnforcementEnforce,
	}
}

// Evaluate runs the shared pipeline for any of the four entrypoints; the
// caller is expected to have already set req.Category and the fields
// relevant to that category.
func (g *Gate) Evaluate(ctx context.Context, req Request) Decision {
	d := g.evaluate(ctx, req)
	d = applyEnforcementMode(d, g.enforce)

	if d.Decision != Allow {
		g.recordSideEffects(ctx, req, d)
	}
	return d
}

func (g *Gate) evaluate(ctx context.Context, req Request) Decision {
	// 1. Kill switch.
	if g.killSwitch && req.ActionType == "external.write" {
		return deny(apperrors.CodeExternalWriteKillSwitch)
	}

	// 2. Agent principal binding.
	p, err := g.principals.ValidateAgentBinding(ctx, req.ActorPrincipalID, req.ActorType, req.ActorID)
	if err != nil {
		if appErr, ok := apperrors.As(err); ok {
			return deny(string(appErr.Code))
		}
		return deny("internal_error")
	}

	// 3. Agent quarantine (egress only).
	if p != nil && req.Category == CategoryEgress {
		quarantined, err := growth.IsQuarantined(ctx, g.pool, p.PrincipalID)
		if err != nil {
			return deny("internal_error")
		}
		if quarantined {
			return deny(apperrors.CodeAgentQuarantined)
		}
	}

	// 4. Capability token scope.
	if req.CapabilityTokenID != nil {
		if d, ok := g.checkCapabilityScope(ctx, req); !ok {
			return d
		}
	}

	// 5. Action registry.
	rule, hasRule, err := g.lookupActionRule(ctx, req.ActionType)
	if err != nil {
		return deny("internal_error")
	}
	if hasRule {
		if rule.ZoneRequired != "" && rule.ZoneRequired != req.Zone {
			return deny(apperrors.CodeZoneMismatch)
		}
	}

	// 6. Quota (egress only).
	if req.Category == CategoryEgress && g.quota != nil && req.ActorPrincipalID != nil {
		if !g.quota.Allow(*req.ActorPrincipalID) {
			return deny(apperrors.CodeQuotaExceeded)
		}
	}

	// 7. Data-access rules.
	if req.Category == CategoryDataAccess {
		if d, terminal := g.checkDataAccessRules(req); terminal {
			return d
		}
	}

	// 8. Approval check.
	requiresApproval := req.ActionType == "external.write" || (hasRule && rule.RequiresPreApproval)
	if requiresApproval {
		matched, err := g.approvals.FindMatching(ctx, req.WorkspaceID, req.ActionType, req.RoomID)
		if err != nil {
			return deny("internal_error")
		}
		if matched != nil {
			d := allow("approval_matched")
			d.ApprovalID = matched.ApprovalID
			return withPostReviewContext(d, hasRule, rule)
		}
		return withPostReviewContext(requireApproval("approval_required"), hasRule, rule)
	}

	// 9. Default allow.
	return withPostReviewContext(allow("default_allow"), hasRule, rule)
}

func withPostReviewContext(d Decision, hasRule bool, rule ActionRule) Decision {
	if hasRule && rule.PostReviewRequired {
		if d.Context == nil {
			d.Context = map[string]interface{}{}
		}
		d.Context["post_review_required"] = true
	}
	return d
}

func (g *Gate) checkCapabilityScope(ctx context.Context, req Request) (Decision, bool) {
	if req.ActorPrincipalID == nil {
		return deny(apperrors.CodeAgentPrincipalRequired), false
	}
	tok, err := g.capability.Validate(ctx, *req.CapabilityTokenID, *req.ActorPrincipalID)
	if err != nil {
		if appErr, ok := apperrors.As(err); ok {
			return deny(string(appErr.Code)), false
		}
		return deny("internal_error"), false
	}

	switch req.Category {
	case CategoryAction:
		if !capability.AxisAllows(tok.Scopes.ActionTypes, req.ActionType) {
			return deny(apperrors.CodeEngineActionNotAllowed), false
		}
	case CategoryToolCall:
		if !capability.AxisAllows(tok.Scopes.Tools, req.ToolName) {
			return deny("engine_tool_not_allowed"), false
		}
	case CategoryDataAccess:
		axis := tok.Scopes.DataAccess.Read
		if req.DataAccessMode == "write" {
			axis = tok.Scopes.DataAccess.Write
		}
		if !capability.AxisAllows(axis, req.ResourceLabel) {
			return deny(apperrors.CodeDataAccessDenied), false
		}
	case CategoryEgress:
		if !capability.AxisAllows(tok.Scopes.ActionTypes, "external.write") {
			return deny(apperrors.CodeEngineActionNotAllowed), false
		}
		if !capability.AxisAllows(tok.Scopes.EgressDomains, normalizeDomain(req.EgressDomain)) {
			return deny(apperrors.CodeEngineRoomNotAllowed), false
		}
		if req.RoomID != "" && !capability.AxisAllows(tok.Scopes.Rooms, req.RoomID) {
			return deny(apperrors.CodeEngineRoomScopeRequired), false
		}
	}
	return Decision{}, true
}

func (g *Gate) checkDataAccessRules(req Request) (Decision, bool) {
	if req.ResourceLabel == "restricted" {
		if req.RoomID == "" {
			return deny(apperrors.CodeDataAccessDenied), true
		}
	}
	if sensitiveDataLabels[req.ResourceLabel] && req.PurposeTag == "" {
		d := requireApproval(apperrors.CodeDataAccessPurposeHintMismatch)
		return d, true
	}
	return Decision{}, false
}

func (g *Gate) lookupActionRule(ctx context.Context, actionType string) (ActionRule, bool, error) {
	if actionType == "" {
		return ActionRule{}, false, nil
	}
	var rule ActionRule
	var zoneRequired *string
	row := g.pool.QueryRow(ctx, `
		SELECT zone_required, requires_pre_approval, post_review_required
		FROM action_registry WHERE action_type = $1`, actionType)
	err := row.Scan(&zoneRequired, &rule.RequiresPreApproval, &rule.PostReviewRequired)
	if errors.Is(err, pgx.ErrNoRows) {
		return ActionRule{}, false, nil
	}
	if err != nil {
		return ActionRule{}, false, fmt.Errorf("lookup action rule: %w", err)
	}
	if zoneRequired != nil {
		rule.ZoneRequired = *zoneRequired
	}
	return rule, true, nil
}

func normalizeDomain(domain string) string {
	return strings.ToLower(strings.TrimSuffix(strings.TrimSpace(domain), "."))
}

// recordSideEffects appends policy.denied/policy.requires_approval and
// forwards the failure to the growth layer's learning signal.
func (g *Gate) recordSideEffects(ctx context.Context, req Request, d Decision) {
	eventType := eventlog.EventPolicyDenied
	if d.Decision == RequireApproval {
		eventType = eventlog.EventPolicyRequiresApproval
	}

	streamType, streamID := "workspace", req.WorkspaceID
	if req.RoomID != "" {
		streamType, streamID = "room", req.RoomID
	}

	env := eventlog.Envelope{
		EventType:        eventType,
		WorkspaceID:      req.WorkspaceID,
		RoomID:           req.RoomID,
		ActorType:        req.ActorType,
		ActorID:          req.ActorID,
		ActorPrincipalID: req.ActorPrincipalID,
		StreamType:       streamType,
		StreamID:         streamID,
		Data: map[string]interface{}{
			"reason_code": d.ReasonCode,
			"action":      req.ActionType,
			"blocked":     d.Blocked,
		},
		IdempotencyKey: fmt.Sprintf("policy:%s", policyIdempotencyKey(req)),
	}
	_, _ = g.writer.Append(ctx, env)

	if req.ActorPrincipalID == nil || g.growth == nil {
		return
	}
	_ = g.growth.RecordFailureFromPolicy(ctx, growth.FailureInput{
		WorkspaceID: req.WorkspaceID,
		PrincipalID: *req.ActorPrincipalID,
		IsAgent:     req.ActorType == principal.TypeAgent,
		Category:    req.Category,
		ReasonCode:  d.ReasonCode,
		Blocked:     d.Blocked,
	})
}

func policyIdempotencyKey(req Request) string {
	if req.EventIDForIdempotency != "" {
		return req.EventIDForIdempotency
	}
	principalPart := "none"
	if req.ActorPrincipalID != nil {
		principalPart = req.ActorPrincipalID.String()
	}
	return fmt.Sprintf("%s:%s:%s:%s", req.Category, principalPart, req.ActionType, req.ToolName)
}
