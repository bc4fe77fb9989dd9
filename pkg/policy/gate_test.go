package policy

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeDomainLowercasesAndStripsTrailingDot(t *testing.T) {
	assert.Equal(t, "example.com", normalizeDomain("Example.com."))
	assert.Equal(t, "example.com", normalizeDomain("  example.com  "))
}

func TestApplyEnforcementModeShadowHidesBlocked(t *testing.T) {
	d := deny("policy_denied")
	shadowed := applyEnforcementMode(d, false)
	assert.False(t, shadowed.Blocked)
	assert.Equal(t, Deny, shadowed.Decision)

	enforced := applyEnforcementMode(d, true)
	assert.True(t, enforced.Blocked)
}

func TestApplyEnforcementModeLeavesRequireApprovalNonBlocking(t *testing.T) {
	d := requireApproval("approval_required")
	assert.False(t, applyEnforcementMode(d, true).Blocked)
}

func TestWithPostReviewContextAddsFlagOnlyWhenRuleRequiresIt(t *testing.T) {
	d := allow("default_allow")
	out := withPostReviewContext(d, true, ActionRule{PostReviewRequired: true})
	assert.Equal(t, true, out.Context["post_review_required"])

	out2 := withPostReviewContext(allow("default_allow"), true, ActionRule{PostReviewRequired: false})
	assert.Nil(t, out2.Context)
}

func TestCheckDataAccessRulesRestrictedRequiresRoom(t *testing.T) {
	g := &Gate{}
	d, terminal := g.checkDataAccessRules(Request{ResourceLabel: "restricted"})
	assert.True(t, terminal)
	assert.Equal(t, Deny, d.Decision)

	_, terminal2 := g.checkDataAccessRules(Request{ResourceLabel: "restricted", RoomID: "room-1"})
	assert.False(t, terminal2)
}

func TestCheckDataAccessRulesSensitiveWithoutPurposeRequiresApproval(t *testing.T) {
	g := &Gate{}
	d, terminal := g.checkDataAccessRules(Request{ResourceLabel: "sensitive_pii"})
	assert.True(t, terminal)
	assert.Equal(t, RequireApproval, d.Decision)

	_, terminal2 := g.checkDataAccessRules(Request{ResourceLabel: "sensitive_pii", PurposeTag: "incident_review"})
	assert.False(t, terminal2)
}
