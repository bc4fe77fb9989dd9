package audit

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestChainVerificationZeroValueIsValidWithNothingChecked(t *testing.T) {
	var v ChainVerification
	assert.False(t, v.Valid)
	assert.Equal(t, 0, v.Checked)
	assert.Nil(t, v.FirstMismatch)
}

func TestRedactionLogFilterDefaultsAreUnconstrained(t *testing.T) {
	var f RedactionLogFilter
	assert.Equal(t, "", f.EventID)
	assert.Equal(t, "", f.RuleID)
	assert.Equal(t, 0, f.Limit)
}
