package worker

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseDirectivesExtractsToolAndRuntimeFields(t *testing.T) {
	principalID := uuid.New()
	tokenID := uuid.New()

	input := map[string]interface{}{
		"tool":       "http_get",
		"tool_input": map[string]interface{}{"path": "/status"},
		"runtime.policy": map[string]interface{}{
			"principal_id":        principalID.String(),
			"capability_token_id": tokenID.String(),
			"zone":                "supervised",
		},
		"runtime.egress": map[string]interface{}{
			"target_url": "https://api.example.com/status",
		},
	}

	d := parseDirectives(input)
	assert.Equal(t, "http_get", d.ToolName)
	assert.Equal(t, "/status", d.ToolInput["path"])
	require.NotNil(t, d.PrincipalID)
	assert.Equal(t, principalID, *d.PrincipalID)
	require.NotNil(t, d.CapabilityToken)
	assert.Equal(t, tokenID, *d.CapabilityToken)
	assert.Equal(t, "supervised", d.Zone)
	assert.Equal(t, "https://api.example.com/status", d.EgressTargetURL)
}

func TestParseDirectivesHandlesNilAndMissingFields(t *testing.T) {
	d := parseDirectives(nil)
	assert.Equal(t, "", d.ToolName)
	assert.Nil(t, d.PrincipalID)

	d = parseDirectives(map[string]interface{}{})
	assert.Equal(t, "", d.ToolName)
	assert.Equal(t, "", d.EgressTargetURL)
}

func TestParseDirectivesIgnoresMalformedUUIDs(t *testing.T) {
	input := map[string]interface{}{
		"tool": "noop",
		"runtime.policy": map[string]interface{}{
			"principal_id": "not-a-uuid",
		},
	}
	d := parseDirectives(input)
	assert.Nil(t, d.PrincipalID)
}
