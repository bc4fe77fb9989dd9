package runlifecycle

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAdvisoryLockKeyIsStablePerWorkspace(t *testing.T) {
	ns1, k1 := advisoryLockKey("workspace-a")
	ns2, k2 := advisoryLockKey("workspace-a")
	assert.Equal(t, ns1, ns2)
	assert.Equal(t, k1, k2)
}

func TestAdvisoryLockKeyDiffersAcrossWorkspaces(t *testing.T) {
	_, k1 := advisoryLockKey("workspace-a")
	_, k2 := advisoryLockKey("workspace-b")
	assert.NotEqual(t, k1, k2)
}

func TestAdvisoryLockNamespaceIsSharedAcrossWorkspaces(t *testing.T) {
	ns1, _ := advisoryLockKey("workspace-a")
	ns2, _ := advisoryLockKey("workspace-b")
	assert.Equal(t, ns1, ns2)
	assert.Equal(t, advisoryLockNamespace, ns1)
}

func TestRandomTokenIsNonEmptyAndVaries(t *testing.T) {
	a, err := randomToken()
	assert.NoError(t, err)
	b, err := randomToken()
	assert.NoError(t, err)
	assert.NotEmpty(t, a)
	assert.NotEqual(t, a, b)
}
