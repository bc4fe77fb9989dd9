package egress

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeDomainStripsSchemePortAndPath(t *testing.T) {
	assert.Equal(t, "api.example.com", NormalizeDomain("https://API.Example.com:8443/v1/widgets"))
	assert.Equal(t, "example.com", NormalizeDomain("example.com"))
	assert.Equal(t, "example.com", NormalizeDomain("example.com."))
	assert.Equal(t, "example.com", NormalizeDomain("  HTTP://example.com/path  "))
}

func TestNormalizeDomainEmptyInput(t *testing.T) {
	assert.Equal(t, "", NormalizeDomain(""))
	assert.Equal(t, "", NormalizeDomain("   "))
}
