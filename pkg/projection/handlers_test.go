package projection

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStringFieldReturnsEmptyForMissingOrWrongType(t *testing.T) {
	assert.Equal(t, "", stringField(nil, "x"))
	assert.Equal(t, "", stringField(map[string]interface{}{"x": 1}, "x"))
	assert.Equal(t, "v", stringField(map[string]interface{}{"x": "v"}, "x"))
}

func TestBoolFieldDefaultsFalse(t *testing.T) {
	assert.False(t, boolField(nil, "x"))
	assert.False(t, boolField(map[string]interface{}{"x": "true"}, "x"))
	assert.True(t, boolField(map[string]interface{}{"x": true}, "x"))
}

func TestJSONFieldNilForAbsentKey(t *testing.T) {
	b, err := jsonField(map[string]interface{}{}, "output")
	require.NoError(t, err)
	assert.Nil(t, b)

	b, err = jsonField(map[string]interface{}{"output": map[string]interface{}{"a": 1}}, "output")
	require.NoError(t, err)
	assert.JSONEq(t, `{"a":1}`, string(b))
}

func TestNullableStringConvertsEmptyToNil(t *testing.T) {
	assert.Nil(t, nullableString(""))
	assert.Equal(t, "x", nullableString("x"))
}
