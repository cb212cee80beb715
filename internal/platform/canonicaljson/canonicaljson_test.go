package canonicaljson_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mnemonic-nexus/mnx/internal/platform/canonicaljson"
)

func TestCanonicalize_SortsKeysRecursively(t *testing.T) {
	in := []byte(`{"b":1,"a":{"z":2,"y":3},"c":[{"q":1,"p":2}]}`)
	out, err := canonicaljson.Canonicalize(in)
	require.NoError(t, err)
	assert.Equal(t, `{"a":{"y":3,"z":2},"b":1,"c":[{"p":2,"q":1}]}`, string(out))
}

func TestCanonicalize_KeyOrderIndependence(t *testing.T) {
	a, err := canonicaljson.Canonicalize([]byte(`{"x":1,"y":2}`))
	require.NoError(t, err)
	b, err := canonicaljson.Canonicalize([]byte(`{"y":2,"x":1}`))
	require.NoError(t, err)
	assert.Equal(t, string(a), string(b))
}

func TestMarshal_NoInsignificantWhitespace(t *testing.T) {
	out, err := canonicaljson.Marshal(map[string]interface{}{"k": "v"})
	require.NoError(t, err)
	assert.Equal(t, `{"k":"v"}`, string(out))
}

func TestSHA256Hex_DeterministicAcrossKeyOrder(t *testing.T) {
	h1, err := canonicaljson.SHA256Hex(struct {
		A int `json:"a"`
		B int `json:"b"`
	}{A: 1, B: 2})
	require.NoError(t, err)

	h2, err := canonicaljson.SHA256Hex(map[string]interface{}{"b": 2, "a": 1})
	require.NoError(t, err)

	assert.Equal(t, h1, h2)
	assert.Len(t, h1, 64)
}

func TestSHA256Hex_DifferentValuesDifferentHash(t *testing.T) {
	h1, err := canonicaljson.SHA256Hex(map[string]interface{}{"a": 1})
	require.NoError(t, err)
	h2, err := canonicaljson.SHA256Hex(map[string]interface{}{"a": 2})
	require.NoError(t, err)
	assert.NotEqual(t, h1, h2)
}

func TestHashLines_OrderSensitive(t *testing.T) {
	h1 := canonicaljson.HashLines([]string{"1|a", "2|b"})
	h2 := canonicaljson.HashLines([]string{"2|b", "1|a"})
	assert.NotEqual(t, h1, h2)
}

func TestHashLines_Deterministic(t *testing.T) {
	h1 := canonicaljson.HashLines([]string{"1|a", "2|b"})
	h2 := canonicaljson.HashLines([]string{"1|a", "2|b"})
	assert.Equal(t, h1, h2)
}
