package semantic_test

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mnemonic-nexus/mnx/internal/semantic"
)

func TestHashEmbedder_Deterministic(t *testing.T) {
	e := semantic.NewHashEmbedder(16)
	v1, err := e.Embed("hello world")
	require.NoError(t, err)
	v2, err := e.Embed("hello world")
	require.NoError(t, err)
	assert.Equal(t, v1, v2)
}

func TestHashEmbedder_DifferentTextDifferentVector(t *testing.T) {
	e := semantic.NewHashEmbedder(16)
	v1, err := e.Embed("hello")
	require.NoError(t, err)
	v2, err := e.Embed("goodbye")
	require.NoError(t, err)
	assert.NotEqual(t, v1, v2)
}

func TestHashEmbedder_Dimension(t *testing.T) {
	e := semantic.NewHashEmbedder(32)
	v, err := e.Embed("text")
	require.NoError(t, err)
	assert.Len(t, v, 32)
}

func TestHashEmbedder_DefaultDimension(t *testing.T) {
	e := semantic.NewHashEmbedder(0)
	v, err := e.Embed("text")
	require.NoError(t, err)
	assert.Len(t, v, 64)
}

func TestHashEmbedder_L2Normalized(t *testing.T) {
	e := semantic.NewHashEmbedder(64)
	v, err := e.Embed("some content to embed")
	require.NoError(t, err)

	var sumSquares float64
	for _, c := range v {
		sumSquares += float64(c) * float64(c)
	}
	assert.InDelta(t, 1.0, math.Sqrt(sumSquares), 1e-4)
}

func TestHashEmbedder_ModelIdentity(t *testing.T) {
	e := semantic.NewHashEmbedder(8)
	assert.Equal(t, "hash-embedder", e.ModelID())
	assert.Equal(t, "1", e.ModelVersion())
	assert.Equal(t, "combined-v1", e.TemplateID())
}
