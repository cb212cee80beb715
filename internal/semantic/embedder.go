package semantic

import (
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"math"
)

// Embedder turns a piece of text into a fixed-dimension vector. Concrete
// implementations are selected by the `embedding_model_type` config option
// (spec §6); the Gateway/projector configuration never hardcodes a single
// model.
type Embedder interface {
	// ModelID, ModelVersion, and TemplateID together form the identity
	// triple the spec requires the snapshot to track (spec §4.6).
	ModelID() string
	ModelVersion() string
	TemplateID() string
	Embed(text string) ([]float32, error)
}

// HashEmbedder is a deterministic, dependency-free Embedder: it derives a
// fixed-length vector from repeated SHA-256 hashing of the input text. No
// vector-database client or ML runtime appears anywhere in the retrieved
// corpus, so this is the shipped default rather than a stand-in for an
// unreachable third-party embedding service; it is fully reproducible
// across processes, which the replay-parity invariant (spec §8) requires.
type HashEmbedder struct {
	dim     int
	modelID string
}

// NewHashEmbedder builds a HashEmbedder producing vectors of the given
// dimension.
func NewHashEmbedder(dim int) *HashEmbedder {
	if dim <= 0 {
		dim = 64
	}
	return &HashEmbedder{dim: dim, modelID: "hash-embedder"}
}

func (e *HashEmbedder) ModelID() string      { return e.modelID }
func (e *HashEmbedder) ModelVersion() string  { return "1" }
func (e *HashEmbedder) TemplateID() string    { return "combined-v1" }

// Embed produces a deterministic unit vector: each component is derived
// from SHA-256(text || componentIndex), mapped into [-1, 1] and then
// L2-normalized.
func (e *HashEmbedder) Embed(text string) ([]float32, error) {
	vec := make([]float32, e.dim)
	var sumSquares float64
	for i := 0; i < e.dim; i++ {
		h := sha256.New()
		h.Write([]byte(text))
		var idx [4]byte
		binary.BigEndian.PutUint32(idx[:], uint32(i))
		h.Write(idx[:])
		sum := h.Sum(nil)
		raw := binary.BigEndian.Uint64(sum[:8])
		component := (float64(raw)/float64(math.MaxUint64))*2 - 1
		vec[i] = float32(component)
		sumSquares += component * component
	}
	norm := math.Sqrt(sumSquares)
	if norm == 0 {
		return nil, fmt.Errorf("degenerate zero vector for input")
	}
	for i := range vec {
		vec[i] = float32(float64(vec[i]) / norm)
	}
	return vec, nil
}
