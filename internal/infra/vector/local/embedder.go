package local

import (
	"crypto/sha256"
	"encoding/binary"
	"log/slog"
	"math"
	"math/rand"
	"sync"
)

// Embedder produces placeholder embeddings when the real embedding
// service is unreachable. Vectors are derived from a hash of the input,
// so the same text always maps to the same vector and similarity
// search stays self-consistent within fallback data. They carry no
// semantic meaning.
type Embedder struct {
	dimension int

	mu    sync.Mutex
	cache map[string][]float32
}

// NewEmbedder creates a fallback embedder for the given dimension.
func NewEmbedder(dimension int) *Embedder {
	return &Embedder{
		dimension: dimension,
		cache:     make(map[string][]float32),
	}
}

// Embed returns the deterministic pseudo-embedding for text.
func (e *Embedder) Embed(text string) []float32 {
	e.mu.Lock()
	if v, ok := e.cache[text]; ok {
		e.mu.Unlock()
		return v
	}
	e.mu.Unlock()

	slog.Warn("Using hash-derived placeholder embedding, results are not semantic", "text_len", len(text))

	sum := sha256.Sum256([]byte(text))
	seed := int64(binary.LittleEndian.Uint64(sum[:8]))
	rng := rand.New(rand.NewSource(seed))

	v := make([]float32, e.dimension)
	var norm float64
	for n := range v {
		v[n] = float32(rng.Float64()*2 - 1)
		norm += float64(v[n]) * float64(v[n])
	}
	if norm > 0 {
		scale := float32(1 / math.Sqrt(norm))
		for n := range v {
			v[n] *= scale
		}
	}

	e.mu.Lock()
	e.cache[text] = v
	e.mu.Unlock()
	return v
}
