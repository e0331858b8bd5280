package embed

import (
	"context"
	"math"
	"strings"

	"github.com/zeebo/xxh3"
)

// Hashing is the offline fallback embedder. Each token is hashed into a
// fixed-size bucket space with a sign hash, then the vector is normalized.
// Deterministic for identical text, so it dedupes and compares stably.
type Hashing struct {
	dims int
}

// NewHashing returns a feature-hashing embedder with the given
// dimensionality.
func NewHashing(dims int) *Hashing {
	if dims <= 0 {
		dims = 256
	}
	return &Hashing{dims: dims}
}

func (h *Hashing) Model() string   { return "hashing" }
func (h *Hashing) Dimensions() int { return h.dims }

// Embed maps tokens into buckets and returns a unit-length vector. Empty
// text yields the zero vector.
func (h *Hashing) Embed(_ context.Context, text string) ([]float64, error) {
	vec := make([]float64, h.dims)
	tokens := tokenize(text)
	if len(tokens) == 0 {
		return vec, nil
	}

	for _, tok := range tokens {
		sum := xxh3.HashString(tok)
		bucket := int(sum % uint64(h.dims))
		sign := 1.0
		if sum&(1<<63) != 0 {
			sign = -1.0
		}
		vec[bucket] += sign
	}

	var norm float64
	for _, v := range vec {
		norm += v * v
	}
	if norm > 0 {
		norm = math.Sqrt(norm)
		for i := range vec {
			vec[i] /= norm
		}
	}
	return vec, nil
}

// tokenize lowercases and splits on non-alphanumeric runs, dropping tokens
// shorter than two characters.
func tokenize(text string) []string {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !(r >= 'a' && r <= 'z' || r >= '0' && r <= '9')
	})
	var out []string
	for _, f := range fields {
		if len(f) >= 2 {
			out = append(out, f)
		}
	}
	return out
}
