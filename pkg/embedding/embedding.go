// Package embedding turns text into fixed-length vectors for similarity search.
// Providers are pluggable; HashProvider is a deterministic offline fallback.
package embedding

import (
	"context"
	"math"
)

// Provider produces embedding vectors.
type Provider interface {
	// Embed returns the vector for text. Empty and very long text must be accepted.
	Embed(ctx context.Context, text string) ([]float32, error)

	// Dimensions reports the vector length, or 0 when not known in advance.
	Dimensions() int
}

// Cosine returns the cosine similarity of a and b. Vectors of different length
// or with zero magnitude have similarity 0.
func Cosine(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}

	var dot, na, nb float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		na += x * x
		nb += y * y
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

// Normalize scales v to unit length in place and returns it. A zero vector is returned unchanged.
func Normalize(v []float32) []float32 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	if sum == 0 {
		return v
	}
	norm := float32(math.Sqrt(sum))
	for i := range v {
		v[i] /= norm
	}
	return v
}
