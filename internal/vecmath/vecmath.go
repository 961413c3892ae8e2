// Package vecmath provides the vector operations the topic engines are
// built on: cosine similarity, centroid (mean) computation, and
// exponential-moving-average centroid updates. All functions are pure and
// guard degenerate input (zero norms, NaN/Inf) with defined fallbacks
// instead of propagating faults.
package vecmath

import (
	"math"

	"github.com/newspulse/newspulse/internal/domain"
)

// Cosine returns the cosine similarity of a and b in [-1, 1].
// Zero-magnitude input yields 0, not an error. Vectors must be the same
// length; callers validate dimensions at ingress.
func Cosine(a, b []float32) float64 {
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
	sim := dot / (math.Sqrt(na) * math.Sqrt(nb))
	if math.IsNaN(sim) || math.IsInf(sim, 0) {
		return 0
	}
	// Clamp floating-point drift outside [-1, 1].
	return math.Max(-1, math.Min(1, sim))
}

// CosineDistance returns 1 - Cosine(a, b), the metric the clustering
// strategies operate on.
func CosineDistance(a, b []float32) float64 {
	return 1 - Cosine(a, b)
}

// Centroid returns the element-wise arithmetic mean of vs.
// Returns domain.ErrEmptyInput when vs holds no vectors.
func Centroid(vs [][]float32) ([]float32, error) {
	if len(vs) == 0 {
		return nil, domain.ErrEmptyInput
	}

	dim := len(vs[0])
	sum := make([]float64, dim)
	for _, v := range vs {
		for i := range v {
			sum[i] += float64(v[i])
		}
	}

	out := make([]float32, dim)
	n := float64(len(vs))
	for i := range sum {
		out[i] = float32(sum[i] / n)
	}
	return out, nil
}

// UpdateEMA blends next into old with the given weight:
// weight*next + (1-weight)*old. Weight is clamped to [0, 1]; 0 keeps the
// old centroid, 1 replaces it entirely. Returns a fresh slice.
func UpdateEMA(old, next []float32, weight float64) []float32 {
	if weight < 0 {
		weight = 0
	}
	if weight > 1 {
		weight = 1
	}

	out := make([]float32, len(old))
	for i := range old {
		out[i] = float32(weight*float64(next[i]) + (1-weight)*float64(old[i]))
	}
	return out
}

// Normalize returns an L2-normalized copy of v. A zero vector is returned
// as an unmodified copy rather than producing NaNs.
func Normalize(v []float32) []float32 {
	var norm2 float64
	for _, x := range v {
		norm2 += float64(x) * float64(x)
	}

	out := make([]float32, len(v))
	if norm2 == 0 {
		copy(out, v)
		return out
	}

	inv := 1 / math.Sqrt(norm2)
	for i, x := range v {
		out[i] = float32(float64(x) * inv)
	}
	return out
}
