package core

import "math"

// NormalizeVector returns v scaled to unit length so that a dot product
// between stored vectors is their cosine similarity.
// A zero vector normalizes to a zero vector of the same length.
func NormalizeVector(v []float32) []float32 {
	if len(v) == 0 {
		return v
	}
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	out := make([]float32, len(v))
	if sum == 0 {
		return out
	}
	magnitude := float32(math.Sqrt(sum))
	for i, x := range v {
		out[i] = x / magnitude
	}
	return out
}
