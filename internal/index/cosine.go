package index

import "math"

// Cosine returns the cosine similarity of a and b. A zero-magnitude vector
// (or a dimension mismatch) yields 0: similarity against nothing is nothing,
// and the caller never sees a division by zero.
func Cosine(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}

	var dot, magA, magB float64
	for i := range a {
		av := float64(a[i])
		bv := float64(b[i])
		dot += av * bv
		magA += av * av
		magB += bv * bv
	}

	if magA == 0 || magB == 0 {
		return 0
	}
	return dot / (math.Sqrt(magA) * math.Sqrt(magB))
}
