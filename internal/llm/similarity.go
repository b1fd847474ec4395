package llm

import "math"

// cosineSimilarity returns dot(a,b)/(|a||b|), or 0 for mismatched or zero vectors.
func cosineSimilarity(a, b []float64) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	sim := dot / (math.Sqrt(normA) * math.Sqrt(normB))
	// clamp float drift
	if sim > 1 {
		return 1
	}
	if sim < -1 {
		return -1
	}
	return sim
}
