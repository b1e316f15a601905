// Package embed defines the optional text-embedding hook consulted by the
// suggestion engine for ranking. Embeddings only reorder candidates that
// deterministic scoring already produced; they never create or commit a
// link on their own.
package embed

import (
	"context"
	"math"
)

// Embedder turns a text into a fixed-length vector. Implementations wrap an
// external embedding model; the core ships without one.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Cosine returns the cosine similarity of two vectors in [-1, 1]. Vectors
// of mismatched or zero length score 0.
func Cosine(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
