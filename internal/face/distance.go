package face

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
)

// Distance returns the cosine distance 1 - a·b/(|a||b|) between two embeddings.
// The result lies in [0, 2]; lower means more similar.
func Distance(a, b Embedding) (float64, error) {
	if len(a) != len(b) {
		return 0, fmt.Errorf("%w: %d vs %d", ErrDimensionMismatch, len(a), len(b))
	}
	if len(a) == 0 {
		return 0, fmt.Errorf("%w: empty vector", ErrInvalidEmbedding)
	}

	normA := floats.Norm(a, 2)
	normB := floats.Norm(b, 2)
	if normA == 0 || normB == 0 {
		return 0, fmt.Errorf("%w: zero norm", ErrInvalidEmbedding)
	}

	similarity := floats.Dot(a, b) / (normA * normB)
	// Clamp to [-1, 1] to absorb floating point drift.
	similarity = math.Max(-1, math.Min(1, similarity))

	return 1 - similarity, nil
}

// Confidence converts a distance into the percentage reported to callers,
// (1 - distance) * 100 rounded to two decimals.
func Confidence(distance float64) float64 {
	return math.Round((1-distance)*100*100) / 100
}
