// Package embed maps text to fixed-dimension unit vectors for similarity
// search.
package embed

import (
	"context"
	"errors"
	"fmt"
	"math"
)

// ErrEmbedderUnavailable indicates the backing model or service could not be
// reached. Callers surface this as a retryable server-side failure.
var ErrEmbedderUnavailable = errors.New("embedder unavailable")

// Embedder produces L2-normalized vectors of a fixed dimension. Identical
// input yields identical vectors for a given model.
type Embedder interface {
	EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error)
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
	Dimensions() int
}

// Normalize scales a vector to unit L2 norm in place and returns it. A zero
// vector is returned unchanged.
func Normalize(vector []float32) []float32 {
	var sum float64

	for _, v := range vector {
		sum += float64(v) * float64(v)
	}

	if sum == 0 {
		return vector
	}

	norm := math.Sqrt(sum)

	for i := range vector {
		vector[i] = float32(float64(vector[i]) / norm)
	}

	return vector
}

// checkDimensions verifies every vector matches the expected dimension.
func checkDimensions(vectors [][]float32, want int) error {
	for i, vector := range vectors {
		if len(vector) != want {
			return fmt.Errorf(
				"vector %d has dimension %d, want %d: %w",
				i,
				len(vector),
				want,
				ErrEmbedderUnavailable,
			)
		}
	}

	return nil
}
