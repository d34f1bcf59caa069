// Package embedding defines the Embedding Provider contract: canonical mono
// samples in, a unit-norm vector of fixed dimension out.
//
// The model itself runs out of process. [HTTPProvider] talks to it, and
// [Lazy] defers construction until the first track actually needs a vector.
package embedding

import (
	"context"
	"fmt"
	"math"

	"github.com/desertthunder/soundalike/internal/models"
	"github.com/desertthunder/soundalike/internal/shared"
)

// normTolerance is how far a vector's length may drift from 1 before it is rescaled.
const normTolerance = 1e-3

// Provider turns canonical audio into an embedding vector.
type Provider interface {
	Embed(ctx context.Context, samples []float32, rate int) ([]float32, error)
}

// Func adapts a plain function to [Provider].
type Func func(ctx context.Context, samples []float32, rate int) ([]float32, error)

func (f Func) Embed(ctx context.Context, samples []float32, rate int) ([]float32, error) {
	return f(ctx, samples, rate)
}

// Normalize checks v has dim entries and unit length, rescaling it when the
// length is off by more than a small tolerance. Zero and non-finite vectors
// are rejected.
func Normalize(v []float32, dim int) ([]float32, error) {
	if dim <= 0 {
		dim = models.EmbeddingDim
	}
	if len(v) != dim {
		return nil, fmt.Errorf("%w: got %d dimensions, want %d", shared.ErrEmbedding, len(v), dim)
	}

	n := shared.Norm(v)
	switch {
	case math.IsNaN(n) || math.IsInf(n, 0):
		return nil, fmt.Errorf("%w: vector contains non-finite values", shared.ErrEmbedding)
	case n == 0:
		return nil, fmt.Errorf("%w: zero vector", shared.ErrEmbedding)
	case math.Abs(n-1) <= normTolerance:
		return v, nil
	}

	out := make([]float32, len(v))
	for i, f := range v {
		out[i] = float32(float64(f) / n)
	}
	return out, nil
}
