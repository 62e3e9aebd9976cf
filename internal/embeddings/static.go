package embeddings

import (
	"context"
	"fmt"
	"math"

	"github.com/cespare/xxhash/v2"
)

// StaticProvider produces deterministic unit-length vectors derived from the
// text alone, with no model behind them. Identical texts embed identically
// and distinct texts diverge, which is all development setups and tests need;
// the vectors carry no semantic meaning.
type StaticProvider struct {
	dimension int
}

// NewStaticProvider creates a static provider. A non-positive dimension
// defaults to 384, matching the small sentence-transformer models the TEI
// provider typically serves.
func NewStaticProvider(dimension int) *StaticProvider {
	if dimension <= 0 {
		dimension = 384
	}
	return &StaticProvider{dimension: dimension}
}

// EmbedQuery generates the deterministic vector for one text.
func (p *StaticProvider) EmbedQuery(_ context.Context, text string) ([]float32, error) {
	if text == "" {
		return nil, fmt.Errorf("%w: text cannot be empty", ErrEmptyInput)
	}
	return p.vector(text), nil
}

// EmbedDocuments generates deterministic vectors for multiple texts.
func (p *StaticProvider) EmbedDocuments(_ context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, fmt.Errorf("%w: texts cannot be empty", ErrEmptyInput)
	}
	vectors := make([][]float32, len(texts))
	for i, text := range texts {
		vectors[i] = p.vector(text)
	}
	return vectors, nil
}

// Dimension returns the configured dimension.
func (p *StaticProvider) Dimension() int {
	return p.dimension
}

// Close is a no-op.
func (p *StaticProvider) Close() error {
	return nil
}

// vector expands an xxhash of the text into a unit-length vector using a
// splitmix64 sequence, so nearby texts do not produce nearby vectors.
func (p *StaticProvider) vector(text string) []float32 {
	state := xxhash.Sum64String(text)
	out := make([]float32, p.dimension)
	var sumSquares float64
	for i := range out {
		state += 0x9e3779b97f4a7c15
		z := state
		z = (z ^ (z >> 30)) * 0xbf58476d1ce4e5b9
		z = (z ^ (z >> 27)) * 0x94d049bb133111eb
		z ^= z >> 31
		// Map to [-1, 1).
		v := float64(int64(z)) / float64(math.MaxInt64)
		out[i] = float32(v)
		sumSquares += v * v
	}
	norm := math.Sqrt(sumSquares)
	if norm == 0 {
		out[0] = 1
		return out
	}
	for i := range out {
		out[i] = float32(float64(out[i]) / norm)
	}
	return out
}
