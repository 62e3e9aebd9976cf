package vectorcache

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func rankedResults(ids ...string) []SearchResult {
	results := make([]SearchResult, len(ids))
	for i, id := range ids {
		results[i] = SearchResult{Entry: &VectorEntry{ID: id}}
	}
	return results
}

func TestCalculateNDCG(t *testing.T) {
	ideal := []string{"a", "b", "c"}

	t.Run("perfect ranking", func(t *testing.T) {
		ndcg := CalculateNDCG(rankedResults("a", "b", "c"), ideal, 3)
		assert.InDelta(t, 1.0, ndcg, 1e-9)
	})

	t.Run("reversed ranking", func(t *testing.T) {
		ndcg := CalculateNDCG(rankedResults("c", "b", "a"), ideal, 3)
		assert.InDelta(t, 0.790, ndcg, 1e-3)
		assert.Less(t, ndcg, 1.0)
	})

	t.Run("irrelevant results", func(t *testing.T) {
		ndcg := CalculateNDCG(rankedResults("x", "y", "z"), ideal, 3)
		assert.Zero(t, ndcg)
	})

	t.Run("k larger than results", func(t *testing.T) {
		// k clamps to the single result; "b" carries 2 of the ideal 3.
		ndcg := CalculateNDCG(rankedResults("b"), ideal, 10)
		assert.InDelta(t, 2.0/3.0, ndcg, 1e-9)
	})

	t.Run("empty inputs", func(t *testing.T) {
		assert.Zero(t, CalculateNDCG(nil, ideal, 3))
		assert.Zero(t, CalculateNDCG(rankedResults("a"), nil, 3))
		assert.Zero(t, CalculateNDCG(rankedResults("a"), ideal, 0))
	})
}

func TestCalculateMRR(t *testing.T) {
	relevant := []string{"a", "b"}

	t.Run("first result relevant", func(t *testing.T) {
		assert.InDelta(t, 1.0, CalculateMRR(rankedResults("a", "x", "y"), relevant), 1e-9)
	})

	t.Run("second result relevant", func(t *testing.T) {
		assert.InDelta(t, 0.5, CalculateMRR(rankedResults("x", "b", "y"), relevant), 1e-9)
	})

	t.Run("no relevant results", func(t *testing.T) {
		assert.Zero(t, CalculateMRR(rankedResults("x", "y"), relevant))
	})

	t.Run("empty inputs", func(t *testing.T) {
		assert.Zero(t, CalculateMRR(nil, relevant))
		assert.Zero(t, CalculateMRR(rankedResults("a"), nil))
	})
}

func TestCalculatePrecisionAtK(t *testing.T) {
	relevant := []string{"a", "b", "c"}

	t.Run("half relevant", func(t *testing.T) {
		p := CalculatePrecisionAtK(rankedResults("a", "x", "b", "y"), relevant, 4)
		assert.InDelta(t, 0.5, p, 1e-9)
	})

	t.Run("k clamps to result count", func(t *testing.T) {
		p := CalculatePrecisionAtK(rankedResults("a", "b"), relevant, 10)
		assert.InDelta(t, 1.0, p, 1e-9)
	})

	t.Run("k shorter than results", func(t *testing.T) {
		p := CalculatePrecisionAtK(rankedResults("a", "x", "b"), relevant, 1)
		assert.InDelta(t, 1.0, p, 1e-9)
	})

	t.Run("empty inputs", func(t *testing.T) {
		assert.Zero(t, CalculatePrecisionAtK(nil, relevant, 3))
		assert.Zero(t, CalculatePrecisionAtK(rankedResults("a"), relevant, 0))
	})
}

func TestCalculateAllMetrics(t *testing.T) {
	results := rankedResults("a", "x", "b")
	m := CalculateAllMetrics(results, []string{"a", "b"}, []string{"a", "b"}, 3)

	assert.Greater(t, m.NDCG, 0.0)
	assert.InDelta(t, 1.0, m.MRR, 1e-9)
	assert.InDelta(t, 2.0/3.0, m.PrecisionAtK, 1e-9)
	assert.Equal(t, 3, m.K)
}
