package vectorcache

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

// seedStore inserts the given entries into a fresh unbounded store.
func seedStore(t *testing.T, entries ...*VectorEntry) *Store {
	t.Helper()
	s := newUnboundedStore(t)
	for _, e := range entries {
		require.NoError(t, s.Insert(context.Background(), e))
	}
	return s
}

func resultIDs(results []SearchResult) []string {
	ids := make([]string, len(results))
	for i, r := range results {
		ids[i] = r.Entry.ID
	}
	return ids
}

func TestSearchEngine_Search_ExactMatch(t *testing.T) {
	s := seedStore(t,
		testEntry("a", []float32{1, 0, 0}),
		testEntry("b", []float32{0, 1, 0}),
	)
	engine := NewSearchEngine(zaptest.NewLogger(t))

	results, err := engine.Search(context.Background(), s, []float32{1, 0, 0},
		SearchOptions{Threshold: 0.5, Limit: 5})
	require.NoError(t, err)

	require.Len(t, results, 1)
	assert.Equal(t, "a", results[0].Entry.ID)
	assert.InDelta(t, 1.0, results[0].Score, 1e-9)
}

func TestSearchEngine_Search_RankingAndThreshold(t *testing.T) {
	// cos(q,a) ~ 0.995, cos(q,b) ~ 0.707, cos(q,c) = 0.
	s := seedStore(t,
		testEntry("c", []float32{0, 1, 0}),
		testEntry("b", []float32{1, 1, 0}),
		testEntry("a", []float32{1, 0.1, 0}),
	)
	engine := NewSearchEngine(zaptest.NewLogger(t))

	results, err := engine.Search(context.Background(), s, []float32{1, 0, 0},
		SearchOptions{Threshold: 0.5, Limit: 5})
	require.NoError(t, err)

	assert.Equal(t, []string{"a", "b"}, resultIDs(results),
		"descending similarity, sub-threshold entries excluded")
	require.Len(t, results, 2)
	assert.Greater(t, results[0].Score, results[1].Score)
	assert.InDelta(t, 0.7071, results[1].Score, 1e-3)
}

func TestSearchEngine_Search_Deterministic(t *testing.T) {
	entries := make([]*VectorEntry, 0, 20)
	for i := 0; i < 20; i++ {
		entries = append(entries, testEntry(
			fmt.Sprintf("e%02d", i),
			[]float32{1, float32(i) * 0.05, 0},
		))
	}
	s := seedStore(t, entries...)
	engine := NewSearchEngine(zaptest.NewLogger(t))

	var first []string
	for run := 0; run < 5; run++ {
		results, err := engine.Search(context.Background(), s, []float32{1, 0.3, 0},
			SearchOptions{Threshold: 0.2, Limit: 10})
		require.NoError(t, err)
		if first == nil {
			first = resultIDs(results)
			continue
		}
		assert.Equal(t, first, resultIDs(results), "run %d diverged", run)
	}
}

func TestSearchEngine_Search_LimitZero(t *testing.T) {
	s := seedStore(t, testEntry("a", []float32{1, 0, 0}))
	engine := NewSearchEngine(zaptest.NewLogger(t))

	results, err := engine.Search(context.Background(), s, []float32{1, 0, 0},
		SearchOptions{Threshold: 0.5, Limit: 0})
	require.NoError(t, err)
	assert.Empty(t, results)

	// A zero-limit probe is not a lookup: no stats, no access metadata.
	stats := s.Stats()
	assert.Zero(t, stats.Hits)
	assert.Zero(t, stats.Misses)
	got, _ := s.Get("a")
	assert.Zero(t, got.AccessCount())
}

func TestSearchEngine_Search_LimitTruncates(t *testing.T) {
	s := seedStore(t,
		testEntry("far", []float32{1, 0.9, 0}),
		testEntry("mid", []float32{1, 0.5, 0}),
		testEntry("near", []float32{1, 0.1, 0}),
	)
	engine := NewSearchEngine(zaptest.NewLogger(t))

	results, err := engine.Search(context.Background(), s, []float32{1, 0, 0},
		SearchOptions{Threshold: 0.1, Limit: 2})
	require.NoError(t, err)
	assert.Equal(t, []string{"near", "mid"}, resultIDs(results))
}

func TestSearchEngine_Search_ExactThreshold(t *testing.T) {
	s := seedStore(t,
		testEntry("exact", []float32{1, 0, 0}),
		testEntry("scaled", []float32{2, 0, 0}),
		testEntry("close", []float32{1, 0.01, 0}),
	)
	engine := NewSearchEngine(zaptest.NewLogger(t))

	results, err := engine.Search(context.Background(), s, []float32{1, 0, 0},
		SearchOptions{Threshold: 1.0, Limit: 5})
	require.NoError(t, err)

	// Threshold 1.0 admits exact directional matches, including scalar
	// multiples, within float tolerance. A 0.99995 match stays out.
	assert.ElementsMatch(t, []string{"exact", "scaled"}, resultIDs(results))
}

func TestSearchEngine_Search_TieBreakByRecency(t *testing.T) {
	base := time.Date(2026, 8, 20, 10, 0, 0, 0, time.UTC)
	older := testEntry("older", []float32{1, 0})
	older.CreatedAt = base
	newer := testEntry("newer", []float32{1, 0})
	newer.CreatedAt = base.Add(time.Minute)

	s := seedStore(t, older, newer)
	engine := NewSearchEngine(zaptest.NewLogger(t))

	results, err := engine.Search(context.Background(), s, []float32{1, 0},
		SearchOptions{Threshold: 0.5, Limit: 5})
	require.NoError(t, err)
	assert.Equal(t, []string{"newer", "older"}, resultIDs(results),
		"equal scores break toward the more recently accessed entry")

	// Accessing the older entry flips the order. The first search already
	// touched both entries, so the new access must postdate that.
	older.touch(time.Now().Add(time.Hour))
	results, err = engine.Search(context.Background(), s, []float32{1, 0},
		SearchOptions{Threshold: 0.5, Limit: 5})
	require.NoError(t, err)
	assert.Equal(t, []string{"older", "newer"}, resultIDs(results))
}

func TestSearchEngine_Search_TieBreakByID(t *testing.T) {
	base := time.Date(2026, 8, 20, 10, 0, 0, 0, time.UTC)
	entries := make([]*VectorEntry, 0, 3)
	for _, id := range []string{"charlie", "alpha", "bravo"} {
		e := testEntry(id, []float32{1, 0})
		e.Content = "same length"
		e.CreatedAt = base
		entries = append(entries, e)
	}
	s := seedStore(t, entries...)
	engine := NewSearchEngine(zaptest.NewLogger(t))

	results, err := engine.Search(context.Background(), s, []float32{1, 0},
		SearchOptions{Threshold: 0.5, Limit: 5})
	require.NoError(t, err)
	assert.Equal(t, []string{"alpha", "bravo", "charlie"}, resultIDs(results),
		"equal score and recency fall back to ascending id")
}

func TestSearchEngine_Search_Filters(t *testing.T) {
	api := testEntry("api", []float32{1, 0})
	api.Category = "reference"
	api.SourceType = "markdown"
	faq := testEntry("faq", []float32{1, 0})
	faq.Category = "support"
	faq.SourceType = "markdown"
	code := testEntry("code", []float32{1, 0})
	code.Category = "reference"
	code.SourceType = "source"

	s := seedStore(t, api, faq, code)
	engine := NewSearchEngine(zaptest.NewLogger(t))
	ctx := context.Background()
	query := []float32{1, 0}

	t.Run("category", func(t *testing.T) {
		results, err := engine.Search(ctx, s, query,
			SearchOptions{Threshold: 0.5, Limit: 5, Category: "reference"})
		require.NoError(t, err)
		assert.ElementsMatch(t, []string{"api", "code"}, resultIDs(results))
	})

	t.Run("source type", func(t *testing.T) {
		results, err := engine.Search(ctx, s, query,
			SearchOptions{Threshold: 0.5, Limit: 5, SourceType: "markdown"})
		require.NoError(t, err)
		assert.ElementsMatch(t, []string{"api", "faq"}, resultIDs(results))
	})

	t.Run("both", func(t *testing.T) {
		results, err := engine.Search(ctx, s, query,
			SearchOptions{Threshold: 0.5, Limit: 5, Category: "reference", SourceType: "markdown"})
		require.NoError(t, err)
		assert.Equal(t, []string{"api"}, resultIDs(results))
	})

	t.Run("no match", func(t *testing.T) {
		results, err := engine.Search(ctx, s, query,
			SearchOptions{Threshold: 0.5, Limit: 5, Category: "nonexistent"})
		require.NoError(t, err)
		assert.Empty(t, results)
	})
}

func TestSearchEngine_Search_QueryDimensionMismatch(t *testing.T) {
	s := seedStore(t, testEntry("a", []float32{1, 0, 0}))
	engine := NewSearchEngine(zaptest.NewLogger(t))

	_, err := engine.Search(context.Background(), s, []float32{1, 0},
		SearchOptions{Threshold: 0.5, Limit: 5})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrDimensionMismatch)

	var dimErr *DimensionError
	require.ErrorAs(t, err, &dimErr)
	assert.Equal(t, "query", dimErr.Source)
	assert.Equal(t, 3, dimErr.Want)
	assert.Equal(t, 2, dimErr.Got)
}

func TestSearchEngine_Search_InvalidInputs(t *testing.T) {
	s := seedStore(t, testEntry("a", []float32{1, 0, 0}))
	engine := NewSearchEngine(zaptest.NewLogger(t))
	ctx := context.Background()

	tests := []struct {
		name  string
		query []float32
		opts  SearchOptions
	}{
		{"empty query", nil, SearchOptions{Threshold: 0.5, Limit: 5}},
		{"zero magnitude query", []float32{0, 0, 0}, SearchOptions{Threshold: 0.5, Limit: 5}},
		{"negative limit", []float32{1, 0, 0}, SearchOptions{Threshold: 0.5, Limit: -1}},
		{"threshold above one", []float32{1, 0, 0}, SearchOptions{Threshold: 1.5, Limit: 5}},
		{"threshold below minus one", []float32{1, 0, 0}, SearchOptions{Threshold: -1.5, Limit: 5}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := engine.Search(ctx, s, tt.query, tt.opts)
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrInvalidSearch)
		})
	}
}

func TestSearchEngine_Search_SkipsZeroMagnitudeEntries(t *testing.T) {
	s := seedStore(t,
		testEntry("zero", []float32{0, 0, 0}),
		testEntry("a", []float32{1, 0, 0}),
	)
	engine := NewSearchEngine(zaptest.NewLogger(t))

	results, err := engine.Search(context.Background(), s, []float32{1, 0, 0},
		SearchOptions{Threshold: -1, Limit: 5})
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, resultIDs(results),
		"entries with undefined cosine similarity are skipped, not errors")
}

func TestSearchEngine_Search_EmptyStore(t *testing.T) {
	s := newUnboundedStore(t)
	engine := NewSearchEngine(zaptest.NewLogger(t))

	results, err := engine.Search(context.Background(), s, []float32{1, 0, 0},
		DefaultSearchOptions())
	require.NoError(t, err)
	assert.Empty(t, results)

	stats := s.Stats()
	assert.Equal(t, int64(1), stats.Misses)
}

func TestSearchEngine_Search_TouchesOnlyIncludedEntries(t *testing.T) {
	included := testEntry("included", []float32{1, 0.1, 0})
	truncated := testEntry("truncated", []float32{1, 0.5, 0})
	excluded := testEntry("excluded", []float32{0, 1, 0})
	s := seedStore(t, included, truncated, excluded)
	engine := NewSearchEngine(zaptest.NewLogger(t))

	results, err := engine.Search(context.Background(), s, []float32{1, 0, 0},
		SearchOptions{Threshold: 0.5, Limit: 1})
	require.NoError(t, err)
	require.Equal(t, []string{"included"}, resultIDs(results))

	assert.Equal(t, int64(1), included.AccessCount())
	assert.False(t, included.LastAccessedAt().Before(included.CreatedAt))
	assert.Zero(t, truncated.AccessCount(), "entries cut by limit are not touched")
	assert.Zero(t, excluded.AccessCount(), "entries below threshold are not touched")
}

func TestSearchEngine_Search_HitRateWindow(t *testing.T) {
	s := seedStore(t, testEntry("a", []float32{1, 0}))
	engine := NewSearchEngine(zaptest.NewLogger(t))
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := engine.Search(ctx, s, []float32{1, 0}, SearchOptions{Threshold: 0.5, Limit: 5})
		require.NoError(t, err)
	}
	_, err := engine.Search(ctx, s, []float32{0, 1}, SearchOptions{Threshold: 0.5, Limit: 5})
	require.NoError(t, err)

	stats := s.Stats()
	assert.Equal(t, int64(3), stats.Hits)
	assert.Equal(t, int64(1), stats.Misses)
	assert.InDelta(t, 0.75, stats.HitRate, 1e-9)
	assert.Equal(t, 4, stats.WindowSize)
}
