package vectorcache

import (
	"context"
	"math"
	"sort"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const (
	// DefaultThreshold is the minimum similarity for inclusion when the
	// caller does not specify one.
	DefaultThreshold = 0.15

	// DefaultLimit is the result-count cap when the caller does not specify
	// one.
	DefaultLimit = 5

	// similarityTolerance absorbs float32 rounding when comparing against
	// the threshold, so threshold 1.0 still admits exact matches.
	similarityTolerance = 1e-6
)

// SearchOptions control one similarity search. Values are taken literally:
// Limit 0 returns an empty result set; use DefaultSearchOptions for the
// configured defaults.
type SearchOptions struct {
	// Threshold is the minimum cosine similarity, in [-1, 1].
	Threshold float64

	// Limit caps the number of results. Negative is an error.
	Limit int

	// Category and SourceType exclude non-matching entries before scoring
	// when non-empty.
	Category   string
	SourceType string
}

// DefaultSearchOptions returns the standard threshold and limit.
func DefaultSearchOptions() SearchOptions {
	return SearchOptions{Threshold: DefaultThreshold, Limit: DefaultLimit}
}

func (o SearchOptions) validate() error {
	if o.Limit < 0 {
		return &SearchError{Reason: "limit must not be negative"}
	}
	if math.IsNaN(o.Threshold) || o.Threshold < -1 || o.Threshold > 1 {
		return &SearchError{Reason: "threshold must be within [-1, 1]"}
	}
	return nil
}

// SearchEngine answers nearest-neighbor queries over a store with a flat
// cosine-similarity scan, O(n*d) per query. Scopes hold bounded catalogs, so
// no approximate index is used.
type SearchEngine struct {
	logger *zap.Logger
}

// NewSearchEngine builds an engine. One engine serves any number of stores.
func NewSearchEngine(logger *zap.Logger) *SearchEngine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SearchEngine{logger: logger}
}

// scored pairs a candidate with its similarity and a stable snapshot of its
// last-accessed time. The snapshot keeps the sort comparator consistent while
// concurrent searches bump access atomics.
type scored struct {
	entry        *VectorEntry
	score        float64
	lastAccessed int64
}

// Search scores all candidate entries against the query and returns those at
// or above the threshold, ordered by similarity descending with ties broken
// by more recent last access and then ascending id. Every entry included in
// the result set has its access metadata updated with one shared timestamp.
//
// An empty result is success, never an error; errors mean the query or
// options were rejected before scoring.
func (e *SearchEngine) Search(ctx context.Context, s *Store, query []float32, opts SearchOptions) ([]SearchResult, error) {
	start := timeNow()
	_, span := tracer.Start(ctx, "vectorcache.search")
	defer span.End()
	span.SetAttributes(
		attribute.String("cache.scope", s.scopeLabel),
		attribute.Float64("cache.threshold", opts.Threshold),
		attribute.Int("cache.limit", opts.Limit),
	)

	if err := opts.validate(); err != nil {
		return nil, e.rejectSearch(s, span, err)
	}
	if len(query) == 0 {
		return nil, e.rejectSearch(s, span, &SearchError{Reason: "empty query vector"})
	}
	var qSquares float64
	for _, v := range query {
		qSquares += float64(v) * float64(v)
	}
	if qSquares == 0 {
		return nil, e.rejectSearch(s, span, &SearchError{Reason: "zero-magnitude query vector"})
	}
	qMagnitude := math.Sqrt(qSquares)

	s.mu.RLock()
	dimension := s.dimension
	candidates := make([]*VectorEntry, 0, len(s.order))
	for _, id := range s.order {
		entry := s.entries[id]
		if opts.Category != "" && entry.Category != opts.Category {
			continue
		}
		if opts.SourceType != "" && entry.SourceType != opts.SourceType {
			continue
		}
		candidates = append(candidates, entry)
	}
	s.mu.RUnlock()

	if dimension != 0 && len(query) != dimension {
		return nil, e.rejectSearch(s, span, &DimensionError{Source: "query", Want: dimension, Got: len(query)})
	}
	if opts.Limit == 0 {
		span.SetAttributes(attribute.Int("cache.results", 0))
		span.SetStatus(codes.Ok, "")
		return []SearchResult{}, nil
	}
	if dimension == 0 {
		// Nothing cached yet; a legitimate miss.
		s.recordSearch(false)
		span.SetAttributes(attribute.Int("cache.results", 0))
		span.SetStatus(codes.Ok, "")
		return []SearchResult{}, nil
	}

	matches := make([]scored, 0, len(candidates))
	for _, entry := range candidates {
		sim, ok := cosineSimilarity(query, qMagnitude, entry.Embedding)
		if !ok {
			// Zero-magnitude entries cannot be normalized; excluded rather
			// than dividing by zero.
			continue
		}
		if sim+similarityTolerance >= opts.Threshold {
			matches = append(matches, scored{
				entry:        entry,
				score:        sim,
				lastAccessed: entry.lastAccessed.Load(),
			})
		}
	}

	sort.Slice(matches, func(i, j int) bool {
		if matches[i].score != matches[j].score {
			return matches[i].score > matches[j].score
		}
		if matches[i].lastAccessed != matches[j].lastAccessed {
			return matches[i].lastAccessed > matches[j].lastAccessed
		}
		return matches[i].entry.ID < matches[j].entry.ID
	})

	if len(matches) > opts.Limit {
		matches = matches[:opts.Limit]
	}

	now := timeNow()
	results := make([]SearchResult, 0, len(matches))
	for _, m := range matches {
		m.entry.touch(now)
		results = append(results, SearchResult{Entry: m.entry, Score: m.score})
	}

	s.recordSearch(len(results) > 0)
	elapsed := time.Since(start)
	SearchDuration.Observe(elapsed.Seconds())
	span.SetAttributes(
		attribute.Int("cache.candidates", len(candidates)),
		attribute.Int("cache.results", len(results)),
	)
	span.SetStatus(codes.Ok, "")
	e.logger.Debug("search complete",
		zap.String("scope", s.scopeLabel),
		zap.Int("candidates", len(candidates)),
		zap.Int("results", len(results)),
		zap.Duration("elapsed", elapsed),
	)
	return results, nil
}

// rejectSearch records a search rejected before scoring.
func (e *SearchEngine) rejectSearch(s *Store, span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	SearchesTotal.WithLabelValues(s.scopeLabel, "error").Inc()
	return err
}

// cosineSimilarity computes the normalized dot product of the query against
// one candidate, with float64 accumulation for stability. The query magnitude
// is precomputed once per search. Reports false for a zero-magnitude or
// wrong-length candidate; a corrupted entry must never panic the scan.
func cosineSimilarity(query []float32, qMagnitude float64, embedding []float32) (float64, bool) {
	if len(embedding) != len(query) {
		return 0, false
	}
	var dot, squares float64
	for i, v := range embedding {
		dot += float64(query[i]) * float64(v)
		squares += float64(v) * float64(v)
	}
	if squares == 0 {
		return 0, false
	}
	return dot / (qMagnitude * math.Sqrt(squares)), true
}
