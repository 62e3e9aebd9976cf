package vectorcache

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/vectorcached/internal/scope"
)

var tracer = otel.Tracer("vectorcached.vectorcache")

// Store owns all vector entries for one scope. It enforces uniform
// dimensionality, byte-accurate size accounting, and the memory budget
// (through the attached BudgetManager) on every mutation.
//
// Reads and searches proceed concurrently under a read lock; mutations take
// the write lock, so a search observes either the pre- or post-eviction
// state, never a partial one.
type Store struct {
	scope      scope.Key
	scopeLabel string
	budget     *BudgetManager
	logger     *zap.Logger

	mu        sync.RWMutex
	entries   map[string]*VectorEntry
	order     []string
	dimension int
	sizeBytes int64

	createdAt    time.Time
	lastEviction atomic.Int64

	hits   atomic.Int64
	misses atomic.Int64
	window statsWindow
}

// NewStore creates an empty store for the scope. A nil budget disables
// enforcement (unbounded store, used by tests and tooling).
func NewStore(key scope.Key, budget *BudgetManager, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{
		scope:      key,
		scopeLabel: key.String(),
		budget:     budget,
		logger:     logger.With(zap.String("scope", key.String())),
		entries:    make(map[string]*VectorEntry),
		createdAt:  timeNow(),
	}
}

// Scope returns the owning scope key.
func (s *Store) Scope() scope.Key { return s.scope }

// Insert adds or replaces an entry.
//
// The first insert pins the scope's dimensionality; later inserts with a
// different embedding length fail with a DimensionError. Entries whose size
// alone exceeds the memory budget are rejected with a MemoryError before any
// mutation. A duplicate id with identical checksum is a no-op; a duplicate id
// with changed content replaces in place, keeping its insertion-order slot.
// After the mutation, budget enforcement runs under the same write lock with
// the inserted entry protected from eviction.
func (s *Store) Insert(ctx context.Context, entry *VectorEntry) error {
	ctx, span := tracer.Start(ctx, "vectorcache.store.insert")
	defer span.End()
	span.SetAttributes(attribute.String("cache.scope", s.scopeLabel))

	if entry == nil {
		err := fmt.Errorf("%w: nil entry", ErrInvalidEntry)
		return s.rejectInsert(span, err)
	}
	span.SetAttributes(attribute.String("cache.entry_id", entry.ID))
	if entry.ID == "" {
		err := fmt.Errorf("%w: empty id", ErrInvalidEntry)
		return s.rejectInsert(span, err)
	}
	if len(entry.Embedding) == 0 {
		err := fmt.Errorf("%w: entry %q", ErrEmptyVector, entry.ID)
		return s.rejectInsert(span, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.dimension != 0 && len(entry.Embedding) != s.dimension {
		err := &DimensionError{Source: "entry", Want: s.dimension, Got: len(entry.Embedding)}
		return s.rejectInsert(span, err)
	}

	entry.seal(timeNow())

	if s.budget != nil && entry.SizeBytes > s.budget.budgetBytes() {
		err := &MemoryError{
			CurrentBytes: entry.SizeBytes,
			BudgetBytes:  s.budget.budgetBytes(),
			Detail:       fmt.Sprintf("entry %q alone exceeds the budget", entry.ID),
		}
		return s.rejectInsert(span, err)
	}

	result := "inserted"
	if existing, ok := s.entries[entry.ID]; ok {
		if existing.Checksum == entry.Checksum && len(existing.Embedding) == len(entry.Embedding) {
			InsertsTotal.WithLabelValues(s.scopeLabel, "noop").Inc()
			span.SetStatus(codes.Ok, "")
			return nil
		}
		s.sizeBytes += entry.SizeBytes - existing.SizeBytes
		s.entries[entry.ID] = entry
		result = "replaced"
	} else {
		s.entries[entry.ID] = entry
		s.order = append(s.order, entry.ID)
		s.sizeBytes += entry.SizeBytes
	}
	if s.dimension == 0 {
		s.dimension = len(entry.Embedding)
		span.SetAttributes(attribute.Int("cache.dimension", s.dimension))
	}

	if s.budget != nil {
		if _, err := s.budget.enforceLocked(ctx, s, entry.ID); err != nil {
			// Enforcement cannot fail while the new entry fits the budget
			// and everything else is evictable; removing it restores the
			// budget invariant if it ever does. A replaced predecessor is
			// not resurrected.
			s.removeLocked(entry.ID)
			return s.rejectInsert(span, err)
		}
	}

	InsertsTotal.WithLabelValues(s.scopeLabel, result).Inc()
	updateStoreGauges(s.scopeLabel, len(s.entries), s.sizeBytes)
	span.SetStatus(codes.Ok, "")
	return nil
}

// rejectInsert records a failed insert on the span and metrics.
func (s *Store) rejectInsert(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	InsertsTotal.WithLabelValues(s.scopeLabel, "rejected").Inc()
	return err
}

// Remove deletes the entry if present and reports whether removal occurred.
func (s *Store) Remove(ctx context.Context, id string) bool {
	_, span := tracer.Start(ctx, "vectorcache.store.remove")
	defer span.End()
	span.SetAttributes(
		attribute.String("cache.scope", s.scopeLabel),
		attribute.String("cache.entry_id", id),
	)

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.entries[id]; !ok {
		return false
	}
	s.removeLocked(id)
	updateStoreGauges(s.scopeLabel, len(s.entries), s.sizeBytes)
	return true
}

// Get looks up an entry without updating access metadata; only inclusion in a
// search result set counts as an access.
func (s *Store) Get(id string) (*VectorEntry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entries[id]
	return e, ok
}

// Entries returns a snapshot of all entries in insertion order. The snapshot
// is restartable and stable; iteration order is not a ranking guarantee.
func (s *Store) Entries() []*VectorEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*VectorEntry, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.entries[id])
	}
	return out
}

// Len returns the entry count.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// SizeBytes returns the aggregate estimated footprint.
func (s *Store) SizeBytes() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sizeBytes
}

// Dimension returns the pinned dimensionality, 0 before the first insert.
func (s *Store) Dimension() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.dimension
}

// Clear empties the store and unpins dimensionality; the next insert
// establishes it again. Used on full invalidation.
func (s *Store) Clear(ctx context.Context) {
	_, span := tracer.Start(ctx, "vectorcache.store.clear")
	defer span.End()
	span.SetAttributes(attribute.String("cache.scope", s.scopeLabel))

	s.mu.Lock()
	defer s.mu.Unlock()
	cleared := len(s.entries)
	s.entries = make(map[string]*VectorEntry)
	s.order = nil
	s.sizeBytes = 0
	s.dimension = 0
	updateStoreGauges(s.scopeLabel, 0, 0)
	s.logger.Info("store cleared", zap.Int("entries", cleared))
}

// Stats derives a point-in-time view. Never persisted.
func (s *Store) Stats() CacheStats {
	s.mu.RLock()
	entryCount := len(s.entries)
	sizeBytes := s.sizeBytes
	dimension := s.dimension
	s.mu.RUnlock()

	rate, window := s.window.rate()
	stats := CacheStats{
		Scope:      s.scope,
		EntryCount: entryCount,
		SizeBytes:  sizeBytes,
		SizeKB:     sizeBytes / 1024,
		Dimension:  dimension,
		Hits:       s.hits.Load(),
		Misses:     s.misses.Load(),
		HitRate:    rate,
		WindowSize: window,
		CreatedAt:  s.createdAt,
	}
	if nanos := s.lastEviction.Load(); nanos != 0 {
		stats.LastEviction = time.Unix(0, nanos)
	}
	return stats
}

// recordSearch feeds the hit/miss counters and the rolling window.
func (s *Store) recordSearch(hit bool) {
	outcome := "miss"
	if hit {
		s.hits.Add(1)
		outcome = "hit"
	} else {
		s.misses.Add(1)
	}
	s.window.record(hit)
	SearchesTotal.WithLabelValues(s.scopeLabel, outcome).Inc()
}

// removeLocked deletes the entry and returns the bytes freed. Callers hold
// the write lock and have verified presence.
func (s *Store) removeLocked(id string) int64 {
	e, ok := s.entries[id]
	if !ok {
		return 0
	}
	delete(s.entries, id)
	for i, oid := range s.order {
		if oid == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	s.sizeBytes -= e.SizeBytes
	return e.SizeBytes
}

// candidatesLocked returns eviction candidates in insertion order, excluding
// the protected id. Callers hold the write lock.
func (s *Store) candidatesLocked(protect string) []*VectorEntry {
	out := make([]*VectorEntry, 0, len(s.order))
	for _, id := range s.order {
		if id == protect {
			continue
		}
		out = append(out, s.entries[id])
	}
	return out
}

// markEviction stamps the last-eviction time. Called by the eviction manager.
func (s *Store) markEviction(t time.Time) {
	s.lastEviction.Store(t.UnixNano())
}
