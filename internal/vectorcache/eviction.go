package vectorcache

import (
	"context"
	"fmt"
	"math/rand"
	"sort"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
)

// EvictionStrategy selects which entries are removed first when the memory
// budget is exceeded.
type EvictionStrategy string

const (
	// StrategyLRU evicts the least recently accessed entries first.
	StrategyLRU EvictionStrategy = "lru"
	// StrategyLFU evicts the least frequently accessed entries first; ties
	// fall back to least recently accessed.
	StrategyLFU EvictionStrategy = "lfu"
	// StrategyRandom evicts a uniformly random sample; a cheap fallback when
	// usage tracking is disabled.
	StrategyRandom EvictionStrategy = "random"
	// StrategyPriority evicts the lowest explicit priority first; ties fall
	// back to lru order.
	StrategyPriority EvictionStrategy = "priority"
)

// Valid reports whether the strategy is one of the known values.
func (s EvictionStrategy) Valid() bool {
	switch s {
	case StrategyLRU, StrategyLFU, StrategyRandom, StrategyPriority:
		return true
	}
	return false
}

// EvictionConfig configures the eviction manager.
type EvictionConfig struct {
	// Strategy selects the eviction order. Defaults to lru.
	Strategy EvictionStrategy

	// Seed fixes the random source for the random strategy; 0 derives a
	// time-based seed. Set in tests for reproducibility.
	Seed int64
}

// ApplyDefaults fills unset fields.
func (c *EvictionConfig) ApplyDefaults() {
	if c.Strategy == "" {
		c.Strategy = StrategyLRU
	}
}

// Validate checks the configuration.
func (c EvictionConfig) Validate() error {
	if !c.Strategy.Valid() {
		return fmt.Errorf("%w: %q", ErrUnknownStrategy, c.Strategy)
	}
	return nil
}

// EvictionOutcome reports one eviction pass. CandidatesFound next to
// EvictedCount lets callers detect under-delivery (a target too aggressive
// for the catalog size).
type EvictionOutcome struct {
	EvictedCount    int
	CandidatesFound int
	FreedBytes      int64
}

// EvictionManager removes entries in strategy order until the store is back
// under its target. One manager may serve many stores; it holds no per-store
// state.
type EvictionManager struct {
	cfg    EvictionConfig
	logger *zap.Logger

	rngMu sync.Mutex
	rng   *rand.Rand
}

// NewEvictionManager builds a manager. The configuration is defaulted and
// must validate.
func NewEvictionManager(cfg EvictionConfig, logger *zap.Logger) (*EvictionManager, error) {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	seed := cfg.Seed
	if seed == 0 {
		seed = timeNow().UnixNano()
	}
	return &EvictionManager{
		cfg:    cfg,
		logger: logger,
		rng:    rand.New(rand.NewSource(seed)),
	}, nil
}

// Strategy returns the configured strategy.
func (m *EvictionManager) Strategy() EvictionStrategy { return m.cfg.Strategy }

// SelectAndEvict removes entries from the store until aggregate usage is at
// or below targetBytes or candidates are exhausted, never more than
// necessary. Ids listed in protect are excluded from candidacy.
func (m *EvictionManager) SelectAndEvict(ctx context.Context, s *Store, targetBytes int64, protect ...string) (EvictionOutcome, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	protected := ""
	if len(protect) > 0 {
		protected = protect[0]
	}
	return m.selectAndEvictLocked(ctx, s, targetBytes, protected)
}

// selectAndEvictLocked implements SelectAndEvict under the store write lock,
// so budget enforcement during insert stays atomic with the insert itself.
func (m *EvictionManager) selectAndEvictLocked(ctx context.Context, s *Store, targetBytes int64, protect string) (EvictionOutcome, error) {
	_, span := tracer.Start(ctx, "vectorcache.eviction.select_and_evict")
	defer span.End()
	span.SetAttributes(
		attribute.String("cache.scope", s.scopeLabel),
		attribute.String("cache.strategy", string(m.cfg.Strategy)),
		attribute.Int64("cache.target_bytes", targetBytes),
		attribute.Int64("cache.current_bytes", s.sizeBytes),
	)

	candidates := s.candidatesLocked(protect)
	outcome := EvictionOutcome{CandidatesFound: len(candidates)}
	if s.sizeBytes <= targetBytes || len(candidates) == 0 {
		span.SetStatus(codes.Ok, "")
		return outcome, nil
	}

	if err := m.orderCandidates(candidates); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return outcome, err
	}

	for _, e := range candidates {
		if s.sizeBytes <= targetBytes {
			break
		}
		outcome.FreedBytes += s.removeLocked(e.ID)
		outcome.EvictedCount++
	}

	if outcome.EvictedCount > 0 {
		s.markEviction(timeNow())
		strategy := string(m.cfg.Strategy)
		EvictionsTotal.WithLabelValues(s.scopeLabel, strategy).Add(float64(outcome.EvictedCount))
		EvictedBytesTotal.WithLabelValues(s.scopeLabel, strategy).Add(float64(outcome.FreedBytes))
		updateStoreGauges(s.scopeLabel, len(s.entries), s.sizeBytes)
		m.logger.Info("evicted entries",
			zap.String("scope", s.scopeLabel),
			zap.String("strategy", strategy),
			zap.Int("evicted", outcome.EvictedCount),
			zap.Int("candidates", outcome.CandidatesFound),
			zap.Int64("freed_bytes", outcome.FreedBytes),
			zap.Int64("remaining_bytes", s.sizeBytes),
		)
	}

	span.SetAttributes(
		attribute.Int("cache.evicted", outcome.EvictedCount),
		attribute.Int64("cache.freed_bytes", outcome.FreedBytes),
	)
	span.SetStatus(codes.Ok, "")
	return outcome, nil
}

// orderCandidates sorts candidates into eviction order, victims first. Every
// strategy ends with an ascending-id tie-break so eviction is deterministic
// for identical stores (the random strategy is deterministic only under a
// fixed seed).
func (m *EvictionManager) orderCandidates(candidates []*VectorEntry) error {
	switch m.cfg.Strategy {
	case StrategyLRU:
		accessSnapshot := snapshotAccess(candidates)
		sort.Slice(candidates, func(i, j int) bool {
			a, b := accessSnapshot[candidates[i].ID], accessSnapshot[candidates[j].ID]
			if a.lastAccessed != b.lastAccessed {
				return a.lastAccessed < b.lastAccessed
			}
			return candidates[i].ID < candidates[j].ID
		})
	case StrategyLFU:
		accessSnapshot := snapshotAccess(candidates)
		sort.Slice(candidates, func(i, j int) bool {
			a, b := accessSnapshot[candidates[i].ID], accessSnapshot[candidates[j].ID]
			if a.count != b.count {
				return a.count < b.count
			}
			if a.lastAccessed != b.lastAccessed {
				return a.lastAccessed < b.lastAccessed
			}
			return candidates[i].ID < candidates[j].ID
		})
	case StrategyRandom:
		m.rngMu.Lock()
		m.rng.Shuffle(len(candidates), func(i, j int) {
			candidates[i], candidates[j] = candidates[j], candidates[i]
		})
		m.rngMu.Unlock()
	case StrategyPriority:
		accessSnapshot := snapshotAccess(candidates)
		sort.Slice(candidates, func(i, j int) bool {
			if candidates[i].Priority != candidates[j].Priority {
				return candidates[i].Priority < candidates[j].Priority
			}
			a, b := accessSnapshot[candidates[i].ID], accessSnapshot[candidates[j].ID]
			if a.lastAccessed != b.lastAccessed {
				return a.lastAccessed < b.lastAccessed
			}
			return candidates[i].ID < candidates[j].ID
		})
	default:
		return fmt.Errorf("%w: %q", ErrUnknownStrategy, m.cfg.Strategy)
	}
	return nil
}

type accessState struct {
	lastAccessed int64
	count        int64
}

// snapshotAccess captures access metadata once per candidate so concurrent
// searches bumping atomics cannot destabilize the sort comparator.
func snapshotAccess(candidates []*VectorEntry) map[string]accessState {
	snap := make(map[string]accessState, len(candidates))
	for _, e := range candidates {
		snap[e.ID] = accessState{
			lastAccessed: e.lastAccessed.Load(),
			count:        e.accessCount.Load(),
		}
	}
	return snap
}
