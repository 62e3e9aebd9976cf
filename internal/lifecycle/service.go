package lifecycle

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/fyrsmithlabs/vectorcached/internal/config"
	"github.com/fyrsmithlabs/vectorcached/internal/embeddings"
	"github.com/fyrsmithlabs/vectorcached/internal/repository"
	"github.com/fyrsmithlabs/vectorcached/internal/scope"
	"github.com/fyrsmithlabs/vectorcached/internal/vectorcache"
)

// prewarmConcurrency bounds how many scopes warm in parallel during Prewarm,
// so a long scope list cannot saturate the repository at startup.
const prewarmConcurrency = 4

// Health summarizes the cache for a health endpoint. Ready reflects the
// repository connection; the counts aggregate every Ready scope.
type Health struct {
	Ready      bool
	Scopes     int
	EntryCount int
	MemoryKB   int64
}

// Service is the surface the conversation layer calls. It composes the cache
// core (stores, search, eviction, integrity) with the repository and the
// embedding provider behind scope-keyed operations.
//
// The service never retries collaborator calls itself; the repository
// adapters own their retry policy and the embedding provider propagates
// failures as-is.
type Service struct {
	cfg      *config.Config
	repo     repository.Repository
	provider embeddings.Provider
	engine   *vectorcache.SearchEngine
	checker  *vectorcache.IntegrityChecker
	scanner  *vectorcache.BackgroundScanner
	registry *Registry
	logger   *zap.Logger
}

// New wires the service. The repository is required; the embedding provider
// may be nil when callers always supply pre-embedded queries, in which case
// SearchText is unavailable. The caller owns the repository's and provider's
// lifetimes.
func New(cfg *config.Config, repo repository.Repository, provider embeddings.Provider, logger *zap.Logger) (*Service, error) {
	if cfg == nil {
		return nil, errors.New("config is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if repo == nil {
		return nil, errors.New("repository is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	evictor, err := vectorcache.NewEvictionManager(vectorcache.EvictionConfig{
		Strategy: vectorcache.EvictionStrategy(cfg.Eviction.Strategy),
		Seed:     cfg.Eviction.Seed,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("eviction manager: %w", err)
	}
	budget, err := vectorcache.NewBudgetManager(vectorcache.BudgetConfig{
		MaxMemoryKB:    cfg.Cache.MaxMemoryKB,
		HeadroomFactor: cfg.Cache.HeadroomFactor,
	}, evictor, logger)
	if err != nil {
		return nil, fmt.Errorf("budget manager: %w", err)
	}

	s := &Service{
		cfg:      cfg,
		repo:     repo,
		provider: provider,
		engine:   vectorcache.NewSearchEngine(logger),
		checker: vectorcache.NewIntegrityChecker(vectorcache.IntegrityConfig{
			ChecksumEnabled: cfg.Integrity.ChecksumEnabled,
		}, logger),
		logger: logger,
	}

	deps := handleDeps{
		repo:        repo,
		budget:      budget,
		batchSize:   cfg.Registry.WarmBatchSize,
		warmTimeout: cfg.Registry.WarmTimeout,
		logger:      logger,
	}
	s.registry = NewRegistry(cfg.Registry.MaxScopes, cfg.Registry.TTL, func(key scope.Key) *Handle {
		return newHandle(key, deps)
	}, logger)

	if cfg.Integrity.Enabled {
		s.scanner = vectorcache.NewBackgroundScanner(s.checker, s.registry.Stores, &vectorcache.ScannerConfig{
			Interval:     cfg.Integrity.ScanInterval,
			OnCorruption: s.remediate,
		}, logger)
	}

	return s, nil
}

// Registry exposes the scope registry for operational tooling.
func (s *Service) Registry() *Registry { return s.registry }

// Start launches the background integrity scanner when integrity checking is
// enabled. The context bounds the scanner's lifetime.
func (s *Service) Start(ctx context.Context) {
	if s.scanner != nil {
		s.scanner.Start(ctx)
	}
}

// Stop halts background work and waits for in-flight sweeps to finish. It
// does not close the repository or the provider; the caller owns those.
func (s *Service) Stop() {
	if s.scanner != nil {
		s.scanner.Stop()
	}
}

// Search answers a nearest-neighbor query for the scope, warming it on first
// access. Nil opts select the configured defaults; a zero-valued options
// struct is taken literally.
func (s *Service) Search(ctx context.Context, key scope.Key, query []float32, opts *vectorcache.SearchOptions) ([]vectorcache.SearchResult, error) {
	if err := key.Validate(); err != nil {
		return nil, err
	}
	store, err := s.registry.Get(key).acquire(ctx)
	if err != nil {
		return nil, err
	}
	return s.engine.Search(ctx, store, query, s.searchOptions(opts))
}

// SearchText embeds the raw query text through the provider, then searches.
func (s *Service) SearchText(ctx context.Context, key scope.Key, text string, opts *vectorcache.SearchOptions) ([]vectorcache.SearchResult, error) {
	if s.provider == nil {
		return nil, fmt.Errorf("%w: no embedding provider configured", embeddings.ErrInvalidConfig)
	}
	query, err := s.provider.EmbedQuery(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	return s.Search(ctx, key, query, opts)
}

// Invalidate clears and re-warms the scope after a knowledge-base update,
// blocking until the re-warm completes. A scope that was never cached is a
// no-op. A Failed scope gets a fresh warm attempt.
func (s *Service) Invalidate(ctx context.Context, key scope.Key) error {
	if err := key.Validate(); err != nil {
		return err
	}
	h, ok := s.registry.Peek(key)
	if !ok {
		return nil
	}
	InvalidationsTotal.Inc()
	return h.invalidate(ctx)
}

// Stats reports the scope's cache statistics. It never triggers a warm; an
// unwarmed scope reports ErrScopeNotCached so callers cannot mistake "not
// cached" for "cached and empty".
func (s *Service) Stats(ctx context.Context, key scope.Key) (vectorcache.CacheStats, error) {
	if err := ctx.Err(); err != nil {
		return vectorcache.CacheStats{}, err
	}
	if err := key.Validate(); err != nil {
		return vectorcache.CacheStats{}, err
	}
	h, ok := s.registry.Peek(key)
	if !ok {
		return vectorcache.CacheStats{}, fmt.Errorf("%w: %s", ErrScopeNotCached, key)
	}
	return h.stats()
}

// HealthCheck reports repository reachability and aggregate usage across all
// Ready scopes.
func (s *Service) HealthCheck(ctx context.Context) Health {
	h := Health{Ready: s.repo.Ping(ctx) == nil}
	var bytes int64
	for _, store := range s.registry.Stores() {
		st := store.Stats()
		h.Scopes++
		h.EntryCount += st.EntryCount
		bytes += st.SizeBytes
	}
	h.MemoryKB = bytes / 1024
	return h
}

// Prewarm warms the given scopes ahead of first traffic with bounded
// concurrency, so known-busy organizations do not pay the cold-start cost on
// their first query. The first failure cancels the remaining waits and is
// returned; scopes that warmed stay warm.
func (s *Service) Prewarm(ctx context.Context, keys []scope.Key) error {
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(prewarmConcurrency)
	for _, key := range keys {
		g.Go(func() error {
			if err := key.Validate(); err != nil {
				return err
			}
			if _, err := s.registry.Get(key).acquire(ctx); err != nil {
				return fmt.Errorf("prewarm %s: %w", key, err)
			}
			return nil
		})
	}
	return g.Wait()
}

func (s *Service) searchOptions(opts *vectorcache.SearchOptions) vectorcache.SearchOptions {
	if opts != nil {
		return *opts
	}
	return vectorcache.SearchOptions{
		Threshold: s.cfg.Search.Threshold,
		Limit:     s.cfg.Search.Limit,
	}
}

// remediate is the background scanner's corruption callback. Corruption at or
// above the configured rate threshold, or structural accounting damage,
// rebuilds the whole scope from the repository. Anything milder drops the
// affected entries and backfills them individually. A failed backfill leaves
// the entries dropped; the cache serves fewer results rather than corrupt
// ones, and the next sweep or query-path warm recovers them.
func (s *Service) remediate(key scope.Key, report *vectorcache.IntegrityReport) {
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.Registry.WarmTimeout)
	defer cancel()

	if report.StructuralDamage || report.CorruptionRate >= s.cfg.Integrity.CorruptionThreshold {
		RemediationsTotal.WithLabelValues("rebuild").Inc()
		s.logger.Warn("rebuilding corrupted scope",
			zap.String("scope", key.String()),
			zap.String("status", report.Status()),
			zap.Float64("corruption_rate", report.CorruptionRate),
		)
		if err := s.Invalidate(ctx, key); err != nil {
			s.logger.Error("scope rebuild failed",
				zap.String("scope", key.String()), zap.Error(err))
		}
		return
	}

	h, ok := s.registry.Peek(key)
	if !ok {
		return
	}
	store, ok := h.currentStore()
	if !ok {
		return
	}

	ids := report.RecoverableIDs()
	for _, id := range ids {
		store.Remove(ctx, id)
	}
	RemediationsTotal.WithLabelValues("refetch").Inc()

	fresh, err := s.repo.Load(ctx, key, ids)
	if err != nil {
		s.logger.Error("backfill fetch failed",
			zap.String("scope", key.String()),
			zap.Int("dropped", len(ids)),
			zap.Error(err),
		)
		return
	}
	restored := 0
	for _, e := range fresh {
		if err := store.Insert(ctx, e); err != nil {
			s.logger.Error("backfill insert failed",
				zap.String("scope", key.String()),
				zap.String("entry", e.ID),
				zap.Error(err),
			)
			continue
		}
		restored++
	}
	s.logger.Info("dropped and refetched corrupted entries",
		zap.String("scope", key.String()),
		zap.Int("dropped", len(ids)),
		zap.Int("restored", restored),
	)
}
