package lifecycle

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/vectorcached/internal/repository"
	"github.com/fyrsmithlabs/vectorcached/internal/scope"
	"github.com/fyrsmithlabs/vectorcached/internal/vectorcache"
)

var tracer = otel.Tracer("vectorcached.lifecycle")

// State is the lifecycle phase of one scope's cache.
type State string

const (
	// StateUninitialized means no access has touched the scope yet.
	StateUninitialized State = "uninitialized"
	// StateWarming means the first population from the repository is in
	// flight and there is no store to read from yet.
	StateWarming State = "warming"
	// StateReady means the store is populated and serving.
	StateReady State = "ready"
	// StateInvalidating means a re-warm is in flight while readers keep the
	// previous store.
	StateInvalidating State = "invalidating"
	// StateFailed means the last warm failed; the scope is unusable until an
	// explicit Invalidate retries.
	StateFailed State = "failed"
)

// handleDeps are the shared collaborators every handle warms through. One set
// serves all handles; handles hold no per-scope configuration of their own.
type handleDeps struct {
	repo        repository.Repository
	budget      *vectorcache.BudgetManager
	batchSize   int
	warmTimeout time.Duration
	logger      *zap.Logger
}

// Handle drives the state machine for one scope. It is created by the
// registry on first access and closed when the registry reclaims the scope.
//
// Exactly one warm runs at a time per handle; every accessor that arrives
// while it is in flight waits on the same attempt and shares its outcome.
type Handle struct {
	key  scope.Key
	deps handleDeps

	mu       sync.Mutex
	state    State
	store    *vectorcache.Store
	initErr  error
	warmDone chan struct{}
	closed   bool
}

func newHandle(key scope.Key, deps handleDeps) *Handle {
	return &Handle{
		key:   key,
		deps:  deps,
		state: StateUninitialized,
	}
}

// Scope returns the scope this handle owns.
func (h *Handle) Scope() scope.Key { return h.key }

// State returns the current lifecycle phase.
func (h *Handle) State() State {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state
}

// acquire returns a store ready for reads, warming the scope on first access.
//
// During invalidation readers receive the previous store until the re-warmed
// one swaps in, so a knowledge update never blocks searches. During the
// initial warm there is no previous store and accessors wait, bounded by
// their own context. A Failed scope returns its cached InitError without
// touching the repository again.
func (h *Handle) acquire(ctx context.Context) (*vectorcache.Store, error) {
	for {
		h.mu.Lock()
		if h.closed {
			h.mu.Unlock()
			return nil, fmt.Errorf("%w: %s", ErrScopeClosed, h.key)
		}
		switch h.state {
		case StateReady, StateInvalidating:
			store := h.store
			h.mu.Unlock()
			return store, nil
		case StateFailed:
			err := h.initErr
			h.mu.Unlock()
			return nil, err
		case StateUninitialized:
			h.beginWarmLocked(StateWarming)
		}

		wait := h.warmDone
		h.mu.Unlock()
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-wait:
		}
	}
}

// invalidate clears and re-warms the scope, blocking until the re-warm
// finishes, and returns its outcome. A Ready scope re-warms with
// double-buffering; a Failed scope gets a fresh warm attempt; an
// Uninitialized scope has nothing to invalidate. A warm already in flight is
// waited out first so the invalidation is guaranteed to load post-update
// content.
func (h *Handle) invalidate(ctx context.Context) error {
	ctx, span := tracer.Start(ctx, "lifecycle.invalidate")
	defer span.End()
	span.SetAttributes(attribute.String("cache.scope", h.key.String()))

	for {
		h.mu.Lock()
		if h.closed {
			h.mu.Unlock()
			return fmt.Errorf("%w: %s", ErrScopeClosed, h.key)
		}
		switch h.state {
		case StateUninitialized:
			h.mu.Unlock()
			span.SetStatus(codes.Ok, "")
			return nil
		case StateWarming, StateInvalidating:
			wait := h.warmDone
			h.mu.Unlock()
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-wait:
			}
			continue
		case StateReady:
			h.beginWarmLocked(StateInvalidating)
		case StateFailed:
			h.initErr = nil
			h.beginWarmLocked(StateWarming)
		}

		wait := h.warmDone
		h.mu.Unlock()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-wait:
		}

		h.mu.Lock()
		err := h.initErr
		h.mu.Unlock()
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return err
		}
		span.SetStatus(codes.Ok, "")
		return nil
	}
}

// stats reports the resident store's statistics without triggering a warm.
func (h *Handle) stats() (vectorcache.CacheStats, error) {
	h.mu.Lock()
	store := h.store
	state := h.state
	h.mu.Unlock()
	if store == nil {
		return vectorcache.CacheStats{}, fmt.Errorf("%w: %s is %s", ErrScopeNotCached, h.key, state)
	}
	return store.Stats(), nil
}

// currentStore returns the resident store when the scope is Ready. Stores
// mid-invalidation are skipped: the integrity scanner and remediation have no
// business repairing a store that is about to be replaced.
func (h *Handle) currentStore() (*vectorcache.Store, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.state != StateReady || h.store == nil {
		return nil, false
	}
	return h.store, true
}

// beginWarmLocked transitions into next (Warming or Invalidating) and
// launches the warm goroutine. Callers hold the mutex.
func (h *Handle) beginWarmLocked(next State) {
	h.state = next
	done := make(chan struct{})
	h.warmDone = done
	go h.warm(done)
}

// warm populates a fresh store from the repository and swaps it in. It runs
// detached from the triggering caller's context: the attempt is bounded by
// the configured warm timeout, and a caller that gives up waiting does not
// abort the warm for everyone else.
//
// The warm is atomic from any reader's perspective. The fresh store becomes
// visible only after a clean load; any repository, validation, or budget
// error discards it, drops the previous store, and parks the scope in Failed.
func (h *Handle) warm(done chan struct{}) {
	defer close(done)

	ctx, cancel := context.WithTimeout(context.Background(), h.deps.warmTimeout)
	defer cancel()
	ctx, span := tracer.Start(ctx, "lifecycle.warm")
	defer span.End()
	span.SetAttributes(attribute.String("cache.scope", h.key.String()))

	start := time.Now()
	fresh := vectorcache.NewStore(h.key, h.deps.budget, h.deps.logger)
	loaded := 0
	err := h.deps.repo.LoadAll(ctx, h.key, h.deps.batchSize, func(ctx context.Context, entries []*vectorcache.VectorEntry) error {
		for _, e := range entries {
			if err := fresh.Insert(ctx, e); err != nil {
				return err
			}
		}
		loaded += len(entries)
		return nil
	})
	elapsed := time.Since(start)

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		// The registry reclaimed the scope mid-warm; the result has no home.
		return
	}
	if err != nil {
		h.state = StateFailed
		h.store = nil
		h.initErr = &InitError{Scope: h.key, Cause: err}
		WarmsTotal.WithLabelValues("failed").Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		h.deps.logger.Error("scope warm failed",
			zap.String("scope", h.key.String()),
			zap.Int("entries_loaded", loaded),
			zap.Duration("elapsed", elapsed),
			zap.Error(err),
		)
		return
	}

	h.state = StateReady
	h.store = fresh
	h.initErr = nil
	WarmsTotal.WithLabelValues("ready").Inc()
	WarmDuration.Observe(elapsed.Seconds())
	span.SetAttributes(
		attribute.Int("cache.entries", loaded),
		attribute.Int("cache.dimension", fresh.Dimension()),
	)
	span.SetStatus(codes.Ok, "")
	h.deps.logger.Info("scope warmed",
		zap.String("scope", h.key.String()),
		zap.Int("entries", loaded),
		zap.Int("dimension", fresh.Dimension()),
		zap.Duration("elapsed", elapsed),
	)
}

// close marks the handle reclaimed and drops its per-scope metric series.
// In-flight searches holding the store finish against it safely; new work
// through the registry gets a fresh handle that rewarms from the repository.
func (h *Handle) close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	h.store = nil
	vectorcache.ResetScopeMetrics(h.key.String())
}
