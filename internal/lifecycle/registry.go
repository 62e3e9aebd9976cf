package lifecycle

import (
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/vectorcached/internal/scope"
	"github.com/fyrsmithlabs/vectorcached/internal/vectorcache"
)

// Registry owns one Handle per scope. It is constructor-injected, never a
// package-level singleton, so tests get isolated instances and nothing leaks
// across them.
//
// Residency is bounded at whole-scope granularity by an expirable LRU: a
// capacity cap plus a coarse idle TTL. This is the process-wide memory bound
// across organizations, distinct from the per-entry budget inside each store.
// A reclaimed handle is closed; the next access for that scope creates a
// fresh one and rewarms it from the repository.
type Registry struct {
	mu        sync.Mutex
	lru       *expirable.LRU[scope.Key, *Handle]
	newHandle func(scope.Key) *Handle
	logger    *zap.Logger
}

// NewRegistry builds a registry bounded to maxScopes resident handles, each
// expiring after ttl without use.
func NewRegistry(maxScopes int, ttl time.Duration, newHandle func(scope.Key) *Handle, logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &Registry{
		newHandle: newHandle,
		logger:    logger,
	}
	onReclaim := func(key scope.Key, h *Handle) {
		h.close()
		ScopeReclamationsTotal.Inc()
		logger.Info("scope reclaimed", zap.String("scope", key.String()))
	}
	r.lru = expirable.NewLRU(maxScopes, onReclaim, ttl)
	return r
}

// Get returns the handle for the scope, creating it on first access. Getting
// a handle refreshes its recency in the reclamation order.
func (r *Registry) Get(key scope.Key) *Handle {
	r.mu.Lock()
	defer r.mu.Unlock()
	if h, ok := r.lru.Get(key); ok {
		return h
	}
	h := r.newHandle(key)
	r.lru.Add(key, h)
	ActiveScopesGauge.Set(float64(r.lru.Len()))
	return h
}

// Peek returns the handle without creating one and without refreshing its
// recency. Stats and invalidation use it so that observing a scope does not
// warm it or keep it alive.
func (r *Registry) Peek(key scope.Key) (*Handle, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lru.Peek(key)
}

// EvictScope reclaims one scope immediately and reports whether it was
// resident.
func (r *Registry) EvictScope(key scope.Key) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	ok := r.lru.Remove(key)
	ActiveScopesGauge.Set(float64(r.lru.Len()))
	return ok
}

// Clear reclaims every resident scope.
func (r *Registry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lru.Purge()
	ActiveScopesGauge.Set(0)
}

// Len returns the number of resident scopes.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lru.Len()
}

// Keys returns the resident scope keys, least recently used first.
func (r *Registry) Keys() []scope.Key {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lru.Keys()
}

// Stores returns every Ready store, the source the background integrity
// scanner sweeps. Warming, invalidating, and failed scopes are skipped.
func (r *Registry) Stores() []*vectorcache.Store {
	r.mu.Lock()
	handles := r.lru.Values()
	r.mu.Unlock()

	stores := make([]*vectorcache.Store, 0, len(handles))
	for _, h := range handles {
		if s, ok := h.currentStore(); ok {
			stores = append(stores, s)
		}
	}
	return stores
}
