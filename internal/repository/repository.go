// internal/repository/repository.go
package repository

import (
	"context"
	"errors"
	"sort"

	"github.com/fyrsmithlabs/vectorcached/internal/scope"
	"github.com/fyrsmithlabs/vectorcached/internal/vectorcache"
)

var (
	// ErrScopeNotFound indicates the repository holds no entries for the
	// scope. An empty knowledge base and an unknown scope are deliberately
	// indistinguishable so that typoed scopes fail warm-up instead of
	// serving an empty cache.
	ErrScopeNotFound = errors.New("scope not found in repository")

	// ErrUnavailable indicates the backend cannot currently serve reads,
	// either because transport failed past the retry budget or because the
	// circuit breaker is open.
	ErrUnavailable = errors.New("repository unavailable")
)

// BatchFunc consumes one page of entries during LoadAll. Returning an error
// aborts the stream and propagates out of LoadAll.
type BatchFunc func(ctx context.Context, entries []*vectorcache.VectorEntry) error

// Repository is the read surface the cache warms and remediates from.
type Repository interface {
	// LoadAll streams every entry for a scope in batches of at most
	// batchSize, ordered by entry ID. Returns ErrScopeNotFound when the
	// scope has no entries.
	LoadAll(ctx context.Context, key scope.Key, batchSize int, fn BatchFunc) error

	// Load fetches specific entries by ID. Missing IDs are silently
	// skipped; the result is ordered by entry ID.
	Load(ctx context.Context, key scope.Key, ids []string) ([]*vectorcache.VectorEntry, error)

	// Ping verifies the backend is reachable.
	Ping(ctx context.Context) error

	// Close releases backend connections.
	Close() error
}

// sortEntriesByID orders a result set the way every adapter returns it.
func sortEntriesByID(entries []*vectorcache.VectorEntry) {
	sort.Slice(entries, func(i, j int) bool { return entries[i].ID < entries[j].ID })
}

// Writer is implemented by adapters that can persist entries. The cache
// itself never writes; seeding tools and tests use this surface.
type Writer interface {
	// Save upserts entries for a scope. Entries without an ID are assigned
	// a generated one.
	Save(ctx context.Context, key scope.Key, entries []*vectorcache.VectorEntry) error

	// Delete removes entries by ID. Unknown IDs are ignored.
	Delete(ctx context.Context, key scope.Key, ids []string) error
}
