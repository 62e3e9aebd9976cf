// internal/repository/memory.go
package repository

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/fyrsmithlabs/vectorcached/internal/scope"
	"github.com/fyrsmithlabs/vectorcached/internal/vectorcache"
)

// MemoryRepository is an in-memory Repository used as a test double and as
// the warm source for single-process setups that seed their own entries.
// Failure injection covers the paths the cache has to survive: a dead
// backend, a stream that dies mid-warm, and a slow backend.
type MemoryRepository struct {
	mu     sync.RWMutex
	scopes map[scope.Key]map[string]*vectorcache.VectorEntry

	loadErr   error
	failAfter int
	pingErr   error
	loadDelay time.Duration

	loadAllCalls atomic.Int64
}

var (
	_ Repository = (*MemoryRepository)(nil)
	_ Writer     = (*MemoryRepository)(nil)
)

// NewMemory creates an empty in-memory repository.
func NewMemory() *MemoryRepository {
	return &MemoryRepository{
		scopes:    make(map[scope.Key]map[string]*vectorcache.VectorEntry),
		failAfter: -1,
	}
}

// Seed stores entries for a scope, replacing any previous entries for the
// same IDs. It is Save without a context for test setup.
func (r *MemoryRepository) Seed(key scope.Key, entries ...*vectorcache.VectorEntry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	byID := r.scopes[key]
	if byID == nil {
		byID = make(map[string]*vectorcache.VectorEntry, len(entries))
		r.scopes[key] = byID
	}
	for _, e := range entries {
		if e == nil {
			continue
		}
		clone := cloneEntry(e)
		if clone.ID == "" {
			clone.ID = uuid.NewString()
		}
		byID[clone.ID] = clone
	}
}

// SetLoadError makes the next LoadAll and Load calls fail immediately.
func (r *MemoryRepository) SetLoadError(err error) {
	r.FailLoadAfter(0, err)
}

// FailLoadAfter makes LoadAll fail once it has delivered the given number
// of batches. Pass a negative count to clear the injection.
func (r *MemoryRepository) FailLoadAfter(batches int, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failAfter = batches
	r.loadErr = err
}

// SetPingError makes Ping return the given error.
func (r *MemoryRepository) SetPingError(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pingErr = err
}

// SetLoadDelay delays each delivered batch, for timeout tests.
func (r *MemoryRepository) SetLoadDelay(d time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.loadDelay = d
}

// LoadAllCalls returns how many times LoadAll has been invoked.
func (r *MemoryRepository) LoadAllCalls() int64 {
	return r.loadAllCalls.Load()
}

// LoadAll implements Repository.
func (r *MemoryRepository) LoadAll(ctx context.Context, key scope.Key, batchSize int, fn BatchFunc) error {
	r.loadAllCalls.Add(1)
	if batchSize <= 0 {
		return fmt.Errorf("batch size must be > 0, got %d", batchSize)
	}

	r.mu.RLock()
	failAfter, loadErr, delay := r.failAfter, r.loadErr, r.loadDelay
	ids := r.sortedIDsLocked(key)
	r.mu.RUnlock()

	if loadErr != nil && failAfter == 0 {
		return loadErr
	}
	if len(ids) == 0 {
		return fmt.Errorf("%w: %s", ErrScopeNotFound, key)
	}

	delivered := 0
	for start := 0; start < len(ids); start += batchSize {
		if err := ctx.Err(); err != nil {
			return err
		}
		if delay > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
		}
		if loadErr != nil && delivered == failAfter {
			return loadErr
		}

		end := min(start+batchSize, len(ids))
		batch := make([]*vectorcache.VectorEntry, 0, end-start)
		r.mu.RLock()
		for _, id := range ids[start:end] {
			if e, ok := r.scopes[key][id]; ok {
				batch = append(batch, cloneEntry(e))
			}
		}
		r.mu.RUnlock()

		if err := fn(ctx, batch); err != nil {
			return fmt.Errorf("deliver batch: %w", err)
		}
		delivered++
	}

	// A failure point equal to the batch count models a stream that dies
	// after the last page but before a clean end.
	if loadErr != nil && delivered == failAfter {
		return loadErr
	}
	return nil
}

// Load implements Repository.
func (r *MemoryRepository) Load(ctx context.Context, key scope.Key, ids []string) ([]*vectorcache.VectorEntry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.loadErr != nil && r.failAfter == 0 {
		return nil, r.loadErr
	}

	byID := r.scopes[key]
	out := make([]*vectorcache.VectorEntry, 0, len(ids))
	for _, id := range ids {
		if e, ok := byID[id]; ok {
			out = append(out, cloneEntry(e))
		}
	}
	sortEntriesByID(out)
	return out, nil
}

// Save implements Writer.
func (r *MemoryRepository) Save(ctx context.Context, key scope.Key, entries []*vectorcache.VectorEntry) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.Seed(key, entries...)
	return nil
}

// Delete implements Writer.
func (r *MemoryRepository) Delete(ctx context.Context, key scope.Key, ids []string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	byID := r.scopes[key]
	for _, id := range ids {
		delete(byID, id)
	}
	return nil
}

// Ping implements Repository.
func (r *MemoryRepository) Ping(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.pingErr
}

// Close implements Repository.
func (r *MemoryRepository) Close() error {
	return nil
}

// sortedIDsLocked returns the scope's entry IDs in ascending order. Callers
// must hold at least a read lock.
func (r *MemoryRepository) sortedIDsLocked(key scope.Key) []string {
	byID := r.scopes[key]
	ids := make([]string, 0, len(byID))
	for id := range byID {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// cloneEntry copies an entry field by field. Entries carry atomic access
// metadata, so adapters hand out fresh values instead of shared pointers.
func cloneEntry(e *vectorcache.VectorEntry) *vectorcache.VectorEntry {
	clone := &vectorcache.VectorEntry{
		ID:         e.ID,
		Content:    e.Content,
		Checksum:   e.Checksum,
		Category:   e.Category,
		SourceType: e.SourceType,
		Priority:   e.Priority,
		CreatedAt:  e.CreatedAt,
		SizeBytes:  e.SizeBytes,
		Embedding:  append([]float32(nil), e.Embedding...),
	}
	if e.Metadata != nil {
		clone.Metadata = make(map[string]string, len(e.Metadata))
		for k, v := range e.Metadata {
			clone.Metadata[k] = v
		}
	}
	return clone
}
