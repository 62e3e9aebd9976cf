// Package lifecycle owns the cache instances: one store per scope, each moving
// through an explicit state machine, all reachable only through a
// constructor-injected registry and a caller-facing Service.
//
// A scope's cache is Uninitialized until first access, Warming while it loads
// from the authoritative repository, Ready while serving, and Invalidating
// while a knowledge-base update re-warms it. A failed warm parks the scope in
// Failed until an explicit Invalidate retries; there is no silent fallback to
// an empty cache.
//
// Invalidation is double-buffered: readers keep the previous store until the
// re-warmed one swaps in atomically, so a knowledge update never opens a
// visible "cache unavailable" window. A failed re-warm drops the previous
// store rather than serving it stale.
//
// The registry bounds total process memory across organizations with a
// coarse capacity-plus-TTL reclamation at whole-scope granularity, distinct
// from the per-entry eviction inside each store. Reclaiming a scope is always
// safe because any scope can be rewarmed from the repository.
package lifecycle
