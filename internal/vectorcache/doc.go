// Package vectorcache implements the in-memory vector knowledge cache that
// backs retrieval-augmented generation: a per-scope embedding store with
// bounded memory, deterministic similarity search, configurable eviction, and
// integrity scanning.
//
// Each (organization, configuration, content version) scope owns one Store.
// Entries are immutable once inserted; only access metadata (last-accessed
// time, access count) moves afterwards, via atomics, so concurrent searches
// never contend on the store lock for bookkeeping.
//
// # Components
//
//   - Store: RWMutex-guarded map of VectorEntry keyed by id, with an
//     insertion-order index, pinned dimensionality, and byte-accurate size
//     accounting.
//   - SearchEngine: flat cosine-similarity scan with threshold, limit, and
//     category/source filters. Ordering is fully deterministic: score
//     descending, then most recent access, then ascending id.
//   - BudgetManager: enforces the per-scope memory ceiling after every insert,
//     evicting down to budget x headroom.
//   - EvictionManager: lru, lfu, random, and priority strategies with defined
//     tie-breaks.
//   - IntegrityChecker and BackgroundScanner: advisory dimension/checksum
//     scans that classify corruption as recoverable (drop and backfill) or
//     structural (scope rebuild).
//
// # Usage
//
//	evictor := vectorcache.NewEvictionManager(vectorcache.EvictionConfig{Strategy: vectorcache.StrategyLRU}, logger)
//	budget := vectorcache.NewBudgetManager(vectorcache.BudgetConfig{MaxMemoryKB: 4096}, evictor, logger)
//	store := vectorcache.NewStore(key, budget, logger)
//
//	if err := store.Insert(ctx, entry); err != nil { ... }
//
//	engine := vectorcache.NewSearchEngine(logger)
//	results, err := engine.Search(ctx, store, query, vectorcache.DefaultSearchOptions())
//
// Memory accounting counts only entry payloads (embedding, content, tags,
// metadata) plus a fixed per-entry overhead; Go runtime overhead outside the
// store is not modeled. The budget invariant is: after any completed mutating
// call, the aggregate entry size never exceeds MaxMemoryKB.
package vectorcache
