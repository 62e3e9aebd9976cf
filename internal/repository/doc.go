// Package repository loads vector entries from the authoritative knowledge
// store that backs the cache.
//
// The cache is a read-through copy: warm-up streams every entry for a scope
// out of the repository, and remediation re-fetches individual entries after
// corruption. Three adapters implement the Repository interface:
//
//   - QdrantRepository: gRPC scroll pagination against a Qdrant cluster,
//     with transient-error retry and a circuit breaker.
//   - SQLiteRepository: embedded pure-Go SQLite for single-node deployments
//     and integration tests.
//   - MemoryRepository: in-memory test double with failure injection.
//
// Adapters that can also persist entries implement Writer. The cache never
// writes; Writer exists for seeding tools and tests.
//
// Entries cross this boundary as fresh values on every call. Adapters must
// never hand the same *vectorcache.VectorEntry to two callers, because the
// cache seals and mutates access metadata on insert.
package repository
