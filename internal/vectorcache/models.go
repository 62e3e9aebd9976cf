package vectorcache

import (
	"encoding/binary"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cespare/xxhash/v2"

	"github.com/fyrsmithlabs/vectorcached/internal/scope"
)

// timeNow is indirected for deterministic tests.
var timeNow = time.Now

const (
	// entryOverheadBytes approximates per-entry fixed cost: struct header,
	// map bucket share, and order-index slot.
	entryOverheadBytes = 128

	// metadataPairOverheadBytes approximates map bucket cost per metadata pair.
	metadataPairOverheadBytes = 16

	// statsWindowSize is the number of recent searches the rolling hit-rate
	// window covers.
	statsWindowSize = 256
)

// VectorEntry is one unit of cached knowledge: an embedding plus the chunk
// text and classification metadata. Entries are immutable once inserted; the
// store takes ownership on Insert and callers must not mutate them afterwards.
// Only access metadata moves after insertion, through atomics.
type VectorEntry struct {
	// ID is unique within the owning scope.
	ID string

	// Embedding is the dense vector. Its length is pinned to the scope's
	// dimensionality by the first insert.
	Embedding []float32

	// Content is the knowledge chunk returned to the RAG caller. It is also
	// the input, together with the embedding bytes, of Checksum.
	Content string

	// Checksum is the xxhash64 digest of Content and the embedding's byte
	// image. Zero means "compute at insert".
	Checksum uint64

	// Category and SourceType are optional classification tags usable as
	// search filters.
	Category   string
	SourceType string

	// Priority ranks the entry for the priority eviction strategy; higher
	// values survive longer.
	Priority int

	// Metadata carries forward-compatible extension fields. Known fields
	// live as typed struct members above; this map is only for fields the
	// schema does not model yet.
	Metadata map[string]string

	// CreatedAt is set at insert when zero.
	CreatedAt time.Time

	// SizeBytes is the estimated memory footprint, recomputed at insert.
	SizeBytes int64

	lastAccessed atomic.Int64
	accessCount  atomic.Int64
}

// LastAccessedAt returns the last time the entry was included in a search
// result set. Before any search it equals CreatedAt.
func (e *VectorEntry) LastAccessedAt() time.Time {
	return time.Unix(0, e.lastAccessed.Load())
}

// AccessCount returns how many times the entry appeared in search results.
func (e *VectorEntry) AccessCount() int64 {
	return e.accessCount.Load()
}

// touch records inclusion in a search result set. The last-accessed time is
// monotone non-decreasing even under concurrent touches.
func (e *VectorEntry) touch(t time.Time) {
	nanos := t.UnixNano()
	for {
		cur := e.lastAccessed.Load()
		if nanos <= cur {
			break
		}
		if e.lastAccessed.CompareAndSwap(cur, nanos) {
			break
		}
	}
	e.accessCount.Add(1)
}

// seal normalizes the entry at insert time: fills CreatedAt and Checksum when
// unset, recomputes SizeBytes, and initializes access metadata.
func (e *VectorEntry) seal(now time.Time) {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = now
	}
	if e.Checksum == 0 {
		e.Checksum = ComputeChecksum(e.Content, e.Embedding)
	}
	e.SizeBytes = e.estimateSize()
	e.lastAccessed.Store(e.CreatedAt.UnixNano())
	e.accessCount.Store(0)
}

// estimateSize computes the deterministic memory footprint estimate.
func (e *VectorEntry) estimateSize() int64 {
	size := int64(entryOverheadBytes)
	size += int64(len(e.Embedding)) * 4
	size += int64(len(e.ID) + len(e.Content) + len(e.Category) + len(e.SourceType))
	for k, v := range e.Metadata {
		size += int64(len(k) + len(v) + metadataPairOverheadBytes)
	}
	return size
}

// verifyChecksum recomputes the digest and compares it to the stored one.
func (e *VectorEntry) verifyChecksum() bool {
	return e.Checksum == ComputeChecksum(e.Content, e.Embedding)
}

// ComputeChecksum digests the content string and the little-endian byte image
// of the embedding. Used for deduplication, change detection, and integrity
// verification.
func ComputeChecksum(content string, embedding []float32) uint64 {
	d := xxhash.New()
	_, _ = d.WriteString(content)
	var buf [4]byte
	for _, f := range embedding {
		binary.LittleEndian.PutUint32(buf[:], math.Float32bits(f))
		_, _ = d.Write(buf[:])
	}
	return d.Sum64()
}

// SearchResult pairs an entry with its similarity score for one query. It is
// ephemeral and never retained by the cache.
type SearchResult struct {
	Entry *VectorEntry
	Score float64
}

// CacheStats is a point-in-time view of one store, derived on demand.
type CacheStats struct {
	Scope      scope.Key
	EntryCount int
	SizeBytes  int64
	SizeKB     int64
	Dimension  int

	// Hits and Misses are cumulative since store creation. HitRate covers
	// only the rolling window of the most recent searches.
	Hits       int64
	Misses     int64
	HitRate    float64
	WindowSize int

	LastEviction time.Time
	CreatedAt    time.Time
}

// statsWindow is a fixed ring of recent search outcomes backing the rolling
// hit rate.
type statsWindow struct {
	mu       sync.Mutex
	outcomes [statsWindowSize]bool
	next     int
	filled   int
}

func (w *statsWindow) record(hit bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.outcomes[w.next] = hit
	w.next = (w.next + 1) % statsWindowSize
	if w.filled < statsWindowSize {
		w.filled++
	}
}

// rate returns the hit rate over the window and the number of observations.
// An empty window reports 0.
func (w *statsWindow) rate() (float64, int) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.filled == 0 {
		return 0, 0
	}
	hits := 0
	for i := 0; i < w.filled; i++ {
		if w.outcomes[i] {
			hits++
		}
	}
	return float64(hits) / float64(w.filled), w.filled
}
