package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/fyrsmithlabs/vectorcached/internal/config"
	"github.com/fyrsmithlabs/vectorcached/internal/embeddings"
	"github.com/fyrsmithlabs/vectorcached/internal/repository"
	"github.com/fyrsmithlabs/vectorcached/internal/scope"
	"github.com/fyrsmithlabs/vectorcached/internal/vectorcache"
)

// stubProvider returns one fixed vector for every text.
type stubProvider struct {
	vec []float32
	err error
}

func (p *stubProvider) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	if p.err != nil {
		return nil, p.err
	}
	return p.vec, nil
}

func (p *stubProvider) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		v, err := p.EmbedQuery(ctx, texts[i])
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func (p *stubProvider) Dimension() int { return len(p.vec) }
func (p *stubProvider) Close() error   { return nil }

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.Eviction.Seed = 1
	cfg.Registry.WarmBatchSize = 2
	cfg.Registry.WarmTimeout = 5 * time.Second
	return cfg
}

func newTestService(t *testing.T, cfg *config.Config, repo *repository.MemoryRepository, provider embeddings.Provider) *Service {
	t.Helper()
	if cfg == nil {
		cfg = testConfig()
	}
	svc, err := New(cfg, repo, provider, zaptest.NewLogger(t))
	require.NoError(t, err)
	return svc
}

func TestService_New_Validation(t *testing.T) {
	logger := zaptest.NewLogger(t)
	repo := repository.NewMemory()

	_, err := New(nil, repo, nil, logger)
	require.Error(t, err)

	_, err = New(testConfig(), nil, nil, logger)
	require.Error(t, err)

	bad := testConfig()
	bad.Eviction.Strategy = "mru"
	_, err = New(bad, repo, nil, logger)
	require.Error(t, err)
}

func TestService_SearchWarmsAndRanks(t *testing.T) {
	key := testKey(t)
	repo := repository.NewMemory()
	repo.Seed(key,
		testEntry("a", []float32{1, 0, 0}),
		testEntry("b", []float32{0, 1, 0}),
	)
	svc := newTestService(t, nil, repo, nil)

	results, err := svc.Search(context.Background(), key,
		[]float32{1, 0, 0}, &vectorcache.SearchOptions{Threshold: 0.5, Limit: 5})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "a", results[0].Entry.ID)
	assert.InDelta(t, 1.0, results[0].Score, 1e-6)

	stats, err := svc.Stats(context.Background(), key)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.EntryCount)
	assert.Equal(t, 3, stats.Dimension)
}

func TestService_SearchNilOptsUseConfigDefaults(t *testing.T) {
	key := testKey(t)
	repo := repository.NewMemory()
	repo.Seed(key,
		testEntry("a", []float32{1, 0, 0}),
		testEntry("b", []float32{0.9, 0.1, 0}),
	)
	cfg := testConfig()
	cfg.Search.Limit = 1
	svc := newTestService(t, cfg, repo, nil)

	results, err := svc.Search(context.Background(), key, []float32{1, 0, 0}, nil)
	require.NoError(t, err)
	assert.Len(t, results, 1, "configured default limit applies")
	assert.Equal(t, "a", results[0].Entry.ID)
}

func TestService_SearchInvalidKey(t *testing.T) {
	svc := newTestService(t, nil, repository.NewMemory(), nil)

	_, err := svc.Search(context.Background(), scope.Key{}, []float32{1}, nil)
	assert.ErrorIs(t, err, scope.ErrInvalidKey)
}

func TestService_SearchFailedWarmSurfacesError(t *testing.T) {
	key := testKey(t)
	svc := newTestService(t, nil, repository.NewMemory(), nil)

	_, err := svc.Search(context.Background(), key, []float32{1, 0, 0}, nil)
	require.ErrorIs(t, err, ErrWarmFailed)
	assert.ErrorIs(t, err, repository.ErrScopeNotFound)
}

func TestService_SearchText(t *testing.T) {
	key := testKey(t)
	repo := repository.NewMemory()
	repo.Seed(key,
		testEntry("a", []float32{1, 0, 0}),
		testEntry("b", []float32{0, 1, 0}),
	)
	provider := &stubProvider{vec: []float32{0, 1, 0}}
	svc := newTestService(t, nil, repo, provider)

	results, err := svc.SearchText(context.Background(), key, "how do refunds work",
		&vectorcache.SearchOptions{Threshold: 0.5, Limit: 5})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "b", results[0].Entry.ID)
}

func TestService_SearchTextProviderFailure(t *testing.T) {
	key := testKey(t)
	provider := &stubProvider{err: fmt.Errorf("%w: quota exhausted", embeddings.ErrEmbeddingFailed)}
	svc := newTestService(t, nil, repository.NewMemory(), provider)

	_, err := svc.SearchText(context.Background(), key, "anything", nil)
	assert.ErrorIs(t, err, embeddings.ErrEmbeddingFailed)
}

func TestService_SearchTextWithoutProvider(t *testing.T) {
	svc := newTestService(t, nil, repository.NewMemory(), nil)

	_, err := svc.SearchText(context.Background(), testKey(t), "anything", nil)
	assert.ErrorIs(t, err, embeddings.ErrInvalidConfig)
}

func TestService_InvalidateRoundTrip(t *testing.T) {
	key := testKey(t)
	repo := repository.NewMemory()
	seedScope(t, repo, key, 3)
	svc := newTestService(t, nil, repo, nil)

	_, err := svc.Search(context.Background(), key, []float32{1, 0, 0}, nil)
	require.NoError(t, err)

	seedScope(t, repo, key, 5)
	require.NoError(t, svc.Invalidate(context.Background(), key))

	stats, err := svc.Stats(context.Background(), key)
	require.NoError(t, err)
	assert.Equal(t, 5, stats.EntryCount)
}

func TestService_InvalidateUncachedScopeIsNoop(t *testing.T) {
	repo := repository.NewMemory()
	svc := newTestService(t, nil, repo, nil)

	require.NoError(t, svc.Invalidate(context.Background(), testKey(t)))
	assert.Zero(t, repo.LoadAllCalls())
}

func TestService_StatsDoesNotWarm(t *testing.T) {
	key := testKey(t)
	repo := repository.NewMemory()
	seedScope(t, repo, key, 3)
	svc := newTestService(t, nil, repo, nil)

	_, err := svc.Stats(context.Background(), key)
	assert.ErrorIs(t, err, ErrScopeNotCached)
	assert.Zero(t, repo.LoadAllCalls())
}

func TestService_HealthCheck(t *testing.T) {
	repo := repository.NewMemory()
	keyA := mustKey(t, "org-a")
	keyB := mustKey(t, "org-b")
	seedScope(t, repo, keyA, 2)
	seedScope(t, repo, keyB, 3)
	// Pad one entry past 1 KiB so the aggregate registers in MemoryKB.
	padded := testEntry("z", []float32{0, 0, 1})
	padded.Content = strings.Repeat("k", 2048)
	repo.Seed(keyB, padded)
	svc := newTestService(t, nil, repo, nil)

	health := svc.HealthCheck(context.Background())
	assert.True(t, health.Ready)
	assert.Zero(t, health.Scopes, "nothing warmed yet")

	require.NoError(t, svc.Prewarm(context.Background(), []scope.Key{keyA, keyB}))

	health = svc.HealthCheck(context.Background())
	assert.True(t, health.Ready)
	assert.Equal(t, 2, health.Scopes)
	assert.Equal(t, 6, health.EntryCount)
	assert.Positive(t, health.MemoryKB)

	repo.SetPingError(errors.New("backend down"))
	health = svc.HealthCheck(context.Background())
	assert.False(t, health.Ready)
}

func TestService_PrewarmFailsOnUnknownScope(t *testing.T) {
	repo := repository.NewMemory()
	known := mustKey(t, "org-a")
	seedScope(t, repo, known, 2)
	svc := newTestService(t, nil, repo, nil)

	err := svc.Prewarm(context.Background(), []scope.Key{known, mustKey(t, "org-b")})
	require.ErrorIs(t, err, ErrWarmFailed)

	// The known scope still warmed.
	stats, err := svc.Stats(context.Background(), known)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.EntryCount)
}

// corruptEntry flips an embedding component in place so the stored checksum
// no longer matches.
func corruptEntry(t *testing.T, store *vectorcache.Store, id string) {
	t.Helper()
	e, ok := store.Get(id)
	require.True(t, ok)
	e.Embedding[0] += 1000
}

func TestService_RemediateRefetchesCorruptEntries(t *testing.T) {
	key := testKey(t)
	repo := repository.NewMemory()
	seedScope(t, repo, key, 4)
	svc := newTestService(t, nil, repo, nil)

	require.NoError(t, svc.Prewarm(context.Background(), []scope.Key{key}))
	store, ok := svc.registry.Get(key).currentStore()
	require.True(t, ok)

	corruptEntry(t, store, "a")
	report, err := svc.checker.Scan(context.Background(), store)
	require.NoError(t, err)
	require.Equal(t, 1, report.Affected)
	require.False(t, report.StructuralDamage)

	svc.remediate(key, report)

	// One corrupt entry out of four stays below the rebuild threshold, so the
	// store was repaired in place rather than rewarmed.
	assert.Equal(t, int64(1), repo.LoadAllCalls())
	restored, ok := store.Get("a")
	require.True(t, ok)
	assert.Equal(t, []float32{1, 0, 0}, restored.Embedding)

	clean, err := svc.checker.Scan(context.Background(), store)
	require.NoError(t, err)
	assert.True(t, clean.IsHealthy())
}

func TestService_RemediateRebuildsAboveThreshold(t *testing.T) {
	key := testKey(t)
	repo := repository.NewMemory()
	seedScope(t, repo, key, 4)
	cfg := testConfig()
	cfg.Integrity.CorruptionThreshold = 0.25
	svc := newTestService(t, cfg, repo, nil)

	require.NoError(t, svc.Prewarm(context.Background(), []scope.Key{key}))
	store, ok := svc.registry.Get(key).currentStore()
	require.True(t, ok)

	corruptEntry(t, store, "a")
	corruptEntry(t, store, "b")
	report, err := svc.checker.Scan(context.Background(), store)
	require.NoError(t, err)
	require.GreaterOrEqual(t, report.CorruptionRate, 0.25)

	svc.remediate(key, report)

	assert.Equal(t, int64(2), repo.LoadAllCalls(), "scope rebuilt from the repository")
	stats, err := svc.Stats(context.Background(), key)
	require.NoError(t, err)
	assert.Equal(t, 4, stats.EntryCount)
}

func TestService_BackgroundScannerRepairsCorruption(t *testing.T) {
	key := testKey(t)
	repo := repository.NewMemory()
	seedScope(t, repo, key, 4)
	cfg := testConfig()
	cfg.Integrity.ScanInterval = 10 * time.Millisecond
	svc := newTestService(t, cfg, repo, nil)

	require.NoError(t, svc.Prewarm(context.Background(), []scope.Key{key}))
	store, ok := svc.registry.Get(key).currentStore()
	require.True(t, ok)
	corruptEntry(t, store, "b")

	svc.Start(context.Background())
	defer svc.Stop()

	require.Eventually(t, func() bool {
		e, ok := store.Get("b")
		return ok && e.Embedding[0] == 2
	}, 2*time.Second, 10*time.Millisecond, "sweep drops and refetches the corrupt entry")
}
