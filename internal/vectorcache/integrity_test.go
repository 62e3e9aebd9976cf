package vectorcache

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func newChecker(t *testing.T) *IntegrityChecker {
	t.Helper()
	return NewIntegrityChecker(IntegrityConfig{ChecksumEnabled: true}, zaptest.NewLogger(t))
}

func TestIntegrityChecker_Scan_Healthy(t *testing.T) {
	s := seedStore(t,
		testEntry("a", []float32{1, 0, 0}),
		testEntry("b", []float32{0, 1, 0}),
		testEntry("c", []float32{0, 0, 1}),
	)

	report, err := newChecker(t).Scan(context.Background(), s)
	require.NoError(t, err)

	assert.True(t, report.IsHealthy())
	assert.Equal(t, "healthy", report.Status())
	assert.Equal(t, 3, report.Total)
	assert.Zero(t, report.Affected)
	assert.Zero(t, report.CorruptionRate)
	assert.False(t, report.StructuralDamage)
	assert.False(t, report.CheckedAt.IsZero())
	assert.Empty(t, report.RecoverableIDs())
}

func TestIntegrityChecker_Scan_EmptyStore(t *testing.T) {
	s := newUnboundedStore(t)

	report, err := newChecker(t).Scan(context.Background(), s)
	require.NoError(t, err)

	assert.True(t, report.IsHealthy())
	assert.Zero(t, report.Total)
	assert.Zero(t, report.CorruptionRate)
}

func TestIntegrityChecker_Scan_ChecksumMismatch(t *testing.T) {
	s := seedStore(t,
		testEntry("a", []float32{1, 0}),
		testEntry("b", []float32{0, 1}),
		testEntry("c", []float32{1, 1}),
	)

	// Content mutated behind the store's back no longer matches the digest
	// computed at insert time.
	victim, ok := s.Get("b")
	require.True(t, ok)
	victim.Content = "tampered"

	report, err := newChecker(t).Scan(context.Background(), s)
	require.NoError(t, err)

	assert.False(t, report.IsHealthy())
	assert.Equal(t, "degraded", report.Status())
	assert.Equal(t, 1, report.Affected)
	assert.InDelta(t, 1.0/3.0, report.CorruptionRate, 1e-9)
	assert.False(t, report.StructuralDamage)

	require.Len(t, report.Findings, 1)
	assert.Equal(t, "b", report.Findings[0].EntryID)
	assert.Equal(t, FindingChecksumMismatch, report.Findings[0].Kind)
	assert.True(t, report.Findings[0].Recoverable)
	assert.Equal(t, []string{"b"}, report.RecoverableIDs())
}

func TestIntegrityChecker_Scan_DimensionMismatch(t *testing.T) {
	s := seedStore(t,
		testEntry("a", []float32{1, 0, 0}),
		testEntry("b", []float32{0, 1, 0}),
	)

	victim, ok := s.Get("a")
	require.True(t, ok)
	victim.Embedding = []float32{1}

	report, err := newChecker(t).Scan(context.Background(), s)
	require.NoError(t, err)

	// The truncated embedding also breaks the checksum, but the entry is
	// reported once, under the dimension finding.
	require.Len(t, report.Findings, 1)
	assert.Equal(t, FindingDimensionMismatch, report.Findings[0].Kind)
	assert.Equal(t, "a", report.Findings[0].EntryID)
	assert.True(t, report.Findings[0].Recoverable)
	assert.Equal(t, 1, report.Affected)
}

func TestIntegrityChecker_Scan_SizeDrift(t *testing.T) {
	s := seedStore(t,
		testEntry("a", []float32{1, 0}),
		testEntry("b", []float32{0, 1}),
	)

	s.mu.Lock()
	s.sizeBytes += 512
	s.mu.Unlock()

	report, err := newChecker(t).Scan(context.Background(), s)
	require.NoError(t, err)

	assert.Equal(t, "critical", report.Status())
	assert.True(t, report.StructuralDamage)
	require.Len(t, report.Findings, 1)
	assert.Equal(t, FindingSizeDrift, report.Findings[0].Kind)
	assert.False(t, report.Findings[0].Recoverable)
	assert.Empty(t, report.RecoverableIDs(), "structural findings are not per-entry recoverable")
	assert.Zero(t, report.Affected, "drift is not attributed to any entry")
}

func TestIntegrityChecker_Scan_MultipleFindings(t *testing.T) {
	s := seedStore(t,
		testEntry("a", []float32{1, 0}),
		testEntry("b", []float32{0, 1}),
		testEntry("c", []float32{1, 1}),
		testEntry("d", []float32{1, 2}),
	)
	for _, id := range []string{"b", "d"} {
		victim, ok := s.Get(id)
		require.True(t, ok)
		victim.Content = "tampered " + id
	}

	report, err := newChecker(t).Scan(context.Background(), s)
	require.NoError(t, err)

	assert.Equal(t, 2, report.Affected)
	assert.InDelta(t, 0.5, report.CorruptionRate, 1e-9)
	assert.Equal(t, []string{"b", "d"}, report.RecoverableIDs(), "insertion order")
}

func TestIntegrityChecker_Scan_ChecksumDisabled(t *testing.T) {
	s := seedStore(t, testEntry("a", []float32{1, 0}))
	victim, ok := s.Get("a")
	require.True(t, ok)
	victim.Content = "tampered"

	checker := NewIntegrityChecker(IntegrityConfig{ChecksumEnabled: false}, zaptest.NewLogger(t))
	report, err := checker.Scan(context.Background(), s)
	require.NoError(t, err)

	assert.True(t, report.IsHealthy(), "checksum verification is opt-out")
}

func TestIntegrityChecker_Scan_Cancelled(t *testing.T) {
	s := seedStore(t, testEntry("a", []float32{1, 0}))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := newChecker(t).Scan(ctx, s)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestIntegrityReport_Status(t *testing.T) {
	tests := []struct {
		name   string
		report IntegrityReport
		want   string
	}{
		{"no findings", IntegrityReport{}, "healthy"},
		{"recoverable only", IntegrityReport{
			Findings: []Finding{{EntryID: "a", Kind: FindingChecksumMismatch, Recoverable: true}},
		}, "degraded"},
		{"structural", IntegrityReport{
			Findings:         []Finding{{Kind: FindingSizeDrift}},
			StructuralDamage: true,
		}, "critical"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.report.Status())
		})
	}
}
