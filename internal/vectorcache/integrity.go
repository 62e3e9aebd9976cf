package vectorcache

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/vectorcached/internal/scope"
)

// IntegrityConfig configures the checker.
type IntegrityConfig struct {
	// ChecksumEnabled turns on content digest verification during scans.
	// Dimension and accounting checks always run.
	ChecksumEnabled bool
}

// FindingKind classifies one integrity finding.
type FindingKind string

const (
	// FindingDimensionMismatch flags an entry whose vector length disagrees
	// with the store dimensionality. Unreachable through Insert validation;
	// the scan exists to catch unsafe mutation paths.
	FindingDimensionMismatch FindingKind = "dimension_mismatch"

	// FindingChecksumMismatch flags an entry whose recomputed digest differs
	// from the stored one, indicating a partial write.
	FindingChecksumMismatch FindingKind = "checksum_mismatch"

	// FindingSizeDrift flags disagreement between the store's aggregate size
	// and the recomputed per-entry sum. Accounting drift is structural: no
	// single entry can be dropped to fix it.
	FindingSizeDrift FindingKind = "size_drift"
)

// Finding describes one detected problem. Recoverable findings identify an
// entry that can be dropped and backfilled from the authoritative repository;
// unrecoverable ones require a scope-wide rebuild.
type Finding struct {
	EntryID     string
	Kind        FindingKind
	Recoverable bool
	Detail      string
}

// IntegrityReport is the outcome of one scan. The scan never mutates the
// store; remediation is the lifecycle controller's decision, driven by
// CorruptionRate and StructuralDamage.
type IntegrityReport struct {
	Scope            scope.Key
	Total            int
	Affected         int
	Findings         []Finding
	CorruptionRate   float64
	StructuralDamage bool
	CheckedAt        time.Time
	Duration         time.Duration
}

// IsHealthy reports whether the scan found nothing.
func (r *IntegrityReport) IsHealthy() bool {
	return len(r.Findings) == 0
}

// Status summarizes the report: healthy, degraded (recoverable findings
// only), or critical (structural damage).
func (r *IntegrityReport) Status() string {
	switch {
	case r.StructuralDamage:
		return "critical"
	case len(r.Findings) > 0:
		return "degraded"
	default:
		return "healthy"
	}
}

// RecoverableIDs returns the distinct entry ids that can be dropped and
// backfilled.
func (r *IntegrityReport) RecoverableIDs() []string {
	seen := make(map[string]struct{}, len(r.Findings))
	ids := make([]string, 0, len(r.Findings))
	for _, f := range r.Findings {
		if !f.Recoverable || f.EntryID == "" {
			continue
		}
		if _, ok := seen[f.EntryID]; ok {
			continue
		}
		seen[f.EntryID] = struct{}{}
		ids = append(ids, f.EntryID)
	}
	return ids
}

// IntegrityChecker validates dimensionality, checksums, and size accounting
// across a store. Scans are advisory and read-only.
type IntegrityChecker struct {
	cfg    IntegrityConfig
	logger *zap.Logger
}

// NewIntegrityChecker builds a checker.
func NewIntegrityChecker(cfg IntegrityConfig, logger *zap.Logger) *IntegrityChecker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &IntegrityChecker{cfg: cfg, logger: logger}
}

// Scan walks every entry under a read lock snapshot. Returns an error only
// when the scan itself cannot complete (context cancellation); corruption is
// reported through the report, not the error.
func (c *IntegrityChecker) Scan(ctx context.Context, s *Store) (*IntegrityReport, error) {
	start := timeNow()
	_, span := tracer.Start(ctx, "vectorcache.integrity.scan")
	defer span.End()
	span.SetAttributes(attribute.String("cache.scope", s.scopeLabel))

	s.mu.RLock()
	dimension := s.dimension
	aggregate := s.sizeBytes
	entries := make([]*VectorEntry, 0, len(s.order))
	for _, id := range s.order {
		entries = append(entries, s.entries[id])
	}
	s.mu.RUnlock()

	report := &IntegrityReport{
		Scope:     s.scope,
		Total:     len(entries),
		CheckedAt: start,
	}

	affected := make(map[string]struct{})
	var recomputedSum int64
	for i, e := range entries {
		if i%1024 == 0 && ctx.Err() != nil {
			IntegrityScansTotal.WithLabelValues(s.scopeLabel, "error").Inc()
			span.RecordError(ctx.Err())
			span.SetStatus(codes.Error, "scan cancelled")
			return nil, ctx.Err()
		}
		recomputedSum += e.SizeBytes

		if dimension != 0 && len(e.Embedding) != dimension {
			report.Findings = append(report.Findings, Finding{
				EntryID:     e.ID,
				Kind:        FindingDimensionMismatch,
				Recoverable: true,
				Detail:      fmt.Sprintf("dimension %d, store dimensionality %d", len(e.Embedding), dimension),
			})
			affected[e.ID] = struct{}{}
			continue
		}
		if c.cfg.ChecksumEnabled && !e.verifyChecksum() {
			report.Findings = append(report.Findings, Finding{
				EntryID:     e.ID,
				Kind:        FindingChecksumMismatch,
				Recoverable: true,
				Detail:      "stored checksum does not match recomputed digest",
			})
			affected[e.ID] = struct{}{}
		}
	}

	if recomputedSum != aggregate {
		report.Findings = append(report.Findings, Finding{
			Kind:        FindingSizeDrift,
			Recoverable: false,
			Detail:      fmt.Sprintf("aggregate %d bytes, recomputed %d bytes", aggregate, recomputedSum),
		})
		report.StructuralDamage = true
	}

	report.Affected = len(affected)
	if report.Total > 0 {
		report.CorruptionRate = float64(report.Affected) / float64(report.Total)
	}
	report.Duration = time.Since(start)

	status := report.Status()
	IntegrityScansTotal.WithLabelValues(s.scopeLabel, status).Inc()
	CorruptEntriesGauge.WithLabelValues(s.scopeLabel).Set(float64(report.Affected))
	IntegrityScanDuration.Observe(report.Duration.Seconds())

	span.SetAttributes(
		attribute.Int("cache.total", report.Total),
		attribute.Int("cache.affected", report.Affected),
		attribute.String("cache.status", status),
	)
	span.SetStatus(codes.Ok, "")

	if !report.IsHealthy() {
		c.logger.Warn("integrity scan found corruption",
			zap.String("scope", s.scopeLabel),
			zap.String("status", status),
			zap.Int("affected", report.Affected),
			zap.Int("total", report.Total),
			zap.Float64("corruption_rate", report.CorruptionRate),
		)
	}
	return report, nil
}
