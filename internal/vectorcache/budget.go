package vectorcache

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
)

// BudgetConfig bounds one store's memory use.
type BudgetConfig struct {
	// MaxMemoryKB is the hard ceiling for aggregate entry size. Defaults to
	// 65536 (64 MiB).
	MaxMemoryKB int64

	// HeadroomFactor sets the post-eviction target as a fraction of the
	// budget, so enforcement does not thrash at the ceiling. Defaults to 0.9.
	HeadroomFactor float64
}

// ApplyDefaults fills unset fields.
func (c *BudgetConfig) ApplyDefaults() {
	if c.MaxMemoryKB == 0 {
		c.MaxMemoryKB = 65536
	}
	if c.HeadroomFactor == 0 {
		c.HeadroomFactor = 0.9
	}
}

// Validate checks the configuration.
func (c BudgetConfig) Validate() error {
	if c.MaxMemoryKB <= 0 {
		return fmt.Errorf("max memory must be positive, got %d KB", c.MaxMemoryKB)
	}
	if c.HeadroomFactor <= 0 || c.HeadroomFactor > 1 {
		return fmt.Errorf("headroom factor must be in (0, 1], got %v", c.HeadroomFactor)
	}
	return nil
}

// EnforcementResult reports one budget enforcement pass.
type EnforcementResult struct {
	Evicted     int
	FreedBytes  int64
	BytesBefore int64
	BytesAfter  int64
}

// BudgetManager keeps stores under their memory ceiling. It runs synchronously
// after every insert and never returns success while the store is over budget.
type BudgetManager struct {
	cfg     BudgetConfig
	evictor *EvictionManager
	logger  *zap.Logger
}

// NewBudgetManager builds a manager around an eviction manager.
func NewBudgetManager(cfg BudgetConfig, evictor *EvictionManager, logger *zap.Logger) (*BudgetManager, error) {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if evictor == nil {
		return nil, errors.New("eviction manager is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &BudgetManager{cfg: cfg, evictor: evictor, logger: logger}, nil
}

// Config returns the effective configuration.
func (m *BudgetManager) Config() BudgetConfig { return m.cfg }

func (m *BudgetManager) budgetBytes() int64 {
	return m.cfg.MaxMemoryKB * 1024
}

func (m *BudgetManager) targetBytes() int64 {
	return int64(float64(m.budgetBytes()) * m.cfg.HeadroomFactor)
}

// CheckAndEnforce verifies the store against the budget and evicts down to
// the headroom target when it is exceeded. Returns a MemoryError when no
// candidates remain and usage still exceeds the budget, which means a single
// entry or fixed overhead alone is larger than the budget and eviction cannot
// self-correct.
func (m *BudgetManager) CheckAndEnforce(ctx context.Context, s *Store) (EnforcementResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return m.enforceLocked(ctx, s, "")
}

// enforceLocked implements CheckAndEnforce under the store write lock so that
// insert plus enforcement is atomic from any reader's perspective. The
// protected id survives the pass.
func (m *BudgetManager) enforceLocked(ctx context.Context, s *Store, protect string) (EnforcementResult, error) {
	res := EnforcementResult{BytesBefore: s.sizeBytes, BytesAfter: s.sizeBytes}
	budget := m.budgetBytes()
	if s.sizeBytes <= budget {
		return res, nil
	}

	target := m.targetBytes()
	for s.sizeBytes > target {
		out, err := m.evictor.selectAndEvictLocked(ctx, s, target, protect)
		if err != nil {
			res.BytesAfter = s.sizeBytes
			return res, err
		}
		res.Evicted += out.EvictedCount
		res.FreedBytes += out.FreedBytes
		if out.EvictedCount == 0 {
			break
		}
	}
	res.BytesAfter = s.sizeBytes

	if s.sizeBytes > budget {
		err := &MemoryError{
			CurrentBytes: s.sizeBytes,
			BudgetBytes:  budget,
			Evicted:      res.Evicted,
			Detail:       "no eviction candidates remain",
		}
		m.logger.Error("budget enforcement failed",
			zap.String("scope", s.scopeLabel),
			zap.Int64("current_bytes", s.sizeBytes),
			zap.Int64("budget_bytes", budget),
			zap.Int("evicted", res.Evicted),
		)
		return res, err
	}

	if res.Evicted > 0 {
		m.logger.Debug("budget enforced",
			zap.String("scope", s.scopeLabel),
			zap.Int64("bytes_before", res.BytesBefore),
			zap.Int64("bytes_after", res.BytesAfter),
			zap.Int("evicted", res.Evicted),
		)
	}
	return res, nil
}
