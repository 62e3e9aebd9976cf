// internal/repository/factory.go
package repository

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/vectorcached/internal/config"
)

// New builds the repository selected by the configuration. The context
// bounds connection setup for backends that dial on construction.
func New(ctx context.Context, cfg *config.RepositoryConfig, logger *zap.Logger) (Repository, error) {
	if cfg == nil {
		return nil, fmt.Errorf("repository config is required")
	}

	switch cfg.Provider {
	case "memory":
		return NewMemory(), nil
	case "sqlite":
		return NewSQLite(cfg.SQLite, logger)
	case "qdrant":
		return NewQdrant(ctx, cfg.Qdrant, logger)
	default:
		return nil, fmt.Errorf("unknown repository provider %q", cfg.Provider)
	}
}
