// internal/config/config.go
package config

import (
	"fmt"
	"time"

	"github.com/fyrsmithlabs/vectorcached/internal/logging"
)

// Config is the root configuration for vectorcached.
//
// Validate expects a fully populated config. Use Default or Load to
// obtain one; both seed every field before validation runs.
type Config struct {
	Cache      CacheConfig      `koanf:"cache"`
	Search     SearchConfig     `koanf:"search"`
	Eviction   EvictionConfig   `koanf:"eviction"`
	Registry   RegistryConfig   `koanf:"registry"`
	Integrity  IntegrityConfig  `koanf:"integrity"`
	Repository RepositoryConfig `koanf:"repository"`
	Embeddings EmbeddingsConfig `koanf:"embeddings"`
	Logging    logging.Config   `koanf:"logging"`
}

// CacheConfig bounds per-scope memory usage.
type CacheConfig struct {
	// MaxMemoryKB is the per-scope budget in kilobytes.
	MaxMemoryKB int64 `koanf:"max_memory_kb"`

	// HeadroomFactor is the fraction of the budget eviction shrinks to,
	// e.g. 0.9 frees down to 90% of the budget.
	HeadroomFactor float64 `koanf:"headroom_factor"`
}

// SearchConfig holds similarity search defaults.
type SearchConfig struct {
	// Threshold is the minimum cosine similarity for a result.
	Threshold float64 `koanf:"threshold"`

	// Limit is the default maximum number of results.
	Limit int `koanf:"limit"`
}

// EvictionConfig selects the eviction strategy.
type EvictionConfig struct {
	// Strategy is one of lru, lfu, random, or priority.
	Strategy string `koanf:"strategy"`

	// Seed fixes the random strategy's ordering. 0 seeds from the clock.
	Seed int64 `koanf:"seed"`
}

// RegistryConfig bounds the set of resident scopes and their warm behavior.
type RegistryConfig struct {
	// MaxScopes caps how many scope caches stay resident at once.
	MaxScopes int `koanf:"max_scopes"`

	// TTL expires scopes that have not been used.
	TTL time.Duration `koanf:"ttl"`

	// WarmBatchSize is the page size used when loading entries from the
	// repository during warm.
	WarmBatchSize int `koanf:"warm_batch_size"`

	// WarmTimeout bounds a single warm attempt.
	WarmTimeout time.Duration `koanf:"warm_timeout"`
}

// IntegrityConfig controls corruption detection.
type IntegrityConfig struct {
	// Enabled turns the background scanner on.
	Enabled bool `koanf:"enabled"`

	// ChecksumEnabled verifies per-entry checksums during scans.
	ChecksumEnabled bool `koanf:"checksum_enabled"`

	// ScanInterval is the delay between background sweeps.
	ScanInterval time.Duration `koanf:"scan_interval"`

	// CorruptionThreshold is the affected-entry ratio above which a scope
	// is rebuilt from the repository instead of repaired in place.
	CorruptionThreshold float64 `koanf:"corruption_threshold"`
}

// RepositoryConfig selects and configures the backing vector store.
type RepositoryConfig struct {
	// Provider is one of memory, sqlite, or qdrant.
	Provider string `koanf:"provider"`

	Qdrant QdrantConfig `koanf:"qdrant"`
	SQLite SQLiteConfig `koanf:"sqlite"`
}

// QdrantConfig holds Qdrant gRPC connection settings.
type QdrantConfig struct {
	Host   string `koanf:"host"`
	Port   int    `koanf:"port"`
	APIKey Secret `koanf:"api_key"`
	UseTLS bool   `koanf:"use_tls"`

	// RequestTimeout bounds individual scroll and retrieve calls.
	RequestTimeout time.Duration `koanf:"request_timeout"`

	// ConnectTimeout bounds the initial health check.
	ConnectTimeout time.Duration `koanf:"connect_timeout"`

	// MaxRetries is the retry count for transient gRPC failures.
	MaxRetries int `koanf:"max_retries"`

	// BreakerThreshold is the consecutive-failure count that opens the
	// circuit breaker.
	BreakerThreshold int `koanf:"breaker_threshold"`

	// BreakerCooldown is how long the breaker stays open before probing.
	BreakerCooldown time.Duration `koanf:"breaker_cooldown"`
}

// SQLiteConfig holds settings for the embedded SQLite repository.
type SQLiteConfig struct {
	// Path is the database file location. Required when the sqlite
	// provider is selected.
	Path string `koanf:"path"`

	// BusyTimeout maps to PRAGMA busy_timeout.
	BusyTimeout time.Duration `koanf:"busy_timeout"`
}

// EmbeddingsConfig configures query embedding generation.
type EmbeddingsConfig struct {
	// Provider is one of tei or static.
	Provider string `koanf:"provider"`

	// BaseURL is the text-embeddings-inference endpoint.
	BaseURL string `koanf:"base_url"`

	// Model is the embedding model name, used for dimension detection.
	Model string `koanf:"model"`

	APIKey Secret `koanf:"api_key"`

	// Dimension overrides the model-derived dimension for the static
	// provider. 0 infers from the model name.
	Dimension int `koanf:"dimension"`

	// RequestTimeout bounds each embedding request.
	RequestTimeout time.Duration `koanf:"request_timeout"`

	// RequestsPerSecond throttles embedding calls. 0 disables throttling.
	RequestsPerSecond float64 `koanf:"requests_per_second"`
}

// Validate checks the full configuration tree for errors.
func (c *Config) Validate() error {
	if c.Cache.MaxMemoryKB <= 0 {
		return fmt.Errorf("cache.max_memory_kb must be > 0, got %d", c.Cache.MaxMemoryKB)
	}
	if c.Cache.HeadroomFactor <= 0 || c.Cache.HeadroomFactor > 1 {
		return fmt.Errorf("cache.headroom_factor must be in (0, 1], got %v", c.Cache.HeadroomFactor)
	}

	if c.Search.Threshold < -1 || c.Search.Threshold > 1 {
		return fmt.Errorf("search.threshold must be in [-1, 1], got %v", c.Search.Threshold)
	}
	if c.Search.Limit <= 0 {
		return fmt.Errorf("search.limit must be > 0, got %d", c.Search.Limit)
	}

	switch c.Eviction.Strategy {
	case "lru", "lfu", "random", "priority":
	default:
		return fmt.Errorf("eviction.strategy must be one of lru, lfu, random, priority, got %q", c.Eviction.Strategy)
	}

	if c.Registry.MaxScopes <= 0 {
		return fmt.Errorf("registry.max_scopes must be > 0, got %d", c.Registry.MaxScopes)
	}
	if c.Registry.TTL <= 0 {
		return fmt.Errorf("registry.ttl must be > 0, got %v", c.Registry.TTL)
	}
	if c.Registry.WarmBatchSize <= 0 {
		return fmt.Errorf("registry.warm_batch_size must be > 0, got %d", c.Registry.WarmBatchSize)
	}
	if c.Registry.WarmTimeout <= 0 {
		return fmt.Errorf("registry.warm_timeout must be > 0, got %v", c.Registry.WarmTimeout)
	}

	if c.Integrity.Enabled && c.Integrity.ScanInterval <= 0 {
		return fmt.Errorf("integrity.scan_interval must be > 0 when scanning is enabled, got %v", c.Integrity.ScanInterval)
	}
	if c.Integrity.CorruptionThreshold <= 0 || c.Integrity.CorruptionThreshold > 1 {
		return fmt.Errorf("integrity.corruption_threshold must be in (0, 1], got %v", c.Integrity.CorruptionThreshold)
	}

	if err := c.Repository.validate(); err != nil {
		return err
	}
	if err := c.Embeddings.validate(); err != nil {
		return err
	}

	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("logging: %w", err)
	}

	return nil
}

func (r *RepositoryConfig) validate() error {
	switch r.Provider {
	case "memory":
	case "sqlite":
		if r.SQLite.Path == "" {
			return fmt.Errorf("repository.sqlite.path is required for the sqlite provider")
		}
		if r.SQLite.BusyTimeout < 0 {
			return fmt.Errorf("repository.sqlite.busy_timeout cannot be negative, got %v", r.SQLite.BusyTimeout)
		}
	case "qdrant":
		if r.Qdrant.Host == "" {
			return fmt.Errorf("repository.qdrant.host is required for the qdrant provider")
		}
		if r.Qdrant.Port <= 0 || r.Qdrant.Port > 65535 {
			return fmt.Errorf("repository.qdrant.port must be in 1..65535, got %d", r.Qdrant.Port)
		}
		if r.Qdrant.MaxRetries < 0 {
			return fmt.Errorf("repository.qdrant.max_retries cannot be negative, got %d", r.Qdrant.MaxRetries)
		}
		if r.Qdrant.BreakerThreshold <= 0 {
			return fmt.Errorf("repository.qdrant.breaker_threshold must be > 0, got %d", r.Qdrant.BreakerThreshold)
		}
		if r.Qdrant.BreakerCooldown <= 0 {
			return fmt.Errorf("repository.qdrant.breaker_cooldown must be > 0, got %v", r.Qdrant.BreakerCooldown)
		}
	default:
		return fmt.Errorf("repository.provider must be one of memory, sqlite, qdrant, got %q", r.Provider)
	}
	return nil
}

func (e *EmbeddingsConfig) validate() error {
	switch e.Provider {
	case "tei":
		if e.BaseURL == "" {
			return fmt.Errorf("embeddings.base_url is required for the tei provider")
		}
	case "static":
	default:
		return fmt.Errorf("embeddings.provider must be one of tei, static, got %q", e.Provider)
	}
	if e.Dimension < 0 {
		return fmt.Errorf("embeddings.dimension cannot be negative, got %d", e.Dimension)
	}
	if e.RequestsPerSecond < 0 {
		return fmt.Errorf("embeddings.requests_per_second cannot be negative, got %v", e.RequestsPerSecond)
	}
	return nil
}
