// internal/config/config_test.go
package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:   "defaults are valid",
			mutate: func(c *Config) {},
		},
		{
			name:    "zero memory budget",
			mutate:  func(c *Config) { c.Cache.MaxMemoryKB = 0 },
			wantErr: "cache.max_memory_kb",
		},
		{
			name:    "negative memory budget",
			mutate:  func(c *Config) { c.Cache.MaxMemoryKB = -1 },
			wantErr: "cache.max_memory_kb",
		},
		{
			name:    "headroom above one",
			mutate:  func(c *Config) { c.Cache.HeadroomFactor = 1.5 },
			wantErr: "cache.headroom_factor",
		},
		{
			name:    "zero headroom",
			mutate:  func(c *Config) { c.Cache.HeadroomFactor = 0 },
			wantErr: "cache.headroom_factor",
		},
		{
			name:    "threshold out of range",
			mutate:  func(c *Config) { c.Search.Threshold = 1.5 },
			wantErr: "search.threshold",
		},
		{
			name:   "negative threshold in range",
			mutate: func(c *Config) { c.Search.Threshold = -0.5 },
		},
		{
			name:    "zero limit",
			mutate:  func(c *Config) { c.Search.Limit = 0 },
			wantErr: "search.limit",
		},
		{
			name:    "unknown eviction strategy",
			mutate:  func(c *Config) { c.Eviction.Strategy = "fifo" },
			wantErr: "eviction.strategy",
		},
		{
			name:    "zero max scopes",
			mutate:  func(c *Config) { c.Registry.MaxScopes = 0 },
			wantErr: "registry.max_scopes",
		},
		{
			name:    "zero ttl",
			mutate:  func(c *Config) { c.Registry.TTL = 0 },
			wantErr: "registry.ttl",
		},
		{
			name:    "zero warm batch size",
			mutate:  func(c *Config) { c.Registry.WarmBatchSize = 0 },
			wantErr: "registry.warm_batch_size",
		},
		{
			name:    "zero warm timeout",
			mutate:  func(c *Config) { c.Registry.WarmTimeout = 0 },
			wantErr: "registry.warm_timeout",
		},
		{
			name:    "zero scan interval while enabled",
			mutate:  func(c *Config) { c.Integrity.ScanInterval = 0 },
			wantErr: "integrity.scan_interval",
		},
		{
			name: "zero scan interval while disabled",
			mutate: func(c *Config) {
				c.Integrity.Enabled = false
				c.Integrity.ScanInterval = 0
			},
		},
		{
			name:    "corruption threshold above one",
			mutate:  func(c *Config) { c.Integrity.CorruptionThreshold = 1.1 },
			wantErr: "integrity.corruption_threshold",
		},
		{
			name:    "zero corruption threshold",
			mutate:  func(c *Config) { c.Integrity.CorruptionThreshold = 0 },
			wantErr: "integrity.corruption_threshold",
		},
		{
			name:    "sqlite without path",
			mutate:  func(c *Config) { c.Repository.Provider = "sqlite" },
			wantErr: "repository.sqlite.path",
		},
		{
			name: "sqlite with path",
			mutate: func(c *Config) {
				c.Repository.Provider = "sqlite"
				c.Repository.SQLite.Path = "/tmp/vectors.db"
			},
		},
		{
			name: "qdrant without host",
			mutate: func(c *Config) {
				c.Repository.Provider = "qdrant"
				c.Repository.Qdrant.Host = ""
			},
			wantErr: "repository.qdrant.host",
		},
		{
			name: "qdrant port out of range",
			mutate: func(c *Config) {
				c.Repository.Provider = "qdrant"
				c.Repository.Qdrant.Port = 70000
			},
			wantErr: "repository.qdrant.port",
		},
		{
			name: "qdrant negative retries",
			mutate: func(c *Config) {
				c.Repository.Provider = "qdrant"
				c.Repository.Qdrant.MaxRetries = -1
			},
			wantErr: "repository.qdrant.max_retries",
		},
		{
			name: "qdrant zero breaker threshold",
			mutate: func(c *Config) {
				c.Repository.Provider = "qdrant"
				c.Repository.Qdrant.BreakerThreshold = 0
			},
			wantErr: "repository.qdrant.breaker_threshold",
		},
		{
			name: "qdrant zero breaker cooldown",
			mutate: func(c *Config) {
				c.Repository.Provider = "qdrant"
				c.Repository.Qdrant.BreakerCooldown = 0
			},
			wantErr: "repository.qdrant.breaker_cooldown",
		},
		{
			name: "qdrant defaults are valid",
			mutate: func(c *Config) {
				c.Repository.Provider = "qdrant"
			},
		},
		{
			name:    "unknown repository provider",
			mutate:  func(c *Config) { c.Repository.Provider = "redis" },
			wantErr: "repository.provider",
		},
		{
			name: "tei without base url",
			mutate: func(c *Config) {
				c.Embeddings.BaseURL = ""
			},
			wantErr: "embeddings.base_url",
		},
		{
			name: "static provider needs no base url",
			mutate: func(c *Config) {
				c.Embeddings.Provider = "static"
				c.Embeddings.BaseURL = ""
			},
		},
		{
			name:    "unknown embeddings provider",
			mutate:  func(c *Config) { c.Embeddings.Provider = "onnx" },
			wantErr: "embeddings.provider",
		},
		{
			name:    "negative dimension",
			mutate:  func(c *Config) { c.Embeddings.Dimension = -1 },
			wantErr: "embeddings.dimension",
		},
		{
			name:    "negative requests per second",
			mutate:  func(c *Config) { c.Embeddings.RequestsPerSecond = -1 },
			wantErr: "embeddings.requests_per_second",
		},
		{
			name:    "invalid logging level",
			mutate:  func(c *Config) { c.Logging.Level = "shout" },
			wantErr: "logging",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)

			err := cfg.Validate()
			if tt.wantErr == "" {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestConfig_DefaultDurations(t *testing.T) {
	cfg := Default()

	assert.Equal(t, 30*time.Minute, cfg.Registry.TTL)
	assert.Equal(t, 2*time.Minute, cfg.Registry.WarmTimeout)
	assert.Equal(t, 5*time.Minute, cfg.Integrity.ScanInterval)
	assert.Equal(t, 5*time.Second, cfg.Repository.Qdrant.ConnectTimeout)
	assert.Equal(t, 30*time.Second, cfg.Repository.Qdrant.BreakerCooldown)
	assert.Equal(t, 30*time.Second, cfg.Embeddings.RequestTimeout)
}
