// Package config provides configuration loading for vectorcached.
package config

import (
	"fmt"
	"io"
	"os"
	"runtime"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"
)

const (
	maxConfigFileSize = 1024 * 1024 // 1MB

	envPrefix = "VECTORCACHE_"
)

// defaultsYAML is the baseline configuration layer. File and environment
// values overlay it, so an explicit false or zero in either wins over
// these values.
const defaultsYAML = `
cache:
  max_memory_kb: 65536
  headroom_factor: 0.9
search:
  threshold: 0.15
  limit: 5
eviction:
  strategy: lru
registry:
  max_scopes: 256
  ttl: 30m
  warm_batch_size: 500
  warm_timeout: 2m
integrity:
  enabled: true
  checksum_enabled: true
  scan_interval: 5m
  corruption_threshold: 0.5
repository:
  provider: memory
  qdrant:
    host: localhost
    port: 6334
    request_timeout: 30s
    connect_timeout: 5s
    max_retries: 3
    breaker_threshold: 5
    breaker_cooldown: 30s
  sqlite:
    busy_timeout: 5s
embeddings:
  provider: tei
  base_url: http://localhost:8080
  model: BAAI/bge-small-en-v1.5
  request_timeout: 30s
logging:
  level: info
  format: json
`

// Load builds configuration from three layers, lowest to highest
// precedence:
//
//  1. Built-in defaults
//  2. YAML config file (skipped when path is empty)
//  3. VECTORCACHE_* environment variables
//
// Environment variables map to config keys by stripping the prefix,
// lowercasing, and treating double underscores as section separators:
//
//	VECTORCACHE_CACHE__MAX_MEMORY_KB  -> cache.max_memory_kb
//	VECTORCACHE_REPOSITORY__PROVIDER  -> repository.provider
//	VECTORCACHE_LOGGING__LEVEL        -> logging.level
//
// Config files must have 0600 or 0400 permissions and stay under 1MB.
// The result is validated before being returned.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(rawbytes.Provider([]byte(defaultsYAML)), yaml.Parser()); err != nil {
		return nil, fmt.Errorf("failed to load default config: %w", err)
	}

	if path != "" {
		// Open once and validate through the file descriptor to avoid a
		// check-then-read race.
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("failed to open config file: %w", err)
		}
		defer f.Close()

		info, err := f.Stat()
		if err != nil {
			return nil, fmt.Errorf("failed to stat config file: %w", err)
		}
		if err := validateConfigFileProperties(info); err != nil {
			return nil, fmt.Errorf("config file validation failed: %w", err)
		}

		content, err := io.ReadAll(f)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := k.Load(rawbytes.Provider(content), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider(envPrefix, ".", envKeyToPath), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// Default returns the built-in default configuration without consulting
// files or the environment.
func Default() *Config {
	k := koanf.New(".")
	if err := k.Load(rawbytes.Provider([]byte(defaultsYAML)), yaml.Parser()); err != nil {
		panic(fmt.Sprintf("config: invalid built-in defaults: %v", err))
	}
	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		panic(fmt.Sprintf("config: invalid built-in defaults: %v", err))
	}
	return &cfg
}

// envKeyToPath maps an environment variable name to a config key.
//
//	VECTORCACHE_CACHE__MAX_MEMORY_KB -> cache.max_memory_kb
//
// Double underscores separate sections so field names keep their single
// underscores.
func envKeyToPath(s string) string {
	key := strings.ToLower(strings.TrimPrefix(s, envPrefix))
	return strings.ReplaceAll(key, "__", ".")
}

// validateConfigFileProperties checks file permissions and size.
// Takes FileInfo from an already-opened file descriptor.
func validateConfigFileProperties(info os.FileInfo) error {
	// Permission checks are skipped on Windows (different permission model).
	if runtime.GOOS != "windows" {
		perm := info.Mode().Perm()
		if perm != 0600 && perm != 0400 {
			return fmt.Errorf("insecure config file permissions: %v (expected 0600 or 0400)", perm)
		}
	}

	if info.Size() > maxConfigFileSize {
		return fmt.Errorf("config file too large: %d bytes (max %d)", info.Size(), maxConfigFileSize)
	}

	return nil
}
