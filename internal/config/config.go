package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/caarlos0/env/v11"
)

// EnvPrefix is the prefix of environment variables overriding file config
const EnvPrefix = "RANKGOFER_"

// Load reads and parses the configuration file.
// An empty path yields the defaults. Environment variables are applied on top of the file.
func Load(path string) (*Config, error) {
	cfg := &Config{}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	}

	if err := ApplyEnv(cfg); err != nil {
		return nil, err
	}

	applyDefaults(cfg)

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// ApplyEnv overrides config fields from RANKGOFER_* environment variables
func ApplyEnv(cfg *Config) error {
	if err := env.ParseWithOptions(cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}

// applyDefaults sets default values for unset fields
func applyDefaults(cfg *Config) {
	if cfg.Host == "" {
		cfg.Host = DefaultHost
	}
	if cfg.Port == 0 {
		cfg.Port = DefaultPort
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = DefaultLogLevel
	}
	if cfg.StatusLogInterval == 0 {
		cfg.StatusLogInterval = DefaultStatusLogInterval
	}
	if cfg.RequestKey == "" {
		cfg.RequestKey = DefaultRequestKey
	}

	if cfg.Coalescer.MergeWindow == 0 {
		cfg.Coalescer.MergeWindow = DefaultMergeWindow
	}
	if cfg.Coalescer.MaxBatchSize == 0 {
		cfg.Coalescer.MaxBatchSize = DefaultMaxBatchSize
	}

	if cfg.Cache.StorageKey == "" {
		cfg.Cache.StorageKey = DefaultStorageKey
	}
	if cfg.Cache.TTL == 0 {
		cfg.Cache.TTL = DefaultTTL
	}
	if cfg.Cache.MaxEntries == 0 {
		cfg.Cache.MaxEntries = DefaultMaxEntries
	}
	if cfg.Cache.MaxBytes == 0 {
		cfg.Cache.MaxBytes = DefaultMaxBytes
	}
	if cfg.Cache.RecencyWindow == 0 {
		cfg.Cache.RecencyWindow = DefaultRecencyWindow
	}
	if cfg.Cache.TouchDelay == 0 {
		cfg.Cache.TouchDelay = DefaultTouchDelay
	}

	if cfg.Store.Type == "" {
		cfg.Store.Type = DefaultStoreType
	}
	if cfg.Store.Size == 0 {
		cfg.Store.Size = DefaultStoreSize
	}
	if cfg.Store.Redis.Addr == "" {
		cfg.Store.Redis.Addr = DefaultRedisAddr
	}
	if cfg.Store.Redis.KeyPrefix == "" {
		cfg.Store.Redis.KeyPrefix = DefaultRedisKeyPrefix
	}

	if cfg.Fetcher.Timeout == 0 {
		cfg.Fetcher.Timeout = DefaultFetcherTimeout
	}
	if cfg.Fetcher.RetryMaxAttempts == 0 {
		cfg.Fetcher.RetryMaxAttempts = DefaultFetcherRetryMaxAttempts
	}
	if cfg.Fetcher.CircuitBreaker.FailureThreshold == 0 {
		cfg.Fetcher.CircuitBreaker.FailureThreshold = DefaultCBFailureThreshold
	}
	if cfg.Fetcher.CircuitBreaker.RecoveryTimeout == 0 {
		cfg.Fetcher.CircuitBreaker.RecoveryTimeout = DefaultCBRecoveryTimeout
	}
	if cfg.Fetcher.CircuitBreaker.HalfOpenMaxRequests == 0 {
		cfg.Fetcher.CircuitBreaker.HalfOpenMaxRequests = DefaultCBHalfOpenMaxRequests
	}
}

// validate checks the configuration for errors
func validate(cfg *Config) error {
	if cfg.Port < 1 || cfg.Port > 65535 {
		return fmt.Errorf("port must be between 1 and 65535")
	}

	validLogLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLogLevels[cfg.LogLevel] {
		return fmt.Errorf("logLevel must be one of: debug, info, warn, error")
	}

	if cfg.StatusLogInterval < 0 {
		return fmt.Errorf("statusLogInterval must be non-negative")
	}

	if cfg.Coalescer.MergeWindow < 0 {
		return fmt.Errorf("coalescer.mergeWindow must be non-negative")
	}
	if cfg.Coalescer.MaxBatchSize < 1 {
		return fmt.Errorf("coalescer.maxBatchSize must be positive")
	}

	if cfg.Cache.TTL <= 0 {
		return fmt.Errorf("cache.ttl must be positive")
	}
	if cfg.Cache.MaxEntries < 1 {
		return fmt.Errorf("cache.maxEntries must be positive")
	}
	if cfg.Cache.MaxBytes < 1 {
		return fmt.Errorf("cache.maxBytes must be positive")
	}
	if cfg.Cache.RecencyWindow <= 0 {
		return fmt.Errorf("cache.recencyWindow must be positive")
	}
	if cfg.Cache.TouchDelay < 0 {
		return fmt.Errorf("cache.touchDelay must be non-negative")
	}

	switch cfg.Store.Type {
	case StoreMemory:
		if cfg.Store.Size < 1 {
			return fmt.Errorf("store.size must be positive")
		}
		if cfg.Store.MaxValueBytes < 0 {
			return fmt.Errorf("store.maxValueBytes must be non-negative")
		}
	case StoreSQLite:
		if cfg.Store.Path == "" {
			return errors.New("store.path is required for sqlite store")
		}
	case StoreRedis:
		if cfg.Store.Redis.DB < 0 {
			return fmt.Errorf("store.redis.db must be non-negative")
		}
	default:
		return fmt.Errorf("store.type must be one of: memory, sqlite, redis")
	}

	if cfg.Fetcher.Timeout < 0 {
		return fmt.Errorf("fetcher.timeout must be non-negative")
	}
	if cfg.Fetcher.RetryMaxAttempts < 0 {
		return fmt.Errorf("fetcher.retryMaxAttempts must be non-negative")
	}

	return nil
}
