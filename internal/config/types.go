package config

import "time"

// StoreType selects the KV store backing the persisted cache
type StoreType string

const (
	StoreMemory StoreType = "memory"
	StoreSQLite StoreType = "sqlite"
	StoreRedis  StoreType = "redis"
)

// Config represents the main configuration structure
type Config struct {
	Host              string          `json:"host" env:"HOST"`
	Port              int             `json:"port" env:"PORT"`
	LogLevel          string          `json:"logLevel" env:"LOG_LEVEL"`
	StatusLogInterval int             `json:"statusLogInterval" env:"STATUS_LOG_INTERVAL"` // ms
	RequestKey        string          `json:"requestKey" env:"REQUEST_KEY"`
	Coalescer         CoalescerConfig `json:"coalescer" envPrefix:"COALESCER_"`
	Cache             CacheConfig     `json:"cache" envPrefix:"CACHE_"`
	Store             StoreConfig     `json:"store" envPrefix:"STORE_"`
	Fetcher           FetcherConfig   `json:"fetcher" envPrefix:"FETCHER_"`
}

// CoalescerConfig represents batch coalescing configuration
type CoalescerConfig struct {
	MergeWindow  int `json:"mergeWindow" env:"MERGE_WINDOW"` // ms, debounce window reset on every arrival
	MaxBatchSize int `json:"maxBatchSize" env:"MAX_BATCH_SIZE"`
}

// CacheConfig represents persisted cache configuration
type CacheConfig struct {
	StorageKey    string `json:"storageKey" env:"STORAGE_KEY"`
	TTL           int    `json:"ttl" env:"TTL"`                     // seconds
	MaxEntries    int    `json:"maxEntries" env:"MAX_ENTRIES"`      // soft limit, count eviction keeps 80%
	MaxBytes      int    `json:"maxBytes" env:"MAX_BYTES"`          // serialized size budget
	RecencyWindow int    `json:"recencyWindow" env:"RECENCY_WINDOW"` // seconds, used by aggressive eviction
	TouchDelay    int    `json:"touchDelay" env:"TOUCH_DELAY"`      // ms, lastAccessedAt write coalescing
}

// StoreConfig represents the KV store configuration
type StoreConfig struct {
	Type          StoreType   `json:"type" env:"TYPE"`
	Size          int         `json:"size" env:"SIZE"`                   // memory: max number of stored blobs
	MaxValueBytes int         `json:"maxValueBytes" env:"MAX_VALUE_BYTES"` // memory: quota per value, 0 means unlimited
	Path          string      `json:"path" env:"PATH"`                   // sqlite: database file
	Redis         RedisConfig `json:"redis" envPrefix:"REDIS_"`
}

// RedisConfig represents the redis store configuration
type RedisConfig struct {
	Addr      string `json:"addr" env:"ADDR"`
	Password  string `json:"password" env:"PASSWORD"`
	DB        int    `json:"db" env:"DB"`
	KeyPrefix string `json:"keyPrefix" env:"KEY_PREFIX"`
}

// FetcherConfig represents the remote rank fetcher configuration
type FetcherConfig struct {
	URL              string               `json:"url" env:"URL"`
	Timeout          int                  `json:"timeout" env:"TIMEOUT"` // ms
	RetryMaxAttempts int                  `json:"retryMaxAttempts" env:"RETRY_MAX_ATTEMPTS"`
	CircuitBreaker   CircuitBreakerConfig `json:"circuitBreaker" envPrefix:"CB_"`
}

// CircuitBreakerConfig represents fetcher circuit breaker configuration
type CircuitBreakerConfig struct {
	Enabled             bool `json:"enabled" env:"ENABLED"`
	FailureThreshold    int  `json:"failureThreshold" env:"FAILURE_THRESHOLD"`
	RecoveryTimeout     int  `json:"recoveryTimeout" env:"RECOVERY_TIMEOUT"` // ms
	HalfOpenMaxRequests int  `json:"halfOpenMaxRequests" env:"HALF_OPEN_MAX_REQUESTS"`
}

// Default values
const (
	DefaultHost              = "localhost"
	DefaultPort              = 8080
	DefaultLogLevel          = "info"
	DefaultStatusLogInterval = 60000 // ms
	DefaultRequestKey        = "rank"

	DefaultMergeWindow  = 50 // ms
	DefaultMaxBatchSize = 100

	DefaultStorageKey    = "rank-cache"
	DefaultTTL           = 24 * 60 * 60 // seconds
	DefaultMaxEntries    = 5000
	DefaultMaxBytes      = 2 * 1024 * 1024
	DefaultRecencyWindow = 6 * 60 * 60 // seconds
	DefaultTouchDelay    = 1000        // ms

	DefaultStoreType = StoreMemory
	DefaultStoreSize = 64

	DefaultRedisAddr      = "localhost:6379"
	DefaultRedisKeyPrefix = "rankgofer"

	DefaultFetcherTimeout          = 5000 // ms
	DefaultFetcherRetryMaxAttempts = 3

	DefaultCBFailureThreshold    = 5
	DefaultCBRecoveryTimeout     = 30000 // ms
	DefaultCBHalfOpenMaxRequests = 2
)

// GetStatusLogIntervalDuration returns status log interval as time.Duration
func (c *Config) GetStatusLogIntervalDuration() time.Duration {
	return time.Duration(c.StatusLogInterval) * time.Millisecond
}

// GetMergeWindowDuration returns the merge window as time.Duration
func (c *CoalescerConfig) GetMergeWindowDuration() time.Duration {
	return time.Duration(c.MergeWindow) * time.Millisecond
}

// GetTTLDuration returns cache TTL as time.Duration
func (c *CacheConfig) GetTTLDuration() time.Duration {
	return time.Duration(c.TTL) * time.Second
}

// GetRecencyWindowDuration returns the aggressive eviction window as time.Duration
func (c *CacheConfig) GetRecencyWindowDuration() time.Duration {
	return time.Duration(c.RecencyWindow) * time.Second
}

// GetTouchDelayDuration returns the access-time flush delay as time.Duration
func (c *CacheConfig) GetTouchDelayDuration() time.Duration {
	return time.Duration(c.TouchDelay) * time.Millisecond
}

// GetTimeoutDuration returns fetch timeout as time.Duration
func (c *FetcherConfig) GetTimeoutDuration() time.Duration {
	return time.Duration(c.Timeout) * time.Millisecond
}

// GetRecoveryTimeoutDuration returns circuit breaker recovery timeout as time.Duration
func (c *CircuitBreakerConfig) GetRecoveryTimeoutDuration() time.Duration {
	return time.Duration(c.RecoveryTimeout) * time.Millisecond
}

// IsFetcherConfigured returns true if a remote fetch URL is set
func (c *Config) IsFetcherConfigured() bool {
	return c.Fetcher.URL != ""
}
