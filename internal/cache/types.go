package cache

import (
	"errors"
	"strings"
	"time"
)

var (
	// ErrCorruptState is logged when the persisted blob cannot be decoded; the blob is discarded
	ErrCorruptState = errors.New("corrupt persisted cache state")

	// ErrPersistFailed wraps store and serialization failures on write
	ErrPersistFailed = errors.New("persist cache state")
)

// Eviction keep ratios
const (
	countEvictionKeep      = 0.8
	aggressiveEvictionKeep = 0.5
)

// Entry is one cached rank. Times are epoch milliseconds.
type Entry struct {
	Value          float64 `json:"value"`
	CreatedAt      int64   `json:"createdAt"`
	LastAccessedAt int64   `json:"lastAccessedAt"`
}

// Stats receives cache activity
type Stats interface {
	RecordCacheLookup(hits, misses, expired int)
	RecordEviction(kind string, removed int)
	RecordPersist(outcome string)
}

// Options configures a BoundedCache
type Options struct {
	// StorageKey is the store key holding the whole serialized map.
	StorageKey string
	// TTL bounds the age of a returned entry.
	TTL time.Duration
	// MaxEntries triggers count eviction when exceeded.
	MaxEntries int
	// MaxBytes triggers aggressive eviction when the serialized map is larger.
	MaxBytes int
	// RecencyWindow is the createdAt cutoff used by aggressive eviction.
	RecencyWindow time.Duration
	// TouchDelay delays persisting lastAccessedAt refreshes so bursts of reads share one write.
	TouchDelay time.Duration
	// Now defaults to time.Now.
	Now func() time.Time
	// Stats is optional.
	Stats Stats
}

func (o Options) withDefaults() Options {
	if o.StorageKey == "" {
		o.StorageKey = "rank-cache"
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	return o
}

// NormalizeKey returns the storage form of an item key
func NormalizeKey(key string) string {
	return strings.ToLower(strings.TrimSpace(key))
}
