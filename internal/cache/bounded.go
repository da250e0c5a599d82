package cache

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"rankgofer/internal/kvstore"
)

// BoundedCache persists ranks as one JSON blob, bounded by entry count and serialized size.
// Every operation reloads the blob under mu; a write is one read-merge-evict-write step.
type BoundedCache struct {
	opts   Options
	store  kvstore.Store
	logger zerolog.Logger

	mu         sync.Mutex
	touches    map[string]int64    // normalized key -> last access, not yet persisted
	purges     map[string]struct{} // expired keys seen on read, not yet persisted
	touchTimer *time.Timer
	closed     bool
}

// New creates a cache persisting into store
func New(store kvstore.Store, opts Options, logger zerolog.Logger) *BoundedCache {
	return &BoundedCache{
		opts:    opts.withDefaults(),
		store:   store,
		logger:  logger.With().Str("component", "cache").Logger(),
		touches: make(map[string]int64),
		purges:  make(map[string]struct{}),
	}
}

// GetMany returns the TTL-valid entries for keys, keyed as requested.
// Expired entries are purged; hits get a delayed lastAccessedAt refresh.
func (c *BoundedCache) GetMany(keys []string) map[string]Entry {
	result := make(map[string]Entry, len(keys))
	if len(keys) == 0 {
		return result
	}

	now := c.nowMillis()

	c.mu.Lock()
	defer c.mu.Unlock()

	entries := c.loadLocked()
	hits, misses, expired := 0, 0, 0
	for _, key := range keys {
		norm := NormalizeKey(key)
		entry, ok := entries[norm]
		if !ok || norm == "" {
			misses++
			continue
		}
		if c.isExpired(entry, now) {
			delete(entries, norm)
			c.purges[norm] = struct{}{}
			delete(c.touches, norm)
			expired++
			continue
		}
		result[key] = entry
		c.touches[norm] = now
		hits++
	}

	if len(c.touches) > 0 || len(c.purges) > 0 {
		c.scheduleFlushLocked()
	}
	if c.opts.Stats != nil {
		c.opts.Stats.RecordCacheLookup(hits, misses, expired)
	}
	return result
}

// Get is the single-key form of GetMany
func (c *BoundedCache) Get(key string) (Entry, bool) {
	entry, ok := c.GetMany([]string{key})[key]
	return entry, ok
}

// SetMany merges values with fresh timestamps, evicts if needed and persists.
// Persistence failures fall back to writing only these values and are never returned.
func (c *BoundedCache) SetMany(values map[string]float64) {
	if len(values) == 0 {
		return
	}

	now := c.nowMillis()

	c.mu.Lock()
	defer c.mu.Unlock()

	entries := c.loadLocked()
	c.applyPendingLocked(entries, now)

	fresh := make(map[string]Entry, len(values))
	for key, value := range values {
		norm := NormalizeKey(key)
		if norm == "" {
			continue
		}
		entry := Entry{Value: value, CreatedAt: now, LastAccessedAt: now}
		entries[norm] = entry
		fresh[norm] = entry
	}
	if len(fresh) == 0 {
		return
	}

	if len(entries) > c.opts.MaxEntries && c.opts.MaxEntries > 0 {
		removed := evictByCount(entries, keepCount(c.opts.MaxEntries, countEvictionKeep))
		c.logger.Debug().Int("removed", removed).Int("remaining", len(entries)).Msg("count eviction")
		c.recordEviction("count", removed)
	}

	data, err := json.Marshal(entries)
	if err == nil && c.opts.MaxBytes > 0 && len(data) > c.opts.MaxBytes {
		cutoff := now - c.opts.RecencyWindow.Milliseconds()
		removed := evictAggressive(entries, cutoff, aggressiveEvictionKeep)
		c.logger.Info().
			Int("bytes", len(data)).
			Int("maxBytes", c.opts.MaxBytes).
			Int("removed", removed).
			Int("remaining", len(entries)).
			Msg("byte budget exceeded, aggressive eviction")
		c.recordEviction("bytes", removed)
		data, err = json.Marshal(entries)
	}
	if err == nil {
		err = c.store.Set(c.opts.StorageKey, string(data))
	}
	if err == nil {
		c.recordPersist("ok")
		return
	}

	c.logger.Warn().
		Err(fmt.Errorf("%w: %w", ErrPersistFailed, err)).
		Int("entries", len(entries)).
		Msg("persist failed, writing only new entries")

	minimal, err := json.Marshal(fresh)
	if err == nil {
		err = c.store.Set(c.opts.StorageKey, string(minimal))
	}
	if err != nil {
		c.logger.Error().
			Err(fmt.Errorf("%w: %w", ErrPersistFailed, err)).
			Int("entries", len(fresh)).
			Msg("fallback persist failed, keeping previous state")
		c.recordPersist("failed")
		return
	}
	c.recordPersist("fallback")
}

// Set is the single-key form of SetMany
func (c *BoundedCache) Set(key string, value float64) {
	c.SetMany(map[string]float64{key: value})
}

// Len returns the number of persisted entries, expired ones included
func (c *BoundedCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.loadLocked())
}

// Flush persists pending access-time refreshes and purges now
func (c *BoundedCache) Flush() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stopTimerLocked()
	c.flushPendingLocked()
}

// Close flushes pending refreshes and stops the refresh timer
func (c *BoundedCache) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	c.stopTimerLocked()
	c.flushPendingLocked()
}

// loadLocked reads and decodes the persisted map. Caller holds c.mu.
func (c *BoundedCache) loadLocked() map[string]Entry {
	raw, ok, err := c.store.Get(c.opts.StorageKey)
	if err != nil {
		c.logger.Warn().Err(err).Msg("failed to read persisted cache")
		return make(map[string]Entry)
	}
	if !ok || raw == "" {
		return make(map[string]Entry)
	}

	var entries map[string]Entry
	if err := json.Unmarshal([]byte(raw), &entries); err != nil {
		c.logger.Warn().
			Err(fmt.Errorf("%w: %w", ErrCorruptState, err)).
			Int("bytes", len(raw)).
			Msg("discarding persisted cache")
		if err := c.store.Remove(c.opts.StorageKey); err != nil {
			c.logger.Warn().Err(err).Msg("failed to remove corrupt cache blob")
		}
		return make(map[string]Entry)
	}
	if entries == nil {
		entries = make(map[string]Entry)
	}
	return entries
}

// applyPendingLocked folds pending purges and access refreshes into entries. Caller holds c.mu.
func (c *BoundedCache) applyPendingLocked(entries map[string]Entry, now int64) {
	for key := range c.purges {
		if entry, ok := entries[key]; ok && c.isExpired(entry, now) {
			delete(entries, key)
		}
	}
	for key, accessedAt := range c.touches {
		if entry, ok := entries[key]; ok && entry.LastAccessedAt < accessedAt {
			entry.LastAccessedAt = accessedAt
			entries[key] = entry
		}
	}
	c.purges = make(map[string]struct{})
	c.touches = make(map[string]int64)
}

// flushPendingLocked writes pending refreshes in one store write. Caller holds c.mu.
func (c *BoundedCache) flushPendingLocked() {
	if len(c.touches) == 0 && len(c.purges) == 0 {
		return
	}

	entries := c.loadLocked()
	pending := len(c.touches) + len(c.purges)
	c.applyPendingLocked(entries, c.nowMillis())

	data, err := json.Marshal(entries)
	if err == nil {
		err = c.store.Set(c.opts.StorageKey, string(data))
	}
	if err != nil {
		c.logger.Warn().Err(fmt.Errorf("%w: %w", ErrPersistFailed, err)).Msg("failed to persist access times")
		c.recordPersist("failed")
		return
	}
	c.logger.Debug().Int("pending", pending).Msg("persisted access times")
	c.recordPersist("ok")
}

// scheduleFlushLocked arms the refresh timer once per burst. Caller holds c.mu.
func (c *BoundedCache) scheduleFlushLocked() {
	if c.touchTimer != nil || c.closed {
		return
	}
	c.touchTimer = time.AfterFunc(c.opts.TouchDelay, func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		c.touchTimer = nil
		c.flushPendingLocked()
	})
}

func (c *BoundedCache) stopTimerLocked() {
	if c.touchTimer != nil {
		c.touchTimer.Stop()
		c.touchTimer = nil
	}
}

func (c *BoundedCache) isExpired(entry Entry, now int64) bool {
	return now-entry.CreatedAt > c.opts.TTL.Milliseconds()
}

func (c *BoundedCache) nowMillis() int64 {
	return c.opts.Now().UnixMilli()
}

func (c *BoundedCache) recordEviction(kind string, removed int) {
	if c.opts.Stats != nil {
		c.opts.Stats.RecordEviction(kind, removed)
	}
}

func (c *BoundedCache) recordPersist(outcome string) {
	if c.opts.Stats != nil {
		c.opts.Stats.RecordPersist(outcome)
	}
}
