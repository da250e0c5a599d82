package cache

import (
	"math"
	"sort"
)

type rankedKey struct {
	key            string
	lastAccessedAt int64
}

// byRecency returns keys ordered most recently accessed first, ties broken by key
func byRecency(entries map[string]Entry) []rankedKey {
	ranked := make([]rankedKey, 0, len(entries))
	for key, entry := range entries {
		ranked = append(ranked, rankedKey{key: key, lastAccessedAt: entry.LastAccessedAt})
	}
	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].lastAccessedAt != ranked[j].lastAccessedAt {
			return ranked[i].lastAccessedAt > ranked[j].lastAccessedAt
		}
		return ranked[i].key < ranked[j].key
	})
	return ranked
}

func keepCount(n int, ratio float64) int {
	return int(math.Floor(float64(n) * ratio))
}

// retainRecent keeps the keep most recently accessed entries and returns how many were removed
func retainRecent(entries map[string]Entry, keep int) int {
	if len(entries) <= keep {
		return 0
	}
	ranked := byRecency(entries)
	for _, rk := range ranked[keep:] {
		delete(entries, rk.key)
	}
	return len(ranked) - keep
}

// evictByCount trims entries to keep, least recently accessed first
func evictByCount(entries map[string]Entry, keep int) int {
	return retainRecent(entries, keep)
}

// evictAggressive drops entries created before cutoff, then keeps the most recently
// accessed ratio of the rest
func evictAggressive(entries map[string]Entry, cutoff int64, ratio float64) int {
	removed := 0
	for key, entry := range entries {
		if entry.CreatedAt < cutoff {
			delete(entries, key)
			removed++
		}
	}
	return removed + retainRecent(entries, keepCount(len(entries), ratio))
}
