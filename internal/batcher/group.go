package batcher

import (
	"sort"
	"sync"

	"github.com/rs/zerolog"
)

// FetcherFactory returns the fetch function for a request key
type FetcherFactory[K comparable, V any] func(requestKey string) FetchFunc[K, V]

// Group owns one Coalescer per request key. Coalescers share no state.
type Group[K comparable, V any] struct {
	opts       Options
	factory    FetcherFactory[K, V]
	coalescers map[string]*Coalescer[K, V]
	logger     zerolog.Logger
	mu         sync.Mutex
}

// NewGroup creates a new coalescer group
func NewGroup[K comparable, V any](opts Options, factory FetcherFactory[K, V], logger zerolog.Logger) *Group[K, V] {
	return &Group[K, V]{
		opts:       opts,
		factory:    factory,
		coalescers: make(map[string]*Coalescer[K, V]),
		logger:     logger,
	}
}

// Get returns the coalescer for requestKey, creating it on first use
func (g *Group[K, V]) Get(requestKey string) *Coalescer[K, V] {
	g.mu.Lock()
	defer g.mu.Unlock()

	if c, ok := g.coalescers[requestKey]; ok {
		return c
	}
	c := NewCoalescer(requestKey, g.opts, g.factory(requestKey), g.logger)
	g.coalescers[requestKey] = c
	return c
}

// Keys returns the request keys with a coalescer, sorted
func (g *Group[K, V]) Keys() []string {
	g.mu.Lock()
	defer g.mu.Unlock()

	keys := make([]string, 0, len(g.coalescers))
	for key := range g.coalescers {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

// Pending returns the items waiting in requestKey's coalescer, 0 if it has none
func (g *Group[K, V]) Pending(requestKey string) int {
	g.mu.Lock()
	c, ok := g.coalescers[requestKey]
	g.mu.Unlock()
	if !ok {
		return 0
	}
	return c.Pending()
}

// Close closes every coalescer, flushing pending batches
func (g *Group[K, V]) Close() {
	g.mu.Lock()
	coalescers := make([]*Coalescer[K, V], 0, len(g.coalescers))
	for _, c := range g.coalescers {
		coalescers = append(coalescers, c)
	}
	g.mu.Unlock()

	for _, c := range coalescers {
		c.Close()
	}
	g.logger.Info().Int("coalescers", len(coalescers)).Msg("batch coalescers closed")
}
