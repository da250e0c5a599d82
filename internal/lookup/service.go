package lookup

import (
	"sync"

	"github.com/rs/zerolog"

	"rankgofer/internal/cache"
)

// Cache is the cache surface the service needs
type Cache interface {
	GetMany(keys []string) map[string]cache.Entry
	SetMany(values map[string]float64)
}

// Resolver fetches cache misses. *batcher.Coalescer[string, float64] satisfies it.
type Resolver interface {
	Submit(items []string) (map[string]float64, error)
}

// Stats receives service activity
type Stats interface {
	ObserveResolve() func()
	SetObservers(n int)
}

// Service resolves item ranks from the cache, falling back to the coalescer for misses.
// It never returns an error; failed items are absent from the result.
type Service struct {
	cache     Cache
	resolver  Resolver
	stats     Stats
	observers *observerRegistry
	logger    zerolog.Logger
}

// NewService creates a new lookup service. stats may be nil.
func NewService(c Cache, resolver Resolver, stats Stats, logger zerolog.Logger) *Service {
	return &Service{
		cache:     c,
		resolver:  resolver,
		stats:     stats,
		observers: newObserverRegistry(),
		logger:    logger.With().Str("component", "lookup").Logger(),
	}
}

// ResolveMany returns the rank of every item that is cached or could be fetched, keyed by
// the caller's spelling. Observers see the requested set before any work and an empty set
// once the call is done, whatever the outcome.
func (s *Service) ResolveMany(items []string) map[string]float64 {
	spellings := make(map[string][]string, len(items))
	keys := make([]string, 0, len(items))
	for _, item := range items {
		key := cache.NormalizeKey(item)
		if key == "" {
			continue
		}
		if _, seen := spellings[key]; !seen {
			keys = append(keys, key)
		}
		spellings[key] = append(spellings[key], item)
	}

	loading := make(map[string]struct{}, len(keys))
	for _, key := range keys {
		loading[key] = struct{}{}
	}
	s.observers.notify(loading)
	defer s.observers.notify(map[string]struct{}{})

	if s.stats != nil {
		done := s.stats.ObserveResolve()
		defer done()
	}

	result := make(map[string]float64, len(items))
	if len(keys) == 0 {
		return result
	}

	hits := s.cache.GetMany(keys)
	misses := make([]string, 0, len(keys))
	for _, key := range keys {
		if _, ok := hits[key]; !ok {
			misses = append(misses, key)
		}
	}

	var fetched map[string]float64
	if len(misses) > 0 {
		values, err := s.resolver.Submit(misses)
		if err != nil {
			s.logger.Warn().
				Err(err).
				Int("requested", len(misses)).
				Int("resolved", len(values)).
				Msg("rank fetch failed, returning partial result")
		}
		if len(values) > 0 {
			s.cache.SetMany(values)
		}
		fetched = values
	}

	for key, names := range spellings {
		var (
			value float64
			ok    bool
		)
		if entry, hit := hits[key]; hit {
			value, ok = entry.Value, true
		} else {
			value, ok = fetched[key]
		}
		if !ok {
			continue
		}
		for _, name := range names {
			result[name] = value
		}
	}

	s.logger.Debug().
		Int("requested", len(keys)).
		Int("hits", len(hits)).
		Int("fetched", len(fetched)).
		Msg("resolved ranks")
	return result
}

// Resolve returns the rank of a single item
func (s *Service) Resolve(item string) (float64, bool) {
	value, ok := s.ResolveMany([]string{item})[item]
	return value, ok
}

// AddObserver registers obs for loading notifications and returns its unsubscribe function
func (s *Service) AddObserver(obs Observer) func() {
	id, n := s.observers.add(obs)
	if s.stats != nil {
		s.stats.SetObservers(n)
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			n := s.observers.remove(id)
			if s.stats != nil {
				s.stats.SetObservers(n)
			}
		})
	}
}

// ObserverCount returns the number of registered observers
func (s *Service) ObserverCount() int {
	return s.observers.count()
}
