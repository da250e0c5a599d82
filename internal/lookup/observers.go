package lookup

import (
	"sync"
)

// Observer receives the set of items currently being resolved by one call;
// an empty set marks the end of that call.
type Observer func(loading map[string]struct{})

// observerRegistry holds loading observers by id
type observerRegistry struct {
	mu        sync.RWMutex
	observers map[uint64]Observer
	nextID    uint64
}

func newObserverRegistry() *observerRegistry {
	return &observerRegistry{observers: make(map[uint64]Observer)}
}

// add registers obs and returns its id and the new observer count
func (r *observerRegistry) add(obs Observer) (uint64, int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	r.observers[r.nextID] = obs
	return r.nextID, len(r.observers)
}

// remove unregisters id and returns the new observer count
func (r *observerRegistry) remove(id uint64) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.observers, id)
	return len(r.observers)
}

func (r *observerRegistry) count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.observers)
}

// notify calls every observer without holding the lock. Each observer gets its own copy of loading.
func (r *observerRegistry) notify(loading map[string]struct{}) {
	r.mu.RLock()
	observers := make([]Observer, 0, len(r.observers))
	for _, obs := range r.observers {
		observers = append(observers, obs)
	}
	r.mu.RUnlock()

	for _, obs := range observers {
		set := make(map[string]struct{}, len(loading))
		for item := range loading {
			set[item] = struct{}{}
		}
		obs(set)
	}
}
