package fetcher

import (
	"sync"
	"time"
)

type breakerState int

const (
	breakerClosed breakerState = iota
	breakerOpen
	breakerHalfOpen
)

func (s breakerState) String() string {
	switch s {
	case breakerOpen:
		return "open"
	case breakerHalfOpen:
		return "half-open"
	default:
		return "closed"
	}
}

// CircuitBreakerConfig holds circuit breaker configuration
type CircuitBreakerConfig struct {
	Enabled             bool
	FailureThreshold    int
	RecoveryTimeout     time.Duration
	HalfOpenMaxRequests int
}

// CircuitBreaker stops calls to the remote source after consecutive failures
// and lets a few probes through once RecoveryTimeout has passed.
type CircuitBreaker struct {
	cfg           CircuitBreakerConfig
	state         breakerState
	failures      int
	probes        int // requests admitted while half-open
	probeSuccess  int
	lastFailureAt time.Time
	now           func() time.Time
	mu            sync.Mutex
}

// NewCircuitBreaker creates a new CircuitBreaker
func NewCircuitBreaker(cfg CircuitBreakerConfig) *CircuitBreaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.RecoveryTimeout <= 0 {
		cfg.RecoveryTimeout = 30 * time.Second
	}
	if cfg.HalfOpenMaxRequests <= 0 {
		cfg.HalfOpenMaxRequests = 2
	}
	return &CircuitBreaker{
		cfg:   cfg,
		state: breakerClosed,
		now:   time.Now,
	}
}

// Allow reports whether a request may go out now
func (cb *CircuitBreaker) Allow() bool {
	if !cb.cfg.Enabled {
		return true
	}
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case breakerOpen:
		if cb.now().Sub(cb.lastFailureAt) < cb.cfg.RecoveryTimeout {
			return false
		}
		cb.state = breakerHalfOpen
		cb.probes = 0
		cb.probeSuccess = 0
		fallthrough
	case breakerHalfOpen:
		if cb.probes >= cb.cfg.HalfOpenMaxRequests {
			return false
		}
		cb.probes++
		return true
	default:
		return true
	}
}

// Success records a successful request
func (cb *CircuitBreaker) Success() {
	if !cb.cfg.Enabled {
		return
	}
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case breakerHalfOpen:
		cb.probeSuccess++
		if cb.probeSuccess >= cb.cfg.HalfOpenMaxRequests {
			cb.state = breakerClosed
			cb.failures = 0
		}
	case breakerClosed:
		cb.failures = 0
	}
}

// Failure records a failed request
func (cb *CircuitBreaker) Failure() {
	if !cb.cfg.Enabled {
		return
	}
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.lastFailureAt = cb.now()

	switch cb.state {
	case breakerClosed:
		cb.failures++
		if cb.failures >= cb.cfg.FailureThreshold {
			cb.state = breakerOpen
		}
	case breakerHalfOpen:
		cb.state = breakerOpen
	}
}

// State returns closed, open or half-open
func (cb *CircuitBreaker) State() string {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state.String()
}
