package status

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// CacheSource reports the number of cached entries
type CacheSource interface {
	Len() int
}

// ObserverSource reports the number of loading observers
type ObserverSource interface {
	ObserverCount() int
}

// BatchSource reports pending items per request key
type BatchSource interface {
	Keys() []string
	Pending(requestKey string) int
}

// BreakerSource reports the remote circuit breaker state
type BreakerSource interface {
	State() string
}

// Sources are the components whose state is logged. Nil sources are skipped.
type Sources struct {
	Cache     CacheSource
	Observers ObserverSource
	Batches   BatchSource
	Breaker   BreakerSource
}

// Monitor periodically logs the state of the lookup pipeline
type Monitor struct {
	sources  Sources
	interval time.Duration
	logger   zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewMonitor creates a new Monitor. A non-positive interval disables logging.
func NewMonitor(sources Sources, interval time.Duration, logger zerolog.Logger) *Monitor {
	ctx, cancel := context.WithCancel(context.Background())
	return &Monitor{
		sources:  sources,
		interval: interval,
		logger:   logger.With().Str("component", "status").Logger(),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Start starts the status logging goroutine
func (m *Monitor) Start() {
	if m.interval <= 0 {
		return
	}
	m.wg.Add(1)
	go m.logStatus()
}

// Stop stops logging and waits for the goroutine to exit
func (m *Monitor) Stop() {
	m.cancel()
	m.wg.Wait()
}

func (m *Monitor) logStatus() {
	defer m.wg.Done()

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-m.ctx.Done():
			return
		case <-ticker.C:
			m.LogCurrentStatus()
		}
	}
}

// LogCurrentStatus logs one status line
func (m *Monitor) LogCurrentStatus() {
	event := m.logger.Info()

	if m.sources.Cache != nil {
		event = event.Int("cachedEntries", m.sources.Cache.Len())
	}
	if m.sources.Observers != nil {
		event = event.Int("observers", m.sources.Observers.ObserverCount())
	}
	if m.sources.Batches != nil {
		pending := zerolog.Dict()
		for _, key := range m.sources.Batches.Keys() {
			pending = pending.Int(key, m.sources.Batches.Pending(key))
		}
		event = event.Dict("pending", pending)
	}
	if m.sources.Breaker != nil {
		event = event.Str("circuit", m.sources.Breaker.State())
	}

	event.Msg("lookup status")
}
