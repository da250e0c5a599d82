package batcher

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// Coalescer merges concurrent lookups for one request key into debounced batches
type Coalescer[K comparable, V any] struct {
	requestKey string
	opts       Options
	fetch      FetchFunc[K, V]
	ctx        context.Context
	cancel     context.CancelFunc
	logger     zerolog.Logger

	mu         sync.Mutex
	batch      *pendingBatch[K, V]
	generation uint64 // bumped on every re-arm; stale timer firings are ignored
	closed     bool
	inflight   sync.WaitGroup
}

// NewCoalescer creates a coalescer for requestKey
func NewCoalescer[K comparable, V any](requestKey string, opts Options, fetch FetchFunc[K, V], logger zerolog.Logger) *Coalescer[K, V] {
	ctx, cancel := context.WithCancel(context.Background())
	return &Coalescer[K, V]{
		requestKey: requestKey,
		opts:       opts.withDefaults(),
		fetch:      fetch,
		ctx:        ctx,
		cancel:     cancel,
		logger:     logger.With().Str("component", "batcher").Str("requestKey", requestKey).Logger(),
	}
}

// RequestKey returns the request key this coalescer serves
func (c *Coalescer[K, V]) RequestKey() string {
	return c.requestKey
}

// Pending returns the number of distinct items waiting for the next flush
func (c *Coalescer[K, V]) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.batch == nil {
		return 0
	}
	return len(c.batch.order)
}

// Submit adds items to the pending batch and blocks until each item's chunk has settled.
// The returned map holds every item that resolved to a value. If any item belonged to a
// failed chunk the error is a *FetchError; the map still carries the other items.
func (c *Coalescer[K, V]) Submit(items []K) (map[K]V, error) {
	if len(items) == 0 {
		return map[K]V{}, nil
	}

	waiting := make(map[K]chan itemOutcome[V], len(items))
	keys := make([]K, 0, len(items))

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return map[K]V{}, ErrClosed
	}
	if c.batch == nil {
		c.batch = newPendingBatch[K, V]()
	}
	for _, item := range items {
		if _, dup := waiting[item]; dup {
			continue
		}
		ch := make(chan itemOutcome[V], 1)
		waiting[item] = ch
		keys = append(keys, item)
		c.batch.add(item, ch)
	}
	c.rearmLocked()
	c.mu.Unlock()

	results := make(map[K]V, len(keys))
	failedChunks := make(map[int]error)
	failed := 0
	for _, item := range keys {
		out := <-waiting[item]
		if out.err != nil {
			failed++
			failedChunks[out.chunk] = out.err
			continue
		}
		if out.ok {
			results[item] = out.value
		}
	}

	if failed == 0 {
		return results, nil
	}

	errs := make([]error, 0, len(failedChunks))
	for _, err := range failedChunks {
		errs = append(errs, err)
	}
	return results, &FetchError{
		RequestKey: c.requestKey,
		Failed:     failed,
		Err:        errors.Join(errs...),
	}
}

// rearmLocked restarts the merge window from zero. Caller holds c.mu.
func (c *Coalescer[K, V]) rearmLocked() {
	c.generation++
	gen := c.generation
	if c.batch.timer != nil {
		c.batch.timer.Stop()
	}
	c.batch.timer = c.opts.Scheduler.AfterFunc(c.opts.MergeWindow, func() {
		c.flush(gen)
	})
}

// flush drains the pending batch if gen is still current
func (c *Coalescer[K, V]) flush(gen uint64) {
	c.mu.Lock()
	if gen != c.generation || c.batch == nil {
		c.mu.Unlock()
		return
	}
	batch := c.takeLocked()
	c.inflight.Add(1)
	c.mu.Unlock()

	defer c.inflight.Done()
	c.execute(batch)
}

// takeLocked detaches the pending batch so later submissions start a fresh one.
// Caller holds c.mu.
func (c *Coalescer[K, V]) takeLocked() *pendingBatch[K, V] {
	batch := c.batch
	c.batch = nil
	if batch != nil && batch.timer != nil {
		batch.timer.Stop()
		batch.timer = nil
	}
	return batch
}

// execute fetches all chunks of batch concurrently and delivers outcomes to waiters
func (c *Coalescer[K, V]) execute(batch *pendingBatch[K, V]) {
	chunks := batch.chunks(c.opts.MaxBatchSize)
	if c.opts.Stats != nil {
		c.opts.Stats.RecordBatch(c.requestKey, len(batch.order), len(chunks))
	}

	c.logger.Debug().
		Int("items", len(batch.order)).
		Int("chunks", len(chunks)).
		Msg("executing batch")

	var g errgroup.Group
	for i, chunk := range chunks {
		g.Go(func() error {
			values, err := c.fetch(c.ctx, chunk)
			if err != nil {
				err = fmt.Errorf("%w (chunk %d, %d items): %w", ErrChunkFailed, i, len(chunk), err)
				c.logger.Warn().Err(err).Int("chunk", i).Int("size", len(chunk)).Msg("chunk fetch failed")
			}
			if c.opts.Stats != nil {
				c.opts.Stats.RecordChunk(c.requestKey, len(chunk), err)
			}

			for _, item := range chunk {
				out := itemOutcome[V]{chunk: i, err: err}
				if err == nil {
					out.value, out.ok = values[item]
				}
				for _, ch := range batch.waiters[item] {
					ch <- out
				}
			}
			// Chunk failures are delivered to their own waiters and never cancel siblings.
			return nil
		})
	}
	_ = g.Wait()

	c.logger.Debug().Int("items", len(batch.order)).Msg("batch completed")
}

// Close stops the merge timer, flushes the pending batch and waits for in-flight batches.
// Submit returns ErrClosed afterwards.
func (c *Coalescer[K, V]) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.generation++
	batch := c.takeLocked()
	c.mu.Unlock()

	if batch != nil {
		c.execute(batch)
	}
	c.inflight.Wait()
	c.cancel()
	c.logger.Debug().Msg("coalescer closed")
}
