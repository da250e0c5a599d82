package batcher

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// DefaultMaxBatchSize is used when Options.MaxBatchSize is not positive
const DefaultMaxBatchSize = 100

var (
	// ErrChunkFailed is wrapped by every per-chunk fetch failure
	ErrChunkFailed = errors.New("batch chunk fetch failed")

	// ErrClosed is returned by Submit after the coalescer has been closed
	ErrClosed = errors.New("coalescer closed")
)

// FetchFunc fetches one chunk of items.
// Items missing from the returned map resolve as absent; a non-nil error fails the whole chunk.
type FetchFunc[K comparable, V any] func(ctx context.Context, items []K) (map[K]V, error)

// Timer is a cancellable scheduled call
type Timer interface {
	Stop() bool
}

// Scheduler schedules f to run once after d
type Scheduler interface {
	AfterFunc(d time.Duration, f func()) Timer
}

// Stats receives coalescer activity
type Stats interface {
	RecordBatch(requestKey string, items, chunks int)
	RecordChunk(requestKey string, size int, err error)
}

// Options configures a Coalescer
type Options struct {
	// MergeWindow is the debounce duration; every submission re-arms it from zero.
	MergeWindow time.Duration
	// MaxBatchSize bounds the number of items in one fetch call.
	MaxBatchSize int
	// Scheduler defaults to the runtime timer facility.
	Scheduler Scheduler
	// Stats is optional.
	Stats Stats
}

func (o Options) withDefaults() Options {
	if o.MaxBatchSize <= 0 {
		o.MaxBatchSize = DefaultMaxBatchSize
	}
	if o.MergeWindow < 0 {
		o.MergeWindow = 0
	}
	if o.Scheduler == nil {
		o.Scheduler = runtimeScheduler{}
	}
	return o
}

type runtimeScheduler struct{}

func (runtimeScheduler) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

// FetchError reports the items of a Submit call whose chunk fetch failed.
// Err joins the distinct chunk failures, each wrapping ErrChunkFailed.
type FetchError struct {
	RequestKey string
	Failed     int
	Err        error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("%s: %d item(s) failed: %v", e.RequestKey, e.Failed, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// itemOutcome is delivered once to every waiter of an item
type itemOutcome[V any] struct {
	value V
	ok    bool
	chunk int
	err   error
}

// pendingBatch accumulates items between flushes.
// timer is set iff order is non-empty; every item in order has at least one waiter.
type pendingBatch[K comparable, V any] struct {
	order   []K
	waiters map[K][]chan itemOutcome[V]
	timer   Timer
}

func newPendingBatch[K comparable, V any]() *pendingBatch[K, V] {
	return &pendingBatch[K, V]{
		waiters: make(map[K][]chan itemOutcome[V]),
	}
}

// add registers a waiter for item, keeping first-seen order
func (b *pendingBatch[K, V]) add(item K, ch chan itemOutcome[V]) {
	if _, exists := b.waiters[item]; !exists {
		b.order = append(b.order, item)
	}
	b.waiters[item] = append(b.waiters[item], ch)
}

// chunks splits the pending items into slices of at most size items
func (b *pendingBatch[K, V]) chunks(size int) [][]K {
	out := make([][]K, 0, (len(b.order)+size-1)/size)
	for start := 0; start < len(b.order); start += size {
		end := min(start+size, len(b.order))
		out = append(out, b.order[start:end])
	}
	return out
}
