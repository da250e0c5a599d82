package batcher

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

type manualTimer struct {
	f       func()
	stopped atomic.Bool
}

func (t *manualTimer) Stop() bool {
	return !t.stopped.Swap(true)
}

// manualScheduler records timers and fires them only when the test says so
type manualScheduler struct {
	mu     sync.Mutex
	timers []*manualTimer
}

func (s *manualScheduler) AfterFunc(d time.Duration, f func()) Timer {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := &manualTimer{f: f}
	s.timers = append(s.timers, t)
	return t
}

func (s *manualScheduler) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.timers)
}

func (s *manualScheduler) timer(i int) *manualTimer {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.timers[i]
}

// fireLatest runs the most recently scheduled timer unless it was stopped
func (s *manualScheduler) fireLatest() {
	s.mu.Lock()
	t := s.timers[len(s.timers)-1]
	s.mu.Unlock()
	if !t.stopped.Load() {
		t.f()
	}
}

type fetchRecorder struct {
	mu    sync.Mutex
	calls [][]string
	fail  func(items []string) error
	skip  map[string]bool
}

func (r *fetchRecorder) fetch(ctx context.Context, items []string) (map[string]int, error) {
	r.mu.Lock()
	r.calls = append(r.calls, append([]string(nil), items...))
	r.mu.Unlock()

	if r.fail != nil {
		if err := r.fail(items); err != nil {
			return nil, err
		}
	}
	out := make(map[string]int, len(items))
	for _, item := range items {
		if r.skip[item] {
			continue
		}
		out[item] = len(item)
	}
	return out, nil
}

func (r *fetchRecorder) callCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.calls)
}

func waitPending(t *testing.T, c *Coalescer[string, int], want int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for c.Pending() != want {
		if time.Now().After(deadline) {
			t.Fatalf("pending = %d, want %d", c.Pending(), want)
		}
		time.Sleep(time.Millisecond)
	}
}

type submitResult struct {
	values map[string]int
	err    error
}

func submitAsync(c *Coalescer[string, int], items []string) <-chan submitResult {
	done := make(chan submitResult, 1)
	go func() {
		values, err := c.Submit(items)
		done <- submitResult{values: values, err: err}
	}()
	return done
}

func TestCoalescer_MergesConcurrentSubmits(t *testing.T) {
	sched := &manualScheduler{}
	rec := &fetchRecorder{}
	c := NewCoalescer("rank", Options{MergeWindow: time.Second, MaxBatchSize: 100, Scheduler: sched}, rec.fetch, zerolog.Nop())

	requests := [][]string{
		{"a", "b"},
		{"b", "c"},
		{"c", "d", "a"},
		{"a"},
		{"e", "b", "e"},
	}
	results := make([]<-chan submitResult, len(requests))
	for i, items := range requests {
		results[i] = submitAsync(c, items)
	}

	waitPending(t, c, 5)
	// every submission re-armed the window
	deadline := time.Now().Add(2 * time.Second)
	for sched.count() != len(requests) && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	sched.fireLatest()

	for i, ch := range results {
		res := <-ch
		if res.err != nil {
			t.Fatalf("submit %d: %v", i, res.err)
		}
		for _, item := range requests[i] {
			if res.values[item] != len(item) {
				t.Errorf("submit %d: %s = %d, want %d", i, item, res.values[item], len(item))
			}
		}
	}

	if rec.callCount() != 1 {
		t.Fatalf("fetch calls = %d, want 1", rec.callCount())
	}
	got := append([]string(nil), rec.calls[0]...)
	sort.Strings(got)
	want := []string{"a", "b", "c", "d", "e"}
	if fmt.Sprint(got) != fmt.Sprint(want) {
		t.Errorf("fetched %v, want %v", got, want)
	}
}

func TestCoalescer_DebounceResetsOnArrival(t *testing.T) {
	sched := &manualScheduler{}
	rec := &fetchRecorder{}
	c := NewCoalescer("rank", Options{MergeWindow: time.Second, Scheduler: sched}, rec.fetch, zerolog.Nop())

	first := submitAsync(c, []string{"a"})
	waitPending(t, c, 1)
	second := submitAsync(c, []string{"b"})
	waitPending(t, c, 2)

	if sched.count() != 2 {
		t.Fatalf("timers = %d, want 2", sched.count())
	}
	if !sched.timer(0).stopped.Load() {
		t.Error("first timer should be stopped by the second arrival")
	}

	// A stale firing of the first timer must not flush the batch.
	sched.timer(0).f()
	if rec.callCount() != 0 {
		t.Fatalf("stale timer flushed the batch")
	}

	sched.fireLatest()
	<-first
	<-second
	if rec.callCount() != 1 {
		t.Errorf("fetch calls = %d, want 1", rec.callCount())
	}
}

func TestCoalescer_SplitsIntoChunks(t *testing.T) {
	sched := &manualScheduler{}
	rec := &fetchRecorder{}
	const maxBatch = 10
	c := NewCoalescer("rank", Options{MaxBatchSize: maxBatch, Scheduler: sched}, rec.fetch, zerolog.Nop())

	items := make([]string, 25)
	for i := range items {
		items[i] = fmt.Sprintf("user-%02d", i)
	}
	done := submitAsync(c, items)
	waitPending(t, c, len(items))
	sched.fireLatest()

	res := <-done
	if res.err != nil {
		t.Fatalf("Submit: %v", res.err)
	}
	if len(res.values) != len(items) {
		t.Errorf("results = %d, want %d", len(res.values), len(items))
	}

	if rec.callCount() != 3 {
		t.Fatalf("fetch calls = %d, want 3", rec.callCount())
	}
	seen := make(map[string]bool)
	for _, call := range rec.calls {
		if len(call) > maxBatch {
			t.Errorf("chunk of %d items exceeds max %d", len(call), maxBatch)
		}
		for _, item := range call {
			if seen[item] {
				t.Errorf("item %s fetched twice", item)
			}
			seen[item] = true
		}
	}
}

func TestCoalescer_PartialFailureIsolation(t *testing.T) {
	sched := &manualScheduler{}
	boom := errors.New("upstream down")
	rec := &fetchRecorder{
		fail: func(items []string) error {
			for _, item := range items {
				if item == "c" {
					return boom
				}
			}
			return nil
		},
	}
	c := NewCoalescer("rank", Options{MaxBatchSize: 2, Scheduler: sched}, rec.fetch, zerolog.Nop())

	// chunks: [a b] [c d] [e]
	all := submitAsync(c, []string{"a", "b", "c", "d", "e"})
	waitPending(t, c, 5)
	onlyOK := submitAsync(c, []string{"e", "a"})
	onlyBad := submitAsync(c, []string{"d"})
	deadline := time.Now().Add(2 * time.Second)
	for sched.count() != 3 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	sched.fireLatest()

	res := <-all
	var fetchErr *FetchError
	if !errors.As(res.err, &fetchErr) {
		t.Fatalf("err = %v, want *FetchError", res.err)
	}
	if fetchErr.Failed != 2 {
		t.Errorf("Failed = %d, want 2", fetchErr.Failed)
	}
	if !errors.Is(res.err, ErrChunkFailed) || !errors.Is(res.err, boom) {
		t.Errorf("err should wrap ErrChunkFailed and the cause: %v", res.err)
	}
	for _, item := range []string{"a", "b", "e"} {
		if _, ok := res.values[item]; !ok {
			t.Errorf("%s missing from partial result", item)
		}
	}
	for _, item := range []string{"c", "d"} {
		if _, ok := res.values[item]; ok {
			t.Errorf("%s should be absent", item)
		}
	}

	if res := <-onlyOK; res.err != nil || len(res.values) != 2 {
		t.Errorf("unaffected waiter: values=%v err=%v", res.values, res.err)
	}
	if res := <-onlyBad; res.err == nil || len(res.values) != 0 {
		t.Errorf("failed waiter: values=%v err=%v", res.values, res.err)
	}
}

func TestCoalescer_MissingResultIsAbsent(t *testing.T) {
	sched := &manualScheduler{}
	rec := &fetchRecorder{skip: map[string]bool{"ghost": true}}
	c := NewCoalescer("rank", Options{Scheduler: sched}, rec.fetch, zerolog.Nop())

	done := submitAsync(c, []string{"ghost", "real"})
	waitPending(t, c, 2)
	sched.fireLatest()

	res := <-done
	if res.err != nil {
		t.Fatalf("missing result must not be an error: %v", res.err)
	}
	if _, ok := res.values["ghost"]; ok {
		t.Error("ghost should be absent")
	}
	if res.values["real"] != 4 {
		t.Errorf("real = %d, want 4", res.values["real"])
	}
}

func TestCoalescer_EmptySubmit(t *testing.T) {
	sched := &manualScheduler{}
	rec := &fetchRecorder{}
	c := NewCoalescer("rank", Options{Scheduler: sched}, rec.fetch, zerolog.Nop())

	values, err := c.Submit(nil)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if len(values) != 0 {
		t.Errorf("values = %v, want empty", values)
	}
	if sched.count() != 0 {
		t.Errorf("empty submit scheduled %d timers", sched.count())
	}
}

func TestCoalescer_SubmitDuringFlushStartsNewBatch(t *testing.T) {
	sched := &manualScheduler{}
	release := make(chan struct{})
	entered := make(chan []string, 2)
	var calls atomic.Int32
	fetch := func(ctx context.Context, items []string) (map[string]int, error) {
		entered <- items
		if calls.Add(1) == 1 {
			<-release
		}
		out := make(map[string]int)
		for _, item := range items {
			out[item] = 1
		}
		return out, nil
	}
	c := NewCoalescer("rank", Options{Scheduler: sched}, fetch, zerolog.Nop())

	first := submitAsync(c, []string{"a"})
	waitPending(t, c, 1)
	go sched.fireLatest()
	<-entered

	// batch is in flight; a new arrival must not join it
	if c.Pending() != 0 {
		t.Fatalf("pending = %d after drain, want 0", c.Pending())
	}
	second := submitAsync(c, []string{"a", "b"})
	waitPending(t, c, 2)
	close(release)
	if res := <-first; res.err != nil || res.values["a"] != 1 {
		t.Fatalf("first: %v %v", res.values, res.err)
	}

	sched.fireLatest()
	if items := <-entered; len(items) != 2 {
		t.Errorf("second batch items = %v, want [a b]", items)
	}
	if res := <-second; res.err != nil || len(res.values) != 2 {
		t.Fatalf("second: %v %v", res.values, res.err)
	}
}

func TestCoalescer_RealTimerFlushes(t *testing.T) {
	rec := &fetchRecorder{}
	c := NewCoalescer("rank", Options{MergeWindow: 5 * time.Millisecond}, rec.fetch, zerolog.Nop())

	values, err := c.Submit([]string{"abc"})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if values["abc"] != 3 {
		t.Errorf("abc = %d, want 3", values["abc"])
	}
}

func TestCoalescer_CloseFlushesPending(t *testing.T) {
	sched := &manualScheduler{}
	rec := &fetchRecorder{}
	c := NewCoalescer("rank", Options{Scheduler: sched}, rec.fetch, zerolog.Nop())

	done := submitAsync(c, []string{"a"})
	waitPending(t, c, 1)
	c.Close()

	if res := <-done; res.err != nil || res.values["a"] != 1 {
		t.Fatalf("pending waiter after Close: %v %v", res.values, res.err)
	}
	if _, err := c.Submit([]string{"b"}); !errors.Is(err, ErrClosed) {
		t.Errorf("Submit after Close err = %v, want ErrClosed", err)
	}
}

func TestGroup_IndependentCoalescers(t *testing.T) {
	var mu sync.Mutex
	seen := make(map[string][]string)
	factory := func(requestKey string) FetchFunc[string, int] {
		return func(ctx context.Context, items []string) (map[string]int, error) {
			mu.Lock()
			seen[requestKey] = append(seen[requestKey], items...)
			mu.Unlock()
			return map[string]int{}, nil
		}
	}
	g := NewGroup(Options{MergeWindow: time.Millisecond}, factory, zerolog.Nop())
	defer g.Close()

	if g.Get("rank") != g.Get("rank") {
		t.Fatal("Get should return the same coalescer for a key")
	}
	if g.Get("rank") == g.Get("score") {
		t.Fatal("different keys must not share a coalescer")
	}

	if _, err := g.Get("rank").Submit([]string{"x"}); err != nil {
		t.Fatalf("rank submit: %v", err)
	}
	if _, err := g.Get("score").Submit([]string{"y"}); err != nil {
		t.Fatalf("score submit: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if fmt.Sprint(seen["rank"]) != "[x]" || fmt.Sprint(seen["score"]) != "[y]" {
		t.Errorf("seen = %v", seen)
	}
	if keys := g.Keys(); fmt.Sprint(keys) != "[rank score]" {
		t.Errorf("Keys = %v", keys)
	}
}

func TestGroup_Pending(t *testing.T) {
	sched := &manualScheduler{}
	rec := &fetchRecorder{}
	g := NewGroup(Options{Scheduler: sched}, func(string) FetchFunc[string, int] { return rec.fetch }, zerolog.Nop())
	defer g.Close()

	if g.Pending("rank") != 0 {
		t.Fatal("unknown key should have nothing pending")
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = g.Get("rank").Submit([]string{"a", "b"})
	}()

	deadline := time.Now().Add(2 * time.Second)
	for g.Pending("rank") != 2 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if g.Pending("rank") != 2 {
		t.Fatalf("Pending = %d, want 2", g.Pending("rank"))
	}

	sched.fireLatest()
	<-done
	if g.Pending("rank") != 0 {
		t.Errorf("Pending after flush = %d, want 0", g.Pending("rank"))
	}
}
