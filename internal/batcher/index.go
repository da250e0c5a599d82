// Package batcher provides request coalescing for batch lookups.
//
// A Coalescer merges item lookups that arrive within a merge window into a
// single pending batch. Every arrival re-arms the window, so a batch is only
// flushed after the callers go quiet. At flush time the de-duplicated item set
// is split into chunks of at most MaxBatchSize items and each chunk is fetched
// concurrently; results are fanned back out to every caller that asked for an
// item. A failed chunk only fails its own items.
//
// A Group hands out one independent Coalescer per request key:
//
//	group := batcher.NewGroup[string, float64](batcher.Options{
//		MergeWindow:  50 * time.Millisecond,
//		MaxBatchSize: 100,
//	}, func(requestKey string) batcher.FetchFunc[string, float64] {
//		return fetchRanks
//	}, logger)
//
//	ranks, err := group.Get("rank").Submit([]string{"alice", "bob"})
package batcher
