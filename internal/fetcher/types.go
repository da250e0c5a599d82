package fetcher

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrCircuitOpen is returned without calling the remote while the breaker is open
	ErrCircuitOpen = errors.New("rank source circuit open")

	// ErrNotConfigured is returned by HTTPFetcher without a URL
	ErrNotConfigured = errors.New("rank source URL not configured")
)

// Result is one rank returned by the remote source
type Result struct {
	Key   string  `json:"key"`
	Value float64 `json:"value"`
}

// Fetcher retrieves ranks for a chunk of items. Items missing from the
// returned slice have no rank.
type Fetcher interface {
	FetchBatch(ctx context.Context, items []string) ([]Result, error)
}

// Func adapts a plain function to Fetcher
type Func func(ctx context.Context, items []string) ([]Result, error)

// FetchBatch calls f
func (f Func) FetchBatch(ctx context.Context, items []string) ([]Result, error) {
	return f(ctx, items)
}

// Stats receives one outcome per remote call
type Stats interface {
	RecordFetch(result string)
}

// StatusError is a non-200 answer from the remote source
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("HTTP error %d: %s", e.Code, e.Body)
}

// Retryable reports whether the remote may succeed on a later attempt
func (e *StatusError) Retryable() bool {
	return e.Code >= 500 || e.Code == 429
}

// BatchFunc adapts f to the coalescer fetch signature, keyed by Result.Key
func BatchFunc(f Fetcher) func(ctx context.Context, items []string) (map[string]float64, error) {
	return func(ctx context.Context, items []string) (map[string]float64, error) {
		results, err := f.FetchBatch(ctx, items)
		if err != nil {
			return nil, err
		}
		values := make(map[string]float64, len(results))
		for _, r := range results {
			values[r.Key] = r.Value
		}
		return values, nil
	}
}
