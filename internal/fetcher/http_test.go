package fetcher

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

type countingStats struct {
	results map[string]int
}

func (s *countingStats) RecordFetch(result string) {
	s.results[result]++
}

func newTestFetcher(url string, attempts int, cb CircuitBreakerConfig, stats Stats) *HTTPFetcher {
	return NewHTTPFetcher(Config{
		URL:            url,
		Timeout:        time.Second,
		MaxAttempts:    attempts,
		RetryBackoff:   time.Millisecond,
		CircuitBreaker: cb,
		Stats:          stats,
		Logger:         zerolog.Nop(),
	})
}

func rankServer(t *testing.T) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s, want POST", r.Method)
		}
		var req batchRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		results := make([]Result, 0, len(req.Items))
		for i, item := range req.Items {
			if item == "unknown" {
				continue
			}
			results = append(results, Result{Key: item, Value: float64(i + 1)})
		}
		_ = json.NewEncoder(w).Encode(results)
	}))
}

func TestHTTPFetcher_FetchBatch(t *testing.T) {
	srv := rankServer(t)
	defer srv.Close()

	stats := &countingStats{results: map[string]int{}}
	f := newTestFetcher(srv.URL, 1, CircuitBreakerConfig{}, stats)
	defer f.Close()

	results, err := f.FetchBatch(context.Background(), []string{"alice", "unknown", "bob"})
	if err != nil {
		t.Fatalf("FetchBatch: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("got %d results, want 2", len(results))
	}
	if results[0] != (Result{Key: "alice", Value: 1}) || results[1] != (Result{Key: "bob", Value: 3}) {
		t.Errorf("results = %v", results)
	}
	if stats.results["ok"] != 1 {
		t.Errorf("ok fetches = %d, want 1", stats.results["ok"])
	}
}

func TestHTTPFetcher_RetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			http.Error(w, "unavailable", http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(`[{"key":"alice","value":42}]`))
	}))
	defer srv.Close()

	f := newTestFetcher(srv.URL, 3, CircuitBreakerConfig{}, nil)
	results, err := f.FetchBatch(context.Background(), []string{"alice"})
	if err != nil {
		t.Fatalf("FetchBatch: %v", err)
	}
	if calls.Load() != 3 {
		t.Errorf("calls = %d, want 3", calls.Load())
	}
	if len(results) != 1 || results[0].Value != 42 {
		t.Errorf("results = %v", results)
	}
}

func TestHTTPFetcher_ClientErrorNotRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "bad items", http.StatusBadRequest)
	}))
	defer srv.Close()

	f := newTestFetcher(srv.URL, 3, CircuitBreakerConfig{}, nil)
	_, err := f.FetchBatch(context.Background(), []string{"alice"})

	var statusErr *StatusError
	if !errors.As(err, &statusErr) || statusErr.Code != http.StatusBadRequest {
		t.Fatalf("err = %v, want StatusError 400", err)
	}
	if calls.Load() != 1 {
		t.Errorf("calls = %d, want 1", calls.Load())
	}
}

func TestHTTPFetcher_InvalidResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"not":"an array"}`))
	}))
	defer srv.Close()

	f := newTestFetcher(srv.URL, 1, CircuitBreakerConfig{}, nil)
	if _, err := f.FetchBatch(context.Background(), []string{"alice"}); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestHTTPFetcher_CircuitOpens(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "down", http.StatusInternalServerError)
	}))
	defer srv.Close()

	stats := &countingStats{results: map[string]int{}}
	f := newTestFetcher(srv.URL, 1, CircuitBreakerConfig{
		Enabled:          true,
		FailureThreshold: 2,
		RecoveryTimeout:  time.Hour,
	}, stats)

	for i := 0; i < 2; i++ {
		if _, err := f.FetchBatch(context.Background(), []string{"alice"}); err == nil {
			t.Fatal("expected error")
		}
	}
	_, err := f.FetchBatch(context.Background(), []string{"alice"})
	if !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("err = %v, want ErrCircuitOpen", err)
	}
	if calls.Load() != 2 {
		t.Errorf("calls = %d, want 2", calls.Load())
	}
	if stats.results["circuit_open"] != 1 {
		t.Errorf("circuit_open = %d, want 1", stats.results["circuit_open"])
	}
}

func TestHTTPFetcher_NotConfigured(t *testing.T) {
	f := newTestFetcher("", 1, CircuitBreakerConfig{}, nil)
	if _, err := f.FetchBatch(context.Background(), []string{"alice"}); !errors.Is(err, ErrNotConfigured) {
		t.Errorf("err = %v, want ErrNotConfigured", err)
	}
}

func TestBatchFunc(t *testing.T) {
	f := Func(func(ctx context.Context, items []string) ([]Result, error) {
		if len(items) == 0 {
			return nil, errors.New("empty")
		}
		return []Result{{Key: items[0], Value: 7}}, nil
	})

	values, err := BatchFunc(f)(context.Background(), []string{"alice", "bob"})
	if err != nil {
		t.Fatalf("BatchFunc: %v", err)
	}
	if len(values) != 1 || values["alice"] != 7 {
		t.Errorf("values = %v", values)
	}

	if _, err := BatchFunc(f)(context.Background(), nil); err == nil {
		t.Error("expected error to pass through")
	}
}
