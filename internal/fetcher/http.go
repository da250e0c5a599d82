package fetcher

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"rankgofer/internal/config"
)

const defaultRetryBackoff = 100 * time.Millisecond

type batchRequest struct {
	Items []string `json:"items"`
}

// Config for creating an HTTPFetcher
type Config struct {
	URL            string
	Timeout        time.Duration
	MaxAttempts    int
	RetryBackoff   time.Duration
	CircuitBreaker CircuitBreakerConfig
	Stats          Stats
	Logger         zerolog.Logger
}

// HTTPFetcher posts chunks of items to a remote rank source
type HTTPFetcher struct {
	url         string
	maxAttempts int
	backoff     time.Duration
	httpClient  *http.Client
	breaker     *CircuitBreaker
	stats       Stats
	logger      zerolog.Logger
}

// NewHTTPFetcher creates a new HTTPFetcher
func NewHTTPFetcher(cfg Config) *HTTPFetcher {
	transport := &http.Transport{
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 100,
		IdleConnTimeout:     90 * time.Second,
	}

	maxAttempts := cfg.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 1
	}
	backoff := cfg.RetryBackoff
	if backoff <= 0 {
		backoff = defaultRetryBackoff
	}

	return &HTTPFetcher{
		url:         cfg.URL,
		maxAttempts: maxAttempts,
		backoff:     backoff,
		httpClient: &http.Client{
			Transport: transport,
			Timeout:   cfg.Timeout,
		},
		breaker: NewCircuitBreaker(cfg.CircuitBreaker),
		stats:   cfg.Stats,
		logger:  cfg.Logger.With().Str("component", "fetcher").Logger(),
	}
}

// NewHTTPFetcherFromConfig creates an HTTPFetcher from config
func NewHTTPFetcherFromConfig(cfg config.FetcherConfig, stats Stats, logger zerolog.Logger) *HTTPFetcher {
	return NewHTTPFetcher(Config{
		URL:         cfg.URL,
		Timeout:     cfg.GetTimeoutDuration(),
		MaxAttempts: cfg.RetryMaxAttempts,
		CircuitBreaker: CircuitBreakerConfig{
			Enabled:             cfg.CircuitBreaker.Enabled,
			FailureThreshold:    cfg.CircuitBreaker.FailureThreshold,
			RecoveryTimeout:     cfg.CircuitBreaker.GetRecoveryTimeoutDuration(),
			HalfOpenMaxRequests: cfg.CircuitBreaker.HalfOpenMaxRequests,
		},
		Stats:  stats,
		Logger: logger,
	})
}

// Breaker returns the fetcher's circuit breaker
func (f *HTTPFetcher) Breaker() *CircuitBreaker {
	return f.breaker
}

// FetchBatch posts items and decodes the returned ranks, retrying transport
// errors and retryable status codes up to the configured attempt count
func (f *HTTPFetcher) FetchBatch(ctx context.Context, items []string) ([]Result, error) {
	if f.url == "" {
		return nil, ErrNotConfigured
	}
	if len(items) == 0 {
		return []Result{}, nil
	}

	body, err := json.Marshal(batchRequest{Items: items})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	var lastErr error
	for attempt := 1; attempt <= f.maxAttempts; attempt++ {
		if !f.breaker.Allow() {
			f.record("circuit_open")
			return nil, ErrCircuitOpen
		}

		results, err := f.post(ctx, body)
		if err == nil {
			f.breaker.Success()
			f.record("ok")
			return results, nil
		}

		f.breaker.Failure()
		f.record("error")
		lastErr = err

		var statusErr *StatusError
		if errors.As(err, &statusErr) && !statusErr.Retryable() {
			return nil, err
		}
		if attempt == f.maxAttempts {
			break
		}

		f.logger.Debug().
			Int("attempt", attempt).
			Int("maxAttempts", f.maxAttempts).
			Int("items", len(items)).
			Err(err).
			Msg("rank fetch failed, retrying")

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(f.backoff * time.Duration(attempt)):
		}
	}

	return nil, fmt.Errorf("rank fetch failed after %d attempts: %w", f.maxAttempts, lastErr)
}

func (f *HTTPFetcher) post(ctx context.Context, body []byte) ([]Result, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, f.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create HTTP request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := f.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &StatusError{Code: resp.StatusCode, Body: string(respBody)}
	}

	var results []Result
	if err := json.Unmarshal(respBody, &results); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}
	return results, nil
}

func (f *HTTPFetcher) record(result string) {
	if f.stats != nil {
		f.stats.RecordFetch(result)
	}
}

// Close releases idle connections
func (f *HTTPFetcher) Close() {
	f.httpClient.CloseIdleConnections()
}
