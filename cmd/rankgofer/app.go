package main

import (
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"rankgofer/internal/batcher"
	"rankgofer/internal/cache"
	"rankgofer/internal/config"
	"rankgofer/internal/fetcher"
	"rankgofer/internal/kvstore"
	"rankgofer/internal/lookup"
	"rankgofer/internal/metrics"
)

// app is the wired lookup pipeline: store, cache, remote fetcher, coalescers and service
type app struct {
	metrics *metrics.Metrics
	store   kvstore.Store
	cache   *cache.BoundedCache
	fetcher *fetcher.HTTPFetcher
	group   *batcher.Group[string, float64]
	service *lookup.Service
	logger  zerolog.Logger
}

func newApp(cfg *config.Config, logger zerolog.Logger) (*app, error) {
	if !cfg.IsFetcherConfigured() {
		return nil, errors.New("fetcher.url is required")
	}

	m := metrics.New()

	store, err := kvstore.New(cfg.Store)
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}

	rankCache := cache.New(store, cache.Options{
		StorageKey:    cfg.Cache.StorageKey,
		TTL:           cfg.Cache.GetTTLDuration(),
		MaxEntries:    cfg.Cache.MaxEntries,
		MaxBytes:      cfg.Cache.MaxBytes,
		RecencyWindow: cfg.Cache.GetRecencyWindowDuration(),
		TouchDelay:    cfg.Cache.GetTouchDelayDuration(),
		Stats:         m,
	}, logger)

	remote := fetcher.NewHTTPFetcherFromConfig(cfg.Fetcher, m, logger)

	group := batcher.NewGroup(batcher.Options{
		MergeWindow:  cfg.Coalescer.GetMergeWindowDuration(),
		MaxBatchSize: cfg.Coalescer.MaxBatchSize,
		Stats:        m,
	}, func(requestKey string) batcher.FetchFunc[string, float64] {
		return fetcher.BatchFunc(remote)
	}, logger)

	service := lookup.NewService(rankCache, group.Get(cfg.RequestKey), m, logger)

	logger.Info().
		Str("storageKey", cfg.Cache.StorageKey).
		Int("maxEntries", cfg.Cache.MaxEntries).
		Int("maxBytes", cfg.Cache.MaxBytes).
		Dur("mergeWindow", cfg.Coalescer.GetMergeWindowDuration()).
		Int("maxBatchSize", cfg.Coalescer.MaxBatchSize).
		Str("fetcherURL", cfg.Fetcher.URL).
		Msg("lookup pipeline ready")

	return &app{
		metrics: m,
		store:   store,
		cache:   rankCache,
		fetcher: remote,
		group:   group,
		service: service,
		logger:  logger,
	}, nil
}

// close flushes pending batches and access times, then releases the store
func (a *app) close() {
	a.group.Close()
	a.cache.Close()
	a.fetcher.Close()
	if err := a.store.Close(); err != nil {
		a.logger.Error().Err(err).Msg("failed to close store")
	}
}
