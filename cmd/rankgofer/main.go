package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"rankgofer/internal/config"
	"rankgofer/internal/server"
	"rankgofer/internal/status"
)

func main() {
	// Parse flags
	configPath := flag.String("config", "", "path to config file (defaults and RANKGOFER_* env when empty)")
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "usage: %s [-config path] [serve | resolve item...]\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()

	// Load config
	cfg, err := config.Load(*configPath)
	if err != nil {
		// Basic logger for startup errors
		log := zerolog.New(os.Stderr).With().Timestamp().Logger()
		log.Fatal().Err(err).Msg("failed to load config")
	}

	command, args := "serve", flag.Args()
	if len(args) > 0 {
		command, args = args[0], args[1:]
	}

	switch command {
	case "serve":
		serve(cfg, *configPath)
	case "resolve":
		resolve(cfg, args)
	default:
		flag.Usage()
		os.Exit(2)
	}
}

// serve runs the HTTP server until SIGINT or SIGTERM
func serve(cfg *config.Config, configPath string) {
	logger := setupLogger(cfg.LogLevel, os.Stdout)
	logger.Info().
		Str("config", configPath).
		Str("host", cfg.Host).
		Int("port", cfg.Port).
		Str("store", string(cfg.Store.Type)).
		Str("requestKey", cfg.RequestKey).
		Msg("starting RankGofer")

	a, err := newApp(cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to create lookup pipeline")
	}

	srv := server.New(cfg, a.service, a.metrics, logger)
	if err := srv.Start(); err != nil {
		logger.Fatal().Err(err).Msg("failed to start server")
	}

	monitor := status.NewMonitor(status.Sources{
		Cache:     a.cache,
		Observers: a.service,
		Batches:   a.group,
		Breaker:   a.fetcher.Breaker(),
	}, cfg.GetStatusLogIntervalDuration(), logger)
	monitor.Start()

	// Wait for shutdown signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit

	logger.Info().Str("signal", sig.String()).Msg("received shutdown signal")

	// Graceful shutdown with timeout
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Stop(ctx); err != nil {
		logger.Error().Err(err).Msg("error during shutdown")
	}
	monitor.Stop()
	a.close()
}

// resolve performs one lookup and prints the ranks as JSON
func resolve(cfg *config.Config, items []string) {
	logger := setupLogger(cfg.LogLevel, os.Stderr)
	if len(items) == 0 {
		logger.Fatal().Msg("resolve needs at least one item")
	}

	a, err := newApp(cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to create lookup pipeline")
	}
	defer a.close()

	ranks := a.service.ResolveMany(items)

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(ranks); err != nil {
		logger.Error().Err(err).Msg("failed to write ranks")
	}
}

// setupLogger configures the zerolog logger
func setupLogger(level string, out io.Writer) zerolog.Logger {
	// Set log level
	var logLevel zerolog.Level
	switch level {
	case "debug":
		logLevel = zerolog.DebugLevel
	case "info":
		logLevel = zerolog.InfoLevel
	case "warn":
		logLevel = zerolog.WarnLevel
	case "error":
		logLevel = zerolog.ErrorLevel
	default:
		logLevel = zerolog.InfoLevel
	}

	zerolog.SetGlobalLevel(logLevel)

	// Configure output
	output := zerolog.ConsoleWriter{
		Out:        out,
		TimeFormat: time.RFC3339,
	}

	return zerolog.New(output).With().Timestamp().Logger()
}
