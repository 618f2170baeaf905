// Package main wires together the metalink extraction server.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/metalink-dev/metalink/internal/api"
	"github.com/metalink-dev/metalink/internal/cache"
	"github.com/metalink-dev/metalink/internal/clock/system"
	"github.com/metalink-dev/metalink/internal/config"
	"github.com/metalink-dev/metalink/internal/fetch"
	"github.com/metalink-dev/metalink/internal/logging"
	"github.com/metalink-dev/metalink/internal/metalink"
	"github.com/metalink-dev/metalink/internal/metrics"
	"github.com/metalink-dev/metalink/internal/service"
)

func main() {
	cfgPath := flag.String("config", "", "Path to config file")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config failed: %v\n", err)
		os.Exit(1)
	}
	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger init failed: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		if syncErr := logger.Sync(); syncErr != nil {
			fmt.Fprintf(os.Stderr, "logger sync failed: %v\n", syncErr)
		}
	}()
	zap.ReplaceGlobals(logger)
	metrics.Init()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	clk := system.New()
	store, err := buildStore(ctx, cfg, clk, logger)
	if err != nil {
		logger.Error("cache store init failed", zap.Error(err))
		os.Exit(1)
	}

	fetcher := fetch.NewHTTPFetcher(fetch.FetcherConfig{
		UserAgent: cfg.Extract.UserAgent,
		Timeout:   cfg.ExtractTimeout(),
	}, logger.Named("fetch"))

	svc := service.New(service.Config{
		Fetcher:    fetcher,
		OwnFetcher: true,
		Store:      store,
		OwnStore:   store != nil,
		Logger:     logger.Named("service"),
		Clock:      clk,
	})
	defer func() {
		if cerr := svc.Close(); cerr != nil {
			logger.Warn("service close failed", zap.Error(cerr))
		}
	}()

	apiServer := api.NewServer(svc, cfg, logger.Named("api"))

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("http server started", zap.Int("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", zap.Error(err))
	}
	logger.Info("shutdown complete")
}

// buildStore selects the cache backend from configuration. A nil store
// disables caching.
func buildStore(ctx context.Context, cfg config.Config, clk metalink.Clock, logger *zap.Logger) (metalink.CacheStore, error) {
	switch cfg.Cache.Backend {
	case config.CacheBackendNone:
		return nil, nil
	case config.CacheBackendMemory:
		return cache.NewMemoryStore(cache.MemoryStoreConfig{
			MaxEntries: cfg.Cache.MaxEntries,
			DefaultTTL: cfg.CacheTTL(),
			Clock:      clk,
		}), nil
	case config.CacheBackendPostgres:
		store, err := cache.NewPostgresStore(ctx, cache.PostgresStoreConfig{
			DSN:        cfg.Cache.DSN,
			Table:      cfg.Cache.Table,
			DefaultTTL: cfg.CacheTTL(),
			Clock:      clk,
			Logger:     logger.Named("cache"),
		})
		if err != nil {
			return nil, err
		}
		if err := store.EnsureSchema(ctx); err != nil {
			return nil, errors.Join(err, store.Close())
		}
		return store, nil
	default:
		return nil, fmt.Errorf("unknown cache backend %q", cfg.Cache.Backend)
	}
}
