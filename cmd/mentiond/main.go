// Package main wires together the mention service binary.
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

	"github.com/mentionhub/mentiond/internal/api"
	"github.com/mentionhub/mentiond/internal/clock/system"
	"github.com/mentionhub/mentiond/internal/config"
	"github.com/mentionhub/mentiond/internal/dispatcher"
	"github.com/mentionhub/mentiond/internal/extractor"
	collyfetcher "github.com/mentionhub/mentiond/internal/fetcher/colly"
	"github.com/mentionhub/mentiond/internal/live"
	"github.com/mentionhub/mentiond/internal/logging"
	"github.com/mentionhub/mentiond/internal/metrics"
	queuememory "github.com/mentionhub/mentiond/internal/queue/memory"
	"github.com/mentionhub/mentiond/internal/relay"
	"github.com/mentionhub/mentiond/internal/resolver"
	"github.com/mentionhub/mentiond/internal/storage/postgres"
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
		_ = logger.Sync()
	}()
	zap.ReplaceGlobals(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	metrics.Init()

	if cfg.DB.Migrate {
		if err := postgres.RunMigrations(cfg.DB.DSN); err != nil {
			logger.Fatal("migrations failed", zap.Error(err))
		}
		logger.Info("migrations applied")
	}

	clock := system.New()
	repo, err := postgres.New(ctx, postgres.Config{
		DSN:             cfg.DB.DSN,
		MaxConns:        cfg.DB.MaxConns,
		MinConns:        cfg.DB.MinConns,
		MaxConnLifetime: time.Duration(cfg.DB.MaxConnLifeMins) * time.Minute,
	}, clock)
	if err != nil {
		logger.Fatal("postgres init failed", zap.Error(err))
	}
	defer repo.Close()

	fetcher := collyfetcher.New(collyfetcher.Config{
		UserAgent:    cfg.Fetch.UserAgent,
		Timeout:      cfg.FetchTimeout(),
		MaxRedirects: cfg.Fetch.MaxRedirects,
		MaxBodyBytes: cfg.Fetch.MaxBodyBytes,
	})

	outbound, err := relay.New(relay.Config{
		Enabled:       cfg.Relay.Enabled,
		Timeout:       cfg.RelayTimeout(),
		UserAgent:     cfg.Fetch.UserAgent,
		RatePerSecond: cfg.Relay.RatePerSecond,
		Burst:         cfg.Relay.Burst,
	}, fetcher, logger.Named("relay"))
	if err != nil {
		logger.Fatal("relay init failed", zap.Error(err))
	}

	broadcaster := live.NewBroadcaster(logger.Named("live"))
	defer broadcaster.Close()

	res, err := resolver.New(resolver.Deps{
		Fetcher:   fetcher,
		Extractor: extractor.New(),
		Repo:      repo,
		Notifier:  outbound,
		Live:      broadcaster,
		Clock:     clock,
		Logger:    logger.Named("resolver"),
		MaxDepth:  cfg.Resolver.MaxDepth,
	})
	if err != nil {
		logger.Fatal("resolver init failed", zap.Error(err))
	}

	queue := queuememory.NewQueue(cfg.Resolver.QueueDepth)
	var workers []*resolver.Worker
	for i := 0; i < cfg.Resolver.Concurrency; i++ {
		workers = append(workers, resolver.NewWorker(i, queue, res, logger.Named("worker")))
	}
	dispatch := dispatcher.New(queue, workers)

	apiServer := api.NewServer(repo, dispatch, broadcaster, clock, logger.Named("api"), api.Config{})

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("dispatcher started", zap.Int("workers", len(workers)))
		dispatch.Run(ctx)
	}()

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
	queue.Close()
	logger.Info("shutdown complete")
}
