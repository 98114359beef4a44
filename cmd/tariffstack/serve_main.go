package main

import (
	"context"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/luv91/tariffstack/internal/cache"
	"github.com/luv91/tariffstack/internal/commit"
	"github.com/luv91/tariffstack/internal/config"
	"github.com/luv91/tariffstack/internal/evaluator"
	"github.com/luv91/tariffstack/internal/freshness"
	"github.com/luv91/tariffstack/internal/infrastructure/db"
	httpapi "github.com/luv91/tariffstack/internal/interfaces/http"
	"github.com/luv91/tariffstack/internal/metrics"
	"github.com/luv91/tariffstack/internal/net/ratelimit"
	"github.com/luv91/tariffstack/internal/persistence"
	"github.com/luv91/tariffstack/internal/pipeline"
	"github.com/luv91/tariffstack/internal/review"
	"github.com/luv91/tariffstack/internal/watcher"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the admin and evaluation HTTP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			return runServe(cfg)
		},
	}
}

func runServe(cfg config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	manager, err := db.NewManager(cfg.Database)
	if err != nil {
		return fmt.Errorf("database: %w", err)
	}
	defer manager.Close()
	repos := manager.Repositories()

	set := metrics.NewSet()
	logger := log.Logger

	reader, invalidator := rateSurface(cfg, repos.Rates, set, logger)

	eval := evaluator.New(reader)
	eval.SetMetrics(set)

	engine := commit.NewEngine(manager.DB())
	if invalidator != nil {
		engine.SetInvalidator(invalidator)
	}

	rev := review.NewService(repos.Review, repos.Evidence, engine, cfg.Review.SLABound, logger)
	fresh := freshness.NewService(repos.Runs, repos.Queue, repos.Prober, repos.Stats, freshness.DefaultThresholds(), logger)

	manifest := watcher.NewManifestWriter(cfg.Watch.ArtifactsDir, repos.Runs)
	runner := watcher.NewRunner(repos.Runs, repos.Queue, manifest, logger, defaultWatchers()...)
	runner.SetMetrics(set)

	worker := newPipelineWorker(cfg, repos, engine, set)

	handlers := httpapi.NewHandlers(eval, fresh, rev, runner, worker, repos.Runs, repos.Audit, repos.Exclusions, logger)
	handlers.SetMetrics(set)
	server, err := httpapi.NewServer(httpapi.ServerConfig{
		Host:           cfg.HTTP.Host,
		Port:           cfg.HTTP.Port,
		ReadTimeout:    10 * time.Second,
		WriteTimeout:   30 * time.Second,
		IdleTimeout:    60 * time.Second,
		RequestTimeout: cfg.HTTP.RequestTimeout,
	}, handlers, set, logger)
	if err != nil {
		return err
	}

	errCh := make(chan error, 1)
	go func() {
		if err := server.Start(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

// rateSurface returns the evaluator's read surface, with the redis
// read-through layered on when enabled, plus the commit-side invalidator.
func rateSurface(cfg config.Config, rates persistence.RateReader, set *metrics.Set, logger zerolog.Logger) (persistence.RateReader, commit.Invalidator) {
	if !cfg.Redis.Enabled {
		return rates, nil
	}
	rdb := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr, DB: cfg.Redis.DB})
	rc := cache.NewRateCache(rates, rdb, cfg.Redis.TTL, logger)
	rc.SetMetrics(set)
	return rc, rc
}

// defaultWatchers is the production watcher set.
func defaultWatchers() []watcher.Watcher {
	client := &http.Client{Timeout: 30 * time.Second}
	return []watcher.Watcher{
		watcher.NewFederalRegister(client),
		watcher.NewCBPCSMS(client),
		watcher.NewUSITC(client),
	}
}

// newPipelineWorker builds the ingest worker shared by the worker command
// and the serve command's process-queue endpoint.
func newPipelineWorker(cfg config.Config, repos *db.Repositories, engine *commit.Engine, set *metrics.Set) *pipeline.Worker {
	limiter := ratelimit.NewLimiter(cfg.Evidence.FetchRatePerSec, cfg.Evidence.FetchBurst)
	fetcher := pipeline.NewFetcher(&http.Client{Timeout: 60 * time.Second}, limiter)
	if len(cfg.Evidence.Allowlists) > 0 {
		fetcher.SetAllowlists(cfg.Evidence.Allowlists)
	}
	worker := pipeline.NewWorker(pipeline.Config{
		WorkerID:     cfg.Worker.ID,
		PollInterval: cfg.Worker.PollInterval,
		StageTimeout: cfg.Worker.StageTimeout,
		MaxAttempts:  cfg.Worker.MaxAttempts,
		ReapInterval: cfg.Worker.ReapInterval,
		ReapBound:    cfg.Worker.ReapBound,
	}, repos.Queue, repos.Evidence, repos.Review, fetcher, engine, nil)
	worker.SetExclusionRepo(repos.Exclusions)
	worker.SetMetrics(set)
	return worker
}
