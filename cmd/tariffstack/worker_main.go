package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/luv91/tariffstack/internal/commit"
	"github.com/luv91/tariffstack/internal/config"
	"github.com/luv91/tariffstack/internal/infrastructure/db"
	"github.com/luv91/tariffstack/internal/metrics"
)

func newWorkerCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "worker",
		Short: "Run the ingest pipeline worker loop",
		Long: `worker claims queued ingest jobs and drives each through
fetch, render, chunk, extract, validate, and commit. A reaper sweeps
jobs abandoned mid-stage back onto the queue.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			return runWorker(cfg)
		},
	}
}

func runWorker(cfg config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	manager, err := db.NewManager(cfg.Database)
	if err != nil {
		return fmt.Errorf("database: %w", err)
	}
	defer manager.Close()
	repos := manager.Repositories()

	engine := commit.NewEngine(manager.DB())
	worker := newPipelineWorker(cfg, repos, engine, metrics.NewSet())

	log.Info().Str("worker_id", cfg.Worker.ID).Msg("worker starting")

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return worker.Run(gctx) })
	g.Go(func() error { return worker.RunReaper(gctx) })

	if err := g.Wait(); err != nil && err != context.Canceled {
		return err
	}
	return nil
}
