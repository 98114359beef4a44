package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/luv91/tariffstack/internal/config"
	"github.com/luv91/tariffstack/internal/domain"
	"github.com/luv91/tariffstack/internal/infrastructure/db"
	"github.com/luv91/tariffstack/internal/watcher"
)

func newWatchCmd() *cobra.Command {
	var (
		once  string
		since string
	)

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Run the watcher scheduler, or one poll with --once",
		Long: `watch polls Federal Register, CBP CSMS, and USITC on their
configured cadences and enqueues ingest jobs for anything new. With
--once=<source> it runs a single poll and exits.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if once != "" {
				return runWatchOnce(cfg, once, since)
			}
			return runWatchScheduler(cfg)
		},
	}

	cmd.Flags().StringVar(&once, "once", "", "poll a single source (federal_register|cbp_csms|usitc) and exit")
	cmd.Flags().StringVar(&since, "since", "", "lower publication-date bound for --once (YYYY-MM-DD)")
	return cmd
}

func buildRunner(cfg config.Config, manager *db.Manager) *watcher.Runner {
	repos := manager.Repositories()
	manifest := watcher.NewManifestWriter(cfg.Watch.ArtifactsDir, repos.Runs)
	return watcher.NewRunner(repos.Runs, repos.Queue, manifest, log.Logger, defaultWatchers()...)
}

func runWatchOnce(cfg config.Config, source, since string) error {
	manager, err := db.NewManager(cfg.Database)
	if err != nil {
		return fmt.Errorf("database: %w", err)
	}
	defer manager.Close()

	from := domain.Today().AddDays(-3)
	if since != "" {
		if from, err = domain.ParseDate(since); err != nil {
			return fmt.Errorf("bad --since: %w", err)
		}
	}

	runner := buildRunner(cfg, manager)
	run, err := runner.RunOnce(context.Background(), source, from)
	if err != nil {
		return err
	}
	log.Info().
		Str("run_id", run.ID).
		Str("source", run.Source).
		Int("docs_found", run.DocsFound).
		Int("jobs_created", run.JobsCreated).
		Msg("poll finished")
	return nil
}

func runWatchScheduler(cfg config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	manager, err := db.NewManager(cfg.Database)
	if err != nil {
		return fmt.Errorf("database: %w", err)
	}
	defer manager.Close()

	scheduleCfg := watcher.DefaultScheduleConfig()
	if cfg.Watch.SchedulePath != "" {
		if scheduleCfg, err = watcher.LoadScheduleConfig(cfg.Watch.SchedulePath); err != nil {
			return err
		}
	}
	if cfg.Watch.ArtifactsDir != "" {
		scheduleCfg.Global.ArtifactsDir = cfg.Watch.ArtifactsDir
	}

	scheduler := watcher.NewScheduler(scheduleCfg, buildRunner(cfg, manager), log.Logger)
	return scheduler.Start(ctx)
}
