// Command tariffstack is the operator entry point: the admin server, the
// ingest worker, the watcher scheduler, the seed loader, and a one-shot
// evaluator for spot checks.
package main

import (
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/luv91/tariffstack/internal/config"
)

const (
	appName = "tariffstack"
	version = "v1.2.0"
)

var (
	configPath string
	verbose    bool
)

func main() {
	zerolog.TimeFieldFormat = time.RFC3339

	rootCmd := &cobra.Command{
		Use:     appName,
		Short:   "U.S. tariff stacking evaluator and regulatory-data pipeline",
		Version: version,
		Long: `tariffstack computes stacked U.S. import duties (Section 301, IEEPA,
Section 232) per entry line, and keeps its rate store current by watching
Federal Register, CBP CSMS, and USITC publications.`,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			setupLogging()
		},
	}

	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to config YAML (defaults apply when omitted)")
	rootCmd.PersistentFlags().BoolVar(&verbose, "verbose", false, "debug-level logging")

	rootCmd.AddCommand(newServeCmd())
	rootCmd.AddCommand(newWorkerCmd())
	rootCmd.AddCommand(newWatchCmd())
	rootCmd.AddCommand(newEvaluateCmd())
	rootCmd.AddCommand(newSeedCmd())
	rootCmd.AddCommand(newMigrateCmd())

	if err := rootCmd.Execute(); err != nil {
		log.Error().Err(err).Msg("command failed")
		os.Exit(1)
	}
}

// setupLogging picks console output on a TTY and JSON otherwise, so logs
// stay parseable when the process runs under a supervisor.
func setupLogging() {
	level := zerolog.InfoLevel
	if verbose {
		level = zerolog.DebugLevel
	}
	zerolog.SetGlobalLevel(level)

	if term.IsTerminal(int(os.Stderr.Fd())) {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})
	}
}

func loadConfig() (config.Config, error) {
	return config.Load(configPath)
}
