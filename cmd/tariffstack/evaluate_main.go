package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/luv91/tariffstack/internal/domain"
	"github.com/luv91/tariffstack/internal/evaluator"
	"github.com/luv91/tariffstack/internal/infrastructure/db"
	"github.com/luv91/tariffstack/internal/persistence"
	"github.com/luv91/tariffstack/internal/seed"
)

func newEvaluateCmd() *cobra.Command {
	var (
		hts       string
		country   string
		value     float64
		date      string
		materials string
		offline   bool
	)

	cmd := &cobra.Command{
		Use:   "evaluate",
		Short: "Evaluate stacked duties for one entry line",
		Long: `evaluate prints the filing lines, duty breakdown, and decision
trail for one import. With --offline it runs against the built-in seed
snapshot instead of Postgres, which is handy for spot checks.

Example:
  tariffstack evaluate --hts 8544.42.90 --country CN --value 10000 \
    --materials '{"copper": {"value": 4000}}'`,
		RunE: func(cmd *cobra.Command, args []string) error {
			in := domain.EvaluationInput{
				HTSCode:      hts,
				Country:      country,
				ProductValue: value,
			}
			if date != "" {
				d, err := domain.ParseDate(date)
				if err != nil {
					return fmt.Errorf("bad --date: %w", err)
				}
				in.ImportDate = d
			}
			if materials != "" {
				if err := json.Unmarshal([]byte(materials), &in.Materials); err != nil {
					return fmt.Errorf("bad --materials: %w", err)
				}
			}
			return runEvaluate(in, offline)
		},
	}

	cmd.Flags().StringVar(&hts, "hts", "", "HTS code, 8 or 10 digits, dots optional")
	cmd.Flags().StringVar(&country, "country", "", "country of origin (ISO code or name)")
	cmd.Flags().Float64Var(&value, "value", 0, "entered value in USD")
	cmd.Flags().StringVar(&date, "date", "", "import date YYYY-MM-DD (default today)")
	cmd.Flags().StringVar(&materials, "materials", "", `material composition JSON, e.g. {"steel": {"percent": 0.6}}`)
	cmd.Flags().BoolVar(&offline, "offline", false, "use the built-in seed snapshot instead of Postgres")
	return cmd
}

func runEvaluate(in domain.EvaluationInput, offline bool) error {
	var store persistence.RateReader
	if offline {
		store = seed.NewStaticStore(seed.Load())
	} else {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		manager, err := db.NewManager(cfg.Database)
		if err != nil {
			return fmt.Errorf("database: %w", err)
		}
		defer manager.Close()
		store = manager.Repositories().Rates
	}

	result, err := evaluator.New(store).Evaluate(context.Background(), in)
	if err != nil {
		return err
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(result)
}
