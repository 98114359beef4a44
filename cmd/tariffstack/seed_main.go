package main

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/luv91/tariffstack/internal/infrastructure/db"
	"github.com/luv91/tariffstack/internal/persistence/postgres"
	"github.com/luv91/tariffstack/internal/seed"
)

func newSeedCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "seed",
		Short: "Load the static rate snapshot into Postgres",
		Long: `seed writes the built-in program snapshot (Section 301, IEEPA
Fentanyl and Reciprocal, Section 232 material programs, MFN bases,
Annex II exemptions) into an empty rate store. It is idempotent and
refuses to overwrite rows the pipeline has already committed.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			manager, err := db.NewManager(cfg.Database)
			if err != nil {
				return fmt.Errorf("database: %w", err)
			}
			defer manager.Close()

			ctx := context.Background()
			if err := postgres.ApplySchema(ctx, manager.DB()); err != nil {
				return err
			}
			if err := seed.Apply(ctx, manager.DB()); err != nil {
				return err
			}
			log.Info().Msg("seed applied")
			return nil
		},
	}
}
