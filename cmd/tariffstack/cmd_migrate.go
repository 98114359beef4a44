package main

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/luv91/tariffstack/internal/infrastructure/db"
	"github.com/luv91/tariffstack/internal/persistence/postgres"
)

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply the database schema",
		Long:  "migrate creates all tables and indexes. Statements are idempotent; running it against an up-to-date database is a no-op.",
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

			if err := postgres.ApplySchema(context.Background(), manager.DB()); err != nil {
				return err
			}
			log.Info().Msg("schema applied")
			return nil
		},
	}
}
