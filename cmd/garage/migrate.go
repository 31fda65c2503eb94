package main

import (
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"bbsm-garage/config"
	"bbsm-garage/internal/database"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create or update the database schema",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := config.LoadConfig()

		db, err := database.NewConnection(cfg.DB)
		if err != nil {
			return fmt.Errorf("failed to connect to db: %w", err)
		}

		if err := database.MigrateGarageDB(db); err != nil {
			return fmt.Errorf("failed to migrate garage database: %w", err)
		}

		log.Info().Str("driver", cfg.DB.Driver).Msg("migration complete")
		return nil
	},
}
