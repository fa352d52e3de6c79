package main

import (
	"github.com/spf13/cobra"

	"agent-orchestrator/backend/internal/repository"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create or update the database schema",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, logger, err := loadRuntime()
		if err != nil {
			return err
		}
		defer logger.Sync()

		ctx := cmd.Context()
		db, err := initDatabase(ctx, cfg, logger)
		if err != nil {
			return err
		}
		defer db.Close()

		if err := repository.Migrate(ctx, db); err != nil {
			return err
		}
		logger.Info("Schema migrated", "database", cfg.DB.Name)
		return nil
	},
}
