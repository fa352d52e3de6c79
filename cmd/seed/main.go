package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"

	"agent-orchestrator/backend/internal/config"
	"agent-orchestrator/backend/internal/definitions"
	"agent-orchestrator/backend/internal/events"
	"agent-orchestrator/backend/internal/logging"
	"agent-orchestrator/backend/internal/repository"
	"agent-orchestrator/backend/internal/services"
	"agent-orchestrator/backend/pkg/models"
)

var (
	cfgFile string
	dir     string
)

var rootCmd = &cobra.Command{
	Use:          "seed",
	Short:        "Load YAML workflow definitions into the database",
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return run(cmd.Context())
	},
}

func init() {
	rootCmd.Flags().StringVar(&cfgFile, "config", "", "config file (default is config.yaml in . or ./config)")
	rootCmd.Flags().StringVar(&dir, "dir", definitions.DefaultDir, "directory of workflow definition files")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	cfg, err := config.LoadConfig(cfgFile)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	logger, err := logging.NewLogger(logging.Options{Level: cfg.Log.Level, Format: cfg.Log.Format})
	if err != nil {
		return err
	}
	defer logger.Sync()

	workflows, err := definitions.LoadDir(dir)
	if err != nil {
		return err
	}

	pool, err := pgxpool.New(ctx, cfg.DSN())
	if err != nil {
		return fmt.Errorf("failed to connect to DB: %w", err)
	}
	defer pool.Close()

	if err := repository.Migrate(ctx, pool); err != nil {
		return err
	}

	var publisher events.Publisher = events.NewLogPublisher(logger)
	if cfg.Events.NotifyChannel != "" {
		publisher = events.Multi{publisher, events.NewPostgresPublisher(pool, cfg.Events.NotifyChannel, logger)}
	}
	service := services.NewWorkflowService(repository.NewPostgresWorkflowStore(pool), publisher, logger)

	for _, wf := range workflows {
		if err := upsert(ctx, service, wf, logger); err != nil {
			return fmt.Errorf("workflow %q: %w", wf.Name, err)
		}
	}
	logger.Info("Seeding complete", "workflows", len(workflows), "dir", dir)
	return nil
}

// upsert creates wf, or stores it as a new version of the workflow that
// already carries its name.
func upsert(ctx context.Context, service *services.WorkflowService, wf *models.Workflow, logger *logging.Logger) error {
	existing, err := service.GetByName(ctx, wf.Name)
	switch {
	case errors.Is(err, models.ErrNotFound):
		created, err := service.Create(ctx, wf)
		if err != nil {
			return err
		}
		logger.Info("Created workflow", "name", created.Name, "id", created.ID)
		return nil
	case err != nil:
		return err
	}

	updated, err := service.Update(ctx, existing.ID, wf)
	if err != nil {
		return err
	}
	logger.Info("Updated workflow", "name", updated.Name, "id", updated.ID, "version", updated.Version)
	return nil
}
