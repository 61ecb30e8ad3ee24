package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/wallvault/wallvault/internal/logger"
	"github.com/wallvault/wallvault/pkg/config"
	"github.com/wallvault/wallvault/pkg/store/wallpaper/postgres"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Run database migrations",
	Long: `Apply pending schema migrations to the configured PostgreSQL database.

The serve command runs migrations automatically when database.auto_migrate is
enabled; this command exists for deployments that migrate as a separate step.

Examples:
  # Run migrations with default config
  wallvault migrate

  # Run migrations with custom config
  wallvault migrate --config /etc/wallvault/config.yaml`,
	RunE: runMigrate,
}

func runMigrate(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(GetConfigFile())
	if err != nil {
		return err
	}

	if err := InitLogger(cfg); err != nil {
		return err
	}

	logger.Info("Running database migrations")

	if err := postgres.RunMigrations(context.Background(), &cfg.Database); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	fmt.Println("Migrations completed successfully")
	return nil
}
