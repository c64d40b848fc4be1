package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"3tcapital/ms_facturacion_sunat/internal/infrastructure/database"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply the database migrations",
	Long: `Create or update the electronic_document and operation_log tables.
Applied migrations are recorded in schema_migrations and skipped on later runs.`,
	Args: cobra.NoArgs,
	RunE: runMigrate,
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}

func runMigrate(cmd *cobra.Command, args []string) error {
	cfg, log, err := loadConfig(os.Stderr)
	if err != nil {
		return err
	}

	pool, err := database.NewPool(cmd.Context(), databaseConfig(cfg.App.Name, cfg.Database))
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer pool.Close()

	if err := database.RunMigrations(cmd.Context(), pool, log); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	log.Info("Database is up to date", "migrations", len(database.Migrations()))
	return nil
}
