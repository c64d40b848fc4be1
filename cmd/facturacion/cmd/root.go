package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"3tcapital/ms_facturacion_sunat/internal/infrastructure/config"
	ctxutil "3tcapital/ms_facturacion_sunat/internal/infrastructure/context"
	"3tcapital/ms_facturacion_sunat/internal/infrastructure/logger"
)

var (
	// Global flags
	storageDriver string
	logLevel      string
)

var rootCmd = &cobra.Command{
	Use:   "facturacion",
	Short: "Submit electronic documents to SUNAT",
	Long: `facturacion signs UBL 2.1 documents and drives them through SUNAT's
billService until a CDR settles their fate.

Examples:
  # Run the HTTP API and the background ticket sweep
  facturacion serve

  # Submit an invoice from a file
  facturacion submit F001-1.xml --ruc 20123456789 --type 01 --series F001 --number 1

  # Resolve an outstanding summary ticket
  facturacion poll 1700000000001`,
	SilenceUsage: true,
}

// Execute runs the root command with a context cancelled on SIGINT or SIGTERM.
// Audit entries written by a command carry the actor "cli".
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return rootCmd.ExecuteContext(ctxutil.WithActor(ctx, "cli"))
}

func init() {
	rootCmd.PersistentFlags().StringVar(&storageDriver, "storage", "", "Storage driver, postgres or memory (env: STORAGE_DRIVER)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level (env: LOG_LEVEL)")
}

// loadConfig reads the environment and applies the global flag overrides.
// Logs go to logOut so that command output on stdout stays parseable.
func loadConfig(logOut io.Writer) (config.AppConfig, *slog.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return config.AppConfig{}, nil, fmt.Errorf("load config: %w", err)
	}
	if storageDriver != "" {
		cfg.Storage.Driver = storageDriver
	}
	if logLevel != "" {
		cfg.Log.Level = logLevel
	}

	log := logger.NewWithWriter(logOut, cfg.App.Name, cfg.Log.Level, cfg.App.Environment)
	return cfg, log, nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
