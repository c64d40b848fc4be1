package cmd

import (
	"fmt"
	"net/http"
	"os"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	documenthttp "3tcapital/ms_facturacion_sunat/internal/adapters/http/document"
	healthhttp "3tcapital/ms_facturacion_sunat/internal/adapters/http/health"
	apphealth "3tcapital/ms_facturacion_sunat/internal/application/health"
	ctxutil "3tcapital/ms_facturacion_sunat/internal/infrastructure/context"
	"3tcapital/ms_facturacion_sunat/internal/infrastructure/database"
	"3tcapital/ms_facturacion_sunat/internal/infrastructure/http/middleware"
	"3tcapital/ms_facturacion_sunat/internal/infrastructure/http/server"
)

var serveMigrate bool

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API and the ticket sweep",
	Long: `Start the HTTP API server.

Endpoints:
  - POST /v1/documents                 - Submit a document
  - POST /v1/documents/{id}/submit     - Resume a stored document
  - GET  /v1/documents/{id}            - Document state
  - GET  /v1/documents/{id}/audit      - Audit trail
  - POST /v1/tickets/{ticket}/poll     - Resolve an outstanding ticket
  - GET  /health                       - Health check
  - GET  /metrics                      - Prometheus metrics

Outstanding tickets are polled in the background every POLL_SWEEP_INTERVAL.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().BoolVar(&serveMigrate, "migrate", false, "Apply database migrations before serving")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, log, err := loadConfig(os.Stdout)
	if err != nil {
		return err
	}
	ctx := cmd.Context()

	a, err := newApp(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer a.Close()

	if serveMigrate && a.pool != nil {
		if err := database.RunMigrations(ctx, a.pool, log); err != nil {
			return fmt.Errorf("run migrations: %w", err)
		}
	}

	auth, err := middleware.NewJWTAuthenticator(cfg.Auth, log)
	if err != nil {
		return fmt.Errorf("create authenticator: %w", err)
	}

	health := apphealth.NewService(apphealth.Metadata{
		Service:     cfg.App.Name,
		Version:     cfg.App.Version,
		Environment: cfg.App.Environment,
	}, a.healthChecks()...)
	documents := documenthttp.NewHandler(a.service, log)

	srv, err := server.New(server.Options{
		Config:         cfg,
		Logger:         log,
		Authenticator:  auth,
		HealthHandler:  http.HandlerFunc(healthhttp.NewHandler(health).Status),
		MetricsHandler: promhttp.HandlerFor(a.registry, promhttp.HandlerOpts{}),
		APIRoutes:      documents.Routes,
	})
	if err != nil {
		auth.Close()
		return fmt.Errorf("create server: %w", err)
	}
	defer srv.Close()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("Starting HTTP server", "port", cfg.HTTP.Port, "environment", cfg.Sunat.Environment)
		return srv.Run(ctx)
	})
	if cfg.Polling.SweepInterval > 0 {
		g.Go(func() error {
			log.Info("Starting ticket sweep", "interval", cfg.Polling.SweepInterval, "limit", cfg.Polling.SweepLimit)
			return a.service.Sweep(ctxutil.WithActor(ctx, "sweep"), cfg.Polling.SweepInterval, cfg.Polling.SweepLimit)
		})
	}
	return g.Wait()
}
