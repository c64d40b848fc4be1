package cmd

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	archivemem "3tcapital/ms_facturacion_sunat/internal/adapters/archive/memory"
	archives3 "3tcapital/ms_facturacion_sunat/internal/adapters/archive/s3"
	auditmem "3tcapital/ms_facturacion_sunat/internal/adapters/audit/memory"
	auditpg "3tcapital/ms_facturacion_sunat/internal/adapters/audit/postgres"
	documentmem "3tcapital/ms_facturacion_sunat/internal/adapters/document/memory"
	documentpg "3tcapital/ms_facturacion_sunat/internal/adapters/document/postgres"
	lockmem "3tcapital/ms_facturacion_sunat/internal/adapters/lock/memory"
	lockredis "3tcapital/ms_facturacion_sunat/internal/adapters/lock/redis"
	"3tcapital/ms_facturacion_sunat/internal/adapters/signer/xmldsig"
	"3tcapital/ms_facturacion_sunat/internal/adapters/sunat"
	apphealth "3tcapital/ms_facturacion_sunat/internal/application/health"
	"3tcapital/ms_facturacion_sunat/internal/application/submission"
	"3tcapital/ms_facturacion_sunat/internal/core/archive"
	"3tcapital/ms_facturacion_sunat/internal/core/audit"
	"3tcapital/ms_facturacion_sunat/internal/core/authority"
	"3tcapital/ms_facturacion_sunat/internal/core/cdr"
	"3tcapital/ms_facturacion_sunat/internal/core/document"
	"3tcapital/ms_facturacion_sunat/internal/core/lock"
	"3tcapital/ms_facturacion_sunat/internal/core/signing"
	"3tcapital/ms_facturacion_sunat/internal/infrastructure/config"
	"3tcapital/ms_facturacion_sunat/internal/infrastructure/database"
	httpinfra "3tcapital/ms_facturacion_sunat/internal/infrastructure/http"
	"3tcapital/ms_facturacion_sunat/internal/infrastructure/metrics"
	infraredis "3tcapital/ms_facturacion_sunat/internal/infrastructure/redis"
)

// app holds every wired component of one process.
type app struct {
	cfg      config.AppConfig
	log      *slog.Logger
	registry *prometheus.Registry
	metrics  *metrics.Metrics
	pool     *pgxpool.Pool
	redis    *infraredis.Client
	docs     document.Repository
	audit    audit.Repository
	locker   lock.Locker
	archive  archive.Store
	certs    *xmldsig.CertificateStore
	gateway  *sunat.Client
	service  *submission.Service
	closers  []func()
}

// newApp connects storage, the lock backend and the archive, then assembles
// the submission service. Close releases everything newApp opened.
func newApp(ctx context.Context, cfg config.AppConfig, log *slog.Logger) (*app, error) {
	a := &app{cfg: cfg, log: log, registry: prometheus.NewRegistry()}
	a.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	a.metrics = metrics.New(a.registry)

	steps := []func(context.Context) error{
		a.openStorage,
		a.openLocker,
		a.openArchive,
	}
	for _, step := range steps {
		if err := step(ctx); err != nil {
			a.Close()
			return nil, err
		}
	}

	if err := a.buildService(); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

// Close releases connections in reverse order of opening.
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

func (a *app) openStorage(ctx context.Context) error {
	switch a.cfg.Storage.Driver {
	case "postgres":
		pool, err := database.NewPool(ctx, databaseConfig(a.cfg.App.Name, a.cfg.Database))
		if err != nil {
			return fmt.Errorf("connect database: %w", err)
		}
		a.pool = pool
		a.closers = append(a.closers, pool.Close)
		a.docs = documentpg.NewRepository(pool, a.log)
		a.audit = auditpg.NewRepositoryWithLogger(pool, a.log)
		a.log.Info("Database connection established",
			"host", a.cfg.Database.Host,
			"database", a.cfg.Database.Database,
		)
	case "memory":
		a.docs = documentmem.NewRepository()
		a.audit = auditmem.NewRepository()
		a.log.Warn("Using in-memory storage, documents are lost on exit")
	default:
		return fmt.Errorf("unknown storage driver %q", a.cfg.Storage.Driver)
	}
	return nil
}

func (a *app) openLocker(ctx context.Context) error {
	client, err := infraredis.New(ctx, infraredis.Config{
		URL:          a.cfg.Redis.URL,
		PoolSize:     a.cfg.Redis.PoolSize,
		DialTimeout:  a.cfg.Redis.DialTimeout,
		ReadTimeout:  a.cfg.Redis.ReadTimeout,
		WriteTimeout: a.cfg.Redis.WriteTimeout,
	})
	if err != nil {
		return fmt.Errorf("connect redis: %w", err)
	}

	if client == nil {
		a.locker = lockmem.NewLocker()
		if a.pool != nil {
			a.log.Warn("REDIS_URL not set, document locks only hold within this process")
		}
		return nil
	}

	a.redis = client
	a.closers = append(a.closers, func() { _ = client.Close() })
	a.locker = lockredis.NewLocker(client.Client, a.cfg.App.Name+":lock:")
	a.log.Info("Redis connection established")
	return nil
}

func (a *app) openArchive(ctx context.Context) error {
	if a.cfg.Archive.Bucket == "" {
		if a.pool == nil {
			a.archive = archivemem.NewStore()
		}
		return nil
	}

	store, err := archives3.NewStore(ctx, archives3.Config{
		Bucket:          a.cfg.Archive.Bucket,
		Region:          a.cfg.Archive.Region,
		Endpoint:        a.cfg.Archive.Endpoint,
		AccessKeyID:     a.cfg.Archive.AccessKeyID,
		SecretAccessKey: a.cfg.Archive.SecretAccessKey,
	})
	if err != nil {
		return fmt.Errorf("create archive store: %w", err)
	}
	a.archive = store
	a.log.Info("Archiving signed documents and CDRs", "bucket", a.cfg.Archive.Bucket, "prefix", a.cfg.Archive.Prefix)
	return nil
}

func (a *app) buildService() error {
	env := authority.Environment(a.cfg.Sunat.Environment)

	ranges, err := cdr.ParseRanges(a.cfg.Cdr.ObservationRanges)
	if err != nil {
		return fmt.Errorf("parse CDR observation ranges: %w", err)
	}

	a.certs = xmldsig.NewCertificateStore(certificateBundles(a.cfg.Certificates.Bundles), a.cfg.Certificates.CacheTTL, a.log)

	auditExchanges := a.cfg.Audit.Enabled && a.cfg.Audit.LogExchanges
	traced := httpinfra.NewTracedClient(&httpinfra.TracedClientConfig{
		Timeout:         a.cfg.Sunat.AttemptTimeout,
		AuditEnabled:    auditExchanges,
		LogRequestBody:  a.cfg.Audit.LogRequestBody,
		LogResponseBody: a.cfg.Audit.LogResponseBody,
		MaxBodySize:     a.cfg.Audit.MaxBodySize,
		MaxConnsPerHost: a.cfg.Sunat.MaxConcurrent,
	}, a.log, a.audit, "sunat")

	a.gateway = sunat.NewClient(sunat.Config{
		Environment:     env,
		Endpoint:        a.cfg.Sunat.Endpoint,
		RUC:             a.cfg.Sunat.RUC,
		SubUser:         a.cfg.Sunat.SubUser,
		Password:        a.cfg.Sunat.Password,
		AttemptTimeout:  a.cfg.Sunat.AttemptTimeout,
		MaxAttempts:     a.cfg.Sunat.MaxAttempts,
		BaseDelay:       a.cfg.Sunat.BaseDelay,
		MaxDelay:        a.cfg.Sunat.MaxDelay,
		MaxConcurrent:   a.cfg.Sunat.MaxConcurrent,
		RateLimitRPS:    a.cfg.Sunat.RateLimitRPS,
		BreakerFailures: a.cfg.Sunat.BreakerFailures,
		BreakerCooldown: a.cfg.Sunat.BreakerCooldown,
	}, traced, a.metrics, a.log)
	a.closers = append(a.closers, a.gateway.Close)

	a.log.Info("SUNAT billService configured",
		"environment", env,
		"endpoint", a.gateway.Endpoint(),
		"ruc", a.cfg.Sunat.RUC,
		"certificates", len(a.cfg.Certificates.Bundles),
		"audit_exchanges", auditExchanges,
	)

	a.service = submission.NewService(submission.Dependencies{
		Documents: a.docs,
		Audit:     a.audit,
		Gateway:   a.gateway,
		Signer:    xmldsig.NewSigner(a.certs, a.log),
		Locker:    a.locker,
		Parser:    cdr.NewParser(cdr.NewClassifier(ranges)),
		Archive:   a.archive,
		Metrics:   a.metrics,
	}, submission.Config{
		Environment:    env,
		LockTTL:        a.cfg.Workers.LockTTL,
		WorkerPoolSize: a.cfg.Workers.PoolSize,
		ArchivePrefix:  a.cfg.Archive.Prefix,
		Poll: submission.PollConfig{
			Interval:    a.cfg.Polling.Interval,
			MaxInterval: a.cfg.Polling.MaxInterval,
			MaxAttempts: a.cfg.Polling.MaxAttempts,
			MaxElapsed:  a.cfg.Polling.MaxElapsed,
		},
	}, a.log)
	return nil
}

// healthChecks lists the checks reported by /health. Only the database is critical:
// without it no document can be read or written.
func (a *app) healthChecks() []apphealth.Check {
	var checks []apphealth.Check
	if a.pool != nil {
		checks = append(checks, apphealth.Check{Name: "postgres", Critical: true, Ping: a.pool.Ping})
	}
	if a.redis != nil {
		checks = append(checks, apphealth.Check{Name: "redis", Ping: a.redis.Health})
	}
	checks = append(checks, apphealth.Check{
		Name: "sunat",
		Ping: func(ctx context.Context) error {
			if err := a.gateway.Ready(); err != nil {
				return err
			}
			return a.gateway.Ping(ctx)
		},
	})
	return checks
}

func certificateBundles(bundles []config.CertificateBundle) map[signing.CertificateHandle]xmldsig.Bundle {
	out := make(map[signing.CertificateHandle]xmldsig.Bundle, len(bundles))
	for _, b := range bundles {
		handle := signing.CertificateHandle{RUC: b.RUC, Environment: authority.Environment(b.Environment)}
		out[handle] = xmldsig.Bundle{Path: b.Path, Password: b.Password}
	}
	return out
}

func databaseConfig(appName string, d config.DatabaseSettings) database.Config {
	return database.Config{
		Host:            d.Host,
		Port:            d.Port,
		Database:        d.Database,
		User:            d.User,
		Password:        d.Password,
		SSLMode:         d.SSLMode,
		MaxOpenConns:    d.MaxOpenConns,
		MaxIdleConns:    d.MaxIdleConns,
		ConnMaxLifetime: d.ConnMaxLifetime,
		ApplicationName: appName,
	}
}
