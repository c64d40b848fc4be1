package health

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	corehealth "3tcapital/ms_facturacion_sunat/internal/core/health"
)

const defaultPingTimeout = 2 * time.Second

// Metadata contains immutable metadata about the running service.
type Metadata struct {
	Service     string
	Version     string
	Environment string
}

// Check pings one dependency. A failing critical check marks the service DOWN;
// a failing non-critical one marks it DEGRADED.
type Check struct {
	Name     string
	Critical bool
	Ping     func(ctx context.Context) error
}

// Service exposes health-check use cases to adapters.
type Service struct {
	meta        Metadata
	startedAt   time.Time
	checks      []Check
	pingTimeout time.Duration
}

func NewService(meta Metadata, checks ...Check) *Service {
	return &Service{
		meta:        meta,
		startedAt:   time.Now().UTC(),
		checks:      checks,
		pingTimeout: defaultPingTimeout,
	}
}

// Status pings every dependency concurrently and returns the availability snapshot.
func (s *Service) Status(ctx context.Context) corehealth.Status {
	deps := make([]corehealth.Dependency, len(s.checks))

	var g errgroup.Group
	for i, check := range s.checks {
		g.Go(func() error {
			deps[i] = s.ping(ctx, check)
			return nil
		})
	}
	_ = g.Wait()

	overall := corehealth.StatusUp
	for _, d := range deps {
		if d.Status == corehealth.StatusUp {
			continue
		}
		if d.Critical {
			overall = corehealth.StatusDown
			break
		}
		overall = corehealth.StatusDegraded
	}

	uptime := time.Since(s.startedAt)
	return corehealth.Status{
		Service:      s.meta.Service,
		Version:      s.meta.Version,
		Environment:  s.meta.Environment,
		Status:       overall,
		StartedAt:    s.startedAt,
		Uptime:       uptime.String(),
		UptimeSecs:   int64(uptime.Seconds()),
		Dependencies: deps,
	}
}

func (s *Service) ping(ctx context.Context, check Check) corehealth.Dependency {
	ctx, cancel := context.WithTimeout(ctx, s.pingTimeout)
	defer cancel()

	start := time.Now()
	err := check.Ping(ctx)
	dep := corehealth.Dependency{
		Name:      check.Name,
		Status:    corehealth.StatusUp,
		Critical:  check.Critical,
		LatencyMs: time.Since(start).Milliseconds(),
	}
	if err != nil {
		dep.Status = corehealth.StatusDown
		dep.Error = err.Error()
	}
	return dep
}
