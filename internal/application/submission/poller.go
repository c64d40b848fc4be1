package submission

import (
	"context"
	"errors"
	"fmt"
	"time"

	"3tcapital/ms_facturacion_sunat/internal/core/audit"
	"3tcapital/ms_facturacion_sunat/internal/core/authority"
	"3tcapital/ms_facturacion_sunat/internal/core/document"
	"3tcapital/ms_facturacion_sunat/internal/core/failure"
	"3tcapital/ms_facturacion_sunat/internal/infrastructure/metrics"
)

// PollConfig bounds the getStatus loop of a ticket.
type PollConfig struct {
	Interval    time.Duration
	MaxInterval time.Duration
	MaxAttempts int
	MaxElapsed  time.Duration
}

func (c PollConfig) withDefaults() PollConfig {
	if c.Interval <= 0 {
		c.Interval = 2 * time.Second
	}
	if c.MaxInterval < c.Interval {
		c.MaxInterval = c.Interval
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 10
	}
	if c.MaxElapsed <= 0 {
		c.MaxElapsed = 5 * time.Minute
	}
	return c
}

// PollOutcome reports how a poll ended. Package is set when a CDR arrived.
type PollOutcome struct {
	Package  []byte
	Attempts int
	Elapsed  time.Duration
}

// Poller queries the status of a ticket with exponential backoff.
// It holds no per-ticket state, so one Poller serves any number of tickets.
type Poller struct {
	gateway authority.Gateway
	cfg     PollConfig
	metrics *metrics.Metrics
}

// NewPoller creates a poller. Zero config values fall back to defaults.
func NewPoller(gateway authority.Gateway, cfg PollConfig, m *metrics.Metrics) *Poller {
	return &Poller{gateway: gateway, cfg: cfg.withDefaults(), metrics: m}
}

// Poll calls getStatus for a ticket issued to ruc until a CDR arrives, a
// non-retryable error occurs, or either polling ceiling is hit. onPending is
// called after every pending poll.
func (p *Poller) Poll(ctx context.Context, ruc, ticket string, hook authority.AttemptHook, onPending func(attempt int, err error)) (PollOutcome, error) {
	pollCtx, cancel := context.WithTimeout(ctx, p.cfg.MaxElapsed)
	defer cancel()

	start := time.Now()
	delay := p.cfg.Interval
	var outcome PollOutcome

	for attempt := 1; attempt <= p.cfg.MaxAttempts; attempt++ {
		outcome.Attempts = attempt
		status, err := p.gateway.GetStatus(pollCtx, ruc, ticket, hook)
		outcome.Elapsed = time.Since(start)

		switch {
		case err == nil && !status.Pending:
			p.metrics.ObservePoll("cdr")
			outcome.Package = status.Package
			return outcome, nil
		case ctx.Err() != nil:
			return outcome, context.Cause(ctx)
		case pollCtx.Err() != nil:
			return outcome, p.timeout(ticket, outcome)
		case err == nil:
			p.metrics.ObservePoll("pending")
		case failure.IsRetryable(err):
			p.metrics.ObservePoll("retry")
		default:
			p.metrics.ObservePoll("error")
			return outcome, err
		}

		if onPending != nil {
			onPending(attempt, err)
		}
		if attempt == p.cfg.MaxAttempts {
			break
		}

		timer := time.NewTimer(delay)
		select {
		case <-pollCtx.Done():
			timer.Stop()
			outcome.Elapsed = time.Since(start)
			if ctx.Err() != nil {
				return outcome, context.Cause(ctx)
			}
			return outcome, p.timeout(ticket, outcome)
		case <-timer.C:
		}

		delay *= 2
		if delay > p.cfg.MaxInterval {
			delay = p.cfg.MaxInterval
		}
	}

	return outcome, p.timeout(ticket, outcome)
}

func (p *Poller) timeout(ticket string, outcome PollOutcome) error {
	p.metrics.ObservePoll("timeout")
	return failure.TicketTimeout(ticket, outcome.Attempts, outcome.Elapsed)
}

// pollLocked resolves the outstanding ticket of doc. The caller holds the lock.
func (s *Service) pollLocked(ctx context.Context, doc *document.ElectronicDocument) (Result, error) {
	if doc.State == document.StateTicketIssued {
		if err := s.transition(ctx, doc, document.StatePolling); err != nil {
			return Result{Document: doc.Snapshot()}, err
		}
	}

	onPending := func(attempt int, err error) {
		detail := fmt.Sprintf("ticket=%s attempt=%d pending", doc.Ticket, attempt)
		s.recorder.entry(ctx, doc, audit.OpPoll, audit.ResultRetry, detail, err)
	}

	outcome, err := s.poller.Poll(ctx, doc.RUC, doc.Ticket, s.recorder.attemptHook(ctx, doc), onPending)
	if err != nil {
		return s.pollFailed(ctx, doc, outcome, err)
	}

	s.recorder.success(ctx, doc, audit.OpPoll, fmt.Sprintf("ticket=%s attempts=%d", doc.Ticket, outcome.Attempts))
	if err := s.receive(ctx, doc, outcome.Package); err != nil {
		return Result{Document: doc.Snapshot(), Attempts: outcome.Attempts}, err
	}
	res, err := s.applyPackage(ctx, doc, outcome.Package)
	res.Attempts = outcome.Attempts
	return res, err
}

func (s *Service) pollFailed(ctx context.Context, doc *document.ElectronicDocument, outcome PollOutcome, err error) (Result, error) {
	res := Result{Attempts: outcome.Attempts}

	if !errors.Is(err, failure.ErrTicketTimeout) {
		// Cancellation or a non-retryable status error leaves the ticket in POLLING.
		s.log.Warn("Ticket poll aborted",
			"correlation_id", doc.CorrelationID,
			"document_id", doc.ID,
			"ticket", doc.Ticket,
			"attempt", outcome.Attempts,
			"error", err,
		)
		s.recorder.entry(ctx, doc, audit.OpPoll, audit.ResultFailure, fmt.Sprintf("ticket=%s", doc.Ticket), err)
		res.Document = doc.Snapshot()
		return res, err
	}

	s.log.Error("Ticket expired",
		"correlation_id", doc.CorrelationID,
		"document_id", doc.ID,
		"ticket", doc.Ticket,
		"attempt", outcome.Attempts,
		"duration_ms", outcome.Elapsed.Milliseconds(),
	)
	s.recorder.entry(ctx, doc, audit.OpPoll, audit.ResultFailure, fmt.Sprintf("ticket=%s", doc.Ticket), err)

	doc.ReviewReason = err.Error()
	if terr := s.transition(ctx, doc, document.StateExpired); terr != nil {
		res.Document = doc.Snapshot()
		return res, errors.Join(err, terr)
	}
	s.metrics.ObserveTerminal(string(doc.State))
	res.Document = doc.Snapshot()
	return res, err
}
