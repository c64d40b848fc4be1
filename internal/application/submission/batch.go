package submission

import (
	"context"
	"errors"
	"time"

	"3tcapital/ms_facturacion_sunat/internal/core/document"
)

// BatchResult pairs a lifecycle result with its error.
type BatchResult struct {
	Result
	Err error
}

// SubmitBatch submits every request through the worker pool. Results keep the
// order of reqs.
func (s *Service) SubmitBatch(ctx context.Context, reqs []SubmitRequest) ([]BatchResult, error) {
	pool := NewWorkerPool(ctx, s.cfg.WorkerPoolSize, func(ctx context.Context, req SubmitRequest) BatchResult {
		res, err := s.Submit(ctx, req)
		return BatchResult{Result: res, Err: err}
	})
	return pool.Process(reqs)
}

// PollAllPending polls up to limit documents holding an outstanding ticket,
// least recently updated first.
func (s *Service) PollAllPending(ctx context.Context, limit int) ([]BatchResult, error) {
	docs, err := s.docs.ListByState(ctx, []document.State{document.StateTicketIssued, document.StatePolling}, limit)
	if err != nil {
		return nil, err
	}

	tickets := make([]string, len(docs))
	for i, doc := range docs {
		tickets[i] = doc.Ticket
	}

	pool := NewWorkerPool(ctx, s.cfg.WorkerPoolSize, func(ctx context.Context, ticket string) BatchResult {
		res, err := s.PollPending(ctx, ticket)
		return BatchResult{Result: res, Err: err}
	})
	return pool.Process(tickets)
}

// Sweep polls outstanding tickets every interval until ctx is cancelled.
func (s *Service) Sweep(ctx context.Context, interval time.Duration, limit int) error {
	if interval <= 0 {
		return errors.New("sweep interval must be positive")
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}

		results, err := s.PollAllPending(ctx, limit)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			s.log.Error("Ticket sweep failed", "error", err)
			continue
		}

		var resolved, busy, failed int
		for _, r := range results {
			switch {
			case r.Err == nil:
				resolved++
			case errors.Is(r.Err, ErrDocumentBusy):
				busy++
			default:
				failed++
			}
		}
		if len(results) > 0 {
			s.log.Info("Ticket sweep completed",
				"tickets", len(results),
				"resolved", resolved,
				"busy", busy,
				"failed", failed,
			)
		}
	}
}
