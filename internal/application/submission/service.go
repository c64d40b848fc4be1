package submission

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"3tcapital/ms_facturacion_sunat/internal/core/archive"
	"3tcapital/ms_facturacion_sunat/internal/core/audit"
	"3tcapital/ms_facturacion_sunat/internal/core/authority"
	"3tcapital/ms_facturacion_sunat/internal/core/cdr"
	"3tcapital/ms_facturacion_sunat/internal/core/document"
	"3tcapital/ms_facturacion_sunat/internal/core/failure"
	"3tcapital/ms_facturacion_sunat/internal/core/lock"
	"3tcapital/ms_facturacion_sunat/internal/core/signing"
	ctxutil "3tcapital/ms_facturacion_sunat/internal/infrastructure/context"
	"3tcapital/ms_facturacion_sunat/internal/infrastructure/metrics"
)

// ErrDocumentBusy is returned when another worker holds the document lock.
var ErrDocumentBusy = errors.New("document is being processed by another worker")

// Config holds lifecycle settings.
type Config struct {
	Environment    authority.Environment
	LockTTL        time.Duration
	WorkerPoolSize int
	ArchivePrefix  string
	Poll           PollConfig
}

// Dependencies are the ports the lifecycle drives. Archive and Metrics are optional.
type Dependencies struct {
	Documents document.Repository
	Audit     audit.Repository
	Gateway   authority.Gateway
	Signer    signing.Signer
	Locker    lock.Locker
	Parser    *cdr.Parser
	Archive   archive.Store
	Metrics   *metrics.Metrics
}

// Service orchestrates the submission lifecycle of electronic documents.
type Service struct {
	docs     document.Repository
	gateway  authority.Gateway
	signer   signing.Signer
	locker   lock.Locker
	parser   *cdr.Parser
	archive  archive.Store
	metrics  *metrics.Metrics
	poller   *Poller
	recorder *recorder
	cfg      Config
	log      *slog.Logger
	now      func() time.Time
}

// NewService creates a submission service.
// WorkerPoolSize defaults to 10 and LockTTL to 5 minutes.
func NewService(deps Dependencies, cfg Config, log *slog.Logger) *Service {
	if cfg.WorkerPoolSize <= 0 {
		cfg.WorkerPoolSize = 10
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = 5 * time.Minute
	}
	if deps.Parser == nil {
		deps.Parser = cdr.NewParser(cdr.NewClassifier(nil))
	}

	now := func() time.Time { return time.Now().UTC() }
	return &Service{
		docs:     deps.Documents,
		gateway:  deps.Gateway,
		signer:   deps.Signer,
		locker:   deps.Locker,
		parser:   deps.Parser,
		archive:  deps.Archive,
		metrics:  deps.Metrics,
		poller:   NewPoller(deps.Gateway, cfg.Poll, deps.Metrics),
		recorder: &recorder{audit: deps.Audit, log: log},
		cfg:      cfg,
		log:      log,
		now:      now,
	}
}

// SubmitRequest identifies the document to drive. Either DocumentID is set,
// or the fiscal key together with the raw XML.
type SubmitRequest struct {
	DocumentID    uuid.UUID
	RUC           string
	Type          document.Type
	Series        string
	Number        string
	XML           string
	CorrelationID string
}

// Key returns the fiscal key of the request.
func (r SubmitRequest) Key() document.Key {
	return document.Key{
		RUC:    strings.TrimSpace(r.RUC),
		Type:   r.Type,
		Series: strings.TrimSpace(r.Series),
		Number: strings.TrimSpace(r.Number),
	}
}

// Validate checks the request fields.
func (r SubmitRequest) Validate() error {
	if r.DocumentID != uuid.Nil {
		return nil
	}
	if err := r.Key().Validate(); err != nil {
		return failure.Validation(err.Error())
	}
	if strings.TrimSpace(r.XML) == "" {
		return failure.Validation("xml is required")
	}
	return nil
}

// Result is the outcome of a lifecycle call.
type Result struct {
	Document document.Snapshot `json:"document"`
	Attempts int               `json:"attempts"`
}

// Submit drives a document as far as it can go. A document that already
// holds a ticket is polled instead of being sent again.
func (s *Service) Submit(ctx context.Context, req SubmitRequest) (Result, error) {
	if err := req.Validate(); err != nil {
		return Result{}, err
	}

	doc, err := s.resolve(ctx, req)
	if err != nil {
		return Result{}, err
	}

	ctx = withDocument(ctx, doc)
	lease, err := s.acquire(ctx, doc)
	if err != nil {
		return Result{Document: doc.Snapshot()}, err
	}
	defer s.release(ctx, lease, doc)
	ctx, stop := s.hold(ctx, lease, doc)
	defer stop()

	// Another worker may have moved the document before we got the lock.
	doc, err = s.docs.Get(ctx, doc.ID)
	if err != nil {
		return Result{}, fmt.Errorf("reload document: %w", err)
	}

	if doc.State.Terminal() {
		return Result{Document: doc.Snapshot()}, nil
	}
	if doc.State.TicketOutstanding() {
		return s.pollLocked(ctx, doc)
	}

	return s.advance(ctx, doc)
}

// PollPending queries SUNAT for the ticket until a CDR arrives or the
// polling ceiling is reached.
func (s *Service) PollPending(ctx context.Context, ticket string) (Result, error) {
	ticket = strings.TrimSpace(ticket)
	if ticket == "" {
		return Result{}, failure.Validation("ticket is required")
	}

	doc, err := s.docs.FindByTicket(ctx, ticket)
	if err != nil {
		return Result{}, err
	}

	ctx = withDocument(ctx, doc)
	lease, err := s.acquire(ctx, doc)
	if err != nil {
		return Result{Document: doc.Snapshot()}, err
	}
	defer s.release(ctx, lease, doc)
	ctx, stop := s.hold(ctx, lease, doc)
	defer stop()

	doc, err = s.docs.Get(ctx, doc.ID)
	if err != nil {
		return Result{}, fmt.Errorf("reload document: %w", err)
	}
	if doc.State.Terminal() {
		return Result{Document: doc.Snapshot()}, nil
	}
	if !doc.State.TicketOutstanding() {
		return Result{Document: doc.Snapshot()}, fmt.Errorf("%w: no ticket outstanding in %s", document.ErrInvalidTransition, doc.State)
	}

	return s.pollLocked(ctx, doc)
}

// GetDocumentState returns a read-only view of the document.
func (s *Service) GetDocumentState(ctx context.Context, id uuid.UUID) (document.Snapshot, error) {
	doc, err := s.docs.Get(ctx, id)
	if err != nil {
		return document.Snapshot{}, err
	}
	return doc.Snapshot(), nil
}

// AuditTrail returns the audit entries of a document in insertion order.
func (s *Service) AuditTrail(ctx context.Context, id uuid.UUID) ([]audit.Entry, error) {
	if _, err := s.docs.Get(ctx, id); err != nil {
		return nil, err
	}
	return s.recorder.audit.FindByDocument(ctx, id)
}

func (s *Service) resolve(ctx context.Context, req SubmitRequest) (*document.ElectronicDocument, error) {
	if req.DocumentID != uuid.Nil {
		return s.docs.Get(ctx, req.DocumentID)
	}

	key := req.Key()
	doc, err := s.docs.FindByKey(ctx, key)
	if err == nil {
		return doc, nil
	}
	if !errors.Is(err, document.ErrNotFound) {
		return nil, fmt.Errorf("find document: %w", err)
	}

	correlationID := strings.TrimSpace(req.CorrelationID)
	if correlationID == "" {
		correlationID = NewCorrelationID(s.now())
	}

	doc = document.New(key, req.XML, correlationID, s.now())
	if err := s.docs.Create(ctx, doc); err != nil {
		// Lost a race with a concurrent create for the same key.
		if errors.Is(err, document.ErrConflict) {
			return s.docs.FindByKey(ctx, key)
		}
		return nil, fmt.Errorf("create document: %w", err)
	}

	s.log.Info("Document created",
		"correlation_id", doc.CorrelationID,
		"document_id", doc.ID,
		"document", doc.BaseName(),
	)
	s.recorder.success(ctx, doc, audit.OpCreate, doc.BaseName())
	return doc, nil
}

func (s *Service) acquire(ctx context.Context, doc *document.ElectronicDocument) (lock.Lease, error) {
	lease, err := s.locker.Acquire(ctx, lockKey(doc.ID), s.cfg.LockTTL)
	if errors.Is(err, lock.ErrLocked) {
		s.metrics.IncrementLockContention()
		s.log.Warn("Document busy",
			"correlation_id", doc.CorrelationID,
			"document_id", doc.ID,
			"state", doc.State,
		)
		return nil, fmt.Errorf("%w: %s: %w", ErrDocumentBusy, doc.ID, err)
	}
	if err != nil {
		return nil, fmt.Errorf("acquire document lock: %w", err)
	}
	return lease, nil
}

// hold renews the lease every third of LockTTL until stop is called. When
// the lease is lost the returned context is cancelled, so no further
// transport call starts without the lock.
func (s *Service) hold(ctx context.Context, lease lock.Lease, doc *document.ElectronicDocument) (context.Context, func()) {
	ctx, cancel := context.WithCancelCause(ctx)
	interval := max(s.cfg.LockTTL/3, time.Millisecond)
	done := make(chan struct{})
	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
			}

			extendCtx, cancelExtend := context.WithTimeout(context.WithoutCancel(ctx), interval)
			err := lease.Extend(extendCtx, s.cfg.LockTTL)
			cancelExtend()
			if err == nil {
				continue
			}
			s.log.Warn("Failed to extend document lock",
				"correlation_id", doc.CorrelationID,
				"document_id", doc.ID,
				"error", err,
			)
			if errors.Is(err, lock.ErrLost) {
				cancel(fmt.Errorf("document lock %s: %w", doc.ID, err))
				return
			}
		}
	}()

	return ctx, func() {
		close(done)
		wg.Wait()
		cancel(nil)
	}
}

func (s *Service) release(ctx context.Context, lease lock.Lease, doc *document.ElectronicDocument) {
	if err := lease.Release(context.WithoutCancel(ctx)); err != nil {
		s.log.Warn("Failed to release document lock",
			"correlation_id", doc.CorrelationID,
			"document_id", doc.ID,
			"error", err,
		)
	}
}

func lockKey(id uuid.UUID) string {
	return "document:" + id.String()
}

func withDocument(ctx context.Context, doc *document.ElectronicDocument) context.Context {
	ctx = ctxutil.WithCorrelationID(ctx, doc.CorrelationID)
	return ctxutil.WithDocumentID(ctx, doc.ID.String())
}
