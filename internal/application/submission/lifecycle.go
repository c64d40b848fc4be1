package submission

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"

	"3tcapital/ms_facturacion_sunat/internal/core/audit"
	"3tcapital/ms_facturacion_sunat/internal/core/authority"
	"3tcapital/ms_facturacion_sunat/internal/core/document"
	"3tcapital/ms_facturacion_sunat/internal/core/failure"
	"3tcapital/ms_facturacion_sunat/internal/core/signing"
	"3tcapital/ms_facturacion_sunat/internal/core/ubl"
)

// advance resumes the document from its current state until it reaches a
// terminal state, issues a ticket, or parks on a failure.
func (s *Service) advance(ctx context.Context, doc *document.ElectronicDocument) (Result, error) {
	for {
		var err error
		switch doc.State {
		case document.StateDraft:
			err = s.sanitize(ctx, doc)
		case document.StateSanitized:
			err = s.validate(ctx, doc)
		case document.StateValidated:
			err = s.sign(ctx, doc)
		case document.StateSigned, document.StateSubmitted:
			return s.submit(ctx, doc)
		case document.StateCdrReceived:
			return s.reparse(ctx, doc)
		case document.StateTicketIssued, document.StatePolling:
			return s.pollLocked(ctx, doc)
		default:
			return Result{Document: doc.Snapshot()}, nil
		}
		if err != nil {
			return Result{Document: doc.Snapshot()}, err
		}
	}
}

func (s *Service) sanitize(ctx context.Context, doc *document.ElectronicDocument) error {
	clean, err := ubl.SanitizeDocument(doc.RawXML)
	if err != nil {
		s.recorder.failure(ctx, doc, audit.OpSanitize, err)
		return err
	}
	doc.SanitizedXML = clean
	s.recorder.success(ctx, doc, audit.OpSanitize, "")
	return s.transition(ctx, doc, document.StateSanitized)
}

func (s *Service) validate(ctx context.Context, doc *document.ElectronicDocument) error {
	if ok, reason := ubl.Validate(doc.Payload(), doc.RUC); !ok {
		err := failure.Validation(reason)
		s.recorder.failure(ctx, doc, audit.OpValidate, err)
		return err
	}
	s.recorder.success(ctx, doc, audit.OpValidate, "")
	return s.transition(ctx, doc, document.StateValidated)
}

func (s *Service) sign(ctx context.Context, doc *document.ElectronicDocument) error {
	if doc.SignedXML == "" {
		handle := signing.CertificateHandle{RUC: doc.RUC, Environment: s.cfg.Environment}
		signed, err := s.signer.Sign(doc.Payload(), handle)
		if err != nil {
			if failure.KindOf(err) == "" {
				err = failure.Signing("sign document", err)
			}
			s.log.Error("Document signing failed",
				"correlation_id", doc.CorrelationID,
				"document_id", doc.ID,
				"certificate", handle.String(),
				"error", err,
			)
			s.recorder.failure(ctx, doc, audit.OpSign, err)
			return err
		}
		if err := doc.SetSignedXML(signed); err != nil {
			return err
		}
	}

	s.recorder.success(ctx, doc, audit.OpSign, "")
	if err := s.transition(ctx, doc, document.StateSigned); err != nil {
		return err
	}
	s.store(ctx, doc, doc.BaseName()+".xml", []byte(doc.SignedXML), "application/xml")
	return nil
}

func (s *Service) submit(ctx context.Context, doc *document.ElectronicDocument) (Result, error) {
	if err := s.gateway.Ready(); err != nil {
		ferr := failure.Transport(audit.OpSubmit, err)
		s.log.Warn("SUNAT gateway unavailable, document parked",
			"correlation_id", doc.CorrelationID,
			"document_id", doc.ID,
			"state", doc.State,
		)
		s.recorder.failure(ctx, doc, audit.OpSubmit, ferr)
		s.metrics.ObserveSubmission(kindLabel(doc), "parked")
		return Result{Document: doc.Snapshot()}, ferr
	}

	if doc.State == document.StateSigned {
		if err := s.transition(ctx, doc, document.StateSubmitted); err != nil {
			return Result{Document: doc.Snapshot()}, err
		}
	}

	req := authority.Request{RUC: doc.RUC, FileName: doc.BaseName(), Content: []byte(doc.SignedXML)}
	hook := s.recorder.attemptHook(ctx, doc)

	if doc.Type.Async() {
		ticket, err := s.gateway.SendPack(ctx, req, hook)
		if err != nil {
			return s.submissionFailed(ctx, doc, err)
		}
		if err := doc.IssueTicket(ticket, s.now()); err != nil {
			return Result{Document: doc.Snapshot()}, err
		}
		if err := s.commit(ctx, doc, document.StateSubmitted); err != nil {
			return Result{Document: doc.Snapshot()}, err
		}
		s.log.Info("Ticket issued",
			"correlation_id", doc.CorrelationID,
			"document_id", doc.ID,
			"ticket", ticket,
		)
		s.recorder.success(ctx, doc, audit.OpSubmit, "ticket="+ticket)
		s.metrics.ObserveSubmission(kindLabel(doc), "ticket")
		return Result{Document: doc.Snapshot()}, nil
	}

	pkg, err := s.gateway.SendBill(ctx, req, hook)
	if err != nil {
		return s.submissionFailed(ctx, doc, err)
	}
	s.recorder.success(ctx, doc, audit.OpSubmit, fmt.Sprintf("cdr_bytes=%d", len(pkg)))
	s.metrics.ObserveSubmission(kindLabel(doc), "cdr")

	if err := s.receive(ctx, doc, pkg); err != nil {
		return Result{Document: doc.Snapshot()}, err
	}
	return s.applyPackage(ctx, doc, pkg)
}

// submissionFailed moves the document to SUBMISSION_FAILED. A cancelled
// caller leaves it in SUBMITTED so a later call can resume.
func (s *Service) submissionFailed(ctx context.Context, doc *document.ElectronicDocument, err error) (Result, error) {
	attempts := failure.AttemptsOf(err)
	detail := fmt.Sprintf("attempts=%d", attempts)

	if ctx.Err() != nil {
		s.log.Warn("Submission cancelled, document parked",
			"correlation_id", doc.CorrelationID,
			"document_id", doc.ID,
			"attempt", attempts,
			"error", err,
		)
		s.recorder.entry(ctx, doc, audit.OpSubmit, audit.ResultFailure, detail+" cancelled", err)
		s.metrics.ObserveSubmission(kindLabel(doc), "cancelled")
		return Result{Document: doc.Snapshot(), Attempts: attempts}, err
	}

	s.log.Error("Submission failed",
		"correlation_id", doc.CorrelationID,
		"document_id", doc.ID,
		"attempt", attempts,
		"error", err,
	)
	s.recorder.entry(ctx, doc, audit.OpSubmit, audit.ResultFailure, detail, err)
	s.metrics.ObserveSubmission(kindLabel(doc), "failed")

	doc.ReviewReason = err.Error()
	if terr := s.transition(ctx, doc, document.StateSubmissionFailed); terr != nil {
		return Result{Document: doc.Snapshot(), Attempts: attempts}, errors.Join(err, terr)
	}
	s.metrics.ObserveTerminal(string(doc.State))
	return Result{Document: doc.Snapshot(), Attempts: attempts}, err
}

// receive stores the raw package and moves the document to CDR_RECEIVED.
func (s *Service) receive(ctx context.Context, doc *document.ElectronicDocument, pkg []byte) error {
	doc.LastAuthorityResponse = base64.StdEncoding.EncodeToString(pkg)
	if err := s.transition(ctx, doc, document.StateCdrReceived); err != nil {
		return err
	}
	s.store(ctx, doc, "R-"+doc.BaseName()+".zip", pkg, "application/zip")
	return nil
}

// applyPackage parses the CDR and records the terminal state in one update.
// A parse failure keeps the document in CDR_RECEIVED for review.
func (s *Service) applyPackage(ctx context.Context, doc *document.ElectronicDocument, pkg []byte) (Result, error) {
	c, err := s.parser.Parse(pkg, doc.BaseName())
	if err != nil {
		s.log.Error("CDR could not be parsed",
			"correlation_id", doc.CorrelationID,
			"document_id", doc.ID,
			"error", err,
		)
		doc.ReviewReason = err.Error()
		if cerr := s.commit(ctx, doc, doc.State); cerr != nil {
			return Result{Document: doc.Snapshot()}, errors.Join(err, cerr)
		}
		s.recorder.failure(ctx, doc, audit.OpCdrParse, err)
		return Result{Document: doc.Snapshot()}, err
	}

	from := doc.State
	if err := doc.ApplyCdr(c, s.now()); err != nil {
		return Result{Document: doc.Snapshot()}, err
	}
	if err := s.commit(ctx, doc, from); err != nil {
		return Result{Document: doc.Snapshot()}, err
	}

	s.recorder.success(ctx, doc, audit.OpCdrParse, fmt.Sprintf("code=%s status=%s observations=%d", c.ResponseCode, c.Status, len(c.Observations)))
	s.metrics.ObserveTerminal(string(doc.State))
	s.log.Info("CDR applied",
		"correlation_id", doc.CorrelationID,
		"document_id", doc.ID,
		"state", doc.State,
		"response_code", c.ResponseCode,
	)
	return Result{Document: doc.Snapshot()}, nil
}

// reparse retries a CDR package kept from an earlier failed parse.
func (s *Service) reparse(ctx context.Context, doc *document.ElectronicDocument) (Result, error) {
	pkg, err := base64.StdEncoding.DecodeString(doc.LastAuthorityResponse)
	if err != nil || len(pkg) == 0 {
		ferr := failure.CdrParse("stored CDR package is unreadable", err)
		s.recorder.failure(ctx, doc, audit.OpCdrParse, ferr)
		return Result{Document: doc.Snapshot()}, ferr
	}
	return s.applyPackage(ctx, doc, pkg)
}

func (s *Service) transition(ctx context.Context, doc *document.ElectronicDocument, next document.State) error {
	from := doc.State
	if err := doc.Transition(next, s.now()); err != nil {
		return err
	}
	return s.commit(ctx, doc, from)
}

// commit persists doc and audits the state change, if any. Writes are
// detached from caller cancellation so a reached state is never lost.
func (s *Service) commit(ctx context.Context, doc *document.ElectronicDocument, from document.State) error {
	doc.UpdatedAt = s.now()
	if err := s.docs.Update(context.WithoutCancel(ctx), doc); err != nil {
		s.log.Error("Failed to save document",
			"correlation_id", doc.CorrelationID,
			"document_id", doc.ID,
			"state", doc.State,
			"error", err,
		)
		return fmt.Errorf("save document: %w", err)
	}
	if from != doc.State {
		s.recorder.transition(ctx, doc, from, doc.State)
	}
	return nil
}

func kindLabel(doc *document.ElectronicDocument) string {
	if doc.Type.Async() {
		return "async"
	}
	return "sync"
}
