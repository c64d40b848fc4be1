package testutil

import (
	"context"

	"github.com/google/uuid"

	"3tcapital/ms_facturacion_sunat/internal/application/submission"
	"3tcapital/ms_facturacion_sunat/internal/core/audit"
	"3tcapital/ms_facturacion_sunat/internal/core/document"
)

// MockSubmissionService is a mock of the submission entry points used by the HTTP layer.
type MockSubmissionService struct {
	SubmitFunc           func(ctx context.Context, req submission.SubmitRequest) (submission.Result, error)
	PollPendingFunc      func(ctx context.Context, ticket string) (submission.Result, error)
	GetDocumentStateFunc func(ctx context.Context, id uuid.UUID) (document.Snapshot, error)
	AuditTrailFunc       func(ctx context.Context, id uuid.UUID) ([]audit.Entry, error)
}

// Submit calls the mock function if set, otherwise returns an empty result.
func (m *MockSubmissionService) Submit(ctx context.Context, req submission.SubmitRequest) (submission.Result, error) {
	if m.SubmitFunc != nil {
		return m.SubmitFunc(ctx, req)
	}
	return submission.Result{}, nil
}

// PollPending calls the mock function if set, otherwise returns an empty result.
func (m *MockSubmissionService) PollPending(ctx context.Context, ticket string) (submission.Result, error) {
	if m.PollPendingFunc != nil {
		return m.PollPendingFunc(ctx, ticket)
	}
	return submission.Result{}, nil
}

// GetDocumentState calls the mock function if set, otherwise returns document.ErrNotFound.
func (m *MockSubmissionService) GetDocumentState(ctx context.Context, id uuid.UUID) (document.Snapshot, error) {
	if m.GetDocumentStateFunc != nil {
		return m.GetDocumentStateFunc(ctx, id)
	}
	return document.Snapshot{}, document.ErrNotFound
}

// AuditTrail calls the mock function if set, otherwise returns an empty trail.
func (m *MockSubmissionService) AuditTrail(ctx context.Context, id uuid.UUID) ([]audit.Entry, error) {
	if m.AuditTrailFunc != nil {
		return m.AuditTrailFunc(ctx, id)
	}
	return []audit.Entry{}, nil
}
