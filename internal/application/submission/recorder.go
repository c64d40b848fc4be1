package submission

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"3tcapital/ms_facturacion_sunat/internal/core/audit"
	"3tcapital/ms_facturacion_sunat/internal/core/authority"
	"3tcapital/ms_facturacion_sunat/internal/core/document"
	"3tcapital/ms_facturacion_sunat/internal/core/failure"
	ctxutil "3tcapital/ms_facturacion_sunat/internal/infrastructure/context"
)

// recorder appends lifecycle events to the audit log. Audit writes never
// fail the lifecycle; they are logged instead.
type recorder struct {
	audit audit.Repository
	log   *slog.Logger
}

func (r *recorder) success(ctx context.Context, doc *document.ElectronicDocument, op, detail string) {
	r.entry(ctx, doc, op, audit.ResultSuccess, detail, nil)
}

func (r *recorder) failure(ctx context.Context, doc *document.ElectronicDocument, op string, err error) {
	r.entry(ctx, doc, op, audit.ResultFailure, "", err)
}

func (r *recorder) transition(ctx context.Context, doc *document.ElectronicDocument, from, to document.State) {
	r.entry(ctx, doc, audit.OpTransition, audit.ResultSuccess, fmt.Sprintf("from=%s to=%s", from, to), nil)
}

func (r *recorder) entry(ctx context.Context, doc *document.ElectronicDocument, op string, result audit.Result, detail string, err error) {
	e := audit.Entry{
		CorrelationID: doc.CorrelationID,
		Operation:     op,
		Result:        result,
		Detail:        detail,
		Actor:         ctxutil.GetActor(ctx),
	}
	if doc.ID != uuid.Nil {
		id := doc.ID
		e.DocumentID = &id
	}
	if err != nil {
		e.ErrorKind = string(failure.KindOf(err))
		if e.Detail == "" {
			e.Detail = err.Error()
		} else {
			e.Detail += ": " + err.Error()
		}
	}
	r.append(ctx, e)
}

// attemptHook audits every failed transport attempt of a SUNAT call.
func (r *recorder) attemptHook(ctx context.Context, doc *document.ElectronicDocument) authority.AttemptHook {
	return func(a authority.Attempt) {
		result := audit.ResultFailure
		if a.WillRetry {
			result = audit.ResultRetry
		}
		e := audit.Entry{
			CorrelationID: doc.CorrelationID,
			Operation:     audit.OpTransportAttempt,
			Result:        result,
			ErrorKind:     string(failure.KindOf(a.Err)),
			Detail:        fmt.Sprintf("operation=%s attempt=%d: %v", a.Operation, a.Number, a.Err),
			DurationMs:    a.Duration.Milliseconds(),
			Actor:         ctxutil.GetActor(ctx),
		}
		id := doc.ID
		e.DocumentID = &id
		r.append(ctx, e)
	}
}

func (r *recorder) append(ctx context.Context, e audit.Entry) {
	if r.audit == nil {
		return
	}
	if err := r.audit.Append(context.WithoutCancel(ctx), e); err != nil {
		r.log.Error("Failed to append audit entry",
			"correlation_id", e.CorrelationID,
			"operation", e.Operation,
			"error", err,
		)
	}
}
