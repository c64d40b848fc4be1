package submission

import (
	"context"

	"3tcapital/ms_facturacion_sunat/internal/core/archive"
	"3tcapital/ms_facturacion_sunat/internal/core/audit"
	"3tcapital/ms_facturacion_sunat/internal/core/document"
)

// store archives body under the document's RUC. Failures are logged and
// audited but never change the document state.
func (s *Service) store(ctx context.Context, doc *document.ElectronicDocument, name string, body []byte, contentType string) {
	if s.archive == nil {
		return
	}

	key := archive.Key(s.cfg.ArchivePrefix, doc.RUC, name)
	if err := s.archive.Put(context.WithoutCancel(ctx), key, body, contentType); err != nil {
		s.log.Warn("Failed to archive document artifact",
			"correlation_id", doc.CorrelationID,
			"document_id", doc.ID,
			"key", key,
			"error", err,
		)
		s.recorder.entry(ctx, doc, audit.OpArchive, audit.ResultFailure, "key="+key, err)
		return
	}
	s.recorder.success(ctx, doc, audit.OpArchive, "key="+key)
}
