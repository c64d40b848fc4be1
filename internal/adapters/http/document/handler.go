package document

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"3tcapital/ms_facturacion_sunat/internal/application/submission"
	"3tcapital/ms_facturacion_sunat/internal/core/audit"
	coredocument "3tcapital/ms_facturacion_sunat/internal/core/document"
	ctxutil "3tcapital/ms_facturacion_sunat/internal/infrastructure/context"
	httperrors "3tcapital/ms_facturacion_sunat/internal/infrastructure/http"
)

// maxBodySize bounds the submit request. UBL documents with many lines
// stay well below it.
const maxBodySize = 10 << 20

// SubmissionService is the part of the submission engine the HTTP layer drives.
type SubmissionService interface {
	Submit(ctx context.Context, req submission.SubmitRequest) (submission.Result, error)
	PollPending(ctx context.Context, ticket string) (submission.Result, error)
	GetDocumentState(ctx context.Context, id uuid.UUID) (coredocument.Snapshot, error)
	AuditTrail(ctx context.Context, id uuid.UUID) ([]audit.Entry, error)
}

// Handler bridges HTTP traffic with the submission service.
type Handler struct {
	service SubmissionService
	log     *slog.Logger
}

// NewHandler creates a new document HTTP handler.
func NewHandler(service SubmissionService, log *slog.Logger) *Handler {
	return &Handler{service: service, log: log}
}

// Routes registers the document endpoints on r.
func (h *Handler) Routes(r chi.Router) {
	r.Post("/documents", h.Submit)
	r.Post("/documents/{id}/submit", h.Resume)
	r.Get("/documents/{id}", h.Get)
	r.Get("/documents/{id}/audit", h.Audit)
	r.Post("/tickets/{ticket}/poll", h.Poll)
}

// SubmitDocumentRequest is the body of POST /v1/documents. Exactly one of
// XML and XMLBase64 carries the unsigned UBL document.
type SubmitDocumentRequest struct {
	RUC       string `json:"ruc"`
	Type      string `json:"type"`
	Series    string `json:"series"`
	Number    string `json:"number"`
	XML       string `json:"xml,omitempty"`
	XMLBase64 string `json:"xmlBase64,omitempty"`

	// CorrelationID overrides the request's X-Correlation-ID for a new document.
	CorrelationID string `json:"correlationId,omitempty"`
}

// SubmissionResponse is returned by the submit, resume and poll endpoints.
type SubmissionResponse struct {
	Document coredocument.Snapshot `json:"document"`
	Attempts int                   `json:"attempts"`
}

// AuditEntryResponse is one audit log entry.
type AuditEntryResponse struct {
	ID            uuid.UUID  `json:"id"`
	DocumentID    *uuid.UUID `json:"documentId,omitempty"`
	CorrelationID string     `json:"correlationId"`
	Operation     string     `json:"operation"`
	Result        string     `json:"result"`
	ErrorKind     string     `json:"errorKind,omitempty"`
	Detail        string     `json:"detail,omitempty"`
	Actor         string     `json:"actor,omitempty"`
	Endpoint      string     `json:"endpoint,omitempty"`
	HTTPStatus    *int       `json:"httpStatus,omitempty"`
	DurationMs    int64      `json:"durationMs,omitempty"`
	CreatedAt     time.Time  `json:"createdAt"`
}

// AuditTrailResponse lists the audit entries of a document in insertion order.
type AuditTrailResponse struct {
	DocumentID uuid.UUID            `json:"documentId"`
	Total      int                  `json:"total"`
	Entries    []AuditEntryResponse `json:"entries"`
}

// Submit handles POST /v1/documents.
func (h *Handler) Submit(w http.ResponseWriter, r *http.Request) {
	var body SubmitDocumentRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodySize)).Decode(&body); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			httperrors.WriteError(w, http.StatusRequestEntityTooLarge, "Invalid request", []string{"request body is too large"}, h.log)
			return
		}
		httperrors.WriteError(w, http.StatusBadRequest, "Invalid request", []string{"request body is not valid JSON"}, h.log)
		return
	}

	xml, err := body.document()
	if err != nil {
		httperrors.WriteError(w, http.StatusBadRequest, "Invalid request", []string{err.Error()}, h.log)
		return
	}

	req := submission.SubmitRequest{
		RUC:           body.RUC,
		Type:          coredocument.Type(strings.ToUpper(strings.TrimSpace(body.Type))),
		Series:        body.Series,
		Number:        body.Number,
		XML:           xml,
		CorrelationID: ctxutil.GetCorrelationID(r.Context()),
	}
	if body.CorrelationID != "" {
		req.CorrelationID = body.CorrelationID
	}

	h.log.Info("Document submission received",
		"correlation_id", req.CorrelationID,
		"document", req.Key().String(),
		"actor", ctxutil.GetActor(r.Context()),
	)

	res, err := h.service.Submit(r.Context(), req)
	h.writeResult(w, res, err)
}

// Resume handles POST /v1/documents/{id}/submit. It drives an existing
// document from wherever it stopped.
func (h *Handler) Resume(w http.ResponseWriter, r *http.Request) {
	id, ok := h.documentID(w, r)
	if !ok {
		return
	}

	res, err := h.service.Submit(r.Context(), submission.SubmitRequest{DocumentID: id})
	h.writeResult(w, res, err)
}

// Poll handles POST /v1/tickets/{ticket}/poll.
func (h *Handler) Poll(w http.ResponseWriter, r *http.Request) {
	ticket := strings.TrimSpace(chi.URLParam(r, "ticket"))
	if ticket == "" {
		httperrors.WriteError(w, http.StatusBadRequest, "Invalid request", []string{"ticket is required"}, h.log)
		return
	}

	res, err := h.service.PollPending(r.Context(), ticket)
	h.writeResult(w, res, err)
}

// Get handles GET /v1/documents/{id}.
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := h.documentID(w, r)
	if !ok {
		return
	}

	snapshot, err := h.service.GetDocumentState(r.Context(), id)
	if err != nil {
		h.writeFailure(w, err, nil)
		return
	}
	writeJSON(w, http.StatusOK, snapshot, h.log)
}

// Audit handles GET /v1/documents/{id}/audit.
func (h *Handler) Audit(w http.ResponseWriter, r *http.Request) {
	id, ok := h.documentID(w, r)
	if !ok {
		return
	}

	entries, err := h.service.AuditTrail(r.Context(), id)
	if err != nil {
		h.writeFailure(w, err, nil)
		return
	}

	response := AuditTrailResponse{
		DocumentID: id,
		Total:      len(entries),
		Entries:    make([]AuditEntryResponse, 0, len(entries)),
	}
	for _, e := range entries {
		response.Entries = append(response.Entries, AuditEntryResponse{
			ID:            e.ID,
			DocumentID:    e.DocumentID,
			CorrelationID: e.CorrelationID,
			Operation:     e.Operation,
			Result:        string(e.Result),
			ErrorKind:     e.ErrorKind,
			Detail:        e.Detail,
			Actor:         e.Actor,
			Endpoint:      e.Endpoint,
			HTTPStatus:    e.HTTPStatus,
			DurationMs:    e.DurationMs,
			CreatedAt:     e.CreatedAt,
		})
	}
	writeJSON(w, http.StatusOK, response, h.log)
}

// writeResult answers 202 while a ticket is outstanding and 200 otherwise.
// On error the snapshot reached so far travels in the error details.
func (h *Handler) writeResult(w http.ResponseWriter, res submission.Result, err error) {
	if err != nil {
		var details any
		if res.Document.ID != uuid.Nil {
			details = SubmissionResponse{Document: res.Document, Attempts: res.Attempts}
		}
		h.writeFailure(w, err, details)
		return
	}

	status := http.StatusOK
	if res.Document.State.TicketOutstanding() {
		status = http.StatusAccepted
	}
	writeJSON(w, status, SubmissionResponse{Document: res.Document, Attempts: res.Attempts}, h.log)
}

func (h *Handler) writeFailure(w http.ResponseWriter, err error, details any) {
	if httperrors.StatusFor(err) >= http.StatusInternalServerError {
		h.log.Error("Request failed", "error", err)
	}
	httperrors.WriteFailure(w, err, details, h.log)
}

func (h *Handler) documentID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httperrors.WriteError(w, http.StatusBadRequest, "Invalid request", []string{"document id must be a UUID"}, h.log)
		return uuid.Nil, false
	}
	return id, true
}

func (b SubmitDocumentRequest) document() (string, error) {
	switch {
	case b.XML != "" && b.XMLBase64 != "":
		return "", errors.New("send either xml or xmlBase64, not both")
	case b.XML != "":
		return b.XML, nil
	case b.XMLBase64 != "":
		decoded, err := base64.StdEncoding.DecodeString(strings.TrimSpace(b.XMLBase64))
		if err != nil {
			return "", errors.New("xmlBase64 is not valid base64")
		}
		return string(decoded), nil
	default:
		return "", errors.New("xml or xmlBase64 is required")
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any, log *slog.Logger) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil && !errors.Is(err, io.ErrClosedPipe) {
		log.Error("failed to encode response", "error", err)
	}
}
