package document

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"3tcapital/ms_facturacion_sunat/internal/application/submission"
	"3tcapital/ms_facturacion_sunat/internal/core/audit"
	"3tcapital/ms_facturacion_sunat/internal/core/cdr"
	coredocument "3tcapital/ms_facturacion_sunat/internal/core/document"
	"3tcapital/ms_facturacion_sunat/internal/core/failure"
	"3tcapital/ms_facturacion_sunat/internal/core/lock"
	ctxutil "3tcapital/ms_facturacion_sunat/internal/infrastructure/context"
	"3tcapital/ms_facturacion_sunat/internal/testutil"
)

const invoiceXML = `<Invoice xmlns="urn:oasis:names:specification:ubl:schema:xsd:Invoice-2"/>`

func newRouter(svc SubmissionService) http.Handler {
	h := NewHandler(svc, testutil.NewNullLogger())
	r := chi.NewRouter()
	r.Route("/v1", h.Routes)
	return r
}

func serve(t *testing.T, router http.Handler, req *http.Request) *httptest.ResponseRecorder {
	t.Helper()
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func snapshot(state coredocument.State) coredocument.Snapshot {
	return coredocument.Snapshot{
		ID:            uuid.MustParse("7b0e8f6a-3f5e-4a51-9a59-0c7a5f1d2c11"),
		RUC:           testutil.TestRUC,
		Type:          coredocument.TypeInvoice,
		Series:        "F001",
		Number:        "1",
		FileName:      testutil.TestRUC + "-01-F001-00000001",
		State:         state,
		Terminal:      state.Terminal(),
		CorrelationID: "SUNAT-20261019120000-a1b2c3",
		Observations:  []string{},
	}
}

func TestHandler_Submit(t *testing.T) {
	var got submission.SubmitRequest
	svc := &testutil.MockSubmissionService{
		SubmitFunc: func(ctx context.Context, req submission.SubmitRequest) (submission.Result, error) {
			got = req
			s := snapshot(coredocument.StateAccepted)
			s.CdrStatus = cdr.StatusAccepted
			s.ResponseCode = "0"
			return submission.Result{Document: s, Attempts: 1}, nil
		},
	}

	req := testutil.CreateRequest(http.MethodPost, "/v1/documents", SubmitDocumentRequest{
		RUC:    testutil.TestRUC,
		Type:   "01",
		Series: "F001",
		Number: "1",
		XML:    invoiceXML,
	}, nil)
	req = req.WithContext(ctxutil.WithCorrelationID(req.Context(), "SUNAT-20261019120000-a1b2c3"))

	w := serve(t, newRouter(svc), req)

	var resp SubmissionResponse
	testutil.ReadJSONResponse(t, w, &resp)
	assert.Equal(t, coredocument.StateAccepted, resp.Document.State)
	assert.Equal(t, 1, resp.Attempts)

	assert.Equal(t, testutil.TestRUC, got.RUC)
	assert.Equal(t, coredocument.TypeInvoice, got.Type)
	assert.Equal(t, "F001", got.Series)
	assert.Equal(t, invoiceXML, got.XML)
	assert.Equal(t, "SUNAT-20261019120000-a1b2c3", got.CorrelationID)
	assert.Equal(t, uuid.Nil, got.DocumentID)
}

func TestHandler_Submit_Base64AndTicket(t *testing.T) {
	var got submission.SubmitRequest
	svc := &testutil.MockSubmissionService{
		SubmitFunc: func(ctx context.Context, req submission.SubmitRequest) (submission.Result, error) {
			got = req
			s := snapshot(coredocument.StateTicketIssued)
			s.Type = coredocument.TypeSummary
			s.Ticket = "1700000000001"
			return submission.Result{Document: s}, nil
		},
	}

	req := testutil.CreateRequest(http.MethodPost, "/v1/documents", SubmitDocumentRequest{
		RUC:       testutil.TestRUC,
		Type:      "rc",
		Series:    "20261019",
		Number:    "1",
		XMLBase64: base64.StdEncoding.EncodeToString([]byte(invoiceXML)),

		CorrelationID: "SUNAT-20261019093000-ffee01",
	}, map[string]string{"X-Correlation-ID": "ignored"})
	req = req.WithContext(ctxutil.WithCorrelationID(req.Context(), "ignored"))

	w := serve(t, newRouter(svc), req)

	var resp SubmissionResponse
	testutil.ReadJSONStatus(t, w, http.StatusAccepted, &resp)
	assert.Equal(t, "1700000000001", resp.Document.Ticket)
	assert.Equal(t, coredocument.TypeSummary, got.Type)
	assert.Equal(t, invoiceXML, got.XML)
	assert.Equal(t, "SUNAT-20261019093000-ffee01", got.CorrelationID)
}

func TestHandler_Submit_BadRequests(t *testing.T) {
	called := false
	svc := &testutil.MockSubmissionService{
		SubmitFunc: func(ctx context.Context, req submission.SubmitRequest) (submission.Result, error) {
			called = true
			return submission.Result{}, nil
		},
	}
	router := newRouter(svc)

	tests := []struct {
		name string
		body any
	}{
		{name: "no document", body: SubmitDocumentRequest{RUC: testutil.TestRUC, Type: "01", Series: "F001", Number: "1"}},
		{name: "both encodings", body: SubmitDocumentRequest{XML: invoiceXML, XMLBase64: "PEludm9pY2Uv"}},
		{name: "invalid base64", body: SubmitDocumentRequest{XMLBase64: "%%%"}},
		{name: "not json", body: "just a string"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := serve(t, router, testutil.CreateRequest(http.MethodPost, "/v1/documents", tt.body, nil))

			assert.Equal(t, http.StatusBadRequest, w.Code)
			resp := testutil.ReadErrorResponse(t, w)
			assert.NotEmpty(t, resp["errors"])
		})
	}
	assert.False(t, called, "service must not be called for malformed requests")
}

func TestHandler_Submit_FailureMapping(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		state      coredocument.State
		wantStatus int
		wantKind   string
		wantState  string
	}{
		{
			name:       "validation",
			err:        failure.Validation("cbc:ID is missing"),
			wantStatus: http.StatusUnprocessableEntity,
			wantKind:   string(failure.KindValidation),
		},
		{
			name:       "soap fault parks with snapshot",
			err:        failure.SoapFault("sendBill", "0151", "nombre de archivo invalido", failure.OriginClient, false),
			state:      coredocument.StateSubmissionFailed,
			wantStatus: http.StatusBadGateway,
			wantKind:   string(failure.KindSoapFault),
			wantState:  string(coredocument.StateSubmissionFailed),
		},
		{
			name:       "busy",
			err:        fmt.Errorf("%w: doc: %w", submission.ErrDocumentBusy, lock.ErrLocked),
			state:      coredocument.StateSubmitted,
			wantStatus: http.StatusConflict,
			wantState:  string(coredocument.StateSubmitted),
		},
		{
			name:       "unexpected",
			err:        fmt.Errorf("save document: %w", context.Canceled),
			wantStatus: http.StatusInternalServerError,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := &testutil.MockSubmissionService{
				SubmitFunc: func(ctx context.Context, req submission.SubmitRequest) (submission.Result, error) {
					if tt.state == "" {
						return submission.Result{}, tt.err
					}
					return submission.Result{Document: snapshot(tt.state), Attempts: 3}, tt.err
				},
			}

			req := testutil.CreateRequest(http.MethodPost, "/v1/documents", SubmitDocumentRequest{
				RUC: testutil.TestRUC, Type: "01", Series: "F001", Number: "1", XML: invoiceXML,
			}, nil)
			w := serve(t, newRouter(svc), req)

			require.Equal(t, tt.wantStatus, w.Code)
			resp := testutil.ReadErrorResponse(t, w)
			if tt.wantKind != "" {
				assert.Equal(t, tt.wantKind, resp["kind"])
			}
			if tt.wantState == "" {
				assert.Nil(t, resp["details"])
				return
			}
			details, ok := resp["details"].(map[string]any)
			require.True(t, ok, "expected details, got %v", resp["details"])
			doc := details["document"].(map[string]any)
			assert.Equal(t, tt.wantState, doc["state"])
			assert.EqualValues(t, 3, details["attempts"])
		})
	}
}

func TestHandler_Resume(t *testing.T) {
	id := uuid.New()
	var got submission.SubmitRequest
	svc := &testutil.MockSubmissionService{
		SubmitFunc: func(ctx context.Context, req submission.SubmitRequest) (submission.Result, error) {
			got = req
			return submission.Result{Document: snapshot(coredocument.StateRejected)}, nil
		},
	}
	router := newRouter(svc)

	w := serve(t, router, httptest.NewRequest(http.MethodPost, "/v1/documents/"+id.String()+"/submit", nil))

	var resp SubmissionResponse
	testutil.ReadJSONResponse(t, w, &resp)
	assert.Equal(t, id, got.DocumentID)
	assert.Equal(t, coredocument.StateRejected, resp.Document.State)

	w = serve(t, router, httptest.NewRequest(http.MethodPost, "/v1/documents/not-a-uuid/submit", nil))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHandler_Poll(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		state      coredocument.State
		wantStatus int
	}{
		{name: "resolved", state: coredocument.StateAccepted, wantStatus: http.StatusOK},
		{name: "still polling after cancellation", state: coredocument.StatePolling, err: failure.Transport("getStatus", context.DeadlineExceeded), wantStatus: http.StatusGatewayTimeout},
		{name: "expired", state: coredocument.StateExpired, err: failure.TicketTimeout("1700000000001", 10, 5*time.Minute), wantStatus: http.StatusGatewayTimeout},
		{name: "unknown ticket", err: coredocument.ErrNotFound, wantStatus: http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var gotTicket string
			svc := &testutil.MockSubmissionService{
				PollPendingFunc: func(ctx context.Context, ticket string) (submission.Result, error) {
					gotTicket = ticket
					if tt.state == "" {
						return submission.Result{}, tt.err
					}
					return submission.Result{Document: snapshot(tt.state), Attempts: 2}, tt.err
				},
			}

			w := serve(t, newRouter(svc), httptest.NewRequest(http.MethodPost, "/v1/tickets/1700000000001/poll", nil))

			assert.Equal(t, tt.wantStatus, w.Code)
			assert.Equal(t, "1700000000001", gotTicket)
		})
	}
}

func TestHandler_Get(t *testing.T) {
	known := snapshot(coredocument.StateAcceptedWithObservations)
	svc := &testutil.MockSubmissionService{
		GetDocumentStateFunc: func(ctx context.Context, id uuid.UUID) (coredocument.Snapshot, error) {
			if id == known.ID {
				return known, nil
			}
			return coredocument.Snapshot{}, coredocument.ErrNotFound
		},
	}
	router := newRouter(svc)

	w := serve(t, router, httptest.NewRequest(http.MethodGet, "/v1/documents/"+known.ID.String(), nil))
	var got coredocument.Snapshot
	testutil.ReadJSONResponse(t, w, &got)
	assert.Equal(t, known.State, got.State)
	assert.Equal(t, known.FileName, got.FileName)

	w = serve(t, router, httptest.NewRequest(http.MethodGet, "/v1/documents/"+uuid.NewString(), nil))
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = serve(t, router, httptest.NewRequest(http.MethodGet, "/v1/documents/123", nil))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHandler_Audit(t *testing.T) {
	id := uuid.New()
	status := 200
	svc := &testutil.MockSubmissionService{
		AuditTrailFunc: func(ctx context.Context, docID uuid.UUID) ([]audit.Entry, error) {
			require.Equal(t, id, docID)
			return []audit.Entry{
				{ID: uuid.New(), DocumentID: &id, CorrelationID: "c-1", Operation: audit.OpCreate, Result: audit.ResultSuccess, Actor: "erp-integration"},
				{ID: uuid.New(), DocumentID: &id, CorrelationID: "c-1", Operation: audit.OpTransportAttempt, Result: audit.ResultRetry, ErrorKind: string(failure.KindTransport), DurationMs: 120},
				{ID: uuid.New(), DocumentID: &id, CorrelationID: "c-1", Operation: audit.OpSoapExchange, Result: audit.ResultSuccess, HTTPStatus: &status},
			}, nil
		},
	}

	w := serve(t, newRouter(svc), httptest.NewRequest(http.MethodGet, "/v1/documents/"+id.String()+"/audit", nil))

	var resp AuditTrailResponse
	testutil.ReadJSONResponse(t, w, &resp)
	assert.Equal(t, id, resp.DocumentID)
	require.Equal(t, 3, resp.Total)
	assert.Equal(t, audit.OpCreate, resp.Entries[0].Operation)
	assert.Equal(t, "erp-integration", resp.Entries[0].Actor)
	assert.Equal(t, "retry", resp.Entries[1].Result)
	assert.Equal(t, string(failure.KindTransport), resp.Entries[1].ErrorKind)
	require.NotNil(t, resp.Entries[2].HTTPStatus)
	assert.Equal(t, 200, *resp.Entries[2].HTTPStatus)
}

func TestHandler_Audit_UnknownDocument(t *testing.T) {
	svc := &testutil.MockSubmissionService{
		AuditTrailFunc: func(ctx context.Context, id uuid.UUID) ([]audit.Entry, error) {
			return nil, fmt.Errorf("get document: %w", coredocument.ErrNotFound)
		},
	}

	w := serve(t, newRouter(svc), httptest.NewRequest(http.MethodGet, "/v1/documents/"+uuid.NewString()+"/audit", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
}
