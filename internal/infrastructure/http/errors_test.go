package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"3tcapital/ms_facturacion_sunat/internal/core/authority"
	"3tcapital/ms_facturacion_sunat/internal/core/document"
	"3tcapital/ms_facturacion_sunat/internal/core/failure"
	"3tcapital/ms_facturacion_sunat/internal/core/lock"
	"3tcapital/ms_facturacion_sunat/internal/testutil"
)

// failingResponseWriter is a ResponseWriter that can simulate write failures
type failingResponseWriter struct {
	http.ResponseWriter
	failOnWrite bool
}

func (f *failingResponseWriter) Write(p []byte) (int, error) {
	if f.failOnWrite {
		return 0, &json.MarshalerError{}
	}
	return f.ResponseWriter.Write(p)
}

func TestWriteError(t *testing.T) {
	tests := []struct {
		name           string
		statusCode     int
		message        string
		errors         []string
		withLogger     bool
		expectedStatus int
	}{
		{
			name:           "valid error response",
			statusCode:     http.StatusBadRequest,
			message:        "Invalid request",
			errors:         []string{"ruc is required"},
			withLogger:     true,
			expectedStatus: http.StatusBadRequest,
		},
		{
			name:           "multiple errors",
			statusCode:     http.StatusUnprocessableEntity,
			message:        "Invalid request",
			errors:         []string{"series is required", "number must be positive"},
			expectedStatus: http.StatusUnprocessableEntity,
		},
		{
			name:           "empty errors array",
			statusCode:     http.StatusInternalServerError,
			message:        "Internal error",
			errors:         []string{},
			withLogger:     true,
			expectedStatus: http.StatusInternalServerError,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()

			var logger *slog.Logger
			if tt.withLogger {
				logger = testutil.NewTestLogger()
			}

			WriteError(w, tt.statusCode, tt.message, tt.errors, logger)

			if w.Code != tt.expectedStatus {
				t.Errorf("expected status code %d, got %d", tt.expectedStatus, w.Code)
			}
			if ct := w.Header().Get("Content-Type"); ct != "application/json" {
				t.Errorf("expected Content-Type application/json, got %s", ct)
			}

			var response ErrorResponse
			if err := json.NewDecoder(w.Body).Decode(&response); err != nil {
				t.Fatalf("failed to decode response: %v", err)
			}
			if response.Message != tt.message {
				t.Errorf("expected message %q, got %q", tt.message, response.Message)
			}
			if len(response.Errors) != len(tt.errors) {
				t.Errorf("expected %d errors, got %d", len(tt.errors), len(response.Errors))
			}
			if response.Kind != "" || response.Details != nil {
				t.Errorf("expected no kind or details, got %+v", response)
			}
		})
	}
}

func TestWriteError_JSONEncodingError(t *testing.T) {
	w := &failingResponseWriter{
		ResponseWriter: httptest.NewRecorder(),
		failOnWrite:    true,
	}

	// Must not panic; the encoding error is only logged.
	WriteError(w, http.StatusBadRequest, "Test", []string{"Error"}, testutil.NewTestLogger())
}

func TestWriteFailure(t *testing.T) {
	w := httptest.NewRecorder()
	snapshot := map[string]string{"state": "SUBMISSION_FAILED"}

	WriteFailure(w, failure.SoapFault("sendBill", "0151", "nombre de archivo invalido", failure.OriginClient, false), snapshot, nil)

	if w.Code != http.StatusBadGateway {
		t.Errorf("expected status %d, got %d", http.StatusBadGateway, w.Code)
	}

	var response struct {
		Message string            `json:"message"`
		Errors  []string          `json:"errors"`
		Kind    string            `json:"kind"`
		Details map[string]string `json:"details"`
	}
	if err := json.NewDecoder(w.Body).Decode(&response); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if response.Kind != string(failure.KindSoapFault) {
		t.Errorf("expected kind %s, got %s", failure.KindSoapFault, response.Kind)
	}
	if response.Details["state"] != "SUBMISSION_FAILED" {
		t.Errorf("expected snapshot in details, got %v", response.Details)
	}
	if len(response.Errors) != 1 {
		t.Errorf("expected one error, got %v", response.Errors)
	}
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"nil", nil, http.StatusOK},
		{"validation", failure.Validation("missing cbc:ID"), http.StatusUnprocessableEntity},
		{"sanitization", failure.Sanitization("malformed XML", errors.New("eof")), http.StatusUnprocessableEntity},
		{"not found", fmt.Errorf("get: %w", document.ErrNotFound), http.StatusNotFound},
		{"conflict", document.ErrConflict, http.StatusConflict},
		{"invalid transition", document.ErrInvalidTransition, http.StatusConflict},
		{"busy", fmt.Errorf("busy: %w", lock.ErrLocked), http.StatusConflict},
		{"ticket timeout", failure.TicketTimeout("1700000000000", 10, time.Minute), http.StatusGatewayTimeout},
		{"deadline", failure.Transport("sendBill", context.DeadlineExceeded), http.StatusGatewayTimeout},
		{"transport", failure.Transport("sendBill", errors.New("connection reset")), http.StatusBadGateway},
		{"soap fault", failure.SoapFault("sendBill", "0109", "servicio no disponible", failure.OriginServer, true), http.StatusBadGateway},
		{"cdr parse", failure.CdrParse("empty zip", nil), http.StatusBadGateway},
		{"unavailable", authority.ErrUnavailable, http.StatusBadGateway},
		{"signing", failure.Signing("no certificate", nil), http.StatusInternalServerError},
		{"unknown", errors.New("boom"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := StatusFor(tt.err); got != tt.want {
				t.Errorf("StatusFor(%v) = %d, want %d", tt.err, got, tt.want)
			}
		})
	}
}
