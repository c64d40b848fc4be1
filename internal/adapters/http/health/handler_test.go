package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	apphealth "3tcapital/ms_facturacion_sunat/internal/application/health"
	corehealth "3tcapital/ms_facturacion_sunat/internal/core/health"
)

var meta = apphealth.Metadata{
	Service:     "ms_facturacion_sunat",
	Version:     "1.0.0",
	Environment: "test",
}

func TestHandler_Status(t *testing.T) {
	tests := []struct {
		name       string
		checks     []apphealth.Check
		wantCode   int
		wantStatus string
	}{
		{
			name:       "no dependencies",
			wantCode:   http.StatusOK,
			wantStatus: corehealth.StatusUp,
		},
		{
			name: "degraded still serves",
			checks: []apphealth.Check{
				{Name: "sunat", Ping: func(context.Context) error { return errors.New("circuit open") }},
			},
			wantCode:   http.StatusOK,
			wantStatus: corehealth.StatusDegraded,
		},
		{
			name: "critical dependency down",
			checks: []apphealth.Check{
				{Name: "postgres", Critical: true, Ping: func(context.Context) error { return errors.New("dial tcp: refused") }},
			},
			wantCode:   http.StatusServiceUnavailable,
			wantStatus: corehealth.StatusDown,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handler := NewHandler(apphealth.NewService(meta, tt.checks...))

			w := httptest.NewRecorder()
			handler.Status(w, httptest.NewRequest(http.MethodGet, "/health", nil))

			if w.Code != tt.wantCode {
				t.Errorf("expected status code %d, got %d", tt.wantCode, w.Code)
			}
			if ct := w.Header().Get("Content-Type"); ct != "application/json" {
				t.Errorf("expected Content-Type application/json, got %s", ct)
			}

			var status corehealth.Status
			if err := json.NewDecoder(w.Body).Decode(&status); err != nil {
				t.Fatalf("failed to decode response: %v", err)
			}
			if status.Status != tt.wantStatus {
				t.Errorf("expected status %q, got %q", tt.wantStatus, status.Status)
			}
			if status.Service != meta.Service {
				t.Errorf("expected service %q, got %q", meta.Service, status.Service)
			}
			if len(status.Dependencies) != len(tt.checks) {
				t.Errorf("expected %d dependencies, got %d", len(tt.checks), len(status.Dependencies))
			}
		})
	}
}
