package http

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"3tcapital/ms_facturacion_sunat/internal/core/authority"
	"3tcapital/ms_facturacion_sunat/internal/core/document"
	"3tcapital/ms_facturacion_sunat/internal/core/failure"
	"3tcapital/ms_facturacion_sunat/internal/core/lock"
)

// ErrorResponse represents a standardized error response format.
type ErrorResponse struct {
	Message string   `json:"message"`
	Errors  []string `json:"errors"`
	Kind    string   `json:"kind,omitempty"`
	Details any      `json:"details,omitempty"`
}

// WriteError writes a standardized JSON error response to the HTTP response writer.
// It sets the appropriate Content-Type header, status code, and encodes the error response.
func WriteError(w http.ResponseWriter, statusCode int, message string, errors []string, log *slog.Logger) {
	write(w, statusCode, ErrorResponse{Message: message, Errors: errors}, log)
}

// WriteFailure writes err with the status from StatusFor. details, when not
// nil, carries the document snapshot reached before the failure.
func WriteFailure(w http.ResponseWriter, err error, details any, log *slog.Logger) {
	status := StatusFor(err)
	write(w, status, ErrorResponse{
		Message: http.StatusText(status),
		Errors:  []string{err.Error()},
		Kind:    string(failure.KindOf(err)),
		Details: details,
	}, log)
}

// StatusFor maps a domain error to an HTTP status code.
func StatusFor(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, failure.ErrValidation), errors.Is(err, failure.ErrSanitization):
		return http.StatusUnprocessableEntity
	case errors.Is(err, document.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, document.ErrConflict),
		errors.Is(err, document.ErrInvalidTransition),
		errors.Is(err, document.ErrAlreadySigned),
		errors.Is(err, lock.ErrLocked):
		return http.StatusConflict
	case errors.Is(err, failure.ErrTicketTimeout), errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.Is(err, failure.ErrTransport),
		errors.Is(err, failure.ErrSoapFault),
		errors.Is(err, failure.ErrCdrParse),
		errors.Is(err, authority.ErrUnavailable):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func write(w http.ResponseWriter, statusCode int, response ErrorResponse, log *slog.Logger) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if err := json.NewEncoder(w).Encode(response); err != nil {
		// The status code is already written; only log.
		if log != nil {
			log.Error("failed to encode error response", "error", err)
		}
	}
}
