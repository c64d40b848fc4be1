package audit

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Result classifies the outcome of an audited operation.
type Result string

const (
	ResultSuccess Result = "success"
	ResultFailure Result = "failure"
	ResultRetry   Result = "retry"
)

// Operation names recorded by the submission engine.
const (
	OpCreate           = "create"
	OpSanitize         = "sanitize"
	OpValidate         = "validate"
	OpSign             = "sign"
	OpSubmit           = "submit"
	OpTransportAttempt = "transport_attempt"
	OpSoapExchange     = "soap_exchange"
	OpCdrParse         = "cdr_parse"
	OpPoll             = "poll"
	OpArchive          = "archive"
	OpTransition       = "transition"
)

// Entry is one append-only record of an operation against SUNAT or a
// lifecycle step. DocumentID is nil for exchanges not tied to a document.
type Entry struct {
	ID            uuid.UUID
	DocumentID    *uuid.UUID
	CorrelationID string
	Operation     string
	Result        Result
	ErrorKind     string
	Detail        string

	// Actor is the authenticated caller that triggered the operation, when known.
	Actor string

	// Populated for SOAP exchanges only.
	Endpoint     string
	HTTPStatus   *int
	DurationMs   int64
	RequestBody  string
	ResponseBody string

	CreatedAt time.Time
}

// Repository persists audit entries. Entries are never updated or deleted.
type Repository interface {
	// Append stores e. Implementations set ID and CreatedAt when empty.
	Append(ctx context.Context, e Entry) error

	// FindByDocument returns the entries of a document in insertion order.
	FindByDocument(ctx context.Context, documentID uuid.UUID) ([]Entry, error)

	// FindByCorrelationID returns every entry sharing a correlation id in insertion order.
	FindByCorrelationID(ctx context.Context, correlationID string) ([]Entry, error)
}
