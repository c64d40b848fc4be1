package failure

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Kind identifies the category of a submission failure.
type Kind string

const (
	KindSanitization  Kind = "SANITIZATION"
	KindValidation    Kind = "VALIDATION"
	KindSigning       Kind = "SIGNING"
	KindTransport     Kind = "TRANSPORT"
	KindSoapFault     Kind = "SOAP_FAULT"
	KindCdrParse      Kind = "CDR_PARSE"
	KindTicketTimeout Kind = "TICKET_TIMEOUT"
)

// Origin tells which side of the exchange caused a SOAP fault.
type Origin string

const (
	OriginClient  Origin = "client"
	OriginServer  Origin = "server"
	OriginUnknown Origin = "unknown"
)

// Error is the typed error returned by every stage of a document's journey.
type Error struct {
	Kind      Kind
	Op        string
	Code      string
	Message   string
	Origin    Origin
	Retryable bool
	Attempts  int
	Cause     error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(strings.ToLower(string(e.Kind)))
	if e.Op != "" {
		b.WriteString(" [")
		b.WriteString(e.Op)
		b.WriteString("]")
	}
	if e.Code != "" {
		b.WriteString(" code=")
		b.WriteString(e.Code)
	}
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	if e.Cause != nil {
		b.WriteString(": ")
		b.WriteString(e.Cause.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Is matches on Kind so callers can compare against the Err* sentinels.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && t.Op == "" && t.Code == "" && t.Message == ""
}

// Sentinels for errors.Is comparisons.
var (
	ErrSanitization  = &Error{Kind: KindSanitization}
	ErrValidation    = &Error{Kind: KindValidation}
	ErrSigning       = &Error{Kind: KindSigning}
	ErrTransport     = &Error{Kind: KindTransport}
	ErrSoapFault     = &Error{Kind: KindSoapFault}
	ErrCdrParse      = &Error{Kind: KindCdrParse}
	ErrTicketTimeout = &Error{Kind: KindTicketTimeout}
)

// Sanitization reports empty or malformed input.
func Sanitization(message string, cause error) *Error {
	return &Error{Kind: KindSanitization, Op: "sanitize", Message: message, Cause: cause}
}

// Validation reports a structural problem, typically a missing element.
func Validation(reason string) *Error {
	return &Error{Kind: KindValidation, Op: "validate", Message: reason}
}

// Signing reports a certificate or signature embedding problem.
func Signing(message string, cause error) *Error {
	return &Error{Kind: KindSigning, Op: "sign", Message: message, Cause: cause}
}

// Transport reports a network-level failure. Transport errors are retryable.
func Transport(op string, cause error) *Error {
	return &Error{Kind: KindTransport, Op: op, Retryable: true, Cause: cause}
}

// SoapFault reports a fault returned by the authority.
func SoapFault(op, code, message string, origin Origin, retryable bool) *Error {
	return &Error{Kind: KindSoapFault, Op: op, Code: code, Message: message, Origin: origin, Retryable: retryable}
}

// CdrParse reports a malformed CDR package.
func CdrParse(message string, cause error) *Error {
	return &Error{Kind: KindCdrParse, Op: "parse_cdr", Message: message, Cause: cause}
}

// TicketTimeout reports a ticket that did not reach a terminal status in time.
func TicketTimeout(ticket string, attempts int, elapsed time.Duration) *Error {
	return &Error{
		Kind:     KindTicketTimeout,
		Op:       "poll",
		Message:  fmt.Sprintf("ticket %s not resolved after %d polls in %s", ticket, attempts, elapsed.Round(time.Millisecond)),
		Attempts: attempts,
	}
}

// KindOf returns the kind of err, or an empty Kind when err is not a *Error.
func KindOf(err error) Kind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return ""
}

// IsRetryable reports whether err may be retried automatically.
func IsRetryable(err error) bool {
	var fe *Error
	if !errors.As(err, &fe) {
		return false
	}
	switch fe.Kind {
	case KindTransport:
		return fe.Retryable
	case KindSoapFault:
		return fe.Retryable && fe.Origin == OriginServer
	default:
		return false
	}
}

// AttemptsOf returns the number of transport attempts recorded on err.
func AttemptsOf(err error) int {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Attempts
	}
	return 0
}
