package authority

import (
	"context"
	"errors"
	"time"
)

// ErrUnavailable is returned by Ready while outbound calls are suspended.
var ErrUnavailable = errors.New("sunat gateway unavailable")

// Environment selects the SUNAT endpoint set and certificate bundle.
type Environment string

const (
	EnvironmentBeta       Environment = "beta"
	EnvironmentProduction Environment = "production"
)

// Valid reports whether e is a known environment.
func (e Environment) Valid() bool {
	return e == EnvironmentBeta || e == EnvironmentProduction
}

// File is one XML payload inside a submission package.
type File struct {
	BaseName string
	Content  []byte
}

// Request is a submission payload. FileName is the base name without extension.
// Batch, when set, sends several files in one sendPack package named FileName.
// RUC is the issuer whose credentials authenticate the call.
type Request struct {
	RUC      string
	FileName string
	Content  []byte
	Batch    []File
}

// Attempt describes one failed transport attempt.
type Attempt struct {
	Operation string
	Number    int
	Duration  time.Duration
	Err       error
	WillRetry bool
}

// AttemptHook is called for every failed attempt before the retry decision is acted on.
type AttemptHook func(Attempt)

// StatusResult is the outcome of a getStatus call. Package holds the CDR zip when not pending.
type StatusResult struct {
	Pending bool
	Code    string
	Package []byte
}

// Gateway is the outbound port to SUNAT's billService.
type Gateway interface {
	// SendBill submits a synchronous document and returns the CDR package.
	SendBill(ctx context.Context, req Request, hook AttemptHook) ([]byte, error)

	// SendPack submits an asynchronous document or batch and returns the ticket.
	SendPack(ctx context.Context, req Request, hook AttemptHook) (string, error)

	// GetStatus queries a ticket issued to ruc.
	GetStatus(ctx context.Context, ruc, ticket string, hook AttemptHook) (StatusResult, error)

	// Ready returns ErrUnavailable while the gateway refuses new calls.
	Ready() error
}
