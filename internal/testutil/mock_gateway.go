package testutil

import (
	"context"
	"sync"

	"3tcapital/ms_facturacion_sunat/internal/core/authority"
	"3tcapital/ms_facturacion_sunat/internal/core/signing"
)

// MockGateway is a mock implementation of authority.Gateway for testing.
// Call counters are safe for concurrent use.
type MockGateway struct {
	SendBillFunc  func(ctx context.Context, req authority.Request, hook authority.AttemptHook) ([]byte, error)
	SendPackFunc  func(ctx context.Context, req authority.Request, hook authority.AttemptHook) (string, error)
	GetStatusFunc func(ctx context.Context, ticket string, hook authority.AttemptHook) (authority.StatusResult, error)
	ReadyFunc     func() error

	mu    sync.Mutex
	calls map[string]int
	rucs  map[string][]string
}

func (m *MockGateway) count(op, ruc string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.calls == nil {
		m.calls = make(map[string]int)
		m.rucs = make(map[string][]string)
	}
	m.calls[op]++
	m.rucs[op] = append(m.rucs[op], ruc)
}

// RUCs returns the issuer RUC of every op call, in call order.
func (m *MockGateway) RUCs(op string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.rucs[op]...)
}

// Calls returns how many times op was invoked.
func (m *MockGateway) Calls(op string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[op]
}

// TotalCalls returns the number of transport calls across all operations.
func (m *MockGateway) TotalCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	total := 0
	for _, n := range m.calls {
		total += n
	}
	return total
}

// SendBill calls the mock function if set, otherwise returns an empty package.
func (m *MockGateway) SendBill(ctx context.Context, req authority.Request, hook authority.AttemptHook) ([]byte, error) {
	m.count("sendBill", req.RUC)
	if m.SendBillFunc != nil {
		return m.SendBillFunc(ctx, req, hook)
	}
	return nil, nil
}

// SendPack calls the mock function if set, otherwise returns an empty ticket.
func (m *MockGateway) SendPack(ctx context.Context, req authority.Request, hook authority.AttemptHook) (string, error) {
	m.count("sendPack", req.RUC)
	if m.SendPackFunc != nil {
		return m.SendPackFunc(ctx, req, hook)
	}
	return "", nil
}

// GetStatus calls the mock function if set, otherwise reports the ticket as pending.
func (m *MockGateway) GetStatus(ctx context.Context, ruc, ticket string, hook authority.AttemptHook) (authority.StatusResult, error) {
	m.count("getStatus", ruc)
	if m.GetStatusFunc != nil {
		return m.GetStatusFunc(ctx, ticket, hook)
	}
	return authority.StatusResult{Pending: true, Code: "98"}, nil
}

// Ready calls the mock function if set, otherwise returns nil.
func (m *MockGateway) Ready() error {
	if m.ReadyFunc != nil {
		return m.ReadyFunc()
	}
	return nil
}

// MockSigner is a mock implementation of signing.Signer for testing.
type MockSigner struct {
	SignFunc func(xml string, handle signing.CertificateHandle) (string, error)

	mu    sync.Mutex
	calls int
}

// Sign calls the mock function if set, otherwise returns the input unchanged.
func (m *MockSigner) Sign(xml string, handle signing.CertificateHandle) (string, error) {
	m.mu.Lock()
	m.calls++
	m.mu.Unlock()
	if m.SignFunc != nil {
		return m.SignFunc(xml, handle)
	}
	return xml, nil
}

// Calls returns how many times Sign was invoked.
func (m *MockSigner) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}
