package memory

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"3tcapital/ms_facturacion_sunat/internal/core/audit"
)

// Repository keeps audit entries in memory in insertion order.
type Repository struct {
	mu      sync.RWMutex
	entries []audit.Entry
}

// NewRepository creates an empty repository.
func NewRepository() *Repository {
	return &Repository{}
}

func (r *Repository) Append(_ context.Context, e audit.Entry) error {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}

	r.mu.Lock()
	r.entries = append(r.entries, e)
	r.mu.Unlock()
	return nil
}

func (r *Repository) FindByDocument(_ context.Context, documentID uuid.UUID) ([]audit.Entry, error) {
	return r.filter(func(e audit.Entry) bool {
		return e.DocumentID != nil && *e.DocumentID == documentID
	}), nil
}

func (r *Repository) FindByCorrelationID(_ context.Context, correlationID string) ([]audit.Entry, error) {
	return r.filter(func(e audit.Entry) bool {
		return e.CorrelationID == correlationID
	}), nil
}

// All returns every stored entry.
func (r *Repository) All() []audit.Entry {
	return r.filter(func(audit.Entry) bool { return true })
}

func (r *Repository) filter(keep func(audit.Entry) bool) []audit.Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []audit.Entry
	for _, e := range r.entries {
		if keep(e) {
			out = append(out, e)
		}
	}
	return out
}
