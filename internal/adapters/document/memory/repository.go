package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"

	"3tcapital/ms_facturacion_sunat/internal/core/document"
)

// Repository is an in-process document.Repository. Stored documents are
// copied on the way in and out so callers never share state.
type Repository struct {
	mu       sync.RWMutex
	byID     map[uuid.UUID]*document.ElectronicDocument
	byKey    map[document.Key]uuid.UUID
	byTicket map[string]uuid.UUID
}

// NewRepository creates an empty repository.
func NewRepository() *Repository {
	return &Repository{
		byID:     make(map[uuid.UUID]*document.ElectronicDocument),
		byKey:    make(map[document.Key]uuid.UUID),
		byTicket: make(map[string]uuid.UUID),
	}
}

func (r *Repository) Create(_ context.Context, doc *document.ElectronicDocument) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.byKey[doc.Key]; ok {
		return fmt.Errorf("%w: %s", document.ErrConflict, doc.Key)
	}
	if _, ok := r.byID[doc.ID]; ok {
		return fmt.Errorf("%w: id %s", document.ErrConflict, doc.ID)
	}
	if doc.Ticket != "" {
		if _, ok := r.byTicket[doc.Ticket]; ok {
			return fmt.Errorf("%w: ticket %s already assigned", document.ErrConflict, doc.Ticket)
		}
		r.byTicket[doc.Ticket] = doc.ID
	}

	r.byID[doc.ID] = doc.Clone()
	r.byKey[doc.Key] = doc.ID
	return nil
}

func (r *Repository) Get(_ context.Context, id uuid.UUID) (*document.ElectronicDocument, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	doc, ok := r.byID[id]
	if !ok {
		return nil, document.ErrNotFound
	}
	return doc.Clone(), nil
}

func (r *Repository) FindByKey(ctx context.Context, key document.Key) (*document.ElectronicDocument, error) {
	r.mu.RLock()
	id, ok := r.byKey[key]
	r.mu.RUnlock()
	if !ok {
		return nil, document.ErrNotFound
	}
	return r.Get(ctx, id)
}

func (r *Repository) FindByTicket(ctx context.Context, ticket string) (*document.ElectronicDocument, error) {
	r.mu.RLock()
	id, ok := r.byTicket[ticket]
	r.mu.RUnlock()
	if !ok {
		return nil, document.ErrNotFound
	}
	return r.Get(ctx, id)
}

func (r *Repository) Update(_ context.Context, doc *document.ElectronicDocument) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	stored, ok := r.byID[doc.ID]
	if !ok {
		return document.ErrNotFound
	}
	if stored.Version != doc.Version {
		return fmt.Errorf("%w: stale version %d for %s", document.ErrConflict, doc.Version, doc.ID)
	}
	if doc.Ticket != "" {
		if owner, ok := r.byTicket[doc.Ticket]; ok && owner != doc.ID {
			return fmt.Errorf("%w: ticket %s already assigned", document.ErrConflict, doc.Ticket)
		}
	}

	next := doc.Clone()
	next.Key = stored.Key
	next.RawXML = stored.RawXML
	if stored.SanitizedXML != "" {
		next.SanitizedXML = stored.SanitizedXML
	}
	if stored.SignedXML != "" {
		next.SignedXML = stored.SignedXML
	}
	next.Version++

	if stored.Ticket != "" && stored.Ticket != next.Ticket {
		delete(r.byTicket, stored.Ticket)
	}
	if next.Ticket != "" {
		r.byTicket[next.Ticket] = next.ID
	}
	r.byID[doc.ID] = next
	doc.Version = next.Version
	return nil
}

func (r *Repository) ListByState(_ context.Context, states []document.State, limit int) ([]*document.ElectronicDocument, error) {
	want := make(map[document.State]bool, len(states))
	for _, s := range states {
		want[s] = true
	}

	r.mu.RLock()
	var out []*document.ElectronicDocument
	for _, doc := range r.byID {
		if want[doc.State] {
			out = append(out, doc.Clone())
		}
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].UpdatedAt.Equal(out[j].UpdatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].UpdatedAt.Before(out[j].UpdatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
