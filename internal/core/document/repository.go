package document

import (
	"context"

	"github.com/google/uuid"
)

// Repository persists electronic documents.
type Repository interface {
	// Create stores a new document. Returns ErrConflict when the fiscal key already exists.
	Create(ctx context.Context, doc *ElectronicDocument) error

	// Get returns the document with the given id or ErrNotFound.
	Get(ctx context.Context, id uuid.UUID) (*ElectronicDocument, error)

	// FindByKey returns the document with the given fiscal key or ErrNotFound.
	FindByKey(ctx context.Context, key Key) (*ElectronicDocument, error)

	// FindByTicket returns the document holding ticket or ErrNotFound.
	FindByTicket(ctx context.Context, ticket string) (*ElectronicDocument, error)

	// Update saves doc if its Version matches the stored one and increments Version.
	// A stale version yields ErrConflict.
	Update(ctx context.Context, doc *ElectronicDocument) error

	// ListByState returns up to limit documents in any of states, oldest first.
	ListByState(ctx context.Context, states []State, limit int) ([]*ElectronicDocument, error)
}
