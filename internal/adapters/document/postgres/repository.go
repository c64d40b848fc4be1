package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"3tcapital/ms_facturacion_sunat/internal/core/cdr"
	"3tcapital/ms_facturacion_sunat/internal/core/document"
)

const uniqueViolation = "23505"

// Repository implements the document.Repository interface using PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
	log  *slog.Logger
}

// NewRepository creates a new PostgreSQL document repository.
func NewRepository(pool *pgxpool.Pool, log *slog.Logger) document.Repository {
	return &Repository{pool: pool, log: log}
}

const selectColumns = `
	SELECT id, ruc, doc_type, series, number, raw_xml, COALESCE(sanitized_xml, ''), COALESCE(signed_xml, ''),
	       state, correlation_id, COALESCE(ticket, ''), COALESCE(last_authority_response, ''),
	       COALESCE(review_reason, ''), COALESCE(cdr_xml, ''), COALESCE(cdr_status, ''),
	       COALESCE(response_code, ''), COALESCE(response_description, ''), observations,
	       received_at, version, created_at, updated_at
	FROM electronic_document
`

// Create persists a new document.
func (r *Repository) Create(ctx context.Context, doc *document.ElectronicDocument) error {
	observations, err := json.Marshal(nonNil(doc.Observations))
	if err != nil {
		return fmt.Errorf("marshal observations: %w", err)
	}

	query := `
		INSERT INTO electronic_document (
			id, ruc, doc_type, series, number, raw_xml, sanitized_xml, signed_xml, state, correlation_id,
			ticket, last_authority_response, review_reason, cdr_xml, cdr_status,
			response_code, response_description, observations, received_at,
			version, created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21, $22
		)
	`

	_, err = r.pool.Exec(ctx, query,
		doc.ID,
		doc.RUC,
		string(doc.Type),
		doc.Series,
		doc.Number,
		doc.RawXML,
		nullable(doc.SanitizedXML),
		nullable(doc.SignedXML),
		string(doc.State),
		doc.CorrelationID,
		nullable(doc.Ticket),
		nullable(doc.LastAuthorityResponse),
		nullable(doc.ReviewReason),
		nullable(doc.CdrXML),
		nullable(string(doc.CdrStatus)),
		nullable(doc.ResponseCode),
		nullable(doc.ResponseDescription),
		observations,
		doc.ReceivedAt,
		doc.Version,
		doc.CreatedAt,
		doc.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: %s", document.ErrConflict, doc.Key)
		}
		r.log.Error("Failed to insert document",
			"correlation_id", doc.CorrelationID,
			"document", doc.Key.String(),
			"error", err,
		)
		return fmt.Errorf("insert document: %w", err)
	}
	return nil
}

// Get retrieves a document by id.
func (r *Repository) Get(ctx context.Context, id uuid.UUID) (*document.ElectronicDocument, error) {
	return r.one(ctx, selectColumns+` WHERE id = $1`, id)
}

// FindByKey retrieves a document by its fiscal key.
func (r *Repository) FindByKey(ctx context.Context, key document.Key) (*document.ElectronicDocument, error) {
	return r.one(ctx, selectColumns+` WHERE ruc = $1 AND doc_type = $2 AND series = $3 AND number = $4`,
		key.RUC, string(key.Type), key.Series, key.Number)
}

// FindByTicket retrieves the document that holds ticket.
func (r *Repository) FindByTicket(ctx context.Context, ticket string) (*document.ElectronicDocument, error) {
	return r.one(ctx, selectColumns+` WHERE ticket = $1`, ticket)
}

// Update saves doc when the stored version matches and bumps the version.
// Raw XML and fiscal key are immutable. Sanitized and signed XML are write-once.
func (r *Repository) Update(ctx context.Context, doc *document.ElectronicDocument) error {
	observations, err := json.Marshal(nonNil(doc.Observations))
	if err != nil {
		return fmt.Errorf("marshal observations: %w", err)
	}

	query := `
		UPDATE electronic_document SET
			sanitized_xml = COALESCE(sanitized_xml, $3),
			signed_xml = COALESCE(signed_xml, $4),
			state = $5,
			ticket = $6,
			last_authority_response = $7,
			review_reason = $8,
			cdr_xml = $9,
			cdr_status = $10,
			response_code = $11,
			response_description = $12,
			observations = $13,
			received_at = $14,
			updated_at = $15,
			version = version + 1
		WHERE id = $1 AND version = $2
	`

	tag, err := r.pool.Exec(ctx, query,
		doc.ID,
		doc.Version,
		nullable(doc.SanitizedXML),
		nullable(doc.SignedXML),
		string(doc.State),
		nullable(doc.Ticket),
		nullable(doc.LastAuthorityResponse),
		nullable(doc.ReviewReason),
		nullable(doc.CdrXML),
		nullable(string(doc.CdrStatus)),
		nullable(doc.ResponseCode),
		nullable(doc.ResponseDescription),
		observations,
		doc.ReceivedAt,
		doc.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: ticket %s already assigned", document.ErrConflict, doc.Ticket)
		}
		return fmt.Errorf("update document: %w", err)
	}
	if tag.RowsAffected() == 0 {
		if _, getErr := r.Get(ctx, doc.ID); errors.Is(getErr, document.ErrNotFound) {
			return getErr
		}
		r.log.Warn("Stale document version",
			"correlation_id", doc.CorrelationID,
			"document_id", doc.ID,
			"version", doc.Version,
		)
		return fmt.Errorf("%w: stale version %d for %s", document.ErrConflict, doc.Version, doc.ID)
	}

	doc.Version++
	return nil
}

// ListByState retrieves documents in any of states, least recently updated first.
func (r *Repository) ListByState(ctx context.Context, states []document.State, limit int) ([]*document.ElectronicDocument, error) {
	names := make([]string, len(states))
	for i, s := range states {
		names[i] = string(s)
	}
	if limit <= 0 {
		limit = 100
	}

	rows, err := r.pool.Query(ctx, selectColumns+` WHERE state = ANY($1) ORDER BY updated_at ASC LIMIT $2`, names, limit)
	if err != nil {
		return nil, fmt.Errorf("query documents: %w", err)
	}
	defer rows.Close()

	docs, err := pgx.CollectRows(rows, scanDocument)
	if err != nil {
		return nil, fmt.Errorf("scan documents: %w", err)
	}
	return docs, nil
}

func (r *Repository) one(ctx context.Context, query string, args ...any) (*document.ElectronicDocument, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query document: %w", err)
	}
	doc, err := pgx.CollectExactlyOneRow(rows, scanDocument)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, document.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan document: %w", err)
	}
	return doc, nil
}

func scanDocument(row pgx.CollectableRow) (*document.ElectronicDocument, error) {
	var (
		doc          document.ElectronicDocument
		docType      string
		state        string
		cdrStatus    string
		observations []byte
		receivedAt   *time.Time
	)
	err := row.Scan(
		&doc.ID,
		&doc.RUC,
		&docType,
		&doc.Series,
		&doc.Number,
		&doc.RawXML,
		&doc.SanitizedXML,
		&doc.SignedXML,
		&state,
		&doc.CorrelationID,
		&doc.Ticket,
		&doc.LastAuthorityResponse,
		&doc.ReviewReason,
		&doc.CdrXML,
		&cdrStatus,
		&doc.ResponseCode,
		&doc.ResponseDescription,
		&observations,
		&receivedAt,
		&doc.Version,
		&doc.CreatedAt,
		&doc.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	doc.Type = document.Type(docType)
	doc.State = document.State(state)
	doc.CdrStatus = cdr.Status(cdrStatus)
	doc.ReceivedAt = receivedAt
	if len(observations) > 0 {
		if err := json.Unmarshal(observations, &doc.Observations); err != nil {
			return nil, fmt.Errorf("unmarshal observations: %w", err)
		}
	}
	return &doc, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
