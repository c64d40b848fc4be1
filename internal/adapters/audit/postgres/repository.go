package postgres

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"3tcapital/ms_facturacion_sunat/internal/core/audit"
)

// Repository implements the audit.Repository interface using PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
	log  *slog.Logger
}

// NewRepository creates a new PostgreSQL audit repository.
func NewRepository(pool *pgxpool.Pool) audit.Repository {
	return &Repository{pool: pool}
}

// NewRepositoryWithLogger creates a new PostgreSQL audit repository with logging.
func NewRepositoryWithLogger(pool *pgxpool.Pool, log *slog.Logger) audit.Repository {
	return &Repository{pool: pool, log: log}
}

const selectColumns = `
	SELECT id, document_id, correlation_id, operation, result,
	       COALESCE(error_kind, ''), COALESCE(detail, ''), COALESCE(endpoint, ''),
	       http_status, COALESCE(duration_ms, 0),
	       COALESCE(request_body, ''), COALESCE(response_body, ''),
	       COALESCE(actor, ''), created_at
	FROM operation_log
`

// Append persists an audit entry.
func (r *Repository) Append(ctx context.Context, e audit.Entry) error {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}

	query := `
		INSERT INTO operation_log (
			id, document_id, correlation_id, operation, result, error_kind, detail,
			endpoint, http_status, duration_ms, request_body, response_body, actor, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
	`

	_, err := r.pool.Exec(ctx, query,
		e.ID,
		e.DocumentID,
		e.CorrelationID,
		e.Operation,
		string(e.Result),
		nullable(e.ErrorKind),
		nullable(e.Detail),
		nullable(e.Endpoint),
		e.HTTPStatus,
		e.DurationMs,
		nullable(e.RequestBody),
		nullable(e.ResponseBody),
		nullable(e.Actor),
		e.CreatedAt,
	)
	if err != nil {
		errMsg := fmt.Errorf("insert operation log: %w", err)
		if r.log != nil {
			r.log.Error("Failed to insert operation log into database",
				"correlation_id", e.CorrelationID,
				"operation", e.Operation,
				"result", e.Result,
				"error", errMsg,
			)
		}
		return errMsg
	}

	if r.log != nil {
		r.log.Debug("Operation log saved",
			"correlation_id", e.CorrelationID,
			"operation", e.Operation,
			"result", e.Result,
			"duration_ms", e.DurationMs,
		)
	}
	return nil
}

// FindByDocument retrieves the entries of a document in insertion order.
func (r *Repository) FindByDocument(ctx context.Context, documentID uuid.UUID) ([]audit.Entry, error) {
	return r.query(ctx, selectColumns+` WHERE document_id = $1 ORDER BY seq ASC`, documentID)
}

// FindByCorrelationID retrieves all entries with the given correlation ID.
func (r *Repository) FindByCorrelationID(ctx context.Context, correlationID string) ([]audit.Entry, error) {
	return r.query(ctx, selectColumns+` WHERE correlation_id = $1 ORDER BY seq ASC`, correlationID)
}

func (r *Repository) query(ctx context.Context, query string, arg any) ([]audit.Entry, error) {
	rows, err := r.pool.Query(ctx, query, arg)
	if err != nil {
		return nil, fmt.Errorf("query operation log: %w", err)
	}
	defer rows.Close()

	entries, err := pgx.CollectRows(rows, scanEntry)
	if err != nil {
		return nil, fmt.Errorf("scan operation log: %w", err)
	}
	return entries, nil
}

func scanEntry(row pgx.CollectableRow) (audit.Entry, error) {
	var e audit.Entry
	var result string
	err := row.Scan(
		&e.ID,
		&e.DocumentID,
		&e.CorrelationID,
		&e.Operation,
		&result,
		&e.ErrorKind,
		&e.Detail,
		&e.Endpoint,
		&e.HTTPStatus,
		&e.DurationMs,
		&e.RequestBody,
		&e.ResponseBody,
		&e.Actor,
		&e.CreatedAt,
	)
	e.Result = audit.Result(result)
	return e, err
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
