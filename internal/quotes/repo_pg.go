package quotes

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"litigation-backend/internal/shared/storage/db"
)

// PGRepo implements Repo using Postgres (or SQLite with the same SQL).
type PGRepo struct {
	DB *sql.DB
}

var _ Repo = (*PGRepo)(nil)

const requestColumns = `id, case_ref, amount, institution_code, providers, account, status, error, created_at, updated_at`

// CreateRequest inserts a new quote request.
func (r *PGRepo) CreateRequest(ctx context.Context, req QuoteRequest) error {
	const query = `
INSERT INTO quote_requests (` + requestColumns + `)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`
	providers, err := json.Marshal(req.Providers)
	if err != nil {
		return fmt.Errorf("encode providers: %w", err)
	}
	_, err = r.DB.ExecContext(ctx, query,
		req.ID,
		req.CaseRef,
		req.Amount,
		req.InstitutionCode,
		string(providers),
		req.Account,
		req.Status,
		nullString(req.Error),
		req.CreatedAt.UTC(),
		req.UpdatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("create quote request: %w", err)
	}
	return nil
}

// GetRequest returns a quote request by ID.
func (r *PGRepo) GetRequest(ctx context.Context, id string) (QuoteRequest, error) {
	const query = `SELECT ` + requestColumns + ` FROM quote_requests WHERE id = $1`
	req, err := scanRequest(r.DB.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return QuoteRequest{}, ErrNotFound
	}
	if err != nil {
		return QuoteRequest{}, fmt.Errorf("get quote request: %w", err)
	}
	return req, nil
}

// UpdateRequestStatus sets status and error on a request.
func (r *PGRepo) UpdateRequestStatus(ctx context.Context, id, status, errMsg string, at time.Time) error {
	const query = `
UPDATE quote_requests
SET status = $2, error = $3, updated_at = $4
WHERE id = $1`
	res, err := r.DB.ExecContext(ctx, query, id, status, nullString(errMsg), at.UTC())
	if err != nil {
		return fmt.Errorf("update quote request: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

// InsertResult appends a provider attempt.
func (r *PGRepo) InsertResult(ctx context.Context, res QuoteResult) error {
	const query = `
INSERT INTO quote_results (
	id, request_id, provider_code, attempt, status, error_kind,
	premium, min_premium, max_premium, min_rate, max_rate, max_amount,
	request_snapshot, response_snapshot, started_at, completed_at, created_at
)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)`
	_, err := r.DB.ExecContext(ctx, query,
		res.ID,
		res.RequestID,
		res.ProviderCode,
		res.Attempt,
		res.Status,
		nullString(res.ErrorKind),
		res.Premium,
		res.MinPremium,
		res.MaxPremium,
		res.MinRate,
		res.MaxRate,
		res.MaxAmount,
		res.RequestSnapshot,
		res.ResponseSnapshot,
		res.StartedAt.UTC(),
		res.CompletedAt.UTC(),
		res.CreatedAt.UTC(),
	)
	if err != nil {
		if db.IsUniqueViolation(err) {
			return fmt.Errorf("%w: %s attempt %d", ErrDuplicateAttempt, res.ProviderCode, res.Attempt)
		}
		return fmt.Errorf("insert quote result: %w", err)
	}
	return nil
}

// ListResults returns every attempt for a request, oldest first.
func (r *PGRepo) ListResults(ctx context.Context, requestID string) ([]QuoteResult, error) {
	const query = `
SELECT id, request_id, provider_code, attempt, status, error_kind,
       premium, min_premium, max_premium, min_rate, max_rate, max_amount,
       request_snapshot, response_snapshot, started_at, completed_at, created_at
FROM quote_results
WHERE request_id = $1
ORDER BY provider_code ASC, attempt ASC`
	rows, err := r.DB.QueryContext(ctx, query, requestID)
	if err != nil {
		return nil, fmt.Errorf("list quote results: %w", err)
	}
	defer rows.Close()

	var out []QuoteResult
	for rows.Next() {
		var res QuoteResult
		var errorKind sql.NullString
		if err := rows.Scan(
			&res.ID, &res.RequestID, &res.ProviderCode, &res.Attempt, &res.Status, &errorKind,
			&res.Premium, &res.MinPremium, &res.MaxPremium, &res.MinRate, &res.MaxRate, &res.MaxAmount,
			&res.RequestSnapshot, &res.ResponseSnapshot, &res.StartedAt, &res.CompletedAt, &res.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan quote result: %w", err)
		}
		res.ErrorKind = errorKind.String
		out = append(out, res)
	}
	return out, rows.Err()
}

// ListRequestsByStatus returns requests in a status updated at or after since, oldest first.
func (r *PGRepo) ListRequestsByStatus(ctx context.Context, status string, since time.Time, limit int) ([]QuoteRequest, error) {
	if limit <= 0 {
		limit = 50
	}
	const query = `SELECT ` + requestColumns + `
FROM quote_requests
WHERE status = $1 AND updated_at >= $2
ORDER BY updated_at ASC
LIMIT $3`
	rows, err := r.DB.QueryContext(ctx, query, status, since.UTC(), limit)
	if err != nil {
		return nil, fmt.Errorf("list quote requests: %w", err)
	}
	defer rows.Close()

	var out []QuoteRequest
	for rows.Next() {
		req, err := scanRequest(rows)
		if err != nil {
			return nil, fmt.Errorf("scan quote request: %w", err)
		}
		out = append(out, req)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRequest(row rowScanner) (QuoteRequest, error) {
	var req QuoteRequest
	var providers string
	var errMsg sql.NullString
	if err := row.Scan(
		&req.ID, &req.CaseRef, &req.Amount, &req.InstitutionCode, &providers,
		&req.Account, &req.Status, &errMsg, &req.CreatedAt, &req.UpdatedAt,
	); err != nil {
		return QuoteRequest{}, err
	}
	if providers != "" {
		if err := json.Unmarshal([]byte(providers), &req.Providers); err != nil {
			return QuoteRequest{}, fmt.Errorf("decode providers: %w", err)
		}
	}
	req.Error = errMsg.String
	return req, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
