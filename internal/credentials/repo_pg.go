package credentials

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// PGSource implements CredentialSource using Postgres (or SQLite with the same SQL).
type PGSource struct {
	DB *sql.DB
}

var _ CredentialSource = (*PGSource)(nil)

// ListBySite returns enabled credentials for a site.
func (r *PGSource) ListBySite(ctx context.Context, site string) ([]Credential, error) {
	const query = `
SELECT id, site, account, secret, priority, enabled
FROM credentials
WHERE site = $1 AND enabled = TRUE
ORDER BY priority ASC, account ASC`
	rows, err := r.DB.QueryContext(ctx, query, site)
	if err != nil {
		return nil, fmt.Errorf("list credentials: %w", err)
	}
	defer rows.Close()

	var out []Credential
	for rows.Next() {
		var c Credential
		if err := rows.Scan(&c.ID, &c.Site, &c.Account, &c.Secret, &c.Priority, &c.Enabled); err != nil {
			return nil, fmt.Errorf("scan credential: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// Get returns a single credential regardless of its enabled flag.
func (r *PGSource) Get(ctx context.Context, site, account string) (Credential, error) {
	const query = `
SELECT id, site, account, secret, priority, enabled
FROM credentials
WHERE site = $1 AND account = $2`
	var c Credential
	err := r.DB.QueryRowContext(ctx, query, site, account).
		Scan(&c.ID, &c.Site, &c.Account, &c.Secret, &c.Priority, &c.Enabled)
	if errors.Is(err, sql.ErrNoRows) {
		return Credential{}, ErrCredentialNotFound
	}
	if err != nil {
		return Credential{}, fmt.Errorf("get credential: %w", err)
	}
	return c, nil
}

// PGTokenStore implements TokenStore using Postgres (or SQLite with the same SQL).
type PGTokenStore struct {
	DB *sql.DB
}

var _ TokenStore = (*PGTokenStore)(nil)

// Append inserts a new token row.
func (r *PGTokenStore) Append(ctx context.Context, tok Token) error {
	const query = `
INSERT INTO tokens (id, site, account, value, issued_at, expires_at, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7)`
	_, err := r.DB.ExecContext(ctx, query,
		tok.ID,
		tok.Site,
		tok.Account,
		tok.Value,
		tok.IssuedAt.UTC(),
		tok.ExpiresAt.UTC(),
		tok.CreatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("append token: %w", err)
	}
	return nil
}

// Latest returns the most recently issued token for the pair.
func (r *PGTokenStore) Latest(ctx context.Context, site, account string) (Token, error) {
	toks, err := r.History(ctx, site, account, 1)
	if err != nil {
		return Token{}, err
	}
	if len(toks) == 0 {
		return Token{}, ErrTokenNotFound
	}
	return toks[0], nil
}

// History lists tokens newest first.
func (r *PGTokenStore) History(ctx context.Context, site, account string, limit int) ([]Token, error) {
	if limit <= 0 {
		limit = 20
	}
	const query = `
SELECT id, site, account, value, issued_at, expires_at, created_at
FROM tokens
WHERE site = $1 AND account = $2
ORDER BY issued_at DESC
LIMIT $3`
	rows, err := r.DB.QueryContext(ctx, query, site, account, limit)
	if err != nil {
		return nil, fmt.Errorf("list tokens: %w", err)
	}
	defer rows.Close()

	var out []Token
	for rows.Next() {
		var t Token
		if err := rows.Scan(&t.ID, &t.Site, &t.Account, &t.Value, &t.IssuedAt, &t.ExpiresAt, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan token: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}
