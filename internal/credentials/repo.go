package credentials

import "context"

// CredentialSource reads credentials owned by the business layer.
type CredentialSource interface {
	// ListBySite returns enabled credentials ordered by priority, then account.
	ListBySite(ctx context.Context, site string) ([]Credential, error)
	Get(ctx context.Context, site, account string) (Credential, error)
}

// TokenStore is the durable, append-only token history.
type TokenStore interface {
	Append(ctx context.Context, tok Token) error
	// Latest returns the most recently issued token, valid or not.
	Latest(ctx context.Context, site, account string) (Token, error)
	History(ctx context.Context, site, account string, limit int) ([]Token, error)
}

// Cache is the fast shared token lookup. Entries expire at Token.ExpiresAt.
type Cache interface {
	Get(ctx context.Context, site, account string) (Token, bool)
	Put(ctx context.Context, tok Token)
	Invalidate(ctx context.Context, site, account string)
	Prune(ctx context.Context) int
}
